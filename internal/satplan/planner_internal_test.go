package satplan

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gitrdm/gokanhtn/pkg/htn"
)

func TestNew_QuietByDefault(t *testing.T) {
	d := htn.NewDomain(nil, nil, nil, nil, nil)

	p := New(d)
	l, ok := p.log.(*logrus.Logger)
	require.True(t, ok)
	assert.Equal(t, io.Discard, l.Out)
	assert.NotSame(t, logrus.StandardLogger(), l)

	custom := logrus.New()
	assert.Same(t, custom, New(d, WithLogger(custom)).log)
}
