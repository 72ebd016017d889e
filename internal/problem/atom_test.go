package problem

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAtom(t *testing.T) {
	tests := []struct {
		in   string
		want atom
	}{
		{"serve", atom{name: "serve", subtask: -1}},
		{"serve()", atom{name: "serve", subtask: -1}},
		{"hot(p)", atom{name: "hot", args: []string{"p"}, subtask: -1}},
		{" move( a , b ) ", atom{name: "move", args: []string{"a", "b"}, subtask: -1}},
		{"hot(p)@1", atom{name: "hot", args: []string{"p"}, subtask: 1}},
		{"clean @ 0", atom{name: "clean", subtask: 0}},
		{"=(x, y)", atom{name: "=", args: []string{"x", "y"}, subtask: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseAtom(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseAtom_Errors(t *testing.T) {
	for _, in := range []string{"", "hot(p", "(p)", "hot(p,,q)", "hot(p)@one"} {
		t.Run(in, func(t *testing.T) {
			_, err := parseAtom(in)
			assert.Error(t, err)
		})
	}
}
