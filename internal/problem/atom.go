package problem

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// atom is a parsed literal such as "hot(p)", "pour(pot1)" or "hot(p)@1".
type atom struct {
	name    string
	args    []string
	subtask int
}

// parseAtom reads name(arg, ...) with an optional @k subtask suffix. A
// bare name is an atom without arguments.
func parseAtom(s string) (atom, error) {
	a := atom{subtask: -1}
	s = strings.TrimSpace(s)
	if i := strings.LastIndex(s, "@"); i >= 0 && !strings.Contains(s[i:], ")") {
		k, err := strconv.Atoi(strings.TrimSpace(s[i+1:]))
		if err != nil {
			return a, errors.Wrapf(err, "bad subtask index in %q", s)
		}
		a.subtask = k
		s = strings.TrimSpace(s[:i])
	}

	open := strings.Index(s, "(")
	if open < 0 {
		if s == "" {
			return a, errors.New("empty atom")
		}
		a.name = s
		return a, nil
	}
	if !strings.HasSuffix(s, ")") {
		return a, errors.Errorf("unbalanced parentheses in %q", s)
	}
	a.name = strings.TrimSpace(s[:open])
	if a.name == "" {
		return a, errors.Errorf("missing predicate name in %q", s)
	}
	inner := strings.TrimSpace(s[open+1 : len(s)-1])
	if inner == "" {
		return a, nil
	}
	for _, arg := range strings.Split(inner, ",") {
		arg = strings.TrimSpace(arg)
		if arg == "" {
			return a, errors.Errorf("empty argument in %q", s)
		}
		a.args = append(a.args, arg)
	}
	return a, nil
}
