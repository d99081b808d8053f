package types

import "strings"

// Substitute replaces pre-declared ${NAME} placeholders in s with values
// from vars. Placeholders without a matching key are left untouched, and no
// other interpolation is performed.
func Substitute(s string, vars map[string]string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	out := s
	for name, value := range vars {
		out = strings.ReplaceAll(out, "${"+name+"}", value)
	}
	return out
}

// SubstituteArgv applies Substitute to each element of a command vector,
// returning a new slice.
func SubstituteArgv(argv []string, vars map[string]string) []string {
	out := make([]string, len(argv))
	for i, arg := range argv {
		out[i] = Substitute(arg, vars)
	}
	return out
}
