package registry

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ErrInvalidParams is returned when parameters do not match a tool's
// declarations.
var ErrInvalidParams = errors.New("invalid parameters")

// Kind is the value type of a parameter.
type Kind string

const (
	KindString Kind = "string"
	KindPath   Kind = "path"
	KindInt    Kind = "int"
	KindBool   Kind = "bool"
)

// Param declares one tool parameter.
type Param struct {
	Name     string `json:"name"`
	Label    string `json:"label"`
	Kind     Kind   `json:"kind"`
	Required bool   `json:"required"`
	Default  string `json:"default,omitempty"`
	Help     string `json:"help,omitempty"`
	// Choices restricts a string parameter to a fixed set of values.
	Choices []string `json:"choices,omitempty"`
	// Min is the smallest accepted value of an int parameter.
	Min *int `json:"min,omitempty"`
}

// AtLeast returns a pointer to n, for Param.Min.
func AtLeast(n int) *int {
	return &n
}

// Params are raw parameter values keyed by name.
type Params map[string]string

// String returns the value of name, or "" when unset.
func (p Params) String(name string) string {
	return p[name]
}

// Int returns the value of name parsed as an integer, or 0.
func (p Params) Int(name string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(p[name]))
	return n
}

// Bool returns the value of name parsed as a boolean, or false.
func (p Params) Bool(name string) bool {
	b, _ := strconv.ParseBool(strings.TrimSpace(p[name]))
	return b
}

// Validate checks params against the tool's declarations and returns a copy
// with defaults filled in. Unknown parameters are rejected.
func (t *Tool) Validate(params Params) (Params, error) {
	var errs []string
	out := make(Params, len(t.Params))

	for name := range params {
		if _, ok := t.Param(name); !ok {
			errs = append(errs, fmt.Sprintf("unknown parameter '%s'", name))
		}
	}

	for _, decl := range t.Params {
		value := strings.TrimSpace(params[decl.Name])
		if value == "" {
			value = decl.Default
		}
		if value == "" {
			if decl.Required {
				errs = append(errs, fmt.Sprintf("parameter '%s' is required", decl.Name))
			}
			continue
		}
		switch decl.Kind {
		case KindInt:
			n, err := strconv.Atoi(value)
			if err != nil {
				errs = append(errs, fmt.Sprintf("parameter '%s' must be an integer, got %q", decl.Name, value))
				continue
			}
			if decl.Min != nil && n < *decl.Min {
				errs = append(errs, fmt.Sprintf("parameter '%s' must be at least %d, got %d", decl.Name, *decl.Min, n))
				continue
			}
		case KindBool:
			if _, err := strconv.ParseBool(value); err != nil {
				errs = append(errs, fmt.Sprintf("parameter '%s' must be true or false, got %q", decl.Name, value))
				continue
			}
		}
		if len(decl.Choices) > 0 && !contains(decl.Choices, value) {
			errs = append(errs, fmt.Sprintf("parameter '%s' must be one of %s, got %q", decl.Name, strings.Join(decl.Choices, ", "), value))
			continue
		}
		out[decl.Name] = value
	}

	if len(errs) > 0 {
		sort.Strings(errs)
		return nil, fmt.Errorf("%w for tool '%s':\n  - %s", ErrInvalidParams, t.Name, strings.Join(errs, "\n  - "))
	}
	return out, nil
}

func contains(items []string, want string) bool {
	for _, it := range items {
		if it == want {
			return true
		}
	}
	return false
}
