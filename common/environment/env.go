// Package environment overlays environment variables onto configuration values
// that were loaded from a file.
//
// Each Override* helper leaves the target untouched when the variable is unset
// or empty, so a YAML default survives unless the operator sets the variable.
// Malformed values are reported as errors instead of being silently ignored.
package environment

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// LookupFunc has the signature of os.LookupEnv.
type LookupFunc func(name string) (string, bool)

// Source reads variables through Lookup. The zero value reads the process
// environment.
type Source struct {
	Lookup LookupFunc
}

// FromMap builds a Source over a fixed set of variables, for tests.
func FromMap(m map[string]string) Source {
	return Source{Lookup: func(name string) (string, bool) {
		v, ok := m[name]
		return v, ok
	}}
}

func (s Source) get(name string) string {
	lookup := s.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	v, _ := lookup(name)
	return strings.TrimSpace(v)
}

// First returns the value of the first non-empty variable among names.
func (s Source) First(names ...string) string {
	for _, n := range names {
		if v := s.get(n); v != "" {
			return v
		}
	}
	return ""
}

// OverrideString sets *dst to the first non-empty variable among names.
func (s Source) OverrideString(dst *string, names ...string) {
	if v := s.First(names...); v != "" {
		*dst = v
	}
}

// OverrideBool parses the named variable with strconv.ParseBool ("on"/"off"
// are accepted too).
func (s Source) OverrideBool(dst *bool, name string) error {
	v := s.get(name)
	if v == "" {
		return nil
	}
	switch strings.ToLower(v) {
	case "on", "yes":
		*dst = true
		return nil
	case "off", "no":
		*dst = false
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: invalid boolean %q", name, v)
	}
	*dst = b
	return nil
}

// OverrideInt parses the named variable as a decimal integer.
func (s Source) OverrideInt(dst *int, name string) error {
	v := s.get(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: invalid integer %q", name, v)
	}
	*dst = n
	return nil
}

// OverrideDuration parses the named variable with time.ParseDuration.
func (s Source) OverrideDuration(dst *time.Duration, name string) error {
	v := s.get(name)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q", name, v)
	}
	*dst = d
	return nil
}

// OverrideList splits the named variable on commas, trimming blanks.
func (s Source) OverrideList(dst *[]string, name string) {
	v := s.get(name)
	if v == "" {
		return
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	if len(out) > 0 {
		*dst = out
	}
}

// StringOr reads a process environment variable with a default.
func StringOr(name, defaultValue string) string {
	if v := (Source{}).get(name); v != "" {
		return v
	}
	return defaultValue
}
