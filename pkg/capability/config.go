package capability

import (
	"fmt"
	"net/url"
)

// ConfigError reports a missing or wrong-typed parameter.
type ConfigError struct {
	Key string
	Msg string
}

func (e *ConfigError) Error() string { return e.Key + ": " + e.Msg }

// RequireString returns a required non-empty string parameter.
func RequireString(p Value, key string) (string, error) {
	v, ok := p.Get(key)
	if !ok || v.IsNull() {
		return "", &ConfigError{Key: key, Msg: "is required"}
	}
	s, ok := v.Str()
	if !ok || s == "" {
		return "", &ConfigError{Key: key, Msg: fmt.Sprintf("must be a non-empty string, got %s", v.Kind())}
	}
	return s, nil
}

// RequireURL returns a required http or https URL parameter.
func RequireURL(p Value, key string) (*url.URL, error) {
	s, err := RequireString(p, key)
	if err != nil {
		return nil, err
	}
	u, err := url.Parse(s)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, &ConfigError{Key: key, Msg: "must be an http or https URL"}
	}
	return u, nil
}

// OptionalStrings returns a list-of-strings parameter. present is false when
// the key is absent or null.
func OptionalStrings(p Value, key string) (list []string, present bool, err error) {
	v, ok := p.Get(key)
	if !ok || v.IsNull() {
		return nil, false, nil
	}
	list, ok = v.Strings()
	if !ok {
		return nil, true, &ConfigError{Key: key, Msg: "must be a list of strings"}
	}
	return list, true, nil
}

// OptionalNumber returns a number parameter, or def when absent.
func OptionalNumber(p Value, key string, def float64) (float64, error) {
	v, ok := p.Get(key)
	if !ok || v.IsNull() {
		return def, nil
	}
	n, ok := v.Number()
	if !ok {
		return 0, &ConfigError{Key: key, Msg: fmt.Sprintf("must be a number, got %s", v.Kind())}
	}
	return n, nil
}
