package dci

import "fmt"

// ConfigError reports a configuration problem detected synchronously,
// before any allocation: bad dimensions, an inactive cap pair, a
// mismatched ambient dimension between init/add/query. The index is left
// unmodified.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return e.Msg }

func configErrorf(format string, args ...any) *ConfigError {
	return &ConfigError{Msg: fmt.Sprintf(format, args...)}
}
