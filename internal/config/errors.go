package config

// ConfigError is a fatal startup failure: missing credentials, an unreadable
// feeds file or a malformed configuration value.
type ConfigError struct {
	Op  string
	Err error
}

func (e *ConfigError) Error() string {
	return "config: " + e.Op + ": " + e.Err.Error()
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
