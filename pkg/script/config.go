package script

import (
	"encoding/json"
	"fmt"
	"time"
)

// Security levels for the sandbox.
const (
	SecurityLevelStrict     = "strict"
	SecurityLevelStandard   = "standard"
	SecurityLevelPermissive = "permissive"
)

// Config configures a script transform.
type Config struct {
	// Source is a JavaScript function expression taking one string, for
	// example `s => s.trim().toLowerCase()`.
	Source string `json:"source"`

	// Timeout bounds a single call. The VM is interrupted when it expires.
	Timeout time.Duration `json:"timeout,omitempty"`

	// SecurityLevel defines sandbox restrictions (strict, standard, permissive)
	SecurityLevel string `json:"security_level,omitempty"`

	// MaxStackDepth is the maximum call stack depth
	MaxStackDepth int `json:"max_stack_depth,omitempty"`
}

// ApplyDefaults sets default values for configuration fields
func (c *Config) ApplyDefaults() {
	if c.Timeout == 0 {
		c.Timeout = time.Second
	}
	if c.SecurityLevel == "" {
		c.SecurityLevel = SecurityLevelStandard
	}
	if c.MaxStackDepth == 0 {
		c.MaxStackDepth = 256
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Source == "" {
		return fmt.Errorf("source is required")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.SecurityLevel != SecurityLevelStrict &&
		c.SecurityLevel != SecurityLevelStandard &&
		c.SecurityLevel != SecurityLevelPermissive {
		return fmt.Errorf("invalid security level: %s", c.SecurityLevel)
	}
	if c.MaxStackDepth <= 0 {
		return fmt.Errorf("max_stack_depth must be positive")
	}
	return nil
}

// UnmarshalJSON accepts the timeout as a duration string ("250ms").
func (c *Config) UnmarshalJSON(data []byte) error {
	type Alias Config
	aux := &struct {
		Timeout string `json:"timeout,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(c),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.Timeout != "" {
		duration, err := time.ParseDuration(aux.Timeout)
		if err != nil {
			return fmt.Errorf("invalid timeout format: %w", err)
		}
		c.Timeout = duration
	}

	return nil
}

// MarshalJSON writes the timeout as a duration string.
func (c Config) MarshalJSON() ([]byte, error) {
	type Alias Config
	aux := struct {
		Timeout string `json:"timeout,omitempty"`
		Alias
	}{
		Alias: Alias(c),
	}
	if c.Timeout != 0 {
		aux.Timeout = c.Timeout.String()
	}
	return json.Marshal(aux)
}
