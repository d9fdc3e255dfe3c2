package noderegistry

import (
	"errors"
	"time"
)

var (
	// ErrInvalidTimeout is returned when the default invoke timeout is negative
	ErrInvalidTimeout = errors.New("default invoke timeout cannot be negative")
)

// DefaultInvokeTimeout is used when an invoke does not specify its own.
const DefaultInvokeTimeout = 30 * time.Second

// Config represents configuration for a Registry
type Config struct {
	// DefaultInvokeTimeout bounds invokes that do not carry their own
	// timeout. Zero selects DefaultInvokeTimeout.
	DefaultInvokeTimeout time.Duration

	// PublishTimeout bounds the detached shared-store writes performed on
	// register/unregister. Zero selects 5 seconds.
	PublishTimeout time.Duration
}

// NewConfig creates a new Registry configuration with safe defaults
func NewConfig() *Config {
	c := &Config{}
	c.SetDefaults()
	return c
}

// SetDefaults fills in zero-valued fields
func (c *Config) SetDefaults() {
	if c.DefaultInvokeTimeout == 0 {
		c.DefaultInvokeTimeout = DefaultInvokeTimeout
	}
	if c.PublishTimeout == 0 {
		c.PublishTimeout = 5 * time.Second
	}
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	if c.DefaultInvokeTimeout < 0 {
		return ErrInvalidTimeout
	}
	return nil
}
