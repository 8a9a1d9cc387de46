package s3api

import "github.com/eteran/cellar/internal/lifecycle"

type Config struct {
	Region string
	// DefaultOwner is the identity used for requests that carry no access
	// key.
	DefaultOwner string
	// MaxObjectSize bounds how much of a request body is read into memory.
	MaxObjectSize int64
}

type ConfigOption func(*Config)

func WithRegion(region string) ConfigOption {
	return func(cfg *Config) {
		cfg.Region = region
	}
}

func WithDefaultOwner(owner string) ConfigOption {
	return func(cfg *Config) {
		cfg.DefaultOwner = owner
	}
}

func WithMaxObjectSize(n int64) ConfigOption {
	return func(cfg *Config) {
		cfg.MaxObjectSize = n
	}
}

func NewConfig(opts ...ConfigOption) Config {
	cfg := Config{
		Region:        "us-east-1",
		DefaultOwner:  "cellar",
		MaxObjectSize: lifecycle.DefaultMaxObjectSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
