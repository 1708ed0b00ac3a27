package store

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Config holds configuration for the Store.
type Config struct {
	// Schema is prepended to every table name, so several applications can
	// share one account. It must be alphanumeric.
	// Default: "" (no prefix)
	Schema string `validate:"omitempty,alphanum"`

	// DefaultPartition is the partition key used for types with no
	// partition strategy of their own.
	// Default: "Root"
	DefaultPartition string `validate:"required"`

	// LookupBatchSize is the number of keys fetched per lookup query when
	// committing. Larger batches mean fewer round-trips and longer filters.
	// Default: 50
	// Max: 100
	LookupBatchSize int `validate:"min=1,max=100"`

	// MaxBatchSize is the number of writes per transaction.
	// Default: 100
	// Max: 100 (DynamoDB's TransactWriteItems limit)
	MaxBatchSize int `validate:"min=1,max=100"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		DefaultPartition: "Root",
		LookupBatchSize:  50,
		MaxBatchSize:     100,
	}
}

var configValidator = validator.New()

// validate fills unset values with defaults, clamps bounds and checks the rest.
func (c *Config) validate() error {
	if c.DefaultPartition == "" {
		c.DefaultPartition = "Root"
	}
	if c.LookupBatchSize < 1 {
		c.LookupBatchSize = 50
	}
	if c.LookupBatchSize > 100 {
		c.LookupBatchSize = 100
	}
	if c.MaxBatchSize < 1 {
		c.MaxBatchSize = 100
	}
	if c.MaxBatchSize > 100 {
		c.MaxBatchSize = 100
	}
	if err := configValidator.Struct(c); err != nil {
		return fmt.Errorf("tablestore: invalid config: %w", err)
	}
	return nil
}
