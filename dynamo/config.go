package dynamo

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/go-playground/validator/v10"
)

// Config describes how to reach DynamoDB.
type Config struct {
	// Endpoint overrides the service endpoint, e.g. "http://localhost:8000"
	// for DynamoDB Local.
	// Default: "" (the regional endpoint)
	Endpoint string `validate:"omitempty,url"`

	// Region is the AWS region. Default: resolved from the environment or profile.
	Region string

	// Profile is the shared config profile. Default: "" (default chain)
	Profile string

	// WaitTimeout bounds waiting for a table to become active or be deleted.
	// Default: 2m
	WaitTimeout time.Duration `validate:"min=0"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{WaitTimeout: 2 * time.Minute}
}

var configValidator = validator.New()

// validate fills defaults and checks values.
func (c *Config) validate() error {
	if c.WaitTimeout <= 0 {
		c.WaitTimeout = 2 * time.Minute
	}
	if err := configValidator.Struct(c); err != nil {
		return fmt.Errorf("tablestore: invalid dynamo config: %w", err)
	}
	return nil
}

// NewAPI builds a DynamoDB client from cfg.
func NewAPI(ctx context.Context, cfg Config) (*dynamodb.Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	var opts []func(*config.LoadOptions) error
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

// Open builds a DynamoDB client from cfg and wraps it.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Client, error) {
	api, err := NewAPI(ctx, cfg)
	if err != nil {
		return nil, err
	}
	opts = append([]Option{WithWaitTimeout(cfg.WaitTimeout)}, opts...)
	return New(api, opts...), nil
}
