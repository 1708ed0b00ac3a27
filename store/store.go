package store

import (
	"reflect"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/jacentio/tablestore/keys"
)

// Store holds the per-type metadata, the table handles and the key
// strategies shared by every session. It is safe for concurrent use.
type Store struct {
	client     TableClient
	config     Config
	logger     *zap.Logger
	metrics    *Metrics
	strategies []keys.Descriptor

	mu     sync.RWMutex
	types  map[reflect.Type]any
	tables map[reflect.Type]*Table
	group  singleflight.Group
}

// Option configures a Store.
type Option func(*Store)

// WithStrategies registers key strategies. Strategies are matched to entity
// types by their type parameter; the first unique and the first non-unique
// strategy of a type are its primary ones.
func WithStrategies(strategies ...keys.Descriptor) Option {
	return func(s *Store) {
		s.strategies = append(s.strategies, strategies...)
	}
}

// WithLogger sets the logger. Default: zap.NewNop().
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics enables metrics.
func WithMetrics(m *Metrics) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

// New creates a new Store.
func New(client TableClient, config Config, opts ...Option) (*Store, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	s := &Store{
		client: client,
		config: config,
		logger: zap.NewNop(),
		types:  make(map[reflect.Type]any),
		tables: make(map[reflect.Type]*Table),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("tablestore")
	return s, nil
}

// Config returns the validated configuration.
func (s *Store) Config() Config {
	return s.config
}

// Client returns the backing-store client.
func (s *Store) Client() TableClient {
	return s.client
}

// OpenSession starts a new unit of work.
func (s *Store) OpenSession() *Session {
	return &Session{
		store:  s,
		byType: make(map[reflect.Type]any),
	}
}
