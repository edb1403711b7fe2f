// Package service is the configuration of dpservice.
package service

import (
	"slices"
	"time"

	"github.com/cmcf/autoprocess/pkg/domain"
	"github.com/cmcf/autoprocess/pkg/loop/recurring"
	"github.com/cmcf/autoprocess/pkg/symmetry"
)

type StoreType string

const (
	Memory   StoreType = "memory"
	Sqlite   StoreType = "sqlite"
	Postgres StoreType = "postgres"
)

// ServiceConfig is the sealed configuration of dpservice.
//
// To get one, use LoadServiceConfig or Unmarshal.
type ServiceConfig struct {
	port     int32
	store    *StoreConfig
	nodes    []domain.Node
	pipeline *PipelineConfig
	lease    *LeaseConfig
	symmetry symmetry.Config
}

// Port to listen API requests.
func (c *ServiceConfig) Port() int32 {
	return c.port
}

func (c *ServiceConfig) Store() *StoreConfig {
	return c.store
}

// Nodes are processing nodes to be dispatched to.
func (c *ServiceConfig) Nodes() []domain.Node {
	return slices.Clone(c.nodes)
}

func (c *ServiceConfig) Pipeline() *PipelineConfig {
	return c.pipeline
}

func (c *ServiceConfig) Lease() *LeaseConfig {
	return c.lease
}

// Symmetry is the tuning of symmetry resolution.
func (c *ServiceConfig) Symmetry() symmetry.Config {
	return c.symmetry
}

// StoreConfig is where jobs are stored.
type StoreConfig struct {
	typ StoreType
	dsn string
}

// Type of the store. default = memory
func (s *StoreConfig) Type() StoreType {
	return s.typ
}

// Dsn is a file path for sqlite, or a connection url for postgres.
func (s *StoreConfig) Dsn() string {
	return s.dsn
}

type PipelineConfig struct {
	maxAttempts int
}

// MaxAttempts is how many times a stage is tried before the job fails. default = 3
func (p *PipelineConfig) MaxAttempts() int {
	return p.maxAttempts
}

type LeaseConfig struct {
	window        time.Duration
	sweepInterval time.Duration
	sweepPolicy   recurring.Policy
	secret        string
}

// Window is the duration a lease lives without heartbeats. default = 1m
func (l *LeaseConfig) Window() time.Duration {
	return l.window
}

// SweepInterval is the interval of expiring leases. default = 10s
func (l *LeaseConfig) SweepInterval() time.Duration {
	return l.sweepInterval
}

// SweepPolicy is how the lease expiry loop goes on. default = forever:SweepInterval
func (l *LeaseConfig) SweepPolicy() recurring.Policy {
	return l.sweepPolicy
}

// Secret signs lease tokens.
//
// When empty, a random secret is used and tokens do not survive restarts.
func (l *LeaseConfig) Secret() string {
	return l.secret
}
