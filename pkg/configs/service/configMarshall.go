package service

import (
	"fmt"

	"github.com/cmcf/autoprocess/pkg/configs"
	"github.com/cmcf/autoprocess/pkg/domain"
	"github.com/cmcf/autoprocess/pkg/loop/recurring"
	"github.com/cmcf/autoprocess/pkg/symmetry"
)

const (
	DefaultPort          = 8080
	DefaultMaxAttempts   = 3
	DefaultLeaseWindow   = "1m"
	DefaultSweepInterval = "10s"
)

type ServiceConfigMarshall struct {
	Port     int32                   `yaml:"port,omitempty"`
	Store    *StoreConfigMarshall    `yaml:"store,omitempty"`
	Nodes    []NodeMarshall          `yaml:"nodes"`
	Pipeline *PipelineConfigMarshall `yaml:"pipeline,omitempty"`
	Lease    *LeaseConfigMarshall    `yaml:"lease,omitempty"`
	Symmetry *SymmetryConfigMarshall `yaml:"symmetry,omitempty"`
}

var _ configs.Marshalled[*ServiceConfig] = &ServiceConfigMarshall{}

func (s *ServiceConfigMarshall) TrySeal(path string) *ServiceConfig {
	if len(s.Nodes) == 0 {
		panic(path + ".nodes should have one or more nodes")
	}
	nodes := make([]domain.Node, 0, len(s.Nodes))
	seen := map[string]struct{}{}
	for i, n := range s.Nodes {
		node := n.trySeal(fmt.Sprintf("%s.nodes[%d]", path, i))
		if _, ok := seen[node.Id]; ok {
			panic(fmt.Sprintf("%s.nodes[%d]: node %s is duplicated", path, i, node.Id))
		}
		seen[node.Id] = struct{}{}
		nodes = append(nodes, node)
	}

	return &ServiceConfig{
		port:     configs.Positive(configs.Or(s.Port, DefaultPort), path+".port"),
		store:    orEmpty(s.Store).trySeal(path + ".store"),
		nodes:    nodes,
		pipeline: orEmpty(s.Pipeline).trySeal(path + ".pipeline"),
		lease:    orEmpty(s.Lease).trySeal(path + ".lease"),
		symmetry: orEmpty(s.Symmetry).trySeal(path + ".symmetry"),
	}
}

func orEmpty[T any](v *T) *T {
	if v == nil {
		return new(T)
	}
	return v
}

type StoreConfigMarshall struct {
	Type string `yaml:"type,omitempty"`
	Dsn  string `yaml:"dsn,omitempty"`
}

func (s *StoreConfigMarshall) trySeal(path string) *StoreConfig {
	typ := StoreType(configs.Or(s.Type, string(Memory)))
	switch typ {
	case Memory:
		return &StoreConfig{typ: typ}
	case Sqlite, Postgres:
		return &StoreConfig{typ: typ, dsn: configs.Required(s.Dsn, path+".dsn")}
	default:
		panic(fmt.Sprintf("%s.type should be one of memory, sqlite or postgres, but %s", path, s.Type))
	}
}

type NodeMarshall struct {
	Id       string `yaml:"id"`
	Capacity int    `yaml:"capacity,omitempty"`
}

func (n NodeMarshall) trySeal(path string) domain.Node {
	return domain.Node{
		Id:       configs.Required(n.Id, path+".id"),
		Capacity: configs.Positive(configs.Or(n.Capacity, 1), path+".capacity"),
	}
}

type PipelineConfigMarshall struct {
	MaxAttempts int `yaml:"max_attempts,omitempty"`
}

func (p *PipelineConfigMarshall) trySeal(path string) *PipelineConfig {
	return &PipelineConfig{
		maxAttempts: configs.Positive(configs.Or(p.MaxAttempts, DefaultMaxAttempts), path+".max_attempts"),
	}
}

type LeaseConfigMarshall struct {
	Window        string `yaml:"window,omitempty"`
	SweepInterval string `yaml:"sweep_interval,omitempty"`
	SweepPolicy   string `yaml:"sweep_policy,omitempty"`
	Secret        string `yaml:"secret,omitempty"`
}

func (l *LeaseConfigMarshall) trySeal(path string) *LeaseConfig {
	interval := configs.Duration(configs.Or(l.SweepInterval, DefaultSweepInterval), 0, path+".sweep_interval")
	policy, err := recurring.ParsePolicy(configs.Or(l.SweepPolicy, "forever:"+interval.String()))
	if err != nil {
		panic(fmt.Errorf("%s: %w", path+".sweep_policy", err))
	}
	return &LeaseConfig{
		window:        configs.Duration(configs.Or(l.Window, DefaultLeaseWindow), 0, path+".window"),
		sweepInterval: interval,
		sweepPolicy:   policy,
		secret:        l.Secret,
	}
}

type SymmetryConfigMarshall struct {
	Threshold        float64 `yaml:"threshold,omitempty"`
	ChiralityPenalty float64 `yaml:"chirality_penalty,omitempty"`
	FriedelPenalty   float64 `yaml:"friedel_penalty,omitempty"`
}

func (s *SymmetryConfigMarshall) trySeal(path string) symmetry.Config {
	d := symmetry.DefaultConfig()
	c := symmetry.Config{
		Threshold:        configs.Or(s.Threshold, d.Threshold),
		ChiralityPenalty: configs.Or(s.ChiralityPenalty, d.ChiralityPenalty),
		FriedelPenalty:   configs.Or(s.FriedelPenalty, d.FriedelPenalty),
	}
	if err := c.Validate(); err != nil {
		panic(fmt.Errorf("%s: %w", path, err))
	}
	return c
}
