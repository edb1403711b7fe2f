package node

import (
	"fmt"
	"net/url"
	"slices"
	"time"

	"github.com/cmcf/autoprocess/pkg/configs"
	"github.com/cmcf/autoprocess/pkg/domain"
	"github.com/cmcf/autoprocess/pkg/engine"
)

const (
	DefaultPollInterval      = "5s"
	DefaultHeartbeatInterval = "15s"
	DefaultEngineTimeout     = "1h"
)

type NodeConfigMarshall struct {
	Server            string                `yaml:"server"`
	NodeId            string                `yaml:"node_id"`
	Concurrency       int                   `yaml:"concurrency,omitempty"`
	Workdir           string                `yaml:"workdir"`
	Outbox            string                `yaml:"outbox,omitempty"`
	PollInterval      string                `yaml:"poll_interval,omitempty"`
	HeartbeatInterval string                `yaml:"heartbeat_interval,omitempty"`
	Engine            *EngineConfigMarshall `yaml:"engine"`
}

var _ configs.Marshalled[*NodeConfig] = &NodeConfigMarshall{}

func (n *NodeConfigMarshall) TrySeal(path string) *NodeConfig {
	server := configs.Required(n.Server, path+".server")
	if u, err := url.Parse(server); err != nil || u.Scheme == "" || u.Host == "" {
		panic(fmt.Sprintf("%s.server should be an absolute url: %s", path, server))
	}
	return &NodeConfig{
		server:            server,
		nodeId:            configs.Required(n.NodeId, path+".node_id"),
		concurrency:       configs.Positive(configs.Or(n.Concurrency, 1), path+".concurrency"),
		workdir:           configs.Required(n.Workdir, path+".workdir"),
		outbox:            n.Outbox,
		pollInterval:      configs.Duration(n.PollInterval, mustDuration(DefaultPollInterval), path+".poll_interval"),
		heartbeatInterval: configs.Duration(n.HeartbeatInterval, mustDuration(DefaultHeartbeatInterval), path+".heartbeat_interval"),
		engine:            configs.NonNil(n.Engine, path+".engine").trySeal(path + ".engine"),
	}
}

type EngineConfigMarshall struct {
	DefaultTimeout string                          `yaml:"default_timeout,omitempty"`
	Stages         map[string]StageCommandMarshall `yaml:"stages"`
}

func (e *EngineConfigMarshall) trySeal(path string) *EngineConfig {
	if len(e.Stages) == 0 {
		panic(path + ".stages should have one or more stages")
	}
	stages := make(map[domain.Stage]engine.Command, len(e.Stages))
	for name, c := range e.Stages {
		p := path + ".stages." + name
		st, err := domain.AsStage(name)
		if err != nil || !st.Processing() {
			panic(fmt.Sprintf("%s: %s is not a processing stage", p, name))
		}
		stages[st] = c.trySeal(p)
	}
	return &EngineConfig{
		defaultTimeout: configs.Duration(e.DefaultTimeout, mustDuration(DefaultEngineTimeout), path+".default_timeout"),
		stages:         stages,
	}
}

type StageCommandMarshall struct {
	Command []string `yaml:"command"`
	Timeout string   `yaml:"timeout,omitempty"`
}

func (s StageCommandMarshall) trySeal(path string) engine.Command {
	if len(s.Command) == 0 || s.Command[0] == "" {
		panic(path + ".command is required")
	}
	return engine.Command{
		Args:    slices.Clone(s.Command),
		Timeout: configs.Duration(s.Timeout, 0, path+".timeout"),
	}
}

func mustDuration(s string) time.Duration {
	return configs.Duration(s, 0, "(default)")
}
