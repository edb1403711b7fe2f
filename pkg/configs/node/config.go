// Package node is the configuration of dpnode.
package node

import (
	"maps"
	"time"

	"github.com/cmcf/autoprocess/pkg/domain"
	"github.com/cmcf/autoprocess/pkg/engine"
)

// NodeConfig is the sealed configuration of dpnode.
type NodeConfig struct {
	server            string
	nodeId            string
	concurrency       int
	workdir           string
	outbox            string
	pollInterval      time.Duration
	heartbeatInterval time.Duration
	engine            *EngineConfig
}

// Server is the base url of dpservice.
func (c *NodeConfig) Server() string {
	return c.server
}

// NodeId is the id of this node, registered to dpservice.
func (c *NodeConfig) NodeId() string {
	return c.nodeId
}

// Concurrency is the number of worker loops. default = 1
//
// It should not exceed the capacity registered to dpservice.
func (c *NodeConfig) Concurrency() int {
	return c.concurrency
}

// Workdir is the root directory of engine invocations.
func (c *NodeConfig) Workdir() string {
	return c.workdir
}

// Outbox is the directory of the report outbox.
//
// When empty, reports are queued in memory and lost on restart.
func (c *NodeConfig) Outbox() string {
	return c.outbox
}

// PollInterval is the interval of claiming when no jobs are waiting. default = 5s
func (c *NodeConfig) PollInterval() time.Duration {
	return c.pollInterval
}

// HeartbeatInterval is the interval of heartbeats during an engine invocation. default = 15s
func (c *NodeConfig) HeartbeatInterval() time.Duration {
	return c.heartbeatInterval
}

func (c *NodeConfig) Engine() *EngineConfig {
	return c.engine
}

type EngineConfig struct {
	defaultTimeout time.Duration
	stages         map[domain.Stage]engine.Command
}

// DefaultTimeout is the timeout of stages without their own. default = 1h
func (e *EngineConfig) DefaultTimeout() time.Duration {
	return e.defaultTimeout
}

// Stages are commands per stage.
func (e *EngineConfig) Stages() map[domain.Stage]engine.Command {
	return maps.Clone(e.stages)
}
