package node_test

import (
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/cmcf/autoprocess/pkg/configs"
	"github.com/cmcf/autoprocess/pkg/configs/node"
	"github.com/cmcf/autoprocess/pkg/domain"
	"github.com/cmcf/autoprocess/pkg/utils/try"
)

func TestUnmarshal(t *testing.T) {
	t.Run("it loads config from yaml", func(t *testing.T) {
		result := try.To(node.Unmarshal([]byte(`
server: http://dpservice.example.com:8080
node_id: node-1
concurrency: 2
workdir: /scratch/autoprocess
outbox: /var/lib/dpnode/outbox
poll_interval: 2s
heartbeat_interval: 20s
engine:
  default_timeout: 30m
  stages:
    indexing:
      command: [autoprocess-engine, index, "{{.Input}}"]
      timeout: 5m
    integration:
      command: [autoprocess-engine, integrate, "{{.Input}}"]
`))).OrFatal(t)

		if result.Server() != "http://dpservice.example.com:8080" || result.NodeId() != "node-1" {
			t.Errorf("server, node_id: %s, %s", result.Server(), result.NodeId())
		}
		if result.Concurrency() != 2 {
			t.Errorf("concurrency: %d", result.Concurrency())
		}
		if result.Workdir() != "/scratch/autoprocess" || result.Outbox() != "/var/lib/dpnode/outbox" {
			t.Errorf("workdir, outbox: %s, %s", result.Workdir(), result.Outbox())
		}
		if result.PollInterval() != 2*time.Second || result.HeartbeatInterval() != 20*time.Second {
			t.Errorf("intervals: %v, %v", result.PollInterval(), result.HeartbeatInterval())
		}

		e := result.Engine()
		if e.DefaultTimeout() != 30*time.Minute {
			t.Errorf("default_timeout: %v", e.DefaultTimeout())
		}
		stages := e.Stages()
		if len(stages) != 2 {
			t.Fatalf("stages: %v", stages)
		}
		idx := stages[domain.Indexing]
		if !slices.Equal(idx.Args, []string{"autoprocess-engine", "index", "{{.Input}}"}) || idx.Timeout != 5*time.Minute {
			t.Errorf("indexing: %+v", idx)
		}
		if integ := stages[domain.Integration]; integ.Timeout != 0 {
			t.Errorf("integration: %+v", integ)
		}
	})

	t.Run("defaults", func(t *testing.T) {
		result := try.To(node.Unmarshal([]byte(`
server: http://localhost:8080
node_id: node-1
workdir: /tmp/work
engine:
  stages:
    indexing:
      command: [index]
`))).OrFatal(t)
		if result.Concurrency() != 1 || result.Outbox() != "" {
			t.Errorf("concurrency, outbox: %d, %s", result.Concurrency(), result.Outbox())
		}
		if result.PollInterval() != 5*time.Second || result.HeartbeatInterval() != 15*time.Second {
			t.Errorf("intervals: %v, %v", result.PollInterval(), result.HeartbeatInterval())
		}
		if result.Engine().DefaultTimeout() != time.Hour {
			t.Errorf("default_timeout: %v", result.Engine().DefaultTimeout())
		}
	})

	t.Run("misconfigurations", func(t *testing.T) {
		const engine = "engine:\n  stages:\n    indexing:\n      command: [index]\n"
		for name, yml := range map[string]string{
			"no server":            "node_id: n\nworkdir: /w\n" + engine,
			"relative server":      "server: dpservice\nnode_id: n\nworkdir: /w\n" + engine,
			"no node id":           "server: http://s\nworkdir: /w\n" + engine,
			"no workdir":           "server: http://s\nnode_id: n\n" + engine,
			"no engine":            "server: http://s\nnode_id: n\nworkdir: /w\n",
			"unknown stage":        "server: http://s\nnode_id: n\nworkdir: /w\nengine:\n  stages:\n    done:\n      command: [x]\n",
			"empty command":        "server: http://s\nnode_id: n\nworkdir: /w\nengine:\n  stages:\n    indexing:\n      command: []\n",
			"broken timeout":       "server: http://s\nnode_id: n\nworkdir: /w\nengine:\n  default_timeout: long\n  stages:\n    indexing:\n      command: [x]\n",
			"negative concurrency": "server: http://s\nnode_id: n\nworkdir: /w\nconcurrency: -1\n" + engine,
		} {
			t.Run(name, func(t *testing.T) {
				if _, err := node.Unmarshal([]byte(yml)); !errors.Is(err, configs.ErrMisconfigured) {
					t.Errorf("unexpected error: %v", err)
				}
			})
		}
	})
}
