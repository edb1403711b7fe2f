package node

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cmcf/autoprocess/pkg/configs"
)

// LoadNodeConfig loads dpnode config from a file.
func LoadNodeConfig(filepath string) (*NodeConfig, error) {
	content, err := os.ReadFile(filepath)
	if err != nil {
		return nil, err
	}
	return Unmarshal(content)
}

func Unmarshal(conf []byte) (*NodeConfig, error) {
	var m NodeConfigMarshall
	if err := yaml.Unmarshal(conf, &m); err != nil {
		return nil, err
	}
	return configs.Seal[*NodeConfig](&m)
}
