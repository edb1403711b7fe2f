package service

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cmcf/autoprocess/pkg/configs"
)

// LoadServiceConfig loads dpservice config from a file.
//
// # Args
//
// - filepath: filepath refers a config file.
//
// # Returns
//
// - *ServiceConfig: sealed config
//
// - error: when the file can not be read, parsed or is misconfigured.
func LoadServiceConfig(filepath string) (*ServiceConfig, error) {
	content, err := os.ReadFile(filepath)
	if err != nil {
		return nil, err
	}
	return Unmarshal(content)
}

func Unmarshal(conf []byte) (*ServiceConfig, error) {
	var m ServiceConfigMarshall
	if err := yaml.Unmarshal(conf, &m); err != nil {
		return nil, err
	}
	return configs.Seal[*ServiceConfig](&m)
}
