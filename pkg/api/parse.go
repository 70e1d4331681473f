package api

import (
	"fmt"
	"os"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// clientEnv maps the environment variables read by the client configuration to config keys.
var clientEnv = map[string]string{
	"ENVIRONMENT":          "environment",
	"BQ_PROJECT_ID":        "bq_project_id",
	"DASHBOARD_TOPIC_NAME": "dashboard_topic_name",
}

// LoadClientConfig reads the client configuration file (JSON or YAML),
// layered over the supported environment variables, and validates it.
// Values from the file win over the environment.
func LoadClientConfig(filename string) (*ClientConfig, error) {
	k := koanf.New(".")

	err := k.Load(env.Provider("", ".", func(name string) string {
		return clientEnv[name]
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("reading client config environment: %w", err)
	}

	if err := k.Load(file.Provider(filename), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("reading client config file: %w", err)
	}

	var cfg ClientConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("parsing client config file: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating client config %s: %w", filename, err)
	}

	return &cfg, nil
}

// ParseRunConf decodes a run conf given as JSON or YAML.
func ParseRunConf(data []byte) (RunConf, error) {
	var conf RunConf
	if err := yamlv3.Unmarshal(data, &conf); err != nil {
		return nil, fmt.Errorf("parsing run conf: %w", err)
	}
	if conf == nil {
		conf = make(RunConf)
	}
	return conf, nil
}

// LoadRunConf reads a run conf file.
func LoadRunConf(filename string) (RunConf, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("reading run conf file: %w", err)
	}
	return ParseRunConf(data)
}
