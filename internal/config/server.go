package config

import (
	"github.com/kelseyhightower/envconfig"
)

type ServerConfig struct {
	Stage               string `envconfig:"STAGE" default:"dev"`
	ProjectID           string `envconfig:"GOOGLE_CLOUD_PROJECT_ID"`
	Port                string `envconfig:"PORT" default:"8080"`
	BindAddress         string `envconfig:"BIND_ADDRESS"`
	CatalogFile         string `envconfig:"CATALOG_FILE" default:"addon_infos.json"`
	DisableRequestCache bool   `envconfig:"DISABLE_REQUEST_CACHE"`
	DisableMetrics      bool   `envconfig:"DISABLE_METRICS"`
	Version             string
}

func NewServerConfigFromEnv() (*ServerConfig, error) {
	var sCfg ServerConfig
	err := envconfig.Process("", &sCfg)
	if err != nil {
		return nil, err
	}
	return &sCfg, nil
}

func (s *ServerConfig) GetServerAddr() string {
	return s.BindAddress + ":" + s.Port
}
