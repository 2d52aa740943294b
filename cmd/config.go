package cmd

import (
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
	"github.com/ronenabra/HDP-reference-architecture-v2-public/cmd/core"
	"github.com/ronenabra/HDP-reference-architecture-v2-public/component/authz"
	"github.com/ronenabra/HDP-reference-architecture-v2-public/component/consentadmin"
	"github.com/ronenabra/HDP-reference-architecture-v2-public/component/dsrs"
	libHTTP "github.com/ronenabra/HDP-reference-architecture-v2-public/component/http"
	"github.com/ronenabra/HDP-reference-architecture-v2-public/component/pcmrs"
	"github.com/ronenabra/HDP-reference-architecture-v2-public/component/pep"
)

// envPrefix is stripped from environment variables overriding configuration values,
// e.g. HDP_AUTHZ_PUBLICURL sets authz.publicurl.
const envPrefix = "HDP_"

type Config struct {
	core.Config  `koanf:",squash"`
	HTTP         libHTTP.Config      `koanf:"http"`
	AuthZ        authz.Config        `koanf:"authz"`
	PCMRS        pcmrs.Config        `koanf:"pcmrs"`
	ConsentAdmin consentadmin.Config `koanf:"consentadmin"`
	PEP          pep.Config          `koanf:"pep"`
	DSRS         dsrs.Config         `koanf:"dsrs"`
}

func DefaultConfig() Config {
	return Config{
		Config:       core.DefaultConfig(),
		HTTP:         libHTTP.DefaultConfig(),
		AuthZ:        authz.DefaultConfig(),
		PCMRS:        pcmrs.DefaultConfig(),
		ConsentAdmin: consentadmin.DefaultConfig(),
		PEP:          pep.DefaultConfig(),
		DSRS:         dsrs.DefaultConfig(),
	}
}

// LoadConfig reads the YAML configuration file (when present) and applies environment
// variable overrides on top of the defaults.
func LoadConfig(configFile string) (Config, error) {
	config := DefaultConfig()
	k := koanf.New(".")
	if configFile != "" {
		if _, err := os.Stat(configFile); err == nil {
			if err := k.Load(file.Provider(configFile), yaml.Parser()); err != nil {
				return config, errors.Wrap(err, "failed to load config file")
			}
		}
	}
	err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "_", ".")
	}), nil)
	if err != nil {
		return config, errors.Wrap(err, "failed to load environment variables")
	}
	if err := k.Unmarshal("", &config); err != nil {
		return config, errors.Wrap(err, "failed to unmarshal config")
	}
	return config, nil
}
