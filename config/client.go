package config

import (
	"github.com/caarlos0/env/v11"
	"github.com/goliatone/go-errors"

	"github.com/goliatone/go-entree/client"
)

// ClientPrefix is prepended to relying site variables
const ClientPrefix = Prefix + "CLIENT_"

// LoadClient reads a relying site configuration from the environment
func LoadClient() (client.Config, error) {
	return loadClient(env.Options{Prefix: ClientPrefix})
}

// LoadClientFrom reads a relying site configuration from a fixed set
// of variables
func LoadClientFrom(environment map[string]string) (client.Config, error) {
	return loadClient(env.Options{Prefix: ClientPrefix, Environment: environment})
}

func loadClient(opts env.Options) (client.Config, error) {
	cfg := client.Config{}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return cfg, errors.Wrap(err, errors.CategoryValidation, "failed to parse client environment")
	}

	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
