// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package config

import (
	"errors"
	"reflect"
	"strings"

	"github.com/spf13/viper"

	"github.com/cardinalhq/adxpublisher/internal/awsclient"
	"github.com/cardinalhq/adxpublisher/internal/healthcheck"
	"github.com/cardinalhq/adxpublisher/internal/orchestrator"
	"github.com/cardinalhq/adxpublisher/internal/publisher"
	"github.com/cardinalhq/adxpublisher/internal/trigger"
	"github.com/cardinalhq/adxpublisher/internal/usage"
)

// Config aggregates configuration for the application.
// Each field is owned by its respective package.
type Config struct {
	AWS          awsclient.Config        `mapstructure:"aws"`
	Publisher    publisher.Config        `mapstructure:"publisher"`
	Catalog      publisher.CatalogConfig `mapstructure:"catalog"`
	Usage        usage.Config            `mapstructure:"usage"`
	Orchestrator orchestrator.Config     `mapstructure:"orchestrator"`
	Trigger      trigger.Config          `mapstructure:"trigger"`
	Health       healthcheck.Config      `mapstructure:"health"`
}

func Default() *Config {
	return &Config{
		Publisher:    publisher.DefaultConfig(),
		Catalog:      publisher.DefaultCatalogConfig(),
		Usage:        usage.DefaultConfig(),
		Orchestrator: orchestrator.DefaultConfig(),
		Trigger:      trigger.DefaultConfig(),
		Health:       healthcheck.DefaultConfig(),
	}
}

// Load reads configuration from files and environment variables.
// Environment variables use the prefix "ADXPUBLISHER" and the dot character
// in keys is replaced by an underscore. For example, "catalog.auto_publish"
// becomes "ADXPUBLISHER_CATALOG_AUTO_PUBLISH".
func Load() (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.SetEnvPrefix("ADXPUBLISHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, cfg)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every section the publishing stages depend on.
func (c *Config) Validate() error {
	return errors.Join(
		c.Publisher.Validate(),
		c.Catalog.Validate(),
		c.Orchestrator.Validate(),
	)
}

// bindEnvs registers all keys within cfg so that viper will look up
// corresponding environment variables when unmarshalling.
func bindEnvs(v *viper.Viper, cfg any, parts ...string) {
	val := reflect.ValueOf(cfg)
	typ := reflect.TypeOf(cfg)
	if typ.Kind() == reflect.Ptr {
		val = val.Elem()
		typ = typ.Elem()
	}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" {
			tag = strings.ToLower(f.Name)
		}
		key := append(parts, tag)
		if f.Type.Kind() == reflect.Struct {
			bindEnvs(v, val.Field(i).Interface(), key...)
			continue
		}
		_ = v.BindEnv(strings.Join(key, "."))
	}
}
