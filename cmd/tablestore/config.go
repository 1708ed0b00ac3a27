package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jacentio/tablestore/dynamo"
)

// Configuration keys. Each can also be set as TABLESTORE_<KEY>, with dots
// replaced by underscores.
const (
	keyEndpoint    = "dynamo.endpoint"
	keyRegion      = "dynamo.region"
	keyProfile     = "dynamo.profile"
	keyWaitTimeout = "dynamo.wait_timeout"
	keySchema      = "schema"
	keyLogLevel    = "log.level"
)

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("TABLESTORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault(keyWaitTimeout, 2*time.Minute)
	v.SetDefault(keyLogLevel, "info")
	return v
}

// readConfigFile merges the YAML file at path into v. An empty path is a
// no-op.
func readConfigFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return nil
}

func dynamoConfigFromViper(v *viper.Viper) dynamo.Config {
	cfg := dynamo.DefaultConfig()
	cfg.Endpoint = strings.TrimSpace(v.GetString(keyEndpoint))
	cfg.Region = strings.TrimSpace(v.GetString(keyRegion))
	cfg.Profile = strings.TrimSpace(v.GetString(keyProfile))
	if d := v.GetDuration(keyWaitTimeout); d > 0 {
		cfg.WaitTimeout = d
	}
	return cfg
}

func schemaFromViper(v *viper.Viper) string {
	return strings.TrimSpace(v.GetString(keySchema))
}

func loggerFromViper(v *viper.Viper) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(v.GetString(keyLogLevel))
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}
