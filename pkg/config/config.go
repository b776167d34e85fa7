package config

import (
	"context"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"relaychat.com/pkg/logger"
)

// Defaulter is implemented by config structs that fill in zero values after
// every (re)load.
type Defaulter interface {
	Normalize()
}

// Load reads config/{service}.yaml (or ./{service}.yaml) into out, with env
// overrides such as SOCKET_GATEWAY_HTTP_ADDR for http.addr. A missing file is
// not an error: env and defaults still apply.
func Load(service string, out interface{}, paths ...string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigName(service)
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{"./config", "."}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix(strings.ToUpper(strings.ReplaceAll(service, "-", "_")))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}
	if err := v.Unmarshal(out); err != nil {
		return nil, err
	}
	if d, ok := out.(Defaulter); ok {
		d.Normalize()
	}
	return v, nil
}

// LoadAndWatch is Load plus hot reload: edits to the file are unmarshalled
// into out again. Only fields read per use (rates, timeouts) pick changes up.
func LoadAndWatch(service string, out interface{}) (*viper.Viper, error) {
	v, err := Load(service, out)
	if err != nil {
		return nil, err
	}
	ctx := context.Background()
	logger.Info(ctx, "config loaded", zap.String("service", service), zap.String("file", v.ConfigFileUsed()))

	if v.ConfigFileUsed() == "" {
		return v, nil
	}
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		logger.Info(ctx, "config file changed", zap.String("file", e.Name))
		if err := v.Unmarshal(out); err != nil {
			logger.Error(ctx, "reload config failed", zap.Error(err))
			return
		}
		if d, ok := out.(Defaulter); ok {
			d.Normalize()
		}
	})
	return v, nil
}
