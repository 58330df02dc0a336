package main

import (
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"strings"

	"github.com/kestrel-noc/kestrel/internal/domain"
	"github.com/kestrel-noc/kestrel/internal/kpi"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// envPrefix prefixes every environment override, e.g. KESTREL_SERVER_PORT.
const envPrefix = "KESTREL"

// newViper returns a viper instance that reads KESTREL_* variables, with
// nested keys joined by underscores.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// loadConfig resolves the configuration from tier defaults, the optional
// config file, KESTREL_* variables and bound flags, in increasing precedence.
// The tier, wherever it is set, selects which defaults apply.
func loadConfig(v *viper.Viper, configFile string) (*domain.Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := domain.DefaultConfig()
	if domain.Tier(v.GetString("tier")) == domain.TierPro {
		cfg = domain.ProConfig()
	}
	setDefaults(v, "", reflect.ValueOf(*cfg))

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to unmarshal config: %w", err)
	}

	rules, err := configRules(v)
	if err != nil {
		return nil, err
	}
	cfg.Rules = rules

	return cfg, nil
}

// setDefaults registers every leaf of cfg under its mapstructure key so that
// AutomaticEnv can override keys the config file does not mention.
func setDefaults(v *viper.Viper, prefix string, val reflect.Value) {
	t := val.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}
		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}

		fv := val.Field(i)
		if fv.Kind() == reflect.Struct {
			setDefaults(v, key, fv)
			continue
		}
		v.SetDefault(key, fv.Interface())
	}
}

// configRules returns the rules list of the config file, or nil when absent.
func configRules(v *viper.Viper) ([]*domain.RuleDefinition, error) {
	raw := v.Get("rules")
	if raw == nil {
		return nil, nil
	}

	doc, err := yaml.Marshal(map[string]any{"rules": raw})
	if err != nil {
		return nil, fmt.Errorf("failed to read rules from config: %w", err)
	}
	defs, err := kpi.LoadDefinitions(strings.NewReader(string(doc)))
	if err != nil {
		return nil, fmt.Errorf("invalid rules in config: %w", err)
	}
	return defs, nil
}

// setupLogger installs the process-wide slog logger.
// KESTREL_DEBUG=true forces debug level.
func setupLogger(cfg domain.LoggingConfig) {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if os.Getenv(envPrefix+"_DEBUG") == "true" {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
