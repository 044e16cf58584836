package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	env "github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	EnvPrefix         = "AGGREPO_"
	DefaultConfigFile = "configs/base.yaml"
)

type Option func(*loadOptions)

type loadOptions struct {
	file     string
	required bool
}

// WithFile loads path instead of configs/base.yaml. Unlike the default file, it
// must exist.
func WithFile(path string) Option {
	return func(o *loadOptions) {
		o.file = path
		o.required = true
	}
}

// Load layers, lowest precedence first:
//
//  1. built-in defaults
//  2. the YAML file (configs/base.yaml unless WithFile is given)
//  3. environment variables with the AGGREPO_ prefix
//
// Env keys are matched against known keys, so AGGREPO_SNAPSHOTS_CACHE_SIZE
// sets snapshots.cache_size rather than snapshots.cache.size.
func Load(opts ...Option) (*Config, error) {
	o := &loadOptions{file: DefaultConfigFile}
	for _, opt := range opts {
		opt(o)
	}

	k := koanf.New(".")
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if o.file != "" {
		_, err := os.Stat(o.file)
		switch {
		case err == nil:
			if err := k.Load(file.Provider(o.file), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("loading config %s: %w", o.file, err)
			}
		case errors.Is(err, fs.ErrNotExist) && !o.required:
		default:
			return nil, fmt.Errorf("loading config %s: %w", o.file, err)
		}
	}

	envLookup := buildEnvLookup(k.Keys())
	if err := k.Load(env.Provider(".", env.Opt{
		Prefix: EnvPrefix,
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
			if koanfKey, ok := envLookup[key]; ok {
				return koanfKey, value
			}
			return strings.ReplaceAll(key, "_", "."), value
		},
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

func buildEnvLookup(keys []string) map[string]string {
	lookup := make(map[string]string, len(keys))
	for _, key := range keys {
		lookup[strings.ReplaceAll(key, ".", "_")] = key
	}
	return lookup
}
