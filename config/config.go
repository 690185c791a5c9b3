package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/sage3/foresight/errors"
	"github.com/sage3/foresight/pkg/paths"
	"github.com/sage3/foresight/schema"
	"gopkg.in/yaml.v3"
)

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

// Format is the on-disk encoding of a configuration file.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

var configNames = []string{
	"foresight.yml",
	"foresight.yaml",
	".foresight.yml",
	"foresight.toml",
}

// FormatFor picks the decoder for a config path by extension.
func FormatFor(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FormatTOML
	}
	return FormatYAML
}

// Load reads and parses a foresight configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.ConfigNotFound(path)
		}
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to read config file").
			WithDetail("path", path)
	}

	cfg, err := LoadFromBytes(data, FormatFor(path))
	if err != nil {
		if coded, ok := err.(*errors.Error); ok {
			return nil, coded.WithDetail("path", path)
		}
		return nil, err
	}
	return cfg, nil
}

// LoadDefault finds and loads the configuration starting at the working directory.
func LoadDefault() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to get current directory")
	}
	return LoadFrom(cwd)
}

// LoadFrom finds the nearest config file from startDir upward and loads it.
func LoadFrom(startDir string) (*Config, error) {
	path, err := FindConfigFile(startDir)
	if err != nil {
		return nil, err
	}
	return Load(path)
}

// LoadFromBytes parses, validates and defaults a configuration document.
func LoadFromBytes(data []byte, format Format) (*Config, error) {
	expanded := []byte(expandEnvVars(string(data)))

	raw := make(map[string]interface{})
	var decodeRaw, decodeConfig func([]byte, interface{}) error
	switch format {
	case FormatTOML:
		decodeRaw, decodeConfig = toml.Unmarshal, toml.Unmarshal
	default:
		decodeRaw, decodeConfig = yaml.Unmarshal, yaml.Unmarshal
	}

	if err := decodeRaw(expanded, &raw); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid,
			fmt.Sprintf("failed to parse %s configuration", format))
	}

	// Validate the raw document first so type mismatches surface as schema errors.
	validator, err := NewSchemaValidator()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to create validator")
	}
	if err := validator.Validate(raw); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigValidation, "schema validation failed")
	}

	var config Config
	if err := decodeConfig(expanded, &config); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid,
			fmt.Sprintf("failed to decode %s configuration", format))
	}
	if format == FormatTOML {
		config.Extensions = extensionsFrom(raw)
	}

	config.SetDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// FromEnv builds a configuration without a file, for deployments that are
// configured entirely through the environment.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			URL: envOr("SAGE3_SERVER", "http://localhost:3333"),
		},
		Kernel: KernelConfig{
			URL: envOr("SAGE3_KERNEL_URL", "http://localhost:8888"),
		},
		Redis: RedisConfig{
			Addr: os.Getenv("SAGE3_REDIS_ADDR"),
		},
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// NewSchemaValidator compiles the schema generated from Config.
func NewSchemaValidator() (*schema.Validator, error) {
	data, err := GenerateSchema()
	if err != nil {
		return nil, err
	}
	return schema.NewValidator("foresight.json", data)
}

// FindConfigFile searches for a foresight configuration file:
// 1. Current directory up to filesystem root
// 2. XDG config directory (~/.config/foresight/)
func FindConfigFile(startDir string) (string, error) {
	dir := startDir
	for {
		for _, name := range configNames {
			path := filepath.Join(dir, name)
			if info, err := os.Stat(path); err == nil && !info.IsDir() {
				return path, nil
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	if globalDir := paths.ConfigDir(); globalDir != "" {
		for _, name := range configNames {
			path := filepath.Join(globalDir, name)
			if info, err := os.Stat(path); err == nil && !info.IsDir() {
				return path, nil
			}
		}
	}

	return "", errors.ConfigNotFound(startDir).WithDetail("searchPath", startDir)
}

// expandEnvVars replaces ${VAR} with environment variable values
func expandEnvVars(content string) string {
	return envVarRegex.ReplaceAllStringFunc(content, func(match string) string {
		varName := envVarRegex.FindStringSubmatch(match)[1]

		// Handle default values: ${VAR:-default}
		parts := strings.SplitN(varName, ":-", 2)
		varName = parts[0]
		defaultValue := ""
		if len(parts) > 1 {
			defaultValue = parts[1]
		}

		if value := os.Getenv(varName); value != "" {
			return value
		}

		return defaultValue
	})
}

var knownKeys = map[string]struct{}{
	"version": {}, "server": {}, "kernel": {}, "redis": {}, "daemon": {}, "rooms": {},
}

func extensionsFrom(raw map[string]interface{}) map[string]interface{} {
	ext := make(map[string]interface{})
	for k, v := range raw {
		if _, ok := knownKeys[k]; !ok {
			ext[k] = v
		}
	}
	return ext
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
