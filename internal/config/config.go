// Package config loads proxy configuration from an optional YAML file and
// the environment. Environment variables use the canonical OpenAI SDK names
// (OPENAI_API_KEY, AZURE_OPENAI_API_KEY, ...) so the proxy drops into
// existing test harnesses unchanged.
package config

import (
	"errors"
	"os"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server ServerConfig `koanf:"server"`
	OpenAI OpenAIConfig `koanf:"openai"`
	Azure  AzureConfig  `koanf:"azure"`
}

type ServerConfig struct {
	Port int `koanf:"port"`
}

type OpenAIConfig struct {
	APIKey  string `koanf:"api_key"`
	BaseURL string `koanf:"base_url"`
}

type AzureConfig struct {
	APIKey     string `koanf:"api_key"`
	Endpoint   string `koanf:"endpoint"`
	APIVersion string `koanf:"api_version"`
}

// UseAzure reports whether the Azure-flavored upstream client should be
// used. Presence of the Azure API key decides this, once, at load time.
func (c *Config) UseAzure() bool {
	return c.Azure.APIKey != ""
}

// envKeys maps environment variable names to config keys. Variables not
// listed here are ignored.
var envKeys = map[string]string{
	"PORT":                  "server.port",
	"OPENAI_API_KEY":        "openai.api_key",
	"OPENAI_BASE_URL":       "openai.base_url",
	"AZURE_OPENAI_API_KEY":  "azure.api_key",
	"AZURE_OPENAI_ENDPOINT": "azure.endpoint",
	"OPENAI_API_VERSION":    "azure.api_version",
}

// Load reads configuration from the YAML file at path (skipped if path is
// empty or the file does not exist) and then from the environment, with
// environment values taking precedence.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, err
			}
		}
	}

	if err := k.Load(env.ProviderWithValue("", ".", func(key, value string) (string, interface{}) {
		// Unlisted variables and empty values are ignored so an exported
		// empty PORT or OPENAI_API_KEY doesn't clobber defaults.
		if value == "" {
			return "", nil
		}
		return envKeys[key], value
	}), nil); err != nil {
		return nil, err
	}

	// Default values
	if !k.Exists("server.port") {
		k.Set("server.port", 8080)
	}
	if !k.Exists("openai.base_url") {
		k.Set("openai.base_url", "https://api.openai.com/v1")
	}
	if !k.Exists("azure.api_version") {
		k.Set("azure.api_version", "2024-12-01-preview")
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.UseAzure() && c.Azure.Endpoint == "" {
		return errors.New("AZURE_OPENAI_ENDPOINT is required when AZURE_OPENAI_API_KEY is set")
	}
	return nil
}
