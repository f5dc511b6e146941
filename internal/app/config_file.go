package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// FileConfig is the single-file configuration schema. Sections map onto the
// dotted flag names (llm.model, db.path, ...).
type FileConfig struct {
	Listen  string `yaml:"listen" json:"listen"`
	Verbose bool   `yaml:"verbose" json:"verbose"`

	Server struct {
		MaxConns int `yaml:"maxConns" json:"maxConns"`
	} `yaml:"server" json:"server"`

	DB struct {
		Path        string `yaml:"path" json:"path"`
		MaxRows     int    `yaml:"maxRows" json:"maxRows"`
		StrictPerms bool   `yaml:"strictPerms" json:"strictPerms"`
	} `yaml:"db" json:"db"`

	Recent struct {
		Size int `yaml:"size" json:"size"`
	} `yaml:"recent" json:"recent"`

	LLM struct {
		BaseURL    string   `yaml:"base" json:"base"`
		Model      string   `yaml:"model" json:"model"`
		APIKey     string   `yaml:"key" json:"key"`
		Timeout    Duration `yaml:"timeout" json:"timeout"`
		RequireKey bool     `yaml:"requireKey" json:"requireKey"`
	} `yaml:"llm" json:"llm"`
}

// Duration accepts Go duration strings ("30s") in YAML and JSON.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	return d.set(s)
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	return d.set(s)
}

func (d *Duration) set(s string) error {
	if strings.TrimSpace(s) == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// LoadConfigFile reads YAML or JSON into FileConfig.
func LoadConfigFile(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	switch ext := filepath.Ext(path); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &fc); err != nil {
			return fc, fmt.Errorf("parse yaml: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(b, &fc); err != nil {
			return fc, fmt.Errorf("parse json: %w", err)
		}
	default:
		if err := yaml.Unmarshal(b, &fc); err != nil {
			if jerr := json.Unmarshal(b, &fc); jerr != nil {
				return fc, fmt.Errorf("parse config: %v (yaml) / %v (json)", err, jerr)
			}
		}
	}
	return fc, nil
}

// ApplyFileConfig overlays every value set in fc onto cfg. It runs before env
// and flags, so anything it sets can still be overridden.
func ApplyFileConfig(cfg *Config, fc FileConfig) {
	if cfg == nil {
		return
	}
	if fc.Listen != "" {
		cfg.ListenAddr = fc.Listen
	}
	if fc.Verbose {
		cfg.Verbose = true
	}
	if fc.Server.MaxConns > 0 {
		cfg.MaxConns = fc.Server.MaxConns
	}
	if fc.DB.Path != "" {
		cfg.DBPath = fc.DB.Path
	}
	if fc.DB.MaxRows > 0 {
		cfg.MaxRows = fc.DB.MaxRows
	}
	if fc.DB.StrictPerms {
		cfg.DBStrictPerms = true
	}
	if fc.Recent.Size > 0 {
		cfg.RecentSize = fc.Recent.Size
	}
	if fc.LLM.BaseURL != "" {
		cfg.LLMBaseURL = fc.LLM.BaseURL
	}
	if fc.LLM.Model != "" {
		cfg.LLMModel = fc.LLM.Model
	}
	if fc.LLM.APIKey != "" {
		cfg.LLMAPIKey = fc.LLM.APIKey
	}
	if fc.LLM.Timeout > 0 {
		cfg.LLMTimeout = time.Duration(fc.LLM.Timeout)
	}
	if fc.LLM.RequireKey {
		cfg.RequireAPIKey = true
	}
}

// ValidateConfig rejects settings the service cannot run with.
func ValidateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		return errors.New("config: listen address is required")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return errors.New("config: db.path is required")
	}
	if cfg.MaxRows <= 0 {
		return errors.New("config: db.maxRows must be positive")
	}
	if cfg.RecentSize <= 0 {
		return errors.New("config: recent.size must be positive")
	}
	if cfg.MaxConns < 0 {
		return errors.New("config: server.maxConns must not be negative")
	}
	if cfg.LLMTimeout <= 0 {
		return errors.New("config: llm.timeout must be positive")
	}
	if cfg.RequireAPIKey && strings.TrimSpace(cfg.LLMAPIKey) == "" {
		return errors.New("config: llm.key is required (or set OPENAI_API_KEY / LLM_API_KEY)")
	}
	return nil
}
