package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models yojak.yml.
type Config struct {
	App struct {
		Name     string `yaml:"name"`
		Timezone string `yaml:"timezone"`
	} `yaml:"app"`
	Store struct {
		Backend string `yaml:"backend"` // file or sqlite
		Dir     string `yaml:"dir"`
		DBPath  string `yaml:"db_path"`
	} `yaml:"store"`
	Logs struct {
		Dir string `yaml:"dir"`
	} `yaml:"logs"`
	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`
	Cron struct {
		PublishToken string   `yaml:"publish_token"`
		TenderTokens []string `yaml:"tender_tokens"`
	} `yaml:"cron"`
	Tenders struct {
		Sources []TenderSource `yaml:"sources"`
	} `yaml:"tenders"`

	loc *time.Location
}

// TenderSource is one external endpoint the discovery job pulls from.
type TenderSource struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "yojak.yml")
}

// Load reads and validates config from the workspace, falling back to
// defaults when the file does not exist.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(workspace), nil
		}
		return nil, err
	}
	cfg, err := FromYAML(data)
	if err != nil {
		return nil, err
	}
	cfg.anchor(workspace)
	return cfg, nil
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the default Config rooted at the workspace.
func Default(workspace string) *Config {
	var cfg Config
	cfg.applyDefaults()
	cfg.anchor(workspace)
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "Yojak"
	}
	if c.App.Timezone == "" {
		c.App.Timezone = "Asia/Kolkata"
	}
	if c.Store.Backend == "" {
		c.Store.Backend = "file"
	}
	if c.Store.Dir == "" {
		c.Store.Dir = filepath.Join(".yojak", "records")
	}
	if c.Store.DBPath == "" {
		c.Store.DBPath = filepath.Join(".yojak", "yojak.db")
	}
	if c.Logs.Dir == "" {
		c.Logs.Dir = filepath.Join(".yojak", "logs")
	}
	if c.Auth.JWTSecret == "" {
		c.Auth.JWTSecret = os.Getenv("YOJAK_JWT_SECRET")
	}
	loc, err := time.LoadLocation(c.App.Timezone)
	if err != nil {
		loc = time.UTC
	}
	c.loc = loc
}

// anchor makes relative store/log paths workspace-relative.
func (c *Config) anchor(workspace string) {
	if workspace == "" {
		workspace = "."
	}
	if !filepath.IsAbs(c.Store.Dir) {
		c.Store.Dir = filepath.Join(workspace, c.Store.Dir)
	}
	if !filepath.IsAbs(c.Store.DBPath) {
		c.Store.DBPath = filepath.Join(workspace, c.Store.DBPath)
	}
	if !filepath.IsAbs(c.Logs.Dir) {
		c.Logs.Dir = filepath.Join(workspace, c.Logs.Dir)
	}
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Store.Backend != "file" && c.Store.Backend != "sqlite" {
		return fmt.Errorf("store.backend must be file or sqlite, got %q", c.Store.Backend)
	}
	if _, err := time.LoadLocation(c.App.Timezone); err != nil {
		return fmt.Errorf("app.timezone: %w", err)
	}
	for i, src := range c.Tenders.Sources {
		if src.Name == "" {
			return fmt.Errorf("tenders.sources[%d] missing name", i)
		}
		if src.URL == "" {
			return fmt.Errorf("tender source %s missing url", src.Name)
		}
	}
	return nil
}

// Location returns the configured civil timezone. It is resolved once
// while the config is built, so concurrent callers only read.
func (c *Config) Location() *time.Location {
	if c.loc == nil {
		return time.UTC
	}
	return c.loc
}

// TenderTokenAllowed performs a set-membership check of token against
// every configured tender cron token.
func (c *Config) TenderTokenAllowed(token string) bool {
	if token == "" {
		return false
	}
	for _, t := range c.Cron.TenderTokens {
		if t != "" && t == token {
			return true
		}
	}
	return false
}

// GenerateDefault returns default config YAML for a new workspace.
func GenerateDefault(appName string) string {
	return fmt.Sprintf(defaultTemplate, appName)
}

const defaultTemplate = `app:
  name: %s
  timezone: Asia/Kolkata

store:
  backend: file
  dir: .yojak/records
  db_path: .yojak/yojak.db

logs:
  dir: .yojak/logs

auth:
  jwt_secret: ""   # or set YOJAK_JWT_SECRET

cron:
  publish_token: ""
  tender_tokens: []

tenders:
  sources: []
`
