// internal/config/config.go
package config

import (
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Environment overrides. A non-empty variable wins over the file value.
const (
	EnvConfigPath    = "VOXCHAT_CONFIG"
	EnvAPIKey        = "OPENAI_API_KEY"
	EnvVectorStoreID = "VECTOR_STORE_ID"
	EnvSystemPrompt  = "SYSTEM_PROMPT"
	EnvAddr          = "VOXCHAT_ADDR"
	EnvProfile       = "VOXCHAT_PROFILE"
	EnvStaticDir     = "VOXCHAT_STATIC_DIR"
	EnvBrokerURL     = "VOXCHAT_BROKER_URL"
)

const DefaultPath = "config/config.yaml"

var (
	ErrConfigNotFound      = errors.New("config file not found")
	ErrMissingAPIKey       = errors.New("openai api key is not set")
	ErrPlaceholderAPIKey   = errors.New("openai api key is still the sample value")
	ErrMissingSystemPrompt = errors.New("system prompt is not set")
)

type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	Profile        string   `yaml:"profile"`
	StaticDir      string   `yaml:"static_dir,omitempty"`
	AllowedOrigins []string `yaml:"allowed_origins,omitempty"`
}

type ClientConfig struct {
	BrokerURL string `yaml:"broker_url"`
	Transport string `yaml:"transport"` // webrtc, websocket
	Audio     string `yaml:"audio"`     // ffmpeg, none
}

type Config struct {
	Security struct {
		OpenAIAPIKey string `yaml:"openai_api_key"`
	} `yaml:"security"`
	RAG struct {
		VectorStoreID string `yaml:"vector_store_id,omitempty"`
	} `yaml:"rag"`
	Prompt struct {
		System string `yaml:"system"`
	} `yaml:"prompt"`
	Server ServerConfig `yaml:"server"`
	Client ClientConfig `yaml:"client"`

	// fileFound records whether Load read a file, for error hints.
	fileFound bool
}

// Settings is the read-only snapshot the broker works from.
type Settings struct {
	APIKey        string
	VectorStoreID string
	SystemPrompt  string
}

// RAGEnabled reports whether a knowledge base is configured.
func (s Settings) RAGEnabled() bool {
	return strings.TrimSpace(s.VectorStoreID) != ""
}

// SystemPreview returns the first 120 characters of the system prompt.
func (s Settings) SystemPreview() string {
	r := []rune(s.SystemPrompt)
	if len(r) > 120 {
		r = r[:120]
	}
	return string(r)
}

// Resolver merges the environment and the YAML file into a Config.
type Resolver struct {
	Path string
	// RequireFile fails resolution when the file is absent.
	RequireFile bool
	// Getenv defaults to os.Getenv.
	Getenv func(string) string
}

// NewResolver returns a resolver for path, falling back to VOXCHAT_CONFIG
// and then DefaultPath when path is empty.
func NewResolver(path string) Resolver {
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path == "" {
		path = DefaultPath
	}
	return Resolver{Path: path}
}

func (r Resolver) getenv(key string) string {
	if r.Getenv != nil {
		return r.Getenv(key)
	}
	return os.Getenv(key)
}

// envRef matches ${VAR} only; a bare $ is kept as written.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func (r Resolver) expandEnv(text string) string {
	return envRef.ReplaceAllStringFunc(text, func(ref string) string {
		return r.getenv(ref[2 : len(ref)-1])
	})
}

// Load reads the file (if any), applies environment overrides and defaults.
// It does not validate secrets; see Resolve.
func (r Resolver) Load() (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(r.Path)
	switch {
	case err == nil:
		expanded := r.expandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, errors.Wrapf(err, "parse %s", r.Path)
		}
		cfg.fileFound = true
	case os.IsNotExist(err):
		if r.RequireFile {
			return nil, errors.Wrapf(ErrConfigNotFound, "%s (copy config/config.yaml.example to create it)", r.Path)
		}
	default:
		return nil, errors.Wrapf(err, "read %s", r.Path)
	}

	r.applyEnv(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

// Resolve loads the config and validates the fields the broker cannot run
// without.
func (r Resolver) Resolve() (*Settings, *Config, error) {
	cfg, err := r.Load()
	if err != nil {
		return nil, nil, err
	}
	if err := r.validate(cfg); err != nil {
		return nil, cfg, err
	}
	return &Settings{
		APIKey:        cfg.Security.OpenAIAPIKey,
		VectorStoreID: strings.TrimSpace(cfg.RAG.VectorStoreID),
		SystemPrompt:  cfg.Prompt.System,
	}, cfg, nil
}

func (r Resolver) validate(cfg *Config) error {
	where := r.Path
	if !cfg.fileFound {
		where = r.Path + " (file not found)"
	}
	key := cfg.Security.OpenAIAPIKey
	if strings.TrimSpace(key) == "" {
		return errors.Wrapf(ErrMissingAPIKey, "set %s or security.openai_api_key in %s", EnvAPIKey, where)
	}
	if strings.Contains(key, "xxxx") {
		return errors.Wrapf(ErrPlaceholderAPIKey, "replace security.openai_api_key in %s or set %s", where, EnvAPIKey)
	}
	if strings.TrimSpace(cfg.Prompt.System) == "" {
		return errors.Wrapf(ErrMissingSystemPrompt, "set %s or prompt.system in %s", EnvSystemPrompt, where)
	}
	return nil
}

func (r Resolver) applyEnv(cfg *Config) {
	override := func(dst *string, key string) {
		if v := strings.TrimSpace(r.getenv(key)); v != "" {
			*dst = v
		}
	}
	override(&cfg.Security.OpenAIAPIKey, EnvAPIKey)
	override(&cfg.RAG.VectorStoreID, EnvVectorStoreID)
	override(&cfg.Prompt.System, EnvSystemPrompt)
	override(&cfg.Server.Addr, EnvAddr)
	override(&cfg.Server.Profile, EnvProfile)
	override(&cfg.Server.StaticDir, EnvStaticDir)
	override(&cfg.Client.BrokerURL, EnvBrokerURL)
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":3001"
	}
	if cfg.Server.Profile == "" {
		cfg.Server.Profile = ProfileLocal
	}
	if cfg.Client.BrokerURL == "" {
		cfg.Client.BrokerURL = "http://localhost:3001"
	}
	if cfg.Client.Transport == "" {
		cfg.Client.Transport = "webrtc"
	}
	if cfg.Client.Audio == "" {
		cfg.Client.Audio = "ffmpeg"
	}
}

// Cache resolves settings lazily and keeps the first successful result.
// Failed resolutions are not cached so a fixed file is picked up on the
// next call.
type Cache struct {
	resolver Resolver

	mu       sync.Mutex
	settings *Settings
}

func NewCache(r Resolver) *Cache {
	return &Cache{resolver: r}
}

func (c *Cache) Settings() (*Settings, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.settings != nil {
		return c.settings, nil
	}
	s, _, err := c.resolver.Resolve()
	if err != nil {
		return nil, err
	}
	c.settings = s
	return s, nil
}
