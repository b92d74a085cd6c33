// Package config provides environment configuration for the API server.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration

	// NATS settings
	NATSURL           string
	NATSCAFile        string
	NATSCertFile      string
	NATSKeyFile       string
	NATSToken         string
	NATSPublishEvents bool

	// JWT settings
	JWTSecret string

	// LLM settings
	AnthropicAPIKey string
	OpenAIAPIKey    string
	DefaultLLM      string
	DefaultModel    string

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Streaming
	HeartbeatInterval time.Duration
	RegistryShards    int
	RunTimeout        time.Duration

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// File mirrors Config as a YAML document. Every value may reference
// environment variables as ${VAR}.
type File struct {
	Server struct {
		Port         string `yaml:"port"`
		ReadTimeout  string `yaml:"read_timeout"`
		WriteTimeout string `yaml:"write_timeout"`
	} `yaml:"server"`
	NATS struct {
		URL           string `yaml:"url"`
		CAFile        string `yaml:"ca_file"`
		CertFile      string `yaml:"cert_file"`
		KeyFile       string `yaml:"key_file"`
		Token         string `yaml:"token"`
		PublishEvents string `yaml:"publish_events"`
	} `yaml:"nats"`
	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`
	LLM struct {
		AnthropicAPIKey string `yaml:"anthropic_api_key"`
		OpenAIAPIKey    string `yaml:"openai_api_key"`
		Provider        string `yaml:"provider"`
		Model           string `yaml:"model"`
	} `yaml:"llm"`
	RateLimit struct {
		Requests string `yaml:"requests"`
		Window   string `yaml:"window"`
	} `yaml:"rate_limit"`
	Streaming struct {
		HeartbeatInterval string `yaml:"heartbeat_interval"`
		RegistryShards    string `yaml:"registry_shards"`
		RunTimeout        string `yaml:"run_timeout"`
	} `yaml:"streaming"`
	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
	Tracing struct {
		Endpoint string `yaml:"endpoint"`
		Enabled  string `yaml:"enabled"`
	} `yaml:"tracing"`
}

// envOverrides maps environment variable names to their file values.
func (f *File) envOverrides() map[string]string {
	return map[string]string{
		"PORT":                 f.Server.Port,
		"SERVER_READ_TIMEOUT":  f.Server.ReadTimeout,
		"SERVER_WRITE_TIMEOUT": f.Server.WriteTimeout,
		"NATS_URL":             f.NATS.URL,
		"NATS_CA_FILE":         f.NATS.CAFile,
		"NATS_CERT_FILE":       f.NATS.CertFile,
		"NATS_KEY_FILE":        f.NATS.KeyFile,
		"NATS_TOKEN":           f.NATS.Token,
		"NATS_PUBLISH_EVENTS":  f.NATS.PublishEvents,
		"JWT_SECRET":           f.Auth.JWTSecret,
		"ANTHROPIC_API_KEY":    f.LLM.AnthropicAPIKey,
		"OPENAI_API_KEY":       f.LLM.OpenAIAPIKey,
		"DEFAULT_LLM":          f.LLM.Provider,
		"DEFAULT_MODEL":        f.LLM.Model,
		"RATE_LIMIT_REQUESTS":  f.RateLimit.Requests,
		"RATE_LIMIT_WINDOW":    f.RateLimit.Window,
		"HEARTBEAT_INTERVAL":   f.Streaming.HeartbeatInterval,
		"REGISTRY_SHARDS":      f.Streaming.RegistryShards,
		"RUN_TIMEOUT":          f.Streaming.RunTimeout,
		"LOG_LEVEL":            f.Logging.Level,
		"TRACING_ENDPOINT":     f.Tracing.Endpoint,
		"TRACING_ENABLED":      f.Tracing.Enabled,
	}
}

// Load reads configuration from environment variables, falling back to the
// YAML file named by CONFIG_FILE and then to built-in defaults.
func Load() (*Config, error) {
	src := source{file: map[string]string{}}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		f, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		src.file = f.envOverrides()
	}

	return src.build(), nil
}

// LoadFile parses a YAML config file, expanding ${VAR} references.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseFile(data)
}

// ParseFile parses YAML config bytes, expanding ${VAR} references.
func ParseFile(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal([]byte(expandEnv(string(data))), &f); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &f, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func expandEnv(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

type source struct {
	file map[string]string
}

func (s source) build() *Config {
	return &Config{
		// Server
		ServerPort:         s.getEnv("PORT", "8080"),
		ServerReadTimeout:  s.getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: s.getDurationEnv("SERVER_WRITE_TIMEOUT", 0),

		// NATS
		NATSURL:           s.getEnv("NATS_URL", "nats://localhost:4222"),
		NATSCAFile:        s.getEnv("NATS_CA_FILE", ""),
		NATSCertFile:      s.getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:       s.getEnv("NATS_KEY_FILE", ""),
		NATSToken:         s.getEnv("NATS_TOKEN", ""),
		NATSPublishEvents: s.getBoolEnv("NATS_PUBLISH_EVENTS", true),

		// JWT
		JWTSecret: s.getEnv("JWT_SECRET", "development-secret-change-in-production"),

		// LLM
		AnthropicAPIKey: s.getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:    s.getEnv("OPENAI_API_KEY", ""),
		DefaultLLM:      s.getEnv("DEFAULT_LLM", "anthropic"),
		DefaultModel:    s.getEnv("DEFAULT_MODEL", ""),

		// Rate limiting
		RateLimitRequests: s.getIntEnv("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   s.getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Streaming
		HeartbeatInterval: s.getDurationEnv("HEARTBEAT_INTERVAL", 30*time.Second),
		RegistryShards:    s.getIntEnv("REGISTRY_SHARDS", 32),
		RunTimeout:        s.getDurationEnv("RUN_TIMEOUT", 5*time.Minute),

		// Logging
		LogLevel: s.getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: s.getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  s.getBoolEnv("TRACING_ENABLED", false),
	}
}

func (s source) lookup(key string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return s.file[key]
}

func (s source) getEnv(key, defaultValue string) string {
	if value := s.lookup(key); value != "" {
		return value
	}
	return defaultValue
}

func (s source) getIntEnv(key string, defaultValue int) int {
	if value := s.lookup(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func (s source) getBoolEnv(key string, defaultValue bool) bool {
	if value := s.lookup(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func (s source) getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := s.lookup(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
