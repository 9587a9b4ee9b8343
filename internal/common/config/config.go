// Package config provides configuration management for systemprompt-os.
// It supports loading configuration from environment variables, config files,
// and defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/systempromptio/systemprompt-os/internal/common/constants"
)

// Config holds all configuration sections for systemprompt-os.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Modules   ModulesConfig   `mapstructure:"modules"`
	Agent     AgentConfig     `mapstructure:"agent"`
	HostProxy HostProxyConfig `mapstructure:"hostProxy"`
	MCP       MCPConfig       `mapstructure:"mcp"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// DatabaseConfig holds SQLite database configuration.
// An empty path selects the in-memory stores.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// NATSConfig holds NATS messaging configuration.
// An empty URL selects the in-memory event bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// ModulesConfig holds module discovery and bootstrap configuration.
type ModulesConfig struct {
	// Dir is the directory scanned for module manifests.
	Dir string `mapstructure:"dir"`
	// AutoStart controls whether loaded modules are started immediately
	// after initialization.
	AutoStart bool `mapstructure:"autoStart"`
}

// Execution modes for AgentConfig.ExecutionMode.
const (
	ExecutionModeLocal     = "local"
	ExecutionModeHostProxy = "hostproxy"
)

// AgentConfig holds coding-agent configuration.
type AgentConfig struct {
	// ExecutionMode selects where instructions run: "local" execs the
	// claude binary in this process, "hostproxy" relays the run to the
	// host daemon over its socket.
	ExecutionMode string `mapstructure:"executionMode"`
	// ClaudePath is the path to the local claude binary.
	ClaudePath string `mapstructure:"claudePath"`
	// Model passed to the agent when no per-session override is given.
	Model string `mapstructure:"model"`
	// MaxTurns bounds conversational turns per query.
	MaxTurns int `mapstructure:"maxTurns"`
	// QueryTimeout in seconds; zero means the built-in default.
	QueryTimeout int `mapstructure:"queryTimeout"`
	// SessionIdleTimeout in seconds; zero means the built-in default.
	SessionIdleTimeout int `mapstructure:"sessionIdleTimeout"`
}

// HostProxyConfig holds the connection parameters for the host-bridge daemon.
type HostProxyConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// Timeout in seconds; zero means the built-in default.
	Timeout int `mapstructure:"timeout"`
	// SandboxRoot is the path prefix under which the orchestrator sees the
	// workspace; paths under it are rewritten to HostRoot before being sent
	// to the daemon.
	SandboxRoot string `mapstructure:"sandboxRoot"`
	HostRoot    string `mapstructure:"hostRoot"`
}

// MCPConfig holds the embedded MCP server configuration.
type MCPConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// QueryTimeoutDuration returns the query timeout as a time.Duration.
func (a *AgentConfig) QueryTimeoutDuration() time.Duration {
	if a.QueryTimeout <= 0 {
		return constants.DefaultQueryTimeout
	}
	return time.Duration(a.QueryTimeout) * time.Second
}

// SessionIdleTimeoutDuration returns the session idle timeout as a time.Duration.
func (a *AgentConfig) SessionIdleTimeoutDuration() time.Duration {
	if a.SessionIdleTimeout <= 0 {
		return constants.SessionIdleTimeout
	}
	return time.Duration(a.SessionIdleTimeout) * time.Second
}

// TimeoutDuration returns the host-proxy call timeout as a time.Duration.
func (h *HostProxyConfig) TimeoutDuration() time.Duration {
	if h.Timeout <= 0 {
		return constants.HostProxyTimeout
	}
	return time.Duration(h.Timeout) * time.Second
}

// Address returns the daemon address in host:port form.
func (h *HostProxyConfig) Address() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	// Database defaults - empty path means in-memory stores
	v.SetDefault("database.path", "")

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "systemprompt-os")
	v.SetDefault("nats.maxReconnects", 10)

	// Module defaults
	v.SetDefault("modules.dir", "./modules")
	v.SetDefault("modules.autoStart", true)

	// Agent defaults
	v.SetDefault("agent.executionMode", ExecutionModeLocal)
	v.SetDefault("agent.claudePath", "claude")
	v.SetDefault("agent.model", "")
	v.SetDefault("agent.maxTurns", 0)
	v.SetDefault("agent.queryTimeout", 0)
	v.SetDefault("agent.sessionIdleTimeout", 0)

	// Host proxy defaults
	v.SetDefault("hostProxy.host", constants.DefaultHostProxyHost)
	v.SetDefault("hostProxy.port", constants.DefaultHostProxyPort)
	v.SetDefault("hostProxy.timeout", 0)
	v.SetDefault("hostProxy.sandboxRoot", "/workspace")
	v.SetDefault("hostProxy.hostRoot", "")

	// MCP defaults
	v.SetDefault("mcp.enabled", true)
	v.SetDefault("mcp.port", 9090)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix SYSTEMPROMPT_ with snake_case naming.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("SYSTEMPROMPT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for the legacy env var names the host-proxy daemon
	// and agent tooling are configured with. CLAUDE_PROXY_* takes precedence
	// over HOST_BRIDGE_DAEMON_*.
	_ = v.BindEnv("hostProxy.host", "CLAUDE_PROXY_HOST", "HOST_BRIDGE_DAEMON_HOST", "SYSTEMPROMPT_HOSTPROXY_HOST")
	_ = v.BindEnv("hostProxy.port", "CLAUDE_PROXY_PORT", "HOST_BRIDGE_DAEMON_PORT", "SYSTEMPROMPT_HOSTPROXY_PORT")
	_ = v.BindEnv("hostProxy.hostRoot", "HOST_FILE_ROOT", "SYSTEMPROMPT_HOSTPROXY_HOSTROOT")
	_ = v.BindEnv("agent.claudePath", "CLAUDE_PATH", "SYSTEMPROMPT_AGENT_CLAUDEPATH")

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/systemprompt/")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	if cfg.HostProxy.Port <= 0 || cfg.HostProxy.Port > 65535 {
		errs = append(errs, "hostProxy.port must be between 1 and 65535")
	}

	if cfg.Agent.ExecutionMode != ExecutionModeLocal && cfg.Agent.ExecutionMode != ExecutionModeHostProxy {
		errs = append(errs, "agent.executionMode must be one of: local, hostproxy")
	}

	if cfg.MCP.Enabled && (cfg.MCP.Port <= 0 || cfg.MCP.Port > 65535) {
		errs = append(errs, "mcp.port must be between 1 and 65535")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}
