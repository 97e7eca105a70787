package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	SQLite   SQLiteConfig
	Redis    RedisConfig
	Agent    AgentConfig
	Auth     AuthConfig
	Pipeline PipelineConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

type SQLiteConfig struct {
	Path      string
	SeedRules bool
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type AgentConfig struct {
	Enabled     bool
	Model       string
	APIKey      string
	Temperature float32
	MaxTokens   int
	TimeoutSec  int
}

type AuthConfig struct {
	// Tokens maps bearer tokens to "org/workspace" tenant scopes.
	Tokens       map[string]string
	DevToken     string
	DevOrg       string
	DevWorkspace string
}

type PipelineConfig struct {
	MaxRequestsPerMinute int
	RuleCacheTTLSec      int
	ReportCacheTTLSec    int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/compliance-review")

	viper.SetEnvPrefix("COMPLIANCE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 30)
	viper.SetDefault("server.bodyLimit", 10485760)

	viper.SetDefault("sqlite.path", "./data/compliance.db")
	viper.SetDefault("sqlite.seedRules", true)

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("agent.enabled", false)
	viper.SetDefault("agent.model", "gpt-4")
	viper.SetDefault("agent.temperature", 0.1)
	viper.SetDefault("agent.maxTokens", 2048)
	viper.SetDefault("agent.timeoutSec", 120)

	viper.SetDefault("auth.devToken", "dev-token")
	viper.SetDefault("auth.devOrg", "org-dev")
	viper.SetDefault("auth.devWorkspace", "ws-dev")

	viper.SetDefault("pipeline.maxRequestsPerMinute", 120)
	viper.SetDefault("pipeline.ruleCacheTTLSec", 300)
	viper.SetDefault("pipeline.reportCacheTTLSec", 600)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
