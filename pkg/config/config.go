package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the control plane's runtime configuration, bound to
// environment variables. Interval and timeout variables are expressed
// in seconds.
type Config struct {
	// Node agent.
	NodeAgentPort int
	DOToken       string // provider credential, also keys agent auth

	// Health monitor.
	HealthCheckInterval        time.Duration
	HealthCheckCleanupInterval time.Duration

	// DNS.
	DNSAPIToken string
	RootDomain  string

	// Orchestration.
	DeployTimeout   time.Duration
	RollbackTimeout time.Duration // also bounds scale operations
	DeployFanout    int
	ImageKeepLatest int

	// Server.
	APIAddr string
	DataDir string

	// Node firewalls in managed mode admit these CIDRs.
	AdminIPs []string

	// Externals consumed by the API shell, not by the core.
	JWTSecret   string
	DatabaseURL string
	RedisURL    string

	// Logging.
	LogLevel string
	LogJSON  bool
}

// Load reads configuration from the environment, applying defaults for
// anything unset.
func Load() *Config {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("NODE_AGENT_PORT", 9999)
	v.SetDefault("HEALTH_CHECK_INTERVAL", 60)
	v.SetDefault("HEALTH_CHECK_CLEANUP_INTERVAL", 86400)
	v.SetDefault("DEPLOY_TIMEOUT", 1800)
	v.SetDefault("ROLLBACK_TIMEOUT", 600)
	v.SetDefault("DEPLOY_FANOUT", 4)
	v.SetDefault("IMAGE_KEEP_LATEST", 100)
	v.SetDefault("API_ADDR", ":8080")
	v.SetDefault("DATA_DIR", "/var/lib/flotilla")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_JSON", true)

	return &Config{
		NodeAgentPort:              v.GetInt("NODE_AGENT_PORT"),
		DOToken:                    v.GetString("DO_TOKEN"),
		HealthCheckInterval:        time.Duration(v.GetInt("HEALTH_CHECK_INTERVAL")) * time.Second,
		HealthCheckCleanupInterval: time.Duration(v.GetInt("HEALTH_CHECK_CLEANUP_INTERVAL")) * time.Second,
		DNSAPIToken:                v.GetString("DNS_API_TOKEN"),
		RootDomain:                 v.GetString("ROOT_DOMAIN"),
		DeployTimeout:              time.Duration(v.GetInt("DEPLOY_TIMEOUT")) * time.Second,
		RollbackTimeout:            time.Duration(v.GetInt("ROLLBACK_TIMEOUT")) * time.Second,
		DeployFanout:               v.GetInt("DEPLOY_FANOUT"),
		ImageKeepLatest:            v.GetInt("IMAGE_KEEP_LATEST"),
		APIAddr:                    v.GetString("API_ADDR"),
		DataDir:                    v.GetString("DATA_DIR"),
		AdminIPs:                   splitList(v.GetString("ADMIN_IPS")),
		JWTSecret:                  v.GetString("JWT_SECRET"),
		DatabaseURL:                v.GetString("DATABASE_URL"),
		RedisURL:                   v.GetString("REDIS_URL"),
		LogLevel:                   v.GetString("LOG_LEVEL"),
		LogJSON:                    v.GetBool("LOG_JSON"),
	}
}

// Validate checks the fields the server cannot run without.
func (c *Config) Validate() error {
	if c.DOToken == "" {
		return fmt.Errorf("DO_TOKEN is required")
	}
	if c.RootDomain == "" {
		return fmt.Errorf("ROOT_DOMAIN is required")
	}
	if c.NodeAgentPort <= 0 || c.NodeAgentPort > 65535 {
		return fmt.Errorf("NODE_AGENT_PORT %d out of range", c.NodeAgentPort)
	}
	if c.DeployFanout < 1 {
		return fmt.Errorf("DEPLOY_FANOUT must be at least 1")
	}
	return nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
