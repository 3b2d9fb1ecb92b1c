package cli

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the paraplan.yaml configuration structure.
type Config struct {
	Database struct {
		URL            string `yaml:"url"`
		MaxConnections int    `yaml:"max_connections"`
	} `yaml:"database"`

	Worker struct {
		PollIntervalSeconds int  `yaml:"poll_interval_seconds"`
		JitterSeconds       int  `yaml:"jitter_seconds"`
		BatchSize           int  `yaml:"batch_size"`
		SendTimeoutSeconds  int  `yaml:"send_timeout_seconds"`
		SchedulerEnabled    bool `yaml:"scheduler_enabled"`
	} `yaml:"worker"`

	Telegram struct {
		BotToken string `yaml:"bot_token"`
	} `yaml:"telegram"`

	Email struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
		From string `yaml:"from"`
	} `yaml:"email"`
}

// LoadConfig reads the config file, falling back through the default
// locations, then applies environment overrides and defaults.
func LoadConfig(path string) (*Config, error) {
	var config Config

	if path == "" {
		locations := []string{"paraplan.yaml", "paraplan.yml", ".paraplan.yaml", ".paraplan.yml"}
		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnv(&config)
	applyDefaults(&config)

	if err := validate(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

func applyEnv(c *Config) {
	if v := os.Getenv("PARAPLAN_DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv("PARAPLAN_TELEGRAM_BOT_TOKEN"); v != "" {
		c.Telegram.BotToken = v
	}
	if v, ok := envInt("PARAPLAN_POLL_INTERVAL_SECONDS"); ok {
		c.Worker.PollIntervalSeconds = v
	}
	if v, ok := envInt("PARAPLAN_JITTER_SECONDS"); ok {
		c.Worker.JitterSeconds = v
	}
	if v, ok := envInt("PARAPLAN_BATCH_SIZE"); ok {
		c.Worker.BatchSize = v
	}
	if v, ok := envInt("PARAPLAN_SEND_TIMEOUT_SECONDS"); ok {
		c.Worker.SendTimeoutSeconds = v
	}
	if v := os.Getenv("PARAPLAN_SCHEDULER_ENABLED"); v != "" {
		c.Worker.SchedulerEnabled = v == "1" || v == "true" || v == "yes"
	}
}

func envInt(name string) (int, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func applyDefaults(c *Config) {
	if c.Database.MaxConnections == 0 {
		c.Database.MaxConnections = 10
	}
	if c.Worker.PollIntervalSeconds == 0 {
		c.Worker.PollIntervalSeconds = 60
	}
	if c.Worker.JitterSeconds == 0 {
		c.Worker.JitterSeconds = 5
	}
	if c.Worker.BatchSize == 0 {
		c.Worker.BatchSize = 100
	}
	if c.Worker.SendTimeoutSeconds == 0 {
		c.Worker.SendTimeoutSeconds = 10
	}
	if c.Email.Port == 0 {
		c.Email.Port = 587
	}
}

func validate(c *Config) error {
	if c.Worker.PollIntervalSeconds < 0 {
		return fmt.Errorf("poll_interval_seconds must not be negative")
	}
	if c.Worker.BatchSize < 1 {
		return fmt.Errorf("batch_size must be at least 1")
	}
	if c.Worker.SendTimeoutSeconds < 1 {
		return fmt.Errorf("send_timeout_seconds must be at least 1")
	}
	return nil
}
