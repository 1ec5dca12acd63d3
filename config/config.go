package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Game     GameConfig     `mapstructure:"game"`
	Socket   SocketConfig   `mapstructure:"socket"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	HTTPAddress    string `mapstructure:"http_address"`
	RPCAddress     string `mapstructure:"rpc_address"`
	MetricsAddress string `mapstructure:"metrics_address"`
	MaxPlayers     int    `mapstructure:"max_players"`
}

type DatabaseConfig struct {
	// Driver selects the session store backend: gorm, pq, redis or none.
	Driver   string         `mapstructure:"driver"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// GameConfig mirrors the options recognised by the game orchestrator.
type GameConfig struct {
	Name        string `mapstructure:"name"`
	Description string `mapstructure:"description"`
	Observer    bool   `mapstructure:"observer"`
	AutoStep    bool   `mapstructure:"auto_step"`
	AutoWait    bool   `mapstructure:"auto_wait"`
	MinPlayers  int    `mapstructure:"min_players"`
	MaxPlayers  int    `mapstructure:"max_players"`
	LoopFile    string `mapstructure:"loop_file"`
	Coordinator string `mapstructure:"coordinator"`
}

type SocketConfig struct {
	URL        string         `mapstructure:"url"`
	IO         map[string]any `mapstructure:"io"`
	AckTimeout time.Duration  `mapstructure:"ack_timeout"`
	AckRetries int            `mapstructure:"ack_retries"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_address", ":8080")
	v.SetDefault("server.rpc_address", ":8081")
	v.SetDefault("server.metrics_address", ":9090")
	v.SetDefault("server.max_players", 1000)
	v.SetDefault("database.driver", "none")
	v.SetDefault("database.redis.ttl", time.Hour)
	v.SetDefault("game.name", "gamesync")
	v.SetDefault("game.description", "")
	v.SetDefault("game.observer", false)
	v.SetDefault("game.loop_file", "")
	v.SetDefault("game.auto_step", true)
	v.SetDefault("game.auto_wait", false)
	v.SetDefault("game.min_players", 1)
	v.SetDefault("game.max_players", 1000)
	v.SetDefault("game.coordinator", "SERVER")
	v.SetDefault("socket.url", "")
	v.SetDefault("socket.ack_timeout", 2*time.Second)
	v.SetDefault("socket.ack_retries", 3)
	v.SetDefault("log.level", "info")
}

// LoadConfig reads config.yaml from path. A missing file is not an error;
// defaults and GAMESYNC_* environment variables still apply.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.SetEnvPrefix("GAMESYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) Validate() error {
	if c.Game.MinPlayers < 1 {
		return fmt.Errorf("game.min_players must be >= 1, got %d", c.Game.MinPlayers)
	}
	if c.Game.MaxPlayers < c.Game.MinPlayers {
		return fmt.Errorf("game.max_players (%d) must be >= game.min_players (%d)",
			c.Game.MaxPlayers, c.Game.MinPlayers)
	}
	switch c.Database.Driver {
	case "", "none", "gorm", "pq", "redis":
	default:
		return fmt.Errorf("unknown database.driver %q", c.Database.Driver)
	}
	return nil
}
