package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
	DB struct {
		Driver   string `yaml:"driver"`
		DSN      string `yaml:"dsn"`
		MaxConns int32  `yaml:"max_conns"`
	} `yaml:"db"`
	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`
	Provider struct {
		Endpoints         []string `yaml:"endpoints"`
		WSEndpoint        string   `yaml:"ws_endpoint"`
		APIKey            string   `yaml:"api_key"`
		CallbackSecret    string   `yaml:"callback_secret"`
		FailoverThreshold int      `yaml:"failover_threshold"`
		TimeoutSeconds    int      `yaml:"timeout_seconds"`
	} `yaml:"provider"`
	Settlement struct {
		PollIntervalSeconds int     `yaml:"poll_interval_seconds"`
		TimeoutSeconds      int     `yaml:"timeout_seconds"`
		MaxProviderRetries  int     `yaml:"max_provider_retries"`
		QueryRatePerSecond  float64 `yaml:"query_rate_per_second"`
		QueryBurst          int     `yaml:"query_burst"`
	} `yaml:"settlement"`
	Loyalty struct {
		PointsDivisor    int64          `yaml:"points_divisor"`
		RewardExpiryDays int            `yaml:"reward_expiry_days"`
		CodePrefix       string         `yaml:"code_prefix"`
		Rewards          []RewardConfig `yaml:"rewards"`
	} `yaml:"loyalty"`
	Cart struct {
		RedisAddr     string `yaml:"redis_addr"`
		RedisPassword string `yaml:"redis_password"`
		RedisDB       int    `yaml:"redis_db"`
		KeyPrefix     string `yaml:"key_prefix"`
	} `yaml:"cart"`
	Catalog struct {
		Endpoint       string `yaml:"endpoint"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"catalog"`
	Events struct {
		Driver       string   `yaml:"driver"`
		KafkaBrokers []string `yaml:"kafka_brokers"`
		KafkaTopic   string   `yaml:"kafka_topic"`
		AMQPURL      string   `yaml:"amqp_url"`
		AMQPExchange string   `yaml:"amqp_exchange"`
		BatchSize    int      `yaml:"batch_size"`
	} `yaml:"events"`
	Worker struct {
		SweepIntervalSeconds int `yaml:"sweep_interval_seconds"`
		StaleAfterSeconds    int `yaml:"stale_after_seconds"`
		SweepBatch           int `yaml:"sweep_batch"`
		RelayIntervalSeconds int `yaml:"relay_interval_seconds"`
	} `yaml:"worker"`
}

type RewardConfig struct {
	Type            string  `yaml:"type"`
	PointsCost      int64   `yaml:"points_cost"`
	DiscountAmount  int64   `yaml:"discount_amount"`
	DiscountPercent float64 `yaml:"discount_percent"`
	MinOrderAmount  int64   `yaml:"min_order_amount"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes a YAML document, applies env overrides and defaults, then validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if cfg.Server.Addr == "" {
		return nil, errors.New("server.addr is required")
	}
	if cfg.DB.Driver == "postgres" && cfg.DB.DSN == "" {
		return nil, errors.New("db.dsn is required")
	}
	if cfg.DB.Driver != "postgres" && cfg.DB.Driver != "memory" {
		return nil, errors.New("db.driver must be postgres or memory")
	}
	// The api and worker processes share orders through postgres, so they
	// must share carts too.
	if cfg.DB.Driver == "postgres" && cfg.Cart.RedisAddr == "" {
		return nil, errors.New("cart.redis_addr is required with the postgres driver")
	}
	if len(cfg.Provider.Endpoints) == 0 {
		return nil, errors.New("provider.endpoints is required")
	}
	for _, r := range cfg.Loyalty.Rewards {
		if r.Type == "" || r.PointsCost <= 0 {
			return nil, errors.New("loyalty.rewards entries need type and positive points_cost")
		}
		if (r.DiscountAmount > 0) == (r.DiscountPercent > 0) {
			return nil, errors.New("loyalty reward " + r.Type + " needs exactly one of discount_amount or discount_percent")
		}
	}
	return &cfg, nil
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Settlement.PollIntervalSeconds) * time.Second
}

func (c *Config) SettlementTimeout() time.Duration {
	return time.Duration(c.Settlement.TimeoutSeconds) * time.Second
}

func (c *Config) RewardExpiry() time.Duration {
	return time.Duration(c.Loyalty.RewardExpiryDays) * 24 * time.Hour
}

func applyDefaults(cfg *Config) {
	if cfg.DB.Driver == "" {
		cfg.DB.Driver = "postgres"
	}
	if cfg.Provider.FailoverThreshold <= 0 {
		cfg.Provider.FailoverThreshold = 3
	}
	if cfg.Provider.TimeoutSeconds <= 0 {
		cfg.Provider.TimeoutSeconds = 10
	}
	if cfg.Settlement.PollIntervalSeconds <= 0 {
		cfg.Settlement.PollIntervalSeconds = 3
	}
	if cfg.Settlement.TimeoutSeconds <= 0 {
		cfg.Settlement.TimeoutSeconds = 300
	}
	if cfg.Settlement.MaxProviderRetries <= 0 {
		cfg.Settlement.MaxProviderRetries = 4
	}
	if cfg.Settlement.QueryRatePerSecond <= 0 {
		cfg.Settlement.QueryRatePerSecond = 20
	}
	if cfg.Settlement.QueryBurst <= 0 {
		cfg.Settlement.QueryBurst = 10
	}
	if cfg.Loyalty.PointsDivisor <= 0 {
		cfg.Loyalty.PointsDivisor = 1000
	}
	if cfg.Loyalty.RewardExpiryDays <= 0 {
		cfg.Loyalty.RewardExpiryDays = 30
	}
	if cfg.Loyalty.CodePrefix == "" {
		cfg.Loyalty.CodePrefix = "LOY"
	}
	if cfg.Cart.KeyPrefix == "" {
		cfg.Cart.KeyPrefix = "cart:"
	}
	if cfg.Catalog.TimeoutSeconds <= 0 {
		cfg.Catalog.TimeoutSeconds = 5
	}
	if cfg.Events.Driver == "" {
		cfg.Events.Driver = "log"
	}
	if cfg.Events.KafkaTopic == "" {
		cfg.Events.KafkaTopic = "order-events"
	}
	if cfg.Events.AMQPExchange == "" {
		cfg.Events.AMQPExchange = "order-events"
	}
	if cfg.Events.BatchSize <= 0 {
		cfg.Events.BatchSize = 100
	}
	if cfg.Worker.SweepIntervalSeconds <= 0 {
		cfg.Worker.SweepIntervalSeconds = 30
	}
	if cfg.Worker.StaleAfterSeconds <= 0 {
		cfg.Worker.StaleAfterSeconds = 60
	}
	if cfg.Worker.SweepBatch <= 0 {
		cfg.Worker.SweepBatch = 50
	}
	if cfg.Worker.RelayIntervalSeconds <= 0 {
		cfg.Worker.RelayIntervalSeconds = 5
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("DB_DRIVER"); v != "" {
		cfg.DB.Driver = v
	}
	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.DB.DSN = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("PROVIDER_ENDPOINTS"); v != "" {
		cfg.Provider.Endpoints = splitCommaList(v)
	}
	if v := os.Getenv("PROVIDER_WS_ENDPOINT"); v != "" {
		cfg.Provider.WSEndpoint = v
	}
	if v := os.Getenv("PROVIDER_API_KEY"); v != "" {
		cfg.Provider.APIKey = v
	}
	if v := os.Getenv("PROVIDER_CALLBACK_SECRET"); v != "" {
		cfg.Provider.CallbackSecret = v
	}
	if v := os.Getenv("SETTLEMENT_POLL_INTERVAL_SECONDS"); v != "" {
		cfg.Settlement.PollIntervalSeconds = atoiOr(cfg.Settlement.PollIntervalSeconds, v)
	}
	if v := os.Getenv("SETTLEMENT_TIMEOUT_SECONDS"); v != "" {
		cfg.Settlement.TimeoutSeconds = atoiOr(cfg.Settlement.TimeoutSeconds, v)
	}
	if v := os.Getenv("SETTLEMENT_MAX_PROVIDER_RETRIES"); v != "" {
		cfg.Settlement.MaxProviderRetries = atoiOr(cfg.Settlement.MaxProviderRetries, v)
	}
	if v := os.Getenv("LOYALTY_POINTS_DIVISOR"); v != "" {
		cfg.Loyalty.PointsDivisor = atoi64Or(cfg.Loyalty.PointsDivisor, v)
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Cart.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Cart.RedisPassword = v
	}
	if v := os.Getenv("CATALOG_ENDPOINT"); v != "" {
		cfg.Catalog.Endpoint = v
	}
	if v := os.Getenv("EVENTS_DRIVER"); v != "" {
		cfg.Events.Driver = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Events.KafkaBrokers = splitCommaList(v)
	}
	if v := os.Getenv("AMQP_URL"); v != "" {
		cfg.Events.AMQPURL = v
	}
	if v := os.Getenv("WORKER_SWEEP_INTERVAL_SECONDS"); v != "" {
		cfg.Worker.SweepIntervalSeconds = atoiOr(cfg.Worker.SweepIntervalSeconds, v)
	}
	if v := os.Getenv("WORKER_STALE_AFTER_SECONDS"); v != "" {
		cfg.Worker.StaleAfterSeconds = atoiOr(cfg.Worker.StaleAfterSeconds, v)
	}
}

func splitCommaList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func atoiOr(fallback int, v string) int {
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func atoi64Or(fallback int64, v string) int64 {
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}
