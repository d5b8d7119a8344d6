package configs

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "STOREFRONT_"

// Store drivers.
const (
	DriverMySQL     = "mysql"
	DriverPostgres  = "postgres"
	DriverPostgREST = "postgrest"
	DriverMemory    = "memory"
)

var trackingPrefixRe = regexp.MustCompile(`^[A-Z]{2,8}$`)

type Config struct {
	App struct {
		Name     string `koanf:"name"`
		HTTPAddr string `koanf:"http_addr"`
		GRPCAddr string `koanf:"grpc_addr"`
		GRPCCert string `koanf:"grpc_cert_file"`
		GRPCKey  string `koanf:"grpc_key_file"`
		LogLevel string `koanf:"log_level"`
		LogFile  string `koanf:"log_file"`
	} `koanf:"app"`

	HTTP struct {
		ReadTimeout   time.Duration `koanf:"read_timeout"`
		WriteTimeout  time.Duration `koanf:"write_timeout"`
		IdleTimeout   time.Duration `koanf:"idle_timeout"`
		CheckoutRPS   float64       `koanf:"checkout_rps"`
		CheckoutBurst int           `koanf:"checkout_burst"`
	} `koanf:"http"`

	Store struct {
		Driver string `koanf:"driver"`
	} `koanf:"store"`

	MySQL struct {
		DSN             string        `koanf:"dsn"`
		MaxOpenConns    int           `koanf:"max_open_conns"`
		MaxIdleConns    int           `koanf:"max_idle_conns"`
		ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	} `koanf:"mysql"`

	Postgres struct {
		DSN      string `koanf:"dsn"`
		MaxConns int32  `koanf:"max_conns"`
	} `koanf:"postgres"`

	PostgREST struct {
		URL     string        `koanf:"url"`
		APIKey  string        `koanf:"api_key"`
		Timeout time.Duration `koanf:"timeout"`
	} `koanf:"postgrest"`

	// Memory seeds product stock for store.driver=memory.
	Memory struct {
		Stock map[string]int `koanf:"stock"`
	} `koanf:"memory"`

	Redis struct {
		Addr     string `koanf:"addr"`
		Password string `koanf:"password"`
		DB       int    `koanf:"db"`
	} `koanf:"redis"`

	Idempotency struct {
		TTL time.Duration `koanf:"ttl"`
	} `koanf:"idempotency"`

	Cache struct {
		TTL time.Duration `koanf:"ttl"`
	} `koanf:"cache"`

	Rabbit struct {
		URL        string `koanf:"url"`
		Exchange   string `koanf:"exchange"`
		RoutingKey string `koanf:"routing_key"`
		Queue      string `koanf:"queue"`
		Prefetch   int    `koanf:"prefetch"`
	} `koanf:"rabbitmq"`

	Kafka struct {
		Brokers     []string `koanf:"brokers"`
		GroupID     string   `koanf:"group_id"`
		TopicStatus string   `koanf:"topic_status"`
	} `koanf:"kafka"`

	Security struct {
		JWTSecret string `koanf:"jwt_secret"`
		Issuer    string `koanf:"issuer"`
		Audience  string `koanf:"audience"`
	} `koanf:"security"`

	Checkout struct {
		Timeout          time.Duration `koanf:"timeout"`
		RollbackTimeout  time.Duration `koanf:"rollback_timeout"`
		TrackingAttempts int           `koanf:"tracking_attempts"`
		TrackingPrefix   string        `koanf:"tracking_prefix"`
		GuestUserID      int64         `koanf:"guest_user_id"`
	} `koanf:"checkout"`
}

func Load(pathDir, envName string) (Config, error) {
	k := koanf.New(".")
	// 1) base
	if err := k.Load(file.Provider(fmt.Sprintf("%s/base.yaml", pathDir)), yaml.Parser()); err != nil {
		return Config{}, fmt.Errorf("load base: %w", err)
	}

	// 2) env override (dev/staging/prod). Optional: allow missing for local runs.
	_ = k.Load(file.Provider(fmt.Sprintf("%s/%s.yaml", pathDir, envName)), yaml.Parser())

	// 3) environment variables override (prefix STOREFRONT_, nested with __)
	// e.g. STOREFRONT_MYSQL__DSN, STOREFRONT_STORE__DRIVER
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, envPrefix)
		s = strings.ReplaceAll(s, "__", ".")
		return strings.ToLower(s)
	}), nil); err != nil {
		return Config{}, fmt.Errorf("env overlay: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Store.Driver == "" {
		c.Store.Driver = DriverMySQL
	}
	if c.Checkout.TrackingAttempts == 0 {
		c.Checkout.TrackingAttempts = 3
	}
	if c.Checkout.TrackingPrefix == "" {
		c.Checkout.TrackingPrefix = "PED"
	}
	if c.Checkout.RollbackTimeout == 0 {
		c.Checkout.RollbackTimeout = 5 * time.Second
	}
}

func (c Config) Validate() error {
	if c.App.HTTPAddr == "" {
		return fmt.Errorf("app.http_addr required")
	}
	switch c.Store.Driver {
	case DriverMySQL:
		if c.MySQL.DSN == "" {
			return fmt.Errorf("mysql.dsn required for store.driver=mysql")
		}
	case DriverPostgres:
		if c.Postgres.DSN == "" {
			return fmt.Errorf("postgres.dsn required for store.driver=postgres")
		}
	case DriverPostgREST:
		if c.PostgREST.URL == "" || c.PostgREST.APIKey == "" {
			return fmt.Errorf("postgrest.url and postgrest.api_key required for store.driver=postgrest")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}
	if (c.App.GRPCCert == "") != (c.App.GRPCKey == "") {
		return fmt.Errorf("app.grpc_cert_file and app.grpc_key_file must be set together")
	}
	if !trackingPrefixRe.MatchString(c.Checkout.TrackingPrefix) {
		return fmt.Errorf("checkout.tracking_prefix must be 2-8 upper-case letters, got %q", c.Checkout.TrackingPrefix)
	}
	if c.Checkout.TrackingAttempts < 1 {
		return fmt.Errorf("checkout.tracking_attempts must be positive")
	}
	if c.Checkout.GuestUserID < 0 {
		return fmt.Errorf("checkout.guest_user_id must not be negative")
	}
	if c.HTTP.CheckoutRPS < 0 || c.HTTP.CheckoutBurst < 0 {
		return fmt.Errorf("http.checkout_rps and http.checkout_burst must not be negative")
	}
	if c.Security.JWTSecret == "" {
		return fmt.Errorf("security.jwt_secret required")
	}
	return nil
}
