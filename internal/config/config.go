// Package config loads runtime configuration from environment variables (and an optional file) via viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	StoreBackendPostgres = "postgres"
	StoreBackendMemory   = "memory"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	ServiceName     string
	LogLevel        string
	ShutdownTimeout time.Duration

	Server    ServerConfig
	Database  DatabaseConfig
	DTM       DTMConfig
	PubSub    PubSubConfig
	Chat      ClientConfig
	Catalog   CatalogConfig
	Auth      AuthConfig
	Telemetry TelemetryConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DatabaseConfig configures the Postgres connection.
type DatabaseConfig struct {
	Backend  string
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	MaxConns int32
	MinConns int32
}

// DSN returns the postgres URL understood by both pgx and lib/pq.
func (d DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     d.Host + ":" + d.Port,
		Path:     d.Name,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// DTMConfig configures the two-phase announcement of new sales.
type DTMConfig struct {
	Enabled           bool
	Server            string
	PaymentServiceURL string
	// ServiceURL is this service's externally reachable base URL (for dtm back-checks).
	ServiceURL string
}

// PubSubConfig configures the broker.
type PubSubConfig struct {
	ProjectID           string
	SubscriptionPrefix  string
	DeadLetterTopic     string
	MaxDeliveryAttempts int
	MaxOutstanding      int
}

// ClientConfig configures an outbound HTTP collaborator.
type ClientConfig struct {
	URL     string
	Timeout time.Duration
	Retries int
}

// CatalogConfig adds the lookup cache to ClientConfig.
type CatalogConfig struct {
	ClientConfig
	CacheSize int
	CacheTTL  time.Duration
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	JWTSecret string
}

// TelemetryConfig configures OpenTelemetry exporters.
type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// New returns a viper instance bound to the environment with every default registered.
func New() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("service_name", "sales-service")
	v.SetDefault("log_level", "info")
	v.SetDefault("shutdown_timeout", 20*time.Second)

	v.SetDefault("port", "8080")
	v.SetDefault("http_read_timeout", 30*time.Second)
	v.SetDefault("http_write_timeout", 30*time.Second)
	v.SetDefault("http_idle_timeout", 30*time.Second)

	v.SetDefault("store_backend", StoreBackendPostgres)
	v.SetDefault("database_host", "localhost")
	v.SetDefault("database_port", "5432")
	v.SetDefault("database_user", "root")
	v.SetDefault("database_password", "pass")
	v.SetDefault("database_name", "sales_db")
	v.SetDefault("database_max_conns", 10)
	v.SetDefault("database_min_conns", 2)

	v.SetDefault("dtm_enabled", true)
	v.SetDefault("dtm_server", "http://dtm:36789/api/dtmsvr")
	v.SetDefault("payment_service_url", "http://payment-service:8080")
	v.SetDefault("service_url", "http://sales-service:8080")

	v.SetDefault("pubsub_subscription_prefix", "sales-service")
	v.SetDefault("pubsub_dead_letter_topic", "sales.events.dead-letter")
	v.SetDefault("pubsub_max_delivery_attempts", 10)
	v.SetDefault("pubsub_max_outstanding", 8)

	v.SetDefault("chat_service_url", "http://chat-service:8080")
	v.SetDefault("chat_timeout", 5*time.Second)
	v.SetDefault("chat_retries", 3)

	v.SetDefault("catalog_timeout", 3*time.Second)
	v.SetDefault("catalog_retries", 2)
	v.SetDefault("catalog_cache_size", 1024)
	v.SetDefault("catalog_cache_ttl", time.Minute)

	v.SetDefault("otel_enabled", true)
	v.SetDefault("otel_exporter_otlp_endpoint", "localhost:4318")
	return v
}

// Load reads the optional config file, then environment overrides, and validates the result.
func Load(v *viper.Viper, file string) (Config, error) {
	if v == nil {
		v = New()
	}
	if strings.TrimSpace(file) != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", file, err)
		}
	}

	cfg := Config{
		ServiceName:     v.GetString("service_name"),
		LogLevel:        v.GetString("log_level"),
		ShutdownTimeout: v.GetDuration("shutdown_timeout"),
		Server: ServerConfig{
			Port:         v.GetString("port"),
			ReadTimeout:  v.GetDuration("http_read_timeout"),
			WriteTimeout: v.GetDuration("http_write_timeout"),
			IdleTimeout:  v.GetDuration("http_idle_timeout"),
		},
		Database: DatabaseConfig{
			Backend:  strings.ToLower(strings.TrimSpace(v.GetString("store_backend"))),
			Host:     v.GetString("database_host"),
			Port:     v.GetString("database_port"),
			User:     v.GetString("database_user"),
			Password: v.GetString("database_password"),
			Name:     v.GetString("database_name"),
			MaxConns: v.GetInt32("database_max_conns"),
			MinConns: v.GetInt32("database_min_conns"),
		},
		DTM: DTMConfig{
			Enabled:           v.GetBool("dtm_enabled"),
			Server:            v.GetString("dtm_server"),
			PaymentServiceURL: strings.TrimRight(v.GetString("payment_service_url"), "/"),
			ServiceURL:        strings.TrimRight(v.GetString("service_url"), "/"),
		},
		PubSub: PubSubConfig{
			ProjectID:           v.GetString("pubsub_project_id"),
			SubscriptionPrefix:  v.GetString("pubsub_subscription_prefix"),
			DeadLetterTopic:     v.GetString("pubsub_dead_letter_topic"),
			MaxDeliveryAttempts: v.GetInt("pubsub_max_delivery_attempts"),
			MaxOutstanding:      v.GetInt("pubsub_max_outstanding"),
		},
		Chat: ClientConfig{
			URL:     v.GetString("chat_service_url"),
			Timeout: v.GetDuration("chat_timeout"),
			Retries: v.GetInt("chat_retries"),
		},
		Catalog: CatalogConfig{
			ClientConfig: ClientConfig{
				URL:     v.GetString("catalog_service_url"),
				Timeout: v.GetDuration("catalog_timeout"),
				Retries: v.GetInt("catalog_retries"),
			},
			CacheSize: v.GetInt("catalog_cache_size"),
			CacheTTL:  v.GetDuration("catalog_cache_ttl"),
		},
		Auth: AuthConfig{
			JWTSecret: v.GetString("jwt_secret"),
		},
		Telemetry: TelemetryConfig{
			Enabled:      v.GetBool("otel_enabled"),
			OTLPEndpoint: v.GetString("otel_exporter_otlp_endpoint"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every missing or invalid field at once.
func (c Config) Validate() error {
	var missing []string
	require := func(name, value string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}

	require("PORT", c.Server.Port)
	require("JWT_SECRET", c.Auth.JWTSecret)
	require("CATALOG_SERVICE_URL", c.Catalog.URL)
	require("PUBSUB_PROJECT_ID", c.PubSub.ProjectID)

	switch c.Database.Backend {
	case StoreBackendPostgres:
		require("DATABASE_HOST", c.Database.Host)
		require("DATABASE_PORT", c.Database.Port)
		require("DATABASE_USER", c.Database.User)
		require("DATABASE_NAME", c.Database.Name)
	case StoreBackendMemory:
		if c.DTM.Enabled {
			missing = append(missing, "DTM_ENABLED (requires STORE_BACKEND=postgres)")
		}
	default:
		missing = append(missing, "STORE_BACKEND")
	}

	if c.DTM.Enabled {
		require("DTM_SERVER", c.DTM.Server)
		require("PAYMENT_SERVICE_URL", c.DTM.PaymentServiceURL)
		require("SERVICE_URL", c.DTM.ServiceURL)
	}
	if c.PubSub.MaxDeliveryAttempts < 5 || c.PubSub.MaxDeliveryAttempts > 100 {
		missing = append(missing, "PUBSUB_MAX_DELIVERY_ATTEMPTS")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}
