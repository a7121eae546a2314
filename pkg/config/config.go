package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"google.golang.org/api/option"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	BigQuery     BigQueryConfig
	Outbox       OutboxConfig
	Catalog      CatalogConfig
	Cart         CartSettings
	CartRuntime  CartRuntimeConfig
	Cron         CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Cart.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env                string   `envconfig:"PACKFINDERZ_APP_ENV" required:"true"`
	Port               string   `envconfig:"PACKFINDERZ_APP_PORT" default:"8080"`
	LogLevel           string   `envconfig:"PACKFINDERZ_LOG_LEVEL" default:"info"`
	LogWarnStack       bool     `envconfig:"PACKFINDERZ_LOG_WARN_STACK" default:"false"`
	LogFormat          string   `envconfig:"PACKFINDERZ_LOG_FORMAT" default:"json"`
	CORSAllowedOrigins []string `envconfig:"PACKFINDERZ_CORS_ALLOWED_ORIGINS"`

	// MetricsAddr is the scrape listener for processes without an API router.
	MetricsAddr string `envconfig:"PACKFINDERZ_METRICS_ADDR"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"PACKFINDERZ_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"PACKFINDERZ_DB_DSN"`
	Driver string `envconfig:"PACKFINDERZ_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"PACKFINDERZ_DB_HOST"`
	LegacyPort     int    `envconfig:"PACKFINDERZ_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"PACKFINDERZ_DB_USER"`
	LegacyPassword string `envconfig:"PACKFINDERZ_DB_PASSWORD"`
	LegacyName     string `envconfig:"PACKFINDERZ_DB_NAME"`
	LegacySSLMode  string `envconfig:"PACKFINDERZ_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"PACKFINDERZ_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"PACKFINDERZ_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"PACKFINDERZ_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"PACKFINDERZ_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	SlowQueryThreshold time.Duration `envconfig:"PACKFINDERZ_DB_SLOW_QUERY_THRESHOLD" default:"200ms"`
}

// UsesSQLite reports whether the datasource is a local sqlite file rather than Postgres.
func (db DBConfig) UsesSQLite() bool {
	return strings.EqualFold(db.Driver, "sqlite")
}

type RedisConfig struct {
	URL          string        `envconfig:"PACKFINDERZ_REDIS_URL" required:"true"`
	Address      string        `envconfig:"PACKFINDERZ_REDIS_ADDR"`
	Password     string        `envconfig:"PACKFINDERZ_REDIS_PASSWORD"`
	DB           int           `envconfig:"PACKFINDERZ_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"PACKFINDERZ_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"PACKFINDERZ_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"PACKFINDERZ_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"PACKFINDERZ_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"PACKFINDERZ_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig verifies access tokens minted by the identity service.
type JWTConfig struct {
	Secret            string        `envconfig:"PACKFINDERZ_JWT_SECRET" required:"true"`
	Issuer            string        `envconfig:"PACKFINDERZ_JWT_ISSUER" required:"true"`
	ExpirationMinutes int           `envconfig:"PACKFINDERZ_JWT_EXPIRATION_MINUTES" default:"60"`
	Leeway            time.Duration `envconfig:"PACKFINDERZ_JWT_LEEWAY" default:"30s"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"PACKFINDERZ_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL time.Duration `envconfig:"PACKFINDERZ_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"PACKFINDERZ_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"PACKFINDERZ_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"PACKFINDERZ_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	CartTopic                      string `envconfig:"PACKFINDERZ_PUBSUB_CART_TOPIC" required:"true"`
	InventoryTopic                 string `envconfig:"PACKFINDERZ_PUBSUB_INVENTORY_TOPIC" required:"true"`
	NotificationTopic              string `envconfig:"PACKFINDERZ_PUBSUB_NOTIFICATION_TOPIC" default:"pf-notification-events"`
	ReservationResultsSubscription string `envconfig:"PACKFINDERZ_PUBSUB_RESERVATION_RESULTS_SUBSCRIPTION"`
	AnalyticsSubscription          string `envconfig:"PACKFINDERZ_PUBSUB_CART_ANALYTICS_SUBSCRIPTION"`
}

type BigQueryConfig struct {
	Dataset         string `envconfig:"PACKFINDERZ_BIGQUERY_DATASET" default:"dualcart"`
	CartEventsTable string `envconfig:"PACKFINDERZ_BIGQUERY_CART_EVENTS_TABLE" default:"cart_events"`

	// CreateTables provisions missing tables on startup; off in prod where the
	// schema is owned by terraform.
	CreateTables  bool          `envconfig:"PACKFINDERZ_BIGQUERY_CREATE_TABLES" default:"false"`
	FlushInterval time.Duration `envconfig:"PACKFINDERZ_BIGQUERY_FLUSH_INTERVAL" default:"2s"`
	BatchSize     int           `envconfig:"PACKFINDERZ_BIGQUERY_BATCH_SIZE" default:"100"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"PACKFINDERZ_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"PACKFINDERZ_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"PACKFINDERZ_OUTBOX_MAX_ATTEMPTS" default:"10"`

	// Concurrency bounds how many ordering keys publish at once.
	Concurrency int `envconfig:"PACKFINDERZ_OUTBOX_PUBLISH_CONCURRENCY" default:"8"`

	Retention    time.Duration `envconfig:"PACKFINDERZ_OUTBOX_RETENTION" default:"720h"`
	DLQRetention time.Duration `envconfig:"PACKFINDERZ_OUTBOX_DLQ_RETENTION" default:"2160h"`
}

// CatalogConfig points at the read-only catalog and inventory HTTP services.
type CatalogConfig struct {
	CatalogBaseURL   string        `envconfig:"PACKFINDERZ_CATALOG_BASE_URL" required:"true"`
	InventoryBaseURL string        `envconfig:"PACKFINDERZ_INVENTORY_BASE_URL" required:"true"`
	Timeout          time.Duration `envconfig:"PACKFINDERZ_CATALOG_TIMEOUT" default:"2s"`
	MaxIdleConns     int           `envconfig:"PACKFINDERZ_CATALOG_MAX_IDLE_CONNS" default:"32"`
}

// CartRuntimeConfig holds process-level knobs that are not hot reloadable.
type CartRuntimeConfig struct {
	LockLease              time.Duration `envconfig:"PACKFINDERZ_CART_LOCK_LEASE" default:"10s"`
	LockAcquireTimeout     time.Duration `envconfig:"PACKFINDERZ_CART_LOCK_ACQUIRE_TIMEOUT" default:"3s"`
	ExpiredRetention       time.Duration `envconfig:"PACKFINDERZ_CART_EXPIRED_RETENTION" default:"24h"`
	SettingsFile           string        `envconfig:"PACKFINDERZ_CART_SETTINGS_FILE"`
	SettingsReloadInterval time.Duration `envconfig:"PACKFINDERZ_CART_SETTINGS_RELOAD_INTERVAL" default:"30s"`
	RateLimitPerMinute     int           `envconfig:"PACKFINDERZ_CART_RATE_LIMIT_PER_MINUTE" default:"120"`
	ReconcileBatchSize     int           `envconfig:"PACKFINDERZ_CART_RECONCILE_BATCH_SIZE" default:"200"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"PACKFINDERZ_CRON_INTERVAL" default:"2m"`
	LockKey  string        `envconfig:"PACKFINDERZ_CRON_LOCK_KEY" default:"pf:cron:cart-reconciliation"`
	LockTTL  time.Duration `envconfig:"PACKFINDERZ_CRON_LOCK_TTL" default:"5m"`

	// JobTimeout defaults below LockTTL so a stuck sweep gives the lease back.
	JobTimeout time.Duration `envconfig:"PACKFINDERZ_CRON_JOB_TIMEOUT" default:"4m"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}

// ClientOptions picks explicit credentials when configured; otherwise the GCP
// clients fall back to application default credentials.
func (g GCPConfig) ClientOptions() []option.ClientOption {
	var opts []option.ClientOption
	switch {
	case strings.TrimSpace(g.CredentialsJSON) != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(g.CredentialsJSON)))
	case strings.TrimSpace(g.ApplicationCredentials) != "":
		opts = append(opts, option.WithCredentialsFile(g.ApplicationCredentials))
	}
	return opts
}
