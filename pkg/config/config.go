package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "WBAUTO"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "WBAUTO_DB_DSN"
	EnvDBHost = "WBAUTO_DB_HOST"
	EnvDBUser = "WBAUTO_DB_USER"
	EnvDBName = "WBAUTO_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	Dispatcher   DispatcherConfig
	Executor     ExecutorConfig
	Builder      BuilderConfig
	PubSub       PubSubConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"WBAUTO_APP_ENV" required:"true"`
	OpsPort      string `envconfig:"WBAUTO_OPS_PORT" default:"9090"`
	LogLevel     string `envconfig:"WBAUTO_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"WBAUTO_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"WBAUTO_SERVICE_KIND" default:"dispatcher"`
}

type DBConfig struct {
	DSN    string `envconfig:"WBAUTO_DB_DSN"`
	Driver string `envconfig:"WBAUTO_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"WBAUTO_DB_HOST"`
	LegacyPort     int    `envconfig:"WBAUTO_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"WBAUTO_DB_USER"`
	LegacyPassword string `envconfig:"WBAUTO_DB_PASSWORD"`
	LegacyName     string `envconfig:"WBAUTO_DB_NAME"`
	LegacySSLMode  string `envconfig:"WBAUTO_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"WBAUTO_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"WBAUTO_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"WBAUTO_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"WBAUTO_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"WBAUTO_REDIS_URL"`
	Address      string        `envconfig:"WBAUTO_REDIS_ADDR"`
	Password     string        `envconfig:"WBAUTO_REDIS_PASSWORD"`
	DB           int           `envconfig:"WBAUTO_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"WBAUTO_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"WBAUTO_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"WBAUTO_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"WBAUTO_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"WBAUTO_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// DispatcherConfig tunes the periodic due-schedule sweep.
type DispatcherConfig struct {
	SweepInterval   time.Duration `envconfig:"WBAUTO_DISPATCH_SWEEP_INTERVAL" default:"30s"`
	CycleLockTTL    time.Duration `envconfig:"WBAUTO_DISPATCH_CYCLE_LOCK_TTL" default:"5m"`
	DefaultStuckTTL time.Duration `envconfig:"WBAUTO_DISPATCH_DEFAULT_STUCK_TTL" default:"15m"`

	// StuckTTLOverrides carries job-specific heartbeat TTLs as
	// comma-separated "job-code:duration" pairs, e.g.
	// "build-finance-events:45m".
	StuckTTLOverrides map[string]string `envconfig:"WBAUTO_DISPATCH_STUCK_TTL_OVERRIDES"`
}

// StuckTTL returns the heartbeat TTL for the given job code.
func (d DispatcherConfig) StuckTTL(jobCode string) time.Duration {
	if raw, ok := d.StuckTTLOverrides[jobCode]; ok {
		if ttl, err := time.ParseDuration(raw); err == nil && ttl > 0 {
			return ttl
		}
	}
	return d.DefaultStuckTTL
}

type ExecutorConfig struct {
	HeartbeatInterval time.Duration `envconfig:"WBAUTO_EXEC_HEARTBEAT_INTERVAL" default:"15s"`
	SoftTimeLimit     time.Duration `envconfig:"WBAUTO_EXEC_SOFT_TIME_LIMIT" default:"30m"`
	Concurrency       int           `envconfig:"WBAUTO_EXEC_CONCURRENCY" default:"4"`
}

type BuilderConfig struct {
	ReconcileTolerance string `envconfig:"WBAUTO_BUILDER_RECONCILE_TOLERANCE" default:"0.01"`
	UnmappedSampleCap  int    `envconfig:"WBAUTO_BUILDER_UNMAPPED_SAMPLE_CAP" default:"25"`
}

type PubSubConfig struct {
	ProjectID       string `envconfig:"WBAUTO_GCP_PROJECT_ID"`
	RunTopic        string `envconfig:"WBAUTO_PUBSUB_RUN_TOPIC"`
	RunSubscription string `envconfig:"WBAUTO_PUBSUB_RUN_SUBSCRIPTION"`
}

// Enabled reports whether the pubsub transport is configured; when false the
// binaries fall back to the in-process queue.
func (p PubSubConfig) Enabled() bool {
	return strings.TrimSpace(p.ProjectID) != "" && strings.TrimSpace(p.RunTopic) != ""
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"WBAUTO_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"WBAUTO_AUTO_MIGRATE" default:"false"`
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
