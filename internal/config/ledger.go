package config

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// LedgerConfig holds the business settings of the ledger core.
type LedgerConfig struct {
	ConfirmThreshold decimal.Decimal
	ReauthThreshold  decimal.Decimal
	ImportTimeout    time.Duration
	ImportThrottle   time.Duration
	MaxImportRows    int
	MaxUploadBytes   int64
	GrantTTL         time.Duration
	ImportStatusTTL  time.Duration
	Notifications    bool
}

// BindEnv maps environment variables onto the viper keys used by the ledger.
func BindEnv() {
	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("jwt.expiry_hours", "JWT_EXPIRY_HOURS")
	viper.BindEnv("argon2.time", "ARGON2_TIME")
	viper.BindEnv("argon2.memory", "ARGON2_MEMORY")
	viper.BindEnv("argon2.threads", "ARGON2_THREADS")
	viper.BindEnv("argon2.key_length", "ARGON2_KEY_LENGTH")

	viper.BindEnv("ledger.confirm_threshold", "LEDGER_CONFIRM_THRESHOLD")
	viper.BindEnv("ledger.reauth_threshold", "LEDGER_REAUTH_THRESHOLD")
	viper.BindEnv("ledger.import_timeout", "LEDGER_IMPORT_TIMEOUT")
	viper.BindEnv("ledger.import_throttle", "LEDGER_IMPORT_THROTTLE")
	viper.BindEnv("ledger.max_import_rows", "LEDGER_MAX_IMPORT_ROWS")
	viper.BindEnv("ledger.max_upload_bytes", "LEDGER_MAX_UPLOAD_BYTES")
	viper.BindEnv("ledger.grant_ttl", "LEDGER_GRANT_TTL")
	viper.BindEnv("ledger.notifications", "LEDGER_NOTIFICATIONS")
	viper.BindEnv("log.level", "LOG_LEVEL")
}

func LoadLedgerConfig() *LedgerConfig {
	viper.SetDefault("ledger.confirm_threshold", "1000")
	viper.SetDefault("ledger.reauth_threshold", "2000")
	viper.SetDefault("ledger.import_timeout", 60*time.Second)
	viper.SetDefault("ledger.import_throttle", 100*time.Millisecond)
	viper.SetDefault("ledger.max_import_rows", 5000)
	viper.SetDefault("ledger.max_upload_bytes", 5<<20)
	viper.SetDefault("ledger.grant_ttl", 5*time.Minute)
	viper.SetDefault("ledger.import_status_ttl", 24*time.Hour)
	viper.SetDefault("ledger.notifications", true)

	return &LedgerConfig{
		ConfirmThreshold: getDecimal("ledger.confirm_threshold", decimal.NewFromInt(1000)),
		ReauthThreshold:  getDecimal("ledger.reauth_threshold", decimal.NewFromInt(2000)),
		ImportTimeout:    viper.GetDuration("ledger.import_timeout"),
		ImportThrottle:   viper.GetDuration("ledger.import_throttle"),
		MaxImportRows:    viper.GetInt("ledger.max_import_rows"),
		MaxUploadBytes:   viper.GetInt64("ledger.max_upload_bytes"),
		GrantTTL:         viper.GetDuration("ledger.grant_ttl"),
		ImportStatusTTL:  viper.GetDuration("ledger.import_status_ttl"),
		Notifications:    viper.GetBool("ledger.notifications"),
	}
}

// Argon2Params are the hashing parameters for stored credentials.
type Argon2Params struct {
	Time      uint32
	Memory    uint32
	Threads   uint8
	KeyLength uint32
}

func LoadArgon2Params() Argon2Params {
	viper.SetDefault("argon2.time", 1)
	viper.SetDefault("argon2.memory", 64*1024)
	viper.SetDefault("argon2.threads", 4)
	viper.SetDefault("argon2.key_length", 32)

	return Argon2Params{
		Time:      uint32(viper.GetInt("argon2.time")),
		Memory:    uint32(viper.GetInt("argon2.memory")),
		Threads:   uint8(viper.GetInt("argon2.threads")),
		KeyLength: uint32(viper.GetInt("argon2.key_length")),
	}
}

func getDecimal(key string, defaultVal decimal.Decimal) decimal.Decimal {
	if d, err := decimal.NewFromString(viper.GetString(key)); err == nil {
		return d
	}
	return defaultVal
}
