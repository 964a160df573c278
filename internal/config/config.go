package config

import (
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds application configuration (env + Viper).
type Config struct {
	Env                 string
	Port                string
	DatabaseURL         string // "sqlite:<path>" for local runs, postgres DSN otherwise
	RedisURL            string
	AdminKeyHash        string   // bcrypt hash of the X-Admin-Key value
	HealthAdminKey      string   // ?key= for /reset
	CORSAllowedOrigins  []string // exact origins, from comma-separated CORS_ALLOWED_ORIGINS
	FrontendURLEndsWith string

	LedgerDriver    string // http | stripe | log
	LedgerURL       string
	LedgerAPIKey    string
	StripeSecretKey string

	OracleURL    string
	OracleAPIKey string
	OracleMaxAge time.Duration

	NatsURL           string
	NatsSubjectPrefix string

	TransferWorkers     int
	TransferTimeout     time.Duration
	UnlockCheckInterval time.Duration

	LogLevel  string
	LogPretty bool

	LiquidityBuffer  decimal.Decimal
	CommunityReserve decimal.Decimal
	StabilityMargin  decimal.Decimal
	ReservePercent   decimal.Decimal
}

// Load loads config from env and optional .env file.
func Load() (*Config, error) {
	viper.SetConfigFile(".env")
	_ = viper.ReadInConfig()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("PORT", "8080")
	viper.SetDefault("LEDGER_DRIVER", "http")
	viper.SetDefault("ORACLE_MAX_AGE", "24h")
	viper.SetDefault("NATS_SUBJECT_PREFIX", "fractions")
	viper.SetDefault("TRANSFER_WORKERS", 8)
	viper.SetDefault("TRANSFER_TIMEOUT", "30s")
	viper.SetDefault("UNLOCK_CHECK_INTERVAL", "1m")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("RESERVE_PERCENT", "10")

	env := viper.GetString("APP_ENV")
	if env == "" {
		env = "development"
	}

	dbURL := viper.GetString("DATABASE_URL_DEV")
	if env == "production" {
		dbURL = viper.GetString("DATABASE_URL_PROD")
	} else if env == "test" {
		dbURL = viper.GetString("DATABASE_URL_TEST")
	}
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL_DEV")
	}

	factors := map[string]decimal.Decimal{}
	for _, key := range []string{"LIQUIDITY_BUFFER", "COMMUNITY_RESERVE", "STABILITY_MARGIN", "RESERVE_PERCENT"} {
		d, err := decimalOrZero(viper.GetString(key))
		if err != nil {
			return nil, err
		}
		factors[key] = d
	}

	return &Config{
		Env:                 env,
		Port:                viper.GetString("PORT"),
		DatabaseURL:         dbURL,
		RedisURL:            viper.GetString("REDIS_URL"),
		AdminKeyHash:        viper.GetString("ADMIN_KEY_HASH"),
		HealthAdminKey:      viper.GetString("HEALTH_ADMIN_KEY"),
		CORSAllowedOrigins:  splitList(viper.GetString("CORS_ALLOWED_ORIGINS")),
		FrontendURLEndsWith: viper.GetString("FRONTEND_URL_ENDS_WITH"),
		LedgerDriver:        strings.ToLower(viper.GetString("LEDGER_DRIVER")),
		LedgerURL:           viper.GetString("LEDGER_URL"),
		LedgerAPIKey:        viper.GetString("LEDGER_API_KEY"),
		StripeSecretKey:     viper.GetString("STRIPE_SECRET_KEY"),
		OracleURL:           viper.GetString("ORACLE_URL"),
		OracleAPIKey:        viper.GetString("ORACLE_API_KEY"),
		OracleMaxAge:        viper.GetDuration("ORACLE_MAX_AGE"),
		NatsURL:             viper.GetString("NATS_URL"),
		NatsSubjectPrefix:   viper.GetString("NATS_SUBJECT_PREFIX"),
		TransferWorkers:     viper.GetInt("TRANSFER_WORKERS"),
		TransferTimeout:     viper.GetDuration("TRANSFER_TIMEOUT"),
		UnlockCheckInterval: viper.GetDuration("UNLOCK_CHECK_INTERVAL"),
		LogLevel:            viper.GetString("LOG_LEVEL"),
		LogPretty:           strings.EqualFold(viper.GetString("LOG_PRETTY"), "true"),
		LiquidityBuffer:     factors["LIQUIDITY_BUFFER"],
		CommunityReserve:    factors["COMMUNITY_RESERVE"],
		StabilityMargin:     factors["STABILITY_MARGIN"],
		ReservePercent:      factors["RESERVE_PERCENT"],
	}, nil
}

func decimalOrZero(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
