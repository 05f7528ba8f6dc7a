package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address      string        `mapstructure:"address"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	BaseURL      string        `mapstructure:"base_url"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// DSN returns the database connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	JWTSecret         string        `mapstructure:"jwt_secret"`
	AccessTokenExpiry time.Duration `mapstructure:"access_token_expiry"`
}

// ProvidersConfig holds the payment gateway credentials. A provider is
// registered at startup only when its Enabled flag is set.
type ProvidersConfig struct {
	MoMo    MoMoConfig    `mapstructure:"momo"`
	ZaloPay ZaloPayConfig `mapstructure:"zalopay"`
	VNPay   VNPayConfig   `mapstructure:"vnpay"`
	Stripe  StripeConfig  `mapstructure:"stripe"`
	PayPal  PayPalConfig  `mapstructure:"paypal"`
}

// MoMoConfig holds MoMo gateway credentials.
type MoMoConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	PartnerCode string        `mapstructure:"partner_code"`
	AccessKey   string        `mapstructure:"access_key"`
	SecretKey   string        `mapstructure:"secret_key"`
	Endpoint    string        `mapstructure:"endpoint"`
	ReturnURL   string        `mapstructure:"return_url"`
	IPNURL      string        `mapstructure:"ipn_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// ZaloPayConfig holds ZaloPay gateway credentials.
type ZaloPayConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	AppID       int           `mapstructure:"app_id"`
	Key1        string        `mapstructure:"key1"`
	Key2        string        `mapstructure:"key2"`
	Endpoint    string        `mapstructure:"endpoint"`
	CallbackURL string        `mapstructure:"callback_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// VNPayConfig holds VNPay gateway credentials.
type VNPayConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	TmnCode    string        `mapstructure:"tmn_code"`
	HashSecret string        `mapstructure:"hash_secret"`
	PayURL     string        `mapstructure:"pay_url"`
	APIURL     string        `mapstructure:"api_url"`
	ReturnURL  string        `mapstructure:"return_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// StripeConfig holds Stripe credentials.
type StripeConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	SecretKey     string `mapstructure:"secret_key"`
	WebhookSecret string `mapstructure:"webhook_secret"`
}

// PayPalConfig holds PayPal credentials.
type PayPalConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ClientID    string `mapstructure:"client_id"`
	Secret      string `mapstructure:"secret"`
	IsProd      bool   `mapstructure:"is_prod"`
	WebhookID   string `mapstructure:"webhook_id"`
	WebhookCert string `mapstructure:"webhook_cert"`
	ReturnURL   string `mapstructure:"return_url"`
	CancelURL   string `mapstructure:"cancel_url"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load loads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Set config file name and paths
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/flowpay")

	// Set defaults
	setDefaults(v)

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found, use defaults and env
	}

	// Read from environment variables
	v.SetEnvPrefix("FLOWPAY")
	v.AutomaticEnv()

	// Unmarshal config
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override with environment variables for sensitive values
	if secret := os.Getenv("FLOWPAY_JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	if password := os.Getenv("FLOWPAY_DB_PASSWORD"); password != "" {
		cfg.Database.Password = password
	}
	if password := os.Getenv("FLOWPAY_REDIS_PASSWORD"); password != "" {
		cfg.Redis.Password = password
	}
	if key := os.Getenv("FLOWPAY_STRIPE_SECRET_KEY"); key != "" {
		cfg.Providers.Stripe.SecretKey = key
	}
	if key := os.Getenv("FLOWPAY_STRIPE_WEBHOOK_SECRET"); key != "" {
		cfg.Providers.Stripe.WebhookSecret = key
	}
	if key := os.Getenv("FLOWPAY_MOMO_SECRET_KEY"); key != "" {
		cfg.Providers.MoMo.SecretKey = key
	}
	if key := os.Getenv("FLOWPAY_ZALOPAY_KEY1"); key != "" {
		cfg.Providers.ZaloPay.Key1 = key
	}
	if key := os.Getenv("FLOWPAY_ZALOPAY_KEY2"); key != "" {
		cfg.Providers.ZaloPay.Key2 = key
	}
	if key := os.Getenv("FLOWPAY_VNPAY_HASH_SECRET"); key != "" {
		cfg.Providers.VNPay.HashSecret = key
	}
	if key := os.Getenv("FLOWPAY_PAYPAL_SECRET"); key != "" {
		cfg.Providers.PayPal.Secret = key
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.base_url", "http://localhost:8080")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.database", "flowpay")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", 30*time.Minute)

	// Redis defaults
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.db", 0)

	// Auth defaults
	v.SetDefault("auth.access_token_expiry", 15*time.Minute)

	// Provider defaults
	v.SetDefault("providers.momo.endpoint", "https://test-payment.momo.vn")
	v.SetDefault("providers.momo.timeout", 10*time.Second)
	v.SetDefault("providers.zalopay.endpoint", "https://sb-openapi.zalopay.vn")
	v.SetDefault("providers.zalopay.timeout", 10*time.Second)
	v.SetDefault("providers.vnpay.pay_url", "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html")
	v.SetDefault("providers.vnpay.api_url", "https://sandbox.vnpayment.vn/merchant_webapi/api/transaction")
	v.SetDefault("providers.vnpay.timeout", 10*time.Second)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}
