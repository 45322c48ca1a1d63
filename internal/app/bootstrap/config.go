package bootstrap

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/alecsomers1980/aloe-signs-website/internal/notify"
)

const (
	StoreJSON     = "json"
	StorePostgres = "postgres"
	StoreBadger   = "badger"
)

// Config is the resolved runtime configuration for the orders service.
// Environment variable names follow the storefront's .env file where one exists.
type Config struct {
	ServiceName     string        `envconfig:"SERVICE_NAME"`
	HTTPPort        int           `envconfig:"HTTP_PORT"`
	GRPCPort        int           `envconfig:"GRPC_PORT"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT"`

	LogLevel  string `envconfig:"LOG_LEVEL"`
	LogFormat string `envconfig:"LOG_FORMAT"`

	StoreDriver string `envconfig:"STORE_DRIVER"`
	OrdersFile  string `envconfig:"ORDERS_FILE"`
	DatabaseURL string `envconfig:"DB_URL"`
	MaxDBConns  int32  `envconfig:"DB_MAX_CONNS"`
	BadgerDir   string `envconfig:"BADGER_DIR"`

	RedisURL     string        `envconfig:"REDIS_URL"`
	DedupTTL     time.Duration `envconfig:"ITN_DEDUP_TTL"`
	KafkaBrokers []string      `envconfig:"KAFKA_BROKERS"`

	SMTPHost     string        `envconfig:"SMTP_HOST"`
	SMTPPort     int           `envconfig:"SMTP_PORT"`
	SMTPUser     string        `envconfig:"SMTP_USER"`
	SMTPPassword string        `envconfig:"SMTP_PASSWORD"`
	SMTPTimeout  time.Duration `envconfig:"SMTP_TIMEOUT"`
	EmailFrom    string        `envconfig:"EMAIL_FROM"`
	AdminEmail   string        `envconfig:"ADMIN_EMAIL"`

	SiteURL      string `envconfig:"NEXT_PUBLIC_SITE_URL"`
	ContactEmail string `envconfig:"CONTACT_EMAIL"`
	ContactPhone string `envconfig:"CONTACT_PHONE"`
	Timezone     string `envconfig:"TIMEZONE"`

	PayFastMerchantID  string `envconfig:"PAYFAST_MERCHANT_ID"`
	PayFastMerchantKey string `envconfig:"PAYFAST_MERCHANT_KEY"`
	PayFastPassphrase  string `envconfig:"PAYFAST_PASSPHRASE"`
	PayFastSandbox     bool   `envconfig:"PAYFAST_SANDBOX"`
	PayFastValidate    bool   `envconfig:"PAYFAST_VALIDATE"`
	PayFastCheckSource bool   `envconfig:"PAYFAST_CHECK_SOURCE"`
	PayFastNotifyURL   string `envconfig:"PAYFAST_NOTIFY_URL"`
	PayFastReturnURL   string `envconfig:"PAYFAST_RETURN_URL"`
	PayFastCancelURL   string `envconfig:"PAYFAST_CANCEL_URL"`

	AdminUsername     string        `envconfig:"ADMIN_USERNAME"`
	AdminPasswordHash string        `envconfig:"ADMIN_PASSWORD_HASH"`
	AdminTokenTTL     time.Duration `envconfig:"ADMIN_TOKEN_TTL"`
	JWTSecret         string        `envconfig:"JWT_SECRET"`
	BcryptCost        int           `envconfig:"BCRYPT_COST"`

	AllowedOrigins    []string      `envconfig:"CORS_ALLOWED_ORIGINS"`
	RateLimitRequests int           `envconfig:"RATE_LIMIT_REQUESTS"`
	RateLimitWindow   time.Duration `envconfig:"RATE_LIMIT_WINDOW"`
	// TrustedProxies are the addresses or CIDRs allowed to set X-Forwarded-For.
	TrustedProxies []string `envconfig:"TRUSTED_PROXIES"`

	JobQueueSize   int `envconfig:"JOB_QUEUE_SIZE"`
	JobWorkers     int `envconfig:"JOB_WORKERS"`
	JobMaxAttempts int `envconfig:"JOB_MAX_ATTEMPTS"`
}

// configFile mirrors the YAML schema used by configs/default.yaml.
type configFile struct {
	Service struct {
		Name            string        `yaml:"name"`
		HTTPPort        int           `yaml:"http_port"`
		GRPCPort        int           `yaml:"grpc_port"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"service"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Store struct {
		Driver      string `yaml:"driver"`
		OrdersFile  string `yaml:"orders_file"`
		PostgresURL string `yaml:"postgres_url"`
		MaxDBConns  int32  `yaml:"max_db_conns"`
		BadgerDir   string `yaml:"badger_dir"`
	} `yaml:"store"`
	Dependencies struct {
		RedisURL     string   `yaml:"redis_url"`
		KafkaBrokers []string `yaml:"kafka_brokers"`
	} `yaml:"dependencies"`
	Mail struct {
		SMTPHost   string        `yaml:"smtp_host"`
		SMTPPort   int           `yaml:"smtp_port"`
		SMTPUser   string        `yaml:"smtp_user"`
		Timeout    time.Duration `yaml:"timeout"`
		From       string        `yaml:"from"`
		AdminEmail string        `yaml:"admin_email"`
	} `yaml:"mail"`
	Site struct {
		URL          string `yaml:"url"`
		ContactEmail string `yaml:"contact_email"`
		ContactPhone string `yaml:"contact_phone"`
		Timezone     string `yaml:"timezone"`
	} `yaml:"site"`
	PayFast struct {
		MerchantID         string `yaml:"merchant_id"`
		Sandbox            *bool  `yaml:"sandbox"`
		ValidateWithServer *bool  `yaml:"validate_with_server"`
		CheckSource        *bool  `yaml:"check_source"`
		NotifyURL          string `yaml:"notify_url"`
		ReturnURL          string `yaml:"return_url"`
		CancelURL          string `yaml:"cancel_url"`
	} `yaml:"payfast"`
	Admin struct {
		Username     string        `yaml:"username"`
		PasswordHash string        `yaml:"password_hash"`
		TokenTTL     time.Duration `yaml:"token_ttl"`
		BcryptCost   int           `yaml:"bcrypt_cost"`
	} `yaml:"admin"`
	HTTP struct {
		AllowedOrigins []string `yaml:"allowed_origins"`
		TrustedProxies []string `yaml:"trusted_proxies"`
		RateLimit      struct {
			Requests int           `yaml:"requests"`
			Window   time.Duration `yaml:"window"`
		} `yaml:"rate_limit"`
	} `yaml:"http"`
	Notifications struct {
		DedupTTL time.Duration `yaml:"dedup_ttl"`
	} `yaml:"notifications"`
	Jobs struct {
		QueueSize   int `yaml:"queue_size"`
		Workers     int `yaml:"workers"`
		MaxAttempts int `yaml:"max_attempts"`
	} `yaml:"jobs"`
}

func defaultConfig() Config {
	return Config{
		ServiceName:       "aloe-signs-orders",
		HTTPPort:          8080,
		GRPCPort:          9090,
		ShutdownTimeout:   10 * time.Second,
		LogLevel:          "info",
		LogFormat:         "json",
		StoreDriver:       StoreJSON,
		OrdersFile:        "data/orders.json",
		MaxDBConns:        10,
		BadgerDir:         "data/badger",
		DedupTTL:          72 * time.Hour,
		SMTPHost:          "smtp.gmail.com",
		SMTPPort:          587,
		SMTPTimeout:       30 * time.Second,
		ContactEmail:      "team@aloesigns.co.za",
		ContactPhone:      "011 693 2600",
		Timezone:          "Africa/Johannesburg",
		PayFastSandbox:    true,
		AdminUsername:     "admin",
		AdminTokenTTL:     12 * time.Hour,
		BcryptCost:        12,
		RateLimitRequests: 30,
		RateLimitWindow:   time.Minute,
		JobQueueSize:      256,
		JobWorkers:        2,
		JobMaxAttempts:    5,
	}
}

// LoadConfig resolves configuration in priority order: defaults -> file -> env.
// A missing file is not an error; a malformed one is.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			var f configFile
			if err := yaml.Unmarshal(raw, &f); err != nil {
				return Config{}, fmt.Errorf("parse config file: %w", err)
			}
			f.applyTo(&cfg)
		case !errors.Is(err, os.ErrNotExist):
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	// Unset variables leave the file values in place.
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	if cfg.EmailFrom == "" {
		cfg.EmailFrom = cfg.SMTPUser
	}
	if cfg.AdminEmail == "" {
		cfg.AdminEmail = cfg.SMTPUser
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (f configFile) applyTo(cfg *Config) {
	setString(&cfg.ServiceName, f.Service.Name)
	setInt(&cfg.HTTPPort, f.Service.HTTPPort)
	setInt(&cfg.GRPCPort, f.Service.GRPCPort)
	setDuration(&cfg.ShutdownTimeout, f.Service.ShutdownTimeout)

	setString(&cfg.LogLevel, f.Log.Level)
	setString(&cfg.LogFormat, f.Log.Format)

	setString(&cfg.StoreDriver, f.Store.Driver)
	setString(&cfg.OrdersFile, f.Store.OrdersFile)
	setString(&cfg.DatabaseURL, f.Store.PostgresURL)
	if f.Store.MaxDBConns > 0 {
		cfg.MaxDBConns = f.Store.MaxDBConns
	}
	setString(&cfg.BadgerDir, f.Store.BadgerDir)

	setString(&cfg.RedisURL, f.Dependencies.RedisURL)
	if len(f.Dependencies.KafkaBrokers) > 0 {
		cfg.KafkaBrokers = f.Dependencies.KafkaBrokers
	}

	setString(&cfg.SMTPHost, f.Mail.SMTPHost)
	setInt(&cfg.SMTPPort, f.Mail.SMTPPort)
	setString(&cfg.SMTPUser, f.Mail.SMTPUser)
	setDuration(&cfg.SMTPTimeout, f.Mail.Timeout)
	setString(&cfg.EmailFrom, f.Mail.From)
	setString(&cfg.AdminEmail, f.Mail.AdminEmail)

	setString(&cfg.SiteURL, f.Site.URL)
	setString(&cfg.ContactEmail, f.Site.ContactEmail)
	setString(&cfg.ContactPhone, f.Site.ContactPhone)
	setString(&cfg.Timezone, f.Site.Timezone)

	setString(&cfg.PayFastMerchantID, f.PayFast.MerchantID)
	setBool(&cfg.PayFastSandbox, f.PayFast.Sandbox)
	setBool(&cfg.PayFastValidate, f.PayFast.ValidateWithServer)
	setBool(&cfg.PayFastCheckSource, f.PayFast.CheckSource)
	setString(&cfg.PayFastNotifyURL, f.PayFast.NotifyURL)
	setString(&cfg.PayFastReturnURL, f.PayFast.ReturnURL)
	setString(&cfg.PayFastCancelURL, f.PayFast.CancelURL)

	setString(&cfg.AdminUsername, f.Admin.Username)
	setString(&cfg.AdminPasswordHash, f.Admin.PasswordHash)
	setDuration(&cfg.AdminTokenTTL, f.Admin.TokenTTL)
	setInt(&cfg.BcryptCost, f.Admin.BcryptCost)

	if len(f.HTTP.AllowedOrigins) > 0 {
		cfg.AllowedOrigins = f.HTTP.AllowedOrigins
	}
	if len(f.HTTP.TrustedProxies) > 0 {
		cfg.TrustedProxies = f.HTTP.TrustedProxies
	}
	setInt(&cfg.RateLimitRequests, f.HTTP.RateLimit.Requests)
	setDuration(&cfg.RateLimitWindow, f.HTTP.RateLimit.Window)

	setDuration(&cfg.DedupTTL, f.Notifications.DedupTTL)
	setInt(&cfg.JobQueueSize, f.Jobs.QueueSize)
	setInt(&cfg.JobWorkers, f.Jobs.Workers)
	setInt(&cfg.JobMaxAttempts, f.Jobs.MaxAttempts)
}

// Validate rejects configurations the runtime cannot start with.
func (c Config) Validate() error {
	var errs []error
	switch c.StoreDriver {
	case StoreJSON:
		if strings.TrimSpace(c.OrdersFile) == "" {
			errs = append(errs, errors.New("json store requires ORDERS_FILE"))
		}
	case StorePostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			errs = append(errs, errors.New("postgres store requires DB_URL"))
		}
	case StoreBadger:
		if strings.TrimSpace(c.BadgerDir) == "" {
			errs = append(errs, errors.New("badger store requires BADGER_DIR"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store driver %q", c.StoreDriver))
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d", c.HTTPPort))
	}
	if c.GRPCPort <= 0 || c.GRPCPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid GRPC_PORT %d", c.GRPCPort))
	}
	if c.JWTSecret != "" && len(c.JWTSecret) < 32 {
		errs = append(errs, errors.New("JWT_SECRET must be at least 32 characters"))
	}
	if (c.PayFastValidate || c.PayFastCheckSource) && c.PayFastMerchantID == "" {
		errs = append(errs, errors.New("PayFast checks require PAYFAST_MERCHANT_ID"))
	}
	if _, err := c.TrustedProxyPrefixes(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// TrustedProxyPrefixes parses TrustedProxies. Bare addresses become single-host prefixes.
func (c Config) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(c.TrustedProxies))
	for _, raw := range c.TrustedProxies {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if strings.Contains(raw, "/") {
			prefix, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid TRUSTED_PROXIES entry %q", raw)
			}
			prefixes = append(prefixes, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid TRUSTED_PROXIES entry %q", raw)
		}
		prefixes = append(prefixes, netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()))
	}
	return prefixes, nil
}

// NotifyURL defaults to the public API path under the site URL.
func (c Config) NotifyURL() string {
	if c.PayFastNotifyURL != "" {
		return c.PayFastNotifyURL
	}
	return strings.TrimRight(c.siteURL(), "/") + "/api/payfast/notify"
}

func (c Config) ReturnURL() string {
	if c.PayFastReturnURL != "" {
		return c.PayFastReturnURL
	}
	return strings.TrimRight(c.siteURL(), "/") + "/api/payfast/return"
}

func (c Config) CancelURL() string {
	if c.PayFastCancelURL != "" {
		return c.PayFastCancelURL
	}
	return strings.TrimRight(c.siteURL(), "/") + "/shop"
}

func (c Config) siteURL() string {
	if c.SiteURL == "" {
		return notify.DefaultSiteURL
	}
	return c.SiteURL
}

func setString(dst *string, v string) {
	if strings.TrimSpace(v) != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v > 0 {
		*dst = v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}
