package configuration

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"crosspost/infrastructure/logger"

	"github.com/spf13/viper"
)

type Config struct {
	Database     Database     `json:"database"`
	App          App          `json:"app"`
	Pubsub       Pubsub       `json:"pubsub"`
	RabbitMQ     RabbitMQ     `json:"rabbitMQ"`
	Events       Events       `json:"events"`
	RedisClient  RedisClient  `json:"redisClient"`
	Logger       Logger       `json:"logger"`
	Marketplaces Marketplaces `json:"marketplaces"`
	CrossPost    CrossPost    `json:"crossPost"`
}

type App struct {
	Port           int      `json:"port"`
	SecretKey      string   `json:"secretKey"`
	TLSEnabled     bool     `json:"tlsEnabled"`
	TLSCertFile    string   `json:"tlsCertFile"`
	TLSKeyFile     string   `json:"tlsKeyFile"`
	AllowedOrigins []string `json:"allowedOrigins"`
	// RequestsPerSecond throttles each client of the HTTP API.
	RequestsPerSecond float64 `json:"requestsPerSecond"`
	RequestBurst      int     `json:"requestBurst"`
}

type Database struct {
	// Driver selects the status store: "postgres" or "sqlite".
	Driver string `json:"driver"`
	Psql   Db     `json:"psql"`
	Mongo  Db     `json:"mongo"`
	Sqlite Sqlite `json:"sqlite"`
}

type Db struct {
	Name     string `json:"name"`
	Host     string `json:"host"`
	Port     string `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
}

type Sqlite struct {
	Path string `json:"path"`
}

type Pubsub struct {
	ProjectID string `json:"projectID"`
	Topic     string `json:"topic"`
}

type RabbitMQ struct {
	URL      string `json:"url"`
	Exchange string `json:"exchange"`
}

type Events struct {
	// Driver selects the publisher: "pubsub", "rabbitmq" or "none".
	Driver string `json:"driver"`
}

type RedisClient struct {
	Host         string `json:"host"`
	Port         string `json:"port"`
	Password     string `json:"password"`
	DatabaseName string `json:"databaseName"`
	Username     string `json:"username"`
}

type Logger struct {
	Format string `json:"format"`
}

type Marketplaces struct {
	Ebay     Marketplace `json:"ebay"`
	Poshmark Marketplace `json:"poshmark"`
	Mercari  Marketplace `json:"mercari"`
}

// Marketplace holds the API location, OAuth client and call budget of one marketplace.
type Marketplace struct {
	BaseURL         string       `json:"baseURL"`
	ClientID        string       `json:"clientId"`
	ClientSecret    string       `json:"clientSecret"`
	RedirectURI     string       `json:"redirectURI"`
	AuthURL         string       `json:"authURL"`
	TokenURL        string       `json:"tokenURL"`
	Scopes          []string     `json:"scopes"`
	Calls           int          `json:"calls"`
	IntervalSeconds int          `json:"intervalSeconds"`
	Concurrent      int64        `json:"concurrent"`
	Policies        EbayPolicies `json:"policies"`
}

type EbayPolicies struct {
	FulfillmentPolicyID string `json:"fulfillmentPolicyId"`
	PaymentPolicyID     string `json:"paymentPolicyId"`
	ReturnPolicyID      string `json:"returnPolicyId"`
	MerchantLocationKey string `json:"merchantLocationKey"`
}

type CrossPost struct {
	MaxAttempts              int `json:"maxAttempts"`
	CallTimeoutSeconds       int `json:"callTimeoutSeconds"`
	RefreshTimeoutSeconds    int `json:"refreshTimeoutSeconds"`
	RateLimitDelaySeconds    int `json:"rateLimitDelaySeconds"`
	NetworkDelaySeconds      int `json:"networkDelaySeconds"`
	DefaultDelaySeconds      int `json:"defaultDelaySeconds"`
	ReconcileAfterMinutes    int `json:"reconcileAfterMinutes"`
	ReconcileIntervalSeconds int `json:"reconcileIntervalSeconds"`

	NoRetryUpstreamForNonIdempotent bool `json:"noRetryUpstreamForNonIdempotent"`
}

func (c CrossPost) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutSeconds) * time.Second
}

func (c CrossPost) RefreshTimeout() time.Duration {
	return time.Duration(c.RefreshTimeoutSeconds) * time.Second
}

func (c CrossPost) ReconcileAfter() time.Duration {
	return time.Duration(c.ReconcileAfterMinutes) * time.Minute
}

func (c CrossPost) ReconcileInterval() time.Duration {
	return time.Duration(c.ReconcileIntervalSeconds) * time.Second
}

var C Config

func init() {
	Reload()
}

// Reload rebuilds C from the config file and the current environment.
func Reload() {
	C = Config{}
	LoadConfig()
	initDatabase(&C)
	initApp(&C)
	initMarketplaces(&C)
}

func setDefaults() {
	viper.SetDefault("database.driver", "postgres")
	viper.SetDefault("database.sqlite.path", "crosspost.db")
	viper.SetDefault("events.driver", "none")
	viper.SetDefault("pubsub.topic", "crosspost-events")
	viper.SetDefault("rabbitMQ.exchange", "crosspost.events")
	viper.SetDefault("app.requestsPerSecond", 10)
	viper.SetDefault("app.requestBurst", 20)
	viper.SetDefault("crossPost.maxAttempts", 3)
	viper.SetDefault("crossPost.callTimeoutSeconds", 30)
	viper.SetDefault("crossPost.refreshTimeoutSeconds", 10)
	viper.SetDefault("crossPost.rateLimitDelaySeconds", 60)
	viper.SetDefault("crossPost.networkDelaySeconds", 5)
	viper.SetDefault("crossPost.defaultDelaySeconds", 15)
	viper.SetDefault("crossPost.reconcileAfterMinutes", 15)
	viper.SetDefault("crossPost.reconcileIntervalSeconds", 300)
	viper.SetDefault("crossPost.noRetryUpstreamForNonIdempotent", false)
}

func LoadConfig() {
	name := getConfig()
	viper.SetConfigName(name)
	viper.SetConfigType("json")
	viper.AddConfigPath(".")
	viper.AddConfigPath("../")
	viper.AddConfigPath("../../")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			logger.GetLogger().Warn("Config file not found")
		} else {
			logger.GetLogger().WithField("error", err).Error("Error reading config file")
		}
	}

	logger.GetLogger().WithField("config", name).Info("Config set up successfully")
	if err := viper.Unmarshal(&C); err != nil {
		logger.GetLogger().WithField("error", err).Error("Viper unable to decode into struct")
	}
}

func getConfig() string {
	name := "config"
	env := os.Getenv("ENV")
	if env != "" {
		name = fmt.Sprintf("%s-%s", name, env)
	}
	return name
}

func initDatabase(C *Config) {
	if v := os.Getenv("DB_DRIVER"); v != "" {
		C.Database.Driver = v
	}
	if C.Database.Psql.Name == "" {
		C.Database.Psql.Name = os.Getenv("DB_NAME")
	}
	if C.Database.Psql.Host == "" {
		C.Database.Psql.Host = os.Getenv("DB_HOST")
	}
	if C.Database.Psql.User == "" {
		C.Database.Psql.User = os.Getenv("DB_USER")
	}
	if C.Database.Psql.Password == "" {
		C.Database.Psql.Password = os.Getenv("DB_PASSWORD")
	}
	if C.Database.Psql.Port == "" {
		C.Database.Psql.Port = os.Getenv("DB_PORT")
	}
	if C.Database.Psql.Port == "" {
		C.Database.Psql.Port = "5432"
	}
	if C.Database.Mongo.Host == "" {
		C.Database.Mongo.Host = os.Getenv("MONGO_HOST")
	}
	if C.Database.Mongo.Port == "" {
		C.Database.Mongo.Port = os.Getenv("MONGO_PORT")
	}
	if C.Database.Mongo.User == "" {
		C.Database.Mongo.User = os.Getenv("MONGO_USER")
	}
	if C.Database.Mongo.Password == "" {
		C.Database.Mongo.Password = os.Getenv("MONGO_PASSWORD")
	}
	if C.Database.Mongo.Name == "" {
		C.Database.Mongo.Name = os.Getenv("MONGO_DB_NAME")
	}
	logger.GetLogger().WithField("driver", C.Database.Driver).WithField("host", C.Database.Psql.Host).Info("Database configuration")
}

func initApp(C *Config) {
	// SECRET_KEY from the environment overrides the config file for JWT verification
	if v := os.Getenv("SECRET_KEY"); v != "" {
		C.App.SecretKey = v
	}
	// Port resolution order: APP_PORT -> PORT -> config -> default 10001
	if v := os.Getenv("APP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			C.App.Port = p
		}
	} else if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			C.App.Port = p
		}
	}
	if C.App.Port == 0 {
		C.App.Port = 10001
	}
	if v := os.Getenv("TLS_ENABLED"); v != "" {
		switch v {
		case "1", "true", "TRUE", "True":
			C.App.TLSEnabled = true
		case "0", "false", "FALSE", "False":
			C.App.TLSEnabled = false
		}
	}
	if C.App.TLSCertFile == "" {
		C.App.TLSCertFile = os.Getenv("TLS_CERT_FILE")
	}
	if C.App.TLSKeyFile == "" {
		C.App.TLSKeyFile = os.Getenv("TLS_KEY_FILE")
	}
	if len(C.App.AllowedOrigins) == 0 {
		C.App.AllowedOrigins = []string{"http://localhost:3000", "http://localhost:4200"}
	}
	if C.App.SecretKey == "" {
		logger.GetLogger().Warn("App.SecretKey not set; JWT authentication will fail. Provide SECRET_KEY via environment.")
	}
}

// initMarketplaces fills credentials from <PLATFORM>_CLIENT_ID style variables and the
// published endpoints and budgets when the config file leaves them empty.
func initMarketplaces(C *Config) {
	fill := func(name string, m *Marketplace, d Marketplace) {
		prefix := strings.ToUpper(name) + "_"
		if m.ClientID == "" {
			m.ClientID = os.Getenv(prefix + "CLIENT_ID")
		}
		if m.ClientSecret == "" {
			m.ClientSecret = os.Getenv(prefix + "CLIENT_SECRET")
		}
		if m.RedirectURI == "" {
			m.RedirectURI = os.Getenv(prefix + "REDIRECT_URI")
		}
		if m.BaseURL == "" {
			m.BaseURL = d.BaseURL
		}
		if m.AuthURL == "" {
			m.AuthURL = d.AuthURL
		}
		if m.TokenURL == "" {
			m.TokenURL = d.TokenURL
		}
		if len(m.Scopes) == 0 {
			m.Scopes = d.Scopes
		}
		if m.Calls == 0 {
			m.Calls = d.Calls
		}
		if m.IntervalSeconds == 0 {
			m.IntervalSeconds = d.IntervalSeconds
		}
		if m.Concurrent == 0 {
			m.Concurrent = d.Concurrent
		}
	}

	fill("ebay", &C.Marketplaces.Ebay, Marketplace{
		BaseURL:  "https://api.ebay.com",
		AuthURL:  "https://auth.ebay.com/oauth2/authorize",
		TokenURL: "https://api.ebay.com/identity/v1/oauth2/token",
		Scopes: []string{
			"https://api.ebay.com/oauth/api_scope",
			"https://api.ebay.com/oauth/api_scope/sell.inventory",
			"https://api.ebay.com/oauth/api_scope/sell.marketing",
			"https://api.ebay.com/oauth/api_scope/sell.account",
		},
		Calls: 5000, IntervalSeconds: 86400, Concurrent: 10,
	})
	fill("poshmark", &C.Marketplaces.Poshmark, Marketplace{
		BaseURL:  "https://api.poshmark.com",
		AuthURL:  "https://poshmark.com/oauth/authorize",
		TokenURL: "https://api.poshmark.com/oauth/token",
		Calls:    1000, IntervalSeconds: 3600, Concurrent: 5,
	})
	fill("mercari", &C.Marketplaces.Mercari, Marketplace{
		BaseURL:  "https://api.mercari.com",
		AuthURL:  "https://www.mercari.com/oauth/authorize",
		TokenURL: "https://api.mercari.com/oauth/token",
		Calls:    2000, IntervalSeconds: 3600, Concurrent: 5,
	})

	p := &C.Marketplaces.Ebay.Policies
	if p.FulfillmentPolicyID == "" {
		p.FulfillmentPolicyID = os.Getenv("EBAY_FULFILLMENT_POLICY_ID")
	}
	if p.PaymentPolicyID == "" {
		p.PaymentPolicyID = os.Getenv("EBAY_PAYMENT_POLICY_ID")
	}
	if p.ReturnPolicyID == "" {
		p.ReturnPolicyID = os.Getenv("EBAY_RETURN_POLICY_ID")
	}
	if p.MerchantLocationKey == "" {
		p.MerchantLocationKey = os.Getenv("EBAY_MERCHANT_LOCATION_KEY")
	}
}

// Interval is the rolling window of the marketplace's call budget.
func (m Marketplace) Interval() time.Duration {
	return time.Duration(m.IntervalSeconds) * time.Second
}

// All returns the marketplaces keyed by platform name.
func (m Marketplaces) All() map[string]Marketplace {
	return map[string]Marketplace{
		"ebay":     m.Ebay,
		"poshmark": m.Poshmark,
		"mercari":  m.Mercari,
	}
}
