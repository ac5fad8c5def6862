package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	// PatientEndpointURL is the PMIR Patient endpoint used to build and
	// resolve subject references.
	PatientEndpointURL string `mapstructure:"PATIENT_ENDPOINT_URL"`

	AuthCodeTTL        time.Duration `mapstructure:"AUTH_CODE_TTL"`
	TokenExpiresIn     int           `mapstructure:"TOKEN_EXPIRES_IN"`
	RequireAccessToken bool          `mapstructure:"REQUIRE_ACCESS_TOKEN"`

	IDPIssuer     string `mapstructure:"IDP_ISSUER"`
	IDPSigningKey string `mapstructure:"IDP_SIGNING_KEY"`
	IDPJWKSURL    string `mapstructure:"IDP_JWKS_URL"`
	IDPAudience   string `mapstructure:"IDP_AUDIENCE"`

	AssertionIssuer     string        `mapstructure:"ASSERTION_ISSUER"`
	AssertionAudience   string        `mapstructure:"ASSERTION_AUDIENCE"`
	AssertionSigningKey string        `mapstructure:"ASSERTION_SIGNING_KEY"`
	AssertionLifetime   time.Duration `mapstructure:"ASSERTION_LIFETIME"`

	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	BodyLimit      string        `mapstructure:"BODY_LIMIT"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`

	// SchemeMappings is a comma separated list of uri=oid pairs added to the
	// built-in identifier system table.
	SchemeMappings string `mapstructure:"SCHEME_MAPPINGS"`
}

var keys = []string{
	"PORT", "ENV", "CORS_ORIGINS",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"PATIENT_ENDPOINT_URL",
	"AUTH_CODE_TTL", "TOKEN_EXPIRES_IN", "REQUIRE_ACCESS_TOKEN",
	"IDP_ISSUER", "IDP_SIGNING_KEY", "IDP_JWKS_URL", "IDP_AUDIENCE",
	"ASSERTION_ISSUER", "ASSERTION_AUDIENCE", "ASSERTION_SIGNING_KEY", "ASSERTION_LIFETIME",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "BODY_LIMIT", "REQUEST_TIMEOUT",
	"SCHEME_MAPPINGS",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("PATIENT_ENDPOINT_URL", "http://localhost:8000/fhir/Patient")
	v.SetDefault("AUTH_CODE_TTL", "60s")
	v.SetDefault("TOKEN_EXPIRES_IN", 60000)
	v.SetDefault("ASSERTION_ISSUER", "urn:mag:sts")
	v.SetDefault("ASSERTION_LIFETIME", "5m")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("REQUEST_TIMEOUT", "30s")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// HasDatabase reports whether a PostgreSQL registry and code store should be
// used instead of the in-memory ones.
func (c *Config) HasDatabase() bool {
	return c.DatabaseURL != ""
}

// AuthenticationEnabled reports whether the /assertion endpoint can verify
// identity provider tokens and sign assertions.
func (c *Config) AuthenticationEnabled() bool {
	idp := c.IDPIssuer != "" || c.IDPSigningKey != "" || c.IDPJWKSURL != ""
	return idp && c.AssertionSigningKey != ""
}

// ParseSchemeMappings splits SchemeMappings into a uri to oid table.
func (c *Config) ParseSchemeMappings() (map[string]string, error) {
	out := make(map[string]string)
	for _, pair := range strings.Split(c.SchemeMappings, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		// The oid never contains '=', the uri may.
		i := strings.LastIndex(pair, "=")
		if i <= 0 || i == len(pair)-1 {
			return nil, fmt.Errorf("SCHEME_MAPPINGS entry %q is not uri=oid", pair)
		}
		out[strings.TrimSpace(pair[:i])] = strings.TrimSpace(pair[i+1:])
	}
	return out, nil
}

// Validate checks that the configuration is safe to run. Outside development
// a database is required and access tokens must be enforced.
func (c *Config) Validate() error {
	if c.AuthCodeTTL <= 0 {
		return fmt.Errorf("AUTH_CODE_TTL must be positive, got %s", c.AuthCodeTTL)
	}
	if c.TokenExpiresIn <= 0 {
		return fmt.Errorf("TOKEN_EXPIRES_IN must be positive, got %d", c.TokenExpiresIn)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive, got %s", c.RequestTimeout)
	}
	if u, err := url.Parse(c.PatientEndpointURL); err != nil || !u.IsAbs() {
		return fmt.Errorf("PATIENT_ENDPOINT_URL must be an absolute URL, got %q", c.PatientEndpointURL)
	}
	if _, err := c.ParseSchemeMappings(); err != nil {
		return err
	}
	if c.RequireAccessToken && c.AssertionSigningKey == "" {
		return fmt.Errorf("ASSERTION_SIGNING_KEY is required when REQUIRE_ACCESS_TOKEN is true")
	}

	if c.IsDev() {
		return nil
	}
	if !c.HasDatabase() {
		return fmt.Errorf("DATABASE_URL is required outside development (ENV=%q)", c.Env)
	}
	if c.IDPSigningKey != "" {
		return fmt.Errorf("IDP_SIGNING_KEY is for development only; configure IDP_ISSUER or IDP_JWKS_URL")
	}
	return nil
}
