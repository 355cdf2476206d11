package config

import (
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"gopkg.in/yaml.v3"

	"github.com/osvaldoandrade/tokengate/internal/ratelimit"
	"github.com/osvaldoandrade/tokengate/internal/tracing"
	"github.com/osvaldoandrade/tokengate/pkg/jwt"
	"github.com/osvaldoandrade/tokengate/pkg/jwt/keys"
)

const envPrefix = "TOKENGATE_"

type Config struct {
	Port          int    `yaml:"port"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	LogLevel      string `yaml:"logLevel"`
	LogFormat     string `yaml:"logFormat"`
	Env           string `yaml:"env"`

	// TrustedProxies lists the proxy addresses or CIDRs whose forwarding
	// headers are believed when deriving the client IP. Empty trusts none.
	TrustedProxies []string `yaml:"trustedProxies"`

	JWT       JWTConfig       `yaml:"jwt"`
	Policy    PolicyConfig    `yaml:"policy"`
	Tracing   TracingConfig   `yaml:"tracing"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
}

type JWTConfig struct {
	Mode                string         `yaml:"mode"`
	SignatureAlgorithms []string       `yaml:"signatureAlgorithms"`
	LeewaySeconds       int            `yaml:"leewaySeconds"`
	SymmetricKeys       []SymmetricKey `yaml:"symmetricKeys"`

	// JWKS is an inline JWK Set document.
	JWKS    string `yaml:"jwks"`
	JWKSURL string `yaml:"jwksUrl"`

	JWKSCacheTTLSeconds         int `yaml:"jwksCacheTtlSeconds"`
	JWKSRefreshSeconds          int `yaml:"jwksRefreshSeconds"`
	JWKSMinFetchIntervalSeconds int `yaml:"jwksMinFetchIntervalSeconds"`
	JWKSFetchTimeoutSeconds     int `yaml:"jwksFetchTimeoutSeconds"`
}

type SymmetricKey struct {
	Algorithm string `yaml:"alg"`
	KeyID     string `yaml:"kid"`
	Secret    string `yaml:"secret"`
}

type PolicyConfig struct {
	Query string   `yaml:"query"`
	Files []string `yaml:"files"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ServiceName  string  `yaml:"serviceName"`
	OTLPEndpoint string  `yaml:"otlpEndpoint"`
	OTLPInsecure bool    `yaml:"otlpInsecure"`
	SampleRatio  float64 `yaml:"sampleRatio"`
}

type RateLimitConfig struct {
	KeyRefresh ratelimit.Bucket `yaml:"keyRefresh"`
	Authorize  ratelimit.Bucket `yaml:"authorize"`
}

// LoadConfig reads filePath, applies TOKENGATE_* overrides and defaults.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// LoadConfigOptional is LoadConfig for deployments configured through the
// environment only: an empty path or a missing file yields defaults.
func LoadConfigOptional(filePath string) (*Config, error) {
	filePath = strings.TrimSpace(filePath)
	if filePath == "" {
		return Parse(nil)
	}
	data, err := os.ReadFile(filePath)
	if errors.Is(err, os.ErrNotExist) {
		return Parse(nil)
	}
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes a YAML document (which may be empty) and completes it from
// the environment and defaults.
func Parse(data []byte) (*Config, error) {
	var c Config
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &c); err != nil {
			return nil, err
		}
	}
	c.applyEnv()
	c.applyDefaults()

	log.Printf("tokengate config: {Port:%d Redis:%q Env:%s JWT:%s Algorithms:%v JWKSURL:%q Policies:%d}\n",
		c.Port, c.RedisAddr, c.Env, c.JWT.Mode, c.JWT.SignatureAlgorithms, c.JWT.JWKSURL, len(c.Policy.Files))
	return &c, nil
}

func (c *Config) applyEnv() {
	envInt("PORT", &c.Port)
	envString("REDIS_ADDR", &c.RedisAddr)
	envString("REDIS_PASSWORD", &c.RedisPassword)
	envString("LOG_LEVEL", &c.LogLevel)
	envString("LOG_FORMAT", &c.LogFormat)
	envString("ENV", &c.Env)
	envList("TRUSTED_PROXIES", &c.TrustedProxies)

	envString("JWT_MODE", &c.JWT.Mode)
	envList("JWT_SIGNATURE_ALGORITHMS", &c.JWT.SignatureAlgorithms)
	envInt("JWT_LEEWAY_SECONDS", &c.JWT.LeewaySeconds)
	envString("JWT_JWKS_URL", &c.JWT.JWKSURL)
	envInt("JWT_JWKS_CACHE_TTL_SECONDS", &c.JWT.JWKSCacheTTLSeconds)
	envInt("JWT_JWKS_REFRESH_SECONDS", &c.JWT.JWKSRefreshSeconds)
	if v := os.Getenv(envPrefix + "JWT_HS256_SECRET"); v != "" {
		c.JWT.SymmetricKeys = append(c.JWT.SymmetricKeys, SymmetricKey{Algorithm: "HS256", Secret: v})
	}

	envString("POLICY_QUERY", &c.Policy.Query)
	envList("POLICY_FILES", &c.Policy.Files)

	if v := os.Getenv(envPrefix + "TRACING_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Tracing.Enabled = b
		}
	}
	envString("TRACING_OTLP_ENDPOINT", &c.Tracing.OTLPEndpoint)
	if r := tracing.ParseSampleRatio(os.Getenv(envPrefix + "TRACING_SAMPLE_RATIO")); r > 0 {
		c.Tracing.SampleRatio = r
	}
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "json"
	}
	if c.Env == "" {
		c.Env = "dev"
	}
	if c.JWT.Mode == "" {
		c.JWT.Mode = "enabled"
	}
	if len(c.JWT.SignatureAlgorithms) == 0 {
		c.JWT.SignatureAlgorithms = []string{"RS256"}
	}
	if c.JWT.JWKSCacheTTLSeconds <= 0 {
		c.JWT.JWKSCacheTTLSeconds = 300
	}
	if c.JWT.JWKSMinFetchIntervalSeconds <= 0 {
		c.JWT.JWKSMinFetchIntervalSeconds = 10
	}
	if c.JWT.JWKSFetchTimeoutSeconds <= 0 {
		c.JWT.JWKSFetchTimeoutSeconds = 10
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "tokengate"
	}
	if c.Tracing.SampleRatio <= 0 {
		c.Tracing.SampleRatio = 1
	}
	if !c.RateLimit.KeyRefresh.Enabled() {
		c.RateLimit.KeyRefresh = ratelimit.Bucket{RequestsPerMinute: 6, BurstSize: 2}
	}
}

func (c *Config) Validate() error {
	var errs []string
	env := strings.ToLower(strings.TrimSpace(c.Env))
	dev := env == "dev"

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, "port must be between 1 and 65535")
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		errs = append(errs, "logFormat must be json or text")
	}

	for i, p := range c.TrustedProxies {
		if _, _, err := net.ParseCIDR(p); err != nil && net.ParseIP(p) == nil {
			errs = append(errs, fmt.Sprintf("trustedProxies[%d] must be an IP address or CIDR", i))
		}
	}

	mode, err := jwt.ParseMode(c.JWT.Mode)
	if err != nil {
		errs = append(errs, "jwt.mode must be enabled or disabled")
	}
	if _, err := jwt.ParseAlgorithms(c.JWT.SignatureAlgorithms); err != nil {
		errs = append(errs, fmt.Sprintf("jwt.signatureAlgorithms: %v", err))
	}
	if c.JWT.LeewaySeconds < 0 {
		errs = append(errs, "jwt.leewaySeconds must not be negative")
	}
	if mode == jwt.Disabled && !dev {
		errs = append(errs, "jwt.mode disabled is only allowed in dev")
	}
	if mode == jwt.Enabled && len(c.JWT.SymmetricKeys) == 0 && c.JWT.JWKS == "" && c.JWT.JWKSURL == "" {
		errs = append(errs, "jwt.mode enabled requires symmetricKeys, jwks or jwksUrl")
	}
	for i, k := range c.JWT.SymmetricKeys {
		alg, err := jwt.ParseAlgorithm(k.Algorithm)
		if err != nil || !keys.IsSymmetricAlgorithm(alg) {
			errs = append(errs, fmt.Sprintf("jwt.symmetricKeys[%d].alg must be HS256, HS384 or HS512", i))
		}
		if k.Secret == "" {
			errs = append(errs, fmt.Sprintf("jwt.symmetricKeys[%d].secret is required", i))
		} else if len(k.Secret) < 32 && !dev {
			errs = append(errs, fmt.Sprintf("jwt.symmetricKeys[%d].secret must be at least 32 bytes in non-dev", i))
		}
	}
	if c.JWT.JWKS != "" {
		if _, err := keys.ParseJWKS([]byte(c.JWT.JWKS)); err != nil {
			errs = append(errs, fmt.Sprintf("jwt.jwks: %v", err))
		}
	}
	if c.JWT.JWKSURL != "" {
		u, err := url.Parse(c.JWT.JWKSURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, "jwt.jwksUrl must be a valid http(s) URL")
		} else if u.Scheme != "https" && !dev {
			errs = append(errs, "jwt.jwksUrl must use https in non-dev")
		}
	}
	if c.Tracing.SampleRatio > 1 {
		errs = append(errs, "tracing.sampleRatio must be at most 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// TokenConfig translates the jwt section for jwt.NewService.
func (c *Config) TokenConfig() (jwt.Config, error) {
	mode, err := jwt.ParseMode(c.JWT.Mode)
	if err != nil {
		return jwt.Config{}, err
	}
	algs, err := jwt.ParseAlgorithms(c.JWT.SignatureAlgorithms)
	if err != nil {
		return jwt.Config{}, err
	}
	return jwt.Config{
		Mode:                mode,
		SignatureAlgorithms: algs,
		Leeway:              time.Duration(c.JWT.LeewaySeconds) * time.Second,
	}, nil
}

// KeySources returns the keys known from configuration (HMAC secrets and the
// inline JWK Set) and the remote source, which is nil without jwksUrl. rdb may
// be nil; when set, documents fetched from jwksUrl are shared through Redis.
func (c *Config) KeySources(rdb redis.UniversalClient, logger *slog.Logger) ([]keys.Material, keys.Source, error) {
	static := make([]keys.Material, 0, len(c.JWT.SymmetricKeys))
	for _, k := range c.JWT.SymmetricKeys {
		alg, err := jwt.ParseAlgorithm(k.Algorithm)
		if err != nil {
			return nil, nil, err
		}
		static = append(static, keys.SymmetricKey(alg, k.KeyID, []byte(k.Secret)))
	}
	if c.JWT.JWKS != "" {
		ms, err := keys.ParseJWKS([]byte(c.JWT.JWKS))
		if err != nil {
			return nil, nil, fmt.Errorf("%w: jwt.jwks: %v", jwt.ErrInvalidConfig, err)
		}
		static = append(static, ms...)
	}
	if c.JWT.JWKSURL == "" {
		return static, nil, nil
	}

	httpSrc := keys.NewHTTPSource(c.JWT.JWKSURL, &http.Client{Timeout: time.Duration(c.JWT.JWKSFetchTimeoutSeconds) * time.Second}, logger)
	if rdb == nil {
		return static, httpSrc, nil
	}
	ttl := time.Duration(c.JWT.JWKSCacheTTLSeconds) * time.Second
	return static, keys.NewRedisCache(httpSrc, rdb, "tokengate:jwks:"+c.JWT.JWKSURL, ttl, logger), nil
}

// KeyStoreOptions bundles the store settings from the jwt section.
func (c *Config) KeyStoreOptions() []keys.Option {
	return []keys.Option{
		keys.WithFetchTimeout(time.Duration(c.JWT.JWKSFetchTimeoutSeconds) * time.Second),
		keys.WithMinFetchInterval(time.Duration(c.JWT.JWKSMinFetchIntervalSeconds) * time.Second),
	}
}

func (c *Config) TracingSettings() tracing.Config {
	return tracing.Config{
		Enabled:      c.Tracing.Enabled,
		ServiceName:  c.Tracing.ServiceName,
		OTLPEndpoint: c.Tracing.OTLPEndpoint,
		OTLPInsecure: c.Tracing.OTLPInsecure,
		SampleRatio:  c.Tracing.SampleRatio,
	}
}

func envString(name string, dst *string) {
	if v := os.Getenv(envPrefix + name); v != "" {
		*dst = v
	}
}

func envInt(name string, dst *int) {
	if v := os.Getenv(envPrefix + name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envList(name string, dst *[]string) {
	v := os.Getenv(envPrefix + name)
	if v == "" {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	*dst = out
}
