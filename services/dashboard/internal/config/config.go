package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Rhymond/go-money"
	"gopkg.in/yaml.v3"

	"finboard/pkg/domain"
)

// ConfigPath is read when no explicit path is given.
const ConfigPath = "config.yaml"

// MemoryDatabaseURL selects the in-process store.
const MemoryDatabaseURL = "memory"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port               string   `yaml:"port"`
	LogLevel           string   `yaml:"logLevel"`
	DatabaseURL        string   `yaml:"databaseURL"`
	RedisAddr          string   `yaml:"redisAddr"`
	RedisPassword      string   `yaml:"redisPassword"`
	TrustedProxies     []string `yaml:"trustedProxies"`
	CORSAllowedOrigins []string `yaml:"corsAllowedOrigins"`

	SessionTTL          string `yaml:"sessionTTL"`
	JWTPrivateKeyPath   string `yaml:"jwtPrivateKeyPath"`
	JWTKeyID            string `yaml:"jwtKeyId"`
	JWTVerifyPublicKeys string `yaml:"jwtVerifyPublicKeys"`
	JWTIssuer           string `yaml:"jwtIssuer"`
	JWTAudience         string `yaml:"jwtAudience"`
	JWTLeeway           string `yaml:"jwtLeeway"`

	RegisterRateLimitPerMinute int `yaml:"registerRateLimitPerMinute"`
	LoginRateLimitPerMinute    int `yaml:"loginRateLimitPerMinute"`
	PasswordRateLimitPerMinute int `yaml:"passwordRateLimitPerMinute"`
	ChatRateLimitPerMinute     int `yaml:"chatRateLimitPerMinute"`

	Accounts  AccountsConfig  `yaml:"accounts"`
	Reminders RemindersConfig `yaml:"reminders"`
	AI        AIConfig        `yaml:"ai"`
	Market    MarketConfig    `yaml:"market"`
}

type AccountsConfig struct {
	ReusePolicy string `yaml:"reusePolicy"`
}

type RemindersConfig struct {
	AllowDeleteCompleted bool `yaml:"allowDeleteCompleted"`
	UpcomingDays         int  `yaml:"upcomingDays"`
}

// AIConfig selects the assistant backend. Provider is gemini or openai; an
// empty API key leaves the assistant disabled.
type AIConfig struct {
	Provider     string `yaml:"provider"`
	Model        string `yaml:"model"`
	APIKey       string `yaml:"apiKey"`
	BaseURL      string `yaml:"baseURL"`
	HistoryLimit int    `yaml:"historyLimit"`
	Currency     string `yaml:"currency"`
}

type MarketConfig struct {
	APIKey    string   `yaml:"apiKey"`
	BaseURL   string   `yaml:"baseURL"`
	Timeout   string   `yaml:"timeout"`
	Watchlist []string `yaml:"watchlist"`
}

// Load reads config from path (defaults to config.yaml), applies environment
// overrides and validates the result. A missing default file is tolerated so
// that environment-only deployments work.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	explicit := path != ""
	if !explicit {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	case explicit || !errors.Is(err, fs.ErrNotExist):
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) error {
	stringVars := map[string]*string{
		"DASHBOARD_PORT":         &cfg.Port,
		"LOG_LEVEL":              &cfg.LogLevel,
		"DATABASE_URL":           &cfg.DatabaseURL,
		"REDIS_ADDR":             &cfg.RedisAddr,
		"REDIS_PASSWORD":         &cfg.RedisPassword,
		"JWT_PRIVATE_KEY_PATH":   &cfg.JWTPrivateKeyPath,
		"JWT_KEY_ID":             &cfg.JWTKeyID,
		"JWT_VERIFY_PUBLIC_KEYS": &cfg.JWTVerifyPublicKeys,
		"JWT_ISSUER":             &cfg.JWTIssuer,
		"JWT_AUDIENCE":           &cfg.JWTAudience,
		"JWT_LEEWAY":             &cfg.JWTLeeway,
		"DASHBOARD_SESSION_TTL":  &cfg.SessionTTL,
		"DASHBOARD_REUSE_POLICY": &cfg.Accounts.ReusePolicy,
		"AI_PROVIDER":            &cfg.AI.Provider,
		"AI_MODEL":               &cfg.AI.Model,
		"AI_BASE_URL":            &cfg.AI.BaseURL,
		"MARKET_API_KEY":         &cfg.Market.APIKey,
		"MARKET_BASE_URL":        &cfg.Market.BaseURL,
	}
	for name, dst := range stringVars {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			*dst = v
		}
	}

	// The key variable matching the provider wins over a generic one.
	if v := os.Getenv("AI_API_KEY"); v != "" {
		cfg.AI.APIKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" && providerOrDefault(cfg.AI.Provider) == ProviderGemini {
		cfg.AI.APIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && providerOrDefault(cfg.AI.Provider) == ProviderOpenAI {
		cfg.AI.APIKey = v
	}

	if v := os.Getenv("DASHBOARD_ALLOW_DELETE_COMPLETED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: DASHBOARD_ALLOW_DELETE_COMPLETED: %w", err)
		}
		cfg.Reminders.AllowDeleteCompleted = b
	}
	intVars := map[string]*int{
		"DASHBOARD_REGISTER_RATE_LIMIT_PER_MINUTE": &cfg.RegisterRateLimitPerMinute,
		"DASHBOARD_LOGIN_RATE_LIMIT_PER_MINUTE":    &cfg.LoginRateLimitPerMinute,
		"DASHBOARD_PASSWORD_RATE_LIMIT_PER_MINUTE": &cfg.PasswordRateLimitPerMinute,
		"DASHBOARD_CHAT_RATE_LIMIT_PER_MINUTE":     &cfg.ChatRateLimitPerMinute,
	}
	for name, dst := range intVars {
		if v := os.Getenv(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("config: %s: %w", name, err)
			}
			*dst = n
		}
	}
	if v := os.Getenv("MARKET_WATCHLIST"); v != "" {
		cfg.Market.Watchlist = splitList(v)
	}
	if v := os.Getenv("DASHBOARD_CORS_ALLOWED_ORIGINS"); v != "" {
		cfg.CORSAllowedOrigins = splitList(v)
	}
	if v := os.Getenv("DASHBOARD_TRUSTED_PROXIES"); v != "" {
		cfg.TrustedProxies = splitList(v)
	}
	return nil
}

// AI providers.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

func providerOrDefault(p string) string {
	p = strings.ToLower(strings.TrimSpace(p))
	if p == "" {
		return ProviderGemini
	}
	return p
}

func applyDefaults(cfg *FileConfig) {
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	cfg.AI.Provider = providerOrDefault(cfg.AI.Provider)
	if cfg.AI.HistoryLimit == 0 {
		cfg.AI.HistoryLimit = 20
	}
	if cfg.AI.Currency == "" {
		cfg.AI.Currency = money.USD
	}
	if cfg.Reminders.UpcomingDays == 0 {
		cfg.Reminders.UpcomingDays = 7
	}
	if cfg.RegisterRateLimitPerMinute == 0 {
		cfg.RegisterRateLimitPerMinute = 5
	}
	if cfg.LoginRateLimitPerMinute == 0 {
		cfg.LoginRateLimitPerMinute = 10
	}
	if cfg.PasswordRateLimitPerMinute == 0 {
		cfg.PasswordRateLimitPerMinute = 10
	}
	if cfg.ChatRateLimitPerMinute == 0 {
		cfg.ChatRateLimitPerMinute = 30
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required")
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return errors.New("config: databaseURL is required (set DATABASE_URL, or \"memory\" for local runs)")
	}
	if _, err := domain.ParseReusePolicy(cfg.Accounts.ReusePolicy); err != nil {
		return fmt.Errorf("config: accounts.reusePolicy: %w", err)
	}
	if cfg.Reminders.UpcomingDays < 0 {
		return errors.New("config: reminders.upcomingDays must be >= 0")
	}
	switch cfg.AI.Provider {
	case ProviderGemini:
	case ProviderOpenAI:
		if cfg.AI.APIKey != "" && (cfg.AI.BaseURL == "" || cfg.AI.Model == "") {
			return errors.New("config: ai.baseURL and ai.model are required for the openai provider")
		}
	default:
		return fmt.Errorf("config: ai.provider must be %q or %q", ProviderGemini, ProviderOpenAI)
	}
	if cfg.AI.HistoryLimit < 0 {
		return errors.New("config: ai.historyLimit must be >= 0")
	}
	if money.GetCurrency(cfg.AI.Currency) == nil {
		return fmt.Errorf("config: unknown ai.currency %q", cfg.AI.Currency)
	}
	if cfg.RegisterRateLimitPerMinute < 0 || cfg.LoginRateLimitPerMinute < 0 ||
		cfg.PasswordRateLimitPerMinute < 0 || cfg.ChatRateLimitPerMinute < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	if _, err := ParseSessionTTL(cfg.SessionTTL); err != nil {
		return err
	}
	if _, err := ParseJWTLeeway(cfg.JWTLeeway); err != nil {
		return err
	}
	if _, err := ParseMarketTimeout(cfg.Market.Timeout); err != nil {
		return err
	}
	if _, err := ParseVerifyPublicKeys(cfg.JWTVerifyPublicKeys); err != nil {
		return err
	}
	if cfg.JWTVerifyPublicKeys != "" && cfg.JWTPrivateKeyPath == "" {
		return errors.New("config: jwtVerifyPublicKeys requires jwtPrivateKeyPath")
	}
	return nil
}

// UsesMemoryStore reports whether the in-process store was selected.
func (c FileConfig) UsesMemoryStore() bool {
	return strings.EqualFold(strings.TrimSpace(c.DatabaseURL), MemoryDatabaseURL)
}

// ReusePolicy returns the validated account reuse policy.
func (c FileConfig) ReusePolicy() domain.ReusePolicy {
	p, _ := domain.ParseReusePolicy(c.Accounts.ReusePolicy)
	return p
}

// ParseSessionTTL parses optional session TTL duration string.
func ParseSessionTTL(ttlStr string) (time.Duration, error) {
	return parseOptionalDuration("sessionTTL", ttlStr)
}

// ParseJWTLeeway parses optional JWT leeway duration string.
func ParseJWTLeeway(leewayStr string) (time.Duration, error) {
	return parseOptionalDuration("jwtLeeway", leewayStr)
}

// ParseMarketTimeout parses the optional upstream timeout for quote fetches.
func ParseMarketTimeout(timeoutStr string) (time.Duration, error) {
	return parseOptionalDuration("market.timeout", timeoutStr)
}

func parseOptionalDuration(field, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", field, err)
	}
	if dur < 0 {
		return 0, fmt.Errorf("invalid %s duration: must not be negative", field)
	}
	return dur, nil
}

// ParseVerifyPublicKeys parses "kid=path,kid2=path2" into a map.
func ParseVerifyPublicKeys(raw string) (map[string]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	out := make(map[string]string)
	for _, pair := range splitList(raw) {
		kid, path, ok := strings.Cut(pair, "=")
		kid, path = strings.TrimSpace(kid), strings.TrimSpace(path)
		if !ok || kid == "" || path == "" {
			return nil, fmt.Errorf("invalid jwtVerifyPublicKeys entry %q", pair)
		}
		out[kid] = path
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func splitList(raw string) []string {
	var out []string
	for item := range strings.SplitSeq(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
