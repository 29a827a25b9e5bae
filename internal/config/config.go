package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application level configuration aggregated from env/config files.
// It is built once at start-up and treated as read-only afterwards.
type Config struct {
	Server struct {
		Addr string
	}
	Database struct {
		DSN string
	}
	Auth struct {
		JWTSecret      string
		CookieSecret   string
		TokenTTL       time.Duration
		CookieTTL      time.Duration
		CookieName     string
		CookieDomain   string
		CookiePath     string
		CookieSecure   bool
		CookieSameSite string
		RolePolicy     string
		AdminMarker    string
		FacultyMarker  string
		RecordLogins   bool
	}
	CORS struct {
		AllowedOrigin string
	}
	Storage struct {
		Region   string
		Endpoint string
	}
	AWS struct {
		Profile string
	}
	Log struct {
		Level  string
		Format string
	}
}

// Load reads configuration from environment variables and optional config files.
func Load() (Config, error) {
	loadDotEnv(".env")

	v := viper.New()
	v.SetEnvPrefix("INTERVIEW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	v.SetConfigName("config")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // optional file

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", "0.0.0.0:5000")
	v.SetDefault("database.dsn", "data/auth.db")
	v.SetDefault("auth.jwtsecret", "")
	v.SetDefault("auth.cookiesecret", "")
	v.SetDefault("auth.tokenttl", 2*time.Hour)
	v.SetDefault("auth.cookiettl", 2*time.Hour)
	v.SetDefault("auth.cookiename", "auth_token")
	v.SetDefault("auth.cookiedomain", "localhost")
	v.SetDefault("auth.cookiepath", "/")
	v.SetDefault("auth.cookiesecure", false)
	v.SetDefault("auth.cookiesamesite", "lax")
	v.SetDefault("auth.rolepolicy", "substring")
	v.SetDefault("auth.adminmarker", "ADMIN")
	v.SetDefault("auth.facultymarker", "#123")
	v.SetDefault("auth.recordlogins", false)
	v.SetDefault("cors.allowedorigin", "http://localhost:5173")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("aws.profile", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Validate reports configuration that would make the server unsafe to start.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return fmt.Errorf("auth jwt secret is required")
	}
	if strings.TrimSpace(c.Auth.CookieSecret) == "" {
		return fmt.Errorf("auth cookie secret is required")
	}
	if c.Auth.JWTSecret == c.Auth.CookieSecret {
		return fmt.Errorf("auth jwt secret and cookie secret must differ")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth token ttl must be positive")
	}
	if c.Auth.CookieTTL <= 0 {
		return fmt.Errorf("auth cookie ttl must be positive")
	}
	if strings.TrimSpace(c.Auth.CookieName) == "" {
		return fmt.Errorf("auth cookie name is required")
	}
	switch strings.ToLower(c.Auth.RolePolicy) {
	case "substring", "prefix":
	default:
		return fmt.Errorf("unknown auth role policy %q", c.Auth.RolePolicy)
	}
	if strings.TrimSpace(c.Auth.AdminMarker) == "" {
		return fmt.Errorf("auth admin marker is required")
	}
	if _, err := ParseSameSite(c.Auth.CookieSameSite); err != nil {
		return err
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("database dsn is required")
	}
	return nil
}

// loadDotEnv exports the KEY=value pairs of path into the process environment.
// Variables that are already set win. A missing file is not an error.
func loadDotEnv(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	for _, line := range strings.Split(string(data), "\n") {
		key, value, ok := parseDotEnvLine(line)
		if !ok {
			continue
		}
		if _, set := os.LookupEnv(key); !set {
			_ = os.Setenv(key, value)
		}
	}
}

// parseDotEnvLine understands an optional "export " prefix, single or double
// quoted values and trailing " #" comments on unquoted values.
func parseDotEnvLine(line string) (key, value string, ok bool) {
	line = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
	if line == "" || line[0] == '#' {
		return "", "", false
	}
	line = strings.TrimPrefix(line, "export ")

	key, value, found := strings.Cut(line, "=")
	key = strings.TrimSpace(key)
	if !found || key == "" || strings.ContainsAny(key, " \t") {
		return "", "", false
	}

	value = strings.TrimSpace(value)
	if n := len(value); n >= 2 && (value[0] == '"' || value[0] == '\'') && value[n-1] == value[0] {
		return key, value[1 : n-1], true
	}
	if i := strings.Index(value, " #"); i >= 0 {
		value = strings.TrimSpace(value[:i])
	}
	return key, value, true
}
