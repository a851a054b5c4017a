package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// Discord
	DiscordToken string
	OwnerIDs     string

	// Database
	DBDialect  string
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
	DBPath     string

	// NationStates
	ContactInfo   string
	Nation        string
	Region        string
	NSAPIURL      string
	NSVerifyURL   string
	NSTimeout     time.Duration
	NSRateLimit   int
	VerifyTimeout time.Duration

	// Ops server
	Port        string
	CORSOrigins string
	AdminToken  string
	JWTSecret   string

	// Observability
	SentryDSN        string
	AppEnv           string
	LogRetentionDays int
}

// Load builds the configuration from the environment. When CONFIG_PATH
// points at a YAML file its keys (same names as the environment variables)
// fill in anything the environment leaves unset.
func Load() (*Config, error) {
	file, err := readFile(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return nil, err
	}
	get := func(key, fallback string) string {
		if val := os.Getenv(key); val != "" {
			return val
		}
		if val, ok := file[key]; ok && val != "" {
			return val
		}
		return fallback
	}

	return &Config{
		DiscordToken: get("DISCORD_API_KEY", ""),
		OwnerIDs:     get("OWNER_IDS", ""),

		DBDialect:  strings.ToLower(get("DB_DIALECT", "postgres")),
		DBHost:     get("DB_HOST", "localhost"),
		DBPort:     get("DB_PORT", "5432"),
		DBUser:     get("DB_USER", "postgres"),
		DBPassword: get("DB_PASSWORD", ""),
		DBName:     get("DB_NAME", "nerris"),
		DBSSLMode:  get("DB_SSLMODE", "disable"),
		DBPath:     get("DB_PATH", "nerris.db"),

		ContactInfo:   get("CONTACT_INFO", ""),
		Nation:        get("NATION", ""),
		Region:        get("REGION", ""),
		NSAPIURL:      get("NS_API_URL", "https://www.nationstates.net/cgi-bin/api.cgi"),
		NSVerifyURL:   get("NS_VERIFY_URL", "https://www.nationstates.net/page=settings"),
		NSTimeout:     parseDuration(get("NS_TIMEOUT", "15s"), 15*time.Second),
		NSRateLimit:   parseInt(get("NS_RATE_LIMIT", "45"), 45),
		VerifyTimeout: parseDuration(get("VERIFY_TIMEOUT", "60s"), 60*time.Second),

		Port:        get("PORT", "8080"),
		CORSOrigins: get("CORS_ORIGINS", "*"),
		AdminToken:  get("ADMIN_TOKEN", ""),
		JWTSecret:   get("JWT_SECRET", ""),

		SentryDSN:        get("SENTRY_DSN", ""),
		AppEnv:           get("APP_ENV", "production"),
		LogRetentionDays: parseInt(get("LOG_RETENTION_DAYS", "30"), 30),
	}, nil
}

// Validate reports missing settings required to run the bot.
func (c *Config) Validate() error {
	if c.DiscordToken == "" {
		return fmt.Errorf("DISCORD_API_KEY is required")
	}
	if c.ContactInfo == "" {
		return fmt.Errorf("CONTACT_INFO is required by the NationStates API rules")
	}
	switch c.DBDialect {
	case "postgres":
		if c.DBPassword == "" {
			return fmt.Errorf("DB_PASSWORD is required for the postgres dialect")
		}
	case "sqlite":
	default:
		return fmt.Errorf("unsupported DB_DIALECT %q", c.DBDialect)
	}
	return nil
}

func (c *Config) DSN() string {
	if c.DBDialect == "sqlite" {
		return c.DBPath
	}
	return "host=" + c.DBHost +
		" user=" + c.DBUser +
		" password=" + c.DBPassword +
		" dbname=" + c.DBName +
		" port=" + c.DBPort +
		" sslmode=" + c.DBSSLMode +
		" TimeZone=UTC"
}

// Owners returns the Discord user ids allowed to run owner-only commands.
func (c *Config) Owners() []string {
	return ParseCSV(c.OwnerIDs)
}

func ParseCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func readFile(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	values := make(map[string]string, len(raw))
	for k, v := range raw {
		switch tv := v.(type) {
		case nil:
		case []interface{}:
			items := make([]string, 0, len(tv))
			for _, item := range tv {
				items = append(items, fmt.Sprint(item))
			}
			values[strings.ToUpper(k)] = strings.Join(items, ",")
		default:
			values[strings.ToUpper(k)] = fmt.Sprint(tv)
		}
	}
	return values, nil
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func parseInt(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
