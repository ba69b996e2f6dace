package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config represents the application configuration
type Config struct {
	Server struct {
		Port int `koanf:"port"`
	} `koanf:"server"`

	Database struct {
		URL string `koanf:"url"`
	} `koanf:"database"`

	Requests struct {
		// DueSoonDays is the agency-default number of business days before
		// the due date at which a request is flagged for attention.
		DueSoonDays int `koanf:"due_soon_days"`
		// AgencyDescriptionDueDays is how many business days after closing
		// until the agency's closing rationale becomes publicly visible.
		AgencyDescriptionDueDays int `koanf:"agency_description_due_days"`
		// ReleaseDays is the business-day delay before a released-and-public
		// response is visible to anyone.
		ReleaseDays int `koanf:"release_days"`
		// DueDays is the statutory response window for a new request.
		DueDays int `koanf:"due_days"`
	} `koanf:"requests"`

	Mail struct {
		Host          string `koanf:"host"`
		Port          int    `koanf:"port"`
		From          string `koanf:"from"`
		OperatorEmail string `koanf:"operator_email"`
		// DefaultAgencyEmail receives agency-bound mail when a request has
		// no agency users assigned.
		DefaultAgencyEmail string `koanf:"default_agency_email"`
	} `koanf:"mail"`

	Uploads struct {
		Directory         string   `koanf:"directory"`
		MinBytes          int64    `koanf:"min_bytes"`
		MaxBytes          int64    `koanf:"max_bytes"`
		AllowedExtensions []string `koanf:"allowed_extensions"`
	} `koanf:"uploads"`

	Calendar struct {
		HolidayYearsAhead int `koanf:"holiday_years_ahead"`
	} `koanf:"calendar"`

	Auth struct {
		JWTSecret       string `koanf:"jwt_secret"`
		TokenTTLMinutes int    `koanf:"token_ttl_minutes"`
	} `koanf:"auth"`
}

// LoadConfig loads the configuration from a file
func LoadConfig(configPath string) (*Config, error) {
	var k = koanf.New(".")

	// Set up default configuration
	k.Load(confmap.Provider(map[string]interface{}{
		"server.port":                          8888,
		"requests.due_soon_days":               5,
		"requests.agency_description_due_days": 10,
		"requests.release_days":                20,
		"requests.due_days":                    20,
		"mail.host":                            "localhost",
		"mail.port":                            2500,
		"mail.from":                            "Records Admin <records@portal.example.gov>",
		"uploads.directory":                    "./uploads",
		"uploads.min_bytes":                    1,
		"uploads.max_bytes":                    512 * 1024 * 1024,
		"uploads.allowed_extensions": []string{
			".pdf", ".doc", ".docx", ".xls", ".xlsx", ".csv",
			".txt", ".jpg", ".jpeg", ".png", ".tif", ".tiff",
		},
		"calendar.holiday_years_ahead": 5,
		"auth.token_ttl_minutes":       60,
	}, "."), nil)

	// Load from TOML file if it exists
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	} else {
		defaultPaths := []string{"./foilportal.toml", "$HOME/.foilportal.toml"}
		for _, path := range defaultPaths {
			path = os.ExpandEnv(path)
			if _, err := os.Stat(path); err == nil {
				if err := k.Load(file.Provider(path), toml.Parser()); err == nil {
					break
				}
			}
		}
	}

	// Load from environment variables with prefix FOILPORTAL_
	k.Load(env.Provider("FOILPORTAL_", ".", func(s string) string {
		return strings.Replace(
			strings.ToLower(strings.TrimPrefix(s, "FOILPORTAL_")), "_", ".", -1)
	}), nil)

	// Unmarshal into Config struct
	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	return &config, nil
}

// InitConfig initializes a new configuration file
func InitConfig(configPath string) error {
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("configuration file already exists at %s", configPath)
	}

	sampleConfig := `# FOIL Portal Configuration

[server]
port = 8888

[database]
url = "postgresql://localhost:5432/foilportal_dev"

[requests]
due_soon_days = 5
agency_description_due_days = 10
release_days = 20
due_days = 20

[mail]
host = "localhost"
port = 2500
from = "Records Admin <records@portal.example.gov>"
operator_email = "records-ops@portal.example.gov"
default_agency_email = "agency@portal.example.gov"

[auth]
jwt_secret = "change-me"
`

	return os.WriteFile(configPath, []byte(sampleConfig), 0644)
}

// Validate validates the configuration
func Validate(config *Config) error {
	if config.Database.URL == "" && strings.TrimSpace(os.Getenv("DATABASE_URL")) == "" {
		return fmt.Errorf("database url is required")
	}

	if config.Mail.OperatorEmail == "" {
		return fmt.Errorf("operator email is required (sweep failure alerts have nowhere to go)")
	}

	if config.Requests.DueSoonDays < 1 {
		return fmt.Errorf("due_soon_days must be at least 1")
	}

	if config.Auth.JWTSecret == "" {
		return fmt.Errorf("auth jwt_secret is required")
	}

	return nil
}
