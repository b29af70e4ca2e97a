package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	TelegramToken string
	AdminTGIDs    map[int64]bool
	AdminPassword string

	DatabasePath    string
	DefaultRaceName string

	// UniqueAccessCodes redraws access codes already held by someone.
	UniqueAccessCodes bool

	AIProvider  string
	GeminiKey   string
	GeminiModel string
	AITimeout   time.Duration

	SpreadsheetID            string
	GoogleServiceAccountJSON string

	S3BackupBucket string

	HTTPAddr      string
	BasePublicURL string
	ExportSecret  string

	LogLevel  string
	LogFormat string
}

func defaults(v *viper.Viper) {
	v.SetDefault("DATABASE_PATH", "motoreg.db")
	v.SetDefault("DEFAULT_RACE_NAME", "Carrera General")
	v.SetDefault("ADMIN_PASSWORD", "admin")
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("EXPORT_SECRET", "change-me")
	v.SetDefault("AI_PROVIDER", "gemini")
	v.SetDefault("GEMINI_MODEL", "gemini-2.5-flash")
	v.SetDefault("AI_TIMEOUT", "30s")
	v.SetDefault("UNIQUE_ACCESS_CODES", false)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
}

// FromEnv reads the process environment (a .env file is loaded by main
// before this runs). Everything optional has a default; only malformed
// values are errors.
func FromEnv() (Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	defaults(v)
	return fromViper(v)
}

func fromViper(v *viper.Viper) (Config, error) {
	str := func(key string) string { return strings.TrimSpace(v.GetString(key)) }

	var c Config
	c.TelegramToken = str("TELEGRAM_BOT_TOKEN")
	c.AdminTGIDs = parseAdminIDs(v.GetString("ADMIN_TG_IDS"))
	c.AdminPassword = str("ADMIN_PASSWORD")

	c.DatabasePath = str("DATABASE_PATH")
	c.DefaultRaceName = str("DEFAULT_RACE_NAME")

	c.AIProvider = strings.ToLower(str("AI_PROVIDER"))
	c.GeminiKey = str("GEMINI_API_KEY")
	if c.GeminiKey == "" {
		c.GeminiKey = str("API_KEY")
	}
	c.GeminiModel = str("GEMINI_MODEL")

	c.SpreadsheetID = str("GOOGLE_SHEETS_SPREADSHEET_ID")
	c.GoogleServiceAccountJSON = str("GOOGLE_SERVICE_ACCOUNT_JSON")
	c.S3BackupBucket = str("S3_BACKUP_BUCKET")

	c.HTTPAddr = str("HTTP_ADDR")
	c.BasePublicURL = strings.TrimRight(str("BASE_PUBLIC_URL"), "/")
	c.ExportSecret = str("EXPORT_SECRET")

	c.LogLevel = str("LOG_LEVEL")
	c.LogFormat = str("LOG_FORMAT")

	timeout, err := time.ParseDuration(str("AI_TIMEOUT"))
	if err != nil || timeout <= 0 {
		return c, fmt.Errorf("AI_TIMEOUT %q is not a positive duration", str("AI_TIMEOUT"))
	}
	c.AITimeout = timeout

	unique, err := strconv.ParseBool(str("UNIQUE_ACCESS_CODES"))
	if err != nil {
		return c, fmt.Errorf("UNIQUE_ACCESS_CODES %q is not a boolean", str("UNIQUE_ACCESS_CODES"))
	}
	c.UniqueAccessCodes = unique

	if c.DatabasePath == "" {
		return c, fmt.Errorf("DATABASE_PATH is empty")
	}
	if (c.SpreadsheetID == "") != (c.GoogleServiceAccountJSON == "") {
		return c, fmt.Errorf("GOOGLE_SHEETS_SPREADSHEET_ID and GOOGLE_SERVICE_ACCOUNT_JSON must be set together")
	}

	return c, nil
}

// SheetsEnabled reports whether the Google Sheets mirror is configured.
func (c Config) SheetsEnabled() bool { return c.SpreadsheetID != "" }

func (c Config) IsAdmin(tgID int64) bool { return c.AdminTGIDs[tgID] }

func parseAdminIDs(raw string) map[int64]bool {
	m := map[int64]bool{}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return m
	}
	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			continue
		}
		m[v] = true
	}
	return m
}
