package config

import (
	"os"
	"strconv"
)

// FromEnv overlays TAN_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	if v := os.Getenv("TAN_APPID"); v != "" {
		cfg.AppID = v
	}
	if v := os.Getenv("TAN_SECRET"); v != "" {
		cfg.AppSecret = v
	}
	if v := os.Getenv("TAN_TOKEN"); v != "" {
		cfg.VerifyToken = v
	}
	if v := os.Getenv("TAN_TEMPLATE_ID"); v != "" {
		cfg.TemplateID = v
	}
	if v := os.Getenv("TAN_HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("TAN_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("TAN_DB_PATH"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("TAN_CONTENT_EXPIRE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ContentRetentionDays = n
		}
	}
	if v := os.Getenv("TAN_ENFORCE_OWNER_ON_DELETE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.EnforceOwnerOnDelete = b
		}
	}
}
