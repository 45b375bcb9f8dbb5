package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	// AppID and AppSecret identify the service account on the push platform.
	AppID     string `toml:"appid"`
	AppSecret string `toml:"secret"`
	// VerifyToken is the shared secret used to verify inbound webhook
	// signatures.
	VerifyToken string `toml:"token"`
	// TemplateID selects the push template used for notification fan-out.
	TemplateID string `toml:"template_id"`
	// Host is the externally visible base URL used to build content
	// permalinks, e.g. "https://tan.example.com".
	Host string `toml:"host"`
	// Listen is the HTTP listen address.
	Listen string `toml:"listen"`
	// DataDir is the storage directory. Empty means the OS default.
	DataDir string `toml:"db_path"`
	// WelcomeText is replied to users on their first contact.
	WelcomeText string `toml:"welcome"`
	// HelpText is replied to the "help" command.
	HelpText string `toml:"help"`
	// DetailTemplate is the path of an HTML file with a "{::}" placeholder
	// rendered for content permalinks. Empty uses a built-in page.
	DetailTemplate string `toml:"detail_template"`
	// ContentRetentionDays is the content retention window in days.
	// 0 disables the expiry sweep entirely.
	ContentRetentionDays int `toml:"content_expire"`
	// EnforceOwnerOnDelete rejects channel deletion by anyone other than the
	// recorded owner. Off by default: the webhook layer always passes the
	// sender as requester.
	EnforceOwnerOnDelete bool `toml:"enforce_owner_on_delete"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		Listen:               ":8080",
		WelcomeText:          "Welcome! Send \"help\" to see the available commands.",
		HelpText:             defaultHelpText,
		ContentRetentionDays: 7,
	}
}

const defaultHelpText = `Commands:
  create channel <name>  create a channel you own
  del channel <id>       delete one of your channels
  subscribe <id>         subscribe to a channel
  unsubscribe <id>       unsubscribe from a channel
  show channel           list channels you own
  show subscribe         list channels you subscribe to`

// Load reads configuration from a TOML file. If path is empty, returns
// defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	if err := toml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// DefaultDataDir returns where the store lives when db_path is unset:
// $XDG_DATA_HOME/server-tan when the variable is set, otherwise a dotdir in
// the user's home. With no home directory known it falls back to ./data,
// which suits running out of a checkout.
func DefaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "server-tan")
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "./data"
	}
	return filepath.Join(home, ".server-tan")
}

// Validate reports configuration that cannot possibly serve requests.
func (c Config) Validate() error {
	if c.AppID == "" || c.AppSecret == "" {
		return fmt.Errorf("config: appid and secret are required")
	}
	if c.VerifyToken == "" {
		return fmt.Errorf("config: token is required")
	}
	if c.ContentRetentionDays < 0 {
		return fmt.Errorf("config: content_expire must be >= 0")
	}
	return nil
}
