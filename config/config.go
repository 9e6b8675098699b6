// Package config loads application settings from an optional YAML file and
// watches it for edits. Missing file means defaults; cryptographic
// parameters are format constants and are deliberately not configurable.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Settings are the resolved values the application runs with.
type Settings struct {
	ProfileDir        string
	LogFile           string
	IdleTimeout       time.Duration
	RefreshInterval   time.Duration
	ClipboardInterval time.Duration
	IdleCheckInterval time.Duration
	WatchClipboard    bool
}

// Config holds the viper instance behind Settings so a watched file can
// reload while the application runs.
type Config struct {
	v *viper.Viper
}

// Load resolves settings from the YAML file at path, or from
// <home>/.tokenx/config.yaml when path is empty. A file that does not
// exist is not an error. When the file exists it is watched; onChange
// fires with the re-resolved settings after every edit.
func Load(path string, onChange func(Settings)) (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("config: home directory: %w", err)
	}
	base := filepath.Join(home, ".tokenx")

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetDefault("profile_dir", filepath.Join(base, "profiles"))
	v.SetDefault("log_file", filepath.Join(base, "tokenx.log"))
	v.SetDefault("idle_timeout", 180)
	v.SetDefault("refresh_interval", 1)
	v.SetDefault("clipboard_interval", 2)
	v.SetDefault("idle_check_interval", 10)
	v.SetDefault("watch_clipboard", true)

	if path == "" {
		path = filepath.Join(base, "config.yaml")
	}
	c := &Config{v: v}
	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if onChange != nil {
			v.OnConfigChange(func(fsnotify.Event) {
				onChange(c.Settings())
			})
			v.WatchConfig()
		}
	}
	return c, nil
}

// Settings resolves the current values.
func (c *Config) Settings() Settings {
	return Settings{
		ProfileDir:        c.v.GetString("profile_dir"),
		LogFile:           c.v.GetString("log_file"),
		IdleTimeout:       c.seconds("idle_timeout"),
		RefreshInterval:   c.seconds("refresh_interval"),
		ClipboardInterval: c.seconds("clipboard_interval"),
		IdleCheckInterval: c.seconds("idle_check_interval"),
		WatchClipboard:    c.v.GetBool("watch_clipboard"),
	}
}

// seconds reads a whole-second count, the unit every interval in the file
// uses.
func (c *Config) seconds(key string) time.Duration {
	return time.Duration(c.v.GetInt(key)) * time.Second
}
