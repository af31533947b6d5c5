package config

import "ragcore/internal/logging"

// LoggingConfig configures logging.
type LoggingConfig struct {
	Dir        string          `yaml:"dir" env:"RAGCORE_LOG_DIR"`
	Level      string          `yaml:"level" env:"RAGCORE_LOG_LEVEL"` // debug, info, warn, error
	JSONFormat bool            `yaml:"json_format"`
	DebugMode  bool            `yaml:"debug_mode" env:"RAGCORE_DEBUG"` // Master toggle - false = no logging (production)
	Categories map[string]bool `yaml:"categories"`                     // Per-category toggles
}

// IsCategoryEnabled returns whether logging is enabled for a category.
// Returns false if debug_mode is false (production mode).
// Returns true if debug_mode is true and category is enabled (or not specified).
func (c *LoggingConfig) IsCategoryEnabled(category string) bool {
	if !c.DebugMode {
		return false
	}
	if c.Categories == nil {
		return true
	}
	enabled, exists := c.Categories[category]
	if !exists {
		return true
	}
	return enabled
}

// Settings converts the config into the form the logging package consumes.
func (c *LoggingConfig) Settings() logging.Settings {
	return logging.Settings{
		DebugMode:  c.DebugMode,
		Level:      c.Level,
		JSONFormat: c.JSONFormat,
		Categories: c.Categories,
	}
}
