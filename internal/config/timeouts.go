package config

import "time"

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// GetProcessTimeout returns the caller-side wait for one conversation turn.
func (c *Config) GetProcessTimeout() time.Duration {
	return parseDuration(c.Orchestrator.ProcessTimeout, 30*time.Second)
}

// GetIngestTimeout returns the caller-side wait for one ingestion.
func (c *Config) GetIngestTimeout() time.Duration {
	return parseDuration(c.Orchestrator.IngestTimeout, 60*time.Second)
}

// GetServerReadTimeout returns the HTTP read timeout.
func (c *Config) GetServerReadTimeout() time.Duration {
	return parseDuration(c.Server.ReadTimeout, 15*time.Second)
}

// GetServerWriteTimeout returns the HTTP write timeout. Streaming responses need it long.
func (c *Config) GetServerWriteTimeout() time.Duration {
	return parseDuration(c.Server.WriteTimeout, 300*time.Second)
}

// GetWatchDebounce returns the quiet period before a changed file is ingested.
func (c *Config) GetWatchDebounce() time.Duration {
	return parseDuration(c.Watcher.Debounce, 500*time.Millisecond)
}
