// internal/config/validate.go
package config

import (
	"net/url"
)

var validLogLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "error": true, "": true,
}

// Validate checks the configuration and returns every invalid setting.
// Zero values are allowed; defaults fill them in.
func (c *Config) Validate() []Problem {
	var ps problems

	if c.Server.Port != 0 && (c.Server.Port < 1 || c.Server.Port > 65535) {
		ps.add("server.port", "must be between 1 and 65535, got %d", c.Server.Port)
	}
	if !validLogLevels[c.Server.LogLevel] {
		ps.add("server.log_level", "must be one of debug, info, warn, error; got %q", c.Server.LogLevel)
	}

	if c.Jobs.Workers < 0 {
		ps.add("jobs.workers", "must be positive, got %d", c.Jobs.Workers)
	}
	if c.Jobs.QueueSize < 0 {
		ps.add("jobs.queue_size", "must be positive, got %d", c.Jobs.QueueSize)
	}
	for _, d := range []struct {
		key string
		val Duration
	}{
		{"jobs.max_duration", c.Jobs.MaxDuration},
		{"jobs.retention", c.Jobs.Retention},
		{"jobs.sweep_interval", c.Jobs.SweepInterval},
	} {
		if d.val.Duration < 0 {
			ps.add(d.key, "must not be negative, got %s", d.val.Duration)
		}
	}

	if c.RateLimit.RequestsPerSecond < 0 {
		ps.add("ratelimit.requests_per_second", "must not be negative")
	}
	if c.RateLimit.Burst < 0 {
		ps.add("ratelimit.burst", "must not be negative")
	}

	if c.Redis != nil {
		if c.Redis.URL == "" {
			ps.add("redis.url", "required when redis is configured")
		} else if u, err := url.Parse(c.Redis.URL); err != nil || (u.Scheme != "redis" && u.Scheme != "rediss") {
			ps.add("redis.url", "must be a redis:// or rediss:// URL, got %q", c.Redis.URL)
		}
	}

	return ps
}
