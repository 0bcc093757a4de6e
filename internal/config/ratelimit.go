package config

import "time"

// RateLimitConfig drives the Redis token bucket.  Credential endpoints
// (login, register, refresh) get their own, smaller bucket so password
// guessing is throttled harder than ordinary reads.
type RateLimitConfig struct {
	Enabled        bool
	Capacity       int
	RefillTokens   int
	RefillInterval time.Duration
	TTL            time.Duration
	KeyStrategy    string
	Prefix         string
	Debug          bool
}

func loadRateLimitConfig() RateLimitConfig {
	def := RateLimitConfig{
		Enabled:        envBool("RATE_LIMIT_ENABLED", true),
		Capacity:       envInt("RATE_LIMIT_CAPACITY", 60),
		RefillTokens:   envInt("RATE_LIMIT_REFILL_TOKENS", 1),
		RefillInterval: envDur("RATE_LIMIT_REFILL_INTERVAL", time.Second),
		TTL:            envDur("RATE_LIMIT_TTL", 10*time.Minute),
		KeyStrategy:    envStr("RATE_LIMIT_KEY_STRATEGY", "ip_user_route"),
		Prefix:         envStr("RATE_LIMIT_PREFIX", "rl"),
		Debug:          envBool("RATE_LIMIT_DEBUG", false),
	}
	if b := envInt("RATE_LIMIT_BURST", -1); b > 0 {
		def.Capacity = b
	}
	if every := envDur("RATE_LIMIT_REFILL_EVERY", 0); every > 0 {
		def.RefillTokens = 1
		def.RefillInterval = every
	}
	return def.normalized()
}

// ForAuth derives the bucket for credential endpoints: capacity
// RATE_LIMIT_AUTH_CAPACITY (default 10), one token back every
// RATE_LIMIT_AUTH_REFILL_EVERY (default 6s), keyed by client IP and route.
func (c RateLimitConfig) ForAuth() RateLimitConfig {
	a := c
	a.Capacity = envInt("RATE_LIMIT_AUTH_CAPACITY", 10)
	a.RefillTokens = 1
	a.RefillInterval = envDur("RATE_LIMIT_AUTH_REFILL_EVERY", 6*time.Second)
	a.KeyStrategy = "ip_route"
	a.Prefix = c.Prefix + ":auth"
	return a.normalized()
}

func (c RateLimitConfig) normalized() RateLimitConfig {
	if c.Capacity < 1 {
		c.Capacity = 1
	}
	if c.RefillTokens < 1 {
		c.RefillTokens = 1
	}
	if c.RefillInterval <= 0 {
		c.RefillInterval = time.Second
	}
	if minTTL := 5 * c.RefillInterval; c.TTL < minTTL {
		c.TTL = minTTL
	}
	return c
}
