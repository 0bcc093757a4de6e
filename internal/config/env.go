package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// env reads variables and remembers which required ones were missing or
// malformed, so Load can report them all at once.
type env struct {
	problems []string
}

// must returns a required variable; a missing or empty value is recorded.
func (e *env) must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		e.problems = append(e.problems, fmt.Sprintf("missing required env var: %s", key))
		return ""
	}
	return v
}

// mustInt is like must but parses an integer.
func (e *env) mustInt(key string) int {
	s := e.must(key)
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		e.problems = append(e.problems, fmt.Sprintf("invalid int for %s: %q", key, s))
	}
	return n
}

// dur parses an optional duration, recording malformed values instead of
// silently using the default.
func (e *env) dur(key string, d time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return d
	}
	dur, err := time.ParseDuration(v)
	if err != nil {
		e.problems = append(e.problems, fmt.Sprintf("invalid duration for %s: %q", key, v))
		return d
	}
	return dur
}

func envStr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envBool(k string, d bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return d
}

func envInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return d
}

func envDur(k string, d time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if dur, err := time.ParseDuration(v); err == nil {
		return dur
	}
	return d
}

// envSet parses a comma separated list into an upper-cased set.
func envSet(k, d string) map[string]bool {
	m := map[string]bool{}
	for _, p := range strings.Split(envStr(k, d), ",") {
		p = strings.TrimSpace(strings.ToUpper(p))
		if p != "" {
			m[p] = true
		}
	}
	return m
}
