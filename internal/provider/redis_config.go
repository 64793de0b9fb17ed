package provider

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// sessionConfig holds the subset of the shared session config this adapter
// reads, with presence flags so absent keys keep the defaults.
type sessionConfig struct {
	emitOwnEvents     bool
	hasEmitOwnEvents  bool
	sendRatePerSecond float64
	hasSendRate       bool
}

// fetchSessionConfig reads unoapi-config:<phone> from Redis.
// It returns (config, true) if found and parsed, otherwise (_, false).
func fetchSessionConfig(redisURL, phone string) (sessionConfig, bool) {
	if strings.TrimSpace(redisURL) == "" || strings.TrimSpace(phone) == "" {
		return sessionConfig{}, false
	}
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return sessionConfig{}, false
	}
	c := redis.NewClient(opt)
	defer c.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s, err := c.Get(ctx, "unoapi-config:"+phone).Result()
	if err != nil || strings.TrimSpace(s) == "" {
		return sessionConfig{}, false
	}
	return parseSessionConfig([]byte(s))
}

func parseSessionConfig(raw []byte) (sessionConfig, bool) {
	out := sessionConfig{}
	m := map[string]any{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return out, false
	}
	if v, ok := m["emitOwnEvents"]; ok {
		if b, ok2 := asBool(v); ok2 {
			out.emitOwnEvents = b
			out.hasEmitOwnEvents = true
		}
	}
	if v, ok := m["sendRatePerSecond"]; ok {
		if f, ok2 := asFloat(v); ok2 && f >= 0 {
			out.sendRatePerSecond = f
			out.hasSendRate = true
		}
	}
	return out, true
}

// Helpers to decode loosely-typed JSON values
func asBool(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		s := strings.ToLower(strings.TrimSpace(t))
		if s == "true" || s == "1" {
			return true, true
		}
		if s == "false" || s == "0" {
			return false, true
		}
		return false, false
	case float64:
		return t != 0, true
	default:
		return false, false
	}
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
