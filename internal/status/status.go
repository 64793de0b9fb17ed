package status

import (
	"context"
	"strings"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	ilog "your.org/whatsmeow-buttons/internal/log"
)

const (
	keyPrefix    = "unoapi-status:"
	redisTimeout = 2 * time.Second
)

// Session states shared with UnoAPI.
const (
	Connecting      = "connecting"
	Online          = "online"
	Offline         = "offline"
	Disconnected    = "disconnected"
	RestartRequired = "restart_required"
	Standby         = "standby"
)

var known = map[string]bool{
	Connecting: true, Online: true, Offline: true,
	Disconnected: true, RestartRequired: true, Standby: true,
}

// Manager writes session states to Redis under unoapi-status:{phone} and
// keeps the last value of every session in memory.
type Manager struct {
	client *redis.Client

	mu   sync.RWMutex
	last map[string]string
}

var mgr = &Manager{last: map[string]string{}}

// Init points the status writer at redisURL. An empty or unparsable URL
// keeps the in-memory view only.
func Init(redisURL string) {
	m := &Manager{last: map[string]string{}}
	if strings.TrimSpace(redisURL) != "" {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			ilog.Warnf("status: invalid REDIS_URL, redis writes disabled: %v", err)
		} else {
			m.client = redis.NewClient(opt)
			ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
			if err := m.client.Ping(ctx).Err(); err != nil {
				ilog.Warnf("status: redis ping failed: %v", err)
			}
			cancel()
		}
	}
	mgr = m
}

// Set records value for the session. Unknown values are ignored.
func Set(sessionID, value string) {
	value = strings.TrimSpace(value)
	phone := digitsOnly(sessionID)
	if phone == "" || !known[value] {
		return
	}
	m := mgr
	m.mu.Lock()
	m.last[phone] = value
	m.mu.Unlock()

	if m.client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()
	if err := m.client.Set(ctx, keyPrefix+phone, value, 0).Err(); err != nil {
		ilog.Debugf("status: redis set %s failed: %v", phone, err)
	}
}

// Get returns the last state recorded for the session, or "" if none.
func Get(sessionID string) string {
	m := mgr
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last[digitsOnly(sessionID)]
}

// Close releases the Redis client, if any.
func Close() error {
	if mgr.client == nil {
		return nil
	}
	return mgr.client.Close()
}

func digitsOnly(s string) string {
	b := make([]rune, 0, len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b = append(b, r)
		}
	}
	return string(b)
}
