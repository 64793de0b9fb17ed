package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"
	"golang.org/x/time/rate"
	_ "modernc.org/sqlite"

	"your.org/whatsmeow-buttons/internal/config"
	"your.org/whatsmeow-buttons/internal/interactive"
	ilog "your.org/whatsmeow-buttons/internal/log"
	"your.org/whatsmeow-buttons/internal/status"
)

// ErrSessionNotConnected is returned when a session has no live client.
var ErrSessionNotConnected = errors.New("session not connected")

// clientEntry keeps references needed for sending and cleanup.
type clientEntry struct {
	Client  *whatsmeow.Client
	DB      *sqlstore.Container
	Log     waLog.Logger
	Session string

	// sender is Client in production; tests swap in a fake.
	sender interactive.Sender
}

// WebhookPublisher delivers a Cloud-style webhook payload keyed by the
// session phone digits.
type WebhookPublisher func(routingKey string, payload any) error

// ClientManager keeps one whatsmeow client per session.
type ClientManager struct {
	mu           sync.RWMutex
	clients      map[string]*clientEntry
	sessionStore string
	webhookBase  string
	redisURL     string

	defaultRegion string
	emitOwnEvents bool
	sendRate      float64
	sendBurst     int
	sendTimeout   time.Duration

	// envSet reports whether a setting was pinned through the environment,
	// in which case Redis overrides are ignored.
	envSet func(key string) bool

	ovMu      sync.RWMutex
	overrides map[string]sessionOverrides
	limiters  map[string]*rate.Limiter

	qr        *qrStore
	recipient *ttlCache
	publish   WebhookPublisher
}

type sessionOverrides struct {
	// nil means use the manager default
	emitOwnEvents     *bool
	sendRatePerSecond *float64
}

func NewClientManager(cfg *config.Config) *ClientManager {
	burst := cfg.SendBurst
	if burst < 1 {
		burst = 1
	}
	return &ClientManager{
		clients:       make(map[string]*clientEntry),
		sessionStore:  cfg.SessionStore,
		webhookBase:   cfg.WebhookBase,
		redisURL:      cfg.RedisURL,
		defaultRegion: cfg.DefaultRegion,
		emitOwnEvents: cfg.EmitOwnEvents,
		sendRate:      cfg.SendRatePerSecond,
		sendBurst:     burst,
		sendTimeout:   cfg.SendTimeout,
		envSet:        cfg.IsSet,
		overrides:     make(map[string]sessionOverrides),
		limiters:      make(map[string]*rate.Limiter),
		qr:            newQRStore(),
		recipient:     newTTLCache(recipientTTL),
	}
}

// SetWebhookPublisher routes webhooks through pub instead of HTTP POSTs to
// the webhook base URL.
func (m *ClientManager) SetWebhookPublisher(pub WebhookPublisher) {
	m.publish = pub
}

// ===== Effective config getters (consider per-session overrides) =====

func (m *ClientManager) getEmitOwnEvents(sessionID string) bool {
	m.ovMu.RLock()
	defer m.ovMu.RUnlock()
	if ov, ok := m.overrides[sessionID]; ok && ov.emitOwnEvents != nil {
		return *ov.emitOwnEvents
	}
	return m.emitOwnEvents
}

func (m *ClientManager) getSendRate(sessionID string) float64 {
	m.ovMu.RLock()
	defer m.ovMu.RUnlock()
	if ov, ok := m.overrides[sessionID]; ok && ov.sendRatePerSecond != nil {
		return *ov.sendRatePerSecond
	}
	return m.sendRate
}

// limiter returns the session's send limiter, or nil when sending is not
// rate limited.
func (m *ClientManager) limiter(sessionID string) *rate.Limiter {
	r := m.getSendRate(sessionID)
	if r <= 0 {
		return nil
	}
	m.ovMu.Lock()
	defer m.ovMu.Unlock()
	l, ok := m.limiters[sessionID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(r), m.sendBurst)
		m.limiters[sessionID] = l
	}
	return l
}

// loadSessionOverrides fetches the session config from Redis (if
// configured) and keeps only the values not pinned by env vars.
func (m *ClientManager) loadSessionOverrides(sessionID string) {
	if strings.TrimSpace(m.redisURL) == "" {
		return
	}
	phone := digitsOnly(sessionID)
	if phone == "" {
		return
	}
	cfg, ok := fetchSessionConfig(m.redisURL, phone)
	if !ok {
		return
	}
	m.applyOverrides(sessionID, cfg)
}

func (m *ClientManager) applyOverrides(sessionID string, cfg sessionConfig) {
	var ov sessionOverrides
	if !m.pinned("EMIT_OWN_EVENTS") && cfg.hasEmitOwnEvents {
		v := cfg.emitOwnEvents
		ov.emitOwnEvents = &v
	}
	if !m.pinned("SEND_RATE_PER_SECOND") && cfg.hasSendRate {
		v := cfg.sendRatePerSecond
		ov.sendRatePerSecond = &v
	}
	m.ovMu.Lock()
	m.overrides[sessionID] = ov
	delete(m.limiters, sessionID)
	m.ovMu.Unlock()
}

func (m *ClientManager) pinned(key string) bool {
	return m.envSet != nil && m.envSet(key)
}

func (m *ClientManager) logSessionConfig(sessionID string) {
	m.ovMu.RLock()
	ov := m.overrides[sessionID]
	m.ovMu.RUnlock()
	ilog.WithSession(sessionID).Info(
		"session_config emit_own_events=%t source_emit_own_events=%s send_rate_per_second=%g source_send_rate=%s",
		m.getEmitOwnEvents(sessionID),
		source(m.pinned("EMIT_OWN_EVENTS"), ov.emitOwnEvents != nil),
		m.getSendRate(sessionID),
		source(m.pinned("SEND_RATE_PER_SECOND"), ov.sendRatePerSecond != nil),
	)
}

func source(env bool, hasOverride bool) string {
	if env {
		return "env"
	}
	if hasOverride {
		return "redis"
	}
	return "default"
}

// Connect creates or returns the session client and starts connecting.
// Sessions that were never paired get a QR watcher first.
func (m *ClientManager) Connect(sessionID string) (*whatsmeow.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ent, ok := m.clients[sessionID]; ok && ent.Client != nil {
		return ent.Client, nil
	}

	status.Set(sessionID, status.Connecting)

	if err := os.MkdirAll(m.SessionPath(sessionID), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir session dir: %w", err)
	}

	ctx := context.Background()

	// SESSION_STORE/<sessionID>/session.db
	dbPath := filepath.Join(m.SessionPath(sessionID), "session.db")

	dbLog := ilog.WA("Database")
	clientLog := ilog.WA("Client")

	// PRAGMAs reduce SQLITE_BUSY under concurrent access
	dsn := fmt.Sprintf(
		"file:%s?cache=shared&_pragma=foreign_keys(1)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)",
		dbPath,
	)
	storeContainer, err := sqlstore.New(ctx, "sqlite", dsn, dbLog)
	if err != nil {
		return nil, fmt.Errorf("sqlstore.New: %w", err)
	}

	device, err := storeContainer.GetFirstDevice(ctx)
	if err != nil {
		return nil, closeOnError(storeContainer, sessionID, fmt.Errorf("get first device: %w", err))
	}
	if device == nil {
		device = storeContainer.NewDevice()
	}

	cli := whatsmeow.NewClient(device, clientLog)
	cli.EnableAutoReconnect = true
	cli.AutoTrustIdentity = true

	if cli.Store == nil || cli.Store.ID == nil {
		// the QR channel must be opened before Connect
		qrCh, err := cli.GetQRChannel(ctx)
		if err != nil {
			return nil, closeOnError(storeContainer, sessionID, fmt.Errorf("get QR channel: %w", err))
		}
		m.startQRWatcher(sessionID, qrCh)
	}

	m.loadSessionOverrides(sessionID)
	m.logSessionConfig(sessionID)
	m.registerEventHandlers(cli, sessionID)

	m.clients[sessionID] = &clientEntry{
		Client:  cli,
		DB:      storeContainer,
		Log:     clientLog,
		Session: sessionID,
		sender:  cli,
	}

	go func() {
		if err := cli.Connect(); err != nil {
			clientLog.Errorf("connect error: %v", err)
			status.Set(sessionID, status.Offline)
		}
	}()
	return cli, nil
}

// closeOnError releases a session store that never made it into the
// manager and returns cause.
func closeOnError(c io.Closer, sessionID string, cause error) error {
	if err := c.Close(); err != nil {
		ilog.WithSession(sessionID).Warn("close session store: %v", err)
	}
	return cause
}

func (m *ClientManager) Disconnect(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ent, ok := m.clients[sessionID]; ok {
		if ent.Client != nil {
			ent.Client.Disconnect()
		}
		if ent.DB != nil {
			if err := ent.DB.Close(); err != nil {
				ilog.WithSession(sessionID).Warn("close session store: %v", err)
			}
		}
		delete(m.clients, sessionID)
	}
	m.qr.clear(sessionID)
	status.Set(sessionID, status.Disconnected)
	return nil
}

func (m *ClientManager) Reload(sessionID string) error {
	m.mu.RLock()
	_, ok := m.clients[sessionID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("session %s: %w", sessionID, ErrSessionNotConnected)
	}
	status.Set(sessionID, status.Connecting)
	if err := m.Disconnect(sessionID); err != nil {
		return err
	}
	_, err := m.Connect(sessionID)
	return err
}

// SessionStatus exposes the basic session state.
type SessionStatus struct {
	SessionID     string `json:"session_id"`
	Connected     bool   `json:"connected"`
	LoggedIn      bool   `json:"logged_in"`
	DeviceJID     string `json:"device_jid,omitempty"`
	State         string `json:"state,omitempty"`
	EmitOwnEvents bool   `json:"emit_own_events"`
}

func (m *ClientManager) Status(sessionID string) (SessionStatus, error) {
	m.mu.RLock()
	ent, ok := m.clients[sessionID]
	m.mu.RUnlock()
	if !ok || ent == nil || ent.Client == nil {
		return SessionStatus{}, fmt.Errorf("session %s: %w", sessionID, ErrSessionNotConnected)
	}
	cli := ent.Client
	st := SessionStatus{
		SessionID:     sessionID,
		Connected:     cli.IsConnected(),
		LoggedIn:      cli.IsLoggedIn(),
		State:         status.Get(sessionID),
		EmitOwnEvents: m.getEmitOwnEvents(sessionID),
	}
	if cli.Store != nil && cli.Store.ID != nil {
		st.DeviceJID = cli.Store.ID.String()
	}
	return st, nil
}

func (m *ClientManager) GetClient(sessionID string) (*whatsmeow.Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ent, ok := m.clients[sessionID]
	if !ok || ent == nil {
		return nil, false
	}
	return ent.Client, ent.Client != nil
}

func (m *ClientManager) SessionPath(sessionID string) string {
	return filepath.Join(m.sessionStore, sessionID)
}

func (m *ClientManager) mustHave(sessionID string) (*clientEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if ent, ok := m.clients[sessionID]; ok && ent != nil && ent.sender != nil {
		return ent, nil
	}
	return nil, fmt.Errorf("session %s: %w", sessionID, ErrSessionNotConnected)
}

// RestoreSavedSessions scans SESSION_STORE and reconnects every session
// that has a session.db.
func (m *ClientManager) RestoreSavedSessions() ([]string, error) {
	entries, err := os.ReadDir(m.sessionStore)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read session store: %w", err)
	}
	var restored []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		sid := e.Name()
		dbFile := filepath.Join(m.SessionPath(sid), "session.db")
		if _, err := os.Stat(dbFile); err == nil {
			go func(id string) {
				if _, err := m.Connect(id); err != nil {
					ilog.WithSession(id).Error("restore session: %v", err)
				}
			}(sid)
			restored = append(restored, sid)
		}
	}
	return restored, nil
}
