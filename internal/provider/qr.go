package provider

import (
	"encoding/base64"
	"errors"
	"sync"
	"time"

	"github.com/skip2/go-qrcode"
	"go.mau.fi/whatsmeow"

	ilog "your.org/whatsmeow-buttons/internal/log"
)

// ErrQRNotReady is returned while no pairing code is pending for a session.
var ErrQRNotReady = errors.New("qr not ready")

type qrState struct {
	pngBase64 string
	updatedAt time.Time
}

type qrStore struct {
	mu        sync.RWMutex
	bySession map[string]*qrState
}

func newQRStore() *qrStore {
	return &qrStore{bySession: map[string]*qrState{}}
}

func (s *qrStore) put(sessionID, code string) error {
	png, err := qrcode.Encode(code, qrcode.Medium, 256)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.bySession[sessionID] = &qrState{
		pngBase64: base64.StdEncoding.EncodeToString(png),
		updatedAt: time.Now(),
	}
	s.mu.Unlock()
	return nil
}

func (s *qrStore) get(sessionID string) (*qrState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.bySession[sessionID]
	return st, ok && st != nil && st.pngBase64 != ""
}

func (s *qrStore) clear(sessionID string) {
	s.mu.Lock()
	delete(s.bySession, sessionID)
	s.mu.Unlock()
}

// startQRWatcher must run before Connect; it keeps the latest pairing code
// of the session as a PNG.
func (m *ClientManager) startQRWatcher(sessionID string, ch <-chan whatsmeow.QRChannelItem) {
	entry := ilog.WithSession(sessionID)
	go func() {
		for item := range ch {
			switch item.Event {
			case "code":
				if err := m.qr.put(sessionID, item.Code); err != nil {
					entry.Error("qr encode: %v", err)
				}
			case "success", "timeout":
				m.qr.clear(sessionID)
				entry.Info("qr channel event=%s", item.Event)
			case "error":
				entry.Error("qr channel error: %v", item.Error)
			}
		}
	}()
}

// GetQR returns the base64 PNG of the session's latest QR code.
func (m *ClientManager) GetQR(sessionID string) (string, error) {
	state, ok := m.qr.get(sessionID)
	if !ok {
		return "", ErrQRNotReady
	}
	return state.pngBase64, nil
}
