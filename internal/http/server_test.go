package http

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.mau.fi/whatsmeow"

	"your.org/whatsmeow-buttons/internal/config"
	"your.org/whatsmeow-buttons/internal/interactive"
	"your.org/whatsmeow-buttons/internal/provider"
)

type fakeProvider struct {
	connected map[string]bool
	qr        string
	sent      []provider.OutgoingMessage
	sendErr   error
}

func (f *fakeProvider) Connect(id string) (*whatsmeow.Client, error) {
	if id == "broken" {
		return nil, errors.New("store unavailable")
	}
	f.connected[id] = true
	return nil, nil
}

func (f *fakeProvider) Disconnect(id string) error {
	delete(f.connected, id)
	return nil
}

func (f *fakeProvider) Reload(id string) error {
	if !f.connected[id] {
		return fmt.Errorf("session %s: %w", id, provider.ErrSessionNotConnected)
	}
	return nil
}

func (f *fakeProvider) GetQR(id string) (string, error) {
	if f.qr == "" {
		return "", provider.ErrQRNotReady
	}
	return f.qr, nil
}

func (f *fakeProvider) Status(id string) (provider.SessionStatus, error) {
	if !f.connected[id] {
		return provider.SessionStatus{}, provider.ErrSessionNotConnected
	}
	return provider.SessionStatus{SessionID: id, Connected: true}, nil
}

func (f *fakeProvider) ResolveDest(id, to string) (provider.ResolveResult, error) {
	if !f.connected[id] {
		return provider.ResolveResult{}, provider.ErrSessionNotConnected
	}
	return provider.ResolveResult{Input: to, DestJID: to + "@s.whatsapp.net"}, nil
}

func (f *fakeProvider) Send(ctx context.Context, msg provider.OutgoingMessage) (*provider.SendResult, error) {
	f.sent = append(f.sent, msg)
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	if msg.Type == "buttons" && msg.Buttons == nil {
		return nil, fmt.Errorf("%w: missing buttons content", provider.ErrInvalidMessage)
	}
	if id, _ := ctx.Value(provider.CtxKeyPhoneNumberID).(string); id != msg.SessionID {
		return nil, errors.New("session not propagated")
	}
	return &provider.SendResult{MessageID: "ID1", To: msg.To + "@s.whatsapp.net", Type: msg.Type}, nil
}

func newTestServer() (*Server, *fakeProvider) {
	fp := &fakeProvider{connected: map[string]bool{}}
	return NewServer(&config.Config{HTTPAddr: ":0"}, fp), fp
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestSessionLifecycle(t *testing.T) {
	s, fp := newTestServer()

	if rec := do(t, s, http.MethodPost, "/sessions/5562991728088/connect", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("connect = %d", rec.Code)
	}
	if !fp.connected["5562991728088"] {
		t.Fatal("session not connected")
	}
	if rec := do(t, s, http.MethodPost, "/sessions/broken/connect", ""); rec.Code != http.StatusInternalServerError {
		t.Fatalf("broken connect = %d", rec.Code)
	}

	rec := do(t, s, http.MethodGet, "/sessions/5562991728088/status", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"connected":true`) {
		t.Fatalf("status = %d %s", rec.Code, rec.Body)
	}
	if rec := do(t, s, http.MethodPost, "/sessions/5562991728088/reload", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("reload = %d", rec.Code)
	}
	if rec := do(t, s, http.MethodPost, "/sessions/5562991728088/disconnect", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("disconnect = %d", rec.Code)
	}
	if rec := do(t, s, http.MethodPost, "/sessions/5562991728088/reload", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("reload after disconnect = %d", rec.Code)
	}
	if rec := do(t, s, http.MethodGet, "/sessions/5562991728088/status", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("status after disconnect = %d", rec.Code)
	}
}

func TestQR(t *testing.T) {
	s, fp := newTestServer()
	if rec := do(t, s, http.MethodGet, "/sessions/1/qr", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("qr before scan = %d", rec.Code)
	}
	fp.qr = base64.StdEncoding.EncodeToString([]byte("\x89PNG"))
	rec := do(t, s, http.MethodGet, "/sessions/1/qr", "")
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "image/png" || rec.Body.String() != "\x89PNG" {
		t.Fatalf("qr = %d %q", rec.Code, rec.Body.String())
	}
}

func TestResolve(t *testing.T) {
	s, fp := newTestServer()
	fp.connected["1"] = true
	if rec := do(t, s, http.MethodGet, "/sessions/1/resolve", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing to = %d", rec.Code)
	}
	rec := do(t, s, http.MethodGet, "/sessions/1/resolve?to=5511999999999", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "5511999999999@s.whatsapp.net") {
		t.Fatalf("resolve = %d %s", rec.Code, rec.Body)
	}
	if rec := do(t, s, http.MethodGet, "/sessions/2/resolve?to=1", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("resolve unknown session = %d", rec.Code)
	}
}

func TestSendMessage(t *testing.T) {
	s, fp := newTestServer()

	rec := do(t, s, http.MethodPost, "/sessions/5562991728088/messages",
		`{"type":"Buttons","to":"5511999999999","buttons":{"text":"Hi","buttons":[{"id":"a","text":"A"}]}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("send = %d %s", rec.Code, rec.Body)
	}
	if rec.Header().Get(requestIDHeader) == "" {
		t.Fatal("missing request id header")
	}
	if got := fp.sent[0]; got.Type != "buttons" || got.SessionID != "5562991728088" || got.Buttons == nil {
		t.Fatalf("sent = %#v", got)
	}

	t.Run("envelope validation", func(t *testing.T) {
		rec := do(t, s, http.MethodPost, "/sessions/1/messages", `{"type":"image","to":"1"}`)
		if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "type must be one of") {
			t.Fatalf("bad type = %d %s", rec.Code, rec.Body)
		}
		rec = do(t, s, http.MethodPost, "/sessions/1/messages", `{"type":"text"}`)
		if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "to is required") {
			t.Fatalf("missing to = %d %s", rec.Code, rec.Body)
		}
		rec = do(t, s, http.MethodPost, "/sessions/1/messages", `{`)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("bad json = %d", rec.Code)
		}
	})

	t.Run("missing content", func(t *testing.T) {
		rec := do(t, s, http.MethodPost, "/sessions/1/messages", `{"type":"buttons","to":"1"}`)
		if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "missing buttons content") {
			t.Fatalf("missing buttons = %d %s", rec.Code, rec.Body)
		}
	})

	t.Run("validation error", func(t *testing.T) {
		fp.sendErr = &interactive.ValidationError{Message: "Invalid buttons payload", Context: "sendButtons", Errors: []string{"text is mandatory"}}
		rec := do(t, s, http.MethodPost, "/sessions/1/messages", `{"type":"buttons","to":"1","buttons":{}}`)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("code = %d", rec.Code)
		}
		var body map[string]any
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatal(err)
		}
		if body["name"] != "InteractiveValidationError" || body["context"] != "sendButtons" {
			t.Fatalf("body = %v", body)
		}
	})

	t.Run("not connected", func(t *testing.T) {
		fp.sendErr = fmt.Errorf("session 1: %w", provider.ErrSessionNotConnected)
		if rec := do(t, s, http.MethodPost, "/sessions/1/messages", `{"type":"text","to":"1","body":"x"}`); rec.Code != http.StatusNotFound {
			t.Fatalf("code = %d", rec.Code)
		}
	})

	t.Run("relay failure", func(t *testing.T) {
		fp.sendErr = errors.New("websocket closed")
		if rec := do(t, s, http.MethodPost, "/sessions/1/messages", `{"type":"text","to":"1","body":"x"}`); rec.Code != http.StatusBadGateway {
			t.Fatalf("code = %d", rec.Code)
		}
	})
}

func TestValidateButtonsEndpoint(t *testing.T) {
	s, _ := newTestServer()
	rec := do(t, s, http.MethodPost, "/validate/buttons", `{"text":"Hi","buttons":[{"id":"a","text":"A"},{"name":"cta_url","buttonParamsJson":"{\"display_text\":\"Go\",\"url\":\"https://x.y\"}"}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	var resp struct {
		Valid              bool     `json:"valid"`
		Errors             []string `json:"errors"`
		InteractiveButtons []struct {
			Name             string `json:"name"`
			ButtonParamsJSON string `json:"buttonParamsJson"`
		} `json:"interactiveButtons"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Valid || len(resp.InteractiveButtons) != 2 || resp.InteractiveButtons[0].Name != "quick_reply" {
		t.Fatalf("resp = %s", rec.Body)
	}

	rec = do(t, s, http.MethodPost, "/validate/buttons", `{"buttons":[]}`)
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Valid || len(resp.Errors) == 0 {
		t.Fatalf("invalid payload accepted: %s", rec.Body)
	}
}

func TestValidateInteractiveEndpoint(t *testing.T) {
	s, _ := newTestServer()
	rec := do(t, s, http.MethodPost, "/validate/interactive", `{"text":"Hi","interactiveButtons":[{"name":"cta_copy","buttonParamsJson":"{\"display_text\":\"Copy\",\"copy_code\":\"X\"}"}]}`)
	var resp struct {
		Valid      bool   `json:"valid"`
		ButtonType string `json:"buttonType"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Valid || resp.ButtonType != interactive.TypeNativeFlow {
		t.Fatalf("resp = %s", rec.Body)
	}

	rec = do(t, s, http.MethodPost, "/validate/interactive", `{"text":"Hi","interactiveButtons":[{"name":"bogus","buttonParamsJson":"{}"}]}`)
	if !strings.Contains(rec.Body.String(), "not allowed") {
		t.Fatalf("resp = %s", rec.Body)
	}
}

func TestProbes(t *testing.T) {
	s, _ := newTestServer()
	if rec := do(t, s, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("healthz = %d", rec.Code)
	}
	if rec := do(t, s, http.MethodGet, "/readyz", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz before start = %d", rec.Code)
	}
	s.ready.Store(true)
	if rec := do(t, s, http.MethodGet, "/readyz", ""); rec.Code != http.StatusOK {
		t.Fatalf("readyz = %d", rec.Code)
	}
	rec := do(t, s, http.MethodGet, "/version", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"name":"whatsmeow-buttons"`) {
		t.Fatalf("version = %s", rec.Body)
	}
}

func TestRequestIDPropagation(t *testing.T) {
	s, _ := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Header().Get(requestIDHeader) != "abc-123" {
		t.Fatalf("request id = %q", rec.Header().Get(requestIDHeader))
	}
}
