package http

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"go.mau.fi/whatsmeow"

	"your.org/whatsmeow-buttons/internal/config"
	"your.org/whatsmeow-buttons/internal/interactive"
	ilog "your.org/whatsmeow-buttons/internal/log"
	"your.org/whatsmeow-buttons/internal/provider"
	"your.org/whatsmeow-buttons/internal/version"
)

const maxBodyBytes = 1 << 20

// Provider is the session surface the HTTP API drives. *provider.ClientManager
// implements it.
type Provider interface {
	Connect(sessionID string) (*whatsmeow.Client, error)
	Disconnect(sessionID string) error
	Reload(sessionID string) error
	GetQR(sessionID string) (string, error)
	Status(sessionID string) (provider.SessionStatus, error)
	ResolveDest(sessionID, to string) (provider.ResolveResult, error)
	Send(ctx context.Context, msg provider.OutgoingMessage) (*provider.SendResult, error)
}

// Server exposes session lifecycle, synchronous sends, dry-run validation
// and probes. Start marks it ready; Shutdown clears the flag.
type Server struct {
	cfg      *config.Config
	provider Provider
	validate *requestValidator
	router   *mux.Router
	httpSrv  *http.Server
	ready    atomic.Bool
}

// NewServer wires all routes on a gorilla/mux router.
func NewServer(cfg *config.Config, p Provider) *Server {
	s := &Server{
		cfg:      cfg,
		provider: p,
		validate: newRequestValidator(),
	}
	router := mux.NewRouter()
	router.Use(requestID, accessLog)

	// Session management endpoints
	router.HandleFunc("/sessions/{id}/connect", s.handleConnect).Methods(http.MethodPost)
	router.HandleFunc("/sessions/{id}/disconnect", s.handleDisconnect).Methods(http.MethodPost)
	router.HandleFunc("/sessions/{id}/reload", s.handleReload).Methods(http.MethodPost)
	router.HandleFunc("/sessions/{id}/qr", s.handleQR).Methods(http.MethodGet)
	router.HandleFunc("/sessions/{id}/status", s.handleStatus).Methods(http.MethodGet)
	router.HandleFunc("/sessions/{id}/resolve", s.handleResolve).Methods(http.MethodGet)
	router.HandleFunc("/sessions/{id}/messages", s.handleSend).Methods(http.MethodPost)

	// Dry-run validation
	router.HandleFunc("/validate/buttons", s.handleValidateButtons).Methods(http.MethodPost)
	router.HandleFunc("/validate/interactive", s.handleValidateInteractive).Methods(http.MethodPost)

	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/readyz", s.handleReady).Methods(http.MethodGet)
	router.HandleFunc("/version", s.handleVersion).Methods(http.MethodGet)

	s.router = router
	s.httpSrv = &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start begins serving. It returns nil once Shutdown has been called.
func (s *Server) Start() error {
	s.ready.Store(true)
	ilog.Infof("HTTP server listening on %s", s.cfg.HTTPAddr)
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the HTTP server. /readyz answers 503 afterwards.
func (s *Server) Shutdown(ctx context.Context) error {
	s.ready.Store(false)
	return s.httpSrv.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, target any) error {
	defer r.Body.Close()
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(target)
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := s.provider.Connect(id); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, err.Error())
		return
	}
	// connect proceeds asynchronously
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.provider.Disconnect(id); err != nil {
		ilog.WithSession(id).WithRequestID(requestIDFrom(r)).Warn("disconnect: %v", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.provider.Reload(id); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, provider.ErrSessionNotConnected) {
			code = http.StatusNotFound
		}
		w.WriteHeader(code)
		_, _ = io.WriteString(w, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleQR answers the latest QR code as raw PNG bytes.
func (s *Server) handleQR(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	qr, err := s.provider.GetQR(id)
	if err != nil {
		if errors.Is(err, provider.ErrQRNotReady) || errors.Is(err, provider.ErrSessionNotConnected) {
			w.WriteHeader(http.StatusNotFound)
		} else {
			w.WriteHeader(http.StatusInternalServerError)
		}
		_, _ = io.WriteString(w, err.Error())
		return
	}
	buf, err := base64.StdEncoding.DecodeString(qr)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.provider.Status(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	req := resolveRequest{
		SessionID: mux.Vars(r)["id"],
		To:        strings.TrimSpace(r.URL.Query().Get("to")),
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.provider.ResolveDest(req.SessionID, req.To)
	if err != nil {
		code := http.StatusBadRequest
		if errors.Is(err, provider.ErrSessionNotConnected) {
			code = http.StatusNotFound
		}
		writeError(w, code, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleSend relays one OutgoingMessage synchronously. Validation failures
// come back as the ValidationError JSON with 400.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var msg provider.OutgoingMessage
	if err := decodeJSON(w, r, &msg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	msg.SessionID = id
	msg.Type = strings.ToLower(strings.TrimSpace(msg.Type))
	if msg.MessageID == "" {
		msg.MessageID = r.Header.Get("Idempotency-Key")
	}
	if err := s.validate.Struct(sendRequest{SessionID: id, Type: msg.Type, To: strings.TrimSpace(msg.To)}); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := context.WithValue(r.Context(), provider.CtxKeyPhoneNumberID, id)
	res, err := s.provider.Send(ctx, msg)
	if err != nil {
		entry := ilog.WithSession(id).WithRequestID(requestIDFrom(r))
		var verr *interactive.ValidationError
		switch {
		case errors.As(err, &verr):
			entry.Strs(ilog.LevelWarn, "interactive payload rejected", "errors", verr.Errors)
			writeJSON(w, http.StatusBadRequest, verr)
		case errors.Is(err, provider.ErrSessionNotConnected):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, provider.ErrInvalidMessage):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			entry.Error("send failed: %v", err)
			writeError(w, http.StatusBadGateway, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type validateButtonsResponse struct {
	interactive.Result
	Authoring          interactive.Result    `json:"authoring"`
	InteractiveButtons []*interactive.Button `json:"interactiveButtons,omitempty"`
}

// handleValidateButtons runs the SendButtons checks without sending and
// returns the native buttons the payload would be converted to.
func (s *Server) handleValidateButtons(w http.ResponseWriter, r *http.Request) {
	var p interactive.ButtonsPayload
	if err := decodeJSON(w, r, &p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	resp := validateButtonsResponse{
		Result:    interactive.ValidateSendButtonsPayload(&p),
		Authoring: interactive.ValidateAuthoringButtons(p.Buttons),
	}
	if resp.Valid && resp.Authoring.Valid {
		resp.InteractiveButtons = interactive.BuildInteractiveButtons(resp.Authoring.Cleaned)
	}
	resp.Authoring.Cleaned = nil
	writeJSON(w, http.StatusOK, resp)
}

type validateInteractiveResponse struct {
	interactive.Result
	ButtonType string              `json:"buttonType,omitempty"`
	Content    *interactive.Result `json:"content,omitempty"`
}

// handleValidateInteractive runs the strict payload checks and, when they
// pass, the checks applied to the built message.
func (s *Server) handleValidateInteractive(w http.ResponseWriter, r *http.Request) {
	var p interactive.InteractivePayload
	if err := decodeJSON(w, r, &p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	resp := validateInteractiveResponse{Result: interactive.ValidateSendInteractiveMessagePayload(&p)}
	if resp.Valid {
		msg := interactive.ConvertToInteractiveMessage(&p)
		content := interactive.ValidateInteractiveMessageContent(msg)
		resp.Content = &content
		resp.ButtonType = interactive.GetButtonType(interactive.NormalizeMessageContent(msg))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ready")
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, version.Info())
}
