package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mau.fi/whatsmeow"
	goE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"

	"your.org/whatsmeow-buttons/internal/interactive"
	"your.org/whatsmeow-buttons/internal/log"
)

// Context key used to carry the wildcard suffix (e.g., phone_number_id)
// extracted from the AMQP routing key into ClientManager.Send.
type ctxKey string

// CtxKeyPhoneNumberID is the key to read/write the phone number id in context.
const CtxKeyPhoneNumberID ctxKey = "phone_number_id"

// ErrInvalidMessage marks OutgoingMessage problems the caller has to fix:
// missing content, an unparsable recipient or an unsupported type.
var ErrInvalidMessage = errors.New("invalid message")

// Supported OutgoingMessage types.
const (
	TypeText        = "text"
	TypeButtons     = "buttons"
	TypeInteractive = "interactive"
)

// TextContent represents {"text":{"body":"..."}}
type TextContent struct {
	Body string `json:"body"`
}

type MessageContext struct {
	ID           string   `json:"id,omitempty"`
	MessageID    string   `json:"message_id,omitempty"`
	StanzaId     string   `json:"stanzaId,omitempty"`
	Stanza_id    string   `json:"stanza_id,omitempty"`
	Participant  string   `json:"participant,omitempty"`
	QuotedText   string   `json:"quoted_text,omitempty"`
	MentionedJid []string `json:"mentioned_jid,omitempty"`
	Mentions     []string `json:"mentions,omitempty"`
}

type OutgoingMessage struct {
	MessagingProduct string                          `json:"messaging_product,omitempty"`
	Type             string                          `json:"type"`
	To               string                          `json:"to"`
	Body             string                          `json:"body,omitempty"`
	Text             *TextContent                    `json:"text,omitempty"`
	Buttons          *interactive.ButtonsPayload     `json:"buttons,omitempty"`
	Interactive      *interactive.InteractivePayload `json:"interactive,omitempty"`
	SessionID        string                          `json:"session_id"`
	MessageID        string                          `json:"message_id,omitempty"`
	Context          *MessageContext                 `json:"context,omitempty"`
	Mentions         []string                        `json:"mentions,omitempty"`
}

// IsEmpty reports whether no sendable content was decoded.
func (o OutgoingMessage) IsEmpty() bool {
	return strings.TrimSpace(o.Type) == "" && o.Text == nil && strings.TrimSpace(o.Body) == "" &&
		o.Buttons == nil && o.Interactive == nil
}

// SendResult is returned for every relayed message.
type SendResult struct {
	MessageID  string    `json:"message_id"`
	To         string    `json:"to"`
	Type       string    `json:"type"`
	ButtonType string    `json:"button_type,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Send relays msg; the session comes from the context (routing key) or the
// payload. Validation failures are returned as *interactive.ValidationError.
func (m *ClientManager) Send(ctx context.Context, msg OutgoingMessage) (*SendResult, error) {
	sessionID := strings.TrimSpace(msg.SessionID)
	if v := ctx.Value(CtxKeyPhoneNumberID); v != nil {
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			sessionID = strings.TrimSpace(s)
		}
	}
	if sessionID == "" {
		return nil, fmt.Errorf("%w: missing session_id (not in context nor payload)", ErrInvalidMessage)
	}

	ent, err := m.mustHave(sessionID)
	if err != nil {
		return nil, err
	}
	entry := log.WithSession(sessionID).WithMessageID(msg.MessageID)

	jid, err := m.resolveRecipient(msg.To)
	if err != nil {
		return nil, fmt.Errorf("%w: recipient %q: %v", ErrInvalidMessage, msg.To, err)
	}
	ctxInfo := m.buildContextInfo(msg)

	if l := m.limiter(sessionID); l != nil {
		if err := l.Wait(ctx); err != nil {
			return nil, fmt.Errorf("send rate limit: %w", err)
		}
	}

	emitOwn := m.getEmitOwnEvents(sessionID)
	opts := interactive.SendOptions{
		MessageID:     types.MessageID(strings.TrimSpace(msg.MessageID)),
		Timeout:       m.sendTimeout,
		EmitOwnEvents: emitOwn,
		OnOwnMessage: func(g interactive.GeneratedMessage) {
			if err := m.emitCloudOutgoingInteractive(sessionID, g); err != nil {
				entry.Error("webhook outgoing interactive error: %v", err)
			}
		},
		Log: entry,
	}

	typ := strings.ToLower(strings.TrimSpace(msg.Type))
	var gen *interactive.GeneratedMessage
	switch typ {
	case TypeText:
		body := strings.TrimSpace(msg.Body)
		if body == "" && msg.Text != nil {
			body = strings.TrimSpace(msg.Text.Body)
		}
		if body == "" {
			return nil, fmt.Errorf("%w: empty text body", ErrInvalidMessage)
		}
		gen, err = m.sendText(ctx, ent.sender, jid, body, ctxInfo, opts)
		if err == nil && emitOwn && !isGroupJID(jid) {
			go func(id types.MessageID) {
				if err := m.emitCloudOutgoingText(sessionID, jid, id, body); err != nil {
					entry.Error("webhook outgoing text error: %v", err)
				}
			}(gen.ID)
		}

	case TypeButtons:
		if msg.Buttons == nil {
			return nil, fmt.Errorf("%w: missing buttons content", ErrInvalidMessage)
		}
		p := *msg.Buttons
		p.ContextInfo = ctxInfo
		gen, err = interactive.SendButtons(ctx, ent.sender, jid, &p, opts)

	case TypeInteractive:
		if msg.Interactive == nil {
			return nil, fmt.Errorf("%w: missing interactive content", ErrInvalidMessage)
		}
		p := *msg.Interactive
		p.ContextInfo = ctxInfo
		gen, err = interactive.SendInteractiveMessage(ctx, ent.sender, jid, &p, opts)

	default:
		return nil, fmt.Errorf("%w: unsupported message type %q", ErrInvalidMessage, msg.Type)
	}
	if err != nil {
		entry.Error("send %s failed: %v", typ, err)
		return nil, err
	}

	entry.WithMessageID(string(gen.ID)).Info("%s sent to %s", typ, jid.String())
	if err := m.emitCloudSent(sessionID, jid, gen.ID); err != nil {
		entry.Error("webhook sent status error: %v", err)
	}
	return &SendResult{
		MessageID:  string(gen.ID),
		To:         jid.String(),
		Type:       typ,
		ButtonType: gen.ButtonType,
		Timestamp:  gen.Timestamp,
	}, nil
}

func (m *ClientManager) sendText(ctx context.Context, sender interactive.Sender, jid types.JID, body string, ctxInfo *goE2E.ContextInfo, opts interactive.SendOptions) (*interactive.GeneratedMessage, error) {
	var wire *goE2E.Message
	if ctxInfo != nil {
		wire = &goE2E.Message{
			ExtendedTextMessage: &goE2E.ExtendedTextMessage{
				Text:        proto.String(body),
				ContextInfo: ctxInfo,
			},
		}
	} else {
		wire = &goE2E.Message{Conversation: proto.String(body)}
	}
	id := opts.MessageID
	if id == "" {
		id = sender.GenerateMessageID()
	}
	if _, err := sender.SendMessage(ctx, jid, wire, whatsmeow.SendRequestExtra{ID: id, Timeout: opts.Timeout}); err != nil {
		return nil, fmt.Errorf("relay text message %s to %s: %w", id, jid, err)
	}
	return &interactive.GeneratedMessage{ID: id, Chat: jid, Message: wire, Timestamp: time.Now()}, nil
}

// buildContextInfo maps the quoted-reply and mention fields of msg, or
// returns nil when there are none.
func (m *ClientManager) buildContextInfo(msg OutgoingMessage) *goE2E.ContextInfo {
	if msg.Context == nil && len(msg.Mentions) == 0 {
		return nil
	}
	var stanzaID string
	if msg.Context != nil {
		stanzaID = firstNonEmpty(msg.Context.StanzaId, msg.Context.Stanza_id, msg.Context.ID, msg.Context.MessageID)
	}
	var mList []string
	if msg.Context != nil {
		mList = append(mList, msg.Context.MentionedJid...)
		mList = append(mList, msg.Context.Mentions...)
	}
	mList = append(mList, msg.Mentions...)
	var mentioned []string
	for _, mnt := range mList {
		mnt = strings.TrimSpace(mnt)
		if mnt == "" {
			continue
		}
		if j, err := toUserJID(mnt, m.defaultRegion); err == nil {
			mentioned = append(mentioned, j.String())
		}
	}
	if stanzaID == "" && len(mentioned) == 0 {
		return nil
	}
	ci := &goE2E.ContextInfo{}
	if stanzaID != "" {
		ci.StanzaID = proto.String(stanzaID)
		if msg.Context.Participant != "" {
			if pj, err := toUserJID(msg.Context.Participant, m.defaultRegion); err == nil {
				ci.Participant = proto.String(pj.String())
			}
		}
		ci.QuotedMessage = &goE2E.Message{Conversation: proto.String(strings.TrimSpace(msg.Context.QuotedText))}
	}
	if len(mentioned) > 0 {
		ci.MentionedJID = mentioned
	}
	return ci
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
