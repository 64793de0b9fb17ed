package interactive

import (
	"context"
	"fmt"
	"time"

	"go.mau.fi/whatsmeow"
	waBinary "go.mau.fi/whatsmeow/binary"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"

	"your.org/whatsmeow-buttons/internal/log"
)

// Sender is the part of *whatsmeow.Client used to relay messages.
type Sender interface {
	SendMessage(ctx context.Context, to types.JID, message *waE2E.Message, extra ...whatsmeow.SendRequestExtra) (whatsmeow.SendResponse, error)
	GenerateMessageID() types.MessageID
}

// SendOptions tunes a single send.
type SendOptions struct {
	// MessageID overrides the generated message ID.
	MessageID types.MessageID
	// Timeout bounds the wait for the server ack. Zero uses the client default.
	Timeout time.Duration
	// AdditionalNodes are appended to the message stanza before the biz node.
	AdditionalNodes []waBinary.Node
	// EmitOwnEvents calls OnOwnMessage after a private chat send succeeds.
	EmitOwnEvents bool
	OnOwnMessage  func(GeneratedMessage)
	// Log receives validation warnings and the send summary. Nil uses a
	// session-less entry.
	Log *log.Entry
}

// GeneratedMessage is the fully built message as it was relayed.
type GeneratedMessage struct {
	ID              types.MessageID `json:"id"`
	Chat            types.JID       `json:"chat"`
	Message         *waE2E.Message  `json:"-"`
	Timestamp       time.Time       `json:"timestamp"`
	ServerTimestamp time.Time       `json:"serverTimestamp,omitempty"`
	ButtonType      string          `json:"buttonType,omitempty"`
}

func isPrivateChat(jid types.JID) bool {
	return jid.Server != types.GroupServer
}

// SendInteractiveMessage validates payload, converts it to a native flow
// interactive message and relays it with the biz nodes the server needs to
// render buttons. Every check runs before anything goes on the wire.
func SendInteractiveMessage(ctx context.Context, sender Sender, jid types.JID, payload *InteractivePayload, opts SendOptions) (*GeneratedMessage, error) {
	if sender == nil {
		return nil, newValidationError("Socket is required", "sendInteractiveMessage", nil, nil, nil)
	}
	logger := opts.Log
	if logger == nil {
		logger = log.WithSession("")
	}

	if payload != nil && !payload.InteractiveButtons.IsNil() && payload.InteractiveButtons.IsArray() {
		strict := ValidateSendInteractiveMessagePayload(payload)
		if !strict.Valid {
			return nil, newValidationError("Interactive authoring payload invalid",
				"sendInteractiveMessage.validateSendInteractiveMessagePayload",
				strict.Errors, strict.Warnings, ExampleInteractivePayload)
		}
		if len(strict.Warnings) > 0 {
			logger.Strs(log.LevelWarn, "sendInteractiveMessage warnings", "warnings", strict.Warnings)
		}
	}

	content := ConvertToInteractiveMessage(payload)
	check := ValidateInteractiveMessageContent(content)
	if !check.Valid {
		example := ExampleInteractivePayload
		return nil, newValidationError("Converted interactive content invalid",
			"sendInteractiveMessage.validateInteractiveMessageContent",
			check.Errors, check.Warnings, ConvertToInteractiveMessage(&example))
	}
	if len(check.Warnings) > 0 {
		logger.Strs(log.LevelWarn, "Interactive content warnings", "warnings", check.Warnings)
	}

	msgID := opts.MessageID
	if msgID == "" {
		msgID = sender.GenerateMessageID()
	}
	generated := &GeneratedMessage{
		ID:        msgID,
		Chat:      jid,
		Message:   content,
		Timestamp: time.Now(),
	}

	private := isPrivateChat(jid)
	normalized := NormalizeMessageContent(content)
	nodes := append([]waBinary.Node(nil), opts.AdditionalNodes...)
	if buttonType := GetButtonType(normalized); buttonType != "" {
		generated.ButtonType = buttonType
		nodes = append(nodes, GetButtonArgs(normalized))
		if private {
			nodes = append(nodes, botNode())
		}
		logger.WithMessageID(msgID).Info("Interactive send: type=%s nodes=%s private=%t", buttonType, describeNodes(nodes), private)
	}

	extra := whatsmeow.SendRequestExtra{ID: msgID, Timeout: opts.Timeout}
	if len(nodes) > 0 {
		extra.AdditionalNodes = &nodes
	}
	resp, err := sender.SendMessage(ctx, jid, content, extra)
	if err != nil {
		return nil, fmt.Errorf("relay interactive message %s to %s: %w", msgID, jid, err)
	}
	generated.ServerTimestamp = resp.Timestamp

	if opts.EmitOwnEvents && private && opts.OnOwnMessage != nil {
		own := *generated
		go opts.OnOwnMessage(own)
	}
	return generated, nil
}

// SendButtons is the convenience entry point for quick replies and the
// cta_url / cta_copy / cta_call buttons. Authoring shapes are normalized to
// native flow before delegating to SendInteractiveMessage.
func SendButtons(ctx context.Context, sender Sender, jid types.JID, payload *ButtonsPayload, opts SendOptions) (*GeneratedMessage, error) {
	if sender == nil {
		return nil, newValidationError("Socket is required", "sendButtons", nil, nil, nil)
	}
	logger := opts.Log
	if logger == nil {
		logger = log.WithSession("")
	}

	strict := ValidateSendButtonsPayload(payload)
	if !strict.Valid {
		return nil, newValidationError("Buttons payload invalid", "sendButtons.validateSendButtonsPayload",
			strict.Errors, strict.Warnings, ExampleButtonsPayload)
	}
	if len(strict.Warnings) > 0 {
		logger.Strs(log.LevelWarn, "sendButtons warnings", "warnings", strict.Warnings)
	}

	authoring := ValidateAuthoringButtons(payload.Buttons)
	if len(authoring.Errors) > 0 {
		return nil, newValidationError("Authoring button objects invalid", "sendButtons.validateAuthoringButtons",
			authoring.Errors, authoring.Warnings, ExampleButtonsPayload.Buttons)
	}
	if len(authoring.Warnings) > 0 {
		logger.Strs(log.LevelWarn, "sendButtons authoring warnings", "warnings", authoring.Warnings)
	}

	return SendInteractiveMessage(ctx, sender, jid, &InteractivePayload{
		Text:               payload.Text,
		Footer:             payload.Footer,
		Title:              payload.Title,
		Subtitle:           payload.Subtitle,
		InteractiveButtons: Buttons(BuildInteractiveButtons(authoring.Cleaned)...),
		ContextInfo:        payload.ContextInfo,
	}, opts)
}

func describeNodes(nodes []waBinary.Node) string {
	out := "["
	for i, n := range nodes {
		if i > 0 {
			out += " "
		}
		out += n.Tag + fmt.Sprint(map[string]any(n.Attrs))
	}
	return out + "]"
}
