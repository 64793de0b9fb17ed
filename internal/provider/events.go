// events.go
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"your.org/whatsmeow-buttons/internal/interactive"
	"your.org/whatsmeow-buttons/internal/log"
	"your.org/whatsmeow-buttons/internal/status"
)

const webhookTimeout = 15 * time.Second

// =========== Handler registration ===========

func (m *ClientManager) registerEventHandlers(client *whatsmeow.Client, sessionID string) {
	if client == nil {
		return
	}
	client.AddEventHandler(func(evt interface{}) {
		m.handleEvent(sessionID, evt)
	})
}

func (m *ClientManager) handleEvent(sessionID string, evt interface{}) {
	switch e := evt.(type) {
	case *events.Connected:
		status.Set(sessionID, status.Online)
		log.WithSession(sessionID).Info("evt=connected")
	case *events.Disconnected:
		status.Set(sessionID, status.Offline)
		log.WithSession(sessionID).Warn("evt=disconnected")
	case *events.LoggedOut:
		status.Set(sessionID, status.Disconnected)
		log.WithSession(sessionID).Warn("evt=logged_out reason=%v", e.Reason)
	case *events.Message:
		if err := m.emitCloudMessage(sessionID, e); err != nil {
			log.WithSession(sessionID).WithMessageID(e.Info.ID).Error("webhook cloud message error: %v", err)
		}
	case *events.Receipt:
		if err := m.emitCloudReceipt(sessionID, e); err != nil {
			log.WithSession(sessionID).Error("webhook cloud receipt error: %v", err)
		}
	default:
		// other events are not forwarded
	}
}

// =========== Inbound messages (text and button replies) ===========

func (m *ClientManager) emitCloudMessage(sessionID string, e *events.Message) error {
	msg := interactive.NormalizeMessageContent(e.Message)
	if msg == nil {
		return nil
	}
	phone := normalizePhone(sessionID)

	fromField := phone
	if !e.Info.IsFromMe {
		fromField = jidToPhoneNumberIfUser(e.Info.Sender)
	}
	wireMsg := map[string]any{
		"from":      fromField,
		"id":        e.Info.ID,
		"timestamp": strconv.FormatInt(e.Info.Timestamp.Unix(), 10),
	}
	if ctx := messageContextInfo(msg); ctx != nil {
		wireMsg["context"] = ctx
	}

	kind, ok := cloudInboundContent(msg, wireMsg)
	if !ok {
		log.WithSession(sessionID).WithMessageID(e.Info.ID).Debug("evt=message ignored: no text or button reply")
		return nil
	}

	contactPhone := jidToPhoneNumberIfUser(e.Info.Chat)
	if isGroupJID(e.Info.Chat) && e.Info.Sender.User != "" {
		contactPhone = jidToPhoneNumberIfUser(e.Info.Sender)
	}
	contact := map[string]any{
		"profile": map[string]any{"name": firstNonEmpty(e.Info.PushName, contactPhone)},
		"wa_id":   contactPhone,
	}
	if isGroupJID(e.Info.Chat) {
		contact["group_id"] = e.Info.Chat.String()
	}

	payload := cloudEnvelope(phone)
	val := cloudValue(payload)
	val["contacts"] = []any{contact}
	val["messages"] = []any{wireMsg}

	log.WithSession(sessionID).WithMessageID(e.Info.ID).Info("evt=message cloud payload ready type=%s", kind)
	return m.deliverWebhook(sessionID, payload)
}

// cloudInboundContent fills the type-specific fields of wireMsg. Only text
// and replies to buttons or lists are mapped.
func cloudInboundContent(msg *waE2E.Message, wireMsg map[string]any) (string, bool) {
	reply := func(kind, id, title string) (string, bool) {
		wireMsg["type"] = "interactive"
		wireMsg["interactive"] = map[string]any{
			"type": kind,
			kind:   map[string]any{"id": id, "title": title},
		}
		return kind, true
	}
	switch {
	case msg.GetButtonsResponseMessage() != nil:
		r := msg.GetButtonsResponseMessage()
		return reply("button_reply", r.GetSelectedButtonID(), r.GetSelectedDisplayText())
	case msg.GetTemplateButtonReplyMessage() != nil:
		r := msg.GetTemplateButtonReplyMessage()
		return reply("button_reply", r.GetSelectedID(), r.GetSelectedDisplayText())
	case msg.GetListResponseMessage() != nil:
		r := msg.GetListResponseMessage()
		return reply("list_reply", r.GetSingleSelectReply().GetSelectedRowID(), r.GetTitle())
	case msg.GetInteractiveResponseMessage().GetNativeFlowResponseMessage() != nil:
		ir := msg.GetInteractiveResponseMessage()
		nf := ir.GetNativeFlowResponseMessage()
		params := map[string]any{}
		_ = json.Unmarshal([]byte(nf.GetParamsJSON()), &params)
		if id, ok := params["id"].(string); ok && id != "" {
			title, _ := params["display_text"].(string)
			return reply("button_reply", id, firstNonEmpty(title, ir.GetBody().GetText()))
		}
		wireMsg["type"] = "interactive"
		wireMsg["interactive"] = map[string]any{
			"type": "nfm_reply",
			"nfm_reply": map[string]any{
				"name":          nf.GetName(),
				"response_json": nf.GetParamsJSON(),
				"body":          ir.GetBody().GetText(),
			},
		}
		return "nfm_reply", true
	case msg.GetConversation() != "" || msg.GetExtendedTextMessage() != nil:
		body := msg.GetConversation()
		if body == "" {
			body = msg.GetExtendedTextMessage().GetText()
		}
		wireMsg["type"] = "text"
		wireMsg["text"] = map[string]any{"body": body}
		return "text", true
	}
	return "", false
}

// =========== Receipts as Cloud statuses ===========

func (m *ClientManager) emitCloudReceipt(sessionID string, e *events.Receipt) error {
	if len(e.MessageIDs) == 0 {
		return nil
	}
	phone := normalizePhone(sessionID)

	st := mapReceiptStatus(e.Type)
	if st == "" {
		return nil
	}

	recipient := ""
	if e.Chat != (types.JID{}) {
		recipient = jidToPhoneNumberIfUser(e.Chat)
	}
	if recipient == "" && e.Sender != (types.JID{}) {
		recipient = jidToPhoneNumberIfUser(e.Sender)
	}

	states := make([]any, 0, len(e.MessageIDs))
	for _, id := range e.MessageIDs {
		s := map[string]any{
			"id":           id,
			"recipient_id": recipient,
			"status":       st,
		}
		if !e.Timestamp.IsZero() {
			s["timestamp"] = strconv.FormatInt(e.Timestamp.Unix(), 10)
		}
		if e.Chat != (types.JID{}) {
			s["conversation"] = map[string]any{"id": e.Chat.String()}
		}
		states = append(states, s)
	}

	payload := cloudEnvelope(phone)
	cloudValue(payload)["statuses"] = states

	log.WithSession(sessionID).Info("evt=receipt cloud payload ready type=%s ids=%v", e.Type, e.MessageIDs)
	return m.deliverWebhook(sessionID, payload)
}

func (m *ClientManager) emitCloudSent(sessionID string, to types.JID, id types.MessageID) error {
	phone := normalizePhone(sessionID)
	st := map[string]any{
		"id":           id,
		"recipient_id": jidToPhoneNumberIfUser(to),
		"status":       "sent",
		"timestamp":    strconv.FormatInt(time.Now().Unix(), 10),
		"conversation": map[string]any{"id": to.String()},
	}
	payload := cloudEnvelope(phone)
	cloudValue(payload)["statuses"] = []any{st}
	log.WithSession(sessionID).WithMessageID(string(id)).Info("evt=sent cloud payload ready id=%s", id)
	return m.deliverWebhook(sessionID, payload)
}

// emitCloudOutgoingText publishes an outgoing text in the same Cloud-like
// format used for incoming messages.
func (m *ClientManager) emitCloudOutgoingText(sessionID string, to types.JID, id types.MessageID, body string) error {
	wireMsg := map[string]any{
		"type": "text",
		"text": map[string]any{"body": body},
	}
	return m.emitCloudOutgoing(sessionID, to, id, time.Now(), wireMsg)
}

// emitCloudOutgoingInteractive publishes the interactive message that was
// just relayed, so downstreams see the buttons that were sent.
func (m *ClientManager) emitCloudOutgoingInteractive(sessionID string, g interactive.GeneratedMessage) error {
	wireMsg := map[string]any{"type": "interactive"}
	if im := g.Message.GetInteractiveMessage(); im != nil {
		wireMsg["interactive"] = cloudInteractive(im)
	} else {
		body := g.Message.GetConversation()
		if body == "" {
			body = g.Message.GetExtendedTextMessage().GetText()
		}
		wireMsg["type"] = "text"
		wireMsg["text"] = map[string]any{"body": body}
	}
	return m.emitCloudOutgoing(sessionID, g.Chat, g.ID, g.Timestamp, wireMsg)
}

func (m *ClientManager) emitCloudOutgoing(sessionID string, to types.JID, id types.MessageID, ts time.Time, wireMsg map[string]any) error {
	phone := normalizePhone(sessionID)
	recipient := jidToPhoneNumberIfUser(to)

	wireMsg["from"] = phone
	wireMsg["id"] = id
	wireMsg["timestamp"] = strconv.FormatInt(ts.Unix(), 10)

	contactObj := map[string]any{
		"profile": map[string]any{"name": recipient},
		"wa_id":   recipient,
	}
	if isGroupJID(to) {
		contactObj["group_id"] = to.String()
	}

	payload := cloudEnvelope(phone)
	val := cloudValue(payload)
	val["contacts"] = []any{contactObj}
	val["messages"] = []any{wireMsg}

	log.WithSession(sessionID).WithMessageID(string(id)).
		Info("evt=message_out cloud payload ready type=%v to=%s", wireMsg["type"], to.String())
	return m.deliverWebhook(sessionID, payload)
}

// cloudInteractive renders a native flow message as a Cloud API
// "interactive" object. quick_reply buttons become reply buttons; other
// names keep their parameters.
func cloudInteractive(im *waE2E.InteractiveMessage) map[string]any {
	out := map[string]any{"type": "button"}
	if t := im.GetHeader().GetTitle(); t != "" {
		out["header"] = map[string]any{"type": "text", "text": t}
	}
	if t := im.GetBody().GetText(); t != "" {
		out["body"] = map[string]any{"text": t}
	}
	if t := im.GetFooter().GetText(); t != "" {
		out["footer"] = map[string]any{"text": t}
	}
	buttons := []any{}
	for _, b := range im.GetNativeFlowMessage().GetButtons() {
		params := map[string]any{}
		_ = json.Unmarshal([]byte(b.GetButtonParamsJSON()), &params)
		if b.GetName() == "quick_reply" {
			buttons = append(buttons, map[string]any{
				"type":  "reply",
				"reply": map[string]any{"id": params["id"], "title": params["display_text"]},
			})
			continue
		}
		buttons = append(buttons, map[string]any{"type": b.GetName(), "parameters": params})
	}
	out["action"] = map[string]any{"buttons": buttons}
	return out
}

// =========== Cloud mapping helpers ===========

func cloudEnvelope(phone string) map[string]any {
	phone = strings.ReplaceAll(phone, "+", "")
	val := map[string]any{
		"messaging_product": "whatsapp",
		"metadata": map[string]any{
			"display_phone_number": phone,
			"phone_number_id":      phone,
		},
		"messages": []any{},
		"contacts": []any{},
		"statuses": []any{},
		"errors":   []any{},
	}
	change := map[string]any{
		"field": "messages",
		"value": val,
	}
	entry := map[string]any{
		"id":      phone,
		"changes": []any{change},
	}
	return map[string]any{
		"object": "whatsapp_business_account",
		"entry":  []any{entry},
	}
}

// cloudValue returns entry[0].changes[0].value of an envelope.
func cloudValue(payload map[string]any) map[string]any {
	return payload["entry"].([]any)[0].(map[string]any)["changes"].([]any)[0].(map[string]any)["value"].(map[string]any)
}

func normalizePhone(s string) string {
	return digitsOnly(s)
}

// jidToPhoneNumberIfUser returns the digits of a user JID, or the group id
// for groups.
func jidToPhoneNumberIfUser(jid types.JID) string {
	if isGroupJID(jid) {
		return jid.User
	}
	return digitsOnly(jid.User)
}

func messageContextInfo(m *waE2E.Message) map[string]any {
	var ci *waE2E.ContextInfo
	switch {
	case m.GetExtendedTextMessage() != nil:
		ci = m.GetExtendedTextMessage().GetContextInfo()
	case m.GetButtonsResponseMessage() != nil:
		ci = m.GetButtonsResponseMessage().GetContextInfo()
	case m.GetTemplateButtonReplyMessage() != nil:
		ci = m.GetTemplateButtonReplyMessage().GetContextInfo()
	case m.GetListResponseMessage() != nil:
		ci = m.GetListResponseMessage().GetContextInfo()
	case m.GetInteractiveResponseMessage() != nil:
		ci = m.GetInteractiveResponseMessage().GetContextInfo()
	}
	stanzaID := strings.TrimSpace(ci.GetStanzaID())
	if stanzaID == "" {
		return nil
	}
	return map[string]any{
		"message_id": stanzaID,
		"id":         stanzaID,
	}
}

func mapReceiptStatus(t events.ReceiptType) string {
	switch t {
	case events.ReceiptTypeDelivered:
		return "delivered"
	case events.ReceiptTypeRead:
		return "read"
	case events.ReceiptTypePlayed:
		return "played"
	case events.ReceiptTypeSender:
		return "sent"
	default:
		return ""
	}
}

// =========== Delivery ===========

// deliverWebhook hands payload to the broker publisher when one is set,
// otherwise POSTs it to WEBHOOK_BASE/<session> in the background.
func (m *ClientManager) deliverWebhook(sessionID string, payload any) error {
	entry := log.WithSession(sessionID)

	if m.publish != nil {
		return m.publish(normalizePhone(sessionID), payload)
	}
	if m.webhookBase == "" {
		entry.Debug("webhook disabled (WEBHOOK_BASE empty), dropping")
		return nil
	}

	url := strings.TrimRight(m.webhookBase, "/") + "/" + sessionID

	body, err := json.Marshal(payload)
	if err != nil {
		entry.Error("webhook marshal error: %v", err)
		return err
	}

	entry.Info("webhook post start url=%s bytes=%d", url, len(body))

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), webhookTimeout)
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			entry.Error("webhook build request error: %v", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			entry.Error("webhook post error: %v", err)
			return
		}
		defer resp.Body.Close()

		snippet := ""
		if b, _ := io.ReadAll(io.LimitReader(resp.Body, 512)); len(b) > 0 {
			snippet = string(b)
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			entry.Info("webhook post done status=%d", resp.StatusCode)
		} else {
			entry.Error("webhook post non-2xx status=%d body=%q", resp.StatusCode, snippet)
		}
	}()

	return nil
}
