package interactive

import (
	"encoding/json"
	"fmt"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"google.golang.org/protobuf/proto"
)

// BuildInteractiveButtons normalizes authoring buttons into native flow
// form. Legacy {id, text} and old Baileys {buttonId, buttonText} buttons are
// wrapped as quick_reply; native and unrecognized buttons pass through.
func BuildInteractiveButtons(buttons []*Button) []*Button {
	out := make([]*Button, len(buttons))
	for i, b := range buttons {
		switch {
		case b == nil || !b.isObject():
			out[i] = b
		case b.isNative():
			out[i] = b
		case b.has("id") || b.has("text"):
			text := b.Text
			if text == "" {
				text = b.DisplayText
			}
			if text == "" {
				text = fmt.Sprintf("Button %d", i+1)
			}
			id := b.ID
			if id == "" {
				id = fmt.Sprintf("quick_%d", i+1)
			}
			out[i] = quickReplyButton(text, id)
		case b.isOldBaileys():
			out[i] = quickReplyButton(b.ButtonText.DisplayText, b.ButtonID)
		default:
			out[i] = b
		}
	}
	return out
}

func quickReplyButton(displayText, id string) *Button {
	params, _ := json.Marshal(struct {
		DisplayText string `json:"display_text"`
		ID          string `json:"id"`
	}{displayText, id})
	return &Button{Name: "quick_reply", ButtonParamsJSON: string(params)}
}

// ConvertToInteractiveMessage builds the wire message for a payload. With at
// least one interactive button the result is a native flow
// InteractiveMessage; otherwise the text is sent as a plain message.
func ConvertToInteractiveMessage(p *InteractivePayload) *waE2E.Message {
	if p == nil {
		return nil
	}
	if len(p.InteractiveButtons.Items) == 0 {
		if p.ContextInfo != nil {
			return &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{
				Text:        proto.String(p.Text),
				ContextInfo: p.ContextInfo,
			}}
		}
		return &waE2E.Message{Conversation: proto.String(p.Text)}
	}

	nativeButtons := make([]*waE2E.InteractiveMessage_NativeFlowMessage_NativeFlowButton, 0, len(p.InteractiveButtons.Items))
	for _, b := range p.InteractiveButtons.Items {
		if b == nil || !b.isObject() {
			nativeButtons = append(nativeButtons, nil)
			continue
		}
		name := b.Name
		if name == "" {
			name = "quick_reply"
		}
		nb := &waE2E.InteractiveMessage_NativeFlowMessage_NativeFlowButton{Name: proto.String(name)}
		if b.ButtonParamsJSON != "" {
			nb.ButtonParamsJSON = proto.String(b.ButtonParamsJSON)
		}
		nativeButtons = append(nativeButtons, nb)
	}

	im := &waE2E.InteractiveMessage{
		InteractiveMessage: &waE2E.InteractiveMessage_NativeFlowMessage_{
			NativeFlowMessage: &waE2E.InteractiveMessage_NativeFlowMessage{
				Buttons: nativeButtons,
			},
		},
	}
	if p.Title != "" || p.Subtitle != "" {
		title := p.Title
		if title == "" {
			title = p.Subtitle
		}
		im.Header = &waE2E.InteractiveMessage_Header{Title: proto.String(title)}
	}
	if p.Text != "" {
		im.Body = &waE2E.InteractiveMessage_Body{Text: proto.String(p.Text)}
	}
	if p.Footer != "" {
		im.Footer = &waE2E.InteractiveMessage_Footer{Text: proto.String(p.Footer)}
	}
	if p.ContextInfo != nil {
		im.ContextInfo = p.ContextInfo
	}
	return &waE2E.Message{InteractiveMessage: im}
}
