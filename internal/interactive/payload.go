package interactive

import (
	"encoding/json"

	"go.mau.fi/whatsmeow/proto/waE2E"
)

// ButtonsPayload is the input of SendButtons: quick replies and a small set
// of call-to-action buttons.
type ButtonsPayload struct {
	Text     string     `json:"text"`
	Footer   string     `json:"footer,omitempty"`
	Title    string     `json:"title,omitempty"`
	Subtitle string     `json:"subtitle,omitempty"`
	Buttons  ButtonList `json:"buttons"`

	ContextInfo *waE2E.ContextInfo `json:"-"`

	// textNotString is set when "text" was supplied as a non-string JSON value.
	textNotString bool
}

// InteractivePayload is the input of SendInteractiveMessage. Buttons are
// expected in native flow form.
type InteractivePayload struct {
	Text               string     `json:"text"`
	Footer             string     `json:"footer,omitempty"`
	Title              string     `json:"title,omitempty"`
	Subtitle           string     `json:"subtitle,omitempty"`
	InteractiveButtons ButtonList `json:"interactiveButtons"`

	// ContextInfo carries quoted-reply and mention data into the built message.
	ContextInfo *waE2E.ContextInfo `json:"-"`

	textNotString bool
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *ButtonsPayload) UnmarshalJSON(data []byte) error {
	type alias ButtonsPayload
	var a struct {
		alias
		Text json.RawMessage `json:"text"`
	}
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*p = ButtonsPayload(a.alias)
	p.Text, p.textNotString = decodeText(a.Text)
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *InteractivePayload) UnmarshalJSON(data []byte) error {
	type alias InteractivePayload
	var a struct {
		alias
		Text json.RawMessage `json:"text"`
	}
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*p = InteractivePayload(a.alias)
	p.Text, p.textNotString = decodeText(a.Text)
	return nil
}

func decodeText(raw json.RawMessage) (string, bool) {
	if !truthy(raw) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", true
	}
	return s, false
}

// ExamplePayloads are attached to validation errors so callers can see a
// well-formed request next to what they sent.
var (
	ExampleButtonsPayload = ButtonsPayload{
		Text: "Choose an option",
		Buttons: Buttons(
			QuickReply("opt1", "Option 1"),
			QuickReply("opt2", "Option 2"),
			&Button{Name: "cta_url", ButtonParamsJSON: `{"display_text":"Visit Site","url":"https://example.com"}`},
		),
		Footer: "Footer text",
	}

	ExampleInteractivePayload = InteractivePayload{
		Text: "Pick an action",
		InteractiveButtons: Buttons(
			&Button{Name: "quick_reply", ButtonParamsJSON: `{"display_text":"Hello","id":"hello"}`},
			&Button{Name: "cta_copy", ButtonParamsJSON: `{"display_text":"Copy Code","copy_code":"ABC123"}`},
		),
		Footer: "Footer",
	}
)
