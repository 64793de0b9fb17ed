package interactive

import (
	"bytes"
	"encoding/json"
)

// ButtonText is the nested label used by the old Baileys button shape
// ({"buttonId": "...", "buttonText": {"displayText": "..."}}).
type ButtonText struct {
	DisplayText string `json:"displayText,omitempty"`
}

// Button is a single authoring-time button. It accepts every historical
// shape callers send: native flow ({name, buttonParamsJson}), legacy quick
// reply ({id, text}), old Baileys ({buttonId, buttonText}) and loose objects
// carrying an unserialized buttonParamsJson.
//
// Decoding from JSON never fails on shape problems. Elements that are not
// objects and fields with the wrong JSON type are remembered so the
// validators can report them per index.
type Button struct {
	Name             string      `json:"name,omitempty"`
	ButtonParamsJSON string      `json:"buttonParamsJson,omitempty"`
	ID               string      `json:"id,omitempty"`
	Text             string      `json:"text,omitempty"`
	DisplayText      string      `json:"displayText,omitempty"`
	ButtonID         string      `json:"buttonId,omitempty"`
	ButtonText       *ButtonText `json:"buttonText,omitempty"`

	// ButtonParams holds a buttonParamsJson that was supplied as a JSON
	// value other than a string. It is serialized during authoring
	// validation.
	ButtonParams any `json:"-"`

	notObject bool
	// keys present with a non-string (but truthy) JSON value
	badType map[string]bool
	// rawName is a non-string name as the caller wrote it
	rawName string
}

// NewNativeButton marshals params into a native flow button.
func NewNativeButton(name string, params any) (*Button, error) {
	b, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	return &Button{Name: name, ButtonParamsJSON: string(b)}, nil
}

// QuickReply returns the legacy {id, text} authoring shape.
func QuickReply(id, text string) *Button {
	return &Button{ID: id, Text: text}
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *Button) UnmarshalJSON(data []byte) error {
	*b = Button{}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		b.notObject = true
		return nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return err
	}
	b.Name = b.stringField(raw, "name")
	b.ID = b.stringField(raw, "id")
	b.Text = b.stringField(raw, "text")
	b.DisplayText = b.stringField(raw, "displayText")
	b.ButtonID = b.stringField(raw, "buttonId")

	if v, ok := raw["buttonParamsJson"]; ok && truthy(v) {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			b.ButtonParamsJSON = s
		} else {
			var anyVal any
			if err := json.Unmarshal(v, &anyVal); err != nil {
				return err
			}
			b.ButtonParams = anyVal
		}
	}
	if v, ok := raw["buttonText"]; ok && truthy(v) {
		var bt ButtonText
		if err := json.Unmarshal(v, &bt); err == nil {
			b.ButtonText = &bt
		} else {
			b.markBad("buttonText")
		}
	}
	return nil
}

// MarshalJSON renders the button in the same shape it was authored in.
func (b Button) MarshalJSON() ([]byte, error) {
	if b.notObject {
		return []byte("null"), nil
	}
	type plain Button
	if b.ButtonParams != nil && b.ButtonParamsJSON == "" {
		return json.Marshal(struct {
			plain
			ButtonParams any `json:"buttonParamsJson"`
		}{plain(b), b.ButtonParams})
	}
	return json.Marshal(plain(b))
}

func (b *Button) stringField(raw map[string]json.RawMessage, key string) string {
	v, ok := raw[key]
	if !ok || !truthy(v) {
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		b.markBad(key)
		if key == "name" {
			b.rawName = looseString(v)
		}
		return ""
	}
	return s
}

// displayName is the name used in messages, including names supplied with
// the wrong JSON type.
func (b *Button) displayName() string {
	if b.Name == "" && b.badType["name"] {
		return b.rawName
	}
	return b.Name
}

// looseString renders a JSON value the way string interpolation in the
// calling clients shows it.
func looseString(v json.RawMessage) string {
	t := bytes.TrimSpace(v)
	if len(t) > 0 && t[0] == '{' {
		return "[object Object]"
	}
	return string(t)
}

func (b *Button) markBad(key string) {
	if b.badType == nil {
		b.badType = map[string]bool{}
	}
	b.badType[key] = true
}

// isObject reports whether the button is usable as an object.
func (b *Button) isObject() bool {
	return b != nil && !b.notObject
}

func (b *Button) has(key string) bool {
	if b.badType[key] {
		return true
	}
	switch key {
	case "name":
		return b.Name != ""
	case "id":
		return b.ID != ""
	case "text":
		return b.Text != ""
	case "displayText":
		return b.DisplayText != ""
	case "buttonId":
		return b.ButtonID != ""
	case "buttonParamsJson":
		return b.ButtonParamsJSON != "" || b.ButtonParams != nil
	}
	return false
}

func (b *Button) isNative() bool {
	return b.has("name") && b.has("buttonParamsJson")
}

func (b *Button) isLegacy() bool {
	return b.has("id") || b.has("text") || b.has("displayText")
}

func (b *Button) isOldBaileys() bool {
	return b.has("buttonId") && b.ButtonText != nil && b.ButtonText.DisplayText != ""
}

func (b *Button) clone() *Button {
	if b == nil {
		return nil
	}
	c := *b
	if b.ButtonText != nil {
		bt := *b.ButtonText
		c.ButtonText = &bt
	}
	if b.badType != nil {
		c.badType = make(map[string]bool, len(b.badType))
		for k, v := range b.badType {
			c.badType[k] = v
		}
	}
	return &c
}

// truthy mirrors how loosely typed callers treat optional fields: null,
// false, 0 and "" count as absent.
func truthy(v json.RawMessage) bool {
	s := string(bytes.TrimSpace(v))
	switch s {
	case "", "null", "false", "0", `""`:
		return false
	}
	return true
}

// ButtonList decodes a JSON buttons field. A value that is not an array is
// remembered so validation can report it instead of failing the decode.
type ButtonList struct {
	Items    []*Button
	notArray bool
	set      bool
}

// Buttons wraps items in a ButtonList.
func Buttons(items ...*Button) ButtonList {
	if items == nil {
		items = []*Button{}
	}
	return ButtonList{Items: items, set: true}
}

// UnmarshalJSON implements json.Unmarshaler.
func (l *ButtonList) UnmarshalJSON(data []byte) error {
	*l = ButtonList{}
	trimmed := bytes.TrimSpace(data)
	if string(trimmed) == "null" {
		return nil
	}
	l.set = true
	if len(trimmed) == 0 || trimmed[0] != '[' {
		l.notArray = true
		return nil
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(trimmed, &elems); err != nil {
		return err
	}
	l.Items = make([]*Button, len(elems))
	for i, e := range elems {
		if string(bytes.TrimSpace(e)) == "null" {
			continue
		}
		b := &Button{}
		if err := b.UnmarshalJSON(e); err != nil {
			return err
		}
		l.Items[i] = b
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (l ButtonList) MarshalJSON() ([]byte, error) {
	if !l.set && l.Items == nil {
		return []byte("null"), nil
	}
	if l.Items == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l.Items)
}

// IsArray reports whether the list was supplied as an array (or built in Go).
func (l ButtonList) IsArray() bool {
	return !l.notArray
}

// IsNil reports whether no list was supplied at all.
func (l ButtonList) IsNil() bool {
	return !l.set && l.Items == nil
}
