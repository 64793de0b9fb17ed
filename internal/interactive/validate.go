package interactive

import (
	"encoding/json"
	"fmt"
	"strings"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"google.golang.org/protobuf/proto"
)

// SoftButtonCap is the number of buttons above which clients start
// rejecting messages. Exceeding it only produces a warning.
const SoftButtonCap = 25

// Result is the outcome of a validation pass. Errors make the input
// unusable; warnings are informational.
type Result struct {
	Valid    bool      `json:"valid"`
	Errors   []string  `json:"errors"`
	Warnings []string  `json:"warnings"`
	Cleaned  []*Button `json:"cleaned,omitempty"`
}

func (r *Result) errorf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *Result) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

func (r *Result) finish() Result {
	if r.Errors == nil {
		r.Errors = []string{}
	}
	if r.Warnings == nil {
		r.Warnings = []string{}
	}
	r.Valid = len(r.Errors) == 0
	return *r
}

var sendButtonsAllowedComplex = []string{"cta_url", "cta_copy", "cta_call"}

var interactiveAllowedNames = map[string]bool{
	"quick_reply":                             true,
	"cta_url":                                 true,
	"cta_copy":                                true,
	"cta_call":                                true,
	"cta_catalog":                             true,
	"cta_reminder":                            true,
	"cta_cancel_reminder":                     true,
	"address_message":                         true,
	"send_location":                           true,
	"open_webview":                            true,
	"mpm":                                     true,
	"wa_payment_transaction_details":          true,
	"automated_greeting_message_view_catalog": true,
	"galaxy_message":                          true,
	"single_select":                           true,
}

// RequiredFields lists the keys buttonParamsJson must contain for each
// native flow button name.
var RequiredFields = map[string][]string{
	"cta_url":                                 {"display_text", "url"},
	"cta_copy":                                {"display_text", "copy_code"},
	"cta_call":                                {"display_text", "phone_number"},
	"cta_catalog":                             {"business_phone_number"},
	"cta_reminder":                            {"display_text"},
	"cta_cancel_reminder":                     {"display_text"},
	"address_message":                         {"display_text"},
	"send_location":                           {"display_text"},
	"open_webview":                            {"title", "link"},
	"mpm":                                     {"product_id"},
	"wa_payment_transaction_details":          {"transaction_id"},
	"automated_greeting_message_view_catalog": {"business_phone_number", "catalog_product_id"},
	"galaxy_message":                          {"flow_token", "flow_id"},
	"single_select":                           {"title", "sections"},
	"quick_reply":                             {"display_text", "id"},
}

// IsAllowedInteractiveName reports whether name is a known native flow
// button subtype.
func IsAllowedInteractiveName(name string) bool {
	return interactiveAllowedNames[name]
}

func isSendButtonsComplex(name string) bool {
	for _, n := range sendButtonsAllowedComplex {
		if n == name {
			return true
		}
	}
	return false
}

// jsonSyntaxMessage strips the package prefix from encoding/json errors so
// messages read the same whatever decoder produced them.
func jsonSyntaxMessage(err error) string {
	return strings.TrimPrefix(err.Error(), "json: ")
}

func parseJSON(s string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, err
	}
	return v, nil
}

// parseButtonParams checks a native flow button's parameters against the
// required field table and the per-type structural rules.
func parseButtonParams(name, paramsJSON string, index int, r *Result) map[string]any {
	v, err := parseJSON(paramsJSON)
	if err != nil {
		r.errorf("button[%d] (%s) invalid JSON: %s", index, name, jsonSyntaxMessage(err))
		return nil
	}
	parsed, _ := v.(map[string]any)
	for _, field := range RequiredFields[name] {
		if _, ok := parsed[field]; !ok {
			r.errorf("button[%d] (%s) missing required field '%s'", index, name, field)
		}
	}
	if name == "open_webview" {
		if link := parsed["link"]; jsTruthy(link) {
			obj, isObj := link.(map[string]any)
			if !isObj || !jsTruthy(obj["url"]) {
				r.errorf("button[%d] (open_webview) link.url required", index)
			}
		}
	}
	if name == "single_select" {
		sections, ok := parsed["sections"].([]any)
		if !ok || len(sections) == 0 {
			r.errorf("button[%d] (single_select) sections must be non-empty array", index)
		}
	}
	return parsed
}

func jsTruthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	}
	return true
}

// ValidateAuthoringButtons checks authoring-time buttons before they are
// converted. The returned Cleaned slice holds copies; loose buttons get
// their parameters serialized and a default name.
func ValidateAuthoringButtons(buttons ButtonList) Result {
	r := &Result{}
	if buttons.IsNil() {
		r.Cleaned = []*Button{}
		return r.finish()
	}
	if !buttons.IsArray() {
		r.errorf("buttons must be an array")
		r.Cleaned = []*Button{}
		return r.finish()
	}
	items := buttons.Items
	if len(items) == 0 {
		r.warnf("buttons array is empty")
	} else if len(items) > SoftButtonCap {
		r.warnf("buttons count (%d) exceeds soft cap of %d; may be rejected by client", len(items), SoftButtonCap)
	}

	r.Cleaned = make([]*Button, len(items))
	for idx, b := range items {
		if !b.isObject() {
			r.errorf("button[%d] is not an object", idx)
			r.Cleaned[idx] = b.clone()
			continue
		}
		c := b.clone()
		r.Cleaned[idx] = c
		switch {
		case b.isNative():
			if b.ButtonParamsJSON == "" {
				r.errorf("button[%d] buttonParamsJson must be string", idx)
			} else if _, err := parseJSON(b.ButtonParamsJSON); err != nil {
				r.errorf("button[%d] buttonParamsJson is not valid JSON: %s", idx, jsonSyntaxMessage(err))
			}
		case b.isLegacy():
			// wrapped into quick_reply by BuildInteractiveButtons
		case b.isOldBaileys():
		case b.has("buttonParamsJson"):
			if b.ButtonParamsJSON == "" {
				r.warnf("button[%d] has non-string buttonParamsJson; will attempt to stringify", idx)
				raw, err := json.Marshal(b.ButtonParams)
				if err != nil {
					r.errorf("button[%d] buttonParamsJson could not be serialized", idx)
				} else {
					c.ButtonParamsJSON = string(raw)
					c.ButtonParams = nil
				}
			} else if _, err := parseJSON(b.ButtonParamsJSON); err != nil {
				r.warnf("button[%d] buttonParamsJson not valid JSON (%s)", idx, jsonSyntaxMessage(err))
			}
			if !b.has("name") {
				r.warnf("button[%d] missing name; defaulting to quick_reply", idx)
				c.Name = "quick_reply"
			}
		default:
			r.warnf("button[%d] unrecognized shape; passing through unchanged", idx)
		}
	}
	return r.finish()
}

// ValidateSendButtonsPayload is the strict check applied to SendButtons
// input: a text body plus legacy quick replies or cta_url / cta_copy /
// cta_call buttons.
func ValidateSendButtonsPayload(p *ButtonsPayload) Result {
	r := &Result{}
	if p == nil {
		r.errorf("payload must be an object")
		return r.finish()
	}
	if p.Text == "" || p.textNotString {
		r.errorf("text is mandatory and must be a string")
	}
	if !p.Buttons.IsArray() || len(p.Buttons.Items) == 0 {
		r.errorf("buttons is mandatory and must be a non-empty array")
		return r.finish()
	}
	for i, btn := range p.Buttons.Items {
		if !btn.isObject() {
			r.errorf("button[%d] must be an object", i)
			continue
		}
		if btn.has("id") && btn.has("text") {
			if btn.badType["id"] || btn.badType["text"] {
				r.errorf("button[%d] legacy quick reply id/text must be strings", i)
			}
			continue
		}
		if btn.isNative() {
			if btn.badType["name"] || !isSendButtonsComplex(btn.Name) {
				r.errorf("button[%d] name '%s' not allowed in sendButtons", i, btn.displayName())
				continue
			}
			if btn.ButtonParamsJSON == "" {
				r.errorf("button[%d] buttonParamsJson must be string", i)
				continue
			}
			parseButtonParams(btn.Name, btn.ButtonParamsJSON, i, r)
			continue
		}
		r.errorf("button[%d] invalid shape (must be legacy quick reply or named %s)", i, strings.Join(sendButtonsAllowedComplex, ", "))
	}
	return r.finish()
}

// ValidateSendInteractiveMessagePayload is the strict check applied to
// SendInteractiveMessage input before conversion.
func ValidateSendInteractiveMessagePayload(p *InteractivePayload) Result {
	r := &Result{}
	if p == nil {
		r.errorf("payload must be an object")
		return r.finish()
	}
	if p.Text == "" || p.textNotString {
		r.errorf("text is mandatory and must be a string")
	}
	if !p.InteractiveButtons.IsArray() || len(p.InteractiveButtons.Items) == 0 {
		r.errorf("interactiveButtons is mandatory and must be a non-empty array")
		return r.finish()
	}
	for i, btn := range p.InteractiveButtons.Items {
		if !btn.isObject() {
			r.errorf("interactiveButtons[%d] must be an object", i)
			continue
		}
		if !btn.has("name") {
			r.errorf("interactiveButtons[%d] missing name", i)
			continue
		}
		if !IsAllowedInteractiveName(btn.Name) {
			r.errorf("interactiveButtons[%d] name '%s' not allowed", i, btn.displayName())
			continue
		}
		if btn.ButtonParamsJSON == "" {
			r.errorf("interactiveButtons[%d] buttonParamsJson must be string", i)
			continue
		}
		parseButtonParams(btn.Name, btn.ButtonParamsJSON, i, r)
	}
	return r.finish()
}

// ValidateInteractiveMessageContent checks a built message just before it
// is relayed. Native flow buttons without a name are given "quick_reply"
// in place.
func ValidateInteractiveMessageContent(msg *waE2E.Message) Result {
	r := &Result{}
	if msg == nil {
		r.errorf("content must be an object")
		return r.finish()
	}
	im := msg.GetInteractiveMessage()
	if im == nil {
		return r.finish()
	}
	nf := im.GetNativeFlowMessage()
	if nf == nil {
		r.errorf("interactiveMessage.nativeFlowMessage missing")
		return r.finish()
	}
	if len(nf.GetButtons()) == 0 {
		r.warnf("nativeFlowMessage.buttons is empty")
	}
	for i, btn := range nf.GetButtons() {
		if btn == nil {
			r.errorf("buttons[%d] is not an object", i)
			continue
		}
		if btn.GetButtonParamsJSON() == "" {
			r.warnf("buttons[%d] missing buttonParamsJson (may fail to render)", i)
		} else if _, err := parseJSON(btn.GetButtonParamsJSON()); err != nil {
			r.warnf("buttons[%d] buttonParamsJson invalid JSON (%s)", i, jsonSyntaxMessage(err))
		}
		if btn.GetName() == "" {
			r.warnf("buttons[%d] missing name; defaulting to quick_reply", i)
			btn.Name = proto.String("quick_reply")
		}
	}
	return r.finish()
}
