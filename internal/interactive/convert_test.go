package interactive

import (
	"encoding/json"
	"strings"
	"testing"

	waBinary "go.mau.fi/whatsmeow/binary"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"google.golang.org/protobuf/proto"
)

func TestBuildInteractiveButtons(t *testing.T) {
	native := &Button{Name: "cta_copy", ButtonParamsJSON: `{"display_text":"Copy","copy_code":"X"}`}
	loose := &Button{DisplayText: "Only display"}
	in := []*Button{
		QuickReply("yes", "Yes"),
		{Text: "No id"},
		native,
		{ButtonID: "old", ButtonText: &ButtonText{DisplayText: "Old"}},
		loose,
		nil,
	}
	out := BuildInteractiveButtons(in)
	if len(out) != len(in) {
		t.Fatalf("len = %d", len(out))
	}
	want := []string{
		`{"display_text":"Yes","id":"yes"}`,
		`{"display_text":"No id","id":"quick_2"}`,
	}
	for i, w := range want {
		if out[i].Name != "quick_reply" || out[i].ButtonParamsJSON != w {
			t.Fatalf("out[%d] = %s %s", i, out[i].Name, out[i].ButtonParamsJSON)
		}
	}
	if out[2] != native {
		t.Fatal("native button should pass through")
	}
	if out[3].ButtonParamsJSON != `{"display_text":"Old","id":"old"}` {
		t.Fatalf("old shape => %s", out[3].ButtonParamsJSON)
	}
	if out[4] != loose || out[5] != nil {
		t.Fatal("unrecognized and nil entries pass through")
	}
}

func TestBuildInteractiveButtonsDefaults(t *testing.T) {
	out := BuildInteractiveButtons([]*Button{{ID: "only-id"}})
	var params map[string]string
	if err := json.Unmarshal([]byte(out[0].ButtonParamsJSON), &params); err != nil {
		t.Fatalf("params: %v", err)
	}
	if params["display_text"] != "Button 1" || params["id"] != "only-id" {
		t.Fatalf("params = %v", params)
	}
}

func TestConvertToInteractiveMessage(t *testing.T) {
	p := &InteractivePayload{
		Text:     "Body",
		Footer:   "Foot",
		Subtitle: "Sub",
		InteractiveButtons: Buttons(
			&Button{Name: "cta_url", ButtonParamsJSON: `{"display_text":"Go","url":"https://x"}`},
			&Button{ButtonParamsJSON: `{"display_text":"Q","id":"q"}`},
		),
	}
	msg := ConvertToInteractiveMessage(p)
	im := msg.GetInteractiveMessage()
	if im == nil {
		t.Fatal("expected interactive message")
	}
	if im.GetHeader().GetTitle() != "Sub" {
		t.Fatalf("header = %q, want subtitle fallback", im.GetHeader().GetTitle())
	}
	if im.GetBody().GetText() != "Body" || im.GetFooter().GetText() != "Foot" {
		t.Fatalf("body/footer = %q/%q", im.GetBody().GetText(), im.GetFooter().GetText())
	}
	btns := im.GetNativeFlowMessage().GetButtons()
	if len(btns) != 2 || btns[0].GetName() != "cta_url" || btns[1].GetName() != "quick_reply" {
		t.Fatalf("buttons = %v", btns)
	}

	p.Title = "Title"
	if got := ConvertToInteractiveMessage(p).GetInteractiveMessage().GetHeader().GetTitle(); got != "Title" {
		t.Fatalf("title should win over subtitle, got %q", got)
	}
}

func TestConvertWithoutButtons(t *testing.T) {
	if ConvertToInteractiveMessage(nil) != nil {
		t.Fatal("nil payload should give nil message")
	}
	msg := ConvertToInteractiveMessage(&InteractivePayload{Text: "plain"})
	if msg.GetConversation() != "plain" || msg.GetInteractiveMessage() != nil {
		t.Fatalf("plain => %v", msg)
	}
	ctxInfo := &waE2E.ContextInfo{StanzaID: proto.String("quoted")}
	msg = ConvertToInteractiveMessage(&InteractivePayload{Text: "reply", ContextInfo: ctxInfo})
	if msg.GetExtendedTextMessage().GetContextInfo().GetStanzaID() != "quoted" {
		t.Fatalf("reply => %v", msg)
	}
}

func TestNormalizeMessageContent(t *testing.T) {
	inner := &waE2E.Message{Conversation: proto.String("hi")}
	wrapped := &waE2E.Message{EphemeralMessage: &waE2E.FutureProofMessage{
		Message: &waE2E.Message{ViewOnceMessageV2: &waE2E.FutureProofMessage{Message: inner}},
	}}
	if got := NormalizeMessageContent(wrapped); got != inner {
		t.Fatalf("normalize => %v", got)
	}
	if NormalizeMessageContent(nil) != nil {
		t.Fatal("nil stays nil")
	}
	if got := NormalizeMessageContent(inner); got != inner {
		t.Fatal("unwrapped content is returned as is")
	}
}

func nativeFlow(names ...string) *waE2E.Message {
	btns := make([]*waE2E.InteractiveMessage_NativeFlowMessage_NativeFlowButton, len(names))
	for i, n := range names {
		btns[i] = &waE2E.InteractiveMessage_NativeFlowMessage_NativeFlowButton{Name: proto.String(n), ButtonParamsJSON: proto.String("{}")}
	}
	return &waE2E.Message{InteractiveMessage: &waE2E.InteractiveMessage{
		InteractiveMessage: &waE2E.InteractiveMessage_NativeFlowMessage_{NativeFlowMessage: &waE2E.InteractiveMessage_NativeFlowMessage{Buttons: btns}},
	}}
}

func TestGetButtonType(t *testing.T) {
	cases := []struct {
		msg  *waE2E.Message
		want string
	}{
		{&waE2E.Message{ListMessage: &waE2E.ListMessage{}}, TypeList},
		{&waE2E.Message{ButtonsMessage: &waE2E.ButtonsMessage{}}, TypeButtons},
		{nativeFlow("quick_reply"), TypeNativeFlow},
		{&waE2E.Message{Conversation: proto.String("x")}, ""},
		{&waE2E.Message{InteractiveMessage: &waE2E.InteractiveMessage{}}, ""},
	}
	for i, tc := range cases {
		if got := GetButtonType(tc.msg); got != tc.want {
			t.Fatalf("case %d: got %q want %q", i, got, tc.want)
		}
	}
}

func flowNode(t *testing.T, n waBinary.Node) waBinary.Attrs {
	t.Helper()
	outer, ok := n.Content.([]waBinary.Node)
	if !ok || len(outer) != 1 || outer[0].Tag != "interactive" {
		t.Fatalf("expected interactive child, got %#v", n.Content)
	}
	inner, ok := outer[0].Content.([]waBinary.Node)
	if !ok || len(inner) != 1 || inner[0].Tag != "native_flow" {
		t.Fatalf("expected native_flow child, got %#v", outer[0].Content)
	}
	return inner[0].Attrs
}

func TestGetButtonArgs(t *testing.T) {
	n := GetButtonArgs(nativeFlow("review_and_pay"))
	if n.Tag != "biz" || n.Attrs["native_flow_name"] != "order_details" {
		t.Fatalf("review_and_pay => %#v", n)
	}
	n = GetButtonArgs(nativeFlow("payment_info"))
	if n.Attrs["native_flow_name"] != "payment_info" {
		t.Fatalf("payment_info => %#v", n)
	}

	attrs := flowNode(t, GetButtonArgs(nativeFlow("mpm", "cta_url")))
	if attrs["v"] != "2" || attrs["name"] != "mpm" {
		t.Fatalf("mpm => %v", attrs)
	}
	attrs = flowNode(t, GetButtonArgs(nativeFlow("cta_url", "mpm")))
	if attrs["v"] != "9" || attrs["name"] != "mixed" {
		t.Fatalf("cta_url => %v", attrs)
	}
	attrs = flowNode(t, GetButtonArgs(&waE2E.Message{ButtonsMessage: &waE2E.ButtonsMessage{}}))
	if attrs["name"] != "mixed" {
		t.Fatalf("buttons message => %v", attrs)
	}

	n = GetButtonArgs(&waE2E.Message{ListMessage: &waE2E.ListMessage{}})
	list, ok := n.Content.([]waBinary.Node)
	if !ok || len(list) != 1 || list[0].Tag != "list" || list[0].Attrs["type"] != "product_list" {
		t.Fatalf("list => %#v", n)
	}

	n = GetButtonArgs(&waE2E.Message{Conversation: proto.String("x")})
	if n.Tag != "biz" || n.Content != nil || len(n.Attrs) != 0 {
		t.Fatalf("plain => %#v", n)
	}
}

func TestValidationErrorRendering(t *testing.T) {
	err := newValidationError("Buttons payload invalid", "sendButtons.validateSendButtonsPayload",
		[]string{"text is mandatory and must be a string"}, []string{"w1"}, ExampleButtonsPayload)

	if got := err.Error(); got != "Buttons payload invalid (sendButtons.validateSendButtonsPayload): text is mandatory and must be a string" {
		t.Fatalf("Error() = %q", got)
	}
	detailed := err.FormatDetailed()
	for _, part := range []string{
		"[InteractiveValidationError] Buttons payload invalid (sendButtons.validateSendButtonsPayload)",
		"Errors:\n  - text is mandatory and must be a string",
		"Warnings:\n  - w1",
		"Example payload:",
		`"text": "Choose an option"`,
	} {
		if !strings.Contains(detailed, part) {
			t.Fatalf("FormatDetailed missing %q:\n%s", part, detailed)
		}
	}

	raw, jerr := json.Marshal(err)
	if jerr != nil {
		t.Fatalf("marshal: %v", jerr)
	}
	var decoded map[string]any
	if jerr := json.Unmarshal(raw, &decoded); jerr != nil {
		t.Fatalf("unmarshal: %v", jerr)
	}
	if decoded["name"] != "InteractiveValidationError" || decoded["context"] != "sendButtons.validateSendButtonsPayload" {
		t.Fatalf("json = %s", raw)
	}
	if _, ok := decoded["example"].(map[string]any); !ok {
		t.Fatalf("example missing: %s", raw)
	}
}
