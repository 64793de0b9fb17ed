package interactive

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.mau.fi/whatsmeow"
	waBinary "go.mau.fi/whatsmeow/binary"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
)

type fakeSender struct {
	mu    sync.Mutex
	calls []sentCall
	err   error
}

type sentCall struct {
	to    types.JID
	msg   *waE2E.Message
	extra whatsmeow.SendRequestExtra
}

func (f *fakeSender) SendMessage(_ context.Context, to types.JID, msg *waE2E.Message, extra ...whatsmeow.SendRequestExtra) (whatsmeow.SendResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := sentCall{to: to, msg: msg}
	if len(extra) > 0 {
		c.extra = extra[0]
	}
	f.calls = append(f.calls, c)
	if f.err != nil {
		return whatsmeow.SendResponse{}, f.err
	}
	return whatsmeow.SendResponse{ID: c.extra.ID, Timestamp: time.Unix(1700000000, 0)}, nil
}

func (f *fakeSender) GenerateMessageID() types.MessageID {
	return "3EB0GENERATED"
}

var (
	privateJID = types.NewJID("5562991728088", types.DefaultUserServer)
	groupJID   = types.NewJID("120363000000000000", types.GroupServer)
)

func tags(nodes *[]waBinary.Node) []string {
	if nodes == nil {
		return nil
	}
	out := make([]string, len(*nodes))
	for i, n := range *nodes {
		out[i] = n.Tag
	}
	return out
}

func TestSendRequiresSender(t *testing.T) {
	var verr *ValidationError
	_, err := SendInteractiveMessage(context.Background(), nil, privateJID, &ExampleInteractivePayload, SendOptions{})
	if !errors.As(err, &verr) || verr.Message != "Socket is required" || verr.Context != "sendInteractiveMessage" {
		t.Fatalf("err = %v", err)
	}
	_, err = SendButtons(context.Background(), nil, privateJID, &ExampleButtonsPayload, SendOptions{})
	if !errors.As(err, &verr) || verr.Context != "sendButtons" {
		t.Fatalf("err = %v", err)
	}
}

func TestSendInteractiveMessageRejectsBeforeRelay(t *testing.T) {
	s := &fakeSender{}
	p := &InteractivePayload{Text: "hi", InteractiveButtons: Buttons(&Button{Name: "bogus", ButtonParamsJSON: "{}"})}
	_, err := SendInteractiveMessage(context.Background(), s, privateJID, p, SendOptions{})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if verr.Message != "Interactive authoring payload invalid" ||
		verr.Context != "sendInteractiveMessage.validateSendInteractiveMessagePayload" {
		t.Fatalf("verr = %#v", verr)
	}
	if _, ok := verr.Example.(InteractivePayload); !ok {
		t.Fatalf("example = %T", verr.Example)
	}
	if len(s.calls) != 0 {
		t.Fatal("nothing must be relayed on validation failure")
	}
}

func TestSendInteractiveMessageValidatesLiteralList(t *testing.T) {
	s := &fakeSender{}
	p := &InteractivePayload{
		Text:               "hi",
		InteractiveButtons: ButtonList{Items: []*Button{{Name: "not_a_real_type", ButtonParamsJSON: "{}"}}},
	}
	_, err := SendInteractiveMessage(context.Background(), s, privateJID, p, SendOptions{})
	var verr *ValidationError
	if !errors.As(err, &verr) || !contains(verr.Errors, "interactiveButtons[0] name 'not_a_real_type' not allowed") {
		t.Fatalf("err = %v", err)
	}
	if len(s.calls) != 0 {
		t.Fatal("nothing must be relayed on validation failure")
	}
}

func TestSendInteractiveMessageEmptyList(t *testing.T) {
	s := &fakeSender{}
	l := Buttons()
	if l.IsNil() || !l.IsArray() {
		t.Fatalf("Buttons() nil=%v array=%v", l.IsNil(), l.IsArray())
	}
	_, err := SendInteractiveMessage(context.Background(), s, privateJID, &InteractivePayload{Text: "hi", InteractiveButtons: l}, SendOptions{})
	var verr *ValidationError
	if !errors.As(err, &verr) || !contains(verr.Errors, "interactiveButtons is mandatory and must be a non-empty array") {
		t.Fatalf("err = %v", err)
	}
	if len(s.calls) != 0 {
		t.Fatal("nothing must be relayed for an empty list")
	}
}

func TestSendInteractiveMessageNilPayload(t *testing.T) {
	s := &fakeSender{}
	_, err := SendInteractiveMessage(context.Background(), s, privateJID, nil, SendOptions{})
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Context != "sendInteractiveMessage.validateInteractiveMessageContent" {
		t.Fatalf("err = %v", err)
	}
	if _, ok := verr.Example.(*waE2E.Message); !ok {
		t.Fatalf("example = %T", verr.Example)
	}
	if len(s.calls) != 0 {
		t.Fatal("nothing must be relayed")
	}
}

func TestSendInteractiveMessagePrivate(t *testing.T) {
	s := &fakeSender{}
	own := make(chan GeneratedMessage, 1)
	extraNode := waBinary.Node{Tag: "meta", Attrs: waBinary.Attrs{"x": "1"}}
	p := ExampleInteractivePayload

	gen, err := SendInteractiveMessage(context.Background(), s, privateJID, &p, SendOptions{
		AdditionalNodes: []waBinary.Node{extraNode},
		Timeout:         5 * time.Second,
		EmitOwnEvents:   true,
		OnOwnMessage:    func(m GeneratedMessage) { own <- m },
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if gen.ID != "3EB0GENERATED" || gen.ButtonType != TypeNativeFlow {
		t.Fatalf("generated = %#v", gen)
	}
	if len(s.calls) != 1 {
		t.Fatalf("calls = %d", len(s.calls))
	}
	call := s.calls[0]
	if call.extra.ID != gen.ID || call.extra.Timeout != 5*time.Second {
		t.Fatalf("extra = %#v", call.extra)
	}
	got := tags(call.extra.AdditionalNodes)
	want := []string{"meta", "biz", "bot"}
	if len(got) != len(want) {
		t.Fatalf("nodes = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("nodes = %v, want %v", got, want)
		}
	}
	if call.msg.GetInteractiveMessage().GetNativeFlowMessage() == nil {
		t.Fatal("relayed message should be native flow")
	}

	select {
	case m := <-own:
		if m.ID != gen.ID || m.Chat != privateJID {
			t.Fatalf("own event = %#v", m)
		}
	case <-time.After(time.Second):
		t.Fatal("own message callback not invoked")
	}
}

func TestSendInteractiveMessageGroup(t *testing.T) {
	s := &fakeSender{}
	called := make(chan struct{}, 1)
	p := ExampleInteractivePayload
	_, err := SendInteractiveMessage(context.Background(), s, groupJID, &p, SendOptions{
		MessageID:     "CUSTOM",
		EmitOwnEvents: true,
		OnOwnMessage:  func(GeneratedMessage) { called <- struct{}{} },
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	call := s.calls[0]
	if call.extra.ID != "CUSTOM" {
		t.Fatalf("id = %s", call.extra.ID)
	}
	if got := tags(call.extra.AdditionalNodes); len(got) != 1 || got[0] != "biz" {
		t.Fatalf("group nodes = %v", got)
	}
	select {
	case <-called:
		t.Fatal("own events are only emitted for private chats")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSendInteractiveMessagePlainText(t *testing.T) {
	s := &fakeSender{}
	gen, err := SendInteractiveMessage(context.Background(), s, privateJID, &InteractivePayload{Text: "no buttons"}, SendOptions{})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if gen.ButtonType != "" || s.calls[0].extra.AdditionalNodes != nil {
		t.Fatalf("plain text should carry no biz nodes: %v", tags(s.calls[0].extra.AdditionalNodes))
	}
	if s.calls[0].msg.GetConversation() != "no buttons" {
		t.Fatalf("msg = %v", s.calls[0].msg)
	}
}

func TestSendInteractiveMessageRelayError(t *testing.T) {
	boom := errors.New("boom")
	s := &fakeSender{err: boom}
	p := ExampleInteractivePayload
	_, err := SendInteractiveMessage(context.Background(), s, privateJID, &p, SendOptions{})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped boom", err)
	}
	var verr *ValidationError
	if errors.As(err, &verr) {
		t.Fatal("relay errors are not validation errors")
	}
}

func TestSendButtons(t *testing.T) {
	s := &fakeSender{}
	p := &ButtonsPayload{
		Text:   "Pick",
		Footer: "f",
		Title:  "T",
		Buttons: Buttons(
			QuickReply("a", "A"),
			&Button{Name: "cta_call", ButtonParamsJSON: `{"display_text":"Call","phone_number":"+5562991728088"}`},
		),
	}
	gen, err := SendButtons(context.Background(), s, privateJID, p, SendOptions{})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	im := gen.Message.GetInteractiveMessage()
	btns := im.GetNativeFlowMessage().GetButtons()
	if len(btns) != 2 {
		t.Fatalf("buttons = %v", btns)
	}
	if btns[0].GetName() != "quick_reply" || btns[0].GetButtonParamsJSON() != `{"display_text":"A","id":"a"}` {
		t.Fatalf("quick reply = %v", btns[0])
	}
	if btns[1].GetName() != "cta_call" {
		t.Fatalf("cta = %v", btns[1])
	}
	if im.GetHeader().GetTitle() != "T" || im.GetFooter().GetText() != "f" || im.GetBody().GetText() != "Pick" {
		t.Fatalf("interactive = %v", im)
	}
}

func TestSendButtonsInvalid(t *testing.T) {
	s := &fakeSender{}
	p := &ButtonsPayload{Buttons: Buttons(&Button{Name: "single_select", ButtonParamsJSON: "{}"})}
	_, err := SendButtons(context.Background(), s, privateJID, p, SendOptions{})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v", err)
	}
	if verr.Message != "Buttons payload invalid" || verr.Context != "sendButtons.validateSendButtonsPayload" {
		t.Fatalf("verr = %#v", verr)
	}
	if len(verr.Errors) != 2 ||
		verr.Errors[0] != "text is mandatory and must be a string" ||
		verr.Errors[1] != "button[0] name 'single_select' not allowed in sendButtons" {
		t.Fatalf("errors = %v", verr.Errors)
	}
	if len(s.calls) != 0 {
		t.Fatal("nothing must be relayed")
	}
}
