package interactive

import (
	waBinary "go.mau.fi/whatsmeow/binary"
	"go.mau.fi/whatsmeow/proto/waE2E"
)

// Button categories reported by GetButtonType.
const (
	TypeList       = "list"
	TypeButtons    = "buttons"
	TypeNativeFlow = "native_flow"
)

const maxUnwrapDepth = 5

// nativeFlowSpecials are native flow names that get their own
// native_flow node instead of the generic "mixed" one.
var nativeFlowSpecials = map[string]bool{
	"mpm":                                     true,
	"cta_catalog":                             true,
	"send_location":                           true,
	"call_permission_request":                 true,
	"wa_payment_transaction_details":          true,
	"automated_greeting_message_view_catalog": true,
}

// NormalizeMessageContent strips FutureProof wrappers (ephemeral, view
// once, document with caption, edited) and returns the inner content.
func NormalizeMessageContent(msg *waE2E.Message) *waE2E.Message {
	for i := 0; msg != nil && i < maxUnwrapDepth; i++ {
		var inner *waE2E.FutureProofMessage
		switch {
		case msg.GetEphemeralMessage() != nil:
			inner = msg.GetEphemeralMessage()
		case msg.GetViewOnceMessage() != nil:
			inner = msg.GetViewOnceMessage()
		case msg.GetViewOnceMessageV2() != nil:
			inner = msg.GetViewOnceMessageV2()
		case msg.GetViewOnceMessageV2Extension() != nil:
			inner = msg.GetViewOnceMessageV2Extension()
		case msg.GetDocumentWithCaptionMessage() != nil:
			inner = msg.GetDocumentWithCaptionMessage()
		case msg.GetEditedMessage() != nil:
			inner = msg.GetEditedMessage()
		default:
			return msg
		}
		if inner.GetMessage() == nil {
			return msg
		}
		msg = inner.GetMessage()
	}
	return msg
}

// GetButtonType reports which interactive category a normalized message
// belongs to, or "" when it carries no buttons.
func GetButtonType(msg *waE2E.Message) string {
	switch {
	case msg.GetListMessage() != nil:
		return TypeList
	case msg.GetButtonsMessage() != nil:
		return TypeButtons
	case msg.GetInteractiveMessage().GetNativeFlowMessage() != nil:
		return TypeNativeFlow
	}
	return ""
}

// GetButtonArgs returns the biz node the server needs alongside the
// message to render its buttons or list.
func GetButtonArgs(msg *waE2E.Message) waBinary.Node {
	nativeFlow := msg.GetInteractiveMessage().GetNativeFlowMessage()
	firstButtonName := ""
	if btns := nativeFlow.GetButtons(); len(btns) > 0 {
		firstButtonName = btns[0].GetName()
	}

	switch {
	case nativeFlow != nil && (firstButtonName == "review_and_pay" || firstButtonName == "payment_info"):
		flowName := firstButtonName
		if flowName == "review_and_pay" {
			flowName = "order_details"
		}
		return waBinary.Node{
			Tag:   "biz",
			Attrs: waBinary.Attrs{"native_flow_name": flowName},
		}
	case nativeFlow != nil && nativeFlowSpecials[firstButtonName]:
		return interactiveNode("2", firstButtonName)
	case nativeFlow != nil || msg.GetButtonsMessage() != nil:
		return interactiveNode("9", "mixed")
	case msg.GetListMessage() != nil:
		return waBinary.Node{
			Tag:   "biz",
			Attrs: waBinary.Attrs{},
			Content: []waBinary.Node{{
				Tag:   "list",
				Attrs: waBinary.Attrs{"v": "2", "type": "product_list"},
			}},
		}
	default:
		return waBinary.Node{Tag: "biz", Attrs: waBinary.Attrs{}}
	}
}

func interactiveNode(version, name string) waBinary.Node {
	return waBinary.Node{
		Tag:   "biz",
		Attrs: waBinary.Attrs{},
		Content: []waBinary.Node{{
			Tag:   "interactive",
			Attrs: waBinary.Attrs{"type": "native_flow", "v": "1"},
			Content: []waBinary.Node{{
				Tag:   "native_flow",
				Attrs: waBinary.Attrs{"v": version, "name": name},
			}},
		}},
	}
}

// botNode marks a private-chat interactive message as coming from a
// business bot.
func botNode() waBinary.Node {
	return waBinary.Node{Tag: "bot", Attrs: waBinary.Attrs{"biz_bot": "1"}}
}
