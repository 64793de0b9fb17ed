package provider

import (
	"fmt"
	"strings"

	"github.com/nyaruka/phonenumbers"
	"go.mau.fi/whatsmeow/types"
)

// ResolveResult describes how a recipient string maps to a JID.
type ResolveResult struct {
	Input        string `json:"input"`
	NormalizedPN string `json:"normalized_pn,omitempty"`
	DestJID      string `json:"dest_jid"`
	Group        bool   `json:"group"`
}

// normalizeE164 parses a phone number written in international form or in
// the national form of region. It returns "" when the input is not a
// parseable number.
func normalizeE164(input, region string) string {
	in := strings.TrimSpace(input)
	if in == "" {
		return ""
	}
	if strings.HasPrefix(in, "+") {
		region = ""
	}
	num, err := phonenumbers.Parse(in, strings.ToUpper(region))
	if err != nil {
		return ""
	}
	return phonenumbers.Format(num, phonenumbers.E164)
}

// toUserJID maps a phone number or a user JID to a user JID. Numbers that
// phonenumbers rejects fall back to their digits.
func toUserJID(to, region string) (types.JID, error) {
	to = strings.TrimSpace(to)
	if to == "" {
		return types.JID{}, fmt.Errorf("empty recipient")
	}
	if strings.Contains(to, "@") {
		j, err := types.ParseJID(to)
		if err != nil {
			return types.JID{}, err
		}
		if j.Server == "" {
			j.Server = types.DefaultUserServer
		}
		return j, nil
	}
	digits := digitsOnly(normalizeE164(to, region))
	if digits == "" {
		digits = digitsOnly(to)
	}
	if digits == "" {
		return types.JID{}, fmt.Errorf("empty msisdn after normalization")
	}
	return types.NewJID(digits, types.DefaultUserServer), nil
}

// toJID accepts full JIDs (users, groups) or phone numbers.
func toJID(to, region string) (types.JID, error) {
	to = strings.TrimSpace(to)
	if to == "" {
		return types.JID{}, fmt.Errorf("empty recipient")
	}
	if strings.Contains(to, "@") {
		return types.ParseJID(to)
	}
	return toUserJID(to, region)
}

// resolveRecipient is toJID with a TTL cache in front.
func (m *ClientManager) resolveRecipient(to string) (types.JID, error) {
	key := m.defaultRegion + "|" + strings.TrimSpace(to)
	if j, ok := m.recipient.get(key); ok {
		return j, nil
	}
	j, err := toJID(to, m.defaultRegion)
	if err != nil {
		return types.JID{}, err
	}
	m.recipient.put(key, j)
	return j, nil
}

// ResolveDest reports the JID a recipient string would be sent to.
func (m *ClientManager) ResolveDest(sessionID, to string) (ResolveResult, error) {
	res := ResolveResult{Input: to}
	if _, err := m.mustHave(sessionID); err != nil {
		return res, err
	}
	j, err := m.resolveRecipient(to)
	if err != nil {
		return res, err
	}
	if !strings.Contains(to, "@") {
		res.NormalizedPN = normalizeE164(to, m.defaultRegion)
	}
	res.DestJID = j.String()
	res.Group = isGroupJID(j)
	return res, nil
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isGroupJID(j types.JID) bool {
	return j.Server == types.GroupServer
}
