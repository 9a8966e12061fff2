package detector

import (
	"strings"

	"support-reply-workers/internal/pipeline/casecontext"
)

// IntentDateChange is the upstream label for "I want another exam date".
const IntentDateChange = "date_change_request"

var dateChangePhrases = []string{
	"change the date", "change my date", "change date", "another date", "other date",
	"different date", "new date", "change my exam", "reschedule", "postpone", "move my exam",
	"changer la date", "changer de date", "autre date", "reporter", "décaler",
}

type claimPattern struct {
	kind    string
	phrases []string
}

// Checked in order; the first kind with a matching phrase wins.
var claimPatterns = []claimPattern{
	{kind: "documents", phrases: []string{"already sent", "already uploaded", "already submitted", "déjà envoyé", "déjà transmis"}},
	{kind: "payment", phrases: []string{"already paid", "déjà payé", "déjà réglé"}},
	{kind: "generic", phrases: []string{"that's not true", "this is wrong", "you are wrong", "c'est faux"}},
}

// RequestsDateChange reports whether the intent or the pending inbound messages ask
// for a different exam date.
func RequestsDateChange(conv casecontext.Conversation, intent casecontext.Intent) bool {
	if intent.Has(IntentDateChange) {
		return true
	}
	return containsAny(conv.PendingText(), dateChangePhrases)
}

// DetectContestedClaim returns the kind of fact the customer disputes in pending messages.
func DetectContestedClaim(conv casecontext.Conversation) (string, bool) {
	text := conv.PendingText()
	if text == "" {
		return "", false
	}
	for _, p := range claimPatterns {
		if containsAny(text, p.phrases) {
			return p.kind, true
		}
	}
	return "", false
}

func containsAny(text string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}
