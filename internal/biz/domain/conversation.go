package domain

import (
	"regexp"
	"strings"
	"time"
)

// ConversationContext is the assembled view of a thread used to build a prompt.
// It is never persisted.
type ConversationContext struct {
	ThreadID       string
	LatestMessage  string
	HistorySize    int
	Participants   []string // sorted, deduplicated
	LastActivity   time.Time
	RecentMessages []Notification
	Formatted      string
}

// HasParticipant checks if p was extracted from the thread
func (c *ConversationContext) HasParticipant(p string) bool {
	for _, x := range c.Participants {
		if x == p {
			return true
		}
	}
	return false
}

const (
	whatsAppPackageMarker = "whatsapp"
	phoneNumberLength     = 11
	titlePrefixLength     = 5
)

var (
	phoneLikeRe  = regexp.MustCompile(`(?:\d[\s-]*){7,}`)
	nonDigitRe   = regexp.MustCompile(`[^0-9]`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// IsWhatsAppPackage reports whether the package belongs to a WhatsApp client
func IsWhatsAppPackage(pkg string) bool {
	return strings.Contains(strings.ToLower(pkg), whatsAppPackageMarker)
}

// HasPhoneNumber reports whether text carries at least 7 digits, optionally
// separated by spaces or dashes.
func HasPhoneNumber(text string) bool {
	return phoneLikeRe.MatchString(text)
}

// NormalizePhoneNumber strips non-digits and keeps the last 11 digits.
func NormalizePhoneNumber(text string) string {
	digits := nonDigitRe.ReplaceAllString(text, "")
	if len(digits) > phoneNumberLength {
		return digits[len(digits)-phoneNumberLength:]
	}
	return digits
}

// TitlePrefix returns the first 5 characters of the lowercased, trimmed title.
func TitlePrefix(title string) string {
	normalized := strings.ToLower(strings.TrimSpace(title))
	r := []rune(normalized)
	if len(r) < titlePrefixLength {
		return normalized
	}
	return string(r[:titlePrefixLength])
}

// GenerateConversationID derives the stable thread id of a notification.
//
//	whatsapp + phone-like title  -> whatsapp_<last 11 digits>
//	whatsapp + contact name      -> whatsapp_contact_<title prefix>
//	anything else                -> <package>_<normalized title>
func GenerateConversationID(pkg, title string) string {
	if pkg == "" {
		return ""
	}
	if IsWhatsAppPackage(pkg) {
		if HasPhoneNumber(title) {
			return "whatsapp_" + NormalizePhoneNumber(title)
		}
		return "whatsapp_contact_" + whitespaceRe.ReplaceAllString(TitlePrefix(title), "_")
	}
	normalized := whitespaceRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(title)), "_")
	return pkg + "_" + normalized
}
