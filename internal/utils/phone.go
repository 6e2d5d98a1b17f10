package utils

import (
	"regexp"
	"strings"

	"go.mau.fi/whatsmeow/types"
)

var nonDigitRegex = regexp.MustCompile(`\D`)

// NormalizePhone strips everything but digits ("+55 11 91234-5678" -> "5511912345678")
func NormalizePhone(number string) string {
	return nonDigitRegex.ReplaceAllString(number, "")
}

// PhoneToJID converts a phone number to WhatsApp JID
func PhoneToJID(number string) types.JID {
	return types.NewJID(NormalizePhone(number), types.DefaultUserServer)
}

// NormalizeNewlines converts all newline types to LF
func NormalizeNewlines(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return text
}

// Truncate shortens a string to maxLen runes
func Truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}
