package whatsapp

import (
	"regexp"
	"strings"
)

var (
	citationRe = regexp.MustCompile(`【.*?】`)
	boldRe     = regexp.MustCompile(`\*\*(.*?)\*\*`)
)

// FormatText adapts model output to WhatsApp markup: citation markers are
// dropped and markdown bold becomes WhatsApp bold.
func FormatText(text string) string {
	text = strings.TrimSpace(citationRe.ReplaceAllString(text, ""))
	return boldRe.ReplaceAllString(text, "*$1*")
}
