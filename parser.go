package chat

import (
	"strings"
	"unicode"
)

// ParseLine splits a client line of the form "alice,bob:text" into its
// recipients and body. ok is false for lines without a ':' separator.
func ParseLine(line string) (to []string, content string, ok bool) {
	dest, msg, found := strings.Cut(line, ":")
	if !found {
		return nil, "", false
	}

	for _, name := range strings.Split(dest, ",") {
		to = append(to, strings.TrimSpace(name))
	}
	return to, strings.TrimLeftFunc(msg, unicode.IsSpace), true
}

// FormatDelivery renders the line written to a recipient.
func FormatDelivery(from, content string) string {
	return "from " + from + ": " + content + "\n"
}
