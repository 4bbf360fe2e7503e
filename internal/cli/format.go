package cli

import (
	"fmt"
	"strings"

	"github.com/mwhitfield/rtchat/internal/protocol"
)

// formatPlain formats a message for human-readable output.
func formatPlain(msg protocol.Message) string {
	var b strings.Builder
	ts := msg.CreatedAt.Local().Format("15:04:05")
	fmt.Fprintf(&b, "[%s] %s", ts, msg.UserName)

	if kind, url, ok := protocol.ParseMedia(msg.Content); ok {
		fmt.Fprintf(&b, " shared %s: %s", kind, url)
	} else {
		fmt.Fprintf(&b, ": %s", msg.Content)
	}

	switch msg.Status {
	case protocol.StatusSending:
		b.WriteString(" (sending...)")
	case protocol.StatusFailed:
		b.WriteString(" (FAILED)")
	}

	for _, r := range msg.Reactions {
		fmt.Fprintf(&b, " %s×%d", r.Emoji, r.Count)
	}

	return b.String()
}

// ANSI color codes for sender coloring.
var senderColors = []string{
	"\033[36m", // Cyan
	"\033[32m", // Green
	"\033[33m", // Yellow
	"\033[35m", // Magenta
	"\033[34m", // Blue
	"\033[31m", // Red
	"\033[96m", // Bright Cyan
	"\033[92m", // Bright Green
}

const ansiReset = "\033[0m"

// senderColor returns a deterministic ANSI color for a sender name.
func senderColor(name string) string {
	var h uint32
	for _, c := range name {
		h = h*31 + uint32(c)
	}
	return senderColors[h%uint32(len(senderColors))]
}

// formatColor wraps formatPlain with ANSI color on the sender name.
func formatColor(msg protocol.Message) string {
	plain := formatPlain(msg)
	color := senderColor(msg.UserName)
	return strings.Replace(plain, "] "+msg.UserName, "] "+color+msg.UserName+ansiReset, 1)
}
