package protocol

import "regexp"

// Media kinds encoded in message content.
const (
	MediaAudio = "audio"
	MediaImage = "image"
	MediaVideo = "video"
)

var mediaPattern = regexp.MustCompile(`^\[(audio|image|video)\]\((.+)\)$`)

// MediaContent builds the markdown-style content marker for an uploaded
// media URL, e.g. "[audio](/api/chat/voice/abc.webm)". This is a content
// convention, not a transport feature: the result is sent as ordinary
// message content.
func MediaContent(kind, url string) string {
	return "[" + kind + "](" + url + ")"
}

// ParseMedia recognizes a media content marker. Returns the media kind and
// URL, or ok=false for ordinary text content.
func ParseMedia(content string) (kind, url string, ok bool) {
	m := mediaPattern.FindStringSubmatch(content)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}
