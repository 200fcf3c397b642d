package media

import (
	"net/url"
	"path"
	"strings"
)

// Kind classifies what a post link points at, which decides the delivery
// strategy used for it.
type Kind string

const (
	KindImage     Kind = "image"
	KindVideo     Kind = "video"
	KindAudio     Kind = "audio"
	KindAnimation Kind = "animation"
	// KindEmbeddable marks links to platforms the destination renders via its
	// own link preview rather than re-uploaded media.
	KindEmbeddable Kind = "embeddable"
	KindNone       Kind = "none"
)

// Platforms whose links Telegram previews natively.
var embeddableDomains = []string{
	// YouTube
	"youtube.com",
	"m.youtube.com",
	"youtu.be",
	// Twitter/X
	"twitter.com",
	"x.com",
	"mobile.twitter.com",
	// TikTok
	"tiktok.com",
	"m.tiktok.com",
	// Instagram
	"instagram.com",
	"m.instagram.com",
	// Twitch
	"twitch.tv",
	"m.twitch.tv",
	// Reddit
	"reddit.com",
	"m.reddit.com",
	// Others
	"odysee.com",
	"bitchute.com",
	"streamable.com",
	"spotify.com",
	"soundcloud.com",
}

var imageExtensions = map[string]bool{
	"jpg": true, "jpeg": true, "png": true, "webp": true, "bmp": true, "tiff": true,
}

// gifv is actually video
var videoExtensions = map[string]bool{
	"mp4": true, "webm": true, "avi": true, "mov": true, "mkv": true,
	"m4v": true, "3gp": true, "gifv": true,
}

var audioExtensions = map[string]bool{
	"mp3": true, "wav": true, "ogg": true, "flac": true, "m4a": true,
	"aac": true, "opus": true,
}

// Only true looping GIF animations, not generic video containers.
var animationExtensions = map[string]bool{
	"gif": true,
}

// Classify maps a link URL to a media kind. It is total: malformed URLs and
// unknown extensions classify as KindNone so the caller falls back to a
// plain link message.
func Classify(rawURL string) Kind {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return KindNone
	}

	if isEmbeddablePlatform(parsed) {
		return KindEmbeddable
	}

	ext := strings.TrimPrefix(strings.ToLower(path.Ext(parsed.Path)), ".")
	if ext == "" {
		return KindNone
	}

	switch {
	case imageExtensions[ext]:
		return KindImage
	case videoExtensions[ext]:
		return KindVideo
	case audioExtensions[ext]:
		return KindAudio
	case animationExtensions[ext]:
		return KindAnimation
	default:
		return KindNone
	}
}

func isEmbeddablePlatform(parsed *url.URL) bool {
	hostname := parsed.Hostname()

	for _, domain := range embeddableDomains {
		if hostname == domain {
			return true
		}
		// Proper subdomain match only, so e.g. notyoutube.com does not count.
		if strings.HasSuffix(hostname, "."+domain) &&
			len(strings.Split(hostname, ".")) > len(strings.Split(domain, ".")) {
			return true
		}
	}

	// Invidious-style YouTube mirrors: yt.* hosts carrying a video id.
	return strings.HasPrefix(hostname, "yt.") && parsed.Query().Has("v")
}

// IsPlatformVideoAsset reports whether the URL is a platform-hosted raw video
// asset, which the destination often refuses to fetch directly. Currently
// this means Twitter's video CDN.
func IsPlatformVideoAsset(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return parsed.Hostname() == "video.twimg.com" && strings.Contains(parsed.Path, ".mp4")
}

// Glyph returns the marker used when a media send degrades to a plain text
// message with the raw link.
func Glyph(kind Kind) string {
	switch kind {
	case KindVideo:
		return "🎥"
	case KindImage:
		return "🖼️"
	case KindAudio:
		return "🎵"
	case KindAnimation:
		return "🎞️"
	default:
		return "🔗"
	}
}
