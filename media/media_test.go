package media_test

import (
	"testing"

	"plebfeed/media"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		expected media.Kind
	}{
		{
			name:     "mp4 link",
			url:      "https://example.com/video.mp4",
			expected: media.KindVideo,
		},
		{
			name:     "gifv is video",
			url:      "https://i.imgur.com/funny.gifv",
			expected: media.KindVideo,
		},
		{
			name:     "jpeg image",
			url:      "https://example.com/photos/cat.JPEG",
			expected: media.KindImage,
		},
		{
			name:     "gif animation",
			url:      "https://example.com/loop.gif",
			expected: media.KindAnimation,
		},
		{
			name:     "opus audio",
			url:      "https://example.com/track.opus",
			expected: media.KindAudio,
		},
		{
			name:     "youtube short link",
			url:      "https://youtu.be/abc",
			expected: media.KindEmbeddable,
		},
		{
			name:     "youtube subdomain",
			url:      "https://music.youtube.com/watch?v=abc",
			expected: media.KindEmbeddable,
		},
		{
			name:     "lookalike domain is not embeddable",
			url:      "https://notyoutube.com/watch?v=abc",
			expected: media.KindNone,
		},
		{
			name:     "invidious mirror with video id",
			url:      "https://yt.example.org/watch?v=abc123",
			expected: media.KindEmbeddable,
		},
		{
			name:     "invidious mirror without video id",
			url:      "https://yt.example.org/about",
			expected: media.KindNone,
		},
		{
			name:     "pdf document",
			url:      "https://example.com/doc.pdf",
			expected: media.KindNone,
		},
		{
			name:     "no extension",
			url:      "https://example.com/posts/123",
			expected: media.KindNone,
		},
		{
			name:     "malformed url",
			url:      "://not-a-url",
			expected: media.KindNone,
		},
		{
			name:     "empty url",
			url:      "",
			expected: media.KindNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, media.Classify(tt.url))
		})
	}
}

func TestIsPlatformVideoAsset(t *testing.T) {
	assert.True(t, media.IsPlatformVideoAsset("https://video.twimg.com/ext_tw_video/123/pu/vid/720x900/abc.mp4?tag=12"))
	assert.False(t, media.IsPlatformVideoAsset("https://video.twimg.com/thumb.jpg"))
	assert.False(t, media.IsPlatformVideoAsset("https://example.com/abc.mp4"))
}

func TestGlyph(t *testing.T) {
	assert.Equal(t, "🎥", media.Glyph(media.KindVideo))
	assert.Equal(t, "🔗", media.Glyph(media.KindNone))
	assert.Equal(t, "🔗", media.Glyph(media.KindEmbeddable))
}
