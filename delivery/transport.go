package delivery

import "context"

// Button is one inline link button attached to a delivered message.
type Button struct {
	Text string
	URL  string
}

// SendOptions carries the per-message options every send takes.
type SendOptions struct {
	// Caption accompanies media sends; ignored for text sends.
	Caption string
	// Spoiler asks the destination to blur the media until tapped.
	Spoiler bool
	// DisableLinkPreview suppresses the destination's automatic link preview
	// on text sends.
	DisableLinkPreview bool
	// Buttons are rendered as a single row of inline link buttons.
	Buttons []Button
}

// Transport is the destination chat surface the dispatcher sends through.
// Implementations wrap a concrete chat API; tests use fakes.
type Transport interface {
	SendText(ctx context.Context, target string, text string, opts SendOptions) error
	SendImage(ctx context.Context, target string, url string, opts SendOptions) error
	SendVideo(ctx context.Context, target string, url string, opts SendOptions) error
	SendAudio(ctx context.Context, target string, url string, opts SendOptions) error
	SendAnimation(ctx context.Context, target string, url string, opts SendOptions) error
}
