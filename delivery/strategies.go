package delivery

import (
	"context"
	"fmt"

	"plebfeed/media"
)

// strategy is one attempt at delivering a post to a single target. Strategies
// for a post are tried in order until one succeeds; the last entry is always
// the generic text fallback, so an exhausted chain means every option failed.
type strategy struct {
	name string
	send func(ctx context.Context, t Transport, target string, p *plan) error
}

// plan is everything needed to deliver one post to one target.
type plan struct {
	url     string
	caption string
	kind    media.Kind
	spoiler bool
	buttons []Button
}

func (p *plan) opts() SendOptions {
	return SendOptions{
		Caption: p.caption,
		Spoiler: p.spoiler,
		Buttons: p.buttons,
	}
}

// strategiesFor builds the ordered attempt list for a post's media kind.
// This is the declarative replacement for cascading fallback branches: each
// kind maps to a list, and the dispatcher just walks it.
func strategiesFor(p *plan) []strategy {
	var chain []strategy

	switch p.kind {
	case media.KindImage:
		chain = append(chain, strategy{"image", sendImage})
	case media.KindAudio:
		chain = append(chain, strategy{"audio", sendAudio})
	case media.KindAnimation:
		chain = append(chain, strategy{"animation", sendAnimation})
	case media.KindVideo:
		chain = append(chain, strategy{"video", sendVideo})
		if media.IsPlatformVideoAsset(p.url) {
			// Twitter's CDN often refuses direct video fetches; a caption
			// message annotating the link still beats the generic fallback.
			chain = append(chain, strategy{"video-attachment-note", sendVideoAttachmentNote})
		}
	case media.KindEmbeddable:
		if p.spoiler {
			// A spoilered video gets native preview plus blur; when that
			// fails, a spoiler-wrapped link at least hides the content.
			chain = append(chain,
				strategy{"spoiler-video", sendVideo},
				strategy{"spoiler-link", sendSpoilerLink},
			)
		} else {
			// Plain link first so the destination renders its own preview;
			// an image send can still salvage a thumbnail.
			chain = append(chain,
				strategy{"link", sendLink},
				strategy{"thumbnail-image", sendImage},
			)
		}
	default:
		chain = append(chain, strategy{"link", sendLink})
	}

	chain = append(chain, strategy{"fallback", sendGenericFallback})
	return chain
}

func sendImage(ctx context.Context, t Transport, target string, p *plan) error {
	return t.SendImage(ctx, target, p.url, p.opts())
}

func sendVideo(ctx context.Context, t Transport, target string, p *plan) error {
	return t.SendVideo(ctx, target, p.url, p.opts())
}

func sendAudio(ctx context.Context, t Transport, target string, p *plan) error {
	return t.SendAudio(ctx, target, p.url, p.opts())
}

func sendAnimation(ctx context.Context, t Transport, target string, p *plan) error {
	return t.SendAnimation(ctx, target, p.url, p.opts())
}

func sendLink(ctx context.Context, t Transport, target string, p *plan) error {
	text := fmt.Sprintf("%s\n\n🔗 %s", p.caption, p.url)
	return t.SendText(ctx, target, text, SendOptions{Buttons: p.buttons})
}

func sendSpoilerLink(ctx context.Context, t Transport, target string, p *plan) error {
	text := fmt.Sprintf("%s\n\n🔗 <tg-spoiler>%s</tg-spoiler>", p.caption, p.url)
	return t.SendText(ctx, target, text, SendOptions{
		Buttons:            p.buttons,
		DisableLinkPreview: true,
	})
}

func sendVideoAttachmentNote(ctx context.Context, t Transport, target string, p *plan) error {
	text := fmt.Sprintf("%s\n\n🎥 <i>Video attachment (click to view):</i> %s", p.caption, p.url)
	return t.SendText(ctx, target, text, SendOptions{Buttons: p.buttons})
}

func sendGenericFallback(ctx context.Context, t Transport, target string, p *plan) error {
	text := fmt.Sprintf("%s\n\n%s %s", p.caption, media.Glyph(p.kind), p.url)
	return t.SendText(ctx, target, text, SendOptions{Buttons: p.buttons})
}
