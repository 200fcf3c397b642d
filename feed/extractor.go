// Package feed extracts new, deliverable posts from a community: it prefers
// the paged posts index, falls back to linked-list traversal, resolves
// authoritative moderation state, and normalizes text for delivery.
package feed

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"plebfeed/history"
	"plebfeed/models"
	"plebfeed/plebbit"
)

var (
	postsConsidered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "plebfeed_posts_considered_total",
		Help: "The total number of candidate posts inspected by the extractor",
	})

	postsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plebfeed_posts_skipped_total",
		Help: "The total number of candidate posts skipped, by reason",
	}, []string{"reason"})
)

const (
	// How many posts the linked-list fallback follows per community per
	// cycle. Backlog beyond the cap is picked up by later cycles until the
	// staleness filter drops it.
	traversalCap = 20

	// DefaultUpdateWait bounds the wait for an authoritative comment update.
	DefaultUpdateWait = 10 * time.Second

	// DefaultMaxAge is the staleness threshold: posts older than this are
	// never delivered.
	DefaultMaxAge = 2 * 24 * time.Hour
)

// Extractor pulls deliverable posts out of one community at a time.
type Extractor struct {
	api        plebbit.API
	history    *history.Store
	updateWait time.Duration
	maxAge     time.Duration
	now        func() time.Time
}

func NewExtractor(api plebbit.API, history *history.Store) *Extractor {
	return &Extractor{
		api:        api,
		history:    history,
		updateWait: DefaultUpdateWait,
		maxAge:     DefaultMaxAge,
		now:        time.Now,
	}
}

// Extract returns the community's new posts, normalized and ready for
// delivery, newest first. Per-post failures are logged and skipped; they
// never abort the remaining posts.
func (e *Extractor) Extract(ctx context.Context, sub *models.Subplebbit) []*models.Post {
	candidates := e.candidates(ctx, sub)
	if len(candidates) > traversalCap {
		candidates = candidates[:traversalCap]
	}

	var out []*models.Post
	for _, post := range candidates {
		select {
		case <-ctx.Done():
			return out
		default:
		}

		if post.Cid == "" {
			continue
		}
		postsConsidered.Inc()

		if e.history.Contains(post.Cid) {
			log.Debugf("Skipping already processed post %s on p/%s",
				models.ShortAddress(post.Cid), models.ShortAddress(sub.Address))
			postsSkipped.WithLabelValues("processed").Inc()
			continue
		}

		normalized, reason, err := e.process(ctx, post)
		if err != nil {
			log.WithFields(log.Fields{
				"subplebbit": models.ShortAddress(sub.Address),
				"cid":        models.ShortAddress(post.Cid),
				"error":      err,
			}).Error("Error processing post")
			continue
		}
		if normalized == nil {
			postsSkipped.WithLabelValues(reason).Inc()
			continue
		}

		out = append(out, normalized)
	}

	return out
}

// process resolves one candidate's authoritative state and normalizes it.
// A nil post with a reason means the candidate was filtered out.
func (e *Extractor) process(ctx context.Context, post *models.Post) (*models.Post, string, error) {
	// The feed entry's removed flag may be stale; the live comment update is
	// ground truth. Timing out is fine: we proceed with what we last saw.
	removed := post.Removed
	deleted := post.Deleted

	update, resolved, err := e.api.AwaitCommentUpdate(ctx, post.Cid, e.updateWait)
	if err != nil {
		return nil, "", err
	}
	if resolved {
		removed = update.Removed
		if update.Deleted {
			deleted = true
		}
	}

	if removed {
		return nil, "removed", nil
	}
	if deleted {
		return nil, "deleted", nil
	}
	if e.now().Unix()-post.Timestamp > int64(e.maxAge.Seconds()) {
		return nil, "stale", nil
	}

	normalized := *post
	normalized.Removed = removed
	normalized.Deleted = deleted
	normalized.Title, normalized.Content = truncate(
		normalizeText(post.Title),
		normalizeText(post.Content),
	)

	return &normalized, "", nil
}

// candidates collects recent posts via the paged index, falling back to
// manual linked-list traversal when pages are unavailable.
func (e *Extractor) candidates(ctx context.Context, sub *models.Subplebbit) []*models.Post {
	if sub.Posts != nil {
		if pageCid, ok := sub.Posts.PageCids["new"]; ok && pageCid != "" {
			page, err := e.api.GetPage(ctx, sub.Address, pageCid)
			if err == nil {
				if len(page.Comments) > 10 {
					log.Infof("Loaded %d posts from 'new' page for %s",
						len(page.Comments), models.ShortAddress(sub.Address))
				}
				return page.Comments
			}
			log.Warnf("Error loading posts page for %s, falling back to manual traversal: %v",
				models.ShortAddress(sub.Address), err)
			return e.traverse(ctx, sub)
		}

		if hot, ok := sub.Posts.Pages["hot"]; ok && hot != nil {
			if len(hot.Comments) > 10 {
				log.Infof("Using %d preloaded posts from 'hot' page for %s",
					len(hot.Comments), models.ShortAddress(sub.Address))
			}
			return hot.Comments
		}
	}

	log.Warnf("No posts pages available for %s, falling back to manual traversal",
		models.ShortAddress(sub.Address))
	return e.traverse(ctx, sub)
}

// traverse follows previousCid links from the community's latest post.
func (e *Extractor) traverse(ctx context.Context, sub *models.Subplebbit) []*models.Post {
	var posts []*models.Post

	currentCid := sub.LastPostCid
	for currentCid != "" && len(posts) < traversalCap {
		select {
		case <-ctx.Done():
			return posts
		default:
		}

		post, err := e.api.GetComment(ctx, currentCid)
		if err != nil {
			log.Warnf("Error traversing posts of %s at %s: %v",
				models.ShortAddress(sub.Address), models.ShortAddress(currentCid), err)
			return posts
		}
		posts = append(posts, post)
		currentCid = post.PreviousCid
	}

	return posts
}
