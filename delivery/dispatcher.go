// Package delivery fans posts out to the configured chat targets. All sends
// go through one single-concurrency queue so the process as a whole respects
// the destination's rate limits.
package delivery

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"

	"plebfeed/history"
	"plebfeed/media"
	"plebfeed/models"
	"plebfeed/store"
)

var (
	postsDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "plebfeed_posts_delivered_total",
		Help: "The total number of posts delivered to at least one target",
	})

	sendFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plebfeed_send_failures_total",
		Help: "The total number of failed send attempts, by strategy",
	}, []string{"strategy"})

	sendFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "plebfeed_send_fallbacks_total",
		Help: "The total number of sends that needed a fallback strategy",
	})
)

type unit struct {
	post *models.Post
	done chan bool
}

// Dispatcher serializes outbound deliveries through a single worker.
type Dispatcher struct {
	transport Transport
	history   *history.Store
	log       *store.Store // nil disables the delivery log
	targets   []string
	units     chan *unit
	wg        sync.WaitGroup
}

// NewDispatcher builds a dispatcher for the given targets. Duplicate targets
// are collapsed; order is preserved.
func NewDispatcher(transport Transport, hist *history.Store, deliveryLog *store.Store, targets []string) *Dispatcher {
	return &Dispatcher{
		transport: transport,
		history:   hist,
		log:       deliveryLog,
		targets:   lo.Uniq(targets),
		units:     make(chan *unit, 64),
	}
}

// Start launches the single delivery worker. Deliveries submitted after the
// context is cancelled fail; the in-flight unit finishes.
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case u := <-d.units:
				u.done <- d.process(ctx, u.post)
			}
		}
	}()
}

// Wait blocks until the worker has exited.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Deliver queues a post and reports whether at least one target received it.
// Queue admission order is delivery order.
func (d *Dispatcher) Deliver(ctx context.Context, post *models.Post) (bool, error) {
	u := &unit{post: post, done: make(chan bool, 1)}

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case d.units <- u:
	}

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case ok := <-u.done:
		return ok, nil
	}
}

// process is one unit of work: send the post to every target, then mark it
// processed iff anything succeeded. Per-target failures never abort sibling
// targets.
func (d *Dispatcher) process(ctx context.Context, post *models.Post) bool {
	// Last-line dedup: the same cid can show up twice among one cycle's
	// candidates (e.g. via two communities' pages) and queue both times.
	if d.history.Contains(post.Cid) {
		log.Debugf("Skipping already delivered post %s", models.ShortAddress(post.Cid))
		return false
	}

	caption := buildCaption(post)
	buttons := buildButtons(post)

	results := make([]bool, len(d.targets))
	kinds := make([]media.Kind, len(d.targets))

	var wg sync.WaitGroup
	for i, target := range d.targets {
		wg.Add(1)
		go func(i int, target string) {
			defer wg.Done()
			kind, err := d.sendToTarget(ctx, target, post, caption, buttons)
			kinds[i] = kind
			if err != nil {
				log.Errorf("Error sending %s to %s: %v", models.ShortAddress(post.Cid), target, err)
				return
			}
			results[i] = true
		}(i, target)
	}
	wg.Wait()

	if !lo.Contains(results, true) {
		// Nothing got through; the post stays unmarked and the next cycle
		// retries it until the staleness filter drops it.
		return false
	}

	d.history.Add(post.Cid)
	if err := d.history.Save(); err != nil {
		log.Errorf("Error saving history file: %v", err)
	}
	postsDelivered.Inc()

	if d.log != nil {
		for i, target := range d.targets {
			if !results[i] {
				continue
			}
			if err := d.log.RecordDelivery(ctx, post.Cid, target, string(kinds[i])); err != nil {
				log.Warnf("Error recording delivery of %s: %v", models.ShortAddress(post.Cid), err)
			}
		}
	}

	log.Infof("📩 Delivered post %q on p/%s",
		post.Title, models.ShortAddress(post.SubplebbitAddress))
	return true
}

// sendToTarget walks the strategy chain for one target.
func (d *Dispatcher) sendToTarget(ctx context.Context, target string, post *models.Post, caption string, buttons []Button) (media.Kind, error) {
	if post.Link == "" {
		return media.KindNone, d.transport.SendText(ctx, target, caption, SendOptions{Buttons: buttons})
	}

	p := &plan{
		url:     post.Link,
		caption: caption,
		kind:    media.Classify(post.Link),
		spoiler: post.ContentWarned(),
		buttons: buttons,
	}

	var lastErr error
	for i, s := range strategiesFor(p) {
		if i > 0 {
			sendFallbacks.Inc()
		}
		if err := s.send(ctx, d.transport, target, p); err != nil {
			sendFailures.WithLabelValues(s.name).Inc()
			log.Debugf("Strategy %s failed for %s to %s: %v", s.name, models.ShortAddress(post.Cid), target, err)
			lastErr = err
			continue
		}
		return p.kind, nil
	}

	return p.kind, fmt.Errorf("all strategies exhausted: %w", lastErr)
}

func buildCaption(post *models.Post) string {
	title := ""
	if post.Title != "" {
		title = post.Title + " "
	}

	tag := ""
	if post.Spoiler {
		tag = "[SPOILER]"
	} else if post.NSFW {
		tag = "[NSFW]"
	}

	return fmt.Sprintf(
		"<b>%s</b>%s\n%s\n\nSubmitted on <a href=\"https://seedit.app/#/p/%s\">p/%s</a> by u/%s",
		title,
		tag,
		post.Content,
		post.SubplebbitAddress,
		models.ShortAddress(post.SubplebbitAddress),
		models.ShortAddress(post.AuthorAddress),
	)
}

func buildButtons(post *models.Post) []Button {
	return []Button{
		{
			Text: "View on Seedit",
			URL:  fmt.Sprintf("https://seedit.app/#/p/%s/c/%s", post.SubplebbitAddress, post.Cid),
		},
		{
			Text: "View on Plebchan",
			URL:  fmt.Sprintf("https://plebchan.app/#/p/%s/c/%s", post.SubplebbitAddress, post.Cid),
		},
	}
}
