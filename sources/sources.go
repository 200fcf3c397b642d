// Package sources fetches the roster of communities to poll from a remote
// multisub list.
package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
)

// DefaultListURL is the canonical community list.
const DefaultListURL = "https://raw.githubusercontent.com/plebbit/lists/master/default-multisub.json"

// DefaultExcludedTags keeps communities unsuitable for the configured chats
// out of the roster.
var DefaultExcludedTags = []string{"adult", "gore"}

type listEntry struct {
	Address string   `json:"address"`
	Tags    []string `json:"tags,omitempty"`
}

type multisub struct {
	Subplebbits []listEntry `json:"subplebbits"`
}

// Fetcher retrieves the community roster.
type Fetcher struct {
	url          string
	excludedTags []string
	client       *http.Client
	maxRetries   uint64
}

func NewFetcher(url string, excludedTags []string) *Fetcher {
	if url == "" {
		url = DefaultListURL
	}
	if excludedTags == nil {
		excludedTags = DefaultExcludedTags
	}
	return &Fetcher{
		url:          url,
		excludedTags: excludedTags,
		client:       &http.Client{Timeout: 30 * time.Second},
		maxRetries:   3,
	}
}

// Fetch returns the community addresses in document order, excluding entries
// carrying a disallowed tag. It fails soft: any error degrades to an empty
// roster so the caller treats the cycle as a no-op rather than aborting.
func (f *Fetcher) Fetch(ctx context.Context) []string {
	var doc multisub

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}

		resp, err := f.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unexpected status %s", resp.Status)
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}

		if err := json.Unmarshal(body, &doc); err != nil {
			return backoff.Permanent(fmt.Errorf("malformed community list: %w", err))
		}
		return nil
	}

	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), f.maxRetries),
		ctx,
	)
	if err := backoff.Retry(operation, bo); err != nil {
		log.WithFields(log.Fields{
			"url":   f.url,
			"error": err,
		}).Error("Error fetching community list")
		return nil
	}

	kept := lo.Filter(doc.Subplebbits, func(entry listEntry, _ int) bool {
		return !lo.Some(entry.Tags, f.excludedTags)
	})

	return lo.Map(kept, func(entry listEntry, _ int) string {
		return entry.Address
	})
}
