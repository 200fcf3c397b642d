package scheduler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plebfeed/delivery"
	"plebfeed/feed"
	"plebfeed/history"
	"plebfeed/models"
	"plebfeed/ratelimit"
	"plebfeed/sources"
)

type fakeAPI struct {
	mu       sync.Mutex
	subs     map[string]*models.Subplebbit
	resolves int
}

func (f *fakeAPI) ResolveSubplebbit(ctx context.Context, address string) (*models.Subplebbit, error) {
	f.mu.Lock()
	f.resolves++
	f.mu.Unlock()

	sub, ok := f.subs[address]
	if !ok {
		return nil, fmt.Errorf("Failed to resolve IPNS name %s", address)
	}
	return sub, nil
}

func (f *fakeAPI) GetPage(ctx context.Context, address string, pageCid string) (*models.Page, error) {
	return nil, fmt.Errorf("no page %s", pageCid)
}

func (f *fakeAPI) GetComment(ctx context.Context, cid string) (*models.Post, error) {
	return nil, fmt.Errorf("no comment %s", cid)
}

func (f *fakeAPI) AwaitCommentUpdate(ctx context.Context, cid string, wait time.Duration) (*models.CommentUpdate, bool, error) {
	return nil, false, nil
}

func (f *fakeAPI) resolveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resolves
}

type countingTransport struct {
	mu   sync.Mutex
	sent []string
}

func (c *countingTransport) record(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, text)
	return nil
}

func (c *countingTransport) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func (c *countingTransport) SendText(ctx context.Context, target, text string, opts delivery.SendOptions) error {
	return c.record(text)
}

func (c *countingTransport) SendImage(ctx context.Context, target, url string, opts delivery.SendOptions) error {
	return c.record(url)
}

func (c *countingTransport) SendVideo(ctx context.Context, target, url string, opts delivery.SendOptions) error {
	return c.record(url)
}

func (c *countingTransport) SendAudio(ctx context.Context, target, url string, opts delivery.SendOptions) error {
	return c.record(url)
}

func (c *countingTransport) SendAnimation(ctx context.Context, target, url string, opts delivery.SendOptions) error {
	return c.record(url)
}

func communityWithPosts(address string, cids ...string) *models.Subplebbit {
	posts := make([]*models.Post, 0, len(cids))
	for _, cid := range cids {
		posts = append(posts, &models.Post{
			Cid:               cid,
			Title:             "post " + cid,
			SubplebbitAddress: address,
			AuthorAddress:     "author.eth",
			Timestamp:         time.Now().Unix(),
		})
	}
	return &models.Subplebbit{
		Address: address,
		Posts: &models.PostsIndex{
			Pages: map[string]*models.Page{"hot": {Comments: posts}},
		},
	}
}

func testConfig() Config {
	config := DefaultConfig()
	config.CycleDelay = 10 * time.Millisecond
	config.BatchDelay = time.Millisecond
	config.SleepCheckEvery = time.Millisecond
	return config
}

func newTestScheduler(t *testing.T, api *fakeAPI, transport delivery.Transport, listURL string) (*Scheduler, *history.Store) {
	t.Helper()

	hist := history.NewStore(filepath.Join(t.TempDir(), "history.json"))
	require.NoError(t, hist.Load())

	dispatcher := delivery.NewDispatcher(transport, hist, nil, []string{"-100123"})
	ctx, cancel := context.WithCancel(context.Background())
	dispatcher.Start(ctx)
	t.Cleanup(func() {
		cancel()
		dispatcher.Wait()
	})

	s := New(
		testConfig(),
		api,
		sources.NewFetcher(listURL, nil),
		feed.NewExtractor(api, hist),
		dispatcher,
		hist,
		ratelimit.NewLimiter(),
	)
	return s, hist
}

func rosterServer(t *testing.T, addresses ...string) *httptest.Server {
	t.Helper()

	body := `{"subplebbits": [`
	for i, address := range addresses {
		if i > 0 {
			body += ","
		}
		body += fmt.Sprintf(`{"address": %q}`, address)
	}
	body += `]}`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, body)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestPollCommunityDeliversNewPosts(t *testing.T) {
	api := &fakeAPI{subs: map[string]*models.Subplebbit{
		"music.eth": communityWithPosts("music.eth", "QmOne", "QmTwo"),
	}}
	transport := &countingTransport{}
	s, hist := newTestScheduler(t, api, transport, "http://unused.invalid")

	delivered, err := s.pollCommunity(context.Background(), "music.eth")
	require.NoError(t, err)
	assert.Equal(t, 2, delivered)
	assert.Equal(t, 2, transport.count())
	assert.True(t, hist.Contains("QmOne"))
	assert.True(t, hist.Contains("QmTwo"))
}

func TestPollCommunitySkipsProcessedPosts(t *testing.T) {
	api := &fakeAPI{subs: map[string]*models.Subplebbit{
		"music.eth": communityWithPosts("music.eth", "QmOne", "QmTwo"),
	}}
	transport := &countingTransport{}
	s, hist := newTestScheduler(t, api, transport, "http://unused.invalid")

	hist.Add("QmOne")

	delivered, err := s.pollCommunity(context.Background(), "music.eth")
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)
	assert.Equal(t, 1, transport.count())
}

func TestPollRosterSurvivesFailingCommunities(t *testing.T) {
	api := &fakeAPI{subs: map[string]*models.Subplebbit{
		"music.eth":  communityWithPosts("music.eth", "QmOne"),
		"movies.eth": communityWithPosts("movies.eth", "QmTwo"),
	}}
	transport := &countingTransport{}
	s, _ := newTestScheduler(t, api, transport, "http://unused.invalid")

	roster := []string{"music.eth", "offline.eth", "movies.eth"}
	newPosts := s.pollRoster(context.Background(), roster)

	assert.Equal(t, 2, newPosts)
	assert.Equal(t, 3, api.resolveCount())
}

func TestPollRosterProcessesAllBatches(t *testing.T) {
	subs := make(map[string]*models.Subplebbit)
	roster := make([]string, 0, 7)
	for i := 0; i < 7; i++ {
		address := fmt.Sprintf("sub%d.eth", i)
		subs[address] = communityWithPosts(address, fmt.Sprintf("Qm%d", i))
		roster = append(roster, address)
	}

	api := &fakeAPI{subs: subs}
	transport := &countingTransport{}
	s, _ := newTestScheduler(t, api, transport, "http://unused.invalid")

	newPosts := s.pollRoster(context.Background(), roster)
	assert.Equal(t, 7, newPosts)
	assert.Equal(t, 7, api.resolveCount())
}

func TestRunDeliversOncePerPost(t *testing.T) {
	api := &fakeAPI{subs: map[string]*models.Subplebbit{
		"music.eth": communityWithPosts("music.eth", "QmOne"),
	}}
	transport := &countingTransport{}
	server := rosterServer(t, "music.eth")
	s, _ := newTestScheduler(t, api, transport, server.URL)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	// Let at least two cycles pass so a redelivery would show up.
	require.Eventually(t, func() bool {
		return api.resolveCount() >= 2
	}, 5*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop after cancellation")
	}

	assert.Equal(t, 1, transport.count())
}

func TestRunStopsPromptlyDuringSleep(t *testing.T) {
	api := &fakeAPI{subs: map[string]*models.Subplebbit{}}
	transport := &countingTransport{}
	server := rosterServer(t)
	s, _ := newTestScheduler(t, api, transport, server.URL)
	s.config.CycleDelay = time.Hour
	s.config.SleepCheckEvery = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("scheduler kept sleeping after cancellation")
	}
}
