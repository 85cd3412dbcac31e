package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xPollos/twitter-follow-tracker-bot/internal/domain"
)

type fakeSleeper struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (f *fakeSleeper) Sleep(ctx context.Context, d time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.waits = append(f.waits, d)
	return ctx.Err()
}

func (f *fakeSleeper) Waits() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.waits...)
}

type recordingObserver struct {
	mu          sync.Mutex
	statuses    []int
	rateLimited int
}

func (o *recordingObserver) ObserveRequest(endpoint string, status int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.statuses = append(o.statuses, status)
}

func (o *recordingObserver) ObserveRateLimited(endpoint string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rateLimited++
}

// pagedServer serves pages keyed by pagination token; "" is the first page.
type pagedServer struct {
	t      *testing.T
	mu     sync.Mutex
	pages  map[string]string
	fail   map[string][]int // token -> statuses to return before succeeding
	tokens []string
}

func (p *pagedServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	assert.Equal(p.t, "Bearer secret", r.Header.Get("Authorization"))
	assert.Equal(p.t, "/users/42/following", r.URL.Path)
	assert.Equal(p.t, "2", r.URL.Query().Get("max_results"))

	token := r.URL.Query().Get("pagination_token")
	p.tokens = append(p.tokens, token)

	if queue := p.fail[token]; len(queue) > 0 {
		p.fail[token] = queue[1:]
		w.WriteHeader(queue[0])
		fmt.Fprint(w, `{"title":"error"}`)
		return
	}

	body, ok := p.pages[token]
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, body)
}

func newTestClient(t *testing.T, h http.Handler, sleeper *fakeSleeper, obs Observer) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	return NewClient(Options{
		BaseURL:           srv.URL,
		BearerToken:       "secret",
		PageSize:          2,
		RateLimitCooldown: 900 * time.Second,
		MaxAttempts:       3,
		HTTPClient:        srv.Client(),
		Sleep:             sleeper.Sleep,
		Observer:          obs,
	})
}

func threePages() map[string]string {
	return map[string]string{
		"":   `{"data":[{"id":"1"},{"id":"2"}],"meta":{"result_count":2,"next_token":"p2"}}`,
		"p2": `{"data":[{"id":"3"},{"id":"4"}],"meta":{"result_count":2,"next_token":"p3"}}`,
		"p3": `{"data":[{"id":"5"},{"id":"6"}],"meta":{"result_count":2}}`,
	}
}

func TestFetchFollowingCollectsAllPages(t *testing.T) {
	srv := &pagedServer{t: t, pages: threePages()}
	sleeper := &fakeSleeper{}
	c := newTestClient(t, srv, sleeper, nil)

	ids, err := c.FetchFollowing(context.Background(), "42")
	require.NoError(t, err)

	assert.Equal(t, []string{"1", "2", "3", "4", "5", "6"}, ids.Sorted())
	assert.Equal(t, []string{"", "p2", "p3"}, srv.tokens)
	assert.Empty(t, sleeper.Waits())
}

func TestFetchFollowingRateLimitRetriesSamePage(t *testing.T) {
	srv := &pagedServer{
		t:     t,
		pages: threePages(),
		fail:  map[string][]int{"p2": {http.StatusTooManyRequests}},
	}
	sleeper := &fakeSleeper{}
	obs := &recordingObserver{}
	c := newTestClient(t, srv, sleeper, obs)

	ids, err := c.FetchFollowing(context.Background(), "42")
	require.NoError(t, err)

	assert.Equal(t, []string{"1", "2", "3", "4", "5", "6"}, ids.Sorted())
	assert.Equal(t, []string{"", "p2", "p2", "p3"}, srv.tokens)
	assert.Equal(t, []time.Duration{900 * time.Second}, sleeper.Waits())
	assert.Equal(t, 1, obs.rateLimited)
	assert.Equal(t, []int{200, 429, 200, 200}, obs.statuses)
}

func TestFetchFollowingDeduplicatesAcrossPages(t *testing.T) {
	srv := &pagedServer{t: t, pages: map[string]string{
		"":  `{"data":[{"id":"1"},{"id":"2"}],"meta":{"next_token":"b"}}`,
		"b": `{"data":[{"id":"2"},{"id":"3"}]}`,
	}}
	c := newTestClient(t, srv, &fakeSleeper{}, nil)

	ids, err := c.FetchFollowing(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3"}, ids.Sorted())
}

func TestFetchFollowingAbsentDataIsEmptyPage(t *testing.T) {
	srv := &pagedServer{t: t, pages: map[string]string{
		"":  `{"meta":{"result_count":0,"next_token":"b"}}`,
		"b": `{"data":[{"id":"9"}],"meta":{}}`,
	}}
	c := newTestClient(t, srv, &fakeSleeper{}, nil)

	ids, err := c.FetchFollowing(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, []string{"9"}, ids.Sorted())
}

func TestFetchFollowingEmptyAccount(t *testing.T) {
	srv := &pagedServer{t: t, pages: map[string]string{"": `{"meta":{"result_count":0}}`}}
	c := newTestClient(t, srv, &fakeSleeper{}, nil)

	ids, err := c.FetchFollowing(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, 0, ids.Len())
}

func TestFetchFollowingRetriesServerErrors(t *testing.T) {
	srv := &pagedServer{
		t:     t,
		pages: threePages(),
		fail:  map[string][]int{"p3": {http.StatusBadGateway, http.StatusServiceUnavailable}},
	}
	sleeper := &fakeSleeper{}
	c := newTestClient(t, srv, sleeper, nil)

	ids, err := c.FetchFollowing(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, 6, ids.Len())
	assert.Len(t, sleeper.Waits(), 2)
}

func TestFetchFollowingServerErrorsExhausted(t *testing.T) {
	srv := &pagedServer{
		t:     t,
		pages: threePages(),
		fail:  map[string][]int{"p2": {500, 500, 500}},
	}
	c := newTestClient(t, srv, &fakeSleeper{}, nil)

	ids, err := c.FetchFollowing(context.Background(), "42")
	require.Error(t, err)
	assert.Nil(t, ids)

	var re *domain.RemoteError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, http.StatusInternalServerError, re.Status)
	assert.Equal(t, []string{"", "p2", "p2", "p2"}, srv.tokens)
}

func TestFetchFollowingClientErrorIsNotRetried(t *testing.T) {
	srv := &pagedServer{
		t:     t,
		pages: threePages(),
		fail:  map[string][]int{"": {http.StatusUnauthorized}},
	}
	sleeper := &fakeSleeper{}
	c := newTestClient(t, srv, sleeper, nil)

	_, err := c.FetchFollowing(context.Background(), "42")

	var re *domain.RemoteError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, http.StatusUnauthorized, re.Status)
	assert.Equal(t, "following", re.Op)
	assert.Empty(t, sleeper.Waits())
	assert.False(t, domain.IsFatal(err))
}

func TestFetchFollowingCancelledDuringCooldown(t *testing.T) {
	srv := &pagedServer{
		t:     t,
		pages: threePages(),
		fail:  map[string][]int{"": {http.StatusTooManyRequests}},
	}
	ctx, cancel := context.WithCancel(context.Background())
	sleeper := &fakeSleeper{}
	c := newTestClient(t, srv, sleeper, nil)
	c.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return sleeper.Sleep(ctx, d)
	}

	_, err := c.FetchFollowing(ctx, "42")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResolveUser(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/users/by/username/jack":
			fmt.Fprint(w, `{"data":{"id":"12","name":"jack","username":"jack"}}`)
		case "/users/by/username/ghost":
			fmt.Fprint(w, `{"errors":[{"title":"Not Found Error","detail":"Could not find user with username: [ghost]."}]}`)
		case "/users/by/username/busy":
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			w.WriteHeader(http.StatusForbidden)
		}
	})
	c := newTestClient(t, h, &fakeSleeper{}, nil)
	ctx := context.Background()

	id, err := c.ResolveUser(ctx, "jack")
	require.NoError(t, err)
	assert.Equal(t, domain.TargetIdentity{Username: "jack", ID: "12"}, id)

	_, err = c.ResolveUser(ctx, "ghost")
	var re *domain.RemoteError
	require.True(t, errors.As(err, &re))
	assert.Contains(t, re.Error(), "Not Found Error")

	_, err = c.ResolveUser(ctx, "busy")
	require.True(t, errors.As(err, &re))
	assert.Equal(t, http.StatusTooManyRequests, re.Status)

	_, err = c.ResolveUser(ctx, "private")
	require.True(t, errors.As(err, &re))
	assert.Equal(t, http.StatusForbidden, re.Status)
}

func TestNewClientDefaults(t *testing.T) {
	c := NewClient(Options{BaseURL: "https://api.x.com/2/"})
	assert.Equal(t, "https://api.x.com/2", c.baseURL)
	assert.Equal(t, 1000, c.pageSize)
	assert.Equal(t, 900*time.Second, c.cooldown)
	assert.Equal(t, 3, c.attempts)
	assert.Equal(t, 20*time.Second, c.http.Timeout)
}

func TestSleepContextHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, SleepContext(ctx, time.Hour), context.Canceled)
	assert.NoError(t, SleepContext(context.Background(), time.Millisecond))
}
