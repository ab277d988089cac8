package resolver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-news-indexer/internal/news"
)

func TestConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg := Config{SettleDelay: -time.Second}.withDefaults()
	assert.Equal(t, 30*time.Second, cfg.StartTimeout)
	assert.Equal(t, 30*time.Second, cfg.NavigationTimeout)
	assert.Equal(t, 10*time.Second, cfg.WaitTimeout)
	assert.Zero(t, cfg.SettleDelay)

	custom := Config{NavigationTimeout: time.Second, WaitTimeout: 2 * time.Second}.withDefaults()
	assert.Equal(t, time.Second, custom.NavigationTimeout)
	assert.Equal(t, 2*time.Second, custom.WaitTimeout)
}

func TestSessionCloseRunsOnce(t *testing.T) {
	t.Parallel()

	calls := 0
	s := &Session{
		logger: zap.NewNop(),
		closeFn: func() error {
			calls++
			return errors.New("boom")
		},
	}
	require.EqualError(t, s.Close(), "boom")
	require.EqualError(t, s.Close(), "boom")
	assert.Equal(t, 1, calls)

	_, err := s.Resolve(context.Background(), "https://example.com/a")
	require.ErrorIs(t, err, news.ErrNoContent)
}

func TestDomainLimitersDisabled(t *testing.T) {
	t.Parallel()

	var nilLimiters *domainLimiters
	require.NoError(t, nilLimiters.wait(context.Background(), "https://example.com"))
	require.NoError(t, newDomainLimiters(0).wait(context.Background(), "::bad"))
}

func TestDomainLimitersThrottlePerHost(t *testing.T) {
	t.Parallel()

	limiters := newDomainLimiters(1)
	ctx := context.Background()
	require.NoError(t, limiters.wait(ctx, "https://a.example.com/1"))
	require.NoError(t, limiters.wait(ctx, "https://b.example.com/1"))

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	require.Error(t, limiters.wait(short, "https://A.example.com/2"))
}

func TestBoundedAppliesDeadline(t *testing.T) {
	t.Parallel()

	action := bounded(10*time.Millisecond, waitForCancel{})
	err := action.Do(context.Background())
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

type waitForCancel struct{}

func (waitForCancel) Do(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestStaticResolve(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/story":
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte(articlePage))
		case "/bare":
			_, _ = w.Write([]byte(`<html><body><p>no container</p></body></html>`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	factory := NewStatic(Config{UserAgent: "news-indexer-test", NavigationTimeout: 2 * time.Second}, nil)
	session, err := factory.Acquire(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })

	res, err := session.Resolve(context.Background(), srv.URL+"/story")
	require.NoError(t, err)
	assert.Contains(t, res.Text, "Monsoon arrives early")
	assert.NotContains(t, res.Text, "Buy now")
	assert.Equal(t, srv.URL+"/story", res.FinalURL)
	assert.Contains(t, res.HTML, "<article>")

	_, err = session.Resolve(context.Background(), srv.URL+"/bare")
	require.ErrorIs(t, err, news.ErrNoContent)
	require.ErrorIs(t, err, news.ErrContentNotLocated)

	_, err = session.Resolve(context.Background(), srv.URL+"/missing")
	require.ErrorIs(t, err, news.ErrNoContent)
}

func TestStaticClosedSessionFails(t *testing.T) {
	t.Parallel()

	session, err := NewStatic(Config{}, nil).Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, session.Close())
	require.NoError(t, session.Close())

	_, err = session.Resolve(context.Background(), "http://127.0.0.1:1/x")
	require.ErrorIs(t, err, news.ErrNoContent)
}

func TestStaticAcquireCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewStatic(Config{}, nil).Acquire(ctx)
	require.ErrorIs(t, err, news.ErrSessionAcquire)
}
