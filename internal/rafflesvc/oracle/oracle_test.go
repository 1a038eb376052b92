package oracle

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubFeed struct {
	mu    sync.Mutex
	calls int
	price decimal.Decimal
	err   error
}

func (f *stubFeed) FetchBTCUSD(ctx context.Context) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.price, f.err
}

func (f *stubFeed) set(price decimal.Decimal, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.price, f.err = price, err
}

func (f *stubFeed) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestOracle(feed Feed) (*Oracle, *clock) {
	c := &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	o := New(feed, 5*time.Minute, time.Second, decimal.NewFromInt(100000))
	o.now = c.Now
	return o, c
}

func TestOracleCachesWithinTTL(t *testing.T) {
	feed := &stubFeed{price: decimal.NewFromInt(97000)}
	o, clk := newTestOracle(feed)
	ctx := context.Background()

	first := o.Quote(ctx)
	clk.Advance(4 * time.Minute)
	second := o.Quote(ctx)

	assert.Equal(t, 1, feed.callCount())
	assert.True(t, first.Price.Equal(second.Price))
	assert.Equal(t, first.ObservedAt, second.ObservedAt)
}

func TestOracleRefreshesAfterTTL(t *testing.T) {
	feed := &stubFeed{price: decimal.NewFromInt(97000)}
	o, clk := newTestOracle(feed)
	ctx := context.Background()

	o.GetReferencePrice(ctx)
	feed.set(decimal.NewFromInt(98000), nil)
	clk.Advance(5 * time.Minute)

	assert.Equal(t, "98000", o.GetReferencePrice(ctx).String())
	assert.Equal(t, 2, feed.callCount())
}

func TestOracleServesLastGoodPriceOnFailure(t *testing.T) {
	feed := &stubFeed{price: decimal.NewFromInt(97000)}
	o, clk := newTestOracle(feed)
	ctx := context.Background()

	o.GetReferencePrice(ctx)
	feed.set(decimal.Zero, errors.New("connection refused"))
	clk.Advance(10 * time.Minute)

	assert.Equal(t, "97000", o.GetReferencePrice(ctx).String())
	assert.Equal(t, 2, feed.callCount(), "a stale quote must trigger a refresh attempt")
}

func TestOracleFallbackWithoutHistory(t *testing.T) {
	feed := &stubFeed{err: errors.New("timeout")}
	o, _ := newTestOracle(feed)

	assert.Equal(t, "100000", o.GetReferencePrice(context.Background()).String())
}

func TestOracleRejectsNonPositivePrice(t *testing.T) {
	feed := &stubFeed{price: decimal.NewFromInt(-5)}
	o, _ := newTestOracle(feed)

	assert.Equal(t, "100000", o.GetReferencePrice(context.Background()).String())
}

func TestOracleCoalescesConcurrentRefresh(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		time.Sleep(50 * time.Millisecond)
		w.Write([]byte(`{"bitcoin":{"usd":96500.5}}`))
	}))
	defer srv.Close()

	o := New(NewCoinGecko(srv.URL, time.Second), time.Minute, time.Second, decimal.NewFromInt(100000))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, "96500.5", o.GetReferencePrice(context.Background()).String())
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestCoinGeckoMalformedResponse(t *testing.T) {
	cases := map[string]struct {
		status int
		body   string
	}{
		"server error":  {http.StatusInternalServerError, `oops`},
		"missing price": {http.StatusOK, `{"bitcoin":{}}`},
		"not json":      {http.StatusOK, `<html>`},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := NewCoinGecko(srv.URL, time.Second).FetchBTCUSD(context.Background())
			require.Error(t, err)
		})
	}
}
