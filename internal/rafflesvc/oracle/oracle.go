package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/avvvet/btc-raffle/internal/rafflesvc/models"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Feed fetches a fresh USD-per-BTC price from an external source.
type Feed interface {
	FetchBTCUSD(ctx context.Context) (decimal.Decimal, error)
}

// Oracle serves the BTC price from a single cached quote. Within ttl the
// cached quote is returned without calling the feed; past it the feed is
// asked once (concurrent callers share the call) and on failure the last good
// quote, or the fallback price, is served instead.
type Oracle struct {
	feed     Feed
	ttl      time.Duration
	timeout  time.Duration
	fallback decimal.Decimal
	now      func() time.Time

	mu    sync.RWMutex
	quote *models.PriceQuote

	group singleflight.Group
}

func New(feed Feed, ttl, timeout time.Duration, fallback decimal.Decimal) *Oracle {
	return &Oracle{
		feed:     feed,
		ttl:      ttl,
		timeout:  timeout,
		fallback: fallback,
		now:      time.Now,
	}
}

// GetReferencePrice always yields a positive price.
func (o *Oracle) GetReferencePrice(ctx context.Context) decimal.Decimal {
	return o.Quote(ctx).Price
}

// Quote returns the current quote, refreshing it when stale.
func (o *Oracle) Quote(ctx context.Context) models.PriceQuote {
	if q, ok := o.cached(); ok && o.now().Sub(q.ObservedAt) < o.ttl {
		return q
	}

	v, _, _ := o.group.Do("btcusd", func() (interface{}, error) {
		// another caller may have refreshed while we waited
		if q, ok := o.cached(); ok && o.now().Sub(q.ObservedAt) < o.ttl {
			return q, nil
		}
		return o.refresh(ctx), nil
	})
	return v.(models.PriceQuote)
}

func (o *Oracle) cached() (models.PriceQuote, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.quote == nil {
		return models.PriceQuote{}, false
	}
	return *o.quote, true
}

func (o *Oracle) refresh(ctx context.Context) models.PriceQuote {
	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.timeout)
	defer cancel()

	price, err := o.feed.FetchBTCUSD(fetchCtx)
	if err == nil && !price.IsPositive() {
		err = fmt.Errorf("non-positive price %s", price)
	}
	if err != nil {
		if q, ok := o.cached(); ok {
			log.Warnf("price feed unavailable, serving cached BTC price %s: %s", q.Price, err)
			return q
		}
		log.Warnf("price feed unavailable, serving fallback BTC price %s: %s", o.fallback, err)
		return models.PriceQuote{Price: o.fallback, ObservedAt: o.now()}
	}

	q := models.PriceQuote{Price: price, ObservedAt: o.now()}
	o.mu.Lock()
	o.quote = &q
	o.mu.Unlock()

	log.Infof("BTC price updated: $%s", price)
	return q
}

// CoinGecko reads the simple price endpoint:
// {"bitcoin":{"usd":97000.12}}
type CoinGecko struct {
	URL    string
	Client *http.Client
}

func NewCoinGecko(url string, timeout time.Duration) *CoinGecko {
	return &CoinGecko{
		URL:    url,
		Client: &http.Client{Timeout: timeout},
	}
}

func (c *CoinGecko) FetchBTCUSD(ctx context.Context) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return decimal.Zero, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.Client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("fetch price: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return decimal.Zero, fmt.Errorf("price feed returned %s", resp.Status)
	}

	var payload struct {
		Bitcoin struct {
			USD *decimal.Decimal `json:"usd"`
		} `json:"bitcoin"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&payload); err != nil {
		return decimal.Zero, fmt.Errorf("decode price: %w", err)
	}
	if payload.Bitcoin.USD == nil {
		return decimal.Zero, fmt.Errorf("price missing from feed response")
	}
	return *payload.Bitcoin.USD, nil
}
