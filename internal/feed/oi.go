package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/perpwatch/perpwatch/internal/market"
)

// OIPoller fetches recent open-interest history per symbol on a fixed
// cadence. A failed poll only delays that symbol's next sample; staleness
// is handled downstream by the window TTL.
type OIPoller struct {
	baseURL  string
	client   *http.Client
	symbols  []string
	period   string
	interval time.Duration
}

// NewOIPoller uses the venue's recent-history endpoint with a 5m period.
func NewOIPoller(baseURL string, symbols []string, interval, timeout time.Duration) *OIPoller {
	return &OIPoller{
		baseURL:  baseURL,
		client:   &http.Client{Timeout: timeout},
		symbols:  symbols,
		period:   "5m",
		interval: interval,
	}
}

// Run polls until the context is canceled, pushing samples into sink.
func (p *OIPoller) Run(ctx context.Context, sink func(market.OISample)) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.pollAll(ctx, sink)
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("oi poller stopped")
			return
		case <-ticker.C:
			p.pollAll(ctx, sink)
		}
	}
}

func (p *OIPoller) pollAll(ctx context.Context, sink func(market.OISample)) {
	for _, symbol := range p.symbols {
		sample, err := p.fetch(ctx, symbol)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Str("symbol", symbol).Msg("oi poll failed")
			continue
		}
		sink(sample)
	}
}

type oiHistRow struct {
	Symbol          string `json:"symbol"`
	SumOpenInterest string `json:"sumOpenInterest"`
	Timestamp       int64  `json:"timestamp"`
}

func (p *OIPoller) fetch(ctx context.Context, symbol string) (market.OISample, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("period", p.period)
	q.Set("limit", "2")

	endpoint := p.baseURL + "/futures/data/openInterestHist?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return market.OISample{}, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return market.OISample{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return market.OISample{}, fmt.Errorf("openInterestHist status %d", resp.StatusCode)
	}

	var rows []oiHistRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return market.OISample{}, fmt.Errorf("openInterestHist decode: %w", err)
	}
	if len(rows) == 0 {
		return market.OISample{}, fmt.Errorf("openInterestHist empty response")
	}

	last := rows[len(rows)-1]
	value, err := parseFloat(last.SumOpenInterest)
	if err != nil {
		return market.OISample{}, fmt.Errorf("openInterestHist value: %w", err)
	}

	at := time.UnixMilli(last.Timestamp)
	if last.Timestamp == 0 {
		at = time.Now()
	}
	return market.OISample{Symbol: symbol, Value: value, At: at}, nil
}
