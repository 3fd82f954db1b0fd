package rpcpool

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ggonzalez94/swapdesk/internal/model"
)

// Probe checks every endpoint concurrently with eth_blockNumber and reports
// latency. Results are ordered by rank.
func (p *Pool) Probe(ctx context.Context) []model.EndpointHealth {
	out := make([]model.EndpointHealth, len(p.endpoints))
	current := int(p.current.Load())
	var wg sync.WaitGroup
	for i, ep := range p.endpoints {
		wg.Add(1)
		go func(i int, ep *endpoint) {
			defer wg.Done()
			h := model.EndpointHealth{URL: ep.url, Rank: ep.rank, Current: i == current}
			start := time.Now()
			block, err := attempt(ctx, p, ep, func(ctx context.Context, c Client) (uint64, error) {
				return c.BlockNumber(ctx)
			})
			h.LatencyMS = time.Since(start).Milliseconds()
			if err != nil {
				h.Error = err.Error()
			} else {
				h.Healthy = true
				h.BlockNumber = block
			}
			out[i] = h
		}(i, ep)
	}
	wg.Wait()
	return out
}

// Monitor probes on every interval tick until ctx is done. When the current
// endpoint is unhealthy the best-ranked healthy endpoint takes over.
func (p *Pool) Monitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.rebalance(p.Probe(ctx))
		}
	}
}

func (p *Pool) rebalance(results []model.EndpointHealth) {
	current := int(p.current.Load())
	healthy := 0
	for _, r := range results {
		if r.Healthy {
			healthy++
		} else {
			p.logger.Warn("rpc endpoint unhealthy", zap.String("endpoint", r.URL), zap.String("error", r.Error))
		}
	}
	p.logger.Debug("rpc health check", zap.Int("healthy", healthy), zap.Int("total", len(results)))
	if current < len(results) && results[current].Healthy {
		return
	}
	for i, r := range results {
		if r.Healthy {
			p.promote(i, current)
			return
		}
	}
}
