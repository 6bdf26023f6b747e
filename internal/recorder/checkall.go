package recorder

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// CheckResult summarises a CheckAll run
type CheckResult struct {
	Live  int
	Total int
}

// CheckAll runs Check over ids with at most Workers concurrent resolutions.
// Task starts are spaced by Stagger so a long list does not hit the sites all
// at once. Recording sessions count as live without being resolved again.
// Individual failures only affect the counts; the error is ctx's.
func (s *Supervisor) CheckAll(ctx context.Context, ids []string) (CheckResult, error) {
	opts := s.options()

	limit := rate.Inf
	if opts.Stagger > 0 {
		limit = rate.Every(opts.Stagger)
	}
	limiter := rate.NewLimiter(limit, 1)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)

	var live, total atomic.Int32
	for _, id := range ids {
		if err := limiter.Wait(gctx); err != nil {
			break
		}
		g.Go(func() error {
			sess, err := s.Check(gctx, id)
			if sess.ID == "" {
				return nil
			}
			total.Add(1)
			if err == nil && (sess.IsRecording() || sess.HasLiveURL()) {
				live.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	res := CheckResult{Live: int(live.Load()), Total: int(total.Load())}
	s.log.Info().Int("live", res.Live).Int("total", res.Total).Msg("check complete")
	return res, ctx.Err()
}
