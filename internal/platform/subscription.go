package platform

import (
	"context"
	"sync"
	"time"

	"github.com/danghamo/geotrack/internal/domain/position"
)

// tickerSubscription emits whatever next returns once per interval
type tickerSubscription struct {
	fixes  chan position.Fix
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// startTicker runs next every interval until the subscription is closed.
// next returns false to skip a tick and stop=true to end the stream.
func startTicker(interval time.Duration, next func() (fix position.Fix, ok bool, stop bool)) *tickerSubscription {
	ctx, cancel := context.WithCancel(context.Background())
	s := &tickerSubscription{
		fixes:  make(chan position.Fix, 1),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(s.done)
		defer close(s.fixes)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			fix, ok, stop := next()
			if stop {
				return
			}
			if !ok {
				continue
			}

			select {
			case s.fixes <- fix:
			case <-ctx.Done():
				return
			}
		}
	}()

	return s
}

func (s *tickerSubscription) Fixes() <-chan position.Fix {
	return s.fixes
}

func (s *tickerSubscription) Close() error {
	s.once.Do(s.cancel)
	<-s.done
	return nil
}
