package interviewapi

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yoockh/yoovoice/internal/metrics"
)

// DetachedBeacon delivers chat history on a goroutine that outlives the caller,
// the process-local equivalent of navigator.sendBeacon.
type DetachedBeacon struct {
	Client  *Client
	Timeout time.Duration
	Logger  *logrus.Logger

	inflight sync.WaitGroup
}

func (b *DetachedBeacon) Send(req ChatHistoryRequest) {
	timeout := b.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	metrics.BeaconQueued.Inc()

	b.inflight.Add(1)
	go func() {
		defer b.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := b.Client.SaveChatHistory(ctx, req); err != nil && b.Logger != nil {
			b.Logger.WithError(err).WithField("thread_id", req.ThreadID).Warn("beacon delivery failed")
		}
	}()
}

// Wait blocks until every delivery started by Send has returned or ctx is done.
func (b *DetachedBeacon) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
