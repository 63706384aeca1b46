package cleanup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stepdocs/stepdocs/backend/go-services/pkg/logger"
	"github.com/stepdocs/stepdocs/backend/go-services/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

const DefaultConcurrency = 4

// Deleter removes one external object. Deleting an unknown ID must
// succeed.
type Deleter interface {
	Delete(ctx context.Context, externalID, ownerID string) error
}

// Failure is a deletion that did not go through.
type Failure struct {
	ExternalID string    `json:"externalId"`
	OwnerID    string    `json:"ownerId"`
	Error      string    `json:"error"`
	At         time.Time `json:"at"`
}

// FailureRecorder keeps failed deletions around for operators.
type FailureRecorder interface {
	Record(ctx context.Context, f Failure) error
}

// Dispatcher deletes orphaned external objects in the background. Each ID
// is handled on its own; a failure is logged, counted and recorded, and
// never reported back to the caller of Dispatch.
type Dispatcher struct {
	deleter  Deleter
	recorder FailureRecorder
	limit    int
	wg       sync.WaitGroup
}

// NewDispatcher returns a Dispatcher running at most concurrency deletions
// per batch. recorder may be nil.
func NewDispatcher(deleter Deleter, recorder FailureRecorder, concurrency int) *Dispatcher {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Dispatcher{deleter: deleter, recorder: recorder, limit: concurrency}
}

// Dispatch schedules deletion of externalIDs and returns immediately.
// Cancelling ctx does not stop the batch.
func (d *Dispatcher) Dispatch(ctx context.Context, externalIDs []string, ownerID string) {
	if len(externalIDs) == 0 {
		return
	}
	ids := append([]string(nil), externalIDs...)
	ctx = context.WithoutCancel(ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.run(ctx, ids, ownerID)
	}()
}

// Wait blocks until every dispatched batch has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) run(ctx context.Context, ids []string, ownerID string) {
	var g errgroup.Group
	g.SetLimit(d.limit)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			d.deleteOne(ctx, id, ownerID)
			return nil
		})
	}
	_ = g.Wait()
}

func (d *Dispatcher) deleteOne(ctx context.Context, id, ownerID string) {
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		err = d.deleter.Delete(ctx, id, ownerID)
	}()

	if err == nil {
		metrics.CleanupDeletions.WithLabelValues("deleted").Inc()
		logger.Debugf("deleted orphaned image %s", id)
		return
	}
	metrics.CleanupDeletions.WithLabelValues("failed").Inc()
	logger.Errorf("failed to delete orphaned image %s (owner %s): %v", id, ownerID, err)
	if d.recorder == nil {
		return
	}
	f := Failure{ExternalID: id, OwnerID: ownerID, Error: err.Error(), At: time.Now().UTC()}
	if rerr := d.recorder.Record(ctx, f); rerr != nil {
		logger.Warnf("could not record cleanup failure for %s: %v", id, rerr)
	}
}
