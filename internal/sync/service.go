// Package sync orchestrates draining the pending-operation and pending-report
// queues against the remote store, with bounded retries, conflict-aware
// writes and observable status events.
package sync

import (
	"context"
	stderrors "errors"
	"math"
	"sync"
	"time"

	"github.com/construtech/rdosync/internal/cache"
	"github.com/construtech/rdosync/internal/config"
	apperrors "github.com/construtech/rdosync/internal/errors"
	"github.com/construtech/rdosync/internal/logging"
	"github.com/construtech/rdosync/internal/models"
	"github.com/construtech/rdosync/internal/remote"
	"github.com/construtech/rdosync/internal/store"
	"github.com/construtech/rdosync/internal/sync/conflict"
)

// ErrSyncInProgress is returned when a drain cycle is already running.
// Overlapping triggers collapse into the running cycle; callers treat this
// as benign.
var ErrSyncInProgress = stderrors.New("sync already in progress")

// Status is the externally visible state of the service.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusSyncing Status = "syncing"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Event is a status change published to subscribers. Progress grows
// monotonically from 0 to 100 across both queues within one drain cycle.
type Event struct {
	Status   Status `json:"status"`
	Message  string `json:"message"`
	Progress int    `json:"progress"`
}

// Result summarizes one drain cycle.
type Result struct {
	StartTime       time.Time
	EndTime         time.Time
	Duration        time.Duration
	OpsSynced       int
	OpsFailed       int
	ReportsSynced   int
	ReportsFailed   int
	Conflicts       int
	ConflictsLogged int
}

// Failed reports whether any queue item failed during the cycle.
func (r *Result) Failed() bool {
	return r.OpsFailed > 0 || r.ReportsFailed > 0
}

// Service is the sync orchestrator. It holds no persistent state of its own:
// the single-flight flag and the subscriber list are rebuilt on process
// start.
type Service struct {
	store    *store.Store
	remote   remote.Store
	uploader remote.Uploader
	cache    *cache.Manager
	resolver *conflict.Resolver
	cfg      config.SyncConfig

	mu      sync.Mutex
	syncing bool

	subMu   sync.Mutex
	subs    map[int]chan Event
	nextSub int
}

// NewService wires the orchestrator. uploader may be nil when attachment
// upload is not configured; reports with attachments will then fail their
// attempts with a transient error until it is.
func NewService(s *store.Store, r remote.Store, u remote.Uploader, c *cache.Manager, cfg config.SyncConfig) *Service {
	return &Service{
		store:    s,
		remote:   r,
		uploader: u,
		cache:    c,
		resolver: conflict.NewResolver(models.ResolutionStrategy(cfg.Strategy), cfg.ToleranceMs),
		cfg:      cfg,
		subs:     make(map[int]chan Event),
	}
}

// Syncing reports whether a drain cycle is currently running.
func (s *Service) Syncing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncing
}

// Sync runs one drain cycle: pending operations first, in FIFO creation
// order, then pending report aggregates. At most one cycle runs at a time
// process-wide; a concurrent call returns ErrSyncInProgress.
//
// A failure on one queue item never aborts the rest of the cycle; it is
// recorded on the item and the loop continues. Only a failure to read the
// queues aborts the cycle.
func (s *Service) Sync(ctx context.Context) (*Result, error) {
	s.mu.Lock()
	if s.syncing {
		s.mu.Unlock()
		return nil, ErrSyncInProgress
	}
	s.syncing = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.syncing = false
		s.mu.Unlock()
	}()

	result := &Result{StartTime: time.Now()}
	defer func() {
		result.EndTime = time.Now()
		result.Duration = result.EndTime.Sub(result.StartTime)
	}()

	ops, err := s.store.PendingOperations(s.cfg.MaxRetries)
	if err != nil {
		s.publish(Event{Status: StatusError, Message: "failed to read pending operations", Progress: 0})
		return result, apperrors.Wrap(apperrors.CodeStore, "failed to read pending operations", err)
	}
	reports, err := s.store.PendingReports(models.ReportStatusPending)
	if err != nil {
		s.publish(Event{Status: StatusError, Message: "failed to read pending reports", Progress: 0})
		return result, apperrors.Wrap(apperrors.CodeStore, "failed to read pending reports", err)
	}

	total := len(ops) + len(reports)
	if total == 0 {
		s.publish(Event{Status: StatusSuccess, Message: "nothing to sync", Progress: 100})
		s.publish(Event{Status: StatusIdle, Progress: 100})
		return result, nil
	}

	logging.Info("drain cycle started",
		logging.Fields{"operations": len(ops), "reports": len(reports)})
	s.publish(Event{Status: StatusSyncing, Message: "sync started", Progress: 0})

	processed := 0
	for _, op := range ops {
		if err := s.processOperation(ctx, op, result); err != nil {
			result.OpsFailed++
			logging.Error("pending operation failed", err, logging.Fields{
				"operation_id": op.ID,
				"collection":   op.Collection,
				"kind":         string(op.Kind),
				"retry_count":  op.RetryCount,
			})
		} else {
			result.OpsSynced++
		}
		processed++
		s.publish(Event{Status: StatusSyncing, Progress: processed * 100 / total})
		if ctx.Err() != nil {
			break
		}
	}

	for _, rep := range reports {
		if ctx.Err() != nil {
			break
		}
		if err := s.processReport(ctx, rep, result); err != nil {
			result.ReportsFailed++
			logging.Error("pending report failed", err, logging.Fields{
				"report_id":   rep.ID,
				"retry_count": rep.RetryCount,
			})
		} else {
			result.ReportsSynced++
		}
		processed++
		s.publish(Event{Status: StatusSyncing, Progress: processed * 100 / total})
	}

	if result.Failed() {
		s.publish(Event{Status: StatusError, Message: "sync finished with failures", Progress: 100})
	} else {
		s.publish(Event{Status: StatusSuccess, Message: "sync completed", Progress: 100})
	}
	s.publish(Event{Status: StatusIdle, Progress: 100})

	logging.Info("drain cycle finished", logging.Fields{
		"ops_synced":     result.OpsSynced,
		"ops_failed":     result.OpsFailed,
		"reports_synced": result.ReportsSynced,
		"reports_failed": result.ReportsFailed,
		"conflicts":      result.Conflicts,
		"duration_ms":    result.Duration.Milliseconds(),
	})
	return result, nil
}

// RetryFailedReports flips failed report drafts back to pending so the next
// drain picks them up. This is the explicit re-trigger required after a
// report exhausts its retries; nothing retries a failed report on a timer.
func (s *Service) RetryFailedReports() (int, error) {
	failed, err := s.store.PendingReports(models.ReportStatusFailed)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, rep := range failed {
		if err := s.store.SetReportStatus(rep.ID, models.ReportStatusPending, 0, ""); err != nil {
			return count, err
		}
		count++
	}
	if count > 0 {
		logging.Info("failed reports re-queued", logging.Fields{"count": count})
	}
	return count, nil
}

// Subscribe registers a status listener and returns its handle plus the
// event channel. Subscribers are observational only: slow consumers have
// events dropped rather than blocking the drain.
func (s *Service) Subscribe() (int, <-chan Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextSub
	s.nextSub++
	ch := make(chan Event, 32)
	s.subs[id] = ch
	return id, ch
}

// Unsubscribe removes a listener by handle and closes its channel.
func (s *Service) Unsubscribe(id int) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if ch, ok := s.subs[id]; ok {
		delete(s.subs, id)
		close(ch)
	}
}

func (s *Service) publish(e Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// backoffDelay computes the k-th retry delay:
// min(initialDelay * multiplier^k, maxDelay).
func backoffDelay(cfg config.SyncConfig, retry int) time.Duration {
	d := float64(cfg.InitialDelayMs) * math.Pow(cfg.BackoffMultiplier, float64(retry))
	if max := float64(cfg.MaxDelayMs); d > max {
		d = max
	}
	return time.Duration(d) * time.Millisecond
}

// sleepBackoff waits out the retry delay, honoring cancellation.
func (s *Service) sleepBackoff(ctx context.Context, retry int) error {
	timer := time.NewTimer(backoffDelay(s.cfg, retry))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
