package sync

import (
	"context"
	"encoding/json"

	apperrors "github.com/construtech/rdosync/internal/errors"
	"github.com/construtech/rdosync/internal/logging"
	"github.com/construtech/rdosync/internal/models"
	"github.com/construtech/rdosync/internal/remote"
	"github.com/construtech/rdosync/internal/sync/conflict"
)

// processOperation replays one queued mutation against the remote store,
// retrying in place with exponential backoff. The in-cycle attempt budget is
// maxRetries+1; the persisted retry count carries across cycles and is capped
// at maxRetries+1 once the operation goes terminal.
func (s *Service) processOperation(ctx context.Context, op *models.PendingOperation, result *Result) error {
	terminalCount := s.cfg.MaxRetries + 1

	attempts := 0
	for {
		attempts++
		err := s.executeOperation(ctx, op, result)
		if err == nil {
			if err := s.store.DeleteOperation(op.ID); err != nil {
				return apperrors.Wrap(apperrors.CodeStore, "failed to dequeue confirmed operation", err)
			}
			if err := s.cache.InvalidateCollection(op.Collection); err != nil {
				logging.Warn("cache invalidation failed after sync", logging.Fields{
					"collection": op.Collection, "error": err.Error(),
				})
			}
			return nil
		}
		if ctx.Err() != nil {
			// Interrupted, not failed. Leave the retry count alone so the
			// next cycle picks the operation up fresh.
			return err
		}

		op.RetryCount++
		op.LastError = err.Error()

		// Structural rejections never heal on retry.
		if !apperrors.IsRetryable(err) {
			op.RetryCount = terminalCount
			if perr := s.store.UpdateOperationFailure(op.ID, op.RetryCount, op.LastError); perr != nil {
				logging.Error("failed to persist operation failure", perr, logging.Fields{"operation_id": op.ID})
			}
			return err
		}

		if op.RetryCount > terminalCount {
			op.RetryCount = terminalCount
		}
		if perr := s.store.UpdateOperationFailure(op.ID, op.RetryCount, op.LastError); perr != nil {
			logging.Error("failed to persist operation failure", perr, logging.Fields{"operation_id": op.ID})
		}

		if attempts > s.cfg.MaxRetries || op.RetryCount >= terminalCount {
			return err
		}
		if serr := s.sleepBackoff(ctx, op.RetryCount); serr != nil {
			return err
		}
	}
}

// executeOperation performs a single remote attempt for one operation,
// running conflict detection on updates before writing.
func (s *Service) executeOperation(ctx context.Context, op *models.PendingOperation, result *Result) error {
	switch op.Kind {
	case models.OperationInsert:
		created, err := s.remote.Insert(ctx, op.Collection, op.Payload, op.IdempotencyKey)
		if err != nil {
			return err
		}
		s.refreshLocalRecord(op.Collection, created)
		return nil

	case models.OperationUpdate:
		return s.executeUpdate(ctx, op, result)

	case models.OperationDelete:
		id := remote.RecordID(op.Payload)
		if id == "" {
			return apperrors.New(apperrors.CodeValidation, "delete operation carries no record id")
		}
		err := s.remote.Delete(ctx, op.Collection, id)
		if apperrors.Is(err, apperrors.CodeNotFound) {
			// Already gone remotely, which is the desired end state.
			return nil
		}
		return err

	default:
		return apperrors.Newf(apperrors.CodeValidation, "unknown operation kind: %s", op.Kind)
	}
}

// executeUpdate fetches the current remote version, runs the conflict check
// and writes the (possibly substituted) payload.
func (s *Service) executeUpdate(ctx context.Context, op *models.PendingOperation, result *Result) error {
	id := remote.RecordID(op.Payload)
	if id == "" {
		return apperrors.New(apperrors.CodeValidation, "update operation carries no record id")
	}

	payload := op.Payload
	current, found, err := s.remote.SelectByID(ctx, op.Collection, id)
	if err != nil {
		return err
	}
	if found {
		local := conflict.Version{Payload: op.Payload, UpdatedAt: remote.RecordTimestamp(op.Payload)}
		remoteVer := conflict.Version{Payload: current, UpdatedAt: remote.RecordTimestamp(current)}
		if s.resolver.Detect(local, remoteVer) {
			result.Conflicts++
			c := s.resolver.NewConflict(id, op.Collection, local, remoteVer)
			res, err := conflict.Resolve(c)
			if err != nil {
				return err
			}
			if res.RequiresReview || !res.Resolved {
				if err := s.store.AppendConflict(c.Record(res)); err != nil {
					return apperrors.Wrap(apperrors.CodeStore, "failed to log conflict for review", err)
				}
				result.ConflictsLogged++
			}
			payload = res.Payload
		}
	}

	if err := s.remote.Update(ctx, op.Collection, id, payload); err != nil {
		return err
	}
	s.refreshLocalRecord(op.Collection, payload)
	return nil
}

// refreshLocalRecord opportunistically folds a confirmed write back into the
// local record snapshot. Failures here do not fail the sync; the record will
// be refetched on the next prefetch.
func (s *Service) refreshLocalRecord(collection string, raw json.RawMessage) {
	id := remote.RecordID(raw)
	if id == "" {
		return
	}
	rec := &models.CachedRecord{
		Collection: collection,
		ID:         id,
		Payload:    raw,
		UpdatedAt:  remote.RecordTimestamp(raw),
	}
	if err := s.store.PutRecord(rec); err != nil {
		logging.Warn("failed to refresh local record snapshot", logging.Fields{
			"collection": collection, "record_id": id, "error": err.Error(),
		})
	}
}
