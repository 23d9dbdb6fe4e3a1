package sync

import (
	"encoding/json"
	"time"

	apperrors "github.com/construtech/rdosync/internal/errors"
	"github.com/construtech/rdosync/internal/logging"
	"github.com/construtech/rdosync/internal/models"
	"github.com/construtech/rdosync/internal/store"
	"github.com/construtech/rdosync/internal/uuid"
)

// Writer is the offline-first write path: every mutation is applied to the
// local record snapshot immediately and queued durably, then a drain is
// triggered if one is wanted. Writes never block on the network.
type Writer struct {
	store   *store.Store
	trigger func()
}

// NewWriter creates a Writer. trigger is called after every accepted write;
// wiring typically points it at a connectivity-gated Service.Sync. It may be
// nil.
func NewWriter(s *store.Store, trigger func()) *Writer {
	return &Writer{store: s, trigger: trigger}
}

// CreateRecord applies an insert locally and queues it. A missing id is
// assigned client-side so the record is addressable before the server ever
// sees it.
func (w *Writer) CreateRecord(collection string, payload json.RawMessage) (string, error) {
	fields, err := decodeFields(payload)
	if err != nil {
		return "", err
	}

	id := stringField(fields, "id")
	if id == "" {
		id = uuid.New()
		fields["id"] = marshalString(id)
	}
	now := time.Now().UnixMilli()
	stampField(fields, "created_at", now)
	fields["updated_at"] = marshalInt(now)

	raw, err := json.Marshal(fields)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeInternal, "failed to serialize record", err)
	}

	if err := w.applyAndEnqueue(collection, id, raw, now, models.OperationInsert); err != nil {
		return "", err
	}
	w.fire()
	return id, nil
}

// UpdateRecord applies an update locally and queues it. The payload must
// carry the record id.
func (w *Writer) UpdateRecord(collection string, payload json.RawMessage) error {
	fields, err := decodeFields(payload)
	if err != nil {
		return err
	}
	id := stringField(fields, "id")
	if id == "" {
		return apperrors.New(apperrors.CodeValidation, "update payload carries no record id")
	}
	now := time.Now().UnixMilli()
	fields["updated_at"] = marshalInt(now)

	raw, err := json.Marshal(fields)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "failed to serialize record", err)
	}

	if err := w.applyAndEnqueue(collection, id, raw, now, models.OperationUpdate); err != nil {
		return err
	}
	w.fire()
	return nil
}

// DeleteRecord tombstones a record locally and queues the remote delete.
func (w *Writer) DeleteRecord(collection, id string) error {
	if id == "" {
		return apperrors.New(apperrors.CodeValidation, "delete requires a record id")
	}
	payload, _ := json.Marshal(map[string]string{"id": id})
	op := &models.PendingOperation{
		Collection:     collection,
		Kind:           models.OperationDelete,
		Payload:        payload,
		IdempotencyKey: uuid.New(),
	}
	if err := w.store.TombstoneAndEnqueue(collection, id, op); err != nil {
		return apperrors.Wrap(apperrors.CodeStore, "failed to tombstone and queue delete", err)
	}
	w.fire()
	return nil
}

// SubmitReport accepts a whole report aggregate for eventual creation. The
// draft gets a client uuid and lands in the pending-report queue atomically
// with respect to the caller; sync happens later.
func (w *Writer) SubmitReport(rep *models.PendingReport) error {
	if rep.ID == "" {
		rep.ID = uuid.New()
	}
	if !uuid.IsValid(rep.ID) {
		return apperrors.New(apperrors.CodeValidation, "report id must be a uuid")
	}
	rep.Status = models.ReportStatusPending
	rep.RetryCount = 0
	rep.LastError = ""
	if rep.CreatedAt == 0 {
		rep.CreatedAt = time.Now().UnixMilli()
	}
	if rep.Report.UpdatedAt == 0 {
		rep.Report.Touch()
	}

	if err := w.store.SavePendingReport(rep); err != nil {
		return apperrors.Wrap(apperrors.CodeStore, "failed to queue report", err)
	}
	logging.Info("report queued for sync", logging.Fields{
		"report_id":  rep.ID,
		"project_id": rep.Report.ProjectID,
		"children": len(rep.Activities) + len(rep.Labor) +
			len(rep.Equipment) + len(rep.Occurrences),
		"attachments": len(rep.Attachments),
	})
	w.fire()
	return nil
}

// applyAndEnqueue commits the local snapshot and its queued operation in one
// store transaction, so neither can land without the other.
func (w *Writer) applyAndEnqueue(collection, id string, raw json.RawMessage, updatedAt int64, kind models.OperationKind) error {
	rec := &models.CachedRecord{
		Collection: collection,
		ID:         id,
		Payload:    raw,
		UpdatedAt:  updatedAt,
	}
	op := &models.PendingOperation{
		Collection:     collection,
		Kind:           kind,
		Payload:        raw,
		IdempotencyKey: uuid.New(),
	}
	if err := w.store.ApplyAndEnqueue(rec, op); err != nil {
		return apperrors.Wrap(apperrors.CodeStore, "failed to apply and queue record", err)
	}
	return nil
}

func (w *Writer) fire() {
	if w.trigger != nil {
		w.trigger()
	}
}

func decodeFields(payload json.RawMessage) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeValidation, "record payload must be a JSON object", err)
	}
	return fields, nil
}

func stringField(fields map[string]json.RawMessage, key string) string {
	raw, ok := fields[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// stampField sets a timestamp only when absent or zero.
func stampField(fields map[string]json.RawMessage, key string, now int64) {
	if raw, ok := fields[key]; ok {
		var v int64
		if err := json.Unmarshal(raw, &v); err == nil && v != 0 {
			return
		}
	}
	fields[key] = marshalInt(now)
}

func marshalString(s string) json.RawMessage {
	raw, _ := json.Marshal(s)
	return raw
}

func marshalInt(v int64) json.RawMessage {
	raw, _ := json.Marshal(v)
	return raw
}
