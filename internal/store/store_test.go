// Package store provides unit tests for the durable queue and snapshot
// storage.
package store

import (
	"encoding/json"
	"testing"

	"github.com/construtech/rdosync/internal/models"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func enqueue(t *testing.T, s *Store, collection string, kind models.OperationKind, payload string) *models.PendingOperation {
	t.Helper()
	op := &models.PendingOperation{
		Collection:     collection,
		Kind:           kind,
		Payload:        json.RawMessage(payload),
		IdempotencyKey: "key-" + payload,
	}
	if err := s.EnqueueOperation(op); err != nil {
		t.Fatalf("Failed to enqueue operation: %v", err)
	}
	return op
}

func TestPendingOperationsFIFO(t *testing.T) {
	s := setupStore(t)

	first := enqueue(t, s, "reports", models.OperationInsert, `{"id":"a"}`)
	second := enqueue(t, s, "reports", models.OperationUpdate, `{"id":"b"}`)
	third := enqueue(t, s, "labor_entries", models.OperationDelete, `{"id":"c"}`)

	ops, err := s.PendingOperations(-1)
	if err != nil {
		t.Fatalf("Failed to list operations: %v", err)
	}
	if len(ops) != 3 {
		t.Fatalf("Expected 3 operations, got %d", len(ops))
	}
	wantOrder := []int64{first.ID, second.ID, third.ID}
	for i, op := range ops {
		if op.ID != wantOrder[i] {
			t.Errorf("Position %d: expected id %d, got %d", i, wantOrder[i], op.ID)
		}
	}
	if ops[0].Kind != models.OperationInsert {
		t.Errorf("Expected insert kind, got %s", ops[0].Kind)
	}
}

func TestPendingOperationsSkipsTerminal(t *testing.T) {
	s := setupStore(t)

	healthy := enqueue(t, s, "reports", models.OperationInsert, `{"id":"a"}`)
	parked := enqueue(t, s, "reports", models.OperationInsert, `{"id":"b"}`)
	if err := s.UpdateOperationFailure(parked.ID, 6, "remote call failed"); err != nil {
		t.Fatalf("Failed to update failure: %v", err)
	}

	ops, err := s.PendingOperations(5)
	if err != nil {
		t.Fatalf("Failed to list operations: %v", err)
	}
	if len(ops) != 1 {
		t.Fatalf("Expected 1 drainable operation, got %d", len(ops))
	}
	if ops[0].ID != healthy.ID {
		t.Errorf("Expected operation %d, got %d", healthy.ID, ops[0].ID)
	}

	// The parked operation stays in the table for inspection.
	all, err := s.PendingOperations(-1)
	if err != nil {
		t.Fatalf("Failed to list all operations: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("Expected 2 operations total, got %d", len(all))
	}
}

func TestPendingOperationsZeroCeilingStillFilters(t *testing.T) {
	s := setupStore(t)

	fresh := enqueue(t, s, "reports", models.OperationInsert, `{"id":"a"}`)
	retried := enqueue(t, s, "reports", models.OperationInsert, `{"id":"b"}`)
	if err := s.UpdateOperationFailure(retried.ID, 1, "remote call failed"); err != nil {
		t.Fatalf("Failed to update failure: %v", err)
	}

	// A ceiling of zero means no retries allowed, not "return everything".
	ops, err := s.PendingOperations(0)
	if err != nil {
		t.Fatalf("Failed to list operations: %v", err)
	}
	if len(ops) != 1 {
		t.Fatalf("Expected 1 drainable operation, got %d", len(ops))
	}
	if ops[0].ID != fresh.ID {
		t.Errorf("Expected operation %d, got %d", fresh.ID, ops[0].ID)
	}
}

func TestApplyAndEnqueue(t *testing.T) {
	s := setupStore(t)

	rec := &models.CachedRecord{
		Collection: "reports",
		ID:         "r1",
		Payload:    json.RawMessage(`{"id":"r1","notes":"first pour"}`),
	}
	op := &models.PendingOperation{
		Collection:     "reports",
		Kind:           models.OperationInsert,
		Payload:        rec.Payload,
		IdempotencyKey: "key-r1",
	}
	if err := s.ApplyAndEnqueue(rec, op); err != nil {
		t.Fatalf("Failed to apply and enqueue: %v", err)
	}
	if op.ID == 0 || op.CreatedAt == 0 {
		t.Error("ApplyAndEnqueue should assign operation id and created_at")
	}
	if rec.UpdatedAt == 0 {
		t.Error("ApplyAndEnqueue should stamp the record updated_at")
	}

	if _, found, err := s.GetRecord("reports", "r1"); err != nil || !found {
		t.Fatalf("Expected record snapshot, found=%v err=%v", found, err)
	}
	ops, err := s.PendingOperations(-1)
	if err != nil {
		t.Fatalf("Failed to list operations: %v", err)
	}
	if len(ops) != 1 || ops[0].ID != op.ID {
		t.Fatalf("Expected the queued operation, got %+v", ops)
	}
}

func TestApplyAndEnqueueRollsBackOnFailure(t *testing.T) {
	s := setupStore(t)

	rec := &models.CachedRecord{
		Collection: "reports",
		ID:         "r1",
		Payload:    json.RawMessage(`{"id":"r1"}`),
	}
	// nil payload violates the NOT NULL constraint on the queue table.
	op := &models.PendingOperation{
		Collection:     "reports",
		Kind:           models.OperationInsert,
		IdempotencyKey: "key-r1",
	}
	if err := s.ApplyAndEnqueue(rec, op); err == nil {
		t.Fatal("Expected enqueue failure")
	}

	// A failed queue insert must not leave the snapshot behind.
	if _, found, _ := s.GetRecord("reports", "r1"); found {
		t.Error("Record snapshot should have rolled back")
	}
	n, err := s.CountPendingOperations()
	if err != nil {
		t.Fatalf("Failed to count operations: %v", err)
	}
	if n != 0 {
		t.Errorf("Expected empty queue, got %d", n)
	}
}

func TestTombstoneAndEnqueue(t *testing.T) {
	s := setupStore(t)

	if err := s.PutRecord(&models.CachedRecord{
		Collection: "reports", ID: "r1", Payload: json.RawMessage(`{"id":"r1"}`),
	}); err != nil {
		t.Fatalf("Failed to put record: %v", err)
	}

	op := &models.PendingOperation{
		Collection:     "reports",
		Kind:           models.OperationDelete,
		Payload:        json.RawMessage(`{"id":"r1"}`),
		IdempotencyKey: "key-del-r1",
	}
	if err := s.TombstoneAndEnqueue("reports", "r1", op); err != nil {
		t.Fatalf("Failed to tombstone and enqueue: %v", err)
	}

	if _, found, _ := s.GetRecord("reports", "r1"); found {
		t.Error("Tombstoned record should read as absent")
	}
	ops, err := s.PendingOperations(-1)
	if err != nil {
		t.Fatalf("Failed to list operations: %v", err)
	}
	if len(ops) != 1 || ops[0].Kind != models.OperationDelete {
		t.Fatalf("Expected one queued delete, got %+v", ops)
	}
}

func TestDeleteOperation(t *testing.T) {
	s := setupStore(t)

	op := enqueue(t, s, "reports", models.OperationInsert, `{"id":"a"}`)
	if err := s.DeleteOperation(op.ID); err != nil {
		t.Fatalf("Failed to delete operation: %v", err)
	}

	n, err := s.CountPendingOperations()
	if err != nil {
		t.Fatalf("Failed to count operations: %v", err)
	}
	if n != 0 {
		t.Errorf("Expected empty queue, got %d", n)
	}
}

func TestUpdateOperationFailureMissing(t *testing.T) {
	s := setupStore(t)
	if err := s.UpdateOperationFailure(999, 1, "boom"); err == nil {
		t.Error("Expected error for missing operation")
	}
}

func TestPendingReportLifecycle(t *testing.T) {
	s := setupStore(t)

	rep := &models.PendingReport{
		ID: "11111111-2222-3333-4444-555555555555",
		Report: models.Report{
			ProjectID:  "proj-1",
			ReportDate: "2026-08-30",
			AuthorID:   "user-1",
		},
		Labor: []models.LaborEntry{{Role: "mason", Quantity: 4, Hours: 8}},
	}
	if err := s.SavePendingReport(rep); err != nil {
		t.Fatalf("Failed to save report: %v", err)
	}
	if rep.Status != models.ReportStatusPending {
		t.Errorf("Expected pending status, got %s", rep.Status)
	}

	if err := s.SetReportStatus(rep.ID, models.ReportStatusSyncing, 1, "remote call failed"); err != nil {
		t.Fatalf("Failed to set status: %v", err)
	}

	// Row columns win over the serialized payload.
	syncing, err := s.PendingReports(models.ReportStatusSyncing)
	if err != nil {
		t.Fatalf("Failed to list reports: %v", err)
	}
	if len(syncing) != 1 {
		t.Fatalf("Expected 1 syncing report, got %d", len(syncing))
	}
	if syncing[0].RetryCount != 1 || syncing[0].LastError != "remote call failed" {
		t.Errorf("Row state not authoritative: retries=%d err=%q",
			syncing[0].RetryCount, syncing[0].LastError)
	}
	if len(syncing[0].Labor) != 1 || syncing[0].Labor[0].Role != "mason" {
		t.Errorf("Aggregate payload lost: %+v", syncing[0].Labor)
	}

	pending, err := s.PendingReports(models.ReportStatusPending)
	if err != nil {
		t.Fatalf("Failed to list pending reports: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("Expected no pending reports, got %d", len(pending))
	}

	if err := s.DeletePendingReport(rep.ID); err != nil {
		t.Fatalf("Failed to delete report: %v", err)
	}
	n, err := s.CountPendingReports(models.ReportStatusSyncing)
	if err != nil {
		t.Fatalf("Failed to count reports: %v", err)
	}
	if n != 0 {
		t.Errorf("Expected report deleted, count=%d", n)
	}
}

func TestSetReportStatusMissing(t *testing.T) {
	s := setupStore(t)
	if err := s.SetReportStatus("nope", models.ReportStatusFailed, 0, ""); err == nil {
		t.Error("Expected error for missing report")
	}
}

func TestRecordSoftDelete(t *testing.T) {
	s := setupStore(t)

	rec := &models.CachedRecord{
		Collection: "projects",
		ID:         "p1",
		Payload:    json.RawMessage(`{"id":"p1","name":"Bridge"}`),
	}
	if err := s.PutRecord(rec); err != nil {
		t.Fatalf("Failed to put record: %v", err)
	}

	got, found, err := s.GetRecord("projects", "p1")
	if err != nil || !found {
		t.Fatalf("Expected record, found=%v err=%v", found, err)
	}
	if got.UpdatedAt == 0 {
		t.Error("Expected updated_at to be stamped")
	}

	if err := s.SoftDeleteRecord("projects", "p1"); err != nil {
		t.Fatalf("Failed to soft-delete: %v", err)
	}
	if _, found, _ := s.GetRecord("projects", "p1"); found {
		t.Error("Tombstoned record should read as absent")
	}
	recs, err := s.QueryRecords("projects")
	if err != nil {
		t.Fatalf("Failed to query records: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("Tombstoned record should be excluded, got %d", len(recs))
	}
}

func TestReplaceCollectionClearsTombstones(t *testing.T) {
	s := setupStore(t)

	if err := s.PutRecord(&models.CachedRecord{
		Collection: "projects", ID: "p1", Payload: json.RawMessage(`{"id":"p1"}`),
	}); err != nil {
		t.Fatalf("Failed to put record: %v", err)
	}
	if err := s.SoftDeleteRecord("projects", "p1"); err != nil {
		t.Fatalf("Failed to soft-delete: %v", err)
	}

	fresh := []*models.CachedRecord{
		{ID: "p1", Payload: json.RawMessage(`{"id":"p1","name":"Bridge"}`)},
		{ID: "p2", Payload: json.RawMessage(`{"id":"p2","name":"Tunnel"}`)},
	}
	if err := s.ReplaceCollection("projects", fresh); err != nil {
		t.Fatalf("Failed to replace collection: %v", err)
	}

	recs, err := s.QueryRecords("projects")
	if err != nil {
		t.Fatalf("Failed to query records: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("Expected 2 records after replace, got %d", len(recs))
	}
	if _, found, _ := s.GetRecord("projects", "p1"); !found {
		t.Error("Replace should clear the tombstone on p1")
	}
}

func TestConflictLog(t *testing.T) {
	s := setupStore(t)

	c := &models.ConflictRecord{
		RecordID:        "r1",
		Collection:      "reports",
		LocalPayload:    json.RawMessage(`{"id":"r1","notes":"local"}`),
		RemotePayload:   json.RawMessage(`{"id":"r1","notes":"remote"}`),
		LocalTimestamp:  5000,
		RemoteTimestamp: 1000,
		Strategy:        models.StrategyManual,
		RequiresReview:  true,
	}
	if err := s.AppendConflict(c); err != nil {
		t.Fatalf("Failed to append conflict: %v", err)
	}
	if c.ID == "" || c.DetectedAt == 0 {
		t.Error("AppendConflict should assign id and detected_at")
	}

	unresolved, err := s.UnresolvedConflicts()
	if err != nil {
		t.Fatalf("Failed to list conflicts: %v", err)
	}
	if len(unresolved) != 1 {
		t.Fatalf("Expected 1 unresolved conflict, got %d", len(unresolved))
	}
	if unresolved[0].Strategy != models.StrategyManual || !unresolved[0].RequiresReview {
		t.Errorf("Conflict state lost: %+v", unresolved[0])
	}

	if err := s.ResolveConflict(c.ID, "keep_local"); err != nil {
		t.Fatalf("Failed to resolve conflict: %v", err)
	}
	unresolved, err = s.UnresolvedConflicts()
	if err != nil {
		t.Fatalf("Failed to list conflicts: %v", err)
	}
	if len(unresolved) != 0 {
		t.Errorf("Expected no unresolved conflicts, got %d", len(unresolved))
	}

	// Resolving twice is an error.
	if err := s.ResolveConflict(c.ID, "keep_remote"); err == nil {
		t.Error("Expected error resolving an already resolved conflict")
	}
}

func TestConfigValues(t *testing.T) {
	s := setupStore(t)

	if _, found, err := s.GetConfigValue("last_sync"); err != nil || found {
		t.Fatalf("Expected missing key, found=%v err=%v", found, err)
	}
	if err := s.SetConfigValue("last_sync", "12345"); err != nil {
		t.Fatalf("Failed to set config value: %v", err)
	}
	if err := s.SetConfigValue("last_sync", "67890"); err != nil {
		t.Fatalf("Failed to overwrite config value: %v", err)
	}
	v, found, err := s.GetConfigValue("last_sync")
	if err != nil || !found {
		t.Fatalf("Expected key, found=%v err=%v", found, err)
	}
	if v != "67890" {
		t.Errorf("Expected 67890, got %s", v)
	}
}
