package sync

import (
	"context"
	"encoding/json"
	gosync "sync"
	"time"

	apperrors "github.com/construtech/rdosync/internal/errors"
	"github.com/construtech/rdosync/internal/logging"
	"github.com/construtech/rdosync/internal/models"
	"github.com/construtech/rdosync/internal/remote"
	"github.com/construtech/rdosync/internal/uuid"
)

// processReport drives one report aggregate through its attempt loop. The
// draft is marked syncing for the duration; success deletes it, exhaustion or
// a validation rejection parks it as failed or pending per the error class.
func (s *Service) processReport(ctx context.Context, rep *models.PendingReport, result *Result) error {
	if err := s.store.SetReportStatus(rep.ID, models.ReportStatusSyncing, rep.RetryCount, rep.LastError); err != nil {
		return apperrors.Wrap(apperrors.CodeStore, "failed to mark report syncing", err)
	}

	attempts := 0
	for {
		attempts++
		err := s.syncReportOnce(ctx, rep)
		if err == nil {
			if err := s.store.DeletePendingReport(rep.ID); err != nil {
				return apperrors.Wrap(apperrors.CodeStore, "failed to remove synchronized report", err)
			}
			s.cache.InvalidateCollection(rep.Report.TableName())
			logging.Info("report synchronized", logging.Fields{
				"report_id": rep.ID, "project_id": rep.Report.ProjectID, "attempts": attempts,
			})
			return nil
		}
		if ctx.Err() != nil {
			// Interrupted mid-attempt. Back to pending so the next cycle
			// retries without burning a slot.
			s.store.SetReportStatus(rep.ID, models.ReportStatusPending, rep.RetryCount, rep.LastError)
			return err
		}

		rep.RetryCount++
		rep.LastError = err.Error()

		// A validation rejection fails the attempt without in-cycle retries:
		// retrying the same malformed aggregate cannot succeed. It still
		// consumes a retry slot so a permanently broken draft eventually
		// parks as failed instead of spinning forever.
		if apperrors.Is(err, apperrors.CodeValidation) {
			status := models.ReportStatusPending
			if rep.RetryCount > s.cfg.MaxRetries {
				status = models.ReportStatusFailed
			}
			s.store.SetReportStatus(rep.ID, status, rep.RetryCount, rep.LastError)
			return err
		}

		if attempts > s.cfg.MaxRetries || rep.RetryCount > s.cfg.MaxRetries {
			s.store.SetReportStatus(rep.ID, models.ReportStatusFailed, rep.RetryCount, rep.LastError)
			logging.Warn("report parked after exhausting retries", logging.Fields{
				"report_id": rep.ID, "retry_count": rep.RetryCount,
			})
			return err
		}

		s.store.SetReportStatus(rep.ID, models.ReportStatusSyncing, rep.RetryCount, rep.LastError)
		if serr := s.sleepBackoff(ctx, rep.RetryCount); serr != nil {
			s.store.SetReportStatus(rep.ID, models.ReportStatusPending, rep.RetryCount, rep.LastError)
			return err
		}
	}
}

// syncReportOnce performs a full attempt: header insert first, then all
// children and attachment uploads concurrently. Any child failure fails the
// whole attempt; the next attempt re-runs everything and relies on
// idempotency keys to dedupe what already landed.
func (s *Service) syncReportOnce(ctx context.Context, rep *models.PendingReport) error {
	if err := validateReport(rep); err != nil {
		return err
	}

	header := rep.Report
	header.ID = rep.ID
	if header.CreatedAt == 0 {
		header.CreatedAt = rep.CreatedAt
	}
	if header.UpdatedAt == 0 {
		header.UpdatedAt = time.Now().UnixMilli()
	}
	payload, err := json.Marshal(&header)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "failed to serialize report header", err)
	}

	created, err := s.remote.Insert(ctx, header.TableName(), payload, rep.ID)
	if err != nil {
		return err
	}
	serverID := remote.RecordID(created)
	if serverID == "" {
		serverID = rep.ID
	}
	s.refreshLocalRecord(header.TableName(), created)

	return s.syncReportChildren(ctx, rep, serverID)
}

// syncReportChildren writes every child record and uploads every attachment
// concurrently, then waits for all of them. Concurrency stays inside one
// report; reports themselves are processed sequentially.
func (s *Service) syncReportChildren(ctx context.Context, rep *models.PendingReport, reportID string) error {
	var wg gosync.WaitGroup
	var mu gosync.Mutex
	var firstErr error

	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}

	insertChild := func(collection, id string, record interface{}) {
		defer wg.Done()
		raw, err := json.Marshal(record)
		if err != nil {
			fail(apperrors.Wrap(apperrors.CodeInternal, "failed to serialize report child", err))
			return
		}
		if _, err := s.remote.Insert(ctx, collection, raw, id); err != nil {
			fail(err)
		}
	}

	for i := range rep.Activities {
		child := rep.Activities[i]
		child.ID = childID(child.ID)
		child.ReportID = reportID
		wg.Add(1)
		go insertChild(child.TableName(), child.ID, &child)
	}
	for i := range rep.Labor {
		child := rep.Labor[i]
		child.ID = childID(child.ID)
		child.ReportID = reportID
		wg.Add(1)
		go insertChild(child.TableName(), child.ID, &child)
	}
	for i := range rep.Equipment {
		child := rep.Equipment[i]
		child.ID = childID(child.ID)
		child.ReportID = reportID
		wg.Add(1)
		go insertChild(child.TableName(), child.ID, &child)
	}
	for i := range rep.Occurrences {
		child := rep.Occurrences[i]
		child.ID = childID(child.ID)
		child.ReportID = reportID
		wg.Add(1)
		go insertChild(child.TableName(), child.ID, &child)
	}

	for i := range rep.Attachments {
		att := rep.Attachments[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.syncAttachment(ctx, reportID, att); err != nil {
				fail(err)
			}
		}()
	}

	wg.Wait()
	return firstErr
}

// syncAttachment uploads the binary and registers the reference record.
func (s *Service) syncAttachment(ctx context.Context, reportID string, att models.Attachment) error {
	if s.uploader == nil {
		return apperrors.New(apperrors.CodeTransient, "attachment upload not configured")
	}

	objectName := reportID + "/" + att.FileName
	url, err := s.uploader.Upload(ctx, objectName, att.LocalPath, att.ContentType)
	if err != nil {
		return err
	}

	ref := models.AttachmentRef{
		ID:        uuid.New(),
		ReportID:  reportID,
		FileName:  att.FileName,
		URL:       url,
		SizeBytes: att.SizeBytes,
		CreatedAt: time.Now().UnixMilli(),
	}
	raw, err := json.Marshal(&ref)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "failed to serialize attachment reference", err)
	}
	// The object name doubles as the idempotency key so a re-uploaded
	// attachment does not register twice.
	_, err = s.remote.Insert(ctx, ref.TableName(), raw, objectName)
	return err
}

// validateReport checks the minimal fields a report needs before any remote
// write is attempted.
func validateReport(rep *models.PendingReport) error {
	switch {
	case rep.ID == "" || !uuid.IsValid(rep.ID):
		return apperrors.New(apperrors.CodeValidation, "report draft has no valid id")
	case rep.Report.ProjectID == "":
		return apperrors.New(apperrors.CodeValidation, "report has no project")
	case rep.Report.ReportDate == "":
		return apperrors.New(apperrors.CodeValidation, "report has no date")
	case rep.Report.AuthorID == "":
		return apperrors.New(apperrors.CodeValidation, "report has no author")
	}
	for _, att := range rep.Attachments {
		if att.LocalPath == "" || att.FileName == "" {
			return apperrors.New(apperrors.CodeValidation, "attachment missing local path or file name")
		}
	}
	return nil
}

func childID(id string) string {
	if id != "" {
		return id
	}
	return uuid.New()
}
