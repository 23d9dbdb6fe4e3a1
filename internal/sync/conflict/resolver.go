// Package conflict detects timestamp divergence between a local and a remote
// version of the same record and computes a resolution per a configurable
// strategy. The layer is pure: persistence of review-bound conflicts is the
// caller's job.
package conflict

import (
	"bytes"
	"encoding/json"
	"sort"
	"time"

	"github.com/construtech/rdosync/internal/errors"
	"github.com/construtech/rdosync/internal/logging"
	"github.com/construtech/rdosync/internal/models"
)

// DefaultToleranceMs is the timestamp-difference threshold below which two
// versions are treated as clock noise, not a conflict.
const DefaultToleranceMs = 1000

// maxMergeFields is the merge escalation heuristic: more diverging fields
// than this means a structural edit happened, so a human must look even
// though a merged value was computed.
const maxMergeFields = 3

// Version is one side of a potential conflict: a record payload plus its
// modification timestamp in unix milliseconds.
type Version struct {
	Payload   json.RawMessage
	UpdatedAt int64
}

// Conflict is a detected divergence between two versions of one record.
type Conflict struct {
	RecordID   string
	Collection string
	Local      Version
	Remote     Version
	Strategy   models.ResolutionStrategy
	DetectedAt int64
}

// Resolution is the computed outcome.
type Resolution struct {
	Payload           json.RawMessage // version (or merge) to keep
	Winner            string          // "local", "remote" or "merge"
	Resolved          bool
	RequiresReview    bool
	ConflictingFields []string
}

// Resolver applies a tolerance window and a resolution strategy.
type Resolver struct {
	strategy    models.ResolutionStrategy
	toleranceMs int64
}

// NewResolver creates a Resolver. toleranceMs <= 0 selects the default
// 1000ms window.
func NewResolver(strategy models.ResolutionStrategy, toleranceMs int64) *Resolver {
	if toleranceMs <= 0 {
		toleranceMs = DefaultToleranceMs
	}
	return &Resolver{strategy: strategy, toleranceMs: toleranceMs}
}

// Detect reports whether local and remote genuinely diverge: both must carry
// a modification timestamp and differ by more than the tolerance window.
// Sub-tolerance differences are near-simultaneous writes, not conflicts.
func (r *Resolver) Detect(local, remote Version) bool {
	if local.UpdatedAt == 0 || remote.UpdatedAt == 0 {
		return false
	}
	diff := local.UpdatedAt - remote.UpdatedAt
	if diff < 0 {
		diff = -diff
	}
	return diff > r.toleranceMs
}

// NewConflict builds a Conflict carrying the resolver's strategy.
func (r *Resolver) NewConflict(recordID, collection string, local, remote Version) *Conflict {
	return &Conflict{
		RecordID:   recordID,
		Collection: collection,
		Local:      local,
		Remote:     remote,
		Strategy:   r.strategy,
		DetectedAt: time.Now().UnixMilli(),
	}
}

// Resolve dispatches on the conflict's strategy.
func Resolve(c *Conflict) (*Resolution, error) {
	if c.Local.Payload == nil || c.Remote.Payload == nil {
		return nil, errors.New(errors.CodeConflict, "conflict requires both versions")
	}

	switch c.Strategy {
	case models.StrategyLastWriteWins:
		return resolveLastWriteWins(c), nil
	case models.StrategyMerge:
		return resolveMerge(c)
	case models.StrategyManual:
		return resolveManual(c), nil
	default:
		return resolveLastWriteWins(c), nil
	}
}

// resolveLastWriteWins keeps whichever version has the later modification
// timestamp. Always resolved, never needs review.
func resolveLastWriteWins(c *Conflict) *Resolution {
	res := &Resolution{Resolved: true}
	if c.Local.UpdatedAt >= c.Remote.UpdatedAt {
		res.Payload = c.Local.Payload
		res.Winner = "local"
	} else {
		res.Payload = c.Remote.Payload
		res.Winner = "remote"
	}

	logging.Info("conflict resolved by last-write-wins", logging.Fields{
		"record_id":        c.RecordID,
		"collection":       c.Collection,
		"winner":           res.Winner,
		"local_timestamp":  c.Local.UpdatedAt,
		"remote_timestamp": c.Remote.UpdatedAt,
	})
	return res
}

// resolveMerge starts from the remote version and overwrites a field with
// the local value only when the serialized values differ and the local side
// is newer. Diverging field names are recorded; past maxMergeFields the
// result is flagged for manual review even though a value was computed.
func resolveMerge(c *Conflict) (*Resolution, error) {
	var localFields, remoteFields map[string]json.RawMessage
	if err := json.Unmarshal(c.Local.Payload, &localFields); err != nil {
		return nil, errors.Wrap(errors.CodeConflict, "unparsable local version", err)
	}
	if err := json.Unmarshal(c.Remote.Payload, &remoteFields); err != nil {
		return nil, errors.Wrap(errors.CodeConflict, "unparsable remote version", err)
	}

	merged := make(map[string]json.RawMessage, len(remoteFields))
	for k, v := range remoteFields {
		merged[k] = v
	}

	var conflicting []string
	localNewer := c.Local.UpdatedAt > c.Remote.UpdatedAt
	for field, localValue := range localFields {
		remoteValue, exists := merged[field]
		if exists && bytes.Equal(localValue, remoteValue) {
			continue
		}
		conflicting = append(conflicting, field)
		if localNewer {
			merged[field] = localValue
		}
	}
	sort.Strings(conflicting)

	payload, err := json.Marshal(merged)
	if err != nil {
		return nil, errors.Wrap(errors.CodeConflict, "failed to serialize merge", err)
	}

	res := &Resolution{
		Payload:           payload,
		Winner:            "merge",
		Resolved:          true,
		RequiresReview:    len(conflicting) > maxMergeFields,
		ConflictingFields: conflicting,
	}

	logging.Info("conflict resolved by field merge", logging.Fields{
		"record_id":          c.RecordID,
		"collection":         c.Collection,
		"conflicting_fields": len(conflicting),
		"requires_review":    res.RequiresReview,
	})
	return res, nil
}

// resolveManual never resolves automatically: the local version is returned
// as a provisional placeholder and the conflict must reach the review log.
func resolveManual(c *Conflict) *Resolution {
	logging.Warn("conflict queued for manual review", logging.Fields{
		"record_id":        c.RecordID,
		"collection":       c.Collection,
		"local_timestamp":  c.Local.UpdatedAt,
		"remote_timestamp": c.Remote.UpdatedAt,
	})
	return &Resolution{
		Payload:        c.Local.Payload,
		Winner:         "local",
		Resolved:       false,
		RequiresReview: true,
	}
}

// Record converts a conflict plus its resolution into a durable log entry.
func (c *Conflict) Record(res *Resolution) *models.ConflictRecord {
	fields := ""
	if len(res.ConflictingFields) > 0 {
		fields = joinFields(res.ConflictingFields)
	}
	return &models.ConflictRecord{
		RecordID:          c.RecordID,
		Collection:        c.Collection,
		LocalPayload:      c.Local.Payload,
		RemotePayload:     c.Remote.Payload,
		LocalTimestamp:    c.Local.UpdatedAt,
		RemoteTimestamp:   c.Remote.UpdatedAt,
		Strategy:          c.Strategy,
		Resolution:        res.Winner,
		RequiresReview:    res.RequiresReview,
		ConflictingFields: fields,
		DetectedAt:        c.DetectedAt,
	}
}

func joinFields(fields []string) string {
	out := fields[0]
	for _, f := range fields[1:] {
		out += "," + f
	}
	return out
}
