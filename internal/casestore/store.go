// Package casestore loads case snapshots from, and writes record updates to, Postgres.
package casestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"support-reply-workers/internal/common/database"
	"support-reply-workers/internal/common/logger"
	"support-reply-workers/internal/pipeline/casecontext"
	"support-reply-workers/internal/pipeline/updates"
)

var ErrCaseNotFound = errors.New("CASE_NOT_FOUND")

type Store struct {
	db     *sql.DB
	logger logger.Logger
}

func New(db *sql.DB, log logger.Logger) *Store {
	return &Store{db: db, logger: log.WithFields(map[string]interface{}{"component": "casestore"})}
}

// Load assembles the snapshot of one case: its record, the optional external status, and
// the conversation in chronological order.
func (s *Store) Load(ctx context.Context, caseID string) (casecontext.Snapshot, error) {
	var (
		snap         casecontext.Snapshot
		recordJSON   []byte
		externalJSON []byte
		lastOutbound sql.NullString
	)

	err := s.db.QueryRowContext(ctx, selectCaseQuery, caseID).Scan(&recordJSON, &externalJSON, &lastOutbound)
	if errors.Is(err, sql.ErrNoRows) {
		return snap, fmt.Errorf("%w: %s", ErrCaseNotFound, caseID)
	}
	if err != nil {
		return snap, fmt.Errorf("select case %s: %w", caseID, err)
	}

	if err := json.Unmarshal(recordJSON, &snap.Record); err != nil {
		return snap, fmt.Errorf("decode record of %s: %w", caseID, err)
	}
	if len(externalJSON) > 0 && string(externalJSON) != "null" {
		var ext casecontext.ExternalStatus
		if err := json.Unmarshal(externalJSON, &ext); err != nil {
			return snap, fmt.Errorf("decode external status of %s: %w", caseID, err)
		}
		snap.ExternalStatus = &ext
	}
	snap.LastOutboundMessage = lastOutbound.String

	rows, err := s.db.QueryContext(ctx, selectMessagesQuery, caseID)
	if err != nil {
		return snap, fmt.Errorf("select messages of %s: %w", caseID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			direction, body string
			sentAt          time.Time
		)
		if err := rows.Scan(&direction, &body, &sentAt); err != nil {
			return snap, fmt.Errorf("scan message of %s: %w", caseID, err)
		}
		snap.Conversation = append(snap.Conversation, casecontext.Message{
			Direction: casecontext.Direction(strings.ToLower(direction)),
			Body:      body,
			Timestamp: sentAt.UTC(),
		})
	}
	if err := rows.Err(); err != nil {
		return snap, fmt.Errorf("read messages of %s: %w", caseID, err)
	}

	s.logger.Debug("case loaded", map[string]interface{}{"caseId": caseID, "messages": len(snap.Conversation)})
	return snap, nil
}

// ApplyResult reports what ApplyUpdates wrote.
type ApplyResult struct {
	AppliedFields []string `json:"appliedFields"`
	BlockedFields []string `json:"blockedFields"`
	NotesWritten  int      `json:"notesWritten"`
}

// ApplyUpdates merges plan.Applied into the case record and writes one case note per blocked
// field, in a single transaction.
func (s *Store) ApplyUpdates(ctx context.Context, caseID string, plan updates.Plan) (*ApplyResult, error) {
	res := &ApplyResult{
		AppliedFields: sortedKeys(plan.Applied),
		BlockedFields: sortedKeys(plan.Blocked),
	}
	if plan.Empty() {
		return res, nil
	}

	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if len(plan.Applied) > 0 {
			patch, err := json.Marshal(plan.Applied)
			if err != nil {
				return fmt.Errorf("encode patch: %w", err)
			}
			result, err := tx.ExecContext(ctx, updateRecordQuery, caseID, string(patch))
			if err != nil {
				return fmt.Errorf("update record: %w", err)
			}
			if n, err := result.RowsAffected(); err == nil && n == 0 {
				return fmt.Errorf("%w: %s", ErrCaseNotFound, caseID)
			}
		}
		for _, field := range res.BlockedFields {
			if _, err := tx.ExecContext(ctx, insertNoteQuery, caseID, field, plan.Blocked[field]); err != nil {
				return fmt.Errorf("insert note for %s: %w", field, err)
			}
			res.NotesWritten++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("record updates applied", map[string]interface{}{
		"caseId":  caseID,
		"applied": res.AppliedFields,
		"blocked": res.BlockedFields,
	})
	return res, nil
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
