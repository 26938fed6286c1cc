// Package audit is the append-only, system-wide trail of privileged actions.
// It is separate from per-device command history.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"famtool-server/internal/model"
	"famtool-server/internal/store"

	"github.com/rs/zerolog"
)

type Action string

const (
	CommandSent       Action = "COMMAND_SENT"
	CommandBlocked    Action = "COMMAND_BLOCKED"
	UploadBlocked     Action = "UPLOAD_BLOCKED"
	AccountFrozen     Action = "ACCOUNT_FROZEN"
	AccountUnfrozen   Action = "ACCOUNT_UNFROZEN"
	LimitUpdated      Action = "LIMIT_UPDATED"
	ManualGhostDelete Action = "MANUAL_GHOST_DELETE"
	GhostDelete       Action = "GHOST_DELETE"
	PlanChanged       Action = "PLAN_CHANGED"
	ChatCleared       Action = "CHAT_CLEARED"
	DeviceDeleted     Action = "DEVICE_DELETED"
	AccountDeleted    Action = "ACCOUNT_DELETED"
	DevicePaired      Action = "DEVICE_PAIRED"
)

type Log struct {
	st     store.Store
	logger zerolog.Logger
	now    func() time.Time
}

func New(st store.Store, logger zerolog.Logger) *Log {
	return NewWithNow(st, logger, time.Now)
}

func NewWithNow(st store.Store, logger zerolog.Logger, now func() time.Time) *Log {
	return &Log{st: st, logger: logger.With().Str("component", "audit").Logger(), now: now}
}

// Hash is the integrity token stored with every entry. It detects edits to
// action or timestamp; it is not a signature.
func Hash(action string, timestamp int64) string {
	sum := sha256.Sum256([]byte(action + strconv.FormatInt(timestamp, 10)))
	return hex.EncodeToString(sum[:])
}

// Verify recomputes the integrity token of e.
func Verify(e model.AuditEntry) bool {
	return e.Hash == Hash(e.Action, e.Timestamp)
}

// Record appends an entry and returns its key. It fails only when the store
// does.
func (l *Log) Record(ctx context.Context, action Action, actor string, metadata map[string]any) (string, error) {
	if metadata == nil {
		metadata = map[string]any{}
	}
	meta, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("encode audit metadata: %w", err)
	}
	ts := l.now().UnixMilli()
	entry := model.AuditEntry{
		Action:    string(action),
		Actor:     actor,
		Timestamp: ts,
		Metadata:  string(meta),
		Hash:      Hash(string(action), ts),
	}
	id, err := l.st.Push(ctx, model.AuditRoot, entry)
	if err != nil {
		return "", fmt.Errorf("append audit entry: %w", err)
	}
	return id, nil
}

// RecordAfter is for entries written after the primary effect already
// happened; a failure is logged and not returned.
func (l *Log) RecordAfter(ctx context.Context, action Action, actor string, metadata map[string]any) {
	if _, err := l.Record(ctx, action, actor, metadata); err != nil {
		l.logger.Error().Err(err).Str("action", string(action)).Str("actor", actor).Msg("audit write failed")
	}
}

// List returns up to limit entries, newest first.
func (l *Log) List(ctx context.Context, limit int) ([]model.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	children, err := l.st.Query(ctx, model.AuditRoot, store.Query{LimitToLast: limit})
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	out := make([]model.AuditEntry, 0, len(children))
	for i := len(children) - 1; i >= 0; i-- {
		var e model.AuditEntry
		if err := store.Decode(children[i].Value, &e); err != nil {
			l.logger.Warn().Err(err).Str("id", children[i].Key).Msg("skipping malformed audit entry")
			continue
		}
		e.ID = children[i].Key
		out = append(out, e)
	}
	return out, nil
}
