package command

import (
	"context"
	"fmt"

	"famtool-server/internal/model"
	"famtool-server/internal/rpc"
	"famtool-server/internal/store"
)

// History is the one place that knows about the legacy commands path. New
// records only ever go to CommandHistory.
type History struct {
	st store.Store
}

func NewHistory(st store.Store) *History {
	return &History{st: st}
}

func (h *History) Append(ctx context.Context, uid, device string, rec model.CommandRecord) (string, error) {
	id, err := h.st.Push(ctx, model.CommandHistoryPath(uid, device), rec)
	if err != nil {
		return "", fmt.Errorf("append command: %w", err)
	}
	return id, nil
}

// List returns up to limit records newest first, falling back to the legacy
// path only when the authoritative one is empty. The bool reports whether
// the fallback was used.
func (h *History) List(ctx context.Context, uid, device string, limit int) ([]model.CommandEntry, bool, error) {
	entries, err := h.list(ctx, model.CommandHistoryPath(uid, device), limit)
	if err != nil {
		return nil, false, err
	}
	if len(entries) > 0 {
		return entries, false, nil
	}
	legacy, err := h.list(ctx, model.LegacyCommandsPath(uid, device), limit)
	if err != nil {
		return nil, false, err
	}
	return legacy, len(legacy) > 0, nil
}

func (h *History) list(ctx context.Context, path string, limit int) ([]model.CommandEntry, error) {
	children, err := h.st.Query(ctx, path, store.Query{LimitToLast: limit})
	if err != nil {
		return nil, fmt.Errorf("list commands at %s: %w", path, err)
	}
	out := make([]model.CommandEntry, 0, len(children))
	for i := len(children) - 1; i >= 0; i-- {
		var rec model.CommandRecord
		if err := store.Decode(children[i].Value, &rec); err != nil {
			continue
		}
		if rec.CommandType == "" {
			rec.CommandType = rec.Type
		}
		out = append(out, model.CommandEntry{ID: children[i].Key, CommandRecord: rec})
	}
	return out, nil
}

var transitions = map[model.CommandStatus][]model.CommandStatus{
	model.CommandPending:   {model.CommandExecuting, model.CommandSuccess, model.CommandFailed},
	model.CommandExecuting: {model.CommandSuccess, model.CommandFailed},
}

func allowed(from, to model.CommandStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// UpdateStatus is the device side of the lifecycle. The dispatcher never
// calls it.
func (h *History) UpdateStatus(ctx context.Context, uid, device, id string, status model.CommandStatus) error {
	path := store.Join(model.CommandHistoryPath(uid, device), id, "status")
	_, err := h.st.Transaction(ctx, path, func(cur any) (any, error) {
		s, ok := cur.(string)
		if !ok {
			return nil, rpc.Errorf(rpc.NotFound, "Command %s not found.", id)
		}
		if !allowed(model.CommandStatus(s), status) {
			return nil, rpc.Errorf(rpc.InvalidArgument, "Cannot move command from %s to %s.", s, status)
		}
		return string(status), nil
	})
	return err
}
