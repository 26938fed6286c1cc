// Package notify writes structured alerts into the recipient's own record.
package notify

import (
	"context"
	"fmt"
	"time"

	"famtool-server/internal/model"
	"famtool-server/internal/store"

	"github.com/rs/zerolog"
)

type Sink struct {
	st     store.Store
	logger zerolog.Logger
	now    func() time.Time
}

func New(st store.Store, logger zerolog.Logger) *Sink {
	return NewWithNow(st, logger, time.Now)
}

func NewWithNow(st store.Store, logger zerolog.Logger, now func() time.Time) *Sink {
	return &Sink{st: st, logger: logger.With().Str("component", "notify").Logger(), now: now}
}

func (s *Sink) build(typ model.NotificationType, message string, data map[string]any) model.Notification {
	return model.Notification{
		Type:      typ,
		Message:   message,
		Timestamp: s.now().UnixMilli(),
		Data:      data,
		Read:      false,
	}
}

// Notify appends a notification to the account's inbox.
func (s *Sink) Notify(ctx context.Context, uid string, typ model.NotificationType, message string, data map[string]any) (string, error) {
	id, err := s.st.Push(ctx, model.NotificationsPath(uid), s.build(typ, message, data))
	if err != nil {
		return "", fmt.Errorf("push notification for %s: %w", uid, err)
	}
	return id, nil
}

// NotifyKeyed writes the notification under a caller-chosen key so that
// reprocessing the same source does not duplicate it.
func (s *Sink) NotifyKeyed(ctx context.Context, uid, id string, typ model.NotificationType, message string, data map[string]any) error {
	if err := s.st.Set(ctx, store.Join(model.NotificationsPath(uid), id), s.build(typ, message, data)); err != nil {
		return fmt.Errorf("write notification %s for %s: %w", id, uid, err)
	}
	return nil
}

// AdminAlert writes to the admin-facing alert sink, keyed by id.
func (s *Sink) AdminAlert(ctx context.Context, id string, typ model.NotificationType, message string, data map[string]any) error {
	if err := s.st.Set(ctx, store.Join(model.AdminAlertsRoot, id), s.build(typ, message, data)); err != nil {
		return fmt.Errorf("write admin alert %s: %w", id, err)
	}
	return nil
}

// TryNotify is the fire-and-forget variant used by best-effort paths.
func (s *Sink) TryNotify(ctx context.Context, uid string, typ model.NotificationType, message string, data map[string]any) bool {
	if _, err := s.Notify(ctx, uid, typ, message, data); err != nil {
		s.logger.Warn().Err(err).Str("uid", uid).Str("type", string(typ)).Msg("notification dropped")
		return false
	}
	return true
}

// List returns up to limit notifications, newest first.
func (s *Sink) List(ctx context.Context, uid string, limit int) ([]model.Notification, error) {
	children, err := s.st.Query(ctx, model.NotificationsPath(uid), store.Query{OrderByChild: "timestamp", LimitToLast: limit})
	if err != nil {
		return nil, fmt.Errorf("list notifications for %s: %w", uid, err)
	}
	out := make([]model.Notification, 0, len(children))
	for i := len(children) - 1; i >= 0; i-- {
		var n model.Notification
		if err := store.Decode(children[i].Value, &n); err != nil {
			continue
		}
		n.ID = children[i].Key
		out = append(out, n)
	}
	return out, nil
}

func (s *Sink) MarkRead(ctx context.Context, uid, id string) error {
	path := store.Join(model.NotificationsPath(uid), id)
	_, err := s.st.Transaction(ctx, path, func(cur any) (any, error) {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("notification %s not found", id)
		}
		m["read"] = true
		return m, nil
	})
	return err
}
