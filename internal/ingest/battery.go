package ingest

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"famtool-server/internal/model"
	"famtool-server/internal/store"
	"famtool-server/internal/trigger"
)

var errAlertedRecently = errors.New("battery alert sent recently")

// MonitorBattery warns the account when a device reports a low battery, at
// most once per interval. The marker is claimed in a transaction before the
// notification is written.
func (r *Router) MonitorBattery(ctx context.Context, ev trigger.Event) error {
	if ev.Kind == trigger.Deleted {
		return nil
	}
	var status model.DeviceStatus
	if err := store.Decode(ev.After, &status); err != nil {
		return nil
	}
	if status.Battery <= 0 || status.Battery >= r.batteryThreshold {
		return nil
	}

	uid := ev.Param("uid")
	now := r.now().UnixMilli()
	interval := r.batteryInterval.Milliseconds()
	_, err := r.st.Transaction(ctx, model.BatteryAlertPath(uid), func(cur any) (any, error) {
		last, _ := cur.(float64)
		if now-int64(last) <= interval {
			return nil, errAlertedRecently
		}
		return now, nil
	})
	if errors.Is(err, errAlertedRecently) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("claim battery alert for %s: %w", uid, err)
	}

	level := strconv.FormatFloat(status.Battery, 'f', -1, 64)
	r.sink.TryNotify(ctx, uid, model.NotifyWarning,
		fmt.Sprintf("Low Battery Alert: Device battery is at %s%%. Please charge soon.", level),
		map[string]any{"battery": status.Battery})
	return nil
}
