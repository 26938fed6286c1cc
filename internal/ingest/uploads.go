package ingest

import (
	"context"
	"fmt"

	"famtool-server/internal/audit"
	"famtool-server/internal/metrics"
	"famtool-server/internal/model"
	"famtool-server/internal/policy"
	"famtool-server/internal/trigger"
)

// gatedUploads maps the telemetry categories checked on arrival to their
// quota. calls is freeze-checked only.
var gatedUploads = map[string]model.MediaType{
	"photo": model.MediaPhotos,
	"video": model.MediaVideos,
	"audio": model.MediaAudio,
	"calls": "",
}

// EnforceUpload removes a just-landed record when the account is frozen or
// over its daily limit. Uploads are checked, not counted.
func (r *Router) EnforceUpload(ctx context.Context, ev trigger.Event) error {
	uid, device, category, record, ok := deviceRecord(ev)
	if !ok {
		return nil
	}
	media, gated := gatedUploads[category]
	if !gated {
		return nil
	}

	decision, err := r.gate.Check(ctx, policy.Request{
		AccountID: uid,
		Resource:  media,
		ActorID:   model.SystemActor,
		Action:    audit.UploadBlocked,
		Metadata:  map[string]any{"childKey": device, "category": category, "recordId": record},
	})
	if err != nil {
		if decision.Reason == "" {
			return err
		}
		// The denial stands even if its audit entry could not be written.
		r.logger.Error().Err(err).Str("uid", uid).Str("path", ev.Path).Msg("upload denial not audited")
	}
	if decision.Allowed {
		return nil
	}

	if err := r.st.Delete(ctx, ev.Path); err != nil {
		return fmt.Errorf("remove rejected upload %s: %w", ev.Path, err)
	}
	metrics.UploadsRejected.WithLabelValues(string(decision.Reason)).Inc()
	r.logger.Info().
		Str("uid", uid).
		Str("device", device).
		Str("category", category).
		Str("record", record).
		Str("reason", string(decision.Reason)).
		Msg("upload removed")
	return nil
}
