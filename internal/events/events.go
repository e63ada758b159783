// Package events emits pipeline lifecycle events as structured log records.
package events

import (
	"log/slog"

	"ContentPipeline/internal/domain"
	"ContentPipeline/internal/ports"
)

// LogSink writes every event through the shared structured logger so an
// operator can follow item and credential state changes from the log stream.
type LogSink struct {
	logger *slog.Logger
}

var _ ports.EventSink = (*LogSink)(nil)

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With("component", "events")}
}

// Emit records the event at a level matching its severity.
func (s *LogSink) Emit(ev domain.Event) {
	attrs := make([]any, 0, 2*len(ev.Fields)+12)
	attrs = append(attrs, "event", string(ev.Type))
	if ev.CampaignID != "" {
		attrs = append(attrs, "campaign_id", ev.CampaignID)
	}
	if ev.ItemID != "" {
		attrs = append(attrs, "item_id", ev.ItemID)
	}
	if ev.Provider != "" {
		attrs = append(attrs, "provider", ev.Provider)
	}
	if ev.Credential != "" {
		attrs = append(attrs, "credential", ev.Credential)
	}
	if ev.ErrorKind != "" {
		attrs = append(attrs, "error_kind", string(ev.ErrorKind))
	}
	for k, v := range ev.Fields {
		attrs = append(attrs, k, v)
	}

	switch ev.Type {
	case domain.EventItemFailed, domain.EventCredentialSuspended:
		s.logger.Warn("pipeline event", attrs...)
	default:
		s.logger.Info("pipeline event", attrs...)
	}
}

// NopSink discards events. Used by components that run without observers.
type NopSink struct{}

var _ ports.EventSink = NopSink{}

func (NopSink) Emit(domain.Event) {}
