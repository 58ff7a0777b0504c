package httptransport

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"liquidity/internal/domain"
	"liquidity/internal/zone/journal"
	"liquidity/internal/zone/protocol"
	pkgerrors "liquidity/pkg/errors"
)

type eventRecord struct {
	SequenceNr    int64  `json:"sequence_nr"`
	Timestamp     int64  `json:"timestamp"`
	RemoteAddress string `json:"remote_address,omitempty"`
	PublicKey     []byte `json:"public_key,omitempty"`
	Event         string `json:"event"`
	Payload       any    `json:"payload"`
}

// eventKind names an event without the package qualifier.
func eventKind(event protocol.ZoneEvent) string {
	return strings.TrimPrefix(fmt.Sprintf("%T", event), "protocol.")
}

// handleZoneEvents dumps a zone's journal as decoded event records. The dump
// reads committed rows only, so it is safe to run against a live zone.
func (h *Handler) handleZoneEvents(w http.ResponseWriter, r *http.Request) {
	zoneID := domain.ZoneID(chi.URLParam(r, "zoneID"))
	records := make([]eventRecord, 0)
	err := h.events.Read(r.Context(), protocol.PersistenceID(zoneID), 0, func(env journal.Envelope) error {
		decoded, err := protocol.UnmarshalEventEnvelope(env.Payload)
		if err != nil {
			return fmt.Errorf("decode event %d: %w", env.SequenceNr, err)
		}
		records = append(records, eventRecord{
			SequenceNr:    env.SequenceNr,
			Timestamp:     decoded.Timestamp,
			RemoteAddress: decoded.RemoteAddress,
			PublicKey:     decoded.PublicKey,
			Event:         eventKind(decoded.Event),
			Payload:       decoded.Event,
		})
		return nil
	})
	if err != nil {
		h.logger.ErrorContext(r.Context(), "journal dump failed", "zone_id", string(zoneID), "error", err)
		writeError(w, pkgerrors.New(pkgerrors.CodeInternal, "journal dump failed"))
		return
	}
	writeJSON(w, http.StatusOK, records)
}
