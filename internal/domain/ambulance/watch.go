package ambulance

import (
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/bristolpark/hmis/internal/platform/websocket"
)

// subscriber is the part of the hub WatchFleet needs.
type subscriber interface {
	On(topic string, fn websocket.Handler)
}

// WatchFleet logs every ambulance and call status change published on the
// hub, giving dispatchers a server-side trail of mirrored state.
func WatchFleet(hub subscriber, logger zerolog.Logger) {
	log := logger.With().Str("component", "dispatch").Logger()
	handler := func(e websocket.Event) {
		if e.Type != websocket.EventStatusChanged {
			return
		}
		var change websocket.StatusChange
		if err := json.Unmarshal(e.Data, &change); err != nil {
			log.Warn().Err(err).Str("topic", e.Topic).Msg("undecodable status event")
			return
		}
		log.Info().
			Str("topic", e.Topic).
			Str("resource_type", e.ResourceType).
			Str("resource_id", e.ResourceID).
			Str("from", change.From).
			Str("to", change.To).
			Interface("detail", change.Detail).
			Msg("status changed")
	}
	hub.On(websocket.TopicAmbulance, handler)
	hub.On(websocket.TopicCalls, handler)
}
