package forward

import (
	"context"
	"log/slog"
	"time"

	"github.com/skypro1111/voice-activation-service/internal/events"
	"github.com/skypro1111/voice-activation-service/internal/session"
)

// Handler returns a session.UtteranceHandler that forwards every finished
// utterance and publishes the outcome. A nil publisher discards events.
func (c *Client) Handler(publisher events.Publisher) session.UtteranceHandler {
	if publisher == nil {
		publisher = events.Discard
	}

	return func(ctx context.Context, u *session.Utterance) {
		data := map[string]any{"utterance_id": u.ID}

		resp, err := c.Forward(ctx, u)
		if err != nil {
			c.logger.Error("Failed to forward utterance",
				slog.String("utterance_id", u.ID),
				slog.String("session_id", u.SessionID),
				slog.Uint64("stream_id", uint64(u.StreamID)),
				slog.String("error", err.Error()))
			data["error"] = err.Error()
		} else {
			data["accepted"] = resp.Accepted
			if resp.Text != "" {
				data["text"] = resp.Text
			}
			if resp.Intent != "" {
				data["intent"] = resp.Intent
			}
		}

		publisher.Publish(events.Event{
			Type:      events.TypeUtteranceForwarded,
			SessionID: u.SessionID,
			StreamID:  u.StreamID,
			Timestamp: time.Now(),
			Data:      data,
		})
	}
}
