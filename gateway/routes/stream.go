package routes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"nhooyr.io/websocket"

	"nhbcdp/core/events"
)

const streamWriteTimeout = 10 * time.Second

var errNoStream = errors.New("event stream not configured")

type streamPayload struct {
	Sequence   uint64            `json:"sequence"`
	Type       string            `json:"type"`
	Ilk        string            `json:"ilk,omitempty"`
	Token      string            `json:"token,omitempty"`
	Attributes map[string]string `json:"attributes"`
	Timestamp  int64             `json:"ts"`
}

// streamEvents upgrades to a websocket and pushes committed ledger events as
// they happen. The type, ilk and token filters match listEvents; cursor
// resumes after a sequence seen earlier on this stream.
func (cr *cdpRoutes) streamEvents(w http.ResponseWriter, r *http.Request) {
	if cr.stream == nil {
		writeError(w, errNoStream)
		return
	}
	q := r.URL.Query()
	eventType, ilk, token := q.Get("type"), q.Get("ilk"), q.Get("token")
	var cursor uint64
	if raw := q.Get("cursor"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, fmt.Errorf("%w: cursor: %v", errBadRequest, err))
			return
		}
		cursor = parsed
	}

	// The server wide deadlines would cut a long lived stream.
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: cr.origins})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	// Clients only listen; CloseRead handles their pings and close frames.
	ctx := conn.CloseRead(r.Context())
	if err := cr.pushEvents(ctx, conn, cursor, func(u events.Update) bool {
		return u.Match(eventType, ilk, token)
	}); err != nil {
		if status := websocket.CloseStatus(err); status == -1 && !errors.Is(err, context.Canceled) {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (cr *cdpRoutes) pushEvents(ctx context.Context, conn *websocket.Conn, cursor uint64, keep func(events.Update) bool) error {
	updates, cancel, backlog := cr.stream.Subscribe(ctx, cursor)
	defer cancel()

	for _, update := range backlog {
		if !keep(update) {
			continue
		}
		if err := writeUpdate(ctx, conn, update); err != nil {
			return err
		}
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if !keep(update) {
				continue
			}
			if err := writeUpdate(ctx, conn, update); err != nil {
				return err
			}
		}
	}
}

func writeUpdate(ctx context.Context, conn *websocket.Conn, update events.Update) error {
	data, err := json.Marshal(streamPayload{
		Sequence:   update.Sequence,
		Type:       update.Type,
		Ilk:        update.Ilk,
		Token:      update.Token,
		Attributes: update.Attrs,
		Timestamp:  update.Timestamp,
	})
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
