package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"optionsvault/core"
)

const wsWriteTimeout = 5 * time.Second

// streamEvents replays the retained feed past ?cursor= and then streams
// committed events. ?type= keeps only events whose type has that prefix.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	cursor := strings.TrimSpace(r.URL.Query().Get("cursor"))
	prefix := strings.TrimSpace(r.URL.Query().Get("type"))
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	ctx := conn.CloseRead(r.Context())
	if err := s.stream(ctx, conn, cursor, prefix); err != nil {
		if status := websocket.CloseStatus(err); status == -1 && ctx.Err() == nil {
			s.logger.Warn("event stream failed", "error", err)
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) stream(ctx context.Context, conn *websocket.Conn, cursor, prefix string) error {
	updates, cancel, backlog := s.node.Feed().Subscribe(ctx, cursor)
	defer cancel()

	for _, entry := range backlog {
		if !strings.HasPrefix(entry.Type, prefix) {
			continue
		}
		if err := writeEntry(ctx, conn, entry); err != nil {
			return err
		}
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case entry, ok := <-updates:
			if !ok {
				return ctx.Err()
			}
			if !strings.HasPrefix(entry.Type, prefix) {
				continue
			}
			if err := writeEntry(ctx, conn, entry); err != nil {
				return err
			}
		}
	}
}

func writeEntry(ctx context.Context, conn *websocket.Conn, entry core.FeedEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
