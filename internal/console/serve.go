package console

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ent0n29/turnstile/internal/apperrors"
	"github.com/ent0n29/turnstile/internal/protocol"
)

const (
	writeWait    = 10 * time.Second
	readDeadline = 120 * time.Second
	pingInterval = 30 * time.Second
	readLimit    = 1 << 20
)

// Dispatcher handles inbound console messages. A non-empty reply is sent back
// to the originating client only.
type Dispatcher interface {
	HandleMessage(ctx context.Context, text string) (string, error)
	HandleAction(ctx context.Context, action protocol.PermissionAction) (string, error)
}

// Serve runs one websocket client until the connection or ctx ends.
func (h *Hub) Serve(ctx context.Context, conn *websocket.Conn, d Dispatcher) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c := h.Register()
	log := h.log.WithFields(zap.String("client_id", c.id))

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					cancel()
					return
				}
			case msg, ok := <-c.out:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteJSON(msg); err != nil {
					log.Warn("console write failed", zap.Error(err))
					cancel()
					return
				}
			}
		}
	}()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	conn.SetReadLimit(readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			c.send(protocol.NewErrorEvent(string(apperrors.CodeInvalidInput), err.Error()))
			continue
		}

		var reply string
		switch m := parsed.(type) {
		case protocol.OperatorMessage:
			reply, err = d.HandleMessage(ctx, m.Text)
		case protocol.PermissionAction:
			reply, err = d.HandleAction(ctx, m)
		}
		if err != nil {
			c.send(protocol.NewErrorEvent(string(apperrors.CodeOf(err)), apperrors.Message(err)))
			continue
		}
		if reply != "" {
			c.send(protocol.NewReply(reply))
		}
	}

	cancel()
	<-writerDone
	h.Unregister(c)
}
