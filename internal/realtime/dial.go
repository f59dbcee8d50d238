package realtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
)

// DialStream connects to a preview stream endpoint and exposes its frames as
// a Subscription.
func DialStream(ctx context.Context, url string) (Subscription, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial preview stream: %w", err)
	}
	sub := &streamSubscription{conn: conn, ch: make(chan []byte, subscriberBuffer), done: make(chan struct{})}
	go sub.read()
	return sub, nil
}

type streamSubscription struct {
	conn *websocket.Conn
	ch   chan []byte
	done chan struct{}
	once sync.Once
}

func (s *streamSubscription) read() {
	defer close(s.ch)
	for {
		kind, payload, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		select {
		case s.ch <- payload:
		case <-s.done:
			return
		}
	}
}

func (s *streamSubscription) C() <-chan []byte {
	return s.ch
}

// Close sends a normal close frame and closes the connection; the read loop
// then ends and C is closed.
func (s *streamSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		err = s.conn.Close()
	})
	return err
}
