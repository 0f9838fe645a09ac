package realtime

import (
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/rs/zerolog"
)

const (
	sendBufferSize = 256
	writeWait      = 10 * time.Second
)

// session is one live websocket connection. Only the write loop writes to conn.
type session struct {
	conn         *websocket.Conn
	send         chan []byte
	done         chan struct{}
	closeOnce    sync.Once
	pingInterval time.Duration
	log          zerolog.Logger
}

func newSession(conn *websocket.Conn, pingInterval time.Duration, logger zerolog.Logger) *session {
	return &session{
		conn:         conn,
		send:         make(chan []byte, sendBufferSize),
		done:         make(chan struct{}),
		pingInterval: pingInterval,
		log:          logger,
	}
}

// start launches the writer and reader goroutines. onClose runs once, after the reader stops.
func (s *session) start(onMessage func([]byte), onClose func(error)) {
	go s.writeLoop()
	go s.readLoop(onMessage, onClose)
}

func (s *session) writeLoop() {
	ticker := time.NewTicker(s.pingInterval)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case <-s.done:
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return

		case message := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.log.Debug().Err(err).Msg("realtime write failed")
				s.close()
				return
			}

		case <-ticker.C:
			// Keep-alive
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.close()
				return
			}
		}
	}
}

func (s *session) readLoop(onMessage func([]byte), onClose func(error)) {
	var readErr error
	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			readErr = err
			break
		}
		onMessage(message)
	}
	s.close()
	onClose(readErr)
}

// enqueue hands a frame to the writer; it reports false once the session is closing.
func (s *session) enqueue(data []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- data:
		return true
	case <-s.done:
		return false
	}
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}
