package http

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"marketplace-chat/internal/realtime"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
	wsReadWait   = 60 * time.Second
	wsSendBuffer = 256
	wsReadLimit  = 1 << 20
)

var errConnectionClosed = errors.New("connection closed")

// wsConnection serializa las escrituras de un websocket en una sola goroutine.
// Si el cliente no drena el buffer la conexion se cierra y el cliente debe reconectar y resincronizar.
type wsConnection struct {
	id     string
	userID string

	ws    *websocket.Conn
	send  chan []byte
	once  sync.Once
	close chan struct{}
}

func newWSConnection(userID string, ws *websocket.Conn) *wsConnection {
	return &wsConnection{
		id:     uuid.NewString(),
		userID: userID,
		ws:     ws,
		send:   make(chan []byte, wsSendBuffer),
		close:  make(chan struct{}),
	}
}

func (c *wsConnection) start() {
	go c.writeLoop()
}

// SendFrame codifica y encola el frame.
func (c *wsConnection) SendFrame(f realtime.Frame) error {
	payload, err := realtime.EncodeFrame(f)
	if err != nil {
		return err
	}
	return c.sendRaw(payload)
}

func (c *wsConnection) sendRaw(payload []byte) error {
	select {
	case <-c.close:
		return errConnectionClosed
	default:
	}
	select {
	case <-c.close:
		return errConnectionClosed
	case c.send <- payload:
		return nil
	default:
		c.Close(websocket.CloseTryAgainLater, "send buffer full")
		return errors.New("connection buffer exceeded")
	}
}

// Close termina la conexion; llamadas repetidas no hacen nada.
func (c *wsConnection) Close(code int, reason string) {
	c.once.Do(func() {
		close(c.close)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
		_ = c.ws.Close()
	})
}

func (c *wsConnection) Done() <-chan struct{} {
	return c.close
}

func (c *wsConnection) writeLoop() {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.close:
			return
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "write failed")
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "ping failed")
				return
			}
		}
	}
}

func (c *wsConnection) write(messageType int, payload []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(messageType, payload)
}
