package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const writeWait = 10 * time.Second

// client serializes writes to one connection; gorilla allows a single writer.
type client struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

type Ws struct {
	connMap sync.Map // socketId -> *client
}

func NewWs() *Ws {
	return &Ws{}
}

func (s *Ws) StoreConnection(socketId string, conn *websocket.Conn) {
	s.connMap.Store(socketId, &client{conn: conn})
}

func (s *Ws) RemoveConnection(socketId string) {
	if v, ok := s.connMap.LoadAndDelete(socketId); ok {
		v.(*client).conn.Close()
	}
}

func (s *Ws) Count() int {
	n := 0
	s.connMap.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Broadcast writes payload to every connected socket, dropping the ones that fail.
func (s *Ws) Broadcast(payload []byte) {
	s.connMap.Range(func(key, value any) bool {
		c := value.(*client)
		c.mu.Lock()
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		err := c.conn.WriteMessage(websocket.TextMessage, payload)
		c.mu.Unlock()
		if err != nil {
			log.Warnf("dropping websocket %s: %s", key, err)
			s.RemoveConnection(key.(string))
		}
		return true
	})
}
