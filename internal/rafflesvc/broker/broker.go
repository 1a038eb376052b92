package broker

import (
	"encoding/json"
	"time"

	"github.com/avvvet/btc-raffle/internal/comm"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
)

const Topic = "raffle.events"

// Broker fans raffle events out to every service instance over NATS, and
// from there to the websocket clients of each instance. Without a NATS
// connection events go straight to the local clients.
type Broker struct {
	Conn      *nats.Conn
	Broadcast func([]byte) // dependency injection from the websocket hub
}

func NewBroker(conn *nats.Conn, broadcast func([]byte)) *Broker {
	return &Broker{
		Conn:      conn,
		Broadcast: broadcast,
	}
}

// Subscribe relays events published by any instance to local clients.
func (b *Broker) Subscribe() (*nats.Subscription, error) {
	if b.Conn == nil {
		return nil, nil
	}
	return b.Conn.Subscribe(Topic, b.handleMessage)
}

func (b *Broker) handleMessage(msg *nats.Msg) {
	var ev comm.Event
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		log.Errorf("Error invalid raffle event: %s", err)
		return
	}
	b.deliver(msg.Data)
}

func (b *Broker) deliver(payload []byte) {
	if b.Broadcast != nil {
		b.Broadcast(payload)
	}
}

func (b *Broker) PublishEntryRecorded(p comm.EntryRecorded) {
	b.publish(comm.EventEntryRecorded, p)
}

func (b *Broker) PublishRoundDrawn(p comm.RoundDrawn) {
	b.publish(comm.EventRoundDrawn, p)
}

// publish is best effort; a lost event never fails the request that caused it.
func (b *Broker) publish(eventType string, v any) {
	if b == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		log.Errorf("error [Broker.publish] marshaling %s: %v", eventType, err)
		return
	}

	payload, err := json.Marshal(comm.Event{
		ID:   uuid.New().String(),
		Type: eventType,
		Data: data,
		At:   time.Now().UTC(),
	})
	if err != nil {
		log.Errorf("error [Broker.publish] marshaling event: %v", err)
		return
	}

	if b.Conn == nil {
		b.deliver(payload)
		return
	}
	if err := b.Conn.Publish(Topic, payload); err != nil {
		log.Errorf("Error publishing to topic %s: %s", Topic, err)
	}
}
