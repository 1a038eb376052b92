package comm

import (
	"encoding/json"
	"time"
)

const (
	EventEntryRecorded = "entry-recorded"
	EventRoundDrawn    = "round-drawn"
)

// Event is what travels over NATS and out to websocket clients.
type Event struct {
	ID   string          `json:"id"`
	Type string          `json:"type"` // e.g. "entry-recorded", "round-drawn"
	Data json.RawMessage `json:"data"`
	At   time.Time       `json:"at"`
}

type EntryRecorded struct {
	Round        int64  `json:"round"`
	TotalEntries int64  `json:"totalEntries"`
	AmountSats   uint64 `json:"amountSats"`
}

type RoundDrawn struct {
	Round         int64  `json:"round"`
	WinnerCode    string `json:"winnerCode"`
	WinnerAddress string `json:"winnerAddress"`
	PrizeSats     uint64 `json:"prizeSats"`
	TotalEntries  int64  `json:"totalEntries"`
	NextRound     int64  `json:"nextRound"`
}
