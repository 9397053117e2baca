package api

import (
	"time"

	"github.com/transferwatch/transferwatch/internal/store"
)

// Event is the wire representation of a transfer event, shared by the
// HTTP API and the CLI query output.
type Event struct {
	TransactionHash string `json:"transaction_hash"`
	FromAddress     string `json:"from_address"`
	ToAddress       string `json:"to_address"`
	Value           string `json:"value"`
	BlockNumber     uint64 `json:"block_number"`
	Timestamp       string `json:"timestamp"`
}

// NewEvent converts a stored event to its wire form. The timestamp is
// rendered as RFC 3339 UTC; the value stays a decimal string.
func NewEvent(ev *store.TransferEvent) Event {
	return Event{
		TransactionHash: ev.TxHash.Hex(),
		FromAddress:     ev.From.Hex(),
		ToAddress:       ev.To.Hex(),
		Value:           ev.Value,
		BlockNumber:     ev.BlockNumber,
		Timestamp:       time.Unix(ev.Timestamp, 0).UTC().Format(time.RFC3339),
	}
}

// NewEvents converts a result set.
func NewEvents(events []*store.TransferEvent) []Event {
	out := make([]Event, len(events))
	for i, ev := range events {
		out[i] = NewEvent(ev)
	}
	return out
}

// EventsResponse is the envelope for the events endpoint.
type EventsResponse struct {
	Events []Event `json:"events"`
	Count  int     `json:"count"`
}

// ErrorResponse is the envelope for error replies.
type ErrorResponse struct {
	Error string `json:"error"`
}
