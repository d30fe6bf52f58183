package model

import (
	"encoding/json"
	"time"
)

// RpcCall is the audit record of one RPC dispatch. UserID is nil for calls
// to public methods. ProcessedAt and Duration are filled when the handler
// returns.
type RpcCall struct {
	ID          int64
	Method      string
	Params      json.RawMessage
	UserID      *int64
	IP          string
	CreatedAt   time.Time
	ProcessedAt *time.Time
	Duration    time.Duration
}
