package ws

import (
	"time"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// DefaultMaxMessageSize is used when the handler is given no limit
	DefaultMaxMessageSize = 10 * 1024 * 1024 // 10MB

	// sendBufferSize is the number of responses queued per connection
	sendBufferSize = 256
)

// Stats holds connection counters
type Stats struct {
	Connections int64  `json:"connections"`
	Accepted    uint64 `json:"accepted"`
	Messages    uint64 `json:"messages"`
	Dropped     uint64 `json:"dropped"`
}
