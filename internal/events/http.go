package events

import (
	"net/http"
	"time"
)

// HTTPStart is emitted when a plain HTTP request arrives. WebSocket upgrades
// emit ConnectionOpen instead.
type HTTPStart struct {
	Request *http.Request
}

// HTTPFinish is emitted once the response has been written.
type HTTPFinish struct {
	Request  *http.Request
	Status   int
	Duration time.Duration
}

// ConnectionOpen is emitted after a graphql-transport-ws upgrade succeeds.
type ConnectionOpen struct {
	ID         string
	RemoteAddr string
}

// ConnectionClose is emitted when a WebSocket connection ends. Operations is
// the number of subscribe messages the connection accepted.
type ConnectionClose struct {
	ID         string
	Operations int
	Duration   time.Duration
}
