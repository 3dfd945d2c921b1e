package events

import "time"

// HandlerStart is emitted before an AppSync handler is invoked.
type HandlerStart struct {
	TypeName  string
	FieldName string
	RequestID string
}

// HandlerFinish is emitted after an AppSync handler returns or panics.
type HandlerFinish struct {
	TypeName  string
	FieldName string
	RequestID string
	Err       error
	Duration  time.Duration
}

// Published is emitted after a mutation result was published to a topic.
type Published struct {
	Topic string
	Err   error
}

// AuthDenied is emitted when an authorization policy rejects a field.
// Reason is for server-side diagnostics only.
type AuthDenied struct {
	TypeName  string
	FieldName string
	Policy    string
	Reason    error
}
