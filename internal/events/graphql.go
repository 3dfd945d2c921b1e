package events

import "time"

// GraphQLStart is emitted before executing a GraphQL operation.
type GraphQLStart struct {
	Query         string
	OperationName string
	OperationType string
	// Transport is "http" or "ws".
	Transport string
}

// GraphQLFinish is emitted after executing a GraphQL operation.
type GraphQLFinish struct {
	Query         string
	OperationName string
	OperationType string
	Transport     string
	Errors        []error
	Duration      time.Duration
}

// SubscriptionStart is emitted when a subscription source stream is opened.
type SubscriptionStart struct {
	ID            string
	OperationName string
	Field         string
}

// SubscriptionFinish is emitted when a subscription ends, either because the
// client completed it or because the connection closed.
type SubscriptionFinish struct {
	ID            string
	OperationName string
	Field         string
	Events        int
	Duration      time.Duration
}
