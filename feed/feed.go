// Package feed exposes insert events from the chat datastore as a
// change feed. A session opens one feed per filter and receives raw
// record payloads as they are inserted.
package feed

import "context"

// Well-known collections a filter can watch.
const (
	CollectionPrivateMessages = "private_messages"
	CollectionGroupMessages   = "group_messages"
	CollectionReadStatus      = "read_status"
)

// Filter selects a slice of the change feed. Key scopes the collection
// to one principal (recipient, member, or reader depending on the
// collection); an empty Key matches every record in the collection.
type Filter struct {
	Collection string
	Key        string
}

// Handler receives the raw payload of one inserted record.
type Handler func(data []byte)

// Handle is an open feed subscription.
type Handle interface {
	// Close stops delivery. Safe to call more than once; an in-flight
	// callback is allowed to complete.
	Close() error
}

// Feed delivers inserted records matching a filter to a handler.
type Feed interface {
	Open(ctx context.Context, filter Filter, handler Handler) (Handle, error)
}
