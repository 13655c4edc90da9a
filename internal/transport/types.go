// Package transport defines the outbound message contract shared by the
// notifier and its delivery channels.
package transport

import "context"

// Message is a rendered notification ready for a channel.
type Message struct {
	ID       string
	Priority int // 0 low .. 10 high
	Title    string
	Text     string
	// Meta carries channel-agnostic attributes such as the schedule id.
	Meta map[string]string
}

// Sender delivers messages to one channel.
type Sender interface {
	Name() string
	Send(ctx context.Context, m Message) error
}

// Starter is implemented by senders that own background work.
type Starter interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
