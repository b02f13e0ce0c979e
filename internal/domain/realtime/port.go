package realtime

import "context"

type Status string

const (
	StatusConnecting Status = "CONNECTING"
	StatusOpen       Status = "OPEN"
	StatusClosed     Status = "CLOSED"
	StatusError      Status = "ERROR"
)

type BindingKind string

const (
	BindingBroadcast BindingKind = "broadcast"
	BindingChanges   BindingKind = "postgres_changes"
)

// AnyEvent matches every broadcast event name or change type.
const AnyEvent = "*"

// Message is a raw inbound frame as handed over by a transport. For
// broadcasts Event is the broadcast event name and Payload is the inner
// payload; for change feeds Event is INSERT, UPDATE or DELETE and Payload
// is the change record.
type Message struct {
	Channel string
	Kind    BindingKind
	Event   string
	Table   string
	Payload []byte
}

// Binding subscribes a handler to one kind of traffic on a channel.
type Binding struct {
	Kind    BindingKind
	Event   string
	Schema  string
	Table   string
	Filter  string
	Handler func(Message)
}

func (b Binding) Matches(m Message) bool {
	if b.Kind != m.Kind {
		return false
	}
	if b.Event != AnyEvent && b.Event != "" && b.Event != m.Event {
		return false
	}
	if b.Kind == BindingChanges && b.Table != "" && b.Table != m.Table {
		return false
	}
	return true
}

// Hooks are connection level callbacks. OnOpen is invoked synchronously
// from Connect before any other hook may fire; OnClose and OnError are
// invoked at most once per successful Connect.
type Hooks struct {
	OnOpen  func()
	OnClose func(err error)
	OnError func(err error)
}

type Transport interface {
	Connect(ctx context.Context, hooks Hooks) error
	// Channel returns a fresh, unjoined handle for name.
	Channel(name string) TransportChannel
	Disconnect(ctx context.Context) error
}

type TransportChannel interface {
	On(b Binding)
	Join(ctx context.Context) error
	Send(ctx context.Context, event string, payload any) error
	Leave(ctx context.Context) error
}
