// Package lkdbus defines the transport-agnostic surface the alarm
// engine needs from LKD, the external home-automation bus daemon: typed
// object read/write/subscribe, and action execution. The engine only
// ever depends on the interfaces in this file; internal/lkdbus/mqttclient.go
// supplies one concrete transport.
package lkdbus

import (
	"context"
	"fmt"
)

// Kind identifies the wire type carried by a bus object's Value.
type Kind int

const (
	KindBool Kind = iota
	KindInt
	KindFloat
)

// Value is a typed bus-object value. Exactly one field is meaningful,
// selected by Kind; this matches LKD's own typed-object model rather
// than collapsing everything to interface{} at the boundary.
type Value struct {
	Kind  Kind
	Bool  bool
	Int   int64
	Float float64
}

// BoolValue constructs a boolean Value.
func BoolValue(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// IntValue constructs an integer Value.
func IntValue(i int64) Value { return Value{Kind: KindInt, Int: i} }

// FloatValue constructs a float Value.
func FloatValue(f float64) Value { return Value{Kind: KindFloat, Float: f} }

// AsBool returns the boolean interpretation of the value. Non-bool
// kinds return false with ok=false; the engine never silently coerces
// across types.
func (v Value) AsBool() (b bool, ok bool) {
	if v.Kind != KindBool {
		return false, false
	}
	return v.Bool, true
}

// AsFloat returns the numeric interpretation of the value, accepting
// both KindInt and KindFloat since watched sensors may be bound to
// either.
func (v Value) AsFloat() (f float64, ok bool) {
	switch v.Kind {
	case KindFloat:
		return v.Float, true
	case KindInt:
		return float64(v.Int), true
	default:
		return 0, false
	}
}

func (v Value) String() string {
	switch v.Kind {
	case KindBool:
		return fmt.Sprintf("%t", v.Bool)
	case KindInt:
		return fmt.Sprintf("%d", v.Int)
	case KindFloat:
		return fmt.Sprintf("%g", v.Float)
	default:
		return "<invalid>"
	}
}

// ChangeFunc is invoked by a transport when a subscribed object's value
// changes. Implementations must not block for long; the engine
// dispatches synchronously from this callback.
type ChangeFunc func(objectID string, newValue Value)

// ObjectHandle is a typed, read/write/subscribe handle to one LKD
// object, acquired once at construction time per spec's lifecycle rule
// and held for the domain entity's lifetime.
type ObjectHandle interface {
	// ID returns the LKD object identifier this handle was acquired for.
	ID() string
	// Value reads the current value. The engine never caches this
	// beyond a single callback cycle.
	Value(ctx context.Context) (Value, error)
	// SetValue writes a new value.
	SetValue(ctx context.Context, v Value) error
	// Subscribe registers fn to be invoked on every change. Returns an
	// unsubscribe function.
	Subscribe(fn ChangeFunc) (unsubscribe func())
}

// ActionDocument is an opaque, LKD-understood action descriptor. Type
// selects the action kind ("send-email", "send-sms", "shell-cmd", or
// any other string for a generic pass-through); Fields carries the
// action-specific payload.
type ActionDocument struct {
	Type   string
	Fields map[string]string
}

// Client is the minimal surface the core alarm engine requires from
// the external bus backend, per the "Bus backend client" external
// interface. A concrete transport (see mqttclient.go) implements it;
// tests use an in-memory fake from internal/testkit.
type Client interface {
	// GetObject returns a handle to the named object, acquiring
	// transport-level state as needed. Repeated calls with the same id
	// may return the same handle.
	GetObject(ctx context.Context, id string) (ObjectHandle, error)
	// ExecuteAction hands an action document to LKD for execution.
	ExecuteAction(ctx context.Context, action ActionDocument) error
	// Connect establishes the underlying transport connection. Connect
	// does not block waiting for the connection to be live; use
	// AwaitConnection for that.
	Connect(ctx context.Context) error
	// AwaitConnection blocks until the transport is connected or ctx
	// is done.
	AwaitConnection(ctx context.Context) error
	// Close releases transport resources.
	Close(ctx context.Context) error
}
