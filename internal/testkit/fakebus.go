// Package testkit supplies fakes used by the alarm engine's scenario
// and unit tests: an in-memory lkdbus.Client. It depends only on
// internal/lkdbus so any package under internal/ may import it from its
// own _test.go files.
package testkit

import (
	"context"
	"fmt"
	"sync"

	"github.com/2franix/hwsupervisor/internal/lkdbus"
)

// FakeBus is an in-memory lkdbus.Client. Object values are held in a
// map and changes are delivered synchronously to subscribers from
// SetValue/Write, mirroring the single-callback-cycle semantics the
// engine relies on. Safe for concurrent use.
type FakeBus struct {
	mu       sync.Mutex
	objects  map[string]*fakeObject
	actions  []lkdbus.ActionDocument
	connects int
}

var _ lkdbus.Client = (*FakeBus)(nil)

// NewFakeBus creates an empty fake bus. Objects are created lazily on
// first GetObject and hold no value until written: reads before then
// return an error.
func NewFakeBus() *FakeBus {
	return &FakeBus{objects: make(map[string]*fakeObject)}
}

func (b *FakeBus) Connect(ctx context.Context) error {
	b.mu.Lock()
	b.connects++
	b.mu.Unlock()
	return nil
}

func (b *FakeBus) AwaitConnection(ctx context.Context) error { return nil }

func (b *FakeBus) Close(ctx context.Context) error { return nil }

func (b *FakeBus) GetObject(ctx context.Context, id string) (lkdbus.ObjectHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	obj, ok := b.objects[id]
	if !ok {
		obj = &fakeObject{id: id}
		b.objects[id] = obj
	}
	return obj, nil
}

// ExecuteAction records the action document for later inspection via
// Actions; it never fails.
func (b *FakeBus) ExecuteAction(ctx context.Context, action lkdbus.ActionDocument) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.actions = append(b.actions, action)
	return nil
}

// Actions returns every action document passed to ExecuteAction so
// far, in order.
func (b *FakeBus) Actions() []lkdbus.ActionDocument {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]lkdbus.ActionDocument, len(b.actions))
	copy(out, b.actions)
	return out
}

// Write sets id's value and synchronously notifies subscribers,
// standing in for an inbound LKD change notification.
func (b *FakeBus) Write(id string, v lkdbus.Value) {
	b.mu.Lock()
	obj, ok := b.objects[id]
	if !ok {
		obj = &fakeObject{id: id}
		b.objects[id] = obj
	}
	b.mu.Unlock()
	obj.applyChange(v)
}

// WriteBool is a convenience wrapper around Write for boolean objects.
func (b *FakeBus) WriteBool(id string, v bool) { b.Write(id, lkdbus.BoolValue(v)) }

// WriteFloat is a convenience wrapper around Write for float objects.
func (b *FakeBus) WriteFloat(id string, v float64) { b.Write(id, lkdbus.FloatValue(v)) }

// Value returns the object's last written value, or an error if it was
// never written.
func (b *FakeBus) Value(id string) (lkdbus.Value, error) {
	b.mu.Lock()
	obj, ok := b.objects[id]
	b.mu.Unlock()
	if !ok {
		return lkdbus.Value{}, fmt.Errorf("testkit: object %q never created", id)
	}
	return obj.Value(context.Background())
}

type fakeObject struct {
	id string

	mu          sync.RWMutex
	value       lkdbus.Value
	hasValue    bool
	subscribers []lkdbus.ChangeFunc
}

func (o *fakeObject) ID() string { return o.id }

func (o *fakeObject) Value(ctx context.Context) (lkdbus.Value, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if !o.hasValue {
		return lkdbus.Value{}, fmt.Errorf("testkit: object %q: no value set", o.id)
	}
	return o.value, nil
}

func (o *fakeObject) SetValue(ctx context.Context, v lkdbus.Value) error {
	o.applyChange(v)
	return nil
}

func (o *fakeObject) Subscribe(fn lkdbus.ChangeFunc) func() {
	o.mu.Lock()
	o.subscribers = append(o.subscribers, fn)
	idx := len(o.subscribers) - 1
	o.mu.Unlock()
	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		if idx < len(o.subscribers) {
			o.subscribers[idx] = nil
		}
	}
}

func (o *fakeObject) applyChange(v lkdbus.Value) {
	o.mu.Lock()
	o.value = v
	o.hasValue = true
	subs := make([]lkdbus.ChangeFunc, len(o.subscribers))
	copy(subs, o.subscribers)
	o.mu.Unlock()

	for _, fn := range subs {
		if fn != nil {
			fn(o.id, v)
		}
	}
}
