// Package smartbits holds the live application instances shown on SAGE3
// boards. Each variant keeps a typed state decoded from the document store
// and exposes named actions.
package smartbits

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mitchellh/mapstructure"
	"github.com/sage3/foresight/errors"
	"github.com/sage3/foresight/pkg/kernel"
	"github.com/sage3/foresight/pkg/models"
)

// SmartBit is one live application instance.
type SmartBit interface {
	ID() string
	Type() string
	RoomID() string
	BoardID() string
	UpdatedAt() int64

	// State returns a copy of the current state in wire form.
	State() map[string]interface{}

	// ApplyUpdate merges a newer document into the instance. The returned
	// invocation is non-nil when the document asks for an action to run.
	ApplyUpdate(doc models.Document, data models.AppData) (*Invocation, error)

	// HandleAction runs a named action.
	HandleAction(ctx context.Context, name string, params map[string]interface{}) error
}

// Runtime is the process-wide context handed to every SmartBit. It is built
// once per run and torn down with it.
type Runtime interface {
	Execute(ctx context.Context, appID, kernelID, code string, cb kernel.Callback) (string, error)
	Publish(ctx context.Context, appID string, state map[string]interface{}) error
}

// Invocation is an action requested through the state's executeInfo field.
type Invocation struct {
	Action string
	Params map[string]interface{}
}

// Action is a named behavior of a variant with state S.
type Action[S any] func(ctx context.Context, app *App[S], params map[string]interface{}) error

// App is the generic SmartBit. Variants differ only by their state type and
// action table.
type App[S any] struct {
	id      string
	typ     string
	rt      Runtime
	actions map[string]Action[S]

	mu        sync.Mutex
	roomID    string
	boardID   string
	updatedAt int64
	state     S
}

func newApp[S any](typ string, doc models.Document, data models.AppData, rt Runtime, actions map[string]Action[S]) (*App[S], error) {
	a := &App[S]{
		id:        doc.ID,
		typ:       typ,
		rt:        rt,
		actions:   actions,
		roomID:    data.RoomID,
		boardID:   data.BoardID,
		updatedAt: doc.UpdatedAt,
	}
	if err := decodeState(data.State, &a.state); err != nil {
		return nil, errors.Malformed(doc.ID, err).WithDetail("type", typ)
	}
	return a, nil
}

func (a *App[S]) ID() string   { return a.id }
func (a *App[S]) Type() string { return a.typ }

func (a *App[S]) RoomID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.roomID
}

func (a *App[S]) BoardID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.boardID
}

func (a *App[S]) UpdatedAt() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.updatedAt
}

// Snapshot returns a copy of the typed state.
func (a *App[S]) Snapshot() S {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *App[S]) State() map[string]interface{} {
	m, err := encodeState(a.Snapshot())
	if err != nil {
		return map[string]interface{}{}
	}
	return m
}

func (a *App[S]) ApplyUpdate(doc models.Document, data models.AppData) (*Invocation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	// Decode into a copy so a bad document leaves the state untouched.
	next := a.state
	if err := decodeState(data.State, &next); err != nil {
		return nil, errors.Malformed(doc.ID, err).WithDetail("type", a.typ)
	}
	a.state = next
	if data.RoomID != "" {
		a.roomID = data.RoomID
	}
	if data.BoardID != "" {
		a.boardID = data.BoardID
	}
	a.updatedAt = doc.UpdatedAt

	return InvocationFrom(data.State), nil
}

func (a *App[S]) HandleAction(ctx context.Context, name string, params map[string]interface{}) error {
	action, ok := a.actions[name]
	if !ok {
		return errors.UnknownAction(a.typ, name)
	}
	if params == nil {
		params = map[string]interface{}{}
	}
	return action(ctx, a, params)
}

// Mutate applies fn to the state under the instance lock.
func (a *App[S]) Mutate(fn func(s *S)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fn(&a.state)
}

// Publish pushes the current state back to the document store. The
// executeInfo field is always cleared so the action is not run twice.
func (a *App[S]) Publish(ctx context.Context) error {
	if a.rt == nil {
		return nil
	}
	state := a.State()
	state["executeInfo"] = map[string]interface{}{"executeFunc": "", "params": map[string]interface{}{}}
	return a.rt.Publish(ctx, a.id, state)
}

// InvocationFrom extracts the action requested by a state's executeInfo
// field, or nil when none is pending.
func InvocationFrom(state map[string]interface{}) *Invocation {
	raw, ok := state["executeInfo"].(map[string]interface{})
	if !ok {
		return nil
	}
	fn, _ := raw["executeFunc"].(string)
	if fn == "" {
		return nil
	}
	params, _ := raw["params"].(map[string]interface{})
	return &Invocation{Action: fn, Params: params}
}

// decodeState merges the wire map into target. Keys missing from the map
// keep their current value.
func decodeState(state map[string]interface{}, target interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("failed to create state decoder: %w", err)
	}
	return decoder.Decode(state)
}

func encodeState(state interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return nil, err
	}
	m := make(map[string]interface{})
	err = json.Unmarshal(data, &m)
	return m, err
}
