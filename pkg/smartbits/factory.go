package smartbits

import (
	"sort"
	"sync"

	"github.com/sage3/foresight/errors"
	"github.com/sage3/foresight/pkg/models"
)

// Constructor builds a SmartBit from its first document.
type Constructor func(doc models.Document, data models.AppData, rt Runtime) (SmartBit, error)

// Factory maps an app type to its constructor. Variants are registered
// explicitly at startup.
type Factory struct {
	rt Runtime

	mu    sync.RWMutex
	ctors map[string]Constructor
}

// NewFactory returns an empty factory whose instances share rt.
func NewFactory(rt Runtime) *Factory {
	return &Factory{
		rt:    rt,
		ctors: make(map[string]Constructor),
	}
}

// NewDefaultFactory returns a factory with every built-in variant.
func NewDefaultFactory(rt Runtime) *Factory {
	f := NewFactory(rt)
	RegisterDefaults(f)
	return f
}

// Register adds or replaces the constructor for appType.
func (f *Factory) Register(appType string, ctor Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctors[appType] = ctor
}

// New constructs the SmartBit for doc. An unregistered type yields
// UNKNOWN_VARIANT.
func (f *Factory) New(doc models.Document) (SmartBit, error) {
	data, err := doc.App()
	if err != nil {
		return nil, errors.Malformed(doc.ID, err)
	}

	f.mu.RLock()
	ctor, ok := f.ctors[data.Type]
	f.mu.RUnlock()
	if !ok {
		return nil, errors.UnknownVariant(data.Type).WithDetail("app_id", doc.ID)
	}
	return ctor(doc, data, f.rt)
}

// Types lists the registered app types in sorted order.
func (f *Factory) Types() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	types := make([]string, 0, len(f.ctors))
	for t := range f.ctors {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Variant turns a state type and action table into a Constructor.
func Variant[S any](appType string, actions map[string]Action[S]) Constructor {
	return func(doc models.Document, data models.AppData, rt Runtime) (SmartBit, error) {
		app, err := newApp(appType, doc, data, rt, actions)
		if err != nil {
			return nil, err
		}
		return app, nil
	}
}
