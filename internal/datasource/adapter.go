package datasource

import (
	"context"
	"sort"
	"sync"

	"oracle-service/internal/models"
)

// Adapter fetches one reading for one condition type. Implementations are
// read-only and safe to call repeatedly with the same query.
type Adapter interface {
	Name() string
	ConditionType() models.ConditionType
	Fetch(ctx context.Context, q models.Query) (models.Reading, error)
}

// Registry maps condition types to the adapters that can serve them.
// Weather may have several independent sources; flight status should have
// exactly one authoritative adapter.
type Registry struct {
	mu       sync.RWMutex
	adapters map[models.ConditionType][]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[models.ConditionType][]Adapter)}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.ConditionType()] = append(r.adapters[a.ConditionType()], a)
}

func (r *Registry) For(ct models.ConditionType) []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.adapters[ct]
	out := make([]Adapter, len(list))
	copy(out, list)
	return out
}

// Sources lists adapter names per condition type, for health output.
func (r *Registry) Sources() map[models.ConditionType][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[models.ConditionType][]string, len(r.adapters))
	for ct, list := range r.adapters {
		names := make([]string, 0, len(list))
		for _, a := range list {
			names = append(names, a.Name())
		}
		sort.Strings(names)
		out[ct] = names
	}
	return out
}
