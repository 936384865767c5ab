package publicapi

import (
	"sort"
	"sync"

	"github.com/mikeydub/go-activity/service/persist"
)

// Action describes one kind of activity a component records.
type Action struct {
	Component   string `json:"component"`
	Key         string `json:"key"`
	Description string `json:"description"`
}

// ActionRegistry lists the activity kinds each component records. Build one at startup and pass
// it to New.
type ActionRegistry struct {
	mu      sync.RWMutex
	actions map[string]map[string]Action
}

// NewActionRegistry returns a registry holding the activity component's own actions.
func NewActionRegistry() *ActionRegistry {
	r := &ActionRegistry{actions: map[string]map[string]Action{}}
	r.Register(persist.ComponentActivity, persist.ActivityTypeUpdate, "Posted a status update")
	r.Register(persist.ComponentActivity, persist.ActivityTypeComment, "Replied to a status update")
	return r
}

// Register adds or replaces an action. Blank components or keys are ignored.
func (r *ActionRegistry) Register(component, key, description string) {
	if component == "" || key == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.actions[component] == nil {
		r.actions[component] = map[string]Action{}
	}
	r.actions[component][key] = Action{Component: component, Key: key, Description: description}
}

func (r *ActionRegistry) Lookup(component, key string) (Action, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actions[component][key]
	return a, ok
}

// All returns every registered action ordered by component then key.
func (r *ActionRegistry) All() []Action {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var all []Action
	for _, byKey := range r.actions {
		for _, a := range byKey {
			all = append(all, a)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Component != all[j].Component {
			return all[i].Component < all[j].Component
		}
		return all[i].Key < all[j].Key
	})
	return all
}
