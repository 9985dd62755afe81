package cache

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kingrea/bedtime/internal/planner"
)

// StateKey is the single key holding the serialized plan.
const StateKey = "sleep_tasks_v1"

// StateCache reads and writes the shared document under StateKey.
type StateCache struct {
	store      Store
	normalizer planner.Normalizer
}

// NewStateCache wraps store. normalizer converts whatever was cached into a
// well-formed State.
func NewStateCache(store Store, normalizer planner.Normalizer) *StateCache {
	return &StateCache{store: store, normalizer: normalizer}
}

// Load returns the cached plan, normalized. A missing or unreadable entry is
// not an error: the default plan is returned and ok is false.
func (c *StateCache) Load() (state planner.State, ok bool) {
	raw, err := c.store.Get(StateKey)
	if err != nil {
		return c.normalizer.Normalize(nil), false
	}
	return c.normalizer.Normalize(json.RawMessage(raw)), true
}

// Save replaces the cached plan.
func (c *StateCache) Save(state planner.State) error {
	if state.Tasks == nil {
		state.Tasks = []planner.Task{}
	}
	encoded, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("cache: encode state: %w", err)
	}
	return c.store.Set(StateKey, encoded)
}

// Clear removes the cached plan.
func (c *StateCache) Clear() error {
	err := c.store.Delete(StateKey)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}
