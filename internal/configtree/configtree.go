// Package configtree implements the per-module layered config tree of spec
// §4.9: a dotted-path mapping merged deepest-first from base defaults,
// module-type defaults, persisted overrides, and environment overrides,
// with `_`-prefixed read-only keys and diff-on-set_all change notification.
// Persisted overrides are loaded through spf13/viper (the teacher's config
// layering library), the same way the teacher's own config.Load composes a
// base file with environment overrides; the dotted-path get/set/diff API
// itself is a thin layer SAVIOUR owns on top since spec §4.9 needs
// key-path-level diffing viper doesn't provide out of the box.
package configtree

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/google/renameio/v2"
	"github.com/spf13/viper"
)

// Tree is a layered, dotted-path config store (spec §4.9).
type Tree struct {
	mu sync.RWMutex

	baseDefaults map[string]any
	typeDefaults map[string]any
	overrides    map[string]any
	envOverrides map[string]any

	merged map[string]any // recomputed on every mutation

	persistPath string

	subMu       sync.Mutex
	subscribers []chan Diff
}

// Diff is the set of dotted key paths changed by a set_all call (spec
// §4.9).
type Diff struct {
	Changed map[string]any
}

// New creates a Tree. persistPath is where the persisted-overrides layer is
// loaded from and written back to on `set(path, value, persist=true)`.
func New(baseDefaults, typeDefaults, envOverrides map[string]any, persistPath string) (*Tree, error) {
	t := &Tree{
		baseDefaults: cloneMap(baseDefaults),
		typeDefaults: cloneMap(typeDefaults),
		envOverrides: cloneMap(envOverrides),
		overrides:    make(map[string]any),
		persistPath:  persistPath,
	}
	if persistPath != "" {
		v := viper.New()
		v.SetConfigFile(persistPath)
		if err := v.ReadInConfig(); err != nil {
			if !isNotExist(err) {
				return nil, fmt.Errorf("configtree: load persisted overrides: %w", err)
			}
		} else {
			t.overrides = v.AllSettings()
		}
	}
	t.recompute()
	return t, nil
}

func isNotExist(err error) bool {
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		return true
	}
	return os.IsNotExist(err)
}

// recompute merges layers deepest-first: base defaults -> type defaults ->
// persisted overrides -> environment overrides (spec §4.9).
func (t *Tree) recompute() {
	merged := make(map[string]any)
	mergeInto(merged, t.baseDefaults)
	mergeInto(merged, t.typeDefaults)
	mergeInto(merged, t.overrides)
	mergeInto(merged, t.envOverrides)
	t.merged = merged
}

// Get returns the effective value at a dotted path.
func (t *Tree) Get(path string) (any, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return lookup(t.merged, path)
}

// GetAll returns a deep copy of the effective merged tree (spec §4.9
// get_all()).
func (t *Tree) GetAll() map[string]any {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return cloneMap(t.merged)
}

// Set writes one dotted path into the overrides layer, rejecting `_`-prefix
// keys (spec §4.9), and persists the merged tree if persist is true.
func (t *Tree) Set(path string, value any, persist bool) error {
	if isReadOnlyPath(path) {
		return fmt.Errorf("configtree: key %q is read-only", path)
	}
	t.mu.Lock()
	before := cloneMap(t.merged)
	setPath(t.overrides, path, value)
	t.recompute()
	after := t.merged
	changed := diffPaths(before, after)
	persistPath := t.persistPath
	mergedSnapshot := cloneMap(after)
	t.mu.Unlock()

	if persist && persistPath != "" {
		if err := t.persistTo(persistPath, mergedSnapshot); err != nil {
			return err
		}
	}
	if len(changed) > 0 {
		t.notify(Diff{Changed: changed})
	}
	return nil
}

// SetAll replaces the overrides layer with dict. `_`-prefixed keys are
// read-only: they are silently dropped from the new overrides layer (they
// live in the base/type-defaults layers, not in persisted overrides) as
// long as the caller didn't try to actually change their value, which
// keeps set_all(get_all()) a true no-op (spec §8); an attempt to change one
// is rejected. The diff against the previous merged tree is emitted as a
// single event to subscribers (spec §4.9).
func (t *Tree) SetAll(dict map[string]any) (Diff, error) {
	flat := flatten(dict, "")

	t.mu.Lock()
	current := t.merged
	mutable := make(map[string]any, len(flat))
	for path, v := range flat {
		if isReadOnlyPath(path) {
			cur, _ := lookup(current, path)
			if !equalLeaf(cur, v) {
				t.mu.Unlock()
				return Diff{}, fmt.Errorf("configtree: key %q is read-only", path)
			}
			continue
		}
		mutable[path] = v
	}

	before := cloneMap(t.merged)
	t.overrides = unflatten(mutable)
	t.recompute()
	after := t.merged
	changed := diffPaths(before, after)
	t.mu.Unlock()

	if len(changed) > 0 {
		t.notify(Diff{Changed: changed})
	}
	return Diff{Changed: changed}, nil
}

func (t *Tree) persistTo(path string, merged map[string]any) error {
	data, err := marshalTOMLCompatible(merged)
	if err != nil {
		return fmt.Errorf("configtree: marshal for persist: %w", err)
	}
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("configtree: persist: %w", err)
	}
	return nil
}

// Subscribe registers a channel that receives every SetAll/Set diff.
func (t *Tree) Subscribe() (<-chan Diff, func()) {
	ch := make(chan Diff, 16)
	t.subMu.Lock()
	t.subscribers = append(t.subscribers, ch)
	idx := len(t.subscribers) - 1
	t.subMu.Unlock()

	cancel := func() {
		t.subMu.Lock()
		defer t.subMu.Unlock()
		if idx < len(t.subscribers) {
			t.subscribers[idx] = nil
		}
	}
	return ch, cancel
}

func (t *Tree) notify(d Diff) {
	t.subMu.Lock()
	defer t.subMu.Unlock()
	for _, ch := range t.subscribers {
		if ch == nil {
			continue
		}
		select {
		case ch <- d:
		default:
		}
	}
}

func isReadOnlyPath(path string) bool {
	for _, part := range strings.Split(path, ".") {
		if strings.HasPrefix(part, "_") {
			return true
		}
	}
	return false
}
