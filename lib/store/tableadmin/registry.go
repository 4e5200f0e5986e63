package tableadmin

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Table describes one registered table.
type Table struct {
	Name    string `json:"name"`
	ShardID uint64 `json:"shardId"`
}

// Registry is a small JSON-file-backed set of known tables. It is safe for
// concurrent use.
type Registry struct {
	mu   sync.Mutex
	path string
}

// Open loads (or creates) a registry backed by the file at path.
func Open(path string) (*Registry, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("tableadmin: failed to create registry directory: %w", err)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.WriteFile(path, []byte("[]"), 0o644); err != nil {
			return nil, fmt.Errorf("tableadmin: failed to initialize registry: %w", err)
		}
	}
	return &Registry{path: path}, nil
}

func (r *Registry) load() ([]Table, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return nil, err
	}
	var tables []Table
	if err := json.Unmarshal(data, &tables); err != nil {
		return nil, err
	}
	return tables, nil
}

func (r *Registry) save(tables []Table) error {
	data, err := json.MarshalIndent(tables, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(r.path, data, 0o644)
}

// Create registers a new table with the given name, assigning it shardID.
// Returns an error if a table with that name already exists.
func (r *Registry) Create(name string, shardID uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tables, err := r.load()
	if err != nil {
		return err
	}
	for _, t := range tables {
		if t.Name == name {
			return fmt.Errorf("table %q already exists", name)
		}
	}
	tables = append(tables, Table{Name: name, ShardID: shardID})
	return r.save(tables)
}

// Delete removes the table with the given name. Returns an error if it does
// not exist.
func (r *Registry) Delete(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tables, err := r.load()
	if err != nil {
		return err
	}
	out := tables[:0]
	found := false
	for _, t := range tables {
		if t.Name == name {
			found = true
			continue
		}
		out = append(out, t)
	}
	if !found {
		return fmt.Errorf("table %q does not exist", name)
	}
	return r.save(out)
}

// List returns every registered table.
func (r *Registry) List() ([]Table, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.load()
}

// Lookup returns the table registered under name, if any.
func (r *Registry) Lookup(name string) (Table, bool, error) {
	tables, err := r.List()
	if err != nil {
		return Table{}, false, err
	}
	for _, t := range tables {
		if t.Name == name {
			return t, true, nil
		}
	}
	return Table{}, false, nil
}
