package reportstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fieldcam/camctl/internal/archiver"
)

// NotFoundError means no report exists under the given ID.
type NotFoundError struct{ ID string }

func (e *NotFoundError) Error() string { return fmt.Sprintf("report %s not found", e.ID) }

// Store is an append-only set of reports, persisted one blob per report
// under dir/<uuid>.json, with an in-memory index kept consistent with disk.
// A save is atomic (write-to-temp + rename); list ordering is by StartTime
// descending; delete removes both the blob and the in-memory entry; a title
// update changes only the Title field. See spec.md §4.5.
type Store struct {
	dir      string
	archiver *archiver.Archiver

	mu      sync.RWMutex
	reports map[string]*Report
}

// Open loads all existing report blobs from dir into memory. dir is created
// if it does not exist. arc may be nil (no mirroring).
func Open(dir string, arc *archiver.Archiver) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create report dir: %w", err)
	}

	s := &Store{dir: dir, archiver: arc, reports: map[string]*Report{}}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read report dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		var r Report
		if err := json.Unmarshal(data, &r); err != nil {
			continue
		}
		s.reports[r.ID] = &r
	}

	return s, nil
}

// Save persists a report atomically and mirrors it off-device if an
// archiver is configured. Mirroring failure is logged by the archiver and
// never fails the save.
func (s *Store) Save(r Report) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	path := filepath.Join(s.dir, r.ID+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write temp report: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename temp report: %w", err)
	}

	s.mu.Lock()
	saved := r
	s.reports[r.ID] = &saved
	s.mu.Unlock()

	if s.archiver != nil {
		go s.archiver.Mirror(r.ID, data)
	}

	return nil
}

// List returns all reports ordered by StartTime descending.
func (s *Store) List() []Report {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Report, 0, len(s.reports))
	for _, r := range s.reports {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	return out
}

// Get returns a single report by ID.
func (s *Store) Get(id string) (Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.reports[id]
	if !ok {
		return Report{}, &NotFoundError{ID: id}
	}
	return *r, nil
}

// UpdateTitle changes only a report's Title field and re-saves it.
func (s *Store) UpdateTitle(id, title string) error {
	s.mu.Lock()
	r, ok := s.reports[id]
	if !ok {
		s.mu.Unlock()
		return &NotFoundError{ID: id}
	}
	updated := *r
	updated.Title = title
	s.mu.Unlock()

	return s.Save(updated)
}

// Delete removes a report's blob and its in-memory entry.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	_, ok := s.reports[id]
	if ok {
		delete(s.reports, id)
	}
	s.mu.Unlock()

	if !ok {
		return &NotFoundError{ID: id}
	}

	path := filepath.Join(s.dir, id+".json")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove report blob: %w", err)
	}
	return nil
}
