package reportstore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fieldcam/camctl/internal/archiver"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(dir, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return s
}

func sampleReport(id string, start time.Time) Report {
	return Report{
		ID:        id,
		SessionID: "session-" + id,
		Title:     "t",
		Status:    "completed",
		StartTime: start,
		EndTime:   start.Add(time.Minute),
		Results: Results{
			ImagesCaptured:   3,
			ImagesSuccessful: 3,
		},
		Metadata: Metadata{SavedAt: start.Add(time.Minute), Version: 1, CompletionReason: "shot limit reached"},
	}
}

func TestSaveThenGetRoundTrips(t *testing.T) {
	s := newTestStore(t)
	r := sampleReport("r1", time.Now())

	if err := s.Save(r); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := s.Get("r1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.ID != r.ID || got.SessionID != r.SessionID || got.Results.ImagesCaptured != 3 {
		t.Errorf("Get() = %+v, want it to match saved report", got)
	}
}

func TestListOrdersByStartTimeDescending(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	s.Save(sampleReport("old", now.Add(-time.Hour)))
	s.Save(sampleReport("new", now))
	s.Save(sampleReport("middle", now.Add(-30*time.Minute)))

	list := s.List()
	if len(list) != 3 {
		t.Fatalf("List() len = %d, want 3", len(list))
	}
	if list[0].ID != "new" || list[1].ID != "middle" || list[2].ID != "old" {
		t.Errorf("List() order = %v, %v, %v, want new, middle, old", list[0].ID, list[1].ID, list[2].ID)
	}
}

func TestUpdateTitleChangesOnlyTitle(t *testing.T) {
	s := newTestStore(t)
	r := sampleReport("r1", time.Now())
	s.Save(r)

	if err := s.UpdateTitle("r1", "renamed"); err != nil {
		t.Fatalf("UpdateTitle() error = %v", err)
	}

	got, _ := s.Get("r1")
	if got.Title != "renamed" {
		t.Errorf("Title = %q, want %q", got.Title, "renamed")
	}
	if got.Results.ImagesCaptured != r.Results.ImagesCaptured {
		t.Error("UpdateTitle should not alter other fields")
	}
}

func TestDeleteRemovesBlobAndIndex(t *testing.T) {
	dir := t.TempDir()
	s, _ := Open(dir, nil)
	r := sampleReport("r1", time.Now())
	s.Save(r)

	if err := s.Delete("r1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := s.Get("r1"); err == nil {
		t.Error("expected Get() to fail after Delete()")
	}

	if _, err := os.Stat(filepath.Join(dir, "r1.json")); err == nil {
		t.Error("expected the blob file to be removed from disk")
	}
}

func TestDeleteUnknownReturnsNotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.Delete("missing")
	if _, ok := err.(*NotFoundError); !ok {
		t.Errorf("err = %T, want *NotFoundError", err)
	}
}

func TestOpenReloadsExistingBlobs(t *testing.T) {
	dir := t.TempDir()
	s1, _ := Open(dir, nil)
	s1.Save(sampleReport("r1", time.Now()))

	s2, err := Open(dir, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if _, err := s2.Get("r1"); err != nil {
		t.Errorf("expected r1 to be loaded from disk, got error %v", err)
	}
}

func TestSaveSucceedsWithDisabledArchiver(t *testing.T) {
	dir := t.TempDir()
	arc := archiver.New(archiver.Config{Enabled: false}, nil)
	s, err := Open(dir, arc)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := s.Save(sampleReport("r1", time.Now())); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
}
