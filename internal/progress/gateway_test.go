package progress_test

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"slices"
	"testing"

	"github.com/Finding-Finance-Association/website-sub000/internal/docstore"
	"github.com/Finding-Finance-Association/website-sub000/internal/progress"
)

func sampleRecord() progress.Record {
	return progress.Record{
		CompletedModules: progress.NewModuleSet(2, 0),
		ActiveModule:     2,
		ActiveTab:        progress.TabQuiz,
		UserInputs:       map[string]string{"b1": "answer"},
		LastUpdated:      1700000000000,
	}
}

func TestDocumentPath(t *testing.T) {
	p, err := progress.DocumentPath("u1", "c1")
	if err != nil {
		t.Fatalf("DocumentPath() error = %v", err)
	}
	if p != "users/u1/courseProgress/c1" {
		t.Errorf("DocumentPath() = %q", p)
	}
	if _, err := progress.DocumentPath("", "c1"); err == nil {
		t.Error("DocumentPath() should reject an empty user ID")
	}
}

func TestGateway_ReadMissingReturnsDefault(t *testing.T) {
	g := progress.NewGateway(docstore.NewMemoryStore())

	r, err := g.Read(t.Context(), "u1", "c1")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if r.Exists {
		t.Error("Exists = true, want false")
	}
	if r.CompletedModules == nil || r.CompletedModules.Len() != 0 {
		t.Errorf("CompletedModules = %v, want empty set", r.CompletedModules)
	}
	if r.UserInputs == nil || len(r.UserInputs) != 0 {
		t.Errorf("UserInputs = %v, want empty map", r.UserInputs)
	}
}

func TestGateway_WriteThenRead(t *testing.T) {
	g := progress.NewGateway(docstore.NewMemoryStore())
	rec := sampleRecord()

	if err := g.Write(t.Context(), "u1", "c1", rec); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	r, err := g.Read(t.Context(), "u1", "c1")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if !r.Exists {
		t.Fatal("Exists = false after write")
	}
	got := r.Record()
	if !slices.Equal(got.CompletedModules.Sorted(), []int{0, 2}) {
		t.Errorf("CompletedModules = %v", got.CompletedModules.Sorted())
	}
	if got.ActiveModule != 2 || got.ActiveTab != progress.TabQuiz {
		t.Errorf("active = %d/%q, want 2/quiz", got.ActiveModule, got.ActiveTab)
	}
	if got.UserInputs["b1"] != "answer" || got.LastUpdated != rec.LastUpdated {
		t.Errorf("record = %+v", got)
	}
}

func TestGateway_WriteIsIdempotent(t *testing.T) {
	store := docstore.NewMemoryStore()
	g := progress.NewGateway(store)
	path, _ := progress.DocumentPath("u1", "c1")

	_ = g.Write(t.Context(), "u1", "c1", sampleRecord())
	once, _ := store.Get(t.Context(), path)

	_ = g.Write(t.Context(), "u1", "c1", sampleRecord())
	twice, _ := store.Get(t.Context(), path)

	if !reflect.DeepEqual(once, twice) {
		t.Errorf("second write changed document:\n once=%v\ntwice=%v", once, twice)
	}
}

func TestGateway_WritePreservesForeignFields(t *testing.T) {
	store := docstore.NewMemoryStore()
	g := progress.NewGateway(store)
	path, _ := progress.DocumentPath("u1", "c1")

	_ = store.Set(t.Context(), path, docstore.Fields{"certificateIssued": json.RawMessage(`true`)})
	_ = g.Write(t.Context(), "u1", "c1", sampleRecord())

	doc, _ := store.Get(t.Context(), path)
	if string(doc["certificateIssued"]) != "true" {
		t.Error("merge write dropped a field it did not supply")
	}
}

func TestGateway_ReadFieldPresence(t *testing.T) {
	store := docstore.NewMemoryStore()
	g := progress.NewGateway(store)
	path, _ := progress.DocumentPath("u1", "c1")

	_ = store.Set(t.Context(), path, docstore.Fields{"completedModules": json.RawMessage(`[1]`)})

	r, err := g.Read(t.Context(), "u1", "c1")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if r.ActiveModule != nil || r.ActiveTab != nil || r.UserInputs != nil {
		t.Errorf("absent fields decoded as present: %+v", r)
	}
	if !r.CompletedModules.Has(1) {
		t.Error("completedModules not decoded")
	}
}

func TestGateway_ReadRejectsBadTab(t *testing.T) {
	store := docstore.NewMemoryStore()
	path, _ := progress.DocumentPath("u1", "c1")
	_ = store.Set(t.Context(), path, docstore.Fields{"activeTab": json.RawMessage(`"video"`)})

	if _, err := progress.NewGateway(store).Read(t.Context(), "u1", "c1"); err == nil {
		t.Error("Read() should reject an unknown tab")
	}
}

func TestGateway_ReadAll(t *testing.T) {
	g := progress.NewGateway(docstore.NewMemoryStore())
	_ = g.Write(t.Context(), "u1", "c1", sampleRecord())
	_ = g.Write(t.Context(), "u1", "c2", progress.NewRecord())
	_ = g.Write(t.Context(), "u2", "c3", progress.NewRecord())

	all, err := g.ReadAll(t.Context(), "u1")
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("ReadAll() returned %d courses, want 2", len(all))
	}
	if !all["c1"].CompletedModules.Has(2) {
		t.Error("c1 progress not returned")
	}
}

type failingStore struct{ docstore.DocumentStore }

func (failingStore) Get(context.Context, docstore.Path) (docstore.Fields, error) {
	return nil, errors.New("unavailable")
}

func TestGateway_ReadPropagatesStoreErrors(t *testing.T) {
	g := progress.NewGateway(failingStore{docstore.NewMemoryStore()})
	if _, err := g.Read(t.Context(), "u1", "c1"); err == nil {
		t.Error("Read() should return store errors other than not-found")
	}
}
