package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Finding-Finance-Association/website-sub000/internal/docstore"
)

// Document field names of a stored progress record.
const (
	fieldCompletedModules = "completedModules"
	fieldActiveModule     = "activeModule"
	fieldActiveTab        = "activeTab"
	fieldUserInputs       = "userInputs"
	fieldLastUpdated      = "lastUpdated"
)

// Gateway stores one progress document per (user, course) at
// users/{userID}/courseProgress/{courseID}.
type Gateway struct {
	store docstore.DocumentStore
}

// NewGateway creates a gateway over a document store.
func NewGateway(store docstore.DocumentStore) *Gateway {
	return &Gateway{store: store}
}

// DocumentPath returns the document path of a user's course progress.
func DocumentPath(userID, courseID string) (docstore.Path, error) {
	return docstore.Join("users", userID, "courseProgress", courseID)
}

func collectionPath(userID string) (docstore.Path, error) {
	return docstore.Join("users", userID, "courseProgress")
}

// Write merge-upserts the full record, including its LastUpdated stamp.
// Writing the same record twice leaves the document unchanged.
func (g *Gateway) Write(ctx context.Context, userID, courseID string, rec Record) error {
	path, err := DocumentPath(userID, courseID)
	if err != nil {
		return err
	}

	fields, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	if err := g.store.Set(ctx, path, fields); err != nil {
		return fmt.Errorf("write progress %s: %w", path, err)
	}
	return nil
}

// Read returns the stored progress. A missing document is not an error: it
// yields an empty default with Exists false.
func (g *Gateway) Read(ctx context.Context, userID, courseID string) (Remote, error) {
	path, err := DocumentPath(userID, courseID)
	if err != nil {
		return Remote{}, err
	}

	fields, err := g.store.Get(ctx, path)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return Remote{
				CompletedModules: ModuleSet{},
				UserInputs:       map[string]string{},
			}, nil
		}
		return Remote{}, fmt.Errorf("read progress %s: %w", path, err)
	}

	return decodeRemote(fields)
}

// ReadAll returns every stored course progress document of a user.
func (g *Gateway) ReadAll(ctx context.Context, userID string) (map[string]Remote, error) {
	col, err := collectionPath(userID)
	if err != nil {
		return nil, err
	}

	docs, err := g.store.List(ctx, col)
	if err != nil {
		return nil, fmt.Errorf("list progress %s: %w", col, err)
	}

	out := make(map[string]Remote, len(docs))
	for courseID, fields := range docs {
		remote, err := decodeRemote(fields)
		if err != nil {
			return nil, fmt.Errorf("course %s: %w", courseID, err)
		}
		out[courseID] = remote
	}
	return out, nil
}

func encodeRecord(rec Record) (docstore.Fields, error) {
	inputs := rec.UserInputs
	if inputs == nil {
		inputs = map[string]string{}
	}
	tab := rec.ActiveTab
	if tab == "" {
		tab = TabLesson
	}

	values := map[string]any{
		fieldCompletedModules: rec.CompletedModules.Sorted(),
		fieldActiveModule:     rec.ActiveModule,
		fieldActiveTab:        tab,
		fieldUserInputs:       inputs,
		fieldLastUpdated:      rec.LastUpdated,
	}

	fields := make(docstore.Fields, len(values))
	for k, v := range values {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", k, err)
		}
		fields[k] = raw
	}
	return fields, nil
}

func decodeRemote(fields docstore.Fields) (Remote, error) {
	r := Remote{Exists: true}

	if raw, ok := fields[fieldCompletedModules]; ok {
		var indices []int
		if err := json.Unmarshal(raw, &indices); err != nil {
			return Remote{}, fmt.Errorf("decode %s: %w", fieldCompletedModules, err)
		}
		r.CompletedModules = NewModuleSet(indices...)
	}
	if raw, ok := fields[fieldActiveModule]; ok {
		var m int
		if err := json.Unmarshal(raw, &m); err != nil {
			return Remote{}, fmt.Errorf("decode %s: %w", fieldActiveModule, err)
		}
		r.ActiveModule = &m
	}
	if raw, ok := fields[fieldActiveTab]; ok {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Remote{}, fmt.Errorf("decode %s: %w", fieldActiveTab, err)
		}
		tab, err := ParseTab(s)
		if err != nil {
			return Remote{}, fmt.Errorf("decode %s: %w", fieldActiveTab, err)
		}
		r.ActiveTab = &tab
	}
	if raw, ok := fields[fieldUserInputs]; ok {
		inputs := map[string]string{}
		if err := json.Unmarshal(raw, &inputs); err != nil {
			return Remote{}, fmt.Errorf("decode %s: %w", fieldUserInputs, err)
		}
		if inputs == nil {
			inputs = map[string]string{}
		}
		r.UserInputs = inputs
	}
	if raw, ok := fields[fieldLastUpdated]; ok {
		if err := json.Unmarshal(raw, &r.LastUpdated); err != nil {
			return Remote{}, fmt.Errorf("decode %s: %w", fieldLastUpdated, err)
		}
	}

	return r, nil
}
