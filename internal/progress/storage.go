package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/xeipuuv/gojsonschema"
)

// ErrInvalidState is returned when a stored local progress entry does not
// match the expected shape.
var ErrInvalidState = errors.New("invalid local progress state")

// PersistedState is the subset of progress that survives a restart.
type PersistedState struct {
	CompletedModules map[string][]int             `json:"completedModules"`
	UserInputs       map[string]map[string]string `json:"userInputs"`
}

// Storage holds the single local progress entry of one client.
type Storage interface {
	// Load returns the stored state, or an empty state when nothing is stored.
	Load(ctx context.Context) (PersistedState, error)
	Save(ctx context.Context, state PersistedState) error
}

const stateSchema = `{
  "type": "object",
  "properties": {
    "completedModules": {
      "type": ["object", "null"],
      "additionalProperties": {
        "type": "array",
        "items": {"type": "integer", "minimum": 0}
      }
    },
    "userInputs": {
      "type": ["object", "null"],
      "additionalProperties": {
        "type": "object",
        "additionalProperties": {"type": "string"}
      }
    }
  }
}`

var stateValidator = mustSchema(stateSchema)

func mustSchema(src string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("compile schema: %v", err))
	}
	return s
}

// EncodeState serialises state for storage.
func EncodeState(state PersistedState) ([]byte, error) {
	if state.CompletedModules == nil {
		state.CompletedModules = map[string][]int{}
	}
	if state.UserInputs == nil {
		state.UserInputs = map[string]map[string]string{}
	}
	return json.Marshal(state)
}

// DecodeState validates and parses a stored entry.
func DecodeState(data []byte) (PersistedState, error) {
	res, err := stateValidator.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return PersistedState{}, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	if !res.Valid() {
		msgs := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			msgs = append(msgs, e.String())
		}
		return PersistedState{}, fmt.Errorf("%w: %s", ErrInvalidState, strings.Join(msgs, "; "))
	}

	var state PersistedState
	if err := json.Unmarshal(data, &state); err != nil {
		return PersistedState{}, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	if state.CompletedModules == nil {
		state.CompletedModules = map[string][]int{}
	}
	if state.UserInputs == nil {
		state.UserInputs = map[string]map[string]string{}
	}
	return state, nil
}

func emptyState() PersistedState {
	return PersistedState{
		CompletedModules: map[string][]int{},
		UserInputs:       map[string]map[string]string{},
	}
}

var _ Storage = (*FileStorage)(nil)

// FileStorage keeps the entry in one JSON file, replaced atomically on save.
type FileStorage struct {
	path string
}

// NewFileStorage stores the entry at path. Parent directories are created
// on first save.
func NewFileStorage(path string) *FileStorage {
	return &FileStorage{path: path}
}

func (s *FileStorage) Load(_ context.Context) (PersistedState, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return emptyState(), nil
		}
		return PersistedState{}, fmt.Errorf("reading local progress: %w", err)
	}
	return DecodeState(data)
}

func (s *FileStorage) Save(_ context.Context, state PersistedState) error {
	data, err := EncodeState(state)
	if err != nil {
		return fmt.Errorf("marshaling local progress: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating progress directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing local progress: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replacing local progress: %w", err)
	}
	return nil
}

var _ Storage = (*RedisStorage)(nil)

// RedisStorage keeps the entry under one Redis key.
type RedisStorage struct {
	client redis.UniversalClient
	key    string
}

// NewRedisStorage stores the entry at key.
func NewRedisStorage(client redis.UniversalClient, key string) *RedisStorage {
	return &RedisStorage{client: client, key: key}
}

func (s *RedisStorage) Load(ctx context.Context) (PersistedState, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return emptyState(), nil
		}
		return PersistedState{}, fmt.Errorf("reading local progress: %w", err)
	}
	return DecodeState(data)
}

func (s *RedisStorage) Save(ctx context.Context, state PersistedState) error {
	data, err := EncodeState(state)
	if err != nil {
		return fmt.Errorf("marshaling local progress: %w", err)
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("writing local progress: %w", err)
	}
	return nil
}

var _ Storage = (*MemoryStorage)(nil)

// MemoryStorage keeps the encoded entry in memory. It stands in for a
// client's local storage in tests and survives Cache re-creation, which is
// how a reload is simulated.
type MemoryStorage struct {
	mu    sync.Mutex
	data  []byte
	saves int
	// Err, when set, is returned by Save.
	Err error
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

func (s *MemoryStorage) Load(_ context.Context) (PersistedState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return emptyState(), nil
	}
	return DecodeState(s.data)
}

func (s *MemoryStorage) Save(_ context.Context, state PersistedState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	data, err := EncodeState(state)
	if err != nil {
		return err
	}
	s.data = data
	s.saves++
	return nil
}

// SetRaw replaces the stored bytes, e.g. to simulate a corrupt entry.
func (s *MemoryStorage) SetRaw(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = data
}

// Saves returns the number of successful saves.
func (s *MemoryStorage) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}
