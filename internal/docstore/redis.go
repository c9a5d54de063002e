package docstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// pathField is stored in every document hash so empty writes still create
// the document; it is stripped on read.
const pathField = "_path"

var _ DocumentStore = (*RedisStore)(nil)

// RedisStore keeps each document in a Redis hash, one hash field per document
// field. HSET gives merge semantics directly. A set per collection indexes
// document IDs for List.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates a document store. prefix namespaces every key.
func NewRedisStore(client redis.UniversalClient, prefix string) (*RedisStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	return &RedisStore{client: client, prefix: prefix}, nil
}

func (s *RedisStore) docKey(p Path) string {
	return s.prefix + ":doc:" + string(p)
}

func (s *RedisStore) collectionKey(p Path) string {
	return s.prefix + ":col:" + string(p)
}

func (s *RedisStore) Get(ctx context.Context, path Path) (Fields, error) {
	if err := path.validDocument(); err != nil {
		return nil, err
	}

	vals, err := s.client.HGetAll(ctx, s.docKey(path)).Result()
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	if len(vals) == 0 {
		return nil, ErrNotFound
	}
	return hashToFields(vals), nil
}

func (s *RedisStore) Set(ctx context.Context, path Path, fields Fields) error {
	if err := path.validDocument(); err != nil {
		return err
	}

	values := make(map[string]any, len(fields)+1)
	values[pathField] = string(path)
	for k, v := range fields {
		if k == pathField {
			return fmt.Errorf("field name %q is reserved", pathField)
		}
		values[k] = string(v)
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.docKey(path), values)
		pipe.SAdd(ctx, s.collectionKey(path.Collection()), path.ID())
		return nil
	})
	if err != nil {
		return fmt.Errorf("set document: %w", err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context, collection Path) (map[string]Fields, error) {
	if err := collection.validCollection(); err != nil {
		return nil, err
	}

	ids, err := s.client.SMembers(ctx, s.collectionKey(collection)).Result()
	if err != nil {
		return nil, fmt.Errorf("list collection: %w", err)
	}

	cmds := make(map[string]*redis.MapStringStringCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range ids {
			cmds[id] = pipe.HGetAll(ctx, s.docKey(Path(string(collection)+"/"+id)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}

	out := make(map[string]Fields, len(ids))
	for id, cmd := range cmds {
		vals := cmd.Val()
		if len(vals) == 0 {
			continue
		}
		out[id] = hashToFields(vals)
	}
	return out, nil
}

func hashToFields(vals map[string]string) Fields {
	fields := make(Fields, len(vals))
	for k, v := range vals {
		if k == pathField {
			continue
		}
		fields[k] = json.RawMessage(v)
	}
	return fields
}
