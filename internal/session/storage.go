package session

import (
	"path/filepath"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/Finding-Finance-Association/website-sub000/internal/platform/cache"
	"github.com/Finding-Finance-Association/website-sub000/internal/progress"
)

// FileStorage stores each client's progress in {dir}/{clientID}.json.
func FileStorage(dir string) StorageFactory {
	return func(clientID string) (progress.Storage, error) {
		return progress.NewFileStorage(filepath.Join(dir, clientID+".json")), nil
	}
}

// RedisStorage stores each client's progress under progress:local:{clientID}.
func RedisStorage(client redis.UniversalClient) StorageFactory {
	return func(clientID string) (progress.Storage, error) {
		return progress.NewRedisStorage(client, cache.Key("local", clientID)), nil
	}
}

// MemoryStorage keeps each client's progress in memory for the life of the
// factory, so a reconnecting client finds its progress again.
func MemoryStorage() StorageFactory {
	var mu sync.Mutex
	stores := make(map[string]*progress.MemoryStorage)
	return func(clientID string) (progress.Storage, error) {
		mu.Lock()
		defer mu.Unlock()
		s, ok := stores[clientID]
		if !ok {
			s = progress.NewMemoryStorage()
			stores[clientID] = s
		}
		return s, nil
	}
}
