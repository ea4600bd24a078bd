package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ogero/discogs-covers/internal/common"
	"golang.org/x/sync/singleflight"
)

var (
	badgerDB *badger.DB
	group    singleflight.Group
)

// Init opens the in-memory cache DB. Nothing is written to disk, everything is lost on Close.
func Init() error {
	if badgerDB != nil {
		return nil
	}

	db, err := badger.Open(
		badger.DefaultOptions("").
			WithInMemory(true).
			WithNumVersionsToKeep(1).
			WithLogger(&l{}),
	)
	if err != nil {
		return fmt.Errorf("failed to badger.Open: %w", err)
	}
	badgerDB = db

	return nil
}

// Memoize retrieves a cached value for the specified cacheKey.
// If the value is present and decodes into V, it is returned. Otherwise fn is called to compute the value,
// which is then stored in the cache with the specified ttl and returned. Errors returned by fn are not cached.
// Concurrent misses on the same cacheKey share a single fn call.
func Memoize[V any](cacheKey string, ttl time.Duration, fn func() (*V, error)) (*V, error) {

	if badgerDB == nil {
		return nil, errors.New("cache not initialized")
	}

	value, found, err := get[V](cacheKey)
	if err != nil {
		return nil, err
	} else if found {
		return value, nil
	}

	v, err, _ := group.Do(cacheKey, func() (any, error) {
		// A caller that just finished fn may have stored the value after our lookup.
		value, found, err := get[V](cacheKey)
		if err != nil {
			return nil, err
		} else if found {
			return value, nil
		}

		value, err = fn()
		if err != nil {
			return nil, err
		}

		err = badgerDB.Update(func(txn *badger.Txn) error {
			valueJSONBytes, err := json.Marshal(value)
			if err != nil {
				return fmt.Errorf("failed to json.Marshal: %w", err)
			}
			entry := badger.NewEntry([]byte(cacheKey), valueJSONBytes).WithTTL(ttl)
			return txn.SetEntry(entry)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to store on cache: %w", err)
		}

		return value, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*V), nil
}

func get[V any](cacheKey string) (*V, bool, error) {
	value := new(V)

	err := badgerDB.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(cacheKey))
		if err != nil {
			return err
		}

		err = item.Value(func(val []byte) error {
			return json.Unmarshal(val, value)
		})
		if err != nil {
			return fmt.Errorf("failed to json.Unmarshal: %w", err)
		}

		return nil
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	} else if err != nil {
		return nil, false, fmt.Errorf("failed to get from cache: %w", err)
	}

	return value, true, nil
}

// Close closes the cache DB. Calling it more than once is a no-op.
func Close() error {
	if badgerDB == nil {
		return nil
	}
	err := badgerDB.Close()
	badgerDB = nil
	return err
}

type l struct{}

func (l *l) Errorf(s string, i ...interface{}) {
	common.Log.Error(strings.TrimSpace(fmt.Sprintf(s, i...)), "component", "badger")
}

func (l *l) Warningf(s string, i ...interface{}) {
	common.Log.Warn(strings.TrimSpace(fmt.Sprintf(s, i...)), "component", "badger")
}

func (l *l) Infof(s string, i ...interface{}) {
	common.Log.Debug(strings.TrimSpace(fmt.Sprintf(s, i...)), "component", "badger")
}

func (l *l) Debugf(s string, i ...interface{}) {
	common.Log.Debug(strings.TrimSpace(fmt.Sprintf(s, i...)), "component", "badger")
}
