package utils

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyedMutexSerializesPerKey(t *testing.T) {
	var (
		locks KeyedMutex
		wg    sync.WaitGroup
		a, b  int
	)
	counters := map[string]*int{"a": &a, "b": &b}

	for i := 0; i < 50; i++ {
		for _, key := range []string{"a", "b"} {
			wg.Add(1)
			go func(key string) {
				defer wg.Done()
				unlock := locks.Lock(key)
				defer unlock()
				n := *counters[key]
				*counters[key] = n + 1
			}(key)
		}
	}
	wg.Wait()

	assert.Equal(t, 50, a)
	assert.Equal(t, 50, b)
	assert.Equal(t, 0, locks.Len())
}

func TestKeyedMutexReleasesEntries(t *testing.T) {
	var locks KeyedMutex

	unlock := locks.Lock("session-1")
	assert.Equal(t, 1, locks.Len())
	unlock()
	assert.Equal(t, 0, locks.Len())

	for i := 0; i < 100; i++ {
		locks.Lock(string(rune('a'+i%26)) + "-key")()
	}
	assert.Equal(t, 0, locks.Len())
}
