package service

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionLocks_SerializesPerSession(t *testing.T) {
	locks := newSessionLocks()
	var wg sync.WaitGroup
	counter := map[string]*int{"s1": new(int), "s2": new(int)}

	for i := 0; i < 50; i++ {
		for _, id := range []string{"s1", "s2"} {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				unlock := locks.Lock(id)
				defer unlock()
				// 同一会话内的读改写不会交错
				v := *counter[id]
				*counter[id] = v + 1
			}(id)
		}
	}
	wg.Wait()

	assert.Equal(t, 50, *counter["s1"])
	assert.Equal(t, 50, *counter["s2"])
	assert.Equal(t, 0, locks.size(), "idle locks are released")
}
