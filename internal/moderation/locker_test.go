package moderation

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	m := NewKeyedMutex()

	var active, maxActive int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := m.Lock(context.Background(), "A")
			if err != nil {
				t.Errorf("lock: %v", err)
				return
			}
			n := atomic.AddInt32(&active, 1)
			for {
				cur := atomic.LoadInt32(&maxActive)
				if n <= cur || atomic.CompareAndSwapInt32(&maxActive, cur, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxActive)
	assert.Equal(t, 0, m.size(), "entries are dropped after the last holder leaves")
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	m := NewKeyedMutex()
	unlockA, err := m.Lock(context.Background(), "A")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := m.Lock(ctx, "B")
	require.NoError(t, err, "a held key must not block another key")
	assert.Equal(t, 2, m.size())

	unlockB()
	unlockA()
	unlockA()
	assert.Equal(t, 0, m.size())
}

func TestKeyedMutexHonorsContext(t *testing.T) {
	m := NewKeyedMutex()
	unlock, err := m.Lock(context.Background(), "A")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = m.Lock(ctx, "A")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	assert.Equal(t, 0, m.size())
}

func TestRedisLockerReportsConnectionErrors(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	l := NewRedisLocker(client, time.Second, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := l.Lock(ctx, "A")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "acquire lock A")
}

func TestNewRedisLockerDefaults(t *testing.T) {
	l := NewRedisLocker(nil, 0, nil)
	assert.Equal(t, 30*time.Second, l.ttl)
	assert.Equal(t, "curator:lock:", l.prefix)
	assert.NotNil(t, l.logger)
}
