package cooldown

import (
	"context"
	"sync"
	"time"
)

// MemoryBackend is an in-process key/value tier with the failure modes of
// browser storage: a byte quota and an on/off switch. It keeps no TTL; expiry
// lives in the stored record.
type MemoryBackend struct {
	mu       sync.Mutex
	data     map[string]string
	quota    int
	disabled bool
}

// NewMemoryBackend returns a tier holding at most quota bytes of keys and
// values. quota <= 0 means unlimited.
func NewMemoryBackend(quota int) *MemoryBackend {
	return &MemoryBackend{data: map[string]string{}, quota: quota}
}

func (m *MemoryBackend) SetDisabled(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disabled = v
}

func (m *MemoryBackend) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disabled {
		return "", false, ErrUnavailable
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *MemoryBackend) Set(_ context.Context, key, value string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disabled {
		return ErrUnavailable
	}
	if m.quota > 0 {
		used := 0
		for k, v := range m.data {
			if k != key {
				used += len(k) + len(v)
			}
		}
		if used+len(key)+len(value) > m.quota {
			return ErrQuotaExceeded
		}
	}
	m.data[key] = value
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disabled {
		return ErrUnavailable
	}
	delete(m.data, key)
	return nil
}

// Len is the number of stored keys.
func (m *MemoryBackend) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}
