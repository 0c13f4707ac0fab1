package service

import "sync"

// KeyedMutex provides one mutex per business so metadata and graph updates
// for different businesses never block each other. The processor, sync
// manager and business service must share one instance.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewKeyedMutex creates an empty lock set.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*sync.Mutex)}
}

func (k *KeyedMutex) get(key string) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()
	if m, ok := k.locks[key]; ok {
		return m
	}
	m := &sync.Mutex{}
	k.locks[key] = m
	return m
}

// Lock blocks until the per-key mutex is held.
func (k *KeyedMutex) Lock(key string) {
	k.get(key).Lock()
}

// TryLock attempts to take the per-key mutex without blocking.
func (k *KeyedMutex) TryLock(key string) bool {
	return k.get(key).TryLock()
}

// Unlock releases the per-key mutex.
func (k *KeyedMutex) Unlock(key string) {
	k.get(key).Unlock()
}
