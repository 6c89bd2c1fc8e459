package inmemory

import (
	"context"
	"strings"
	"sync"
)

type subscriber struct {
	prefix string
	ch     chan struct{}
}

// KV is a process local store.KV, used by tests and dry runs.
type KV struct {
	mu          *sync.Mutex
	data        map[string]string
	subscribers map[*subscriber]struct{}
}

func NewKV() *KV {
	return &KV{
		data:        make(map[string]string, 128),
		subscribers: make(map[*subscriber]struct{}),
		mu:          &sync.Mutex{},
	}
}

// NewKVFrom returns a store holding a copy of data.
func NewKVFrom(data map[string]string) *KV {
	kv := NewKV()
	for k, v := range data {
		kv.data[k] = v
	}
	return kv
}

func (s *KV) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, ok := s.data[key]
	return value, ok, nil
}

func (s *KV) Put(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = value
	s.notify(key)
	return nil
}

func (s *KV) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data[key]; ok {
		delete(s.data, key)
		s.notify(key)
	}
	return nil
}

func (s *KV) DeletePrefix(ctx context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range s.data {
		if strings.HasPrefix(key, prefix) {
			delete(s.data, key)
			s.notify(key)
		}
	}
	return nil
}

func (s *KV) FindByPrefix(ctx context.Context, prefix string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make(map[string]string)
	for key, value := range s.data {
		if strings.HasPrefix(key, prefix) {
			result[key] = value
		}
	}
	return result, nil
}

// Snapshot copies the whole store content.
func (s *KV) Snapshot() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make(map[string]string, len(s.data))
	for k, v := range s.data {
		result[k] = v
	}
	return result
}

func (s *KV) Notify(ctx context.Context, prefix string) (<-chan struct{}, error) {
	sub := &subscriber{prefix: prefix, ch: make(chan struct{}, 1)}

	s.mu.Lock()
	s.subscribers[sub] = struct{}{}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subscribers, sub)
		close(sub.ch)
		s.mu.Unlock()
	}()
	return sub.ch, nil
}

// must be called with mu held
func (s *KV) notify(key string) {
	for sub := range s.subscribers {
		if !strings.HasPrefix(key, sub.prefix) {
			continue
		}
		select {
		case sub.ch <- struct{}{}:
		default:
		}
	}
}
