package bucket

import (
	"context"
	"sort"
	"sync"
)

// Object is one stored payload in a Memory bucket
type Object struct {
	Key     string
	Data    []byte
	Headers map[string]string
}

// Memory keeps objects in process. Used for dry runs and tests; it also
// records every NewKey argument in call order.
type Memory struct {
	mu      sync.Mutex
	objects map[string]Object
	newKeys []string

	// FailOn makes SetContents fail for the named keys
	FailOn map[string]error
}

func NewMemory() *Memory {
	return &Memory{objects: map[string]Object{}}
}

func (m *Memory) NewKey(name string) Key {
	m.mu.Lock()
	m.newKeys = append(m.newKeys, name)
	m.mu.Unlock()
	return &memoryKey{bucket: m, name: name}
}

// NewKeyCalls returns the names passed to NewKey, in order
func (m *Memory) NewKeyCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.newKeys))
	copy(out, m.newKeys)
	return out
}

func (m *Memory) Get(key string) (Object, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.objects[key]
	return o, ok
}

// Keys lists stored keys, sorted
func (m *Memory) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.objects))
	for k := range m.objects {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type memoryKey struct {
	bucket *Memory
	name   string
}

func (k *memoryKey) Name() string { return k.name }

func (k *memoryKey) SetContents(ctx context.Context, data []byte, headers map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m := k.bucket
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.FailOn[k.name]; err != nil {
		return err
	}
	obj := Object{
		Key:     k.name,
		Data:    append([]byte(nil), data...),
		Headers: make(map[string]string, len(headers)),
	}
	for h, v := range headers {
		obj.Headers[h] = v
	}
	if m.objects == nil {
		m.objects = map[string]Object{}
	}
	m.objects[k.name] = obj
	return nil
}
