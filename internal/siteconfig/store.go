// Package siteconfig is the string-keyed site configuration consulted by the
// deploy pipeline (cache-duration, site-url, ...). Files may be JSON with
// comments or YAML; both normalize to the JSON data model.
package siteconfig

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/keithlinneman/sitedeploy/internal/xerrors"
)

const (
	KeyCacheDuration = "cache-duration"
	KeySiteURL       = "site-url"
)

// Store is safe for concurrent reads; the deployer treats it as read-only
// for the duration of a batch.
type Store struct {
	mu     sync.RWMutex
	path   string
	values map[string]any
}

// New returns an empty in-memory store
func New() *Store {
	return &Store{values: map[string]any{}}
}

// Load reads and validates the config file at path. The format follows the
// extension: .yaml/.yml is YAML, anything else is JSON with comments allowed.
func Load(path string) (*Store, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Wrapf(err, "read site config %s", path)
	}
	values, err := decode(raw, filepath.Ext(path))
	if err != nil {
		return nil, xerrors.Wrapf(err, "decode site config %s", path)
	}
	if err := Validate(values); err != nil {
		return nil, xerrors.Wrapf(err, "site config %s", path)
	}
	return &Store{path: path, values: values}, nil
}

func decode(raw []byte, ext string) (map[string]any, error) {
	var js []byte
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		var y map[string]any
		if err := yaml.Unmarshal(raw, &y); err != nil {
			return nil, err
		}
		b, err := json.Marshal(y)
		if err != nil {
			return nil, err
		}
		js = b
	default:
		js = jsonc.ToJSON(raw)
	}

	values := map[string]any{}
	if len(bytes.TrimSpace(js)) == 0 {
		return values, nil
	}
	dec := json.NewDecoder(bytes.NewReader(js))
	dec.UseNumber()
	if err := dec.Decode(&values); err != nil {
		return nil, err
	}
	if values == nil {
		values = map[string]any{}
	}
	return values, nil
}

// Path is the file the store was loaded from, empty for in-memory stores
func (s *Store) Path() string { return s.path }

// Get returns the raw value for key. A key set to null is present with a nil value.
func (s *Store) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// String returns the value for key when it is a string
func (s *Store) String(key string) (string, bool) {
	v, ok := s.Get(key)
	if !ok {
		return "", false
	}
	str, ok := v.(string)
	return str, ok
}

// Set replaces the value for key; nil stores an explicit null
func (s *Store) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.values == nil {
		s.values = map[string]any{}
	}
	s.values[key] = value
}

// Delete removes key, making it absent rather than null
func (s *Store) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
}

// Keys returns the configured keys in sorted order
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
