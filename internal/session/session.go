// Package session persists opaque per-account session attributes (tokens,
// device ids, counters) across restarts. One durable document holds a flat
// string-to-string record per account; records the engine does not own are
// round-tripped untouched.
package session

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

const stateFile = "state.toml"

// Attributes is one account's session record. Keys are opaque to the
// engine; values are only ever coerced, never parsed.
type Attributes map[string]string

// GetString returns the value for key and whether it was present.
func (a Attributes) GetString(key string) (string, bool) {
	v, ok := a[key]
	return v, ok
}

// GetInt64 returns the value for key as an int64, or def when the key is
// absent or not a number.
func (a Attributes) GetInt64(key string, def int64) int64 {
	v, ok := a[key]
	if !ok {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

// GetUint64 returns the value for key as a uint64, or def when the key is
// absent or not a number.
func (a Attributes) GetUint64(key string, def uint64) uint64 {
	v, ok := a[key]
	if !ok {
		return def
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

// GetBool returns the value for key as a bool, or def when the key is
// absent. "true" (any case) and "1" are true, everything else is false.
func (a Attributes) GetBool(key string, def bool) bool {
	v, ok := a[key]
	if !ok {
		return def
	}
	return strings.EqualFold(v, "true") || v == "1"
}

// SetString sets key to value.
func (a Attributes) SetString(key, value string) {
	a[key] = value
}

// SetInt64 sets key to the decimal form of value.
func (a Attributes) SetInt64(key string, value int64) {
	a[key] = strconv.FormatInt(value, 10)
}

// SetUint64 sets key to the decimal form of value.
func (a Attributes) SetUint64(key string, value uint64) {
	a[key] = strconv.FormatUint(value, 10)
}

// SetBool sets key to "true" or "false".
func (a Attributes) SetBool(key string, value bool) {
	if value {
		a[key] = "true"
	} else {
		a[key] = "false"
	}
}

// Merge copies all entries of other into a.
func (a Attributes) Merge(other map[string]string) {
	for k, v := range other {
		a[k] = v
	}
}

// Clone returns an independent copy of a.
func (a Attributes) Clone() Attributes {
	c := make(Attributes, len(a))
	for k, v := range a {
		c[k] = v
	}
	return c
}

// Store reads and writes the session document.
type Store struct {
	path string
	key  []byte
}

// document is the full durable state: account id -> flat attribute map.
type document map[string]map[string]string

// NewStore creates a store rooted at dataDir. When keyFile is non-empty its
// contents become the sealing passphrase and the document is encrypted at
// rest.
func NewStore(dataDir, keyFile string) (*Store, error) {
	s := &Store{path: filepath.Join(dataDir, stateFile)}

	if keyFile != "" {
		pass, err := os.ReadFile(keyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read session key file: %w", err)
		}
		pass = bytes.TrimSpace(pass)
		if len(pass) == 0 {
			return nil, fmt.Errorf("session key file %s is empty", keyFile)
		}
		s.key = pass
	}

	return s, nil
}

// Path returns the document location.
func (s *Store) Path() string {
	return s.path
}

// Load returns the attributes recorded for accountID. A missing document or
// record yields an empty map; only unreadable or unparsable durable data is
// an error.
func (s *Store) Load(accountID string) (Attributes, error) {
	doc, err := s.readDocument()
	if err != nil {
		return nil, err
	}

	rec, ok := doc[accountID]
	if !ok {
		return Attributes{}, nil
	}

	attrs := make(Attributes, len(rec))
	for k, v := range rec {
		attrs[k] = v
	}
	return attrs, nil
}

// Save replaces accountID's record inside the document, preserving every
// other account's record, and writes it back. The containing directory is
// created if absent.
func (s *Store) Save(accountID string, attrs Attributes) error {
	doc, err := s.readDocument()
	if err != nil {
		// A corrupt document cannot be merged with; start over rather
		// than refuse to persist a live session.
		doc = document{}
	}

	rec := make(map[string]string, len(attrs))
	for k, v := range attrs {
		rec[k] = v
	}
	doc[accountID] = rec

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(doc); err != nil {
		return fmt.Errorf("failed to encode session document: %w", err)
	}

	data := buf.Bytes()
	if s.key != nil {
		data, err = seal(data, s.key)
		if err != nil {
			return fmt.Errorf("failed to seal session document: %w", err)
		}
	}

	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write session document: %w", err)
	}

	return nil
}

// Delete removes accountID's record, leaving other records untouched.
func (s *Store) Delete(accountID string) error {
	doc, err := s.readDocument()
	if err != nil {
		return err
	}
	if _, ok := doc[accountID]; !ok {
		return nil
	}
	delete(doc, accountID)

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(doc); err != nil {
		return fmt.Errorf("failed to encode session document: %w", err)
	}

	data := buf.Bytes()
	if s.key != nil {
		data, err = seal(data, s.key)
		if err != nil {
			return fmt.Errorf("failed to seal session document: %w", err)
		}
	}

	return os.WriteFile(s.path, data, 0600)
}

func (s *Store) readDocument() (document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return document{}, nil
		}
		return nil, fmt.Errorf("failed to read session document: %w", err)
	}

	if isSealed(data) {
		if s.key == nil {
			return nil, fmt.Errorf("session document %s is sealed but no key file is configured", s.path)
		}
		data, err = open(data, s.key)
		if err != nil {
			return nil, fmt.Errorf("failed to open sealed session document: %w", err)
		}
	}

	var doc document
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse session document: %w", err)
	}
	if doc == nil {
		doc = document{}
	}
	return doc, nil
}
