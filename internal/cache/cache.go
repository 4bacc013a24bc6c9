// Package cache stores named JSON documents under one directory with
// all-or-nothing replacement. The cache is secondary state: a missing or
// unreadable document is reported as absent, never as an error.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const docExt = ".json"

// StateIOError wraps a failed cache write or listing.
type StateIOError struct {
	Op   string
	Name string
	Err  error
}

func (e *StateIOError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("cache %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("cache %s %q: %v", e.Op, e.Name, e.Err)
}

func (e *StateIOError) Unwrap() error { return e.Err }

// ErrInvalidName is returned for names that would escape the cache directory.
var ErrInvalidName = errors.New("invalid document name")

// Document is a cached JSON value and the time it was last replaced.
type Document struct {
	Name    string
	Data    json.RawMessage
	ModTime time.Time
}

// Entry describes a document without loading it.
type Entry struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// Store is a directory of documents.
type Store struct {
	dir string
	now func() time.Time
}

// New opens (creating if needed) a cache rooted at dir.
func New(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, &StateIOError{Op: "open", Err: errors.New("cache directory is empty")}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &StateIOError{Op: "open", Err: err}
	}
	return &Store{dir: dir, now: time.Now}, nil
}

// Dir returns the cache root.
func (s *Store) Dir() string { return s.dir }

func validName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty", ErrInvalidName)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidName, name)
	case strings.HasPrefix(name, "."):
		return fmt.Errorf("%w: %q starts with a dot", ErrInvalidName, name)
	}
	return nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name+docExt)
}

// Read returns the named document. ok is false when the document is missing,
// unreadable, or not valid JSON.
func (s *Store) Read(name string) (doc Document, ok bool) {
	if validName(name) != nil {
		return Document{}, false
	}
	p := s.path(name)
	data, err := os.ReadFile(p)
	if err != nil || !json.Valid(data) {
		return Document{}, false
	}
	info, err := os.Stat(p)
	if err != nil {
		return Document{}, false
	}
	return Document{Name: name, Data: data, ModTime: info.ModTime()}, true
}

// ReadInto decodes the named document into v.
func (s *Store) ReadInto(name string, v any) bool {
	doc, ok := s.Read(name)
	if !ok {
		return false
	}
	return json.Unmarshal(doc.Data, v) == nil
}

// Age returns time since the document was last replaced.
func (s *Store) Age(name string) (time.Duration, bool) {
	if validName(name) != nil {
		return 0, false
	}
	info, err := os.Stat(s.path(name))
	if err != nil {
		return 0, false
	}
	age := s.now().Sub(info.ModTime())
	if age < 0 {
		age = 0
	}
	return age, true
}

// Write serializes v and atomically replaces the named document. A
// json.RawMessage or []byte must already be valid JSON.
func (s *Store) Write(name string, v any) error {
	if err := validName(name); err != nil {
		return &StateIOError{Op: "write", Name: name, Err: err}
	}
	data, err := encode(v)
	if err != nil {
		return &StateIOError{Op: "write", Name: name, Err: err}
	}
	return s.writeWith(name, data, writeAll)
}

func encode(v any) ([]byte, error) {
	var raw []byte
	switch t := v.(type) {
	case json.RawMessage:
		raw = t
	case []byte:
		raw = t
	default:
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshal: %w", err)
		}
		return b, nil
	}
	if !json.Valid(raw) {
		return nil, errors.New("document is not valid JSON")
	}
	return raw, nil
}

func writeAll(f *os.File, data []byte) error {
	_, err := f.Write(data)
	return err
}

// writeWith stages data in a temp file beside the target and renames it into
// place. fill is replaceable so tests can interrupt the write.
func (s *Store) writeWith(name string, data []byte, fill func(*os.File, []byte) error) (err error) {
	target := s.path(name)
	tmp, err := os.CreateTemp(s.dir, "."+name+".tmp-")
	if err != nil {
		return &StateIOError{Op: "write", Name: name, Err: err}
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if err = fill(tmp, data); err != nil {
		return &StateIOError{Op: "write", Name: name, Err: err}
	}
	if err = tmp.Sync(); err != nil {
		return &StateIOError{Op: "sync", Name: name, Err: err}
	}
	if err = tmp.Chmod(0o644); err != nil {
		return &StateIOError{Op: "chmod", Name: name, Err: err}
	}
	if err = tmp.Close(); err != nil {
		return &StateIOError{Op: "close", Name: name, Err: err}
	}
	if err = os.Rename(tmpPath, target); err != nil {
		return &StateIOError{Op: "rename", Name: name, Err: err}
	}
	syncDir(s.dir)
	return nil
}

// syncDir flushes the rename. Some filesystems refuse fsync on directories;
// the rename itself is already atomic so failures are ignored.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

// Delete removes the named document. Deleting a missing document is not an error.
func (s *Store) Delete(name string) error {
	if err := validName(name); err != nil {
		return &StateIOError{Op: "delete", Name: name, Err: err}
	}
	if err := os.Remove(s.path(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &StateIOError{Op: "delete", Name: name, Err: err}
	}
	return nil
}

// List returns every document in the cache sorted by name. Staging files are skipped.
func (s *Store) List() ([]Entry, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, &StateIOError{Op: "list", Err: err}
	}
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		n := e.Name()
		if e.IsDir() || strings.HasPrefix(n, ".") || !strings.HasSuffix(n, docExt) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, Entry{
			Name:    strings.TrimSuffix(n, docExt),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// OutputDocument turns worker output into a cache document. Output that is
// already a JSON object or array is stored as is; anything else is wrapped
// as {"output": ...} together with fields.
func OutputDocument(output string, fields map[string]string) any {
	trimmed := strings.TrimSpace(output)
	if (strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[")) && json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed)
	}
	doc := make(map[string]string, len(fields)+1)
	for k, v := range fields {
		doc[k] = v
	}
	doc["output"] = output
	return doc
}
