package memory

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/agnosto/instawebhooks/logger"
	"github.com/agnosto/instawebhooks/posts"
)

const (
	recordExt    = ".json"
	legacyPrefix = "last_post_"
	legacyExt    = ".txt"
)

// StateCorruptError means a state file exists but matches none of the known
// layouts. Callers fall back to an empty record.
type StateCorruptError struct {
	Path string
	Err  error
}

func (e *StateCorruptError) Error() string {
	return fmt.Sprintf("corrupt state file %s: %v", e.Path, e.Err)
}

func (e *StateCorruptError) Unwrap() error {
	return e.Err
}

// Store keeps one SyncRecord per account as a JSON file under dir.
type Store struct {
	dir    string
	logger *log.Logger
	now    func() time.Time
}

type StoreOption func(*Store)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

func WithLogger(l *log.Logger) StoreOption {
	return func(s *Store) {
		s.logger = l
	}
}

func NewStore(dir string, opts ...StoreOption) *Store {
	s := &Store{
		dir:    dir,
		logger: logger.Logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Dir() string {
	return s.dir
}

// Path is where the record for entity is written.
func (s *Store) Path(entity string) string {
	return filepath.Join(s.dir, entity+recordExt)
}

func (s *Store) legacyPath(entity string) string {
	return filepath.Join(s.dir, legacyPrefix+entity+legacyExt)
}

func checkEntity(entity string) error {
	if entity == "" || entity == "." || entity == ".." || strings.ContainsAny(entity, `/\`) {
		return fmt.Errorf("invalid entity id %q", entity)
	}
	return nil
}

// Load returns the record for entity. A missing file yields an empty record;
// legacy layouts are migrated in memory. Unreadable content is reported as a
// *StateCorruptError.
func (s *Store) Load(entity string) (*SyncRecord, error) {
	if err := checkEntity(entity); err != nil {
		return nil, err
	}

	path := s.Path(entity)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		path = s.legacyPath(entity)
		data, err = os.ReadFile(path)
	}
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewSyncRecord(), nil
		}
		return nil, &StateCorruptError{Path: path, Err: err}
	}

	record, err := s.decode(data)
	if err != nil {
		return nil, &StateCorruptError{Path: path, Err: err}
	}
	return record, nil
}

func (s *Store) decode(data []byte) (*SyncRecord, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return NewSyncRecord(), nil
	}

	// Only objects can be structured state; anything else is the plain-text
	// layout holding a single shortcode.
	if trimmed[0] != '{' {
		if isNonNumericJSON(trimmed) {
			return nil, fmt.Errorf("state is a JSON value, not an object")
		}
		return s.migratePlainText(string(trimmed))
	}

	kind, err := detectShape(trimmed)
	if err != nil {
		return nil, err
	}

	switch kind {
	case shapeCurrent:
		record := NewSyncRecord()
		if err := json.Unmarshal(trimmed, record); err != nil {
			return nil, err
		}
		record.normalize()
		return record, nil
	case shapeLegacyObject:
		return s.migrateLegacyObject(trimmed)
	default:
		return nil, fmt.Errorf("unrecognised state layout")
	}
}

// isNonNumericJSON reports whether data is a JSON array, string, boolean or
// null. Bare numbers stay valid plain-text shortcodes.
func isNonNumericJSON(data []byte) bool {
	if !json.Valid(data) {
		return false
	}
	var v any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return false
	}
	_, isNumber := v.(json.Number)
	return !isNumber
}

func (s *Store) migratePlainText(text string) (*SyncRecord, error) {
	if strings.IndexFunc(text, func(r rune) bool {
		return unicode.IsSpace(r) || !unicode.IsPrint(r)
	}) >= 0 {
		return nil, fmt.Errorf("plain-text state is not a single shortcode")
	}
	s.logger.Printf("Migrating plain-text state for shortcode %s", text)
	return migrated(text, s.now()), nil
}

func (s *Store) migrateLegacyObject(data []byte) (*SyncRecord, error) {
	var legacy struct {
		Shortcode string  `json:"shortcode"`
		Timestamp *string `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &legacy); err != nil {
		return nil, err
	}

	posted := s.now()
	if legacy.Timestamp != nil && *legacy.Timestamp != "" {
		ts, err := ParseTimestamp(*legacy.Timestamp)
		if err != nil {
			return nil, err
		}
		posted = ts.Time
	}
	s.logger.Printf("Migrating legacy JSON state for shortcode %s", legacy.Shortcode)
	return migrated(legacy.Shortcode, posted), nil
}

// migrated builds the record equivalent to a legacy checkpoint. The post type
// was never stored, so TypeCounts stays empty.
func migrated(shortcode string, posted time.Time) *SyncRecord {
	record := NewSyncRecord()
	record.SentPosts = []SentPostEntry{{
		Shortcode: shortcode,
		Timestamp: NewTimestamp(posted),
		SentAt:    NewTimestamp(posted),
		URL:       posts.PostURL(shortcode),
	}}
	record.Stats.TotalSent = 1
	record.syncLastPost()
	return record
}

// Save atomically replaces the record for entity. A legacy file, if any, is
// removed once the new layout is on disk.
func (s *Store) Save(entity string, record *SyncRecord) error {
	if err := checkEntity(entity); err != nil {
		return err
	}
	if record == nil {
		return fmt.Errorf("nil record for %s", entity)
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state for %s: %w", entity, err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	if err := writeFileAtomic(s.Path(entity), data, 0o644); err != nil {
		return fmt.Errorf("failed to write state for %s: %w", entity, err)
	}

	if err := os.Remove(s.legacyPath(entity)); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Printf("[WARN] Failed to remove migrated legacy state %s: %v", s.legacyPath(entity), err)
	}
	return nil
}

// AddSentPost commits item as delivered for entity and returns the updated
// record. On error the previous file is left untouched.
func (s *Store) AddSentPost(entity string, item posts.FeedItem) (*SyncRecord, error) {
	record, err := s.Load(entity)
	if err != nil {
		var corrupt *StateCorruptError
		if !errors.As(err, &corrupt) {
			return nil, err
		}
		s.logger.Printf("[WARN] %v; starting from empty state", err)
		record = NewSyncRecord()
	}

	now := s.now()
	record.Commit(NewEntry(item, now), now)

	if err := s.Save(entity, record); err != nil {
		return nil, err
	}
	return record, nil
}

// Entities lists every account with a state file, sorted.
func (s *Store) Entities() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	seen := map[string]struct{}{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		switch {
		case strings.HasPrefix(name, legacyPrefix) && strings.HasSuffix(name, legacyExt):
			seen[strings.TrimSuffix(strings.TrimPrefix(name, legacyPrefix), legacyExt)] = struct{}{}
		case strings.HasSuffix(name, recordExt) && !strings.HasPrefix(name, "."):
			seen[strings.TrimSuffix(name, recordExt)] = struct{}{}
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmpFile.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()
	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Chmod(mode); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}
