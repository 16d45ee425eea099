package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// DefaultPort is the port used when nothing has been saved yet.
const DefaultPort = 1883

// filePerm keeps stored credentials private to the user.
const filePerm = 0o600

// Connection is the durable connection record edited by the user.
type Connection struct {
	Broker   string `yaml:"broker"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// Default returns the record used when no configuration exists.
func Default() Connection {
	return Connection{Port: DefaultPort}
}

// Redacted returns a copy safe to display or log.
func (c Connection) Redacted() Connection {
	if c.Password != "" {
		c.Password = "********"
	}
	return c
}

// Store loads and saves the connection record.
type Store interface {
	// Load returns the saved record, or Default() if none exists.
	Load() (Connection, error)

	// Save persists the record, replacing any previous one.
	Save(c Connection) error
}

// FileStore keeps the record in a YAML file. JSON files, which YAML parses
// as a subset, load as well.
//
// Thread Safety:
//   - Load and Save are safe for concurrent use.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a store backed by the file at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file path, shown by the shell status command.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the record. A missing file yields Default(); fields absent from
// the file keep their default values.
func (s *FileStore) Load() (Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := Default()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return c, nil
		}
		return Connection{}, fmt.Errorf("reading settings: %w", err)
	}

	if err := yaml.Unmarshal(data, &c); err != nil {
		return Connection{}, fmt.Errorf("parsing settings %s: %w", s.path, err)
	}
	return c, nil
}

// Save writes the record atomically: a temp file in the same directory is
// written, synced and renamed over the target.
func (s *FileStore) Save(c Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating settings directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating settings temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck // gone after a successful rename

	if err := tmp.Chmod(filePerm); err != nil {
		tmp.Close()
		return fmt.Errorf("setting settings permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing settings: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing settings temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replacing settings: %w", err)
	}
	return nil
}

// MemoryStore keeps the record in memory. It is used when persistence is
// not wanted and in tests.
type MemoryStore struct {
	mu    sync.Mutex
	conn  Connection
	saved bool
}

// NewMemoryStore creates a store holding Default().
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{conn: Default()}
}

// Load returns the held record.
func (s *MemoryStore) Load() (Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn, nil
}

// Save replaces the held record.
func (s *MemoryStore) Save(c Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn = c
	s.saved = true
	return nil
}

// Saved reports whether Save has been called.
func (s *MemoryStore) Saved() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saved
}

// ParsePort converts user input into a port number. Non-numeric or
// out-of-range input is rejected, never coerced.
func ParsePort(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidPort)
	}
	port, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", ErrInvalidPort, s)
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("%w: %d is outside 1-65535", ErrInvalidPort, port)
	}
	return port, nil
}

// Apply sets one field by its store key (broker, port, user, password).
func (c *Connection) Apply(key, value string) error {
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "broker":
		c.Broker = strings.TrimSpace(value)
	case "port":
		port, err := ParsePort(value)
		if err != nil {
			return err
		}
		c.Port = port
	case "user":
		c.User = value
	case "password":
		c.Password = value
	default:
		return fmt.Errorf("%w: %q", ErrUnknownField, key)
	}
	return nil
}
