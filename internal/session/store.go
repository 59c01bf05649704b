package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/vadim/neo-inbox/internal/domain/conversation/entity"
)

// Persisted keys
const (
	KeyToken = "elloh_auth_token"
	KeyUser  = "elloh_user"
)

// ErrNoSession is returned by Load when nothing is stored
var ErrNoSession = errors.New("no stored session")

// Credentials is the persisted session
type Credentials struct {
	Token string
	User  entity.User
}

// Store persists credentials between runs
type Store interface {
	Load(ctx context.Context) (*Credentials, error)
	Save(ctx context.Context, creds Credentials) error
	Clear(ctx context.Context) error
}

// FileStore keeps credentials in a JSON file, one value per key. The user
// is stored as an encoded JSON string, like browser local storage would.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a store backed by path
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Load(ctx context.Context) (*Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("reading session file: %w", err)
	}

	var kv map[string]string
	if err := json.Unmarshal(data, &kv); err != nil {
		return nil, fmt.Errorf("decoding session file: %w", err)
	}

	return decodeCredentials(kv[KeyToken], kv[KeyUser])
}

func (s *FileStore) Save(ctx context.Context, creds Credentials) error {
	user, err := json.Marshal(creds.User)
	if err != nil {
		return fmt.Errorf("encoding user: %w", err)
	}

	data, err := json.MarshalIndent(map[string]string{
		KeyToken: creds.Token,
		KeyUser:  string(user),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("creating session dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing session file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing session file: %w", err)
	}
	return nil
}

func (s *FileStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing session file: %w", err)
	}
	return nil
}

func decodeCredentials(token, user string) (*Credentials, error) {
	if token == "" {
		return nil, ErrNoSession
	}

	creds := &Credentials{Token: token}
	if user != "" {
		if err := json.Unmarshal([]byte(user), &creds.User); err != nil {
			return nil, fmt.Errorf("decoding stored user: %w", err)
		}
	}
	return creds, nil
}
