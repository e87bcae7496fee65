// Package credstore keeps archive logins in the OS keyring so they
// never end up in shell history or config files.
package credstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/99designs/keyring"
)

const serviceName = "skyquery"

var ErrNotFound = errors.New("no stored credentials")

type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type Store struct {
	mu   sync.Mutex
	ring keyring.Keyring
}

// Open uses the platform keyring (keychain, wincred, secret service)
// with an encrypted file fallback for headless machines.
func Open() (*Store, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName:      serviceName,
		FileDir:          "~/.config/skyquery/keyring",
		FilePasswordFunc: keyring.TerminalPrompt,
	})
	if err != nil {
		return nil, fmt.Errorf("open keyring: %w", err)
	}
	return &Store{ring: ring}, nil
}

// NewWithRing wraps an existing keyring, used in tests with
// keyring.NewArrayKeyring.
func NewWithRing(ring keyring.Keyring) *Store {
	return &Store{ring: ring}
}

func credsKey(archive string) string {
	return "creds:" + archive
}

func tokenKey(archive string) string {
	return "token:" + archive
}

func (s *Store) SetCredentials(archive string, creds Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(creds)
	if err != nil {
		return err
	}
	return s.ring.Set(keyring.Item{
		Key:   credsKey(archive),
		Label: fmt.Sprintf("skyquery login for %s", archive),
		Data:  data,
	})
}

func (s *Store) Credentials(archive string) (Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, err := s.ring.Get(credsKey(archive))
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return Credentials{}, fmt.Errorf("%w for %s", ErrNotFound, archive)
	}
	if err != nil {
		return Credentials{}, err
	}

	var creds Credentials
	err = json.Unmarshal(item.Data, &creds)
	if err != nil {
		return Credentials{}, fmt.Errorf("corrupt credentials for %s: %w", archive, err)
	}
	return creds, nil
}

func (s *Store) SetToken(archive string, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.ring.Set(keyring.Item{
		Key:   tokenKey(archive),
		Label: fmt.Sprintf("skyquery token for %s", archive),
		Data:  []byte(token),
	})
}

func (s *Store) Token(archive string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, err := s.ring.Get(tokenKey(archive))
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", fmt.Errorf("%w for %s", ErrNotFound, archive)
	}
	if err != nil {
		return "", err
	}
	return string(item.Data), nil
}

// Delete drops both the login and the token of an archive.
func (s *Store) Delete(archive string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range []string{credsKey(archive), tokenKey(archive)} {
		err := s.ring.Remove(key)
		if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
			return err
		}
	}
	return nil
}

// Archives lists every archive that has something stored.
func (s *Store) Archives() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.ring.Keys()
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	for _, key := range keys {
		name, ok := strings.CutPrefix(key, "creds:")
		if !ok {
			name, ok = strings.CutPrefix(key, "token:")
		}
		if ok {
			seen[name] = true
		}
	}

	archives := make([]string, 0, len(seen))
	for name := range seen {
		archives = append(archives, name)
	}
	sort.Strings(archives)
	return archives, nil
}
