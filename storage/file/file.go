// Package file provides a file-backed Store with optional encryption at rest.
//
// The whole key/value namespace is persisted as a single JSON document,
// rewritten atomically (temp file + rename) on every mutation. Session
// records contain refresh tokens, so the store can encrypt the document
// with AES-256-GCM using a key derived from a caller-supplied passphrase.
package file

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/hkdf"

	"github.com/oidckit/authsession/storage"
)

// keyInfo binds derived keys to this store's on-disk format.
const keyInfo = "authsession file store v1"

// Store is a file-backed key/value store.
type Store struct {
	mu     sync.Mutex
	path   string
	aead   cipher.AEAD // nil when encryption is disabled
	values map[string]string
}

// New opens (or creates) a file-backed store at path.
// If passphrase is non-empty, the document is encrypted at rest with
// AES-256-GCM under an HKDF-SHA256 derived key; an empty passphrase
// stores plaintext JSON.
func New(path string, passphrase []byte) (*Store, error) {
	s := &Store{
		path:   path,
		values: make(map[string]string),
	}

	if len(passphrase) > 0 {
		key := make([]byte, 32)
		if _, err := io.ReadFull(hkdf.New(sha256.New, passphrase, nil, []byte(keyInfo)), key); err != nil {
			return nil, fmt.Errorf("failed to derive encryption key: %w", err)
		}
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("failed to create cipher: %w", err)
		}
		s.aead, err = cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("failed to create GCM: %w", err)
		}
	}

	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Get returns the value for key, or storage.ErrNotFound.
func (s *Store) Get(key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, ok := s.values[key]
	if !ok {
		return "", storage.ErrNotFound
	}
	return value, nil
}

// Set stores value under key and persists the document.
func (s *Store) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = value
	return s.flush()
}

// Delete removes key and persists the document.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.values[key]; !ok {
		return nil
	}
	delete(s.values, key)
	return s.flush()
}

// load reads and decodes the backing file. A missing file is an empty store.
func (s *Store) load() error {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read store file: %w", err)
	}
	if len(raw) == 0 {
		return nil
	}

	if s.aead != nil {
		raw, err = s.open(raw)
		if err != nil {
			return err
		}
	}

	if err := json.Unmarshal(raw, &s.values); err != nil {
		return fmt.Errorf("failed to decode store file: %w", err)
	}
	return nil
}

// flush writes the document atomically: temp file in the same directory,
// then rename over the target.
func (s *Store) flush() error {
	raw, err := json.Marshal(s.values)
	if err != nil {
		return fmt.Errorf("failed to encode store: %w", err)
	}

	if s.aead != nil {
		raw, err = s.seal(raw)
		if err != nil {
			return err
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to write store file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to close store file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace store file: %w", err)
	}
	return nil
}

// seal encrypts plaintext and returns base64([nonce][ciphertext]).
func (s *Store) seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := s.aead.Seal(nonce, nonce, plaintext, nil)

	out := make([]byte, base64.StdEncoding.EncodedLen(len(sealed)))
	base64.StdEncoding.Encode(out, sealed)
	return out, nil
}

// open decrypts base64([nonce][ciphertext]).
func (s *Store) open(encoded []byte) ([]byte, error) {
	sealed := make([]byte, base64.StdEncoding.DecodedLen(len(encoded)))
	n, err := base64.StdEncoding.Decode(sealed, encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode store file: %w", err)
	}
	sealed = sealed[:n]

	nonceSize := s.aead.NonceSize()
	if len(sealed) < nonceSize {
		return nil, fmt.Errorf("store file too short to contain nonce")
	}
	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]

	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt store file: %w", err)
	}
	return plaintext, nil
}
