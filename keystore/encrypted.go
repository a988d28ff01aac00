package keystore

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/nacl/secretbox"
)

var _ Store = (*EncryptedFile)(nil)

// EncryptedFile persists values to a file sealed with NaCl secretbox, for
// hosts that keep tokens on disk outside a browser's storage sandbox. Each
// write seals the whole payload under a fresh random nonce, prepended to the
// ciphertext.
type EncryptedFile struct {
	path string
	key  [32]byte
	mu   sync.Mutex
}

// NewEncryptedFile creates a store backed by the file at path, sealed with
// the given 256-bit key. Opening an existing file with the wrong key fails
// on first read.
func NewEncryptedFile(path string, key [32]byte) (*EncryptedFile, error) {
	if path == "" {
		return nil, fmt.Errorf("path must be provided")
	}
	var zero [32]byte
	if key == zero {
		return nil, fmt.Errorf("key must be provided")
	}
	return &EncryptedFile{path: path, key: key}, nil
}

func (e *EncryptedFile) Get(_ context.Context, key string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	data, err := e.load()
	if err != nil {
		return "", err
	}
	return data[key], nil
}

func (e *EncryptedFile) Set(_ context.Context, key, value string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	data, err := e.load()
	if err != nil {
		return err
	}
	data[key] = value
	return e.save(data)
}

func (e *EncryptedFile) Delete(_ context.Context, key string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	data, err := e.load()
	if err != nil {
		return err
	}
	if _, ok := data[key]; !ok {
		return nil
	}
	delete(data, key)
	return e.save(data)
}

func (e *EncryptedFile) load() (map[string]string, error) {
	b, err := os.ReadFile(e.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", e.path, err)
	}
	if len(b) < 24 {
		return nil, fmt.Errorf("%s is truncated", e.path)
	}

	var nonce [24]byte
	copy(nonce[:], b[:24])
	plain, ok := secretbox.Open(nil, b[24:], &nonce, &e.key)
	if !ok {
		return nil, fmt.Errorf("decrypting %s failed, wrong key or corrupt file", e.path)
	}

	data := map[string]string{}
	if err := json.Unmarshal(plain, &data); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", e.path, err)
	}
	return data, nil
}

func (e *EncryptedFile) save(data map[string]string) error {
	plain, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshaling store: %w", err)
	}

	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return fmt.Errorf("generating nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], plain, &nonce, &e.key)

	tmp, err := os.CreateTemp(filepath.Dir(e.path), filepath.Base(e.path)+".tmp*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(sealed); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("setting permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), e.path); err != nil {
		return fmt.Errorf("replacing %s: %w", e.path, err)
	}
	return nil
}
