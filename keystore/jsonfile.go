package keystore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

var _ Store = (*JSONFile)(nil)

// JSONFile persists values to a single JSON file. Writes go through a
// temp-file rename so a crash mid-write never leaves a torn file behind.
type JSONFile struct {
	path string
	mu   sync.Mutex
}

// NewJSONFile creates a store backed by the file at path. The file is
// created on first write; parent directories must exist.
func NewJSONFile(path string) (*JSONFile, error) {
	if path == "" {
		return nil, fmt.Errorf("path must be provided")
	}
	return &JSONFile{path: path}, nil
}

func (j *JSONFile) Get(_ context.Context, key string) (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	data, err := j.load()
	if err != nil {
		return "", err
	}
	return data[key], nil
}

func (j *JSONFile) Set(_ context.Context, key, value string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	data, err := j.load()
	if err != nil {
		return err
	}
	data[key] = value
	return j.save(data)
}

func (j *JSONFile) Delete(_ context.Context, key string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	data, err := j.load()
	if err != nil {
		return err
	}
	if _, ok := data[key]; !ok {
		return nil
	}
	delete(data, key)
	return j.save(data)
}

func (j *JSONFile) load() (map[string]string, error) {
	b, err := os.ReadFile(j.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", j.path, err)
	}

	data := map[string]string{}
	if len(b) > 0 {
		if err := json.Unmarshal(b, &data); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", j.path, err)
		}
	}
	return data, nil
}

func (j *JSONFile) save(data map[string]string) error {
	b, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshaling store: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(j.path), filepath.Base(j.path)+".tmp*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(b); err != nil {
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

	if err := os.Rename(tmp.Name(), j.path); err != nil {
		return fmt.Errorf("replacing %s: %w", j.path, err)
	}
	return nil
}
