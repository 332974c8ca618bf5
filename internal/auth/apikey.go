package auth

import (
	"crypto/subtle"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// APIKeyAuth checks request keys against a YAML keys file. The key set can be
// swapped at runtime by Reload.
type APIKeyAuth struct {
	headerName string
	keysFile   string

	mu   sync.RWMutex
	keys map[string]string // key -> id
}

type keyFileEntry struct {
	ID          string `yaml:"id"`
	Key         string `yaml:"key"`
	Description string `yaml:"description"`
}

func LoadAPIKeys(keysFile string, headerName string) (*APIKeyAuth, error) {
	if strings.TrimSpace(headerName) == "" {
		headerName = "X-API-Key"
	}
	if keysFile == "" {
		return nil, fmt.Errorf("api key auth enabled but keys_file is empty")
	}
	keys, err := readKeys(keysFile)
	if err != nil {
		return nil, err
	}
	return &APIKeyAuth{headerName: headerName, keysFile: keysFile, keys: keys}, nil
}

func readKeys(keysFile string) (map[string]string, error) {
	b, err := os.ReadFile(keysFile)
	if err != nil {
		return nil, fmt.Errorf("read api keys file: %w", err)
	}
	var entries []keyFileEntry
	if err := yaml.Unmarshal(b, &entries); err != nil {
		return nil, fmt.Errorf("parse api keys file: %w", err)
	}
	keys := make(map[string]string, len(entries))
	for i, e := range entries {
		if strings.TrimSpace(e.Key) == "" {
			continue
		}
		id := e.ID
		if id == "" {
			id = fmt.Sprintf("key-%d", i+1)
		}
		keys[e.Key] = id
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("api keys file contains no keys")
	}
	return keys, nil
}

// Reload re-reads the keys file. On error the previous keys stay in force.
func (a *APIKeyAuth) Reload() error {
	keys, err := readKeys(a.keysFile)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.keys = keys
	a.mu.Unlock()
	return nil
}

func (a *APIKeyAuth) HeaderName() string { return a.headerName }

func (a *APIKeyAuth) KeysFile() string { return a.keysFile }

func (a *APIKeyAuth) IsAllowed(key string) bool {
	_, ok := a.KeyID(key)
	return ok
}

// KeyID returns the configured id of key. Every stored key is compared so the
// timing does not reveal which prefix matched.
func (a *APIKeyAuth) KeyID(key string) (string, bool) {
	if a == nil || key == "" {
		return "", false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	var id string
	found := false
	for k, v := range a.keys {
		if subtle.ConstantTimeCompare([]byte(k), []byte(key)) == 1 {
			id, found = v, true
		}
	}
	return id, found
}
