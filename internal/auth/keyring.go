package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	DefaultKeysFile = "flywheel.keys.yaml"
	keysFileEnv     = "FLYWHEEL_KEYS_FILE"
)

// keysFile is the on-disk keyring.
//
//	default_policy:
//	  allow_localhost_without_auth: true
//	projects:
//	  alpha:
//	    keys: [k1]
//	    agent_keys:
//	      k2: agent-7
type keysFile struct {
	DefaultPolicy struct {
		AllowLocalhostWithoutAuth *bool `yaml:"allow_localhost_without_auth"`
	} `yaml:"default_policy"`
	Projects map[string]projectKeys `yaml:"projects"`
}

type projectKeys struct {
	Keys      []string          `yaml:"keys,omitempty"`
	AgentKeys map[string]string `yaml:"agent_keys,omitempty"`
}

// Principal is what a bearer key grants: a project, and optionally a fixed
// agent identity within it.
type Principal struct {
	Project string
	AgentID string
}

// Keyring maps bearer keys to principals.
type Keyring struct {
	AllowLocalhostWithoutAuth bool
	keys                      map[string]Principal
}

// ResolveKeysPath returns FLYWHEEL_KEYS_FILE or ./flywheel.keys.yaml.
func ResolveKeysPath() string {
	if v := strings.TrimSpace(os.Getenv(keysFileEnv)); v != "" {
		return v
	}
	return filepath.Join(".", DefaultKeysFile)
}

// LoadKeyring reads path. A missing file yields a localhost-only keyring.
func LoadKeyring(path string) (*Keyring, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return NewKeyring(true, nil), nil
	}
	cfg, err := readKeysFile(path)
	if err != nil {
		return nil, err
	}
	ring := NewKeyring(true, nil)
	if cfg.DefaultPolicy.AllowLocalhostWithoutAuth != nil {
		ring.AllowLocalhostWithoutAuth = *cfg.DefaultPolicy.AllowLocalhostWithoutAuth
	}
	for project, pk := range cfg.Projects {
		for _, key := range pk.Keys {
			if err := ring.add(key, Principal{Project: project}); err != nil {
				return nil, err
			}
		}
		for key, agent := range pk.AgentKeys {
			if err := ring.add(key, Principal{Project: project, AgentID: strings.TrimSpace(agent)}); err != nil {
				return nil, err
			}
		}
	}
	return ring, nil
}

// NewKeyring builds a keyring from key -> project pairs.
func NewKeyring(allowLocalhost bool, keyToProject map[string]string) *Keyring {
	ring := &Keyring{AllowLocalhostWithoutAuth: allowLocalhost, keys: make(map[string]Principal, len(keyToProject))}
	for k, p := range keyToProject {
		ring.keys[k] = Principal{Project: p}
	}
	return ring
}

func (k *Keyring) add(key string, p Principal) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	if existing, ok := k.keys[key]; ok && existing.Project != p.Project {
		return fmt.Errorf("key reused across projects: %q", key)
	}
	k.keys[key] = p
	return nil
}

// Lookup returns the principal for key.
func (k *Keyring) Lookup(key string) (Principal, bool) {
	if k == nil {
		return Principal{}, false
	}
	p, ok := k.keys[key]
	return p, ok
}

// AddKey generates a key for project, appends it to the keys file at path
// (creating the file if needed) and returns it. A non-empty agentID binds the
// key to that agent.
func AddKey(path, project, agentID string) (string, error) {
	path = strings.TrimSpace(path)
	project = strings.TrimSpace(project)
	if path == "" {
		return "", errors.New("keys file path required")
	}
	if project == "" {
		return "", errors.New("project required")
	}

	cfg, err := readKeysFile(path)
	if err != nil {
		return "", err
	}
	if cfg.Projects == nil {
		cfg.Projects = make(map[string]projectKeys)
	}
	key, err := generateKey()
	if err != nil {
		return "", err
	}
	pk := cfg.Projects[project]
	if agentID = strings.TrimSpace(agentID); agentID != "" {
		if pk.AgentKeys == nil {
			pk.AgentKeys = make(map[string]string)
		}
		pk.AgentKeys[key] = agentID
	} else {
		pk.Keys = append(pk.Keys, key)
	}
	cfg.Projects[project] = pk
	if cfg.DefaultPolicy.AllowLocalhostWithoutAuth == nil {
		allow := true
		cfg.DefaultPolicy.AllowLocalhostWithoutAuth = &allow
	}

	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return "", fmt.Errorf("marshal keys file: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write keys file: %w", err)
	}
	return key, nil
}

func readKeysFile(path string) (keysFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return keysFile{}, nil
		}
		return keysFile{}, fmt.Errorf("read keys file: %w", err)
	}
	var cfg keysFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return keysFile{}, fmt.Errorf("parse keys file: %w", err)
	}
	return cfg, nil
}

func generateKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
