package config

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/mitchellh/go-homedir"
	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
)

type EDSigner interface {
	Public() ed25519.PublicKey
	Sign(rand io.Reader, digest []byte, opts crypto.SignerOpts) (signature []byte, err error)
}

type Config struct {
	path      string
	configDir string

	mu sync.Mutex

	signer   crypto.Signer
	signerId string
	pubKey   ed25519.PublicKey
	privKey  ed25519.PrivateKey

	DataDir  string `json:"data-dir"`
	CMake    string `json:"cmake,omitempty"`
	Registry string `json:"registry,omitempty"`

	// Settings override the detected host settings.
	Settings map[string]string `json:"settings,omitempty"`
}

const (
	DefaultConfigPath = "~/.config/kiln/config.json"
	DefaultDataDir    = "~/.local/share/kiln"
)

func LoadConfig() (*Config, error) {
	if loc := os.Getenv("KILN_CONFIG"); loc != "" {
		return LoadFile(loc)
	}

	path, err := homedir.Expand(DefaultConfigPath)
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(path); err == nil {
		return LoadFile(path)
	}

	dir := filepath.Dir(path)

	err = os.MkdirAll(dir, 0755)
	if err != nil {
		return nil, err
	}

	dataDir, err := homedir.Expand(DefaultDataDir)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		path:      path,
		configDir: dir,
		DataDir:   dataDir,
	}

	return updateFromEnv(cfg)
}

// LoadFile reads the config at path. A relative data-dir is resolved
// against the config file's directory.
func LoadFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	defer f.Close()

	var cfg Config

	err = json.NewDecoder(f).Decode(&cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding config %s", path)
	}

	cfg.path = path
	cfg.configDir = filepath.Dir(path)

	if cfg.DataDir == "" {
		cfg.DataDir = DefaultDataDir
	}

	cfg.DataDir, err = homedir.Expand(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	if !filepath.IsAbs(cfg.DataDir) {
		cfg.DataDir = filepath.Join(cfg.configDir, cfg.DataDir)
	}

	return updateFromEnv(&cfg)
}

func updateFromEnv(cfg *Config) (*Config, error) {
	if path := os.Getenv("KILN_DATA_DIR"); path != "" {
		fi, err := os.Stat(path)
		if err != nil {
			return nil, err
		}

		if !fi.IsDir() {
			return nil, fmt.Errorf("path is not a directory: %s", path)
		}

		cfg.DataDir = path
	}

	if path := os.Getenv("KILN_CMAKE"); path != "" {
		cfg.CMake = path
	}

	if reg := os.Getenv("KILN_REGISTRY"); reg != "" {
		cfg.Registry = reg
	}

	return ensureDirs(cfg)
}

func ensureDirs(cfg *Config) (*Config, error) {
	dirs := []string{
		cfg.DataDir,
		cfg.BuildPath(),
		cfg.PackagesPath(),
		cfg.ArchivesPath(),
	}

	for _, dir := range dirs {
		fi, err := os.Stat(dir)
		if err != nil {
			if os.IsNotExist(err) {
				err = os.MkdirAll(dir, 0755)
				if err != nil {
					return nil, err
				}
			}
		} else if !fi.IsDir() {
			return nil, fmt.Errorf("path is not a directory: %s", dir)
		}
	}

	return cfg, nil
}

// Save writes the config back to the file it was loaded from.
func (c *Config) Save() error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	err = os.MkdirAll(c.configDir, 0755)
	if err != nil {
		return err
	}

	return os.WriteFile(c.path, append(data, '\n'), 0644)
}

func (c *Config) Path() string {
	return c.path
}

func (c *Config) ensureSignerSet() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.signer != nil {
		return nil
	}

	var (
		priv ed25519.PrivateKey
		pub  ed25519.PublicKey
	)

	path := filepath.Join(c.configDir, "key")

	if data, err := os.ReadFile(path); err == nil {
		data, err = base58.Decode(string(data))
		if err != nil {
			return errors.Wrapf(err, "decoding signing key %s", path)
		}

		if len(data) != ed25519.PrivateKeySize {
			return fmt.Errorf("signing key %s has the wrong size", path)
		}

		priv = ed25519.PrivateKey(data)
		pub = priv.Public().(ed25519.PublicKey)
	} else {
		epub, epriv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return err
		}

		pub = epub
		priv = epriv

		err = os.WriteFile(path, []byte(base58.Encode(epriv)), 0600)
		if err != nil {
			return err
		}
	}

	c.signer = priv
	c.signerId = SignerId(pub)
	c.pubKey = pub
	c.privKey = priv

	return nil
}

// SignerId is the printable identity of an ed25519 public key.
func SignerId(pub ed25519.PublicKey) string {
	return "1:" + base58.Encode(pub)
}

func (c *Config) SignerId() (string, error) {
	if err := c.ensureSignerSet(); err != nil {
		return "", err
	}

	return c.signerId, nil
}

func (c *Config) Public() ed25519.PublicKey {
	if err := c.ensureSignerSet(); err != nil {
		return nil
	}

	return c.pubKey
}

func (c *Config) Private() ed25519.PrivateKey {
	if err := c.ensureSignerSet(); err != nil {
		return nil
	}

	return c.privKey
}

func (c *Config) Sign(rand io.Reader, digest []byte, opts crypto.SignerOpts) (signature []byte, err error) {
	if err := c.ensureSignerSet(); err != nil {
		return nil, err
	}

	return c.signer.Sign(rand, digest, opts)
}

func (c *Config) BuildPath() string {
	return filepath.Join(c.DataDir, "build")
}

func (c *Config) PackagesPath() string {
	return filepath.Join(c.DataDir, "packages")
}

func (c *Config) ArchivesPath() string {
	return filepath.Join(c.DataDir, "archives")
}

// Store locates built packages by id.
func (c *Config) Store() *Store {
	return &Store{
		Paths:   []string{c.PackagesPath()},
		Default: c.PackagesPath(),
	}
}
