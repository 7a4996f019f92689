package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"
)

// DefaultDecryptTimeout bounds a single decryption attempt.
const DefaultDecryptTimeout = 10 * time.Second

var (
	// ErrNoKey means the encrypted config exists but none of the
	// passphrase files do.
	ErrNoKey = errors.New("encrypted config found but no key")

	// ErrNoConfig means neither the encrypted nor the plaintext config
	// exists.
	ErrNoConfig = errors.New("no config found")

	// ErrDecrypt wraps every decryption failure.
	ErrDecrypt = errors.New("config decryption failed")
)

// Loader resolves configuration at startup. The encrypted artifact
// takes precedence over the plaintext file. There is no partial mode:
// Load either returns a complete [Config] or an error the caller must
// treat as fatal.
type Loader struct {
	EncryptedPath string
	PlainPath     string
	KeyPaths      []string
	Decrypter     Decrypter
	Timeout       time.Duration
	Logger        *slog.Logger
}

// NewLoader returns a Loader for the well-known locations using
// [DefaultDecrypter].
func NewLoader(logger *slog.Logger) *Loader {
	return &Loader{
		EncryptedPath: DefaultEncryptedPath,
		PlainPath:     DefaultPlainPath,
		KeyPaths:      DefaultKeyPaths(),
		Decrypter:     DefaultDecrypter(),
		Timeout:       DefaultDecryptTimeout,
		Logger:        logger,
	}
}

// Load produces the configuration.
func (l *Loader) Load(ctx context.Context) (*Config, error) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if exists(l.EncryptedPath) {
		key, keyPath, err := l.readKey()
		if err != nil {
			return nil, err
		}
		logger.Debug("decrypting config", "artifact", l.EncryptedPath, "key_file", keyPath)

		timeout := l.Timeout
		if timeout <= 0 {
			timeout = DefaultDecryptTimeout
		}
		dctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		dec := l.Decrypter
		if dec == nil {
			dec = DefaultDecrypter()
		}
		plain, err := dec.Decrypt(dctx, l.EncryptedPath, key)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDecrypt, err)
		}

		cfg, err := Parse(plain)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", l.EncryptedPath, err)
		}
		logger.Info("config loaded", "source", l.EncryptedPath, "encrypted", true)
		return cfg, nil
	}

	if exists(l.PlainPath) {
		cfg, err := Load(l.PlainPath)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", l.PlainPath, err)
		}
		logger.Info("config loaded", "source", l.PlainPath, "encrypted", false)
		return cfg, nil
	}

	return nil, fmt.Errorf("%w at %s or %s", ErrNoConfig, l.EncryptedPath, l.PlainPath)
}

// readKey returns the trimmed contents of the first existing key file
// and its path.
func (l *Loader) readKey() (string, string, error) {
	for _, p := range l.KeyPaths {
		data, err := os.ReadFile(p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return "", "", fmt.Errorf("read key %s: %w", p, err)
		}
		return strings.TrimSpace(string(data)), p, nil
	}
	return "", "", fmt.Errorf("%w at %s", ErrNoKey, strings.Join(l.KeyPaths, ", "))
}

func exists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
