package config

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// fakeDecrypter records its inputs and returns canned output.
type fakeDecrypter struct {
	out   []byte
	err   error
	calls int

	gotArtifact   string
	gotPassphrase string
	gotDeadline   bool
}

func (f *fakeDecrypter) Decrypt(ctx context.Context, artifact, passphrase string) ([]byte, error) {
	f.calls++
	f.gotArtifact = artifact
	f.gotPassphrase = passphrase
	_, f.gotDeadline = ctx.Deadline()
	return f.out, f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testLoader builds a Loader rooted in a temp dir with two key
// candidates, neither of which exists yet.
func testLoader(t *testing.T, dec Decrypter) (*Loader, string) {
	t.Helper()
	dir := t.TempDir()
	return &Loader{
		EncryptedPath: filepath.Join(dir, "my-config.yaml.gpg"),
		PlainPath:     filepath.Join(dir, "my-config.yaml"),
		KeyPaths:      []string{filepath.Join(dir, "key-a"), filepath.Join(dir, "key-b")},
		Decrypter:     dec,
		Timeout:       time.Second,
		Logger:        testLogger(),
	}, dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
}

func TestLoader_EncryptedUsesInjectedDecrypter(t *testing.T) {
	dec := &fakeDecrypter{out: []byte("model: mistral\nloop_interval: 600\n")}
	l, _ := testLoader(t, dec)
	writeFile(t, l.EncryptedPath, "ciphertext")
	writeFile(t, l.KeyPaths[0], "  s3cret\n")
	writeFile(t, l.PlainPath, "model: should-not-be-used\n")

	cfg, err := l.Load(context.Background())
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Model != "mistral" {
		t.Errorf("Model = %q, want mistral (encrypted takes precedence)", cfg.Model)
	}
	if dec.calls != 1 {
		t.Errorf("decrypter called %d times, want exactly 1", dec.calls)
	}
	if dec.gotPassphrase != "s3cret" {
		t.Errorf("passphrase = %q, want trimmed key content", dec.gotPassphrase)
	}
	if dec.gotArtifact != l.EncryptedPath {
		t.Errorf("artifact = %q, want %q", dec.gotArtifact, l.EncryptedPath)
	}
	if !dec.gotDeadline {
		t.Error("decryption should run under a deadline")
	}
}

func TestLoader_KeyCandidateOrder(t *testing.T) {
	dec := &fakeDecrypter{out: []byte("{}")}
	l, _ := testLoader(t, dec)
	writeFile(t, l.EncryptedPath, "ciphertext")
	writeFile(t, l.KeyPaths[1], "second")

	if _, err := l.Load(context.Background()); err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if dec.gotPassphrase != "second" {
		t.Errorf("passphrase = %q, want second candidate", dec.gotPassphrase)
	}

	writeFile(t, l.KeyPaths[0], "first")
	if _, err := l.Load(context.Background()); err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if dec.gotPassphrase != "first" {
		t.Errorf("passphrase = %q, want first candidate once it exists", dec.gotPassphrase)
	}
}

func TestLoader_NoKey(t *testing.T) {
	dec := &fakeDecrypter{}
	l, _ := testLoader(t, dec)
	writeFile(t, l.EncryptedPath, "ciphertext")
	writeFile(t, l.PlainPath, "model: plain\n")

	_, err := l.Load(context.Background())
	if !errors.Is(err, ErrNoKey) {
		t.Fatalf("err = %v, want ErrNoKey", err)
	}
	for _, p := range l.KeyPaths {
		if !strings.Contains(err.Error(), p) {
			t.Errorf("error %q should name candidate %s", err, p)
		}
	}
	if dec.calls != 0 {
		t.Error("decrypter should not run without a key")
	}
}

func TestLoader_DecryptFailure(t *testing.T) {
	dec := &fakeDecrypter{err: errors.New("gpg exited 2: bad passphrase")}
	l, _ := testLoader(t, dec)
	writeFile(t, l.EncryptedPath, "ciphertext")
	writeFile(t, l.KeyPaths[0], "wrong")
	writeFile(t, l.PlainPath, "model: plain\n")

	_, err := l.Load(context.Background())
	if !errors.Is(err, ErrDecrypt) {
		t.Fatalf("err = %v, want ErrDecrypt", err)
	}
	if !strings.Contains(err.Error(), "bad passphrase") {
		t.Errorf("error %q should carry decrypter diagnostics", err)
	}
	if dec.calls != 1 {
		t.Errorf("decrypter called %d times, want 1 (no retry)", dec.calls)
	}
}

func TestLoader_DecryptedGarbage(t *testing.T) {
	l, _ := testLoader(t, &fakeDecrypter{out: []byte("model: [oops\n")})
	writeFile(t, l.EncryptedPath, "ciphertext")
	writeFile(t, l.KeyPaths[0], "k")

	if _, err := l.Load(context.Background()); err == nil {
		t.Fatal("expected parse error for malformed decrypted config")
	}
}

func TestLoader_PlaintextFallback(t *testing.T) {
	dec := &fakeDecrypter{}
	l, _ := testLoader(t, dec)
	writeFile(t, l.PlainPath, "model: plain-model\ncommand_timeout: 45\n")

	cfg, err := l.Load(context.Background())
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Model != "plain-model" || cfg.CommandTimeout != 45 {
		t.Errorf("got model=%q timeout=%d", cfg.Model, cfg.CommandTimeout)
	}
	if dec.calls != 0 {
		t.Error("decrypter should not run for plaintext config")
	}
}

func TestLoader_NoConfig(t *testing.T) {
	l, _ := testLoader(t, &fakeDecrypter{})

	_, err := l.Load(context.Background())
	if !errors.Is(err, ErrNoConfig) {
		t.Fatalf("err = %v, want ErrNoConfig", err)
	}
	if !strings.Contains(err.Error(), l.EncryptedPath) || !strings.Contains(err.Error(), l.PlainPath) {
		t.Errorf("error %q should name both locations", err)
	}
}
