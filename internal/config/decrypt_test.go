package config

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/openpgp"
	"golang.org/x/crypto/openpgp/armor"
)

const samplePlain = "model: qwen2.5:14b\nloop_interval: 600\n"

// encryptSymmetric writes an OpenPGP symmetrically encrypted copy of
// plain to a temp file, optionally ASCII-armored.
func encryptSymmetric(t *testing.T, plain, passphrase string, armored bool) string {
	t.Helper()

	var buf bytes.Buffer
	var target io.Writer = &buf
	var armorW io.WriteCloser
	if armored {
		w, err := armor.Encode(&buf, "PGP MESSAGE", nil)
		if err != nil {
			t.Fatal(err)
		}
		armorW = w
		target = w
	}

	w, err := openpgp.SymmetricallyEncrypt(target, []byte(passphrase), nil, nil)
	if err != nil {
		t.Fatalf("SymmetricallyEncrypt: %v", err)
	}
	if _, err := w.Write([]byte(plain)); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if armorW != nil {
		if err := armorW.Close(); err != nil {
			t.Fatal(err)
		}
	}

	path := filepath.Join(t.TempDir(), "my-config.yaml.gpg")
	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestOpenPGPDecrypter_Binary(t *testing.T) {
	path := encryptSymmetric(t, samplePlain, "hunter2", false)

	got, err := OpenPGPDecrypter{}.Decrypt(context.Background(), path, "hunter2")
	if err != nil {
		t.Fatalf("Decrypt error: %v", err)
	}
	if string(got) != samplePlain {
		t.Errorf("Decrypt = %q, want %q", got, samplePlain)
	}
}

func TestOpenPGPDecrypter_Armored(t *testing.T) {
	path := encryptSymmetric(t, samplePlain, "hunter2", true)

	got, err := OpenPGPDecrypter{}.Decrypt(context.Background(), path, "hunter2")
	if err != nil {
		t.Fatalf("Decrypt error: %v", err)
	}
	if string(got) != samplePlain {
		t.Errorf("Decrypt = %q, want %q", got, samplePlain)
	}
}

func TestOpenPGPDecrypter_WrongPassphrase(t *testing.T) {
	path := encryptSymmetric(t, samplePlain, "hunter2", false)

	done := make(chan error, 1)
	go func() {
		_, err := OpenPGPDecrypter{}.Decrypt(context.Background(), path, "letmein")
		done <- err
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected error for wrong passphrase")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("wrong passphrase should fail after a single attempt, not loop")
	}
}

func TestOpenPGPDecrypter_Missing(t *testing.T) {
	_, err := OpenPGPDecrypter{}.Decrypt(context.Background(), filepath.Join(t.TempDir(), "nope.gpg"), "x")
	if err == nil {
		t.Fatal("expected error for missing artifact")
	}
}

func TestLoader_WithOpenPGPDecrypter(t *testing.T) {
	l, _ := testLoader(t, OpenPGPDecrypter{})
	l.EncryptedPath = encryptSymmetric(t, samplePlain, "hunter2", false)
	writeFile(t, l.KeyPaths[0], "hunter2\n")

	cfg, err := l.Load(context.Background())
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Model != "qwen2.5:14b" {
		t.Errorf("Model = %q, want qwen2.5:14b", cfg.Model)
	}
}

// fakeGPG installs a shell script standing in for gpg.
func fakeGPG(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fake requires a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "gpg")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestGPGDecrypter_Success(t *testing.T) {
	// Echo the passphrase back so the argument order is checked too.
	bin := fakeGPG(t, `[ "$1" = "--batch" ] && [ "$2" = "--quiet" ] && [ "$3" = "--passphrase" ] && [ "$5" = "--decrypt" ] || exit 9
printf 'model: %s\n' "$4"
`)
	g := &GPGDecrypter{Binary: bin}

	got, err := g.Decrypt(context.Background(), "/dev/null", "from-key")
	if err != nil {
		t.Fatalf("Decrypt error: %v", err)
	}
	if string(got) != "model: from-key\n" {
		t.Errorf("Decrypt = %q", got)
	}
}

func TestGPGDecrypter_NonZeroExitSurfacesStderr(t *testing.T) {
	bin := fakeGPG(t, "echo 'gpg: decryption failed: Bad session key' >&2\nexit 2\n")
	g := &GPGDecrypter{Binary: bin}

	_, err := g.Decrypt(context.Background(), "/dev/null", "wrong")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "Bad session key") {
		t.Errorf("error %q should include gpg stderr", err)
	}
}

func TestGPGDecrypter_Timeout(t *testing.T) {
	bin := fakeGPG(t, "sleep 5\n")
	g := &GPGDecrypter{Binary: bin}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := g.Decrypt(ctx, "/dev/null", "k")
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("timeout took %v, expected prompt return", elapsed)
	}
}

func TestGPGDecrypter_MissingBinary(t *testing.T) {
	g := &GPGDecrypter{Binary: filepath.Join(t.TempDir(), "no-such-gpg")}
	if _, err := g.Decrypt(context.Background(), "/dev/null", "k"); err == nil {
		t.Fatal("expected spawn error")
	}
}
