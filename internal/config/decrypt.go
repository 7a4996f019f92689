package config

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/crypto/openpgp"
	"golang.org/x/crypto/openpgp/armor"
	pgperrors "golang.org/x/crypto/openpgp/errors"
)

// Decrypter turns an encrypted config artifact into plaintext using a
// passphrase. Implementations make exactly one attempt.
type Decrypter interface {
	Decrypt(ctx context.Context, artifact, passphrase string) ([]byte, error)
}

// DefaultDecrypter returns a [GPGDecrypter] when a gpg binary is on
// PATH, and an [OpenPGPDecrypter] otherwise.
func DefaultDecrypter() Decrypter {
	if bin, err := exec.LookPath("gpg"); err == nil {
		return &GPGDecrypter{Binary: bin}
	}
	return &OpenPGPDecrypter{}
}

// GPGDecrypter shells out to the gpg binary in batch mode.
type GPGDecrypter struct {
	// Binary is the gpg executable. Empty means "gpg" from PATH.
	Binary string
}

// Decrypt runs gpg --decrypt on artifact. A non-zero exit surfaces
// gpg's stderr in the returned error.
func (g *GPGDecrypter) Decrypt(ctx context.Context, artifact, passphrase string) ([]byte, error) {
	bin := g.Binary
	if bin == "" {
		bin = "gpg"
	}

	cmd := exec.CommandContext(ctx, bin,
		"--batch", "--quiet",
		"--passphrase", passphrase,
		"--decrypt", artifact,
	)
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("gpg decrypt: %w", ctxErr)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("gpg exited %d: %s", exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
		}
		return nil, fmt.Errorf("run gpg: %w", err)
	}
	return stdout.Bytes(), nil
}

// OpenPGPDecrypter decrypts symmetrically encrypted OpenPGP messages
// (binary or ASCII-armored) in-process. It covers hosts without a gpg
// binary. Messages using AEAD packets, which recent gpg versions emit
// by default, are not supported.
type OpenPGPDecrypter struct{}

const armorPrefix = "-----BEGIN PGP"

// Decrypt reads artifact and decrypts it with passphrase.
func (OpenPGPDecrypter) Decrypt(ctx context.Context, artifact, passphrase string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(artifact)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	br := bufio.NewReader(f)
	var r io.Reader = br
	if head, _ := br.Peek(len(armorPrefix)); string(head) == armorPrefix {
		block, err := armor.Decode(br)
		if err != nil {
			return nil, fmt.Errorf("decode armor: %w", err)
		}
		r = block.Body
	}

	// ReadMessage calls the prompt until a key works. Offer the
	// passphrase once, then give up.
	offered := false
	prompt := func(_ []openpgp.Key, symmetric bool) ([]byte, error) {
		if !symmetric {
			return nil, errors.New("message is not symmetrically encrypted")
		}
		if offered {
			return nil, pgperrors.ErrKeyIncorrect
		}
		offered = true
		return []byte(passphrase), nil
	}

	md, err := openpgp.ReadMessage(r, openpgp.EntityList{}, prompt, nil)
	if err != nil {
		return nil, fmt.Errorf("openpgp decrypt: %w", err)
	}

	plain, err := io.ReadAll(md.UnverifiedBody)
	if err != nil {
		return nil, fmt.Errorf("openpgp read: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return plain, nil
}
