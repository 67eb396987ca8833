// Package vault implements the engine's secret-sealing primitive: symmetric,
// authenticated encryption of credential blobs (passwords, OAuth tokens) so
// that plaintext never touches the cache database.
package vault

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/zalando/go-keyring"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/sha3"

	"github.com/hkdb/mailengine/internal/logging"
)

// ErrUnsealFailed is returned when ciphertext is tampered with or the wrong
// key is in use. It is never recovered; callers surface it as an
// authentication error.
var ErrUnsealFailed = errors.New("vault: unseal failed")

const (
	serviceName  = "mailengine"
	keyringKeyID = "vault-data-key"
	keySize      = 32 // 256-bit AEAD key
	nonceSize    = chacha20poly1305.NonceSizeX
	pbkdf2Iters  = 200_000
)

// sealer is the pluggable primitive behind Vault. The default installation
// prefers an OS-keyring-backed sealer and falls back to a local AEAD sealer
// derived from a device secret when no keyring is available.
type sealer interface {
	seal(plaintext []byte) ([]byte, error)
	unseal(ciphertext []byte) ([]byte, error)
	name() string
}

// Vault seals and unseals credential blobs. It holds no plaintext except
// transiently inside Seal/Unseal calls.
type Vault struct {
	s   sealer
	log zerolog.Logger
}

// Open constructs a Vault rooted at dataDir (used only by the AEAD fallback
// to persist its device secret and salt). It probes the OS keyring once and
// falls back transparently if unavailable.
func Open(dataDir string) (*Vault, error) {
	log := logging.WithComponent("vault")

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("vault: create data dir: %w", err)
	}

	if ks, err := newKeyringSealer(); err == nil {
		log.Debug().Msg("OS keyring available, using keyring-backed sealer")
		return &Vault{s: ks, log: log}, nil
	}

	log.Debug().Msg("OS keyring unavailable, falling back to local AEAD sealer")
	as, err := newAEADSealer(dataDir)
	if err != nil {
		return nil, fmt.Errorf("vault: init fallback sealer: %w", err)
	}
	return &Vault{s: as, log: log}, nil
}

// Seal authenticated-encrypts plaintext. The returned blob embeds a random
// nonce and is safe to store alongside other cache rows.
func (v *Vault) Seal(plaintext []byte) ([]byte, error) {
	return v.s.seal(plaintext)
}

// Unseal authenticates and decrypts a blob previously produced by Seal. It
// returns ErrUnsealFailed on any tampering or key mismatch.
func (v *Vault) Unseal(ciphertext []byte) ([]byte, error) {
	pt, err := v.s.unseal(ciphertext)
	if err != nil {
		return nil, ErrUnsealFailed
	}
	return pt, nil
}

// SealerName reports which sealer implementation is active ("keyring" or
// "aead-fallback"), useful for the readiness diagnostic surface.
func (v *Vault) SealerName() string {
	return v.s.name()
}

// --- keyring-backed sealer -------------------------------------------------

type keyringSealer struct {
	aead cipherAEAD
}

func newKeyringSealer() (*keyringSealer, error) {
	key, err := keyring.Get(serviceName, keyringKeyID)
	if err != nil {
		if !errors.Is(err, keyring.ErrNotFound) {
			return nil, err
		}
		raw := make([]byte, keySize)
		if _, err := io.ReadFull(rand.Reader, raw); err != nil {
			return nil, err
		}
		key = string(raw)
		if err := keyring.Set(serviceName, keyringKeyID, key); err != nil {
			return nil, err
		}
	}

	// Self-test: write and delete a throwaway entry to confirm the keyring
	// backend actually persists, rather than silently no-op'ing (seen on
	// some headless Linux setups without a Secret Service provider).
	if err := keyring.Set(serviceName, "vault-selftest", "ok"); err != nil {
		return nil, err
	}
	_ = keyring.Delete(serviceName, "vault-selftest")

	aead, err := chacha20poly1305.NewX([]byte(key)[:keySize])
	if err != nil {
		return nil, err
	}
	return &keyringSealer{aead: aead}, nil
}

func (k *keyringSealer) seal(pt []byte) ([]byte, error)   { return aeadSeal(k.aead, pt) }
func (k *keyringSealer) unseal(ct []byte) ([]byte, error) { return aeadUnseal(k.aead, ct) }
func (k *keyringSealer) name() string                     { return "keyring" }

// --- local AEAD fallback sealer --------------------------------------------

type aeadSealer struct {
	aead cipherAEAD
}

func newAEADSealer(dataDir string) (*aeadSealer, error) {
	secretPath := filepath.Join(dataDir, "vault.key")
	saltPath := filepath.Join(dataDir, "vault.salt")

	secret, err := loadOrCreateRandom(secretPath, 32)
	if err != nil {
		return nil, err
	}
	salt, err := loadOrCreateRandom(saltPath, 16)
	if err != nil {
		return nil, err
	}

	key := pbkdf2.Key(secret, salt, pbkdf2Iters, keySize, sha3.New256)
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	return &aeadSealer{aead: aead}, nil
}

func (a *aeadSealer) seal(pt []byte) ([]byte, error)   { return aeadSeal(a.aead, pt) }
func (a *aeadSealer) unseal(ct []byte) ([]byte, error) { return aeadUnseal(a.aead, ct) }
func (a *aeadSealer) name() string                     { return "aead-fallback" }

func loadOrCreateRandom(path string, n int) ([]byte, error) {
	if b, err := os.ReadFile(path); err == nil && len(b) == n {
		return b, nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, b, 0600); err != nil {
		return nil, err
	}
	return b, nil
}

// --- shared AEAD helpers ----------------------------------------------------

// cipherAEAD is the subset of cipher.AEAD used here, narrowed so both
// chacha20poly1305.New and NewX satisfy it despite different nonce sizes.
type cipherAEAD interface {
	NonceSize() int
	Overhead() int
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
}

func aeadSeal(a cipherAEAD, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, a.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(nonce)+len(plaintext)+a.Overhead())
	out = append(out, nonce...)
	out = a.Seal(out, nonce, plaintext, nil)
	return out, nil
}

func aeadUnseal(a cipherAEAD, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < a.NonceSize() {
		return nil, errors.New("vault: ciphertext too short")
	}
	nonce, ct := ciphertext[:a.NonceSize()], ciphertext[a.NonceSize():]
	return a.Open(nil, nonce, ct, nil)
}
