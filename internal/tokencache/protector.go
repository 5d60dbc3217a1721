package tokencache

import (
	"bytes"
	"context"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/florianilch/graphauth/internal/secretstore"
)

// Protector turns the serialized cache into the bytes stored on disk and back.
type Protector interface {
	// Protect returns the at-rest representation of plaintext.
	Protect(plaintext []byte) ([]byte, error)
	// Unprotect reverses Protect. Returns an error for tampered or foreign data.
	Unprotect(blob []byte) ([]byte, error)
	// Secure reports whether the at-rest representation is confidential.
	Secure() bool
	// Name identifies the strategy in logs.
	Name() string
}

// sealedMagic prefixes every sealed blob and is bound as additional data.
var sealedMagic = []byte("GAC1")

// SealedProtector encrypts the cache with XChaCha20-Poly1305 under a key held in
// a secret store.
type SealedProtector struct {
	aead cipher.AEAD
}

// Compile-time check to ensure SealedProtector implements Protector
var _ Protector = (*SealedProtector)(nil)

// NewSealedProtector loads the sealing key from store, generating and storing a
// new random key if none exists yet.
func NewSealedProtector(ctx context.Context, store secretstore.SecretStore) (*SealedProtector, error) {
	if store == nil {
		return nil, fmt.Errorf("missing secret store")
	}

	key, err := loadOrCreateKey(ctx, store)
	if err != nil {
		return nil, err
	}

	return NewSealedProtectorWithKey(key)
}

// NewSealedProtectorWithKey creates a SealedProtector from a raw 32-byte key.
func NewSealedProtectorWithKey(key []byte) (*SealedProtector, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	return &SealedProtector{aead: aead}, nil
}

func loadOrCreateKey(ctx context.Context, store secretstore.SecretStore) ([]byte, error) {
	encoded, err := store.Read(ctx)
	switch {
	case errors.Is(err, secretstore.ErrNotFound):
		key := make([]byte, chacha20poly1305.KeySize)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generating cache key: %w", err)
		}
		if err := store.Write(ctx, base64.StdEncoding.EncodeToString(key)); err != nil {
			return nil, fmt.Errorf("storing cache key: %w", err)
		}
		return key, nil
	case err != nil:
		return nil, fmt.Errorf("reading cache key: %w", err)
	}

	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decoding cache key: %w", err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("cache key has %d bytes, expected %d", len(key), chacha20poly1305.KeySize)
	}
	return key, nil
}

// Protect seals plaintext under a fresh random nonce.
func (s *SealedProtector) Protect(plaintext []byte) ([]byte, error) {
	nonceSize := s.aead.NonceSize()
	out := make([]byte, len(sealedMagic)+nonceSize, len(sealedMagic)+nonceSize+len(plaintext)+s.aead.Overhead())
	copy(out, sealedMagic)
	nonce := out[len(sealedMagic):]
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return s.aead.Seal(out, nonce, plaintext, sealedMagic), nil
}

// Unprotect opens a blob produced by Protect with the same key.
func (s *SealedProtector) Unprotect(blob []byte) ([]byte, error) {
	headerSize := len(sealedMagic) + s.aead.NonceSize()
	if len(blob) < headerSize+s.aead.Overhead() || !bytes.HasPrefix(blob, sealedMagic) {
		return nil, errors.New("not a sealed token cache")
	}
	nonce := blob[len(sealedMagic):headerSize]
	plaintext, err := s.aead.Open(nil, nonce, blob[headerSize:], sealedMagic)
	if err != nil {
		return nil, fmt.Errorf("opening sealed token cache: %w", err)
	}
	return plaintext, nil
}

func (s *SealedProtector) Secure() bool { return true }

func (s *SealedProtector) Name() string { return "xchacha20poly1305" }

// PlaintextProtector stores the cache unencrypted. Anyone able to read the file
// can use the refresh tokens in it.
type PlaintextProtector struct{}

// Compile-time check to ensure PlaintextProtector implements Protector
var _ Protector = PlaintextProtector{}

func (PlaintextProtector) Protect(plaintext []byte) ([]byte, error) {
	return bytes.Clone(plaintext), nil
}

func (PlaintextProtector) Unprotect(blob []byte) ([]byte, error) {
	if bytes.HasPrefix(blob, sealedMagic) {
		return nil, errors.New("token cache is sealed, plaintext protector cannot read it")
	}
	return bytes.Clone(blob), nil
}

func (PlaintextProtector) Secure() bool { return false }

func (PlaintextProtector) Name() string { return "insecure-plaintext" }
