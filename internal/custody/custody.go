// Package custody encrypts signing keys at rest. A blob is
// base64(salt[16] | nonce[12] | tag[16] | ciphertext), sealed with AES-256-GCM
// under a scrypt-derived key, and is the only persisted form of a key.
package custody

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"io"
	"strings"

	"golang.org/x/crypto/scrypt"

	clierr "github.com/ggonzalez94/swapdesk/internal/errors"
	"github.com/ggonzalez94/swapdesk/internal/execution/signer"
)

const (
	saltSize  = 16
	nonceSize = 12
	tagSize   = 16
	keySize   = 32

	scryptN = 16384
	scryptR = 8
	scryptP = 1
)

// Wallet is what leaves custody after key creation or import.
type Wallet struct {
	Address string
	Blob    string
}

type Service struct {
	passphrase []byte
	random     io.Reader
}

// New fails when the process-wide passphrase is empty. Rotating the
// passphrase makes existing blobs undecryptable.
func New(passphrase string) (*Service, error) {
	if strings.TrimSpace(passphrase) == "" {
		return nil, clierr.New(clierr.CodeUsage, "wallet secret is not configured (set SWAPDESK_WALLET_SECRET)")
	}
	return &Service{passphrase: []byte(passphrase), random: rand.Reader}, nil
}

func (s *Service) Encrypt(plaintext []byte) (string, error) {
	salt := make([]byte, saltSize)
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(s.random, salt); err != nil {
		return "", clierr.Wrap(clierr.CodeInternal, "read salt", err)
	}
	if _, err := io.ReadFull(s.random, nonce); err != nil {
		return "", clierr.Wrap(clierr.CodeInternal, "read nonce", err)
	}
	aead, err := s.aead(salt)
	if err != nil {
		return "", err
	}
	sealed := aead.Seal(nil, nonce, plaintext, nil)
	ct, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	out := make([]byte, 0, saltSize+nonceSize+tagSize+len(ct))
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, tag...)
	out = append(out, ct...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt returns the plaintext or an error, never partial data.
func (s *Service) Decrypt(blob string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(blob))
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeSigner, "decode key blob", err)
	}
	if len(raw) < saltSize+nonceSize+tagSize {
		return nil, clierr.New(clierr.CodeSigner, "key blob is truncated")
	}
	salt := raw[:saltSize]
	nonce := raw[saltSize : saltSize+nonceSize]
	tag := raw[saltSize+nonceSize : saltSize+nonceSize+tagSize]
	ct := raw[saltSize+nonceSize+tagSize:]

	aead, err := s.aead(salt)
	if err != nil {
		return nil, err
	}
	sealed := make([]byte, 0, len(ct)+tagSize)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)
	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeSigner, "decrypt key blob (wrong secret or corrupted data)", err)
	}
	return plain, nil
}

func (s *Service) aead(salt []byte) (cipher.AEAD, error) {
	key, err := scrypt.Key(s.passphrase, salt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "derive key", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "init cipher", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "init gcm", err)
	}
	return aead, nil
}

// CreateWallet generates a key and returns it already encrypted.
func (s *Service) CreateWallet() (Wallet, error) {
	pk, err := signer.Generate()
	if err != nil {
		return Wallet{}, clierr.Wrap(clierr.CodeInternal, "create wallet", err)
	}
	return s.seal(signer.EncodeHexKey(pk))
}

// ImportKey validates a hex private key before encrypting it.
func (s *Service) ImportKey(hexKey string) (Wallet, error) {
	pk, err := signer.ParseHexKey(hexKey)
	if err != nil {
		return Wallet{}, clierr.Wrap(clierr.CodeUsage, "Invalid private key", err)
	}
	return s.seal(signer.EncodeHexKey(pk))
}

func (s *Service) ImportKeystore(keyJSON []byte, password string) (Wallet, error) {
	pk, err := signer.DecryptKeystore(keyJSON, password)
	if err != nil {
		return Wallet{}, clierr.Wrap(clierr.CodeUsage, "Invalid keystore", err)
	}
	return s.seal(signer.EncodeHexKey(pk))
}

func (s *Service) seal(hexKey string) (Wallet, error) {
	pk, err := signer.ParseHexKey(hexKey)
	if err != nil {
		return Wallet{}, clierr.Wrap(clierr.CodeInternal, "parse key", err)
	}
	local, err := signer.NewLocalSigner(pk)
	if err != nil {
		return Wallet{}, clierr.Wrap(clierr.CodeInternal, "derive address", err)
	}
	blob, err := s.Encrypt([]byte(hexKey))
	if err != nil {
		return Wallet{}, err
	}
	return Wallet{Address: local.Address().Hex(), Blob: blob}, nil
}

// Signer decrypts blob into a signer. The key lives only as long as the
// returned value.
func (s *Service) Signer(blob string) (signer.Signer, error) {
	plain, err := s.Decrypt(blob)
	if err != nil {
		return nil, err
	}
	defer clear(plain)
	pk, err := signer.ParseHexKey(string(plain))
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeSigner, "stored key is invalid", err)
	}
	local, err := signer.NewLocalSigner(pk)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeSigner, "load signer", err)
	}
	return local, nil
}
