package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"

	"legalmind/internal/domain"
)

// EncPrefix marks a config value sealed with SealValue.
const EncPrefix = "enc:"

// ConfigKeyEnv names the passphrase variable used to open sealed values.
const ConfigKeyEnv = "LEGALMIND_CONFIG_KEY"

const saltLen = 16

// Argon2id parameters for the key that seals config values.
const (
	kdfTime    = 1
	kdfMemory  = 64 * 1024
	kdfThreads = 4
	kdfKeyLen  = 32
)

var sealEncoding = base64.RawURLEncoding

// decryptSecrets opens every sealed provider API key in place.
func decryptSecrets(cfg *Config, passphrase string) error {
	for i := range cfg.LLM.Providers {
		p := &cfg.LLM.Providers[i]
		sealed, ok := strings.CutPrefix(p.APIKey, EncPrefix)
		if !ok {
			continue
		}
		plain, err := DecryptValue(sealed, passphrase)
		if err != nil {
			return fmt.Errorf("provider %s api_key: %w", p.Name, err)
		}
		p.APIKey = plain
	}
	return nil
}

// EncryptValue seals plaintext with AES-256-GCM under an Argon2id key. The
// result is base64url(salt | nonce | ciphertext), without the "enc:" prefix.
func EncryptValue(plaintext, passphrase string) (string, error) {
	buf := make([]byte, saltLen, saltLen+12+len(plaintext)+16)
	if _, err := rand.Read(buf); err != nil {
		return "", domain.NewDomainError("config.EncryptValue", domain.ErrEncryption, "salt: "+err.Error())
	}
	aead, err := newAEAD(passphrase, buf)
	if err != nil {
		return "", domain.NewDomainError("config.EncryptValue", domain.ErrEncryption, err.Error())
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", domain.NewDomainError("config.EncryptValue", domain.ErrEncryption, "nonce: "+err.Error())
	}
	buf = append(buf, nonce...)
	buf = aead.Seal(buf, nonce, []byte(plaintext), nil)
	return sealEncoding.EncodeToString(buf), nil
}

// DecryptValue opens a value produced by EncryptValue.
func DecryptValue(sealed, passphrase string) (string, error) {
	fail := func(reason string) error {
		return domain.NewDomainError("config.DecryptValue", domain.ErrDecryption, reason)
	}
	raw, err := sealEncoding.DecodeString(sealed)
	if err != nil {
		return "", fail("not base64url")
	}
	if len(raw) < saltLen {
		return "", fail("too short")
	}
	aead, err := newAEAD(passphrase, raw[:saltLen])
	if err != nil {
		return "", fail(err.Error())
	}
	rest := raw[saltLen:]
	if len(rest) < aead.NonceSize()+aead.Overhead() {
		return "", fail("too short")
	}
	nonce, body := rest[:aead.NonceSize()], rest[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, body, nil)
	if err != nil {
		return "", fail("wrong passphrase or corrupted value")
	}
	return string(plain), nil
}

func newAEAD(passphrase string, salt []byte) (cipher.AEAD, error) {
	key := argon2.IDKey([]byte(passphrase), salt, kdfTime, kdfMemory, kdfThreads, kdfKeyLen)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
