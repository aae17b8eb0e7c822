// Package secret реализует шифрование кодов склада перед сохранением.
package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	keyLength  = 32
	iterations = 100000
)

// Соль фиксированная: ключ задаётся конфигурацией, а шифртексты должны
// расшифровываться после перезапуска без отдельного хранилища солей.
var kdfSalt = []byte("codeshop_stock_salt")

// ErrCipherText возвращается при попытке расшифровать повреждённые данные.
var ErrCipherText = errors.New("malformed ciphertext")

// Cipher шифрует и расшифровывает коды алгоритмом AES-256-GCM. Ключ
// выводится из парольной фразы через PBKDF2-HMAC-SHA256.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher создаёт шифратор из парольной фразы.
func NewCipher(passphrase string) (*Cipher, error) {
	if passphrase == "" {
		return nil, errors.New("empty passphrase")
	}

	key := pbkdf2.Key([]byte(passphrase), kdfSalt, iterations, keyLength, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}

	return &Cipher{aead: aead}, nil
}

// Encrypt шифрует строку и возвращает base64-представление nonce+шифртекста.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.URLEncoding.EncodeToString(sealed), nil
}

// Decrypt расшифровывает строку, полученную из Encrypt.
func (c *Cipher) Decrypt(encoded string) (string, error) {
	raw, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrCipherText, err)
	}

	if len(raw) < c.aead.NonceSize() {
		return "", ErrCipherText
	}

	nonce, sealed := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]

	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrCipherText, err)
	}

	return string(plaintext), nil
}
