package secrets

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
)

// AgeEncryptor seals small secrets to a single X25519 identity.
type AgeEncryptor struct {
	identity  *age.X25519Identity
	recipient *age.X25519Recipient
}

// NewAgeEncryptor wraps an existing identity.
func NewAgeEncryptor(id *age.X25519Identity) *AgeEncryptor {
	return &AgeEncryptor{identity: id, recipient: id.Recipient()}
}

// LoadOrCreateKey reads an age identity from path, generating and
// writing a new one (mode 0600) when the file does not exist.
func LoadOrCreateKey(path string) (*AgeEncryptor, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		id, err := parseIdentity(data)
		if err != nil {
			return nil, fmt.Errorf("parse age key %s: %w", path, err)
		}
		return NewAgeEncryptor(id), nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read age key: %w", err)
	}

	id, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generate age key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create key dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(id.String()+"\n"), 0o600); err != nil {
		return nil, fmt.Errorf("write age key: %w", err)
	}
	return NewAgeEncryptor(id), nil
}

// parseIdentity accepts a bare key or an age-keygen style file with comments.
func parseIdentity(data []byte) (*age.X25519Identity, error) {
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return age.ParseX25519Identity(line)
	}
	return nil, errors.New("no identity found")
}

// Encrypt seals plaintext to the encryptor's recipient.
func (e *AgeEncryptor) Encrypt(plaintext []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, e.recipient)
	if err != nil {
		return nil, fmt.Errorf("age encrypt: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, fmt.Errorf("age write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("age close: %w", err)
	}
	return buf.Bytes(), nil
}

// Decrypt opens a blob produced by Encrypt.
func (e *AgeEncryptor) Decrypt(ciphertext []byte) ([]byte, error) {
	r, err := age.Decrypt(bytes.NewReader(ciphertext), e.identity)
	if err != nil {
		return nil, fmt.Errorf("age decrypt: %w", err)
	}
	plain, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("age read: %w", err)
	}
	return plain, nil
}
