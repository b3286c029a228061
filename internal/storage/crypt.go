package storage

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"filippo.io/age"
)

// sealer encrypts objects at rest for a fixed set of age recipients.
type sealer struct {
	recipients []age.Recipient
	identities []age.Identity
}

func newSealer(recipientKeys []string, identityFile string) (*sealer, error) {
	if len(recipientKeys) == 0 && identityFile == "" {
		return nil, nil
	}
	s := &sealer{}
	for _, key := range recipientKeys {
		r, err := age.ParseX25519Recipient(key)
		if err != nil {
			return nil, fmt.Errorf("parsing recipient key %q: %w", key, err)
		}
		s.recipients = append(s.recipients, r)
	}
	if identityFile != "" {
		f, err := os.Open(identityFile)
		if err != nil {
			return nil, fmt.Errorf("open identity file: %w", err)
		}
		defer f.Close()
		ids, err := age.ParseIdentities(f)
		if err != nil {
			return nil, fmt.Errorf("parse identity file: %w", err)
		}
		s.identities = ids
	}
	return s, nil
}

func (s *sealer) canSeal() bool { return s != nil && len(s.recipients) > 0 }

func (s *sealer) seal(plaintext []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, s.recipients...)
	if err != nil {
		return nil, fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, fmt.Errorf("writing to age encryptor: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalizing age encryption: %w", err)
	}
	return buf.Bytes(), nil
}

func (s *sealer) open(ciphertext []byte) ([]byte, error) {
	if s == nil || len(s.identities) == 0 {
		return nil, fmt.Errorf("object is encrypted and no identity is configured")
	}
	r, err := age.Decrypt(bytes.NewReader(ciphertext), s.identities...)
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}
	return io.ReadAll(r)
}
