package threatintel

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/ProtonMail/go-crypto/openpgp"
)

var ErrBadSignature = errors.New("feed signature verification failed")

// Verifier checks detached OpenPGP signatures on downloaded feeds.
type Verifier struct {
	keyring openpgp.EntityList
}

// LoadKeyring reads an armored or binary public keyring.
func LoadKeyring(path string) (*Verifier, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keyring: %w", err)
	}
	return NewVerifier(raw)
}

func NewVerifier(keyring []byte) (*Verifier, error) {
	entities, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(keyring))
	if err != nil {
		entities, err = openpgp.ReadKeyRing(bytes.NewReader(keyring))
		if err != nil {
			return nil, fmt.Errorf("parse keyring: %w", err)
		}
	}
	if len(entities) == 0 {
		return nil, fmt.Errorf("keyring has no keys")
	}
	return &Verifier{keyring: entities}, nil
}

func (v *Verifier) Verify(data, signature []byte) error {
	var err error
	if bytes.HasPrefix(bytes.TrimSpace(signature), []byte("-----BEGIN PGP SIGNATURE")) {
		_, err = openpgp.CheckArmoredDetachedSignature(v.keyring, bytes.NewReader(data), bytes.NewReader(signature), nil)
	} else {
		_, err = openpgp.CheckDetachedSignature(v.keyring, bytes.NewReader(data), bytes.NewReader(signature), nil)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return nil
}
