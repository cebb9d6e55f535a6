package signer

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/x509"

	"github.com/pkg/errors"

	"setls/pkg/helper/x509x"
)

var errNoCallback = errors.New("provider callback is not set")

// Funcs adapts host supplied callbacks to Provider, ex) FFI bridge to a secure element.
//
// SignFunc receives the SHA-256 digest, not the message. Hosts must call the
// digest variant of their signing primitive, ex) ecdsaSignatureDigestX962SHA256
// on Apple platforms; the message variant would hash twice.
type Funcs struct {
	PublicKeyFunc func() []byte
	SignFunc      func(digest []byte) []byte
}

var _ Provider = (*Funcs)(nil)

func (f *Funcs) PublicKey() ([]byte, error) {
	if f.PublicKeyFunc == nil {
		return nil, errNoCallback
	}
	return f.PublicKeyFunc(), nil
}

func (f *Funcs) Sign(digest []byte) ([]byte, error) {
	if f.SignFunc == nil {
		return nil, errNoCallback
	}
	return f.SignFunc(digest), nil
}

// Software provider with in-process key; for development devices and tests
type Software struct {
	key *ecdsa.PrivateKey
}

var _ Provider = (*Software)(nil)

func NewSoftware() (*Software, error) {
	key, err := x509x.GenerateKey()
	if err != nil {
		return nil, errors.Wrap(err, "fail to generate key")
	}

	return &Software{key: key}, nil
}

// LoadSoftware load provider from PEM encoded private key
func LoadSoftware(keyPEM []byte) (*Software, error) {
	priv, err := x509x.ParsePrivateKey(keyPEM)
	if err != nil {
		return nil, err
	}

	key, ok := priv.(*ecdsa.PrivateKey)
	if !ok {
		return nil, errors.Wrapf(ErrUnsupportedKey, "%T", priv)
	}

	return &Software{key: key}, nil
}

func (s *Software) PEM() ([]byte, error) { return x509x.EncodePrivateKeyToPEM(s.key) }

func (s *Software) PublicKey() ([]byte, error) { return x509.MarshalPKIXPublicKey(s.key.Public()) }

func (s *Software) Sign(digest []byte) ([]byte, error) {
	return ecdsa.SignASN1(rand.Reader, s.key, digest)
}
