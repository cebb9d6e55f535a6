// Package signer implements a signing identity whose private key is held by an external key custody provider.
//
// The provider (secure element, HSM, TPM, cloud KMS) never reveals the key.
// Identity only keeps the public key and forwards every signing request to the
// provider, so it can be used anywhere a crypto.Signer is accepted: CSR
// creation and TLS handshakes.
package signer

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/tls"
	"crypto/x509"
	"io"

	"github.com/pkg/errors"
	"github.com/whitekid/goxp/log"

	"setls/pkg/helper/x509x"
)

var (
	ErrKeyUnavailable       = errors.New("key provider returned no public key")
	ErrSigningFailed        = errors.New("key provider returned no signature")
	ErrUnsupportedKey       = errors.New("public key is not ECDSA P-256")
	ErrUnsupportedAlgorithm = errors.New("only ECDSA P-256 with SHA-256 is supported")
)

// Provider external key custody provider.
//
// Both calls may block for a long time, ex) biometric gated secure element.
// Empty output is a failure.
type Provider interface {
	// PublicKey returns PKIX SubjectPublicKeyInfo DER or uncompressed SEC1 point
	PublicKey() ([]byte, error)

	// Sign returns ASN.1 DER ECDSA signature over the given SHA-256 digest; the provider must not hash it again
	Sign(digest []byte) ([]byte, error)
}

// Identity public key with its remote signing capability
type Identity struct {
	provider  Provider
	publicKey *ecdsa.PublicKey
	pkixBytes []byte
}

var _ crypto.Signer = (*Identity)(nil)

// New fetch the public key from provider and returns identity
func New(provider Provider) (*Identity, error) {
	raw, err := provider.PublicKey()
	if err != nil {
		return nil, errors.Wrap(ErrKeyUnavailable, err.Error())
	}
	if len(raw) == 0 {
		return nil, ErrKeyUnavailable
	}

	pub, err := x509x.ParsePublicKey(raw)
	if err != nil {
		return nil, errors.Wrap(ErrUnsupportedKey, err.Error())
	}

	if pub.Curve.Params().Name != "P-256" {
		return nil, errors.Wrap(ErrUnsupportedKey, pub.Curve.Params().Name)
	}

	pkixBytes, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, errors.Wrap(err, "fail to encode public key")
	}

	return &Identity{
		provider:  provider,
		publicKey: pub,
		pkixBytes: pkixBytes,
	}, nil
}

// Public implements crypto.Signer
func (id *Identity) Public() crypto.PublicKey { return id.publicKey }

// PublicKeyBytes PKIX DER encoded public key
func (id *Identity) PublicKeyBytes() []byte { return id.pkixBytes }

func (id *Identity) SignatureAlgorithm() x509.SignatureAlgorithm { return x509.ECDSAWithSHA256 }
func (id *Identity) SignatureScheme() tls.SignatureScheme      { return tls.ECDSAWithP256AndSHA256 }

// Sign implements crypto.Signer; the digest is forwarded to the provider as is.
// there is no retry, a failed provider call fails the caller.
func (id *Identity) Sign(_ io.Reader, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	if opts == nil || opts.HashFunc() != crypto.SHA256 {
		return nil, ErrUnsupportedAlgorithm
	}

	if len(digest) != crypto.SHA256.Size() {
		return nil, errors.Wrapf(ErrUnsupportedAlgorithm, "digest size %d", len(digest))
	}

	log.Debugf("sign request to key provider: digest=%x", digest)
	signature, err := id.provider.Sign(digest)
	if err != nil {
		return nil, errors.Wrap(ErrSigningFailed, err.Error())
	}

	if len(signature) == 0 {
		return nil, ErrSigningFailed
	}

	return signature, nil
}
