// Package ca implements the private certificate authority that issues device certificates from CSRs.
package ca

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/whitekid/goxp/log"

	"setls/chain"
	"setls/pkg/helper/x509x"
)

const (
	CACommonName     = "SETLS-CA"
	DeviceCommonName = "SETLS"

	// requiredSubject CSR subject DN must contain this token
	requiredSubject = "CN=" + DeviceCommonName

	DefaultValidity = 180 * 24 * time.Hour
)

var (
	ErrMalformedRequest         = errors.New("malformed certificate request")
	ErrUnauthorizedSubject      = errors.New("invalid DN: must be CN=" + DeviceCommonName)
	ErrInvalidProofOfPossession = errors.New("signature verification error")
)

// Authority CA key pair and self-signed certificate.
// immutable after New() and safe for concurrent Issue()
type Authority struct {
	key     *ecdsa.PrivateKey
	cert    *x509.Certificate
	certDER []byte

	validity time.Duration
	now      func() time.Time
}

type Option func(*Authority)

// WithValidity issued leaf lifetime
func WithValidity(d time.Duration) Option { return func(a *Authority) { a.validity = d } }

// WithClock clock for issuance time
func WithClock(now func() time.Time) Option { return func(a *Authority) { a.now = now } }

// New generate P-256 CA key and self-signed CA certificate
func New(opts ...Option) (*Authority, error) {
	a := &Authority{
		validity: DefaultValidity,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}

	log.Infof("Generating P-256 ECDSA key and CA certificate...")
	key, err := x509x.GenerateKey()
	if err != nil {
		return nil, errors.Wrap(err, "fail to create CA")
	}

	notBefore := a.now().UTC()
	template := &x509.Certificate{
		SerialNumber:          x509x.RandomSerial(),
		Subject:               pkix.Name{CommonName: CACommonName},
		DNSNames:              []string{CACommonName},
		NotBefore:             notBefore,
		NotAfter:              notBefore.AddDate(10, 0, 0),
		IsCA:                  true,
		BasicConstraintsValid: true,
		MaxPathLen:            -1,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		SignatureAlgorithm:    x509.ECDSAWithSHA256,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, key.Public(), key)
	if err != nil {
		return nil, errors.Wrap(err, "fail to create CA certificate")
	}

	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, errors.Wrap(err, "fail to create CA certificate")
	}

	a.key = key
	a.cert = cert
	a.certDER = certDER

	return a, nil
}

func (a *Authority) Certificate() *x509.Certificate { return a.cert }
func (a *Authority) CertificatePEM() []byte       { return x509x.EncodeCertificateToPEM(a.certDER) }

// Issue validate CSR and returns chain with issued leaf certificate followed by the CA certificate.
// any failure returns no chain.
func (a *Authority) Issue(ctx context.Context, csrPEM string) (*chain.Chain, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "issue canceled")
	}

	der, err := x509x.DecodeCSR([]byte(csrPEM))
	if err != nil {
		return nil, errors.Wrap(ErrMalformedRequest, err.Error())
	}

	csr, err := x509.ParseCertificateRequest(der)
	if err != nil {
		return nil, errors.Wrap(ErrMalformedRequest, err.Error())
	}

	if !strings.Contains(csr.Subject.String(), requiredSubject) {
		log.Debugf("reject CSR with subject %s", csr.Subject)
		return nil, ErrUnauthorizedSubject
	}

	if err := csr.CheckSignature(); err != nil {
		log.Infof("Incoming CSR signature verification failed: %v", err)
		return nil, errors.Wrap(ErrInvalidProofOfPossession, err.Error())
	}
	log.Debugf("Incoming CSR signature verification passed")

	leafDER, err := a.createLeaf(csr)
	if err != nil {
		return nil, err
	}

	log.Infof("Certificate issued successfully")
	return chain.New(leafDER, a.certDER), nil
}

func (a *Authority) createLeaf(csr *x509.CertificateRequest) ([]byte, error) {
	notBefore := a.now().UTC()
	template := &x509.Certificate{
		SerialNumber:          x509x.RandomSerial(),
		Subject:               pkix.Name{CommonName: DeviceCommonName},
		DNSNames:              []string{DeviceCommonName},
		NotBefore:             notBefore,
		NotAfter:              notBefore.Add(a.validity),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		SignatureAlgorithm:    x509.ECDSAWithSHA256,
	}

	leafDER, err := x509.CreateCertificate(rand.Reader, template, a.cert, csr.PublicKey, a.key)
	if err != nil {
		return nil, errors.Wrap(err, "fail to create certificate")
	}

	return leafDER, nil
}
