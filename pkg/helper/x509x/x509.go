package x509x

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"math/big"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/whitekid/goxp/fx"
)

const (
	CertificatePEMBlockType     = "CERTIFICATE"
	CsrPEMBlockType             = "CERTIFICATE REQUEST"
	OldCsrPEMBlockType          = "NEW CERTIFICATE REQUEST"
	EcdsaPrivateKeyPEMBlockType = "EC PRIVATE KEY"
	Pkcs8PrivateKeyPEMBlockType = "PRIVATE KEY"

	pemPrefix = "-----BEGIN "
)

var (
	pemPrefixCertificate = []byte(pemPrefix + CertificatePEMBlockType)

	ErrInvalidPEM = errors.New("invalid PEM")
)

var randReader = rand.Reader

// PrivateKey private key that also signs
type PrivateKey interface {
	crypto.PrivateKey
	crypto.Signer
}

// ParseCertificate parse x509 certificate PEM block or DER bytes
func ParseCertificate(certBytes []byte) (*x509.Certificate, error) {
	if bytes.HasPrefix(certBytes, pemPrefixCertificate) {
		p, _ := pem.Decode(certBytes)
		if p == nil {
			return nil, ErrInvalidPEM
		}

		certBytes = p.Bytes
	}

	return x509.ParseCertificate(certBytes)
}

func ParseCertificateChain(pemBytes []byte) ([]*x509.Certificate, error) {
	certs := make([]*x509.Certificate, 0)
	for {
		p, rest := pem.Decode(pemBytes)
		if p == nil {
			return certs, nil
		}

		cert, err := x509.ParseCertificate(p.Bytes)
		if err != nil {
			return nil, errors.Wrap(err, "certificate parse failed")
		}
		certs = append(certs, cert)
		pemBytes = rest
	}
}

// IsCSRBlockType true if PEM label names a certificate request.
// both "CERTIFICATE REQUEST" and legacy "NEW CERTIFICATE REQUEST" are accepted.
func IsCSRBlockType(blockType string) bool {
	return strings.Contains(blockType, CsrPEMBlockType)
}

// DecodeCSR decode a single PEM block labeled as certificate request and returns its DER bytes
func DecodeCSR(csrPEMBytes []byte) ([]byte, error) {
	p, _ := pem.Decode(csrPEMBytes)
	if p == nil {
		return nil, ErrInvalidPEM
	}

	if !IsCSRBlockType(p.Type) {
		return nil, errors.Errorf("not a certificate request: %s", p.Type)
	}

	return p.Bytes, nil
}

// ParseCSR parse x509 CSR PEM block
func ParseCSR(csrPEMBytes []byte) (*x509.CertificateRequest, error) {
	der, err := DecodeCSR(csrPEMBytes)
	if err != nil {
		return nil, err
	}

	return x509.ParseCertificateRequest(der)
}

// GenerateKey generate ECDSA P-256 key pair, the only key type supported by key custody providers
func GenerateKey() (*ecdsa.PrivateKey, error) {
	return ecdsa.GenerateKey(elliptic.P256(), randReader)
}

// ParsePrivateKey parse pem formatted EC or PKCS#8 private key
func ParsePrivateKey(keyPemBytes []byte) (PrivateKey, error) {
	p, _ := pem.Decode(keyPemBytes)
	if p == nil {
		return nil, ErrInvalidPEM
	}

	switch p.Type {
	case EcdsaPrivateKeyPEMBlockType:
		key, err := x509.ParseECPrivateKey(p.Bytes)
		if err != nil {
			return nil, errors.Wrap(err, "fail to parse private key")
		}
		return key, nil

	case Pkcs8PrivateKeyPEMBlockType:
		key, err := x509.ParsePKCS8PrivateKey(p.Bytes)
		if err != nil {
			return nil, errors.Wrap(err, "fail to parse private key")
		}

		priv, ok := key.(PrivateKey)
		if !ok {
			return nil, errors.Errorf("unsupported private key: %T", key)
		}
		return priv, nil

	default:
		return nil, errors.Errorf("unknown pem type: %s", p.Type)
	}
}

// ParsePublicKey parse PKIX SubjectPublicKeyInfo DER or uncompressed SEC1 P-256 point
func ParsePublicKey(der []byte) (*ecdsa.PublicKey, error) {
	if len(der) == 65 && der[0] == 4 {
		x, y := elliptic.Unmarshal(elliptic.P256(), der)
		if x == nil {
			return nil, errors.New("invalid P-256 point")
		}
		return &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}, nil
	}

	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, errors.Wrap(err, "fail to parse public key")
	}

	ecPub, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return nil, errors.Errorf("unsupported public key: %T", pub)
	}

	return ecPub, nil
}

func EncodeCertificateToPEM(derBytes []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{
		Type:    CertificatePEMBlockType,
		Headers: nil,
		Bytes:   derBytes,
	})
}

func EncodeCSRToPEM(derBytes []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{
		Type:  CsrPEMBlockType,
		Bytes: derBytes,
	})
}

func EncodePrivateKeyToPEM(privateKey *ecdsa.PrivateKey) ([]byte, error) {
	derBytes, err := x509.MarshalECPrivateKey(privateKey)
	if err != nil {
		return nil, errors.Wrap(err, "fail to encode private key")
	}

	return pem.EncodeToMemory(&pem.Block{
		Type:  EcdsaPrivateKeyPEMBlockType,
		Bytes: derBytes,
	}), nil
}

var (
	keyUsageToStr = map[x509.KeyUsage]string{
		x509.KeyUsageDigitalSignature:  "Digital Signature",
		x509.KeyUsageContentCommitment: "Non Repudiation",
		x509.KeyUsageKeyEncipherment:   "Key Encipherment",
		x509.KeyUsageDataEncipherment:  "Data Encipherment",
		x509.KeyUsageKeyAgreement:      "Key Agreement",
		x509.KeyUsageCertSign:          "Certificate Sign",
		x509.KeyUsageCRLSign:           "CRL Sign",
		x509.KeyUsageEncipherOnly:      "Encipher Only",
		x509.KeyUsageDecipherOnly:      "Decipher Only",
	}
	extKeyUsageToStr = map[x509.ExtKeyUsage]string{
		x509.ExtKeyUsageAny:        "Any",
		x509.ExtKeyUsageServerAuth: "TLS Web Server Authentication",
		x509.ExtKeyUsageClientAuth: "TLS Web Client Authentication",
	}

	keyUsages []x509.KeyUsage
)

func init() {
	keyUsages = fx.Keys(keyUsageToStr)
	sort.Slice(keyUsages, func(i, j int) bool { return int(keyUsages[i]) < int(keyUsages[j]) })
}

// KeyUsageToStr
func KeyUsageToStr(keyUsage x509.KeyUsage) (usages []string) {
	for _, u := range keyUsages {
		if keyUsage&u > 0 {
			usages = append(usages, keyUsageToStr[u])
		}
	}
	return usages
}

// ExtKeyUsageToStr
func ExtKeyUsageToStr(keyUsage []x509.ExtKeyUsage) []string {
	return fx.Map(keyUsage, func(u x509.ExtKeyUsage) string { return extKeyUsageToStr[u] })
}

func RandomSerial() *big.Int {
	s, _ := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	return s
}
