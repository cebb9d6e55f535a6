// Package chain handles the two certificate PEM chain issued by the CA: leaf first, then the CA certificate.
package chain

import (
	"bytes"
	"crypto/x509"
	"encoding/pem"
	"strings"
	"time"

	"github.com/pkg/errors"

	"setls/pkg/helper/x509x"
)

var ErrChainTooShort = errors.New("certificate chain requires two certificates: leaf and CA")

// Chain issued leaf certificate and its issuing CA certificate
type Chain struct {
	leafPEM []byte
	caPEM   []byte
	leafDER []byte
	caDER   []byte
}

// Parse split PEM concatenated certificates; first block is leaf, second is CA. further blocks are ignored.
// block text is kept as given, line endings included.
func Parse(pemChain string) (*Chain, error) {
	rest := []byte(pemChain)
	blocks := make([]*pem.Block, 0, 2)
	raws := make([][]byte, 0, 2)
	for len(blocks) < 2 {
		block, next := pem.Decode(rest)
		if block == nil {
			break
		}

		consumed := rest[:len(rest)-len(next)]
		start := bytes.LastIndex(consumed, []byte("-----BEGIN "+block.Type+"-----"))
		if start < 0 {
			start = 0
		}

		blocks = append(blocks, block)
		raws = append(raws, consumed[start:])
		rest = next
	}

	if len(blocks) < 2 {
		return nil, errors.Wrapf(ErrChainTooShort, "got %d", len(blocks))
	}

	return &Chain{
		leafPEM: raws[0],
		caPEM:   raws[1],
		leafDER: blocks[0].Bytes,
		caDER:   blocks[1].Bytes,
	}, nil
}

// New build chain from DER encoded certificates
func New(leafDER, caDER []byte) *Chain {
	return &Chain{
		leafPEM: x509x.EncodeCertificateToPEM(leafDER),
		caPEM:   x509x.EncodeCertificateToPEM(caDER),
		leafDER: leafDER,
		caDER:   caDER,
	}
}

// Serialize concatenate leaf and CA PEM with a blank line between them
func Serialize(leafPEM, caPEM string) string {
	return strings.TrimRight(leafPEM, "\n") + "\n\n" + caPEM
}

func (c *Chain) String() string { return Serialize(string(c.leafPEM), string(c.caPEM)) }

func (c *Chain) LeafPEM() []byte { return c.leafPEM }
func (c *Chain) CAPEM() []byte   { return c.caPEM }
func (c *Chain) LeafDER() []byte { return c.leafDER }
func (c *Chain) CADER() []byte   { return c.caDER }

func (c *Chain) Leaf() (*x509.Certificate, error) {
	cert, err := x509.ParseCertificate(c.leafDER)
	return cert, errors.Wrap(err, "fail to parse leaf certificate")
}

func (c *Chain) CA() (*x509.Certificate, error) {
	cert, err := x509.ParseCertificate(c.caDER)
	return cert, errors.Wrap(err, "fail to parse CA certificate")
}

// CertPool returns trust store that holds exactly the CA certificate
func (c *Chain) CertPool() (*x509.CertPool, error) {
	ca, err := c.CA()
	if err != nil {
		return nil, err
	}

	pool := x509.NewCertPool()
	pool.AddCert(ca)
	return pool, nil
}

// Verify check leaf was signed by the CA and valid at given time
func (c *Chain) Verify(now time.Time) error {
	leaf, err := c.Leaf()
	if err != nil {
		return err
	}

	pool, err := c.CertPool()
	if err != nil {
		return err
	}

	if _, err := leaf.Verify(x509.VerifyOptions{
		Roots:       pool,
		CurrentTime: now,
		KeyUsages:   []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}); err != nil {
		return errors.Wrap(err, "leaf does not verify under CA")
	}

	return nil
}
