package authority

import (
	"context"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"io"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/whitekid/goxp/log"
	"github.com/whitekid/goxp/request"

	"setls/chain"
	"setls/pkg/helper/x509x"
	"setls/signer"
)

const (
	MIMEPemFile = "application/x-pem-file"

	// DeviceCommonName subject the CA accepts
	DeviceCommonName = "SETLS"
)

func New(endpoint string) *Client { return WithClient(endpoint, &http.Client{}) }
func WithClient(endpoint string, client *http.Client) *Client {
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   request.NewSession(client),
	}
}

// Client CA service client used by devices to enroll
type Client struct {
	endpoint string
	client   request.Interface
}

// CreateCSR create PEM encoded CSR for the device subject, signed by the identity
func CreateCSR(id *signer.Identity) (string, error) {
	der, err := x509.CreateCertificateRequest(rand.Reader, &x509.CertificateRequest{
		Subject:            pkix.Name{CommonName: DeviceCommonName},
		SignatureAlgorithm: id.SignatureAlgorithm(),
	}, id)
	if err != nil {
		return "", errors.Wrap(err, "fail to create certificate request")
	}

	return string(x509x.EncodeCSRToPEM(der)), nil
}

// Enroll create CSR signed by the identity, submit to the CA and returns issued chain
func (c *Client) Enroll(ctx context.Context, id *signer.Identity) (*chain.Chain, error) {
	csrPEM, err := CreateCSR(id)
	if err != nil {
		return nil, err
	}

	body, err := c.Authenticate(ctx, csrPEM)
	if err != nil {
		return nil, err
	}

	return chain.Parse(body)
}

// Authenticate submit PEM encoded CSR and returns PEM chain
func (c *Client) Authenticate(ctx context.Context, csrPEM string) (string, error) {
	log.Debugf("send request: %s/authenticate", c.endpoint)

	resp, err := c.client.Post("%s/authenticate", c.endpoint).
		ContentType(MIMEPemFile).
		Body(strings.NewReader(csrPEM)).
		Do(ctx)
	if err != nil {
		return "", errors.Wrap(err, "fail to send certificate request")
	}

	body := resp.String()
	if !resp.Success() {
		return "", NewHTTPError(resp.StatusCode, "CA rejected CSR: %s", strings.TrimSpace(body))
	}

	return body, nil
}

// CACertificate fetch CA certificate
func (c *Client) CACertificate(ctx context.Context) (*x509.Certificate, error) {
	resp, err := c.client.Get("%s/ca", c.endpoint).Do(ctx)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if !resp.Success() {
		return nil, NewHTTPError(resp.StatusCode, "failed with status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return x509x.ParseCertificate(body)
}
