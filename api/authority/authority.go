// Package authority exposes the CA over HTTP: devices post a PEM CSR and get back the PEM chain.
package authority

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/whitekid/goxp/log"

	"setls/api/endpoints"
	"setls/ca"
)

const (
	MIMEPemFile = "application/x-pem-file"

	maxRequestSize = 64 * 1024
)

// @title    SETLS
// @version  v1
// @BasePath /
type authorityAPI struct {
	authority *ca.Authority
}

func New(authority *ca.Authority) *authorityAPI {
	return &authorityAPI{authority: authority}
}

var _ endpoints.Endpoint = (*authorityAPI)(nil)

func (app *authorityAPI) PathAndName() (string, string) { return "", "certificate authority handler" }

func (app *authorityAPI) Route(e *echo.Group) {
	e.POST("/authenticate", app.authenticate)
	e.GET("/ca", app.getCA)
}

// authenticate issue certificate for the posted CSR
// any validation failure is client error with plain text reason
//
// @summary issue device certificate
// @accept  application/x-pem-file
// @produce application/x-pem-file
// @param   csr body     string true "PEM encoded CSR with CN=SETLS"
// @success 200 {string} string "leaf certificate PEM followed by CA certificate PEM"
// @failure 400 {string} string "rejection reason"
// @router  /authenticate [post]
func (app *authorityAPI) authenticate(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxRequestSize))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "fail to read request")
	}

	issued, err := app.authority.Issue(c.Request().Context(), string(body))
	if err != nil {
		if isRejection(err) {
			log.Infof("CSR rejected: %v", err)
			return c.String(http.StatusBadRequest, err.Error())
		}

		return err
	}

	return c.Blob(http.StatusOK, MIMEPemFile, []byte(issued.String()))
}

func isRejection(err error) bool {
	return errors.Is(err, ca.ErrMalformedRequest) ||
		errors.Is(err, ca.ErrUnauthorizedSubject) ||
		errors.Is(err, ca.ErrInvalidProofOfPossession)
}

// @summary CA certificate
// @produce application/x-pem-file
// @success 200 {string} string "CA certificate PEM"
// @router  /ca [get]
func (app *authorityAPI) getCA(c echo.Context) error {
	return c.Blob(http.StatusOK, MIMEPemFile, app.authority.CertificatePEM())
}
