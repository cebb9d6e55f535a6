package setls

import (
	"context"

	"github.com/pkg/errors"
	echoSwagger "github.com/swaggo/echo-swagger"

	"setls/api/authority"
	"setls/api/endpoints"
	"setls/ca"
	_ "setls/docs"
	"setls/pkg/helper"
)

// Run start CA service on addr until ctx is done
func Run(ctx context.Context, addr string, opts ...ca.Option) error {
	certAuthority, err := ca.New(opts...)
	if err != nil {
		return errors.Wrap(err, "fail to start CA service")
	}

	return helper.StartEcho(ctx, newApp(certAuthority), addr)
}

func newApp(certAuthority *ca.Authority) *helper.Echo {
	e := helper.NewEcho()
	endpoints.Route(e, authority.New(certAuthority))
	e.GET("/swagger/*", echoSwagger.WrapHandler)
	return e
}
