package testutils

import (
	"net/http"

	"setls/api/endpoints"
	"setls/pkg/helper"
)

func NewEndpointHandler(endpoint endpoints.Endpoint) http.Handler {
	handler := helper.NewEcho()
	endpoints.Route(handler, endpoint)

	return handler
}
