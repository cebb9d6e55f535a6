// Package docs OpenAPI document of the CA service, served by echo-swagger under /swagger.
// keep in sync with swag annotations in api/authority.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/authenticate": {
            "post": {
                "consumes": [
                    "application/x-pem-file"
                ],
                "produces": [
                    "application/x-pem-file"
                ],
                "summary": "issue device certificate",
                "parameters": [
                    {
                        "description": "PEM encoded CSR with CN=SETLS",
                        "name": "csr",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "type": "string"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "leaf certificate PEM followed by CA certificate PEM",
                        "schema": {
                            "type": "string"
                        }
                    },
                    "400": {
                        "description": "rejection reason",
                        "schema": {
                            "type": "string"
                        }
                    }
                }
            }
        },
        "/ca": {
            "get": {
                "produces": [
                    "application/x-pem-file"
                ],
                "summary": "CA certificate",
                "responses": {
                    "200": {
                        "description": "CA certificate PEM",
                        "schema": {
                            "type": "string"
                        }
                    }
                }
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "v1",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "SETLS",
	Description:      "private CA issuing device certificates for one-shot mTLS",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
