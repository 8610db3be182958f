// Package swagger registers the OpenAPI document served under /docs.
package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "security": [{"BearerAuth": []}],
    "paths": {
        "/healthz": {"get": {"tags": ["Health"], "summary": "Service health check", "responses": {"200": {"description": "OK"}}}},
        "/readyz": {"get": {"tags": ["Health"], "summary": "Service readiness check", "responses": {"200": {"description": "OK"}, "503": {"description": "Service Unavailable"}}}},
        "/api/v1/decisions": {"post": {"tags": ["Decisions"], "summary": "Check whether a user holds a permission", "responses": {"200": {"description": "OK"}, "503": {"description": "Service Unavailable"}}}},
        "/api/v1/users/{userId}/effective-permissions": {"get": {"tags": ["Decisions"], "summary": "List the codes a user holds without request context", "parameters": [{"name": "userId", "in": "path", "required": true, "type": "string"}], "responses": {"200": {"description": "OK"}}}},
        "/api/v1/permissions": {
            "get": {"tags": ["Permissions"], "summary": "List permissions", "responses": {"200": {"description": "OK"}}},
            "post": {"tags": ["Permissions"], "summary": "Create a permission", "responses": {"201": {"description": "Created"}, "409": {"description": "Conflict"}}}
        },
        "/api/v1/permissions/{id}": {
            "get": {"tags": ["Permissions"], "summary": "Get a permission by id", "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}], "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}},
            "patch": {"tags": ["Permissions"], "summary": "Update a permission", "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}], "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}}},
            "delete": {"tags": ["Permissions"], "summary": "Delete a permission", "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}], "responses": {"204": {"description": "No Content"}, "403": {"description": "Forbidden"}, "409": {"description": "Conflict"}}}
        },
        "/api/v1/users/{userId}/direct-permissions": {
            "get": {"tags": ["DirectPermissions"], "summary": "List a user's direct grants", "parameters": [{"name": "userId", "in": "path", "required": true, "type": "string"}], "responses": {"200": {"description": "OK"}}},
            "post": {"tags": ["DirectPermissions"], "summary": "Grant a permission to a user", "parameters": [{"name": "userId", "in": "path", "required": true, "type": "string"}], "responses": {"201": {"description": "Created"}, "409": {"description": "Conflict"}}},
            "delete": {"tags": ["DirectPermissions"], "summary": "Revoke every direct grant held by a user", "parameters": [{"name": "userId", "in": "path", "required": true, "type": "string"}], "responses": {"200": {"description": "OK"}}}
        },
        "/api/v1/direct-permissions/{id}": {
            "get": {"tags": ["DirectPermissions"], "summary": "Get a direct grant by id", "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}], "responses": {"200": {"description": "OK"}}},
            "patch": {"tags": ["DirectPermissions"], "summary": "Update a direct grant", "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}], "responses": {"200": {"description": "OK"}}}
        },
        "/api/v1/direct-permissions/sweep": {"post": {"tags": ["DirectPermissions"], "summary": "Delete every expired direct grant", "responses": {"200": {"description": "OK"}}}}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "BizHub Authorization API",
	Description:      "Permission catalog, direct grants and effective-permission decisions.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
