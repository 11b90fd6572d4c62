package api

import "github.com/swaggo/swag"

// apiDoc describes the control API for the /swagger/ UI. Every method takes a
// JSON-RPC 2.0 envelope; tracking.Start carries its options in params.
var apiDoc = &swag.Spec{
	Version:          "1.0",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "geotrack control API",
	Description:      "JSON-RPC 2.0 control surface of the geotrack agent",
	InfoInstanceName: swag.Name,
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(apiDoc.InstanceName(), apiDoc)
}

const docTemplate = `{
  "swagger": "2.0",
  "info": {
    "title": "{{.Title}}",
    "description": "{{escape .Description}}",
    "version": "{{.Version}}"
  },
  "host": "{{.Host}}",
  "basePath": "{{.BasePath}}",
  "schemes": {{ marshal .Schemes }},
  "securityDefinitions": {
    "Bearer": {"type": "apiKey", "name": "Authorization", "in": "header"}
  },
  "paths": {
    "/api/v1/tracking.Start": {
      "post": {
        "summary": "Persist tracking options and start background capture",
        "security": [{"Bearer": []}],
        "consumes": ["application/json"],
        "produces": ["application/json"],
        "parameters": [{"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/StartRequest"}}],
        "responses": {"200": {"description": "JSON-RPC response; result holds state and changed keys", "schema": {"$ref": "#/definitions/Response"}}}
      }
    },
    "/api/v1/tracking.Stop": {
      "post": {
        "summary": "Stop capture and persist tracking disabled",
        "security": [{"Bearer": []}],
        "parameters": [{"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/Request"}}],
        "responses": {"200": {"description": "JSON-RPC response", "schema": {"$ref": "#/definitions/Response"}}}
      }
    },
    "/api/v1/tracking.GetCurrentPosition": {
      "post": {
        "summary": "Last known position; errors carry LOCATION_NULL, LOCATION_ERROR or PERMISSION_DENIED",
        "security": [{"Bearer": []}],
        "parameters": [{"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/Request"}}],
        "responses": {"200": {"description": "JSON-RPC response", "schema": {"$ref": "#/definitions/Response"}}}
      }
    },
    "/api/v1/tracking.Status": {
      "post": {
        "summary": "Lifecycle state, last fix, last sync time and queue counts",
        "security": [{"Bearer": []}],
        "parameters": [{"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/Request"}}],
        "responses": {"200": {"description": "JSON-RPC response", "schema": {"$ref": "#/definitions/Response"}}}
      }
    },
    "/health": {
      "get": {
        "summary": "Store and transport health",
        "responses": {"200": {"description": "healthy"}, "503": {"description": "a backend is down"}}
      }
    }
  },
  "definitions": {
    "Request": {
      "type": "object",
      "properties": {
        "jsonrpc": {"type": "string", "example": "2.0"},
        "method": {"type": "string"},
        "id": {"type": "integer"}
      }
    },
    "StartRequest": {
      "type": "object",
      "properties": {
        "jsonrpc": {"type": "string", "example": "2.0"},
        "method": {"type": "string", "example": "tracking.Start"},
        "id": {"type": "integer"},
        "params": {"$ref": "#/definitions/StartOptions"}
      }
    },
    "StartOptions": {
      "type": "object",
      "properties": {
        "apiUrl": {"type": "string"},
        "authToken": {"type": "string"},
        "employeeId": {"type": "string", "description": "string or integer"},
        "tenantId": {"type": "string"},
        "interval": {"type": "integer", "description": "milliseconds"},
        "distance": {"type": "number", "description": "meters"}
      }
    },
    "Response": {
      "type": "object",
      "properties": {
        "jsonrpc": {"type": "string"},
        "id": {"type": "integer"},
        "result": {"type": "object"},
        "error": {
          "type": "object",
          "properties": {
            "code": {"type": "integer"},
            "message": {"type": "string"},
            "data": {"type": "object", "properties": {"code": {"type": "string"}}}
          }
        }
      }
    }
  }
}`
