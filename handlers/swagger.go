package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterSwagger registers minimal Swagger/OpenAPI endpoints for the document service.
// - GET /swagger/index.html  -> a small HTML page that loads the OpenAPI JSON
// - GET /swagger/doc.json    -> machine-readable OpenAPI JSON
func RegisterSwagger(rg gin.IRouter) {
	rg.GET("/swagger/index.html", func(c *gin.Context) {
		c.Header("Content-Type", "text/html; charset=utf-8")
		c.String(http.StatusOK, swaggerHTML)
	})

	rg.GET("/swagger/doc.json", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(swaggerJSON))
	})
}

const swaggerHTML = `<!doctype html>
<html>
  <head>
    <meta charset="utf-8" />
    <title>stepdocs API - Swagger</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@4/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@4/swagger-ui-bundle.js"></script>
    <script>
      window.ui = SwaggerUIBundle({
        url: '/swagger/doc.json',
        dom_id: '#swagger-ui',
      })
    </script>
  </body>
</html>`

const swaggerJSON = `{
  "openapi": "3.0.0",
  "info": { "title": "stepdocs-documents", "version": "v0.1.0" },
  "components": {
    "securitySchemes": { "bearer": { "type": "http", "scheme": "bearer" } },
    "schemas": {
      "Screenshot": { "type": "object", "properties": { "googleImageId": {"type":"string"}, "url": {"type":"string"}, "viewportX": {"type":"number"}, "viewportY": {"type":"number"}, "viewportWidth": {"type":"number"}, "viewportHeight": {"type":"number"}, "devicePixelRatio": {"type":"number"} } },
      "Step": { "type": "object", "properties": { "id": {"type":"string"}, "stepNumber": {"type":"number"}, "stepDescription": {"type":"string"}, "type": {"type":"string","enum":["STEP","TIPS","HEADER","ALERT"]}, "screenshot": {"$ref":"#/components/schemas/Screenshot"} } },
      "Error": { "type": "object", "properties": { "error": {"type":"string"}, "retryable": {"type":"boolean"} } }
    }
  },
  "security": [ { "bearer": [] } ],
  "paths": {
    "/api/documents": {
      "get": { "summary": "List owned documents", "responses": { "200": { "description": "summaries with stepCount" } } },
      "post": { "summary": "Create a document with steps", "requestBody": { "content": { "application/json": { "schema": {"type":"object","required":["title","steps"],"properties":{"title":{"type":"string"},"description":{"type":"string"},"isPublic":{"type":"boolean"},"steps":{"type":"array","items":{"$ref":"#/components/schemas/Step"}}}}}}}, "responses": { "201": { "description": "created document" }, "400": { "description": "validation fault" } } }
    },
    "/api/documents/deleted/list": { "get": { "summary": "List soft-deleted documents", "responses": { "200": { "description": "summaries" } } } },
    "/api/documents/saved/list": { "get": { "summary": "List saved documents", "responses": { "200": { "description": "summaries with savedAt" } } } },
    "/api/documents/{id}": {
      "get": { "summary": "Get a visible document", "security": [], "responses": { "200": { "description": "document" }, "404": { "description": "not found or access denied" } } },
      "put": { "summary": "Reconcile metadata and steps", "requestBody": { "content": { "application/json": { "schema": {"type":"object","properties":{"title":{"type":"string"},"description":{"type":"string"},"annotationColor":{"type":"string"},"steps":{"type":"array","items":{"$ref":"#/components/schemas/Step"}},"deleteStepIds":{"type":"array","items":{"type":"string"}}}}}}}, "responses": { "200": { "description": "updated document" }, "400": { "description": "validation fault" }, "404": { "description": "not found or access denied" }, "409": { "description": "concurrent update, retryable" } } },
      "delete": { "summary": "Soft delete", "responses": { "204": { "description": "deleted" }, "404": { "description": "not found" } } }
    },
    "/api/documents/{id}/restore": { "put": { "summary": "Restore a soft-deleted document", "responses": { "200": { "description": "restored document" }, "404": { "description": "not found" } } } },
    "/api/documents/{id}/permanent": { "delete": { "summary": "Permanently delete", "responses": { "204": { "description": "gone" }, "404": { "description": "not found" } } } },
    "/api/documents/{id}/sharing": { "patch": { "summary": "Toggle public visibility", "requestBody": { "content": { "application/json": { "schema": {"type":"object","required":["isPublic"],"properties":{"isPublic":{"type":"boolean"}}}}}}, "responses": { "200": { "description": "document" } } } },
    "/api/documents/{id}/save": {
      "post": { "summary": "Save another user's public document", "responses": { "201": { "description": "saved" }, "409": { "description": "already saved" } } },
      "delete": { "summary": "Remove from saved", "responses": { "204": { "description": "removed" }, "404": { "description": "not saved" } } }
    },
    "/api/documents/{id}/save-status": { "get": { "summary": "Whether the caller saved the document", "responses": { "200": { "description": "isSaved and savedAt" } } } },
    "/api/steps/{id}": { "delete": { "summary": "Delete one step", "responses": { "200": { "description": "deleted step" }, "404": { "description": "not found" } } } },
    "/api/screenshots/upload": { "post": { "summary": "Upload a screenshot image", "requestBody": { "content": { "multipart/form-data": { "schema": {"type":"object","properties":{"file":{"type":"string","format":"binary"}}}}}}, "responses": { "201": { "description": "googleImageId and url" } } } },
    "/health": { "get": { "summary": "Liveness check", "security": [], "responses": { "200": { "description": "healthy" } } } },
    "/ready": { "get": { "summary": "Readiness check", "security": [], "responses": { "200": { "description": "ready" }, "503": { "description": "not ready" } } } }
  }
}`
