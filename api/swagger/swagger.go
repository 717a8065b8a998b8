package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "PrepMint API",
        "description": "Collections, answer-sheet evaluation and gamification",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http",
        "https"
    ],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "security": [{"BearerAuth": []}],
    "tags": [
        {"name": "Collections", "description": "Generic record sources with live change streams"},
        {"name": "Evaluations", "description": "Answer-sheet upload and grading jobs"},
        {"name": "Gamification", "description": "Points and levels"},
        {"name": "Session", "description": "Session housekeeping"}
    ],
    "paths": {
        "/collections/{source}": {
            "get": {
                "tags": ["Collections"],
                "summary": "List records",
                "parameters": [
                    {"name": "source", "in": "path", "required": true, "type": "string"},
                    {"name": "page_size", "in": "query", "type": "integer"},
                    {"name": "order_by", "in": "query", "type": "string"},
                    {"name": "order", "in": "query", "type": "string", "enum": ["asc", "desc"]},
                    {"name": "filter", "in": "query", "type": "array", "items": {"type": "string"}, "collectionFormat": "multi", "description": "field:op:value, in values separated by |"},
                    {"name": "search", "in": "query", "type": "string"},
                    {"name": "search_fields", "in": "query", "type": "string"},
                    {"name": "cursor", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Bad query", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Collections"],
                "summary": "Create record",
                "parameters": [
                    {"name": "source", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"type": "object"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Invalid payload", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/collections/{source}/{id}": {
            "get": {
                "tags": ["Collections"],
                "summary": "Get record",
                "parameters": [
                    {"name": "source", "in": "path", "required": true, "type": "string"},
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "patch": {
                "tags": ["Collections"],
                "summary": "Update record",
                "parameters": [
                    {"name": "source", "in": "path", "required": true, "type": "string"},
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"type": "object"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["Collections"],
                "summary": "Delete record",
                "parameters": [
                    {"name": "source", "in": "path", "required": true, "type": "string"},
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "Deleted"},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/collections/{source}/bulk-delete": {
            "post": {
                "tags": ["Collections"],
                "summary": "Delete many records",
                "parameters": [
                    {"name": "source", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/BulkDeleteRequest"}}
                ],
                "responses": {
                    "200": {"description": "Per-id outcomes", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/collections/{source}/stream": {
            "get": {
                "tags": ["Collections"],
                "summary": "Stream changes",
                "produces": ["text/event-stream"],
                "parameters": [
                    {"name": "source", "in": "path", "required": true, "type": "string"},
                    {"name": "access_token", "in": "query", "type": "string", "description": "Bearer token for clients that cannot set headers"}
                ],
                "responses": {
                    "200": {"description": "insert, update and delete events"}
                }
            }
        },
        "/evaluations": {
            "post": {
                "tags": ["Evaluations"],
                "summary": "Submit answer sheet",
                "consumes": ["multipart/form-data"],
                "parameters": [
                    {"name": "file", "in": "formData", "required": true, "type": "file"},
                    {"name": "userId", "in": "formData", "type": "string"},
                    {"name": "testId", "in": "formData", "type": "string"}
                ],
                "responses": {
                    "202": {"description": "Queued", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Rejected file", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/evaluations/jobs/{id}": {
            "get": {
                "tags": ["Evaluations"],
                "summary": "Get job status",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "patch": {
                "tags": ["Evaluations"],
                "summary": "Report job status",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/EvaluationReportRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Job already finished", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/evaluations/files/{token}": {
            "get": {
                "tags": ["Evaluations"],
                "summary": "Download uploaded file",
                "security": [],
                "produces": ["application/octet-stream"],
                "parameters": [
                    {"name": "token", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "File content"},
                    "403": {"description": "Invalid or expired link", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/users/{id}/points": {
            "post": {
                "tags": ["Gamification"],
                "summary": "Award points",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/AwardPointsRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/users/{id}/profile": {
            "get": {
                "tags": ["Gamification"],
                "summary": "Get profile",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/session/signout": {
            "post": {
                "tags": ["Session"],
                "summary": "Sign out",
                "responses": {
                    "204": {"description": "Cached session data dropped"}
                }
            }
        }
    },
    "definitions": {
        "BulkDeleteRequest": {
            "type": "object",
            "properties": {
                "ids": {"type": "array", "items": {"type": "string"}}
            },
            "required": ["ids"]
        },
        "EvaluationReportRequest": {
            "type": "object",
            "properties": {
                "status": {"type": "string", "enum": ["queued", "processing", "done", "failed"]},
                "progress": {"type": "integer"},
                "result": {
                    "type": "object",
                    "properties": {
                        "score": {"type": "number"},
                        "details": {"type": "object"}
                    }
                },
                "errorMessage": {"type": "string"}
            },
            "required": ["status"]
        },
        "AwardPointsRequest": {
            "type": "object",
            "properties": {
                "amount": {"type": "integer"},
                "reason": {"type": "string"},
                "jobId": {"type": "string"}
            },
            "required": ["amount", "reason"]
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page_size": {"type": "integer"},
                "has_more": {"type": "boolean"},
                "next_cursor": {"type": "string"},
                "exact_count": {"type": "boolean"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "pagination": {"$ref": "#/definitions/Pagination"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
