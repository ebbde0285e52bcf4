// Package docs is generated by swaggo/swag from the handler annotations.
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
        "/admin/settlements/{sessionId}/retry": {
            "post": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["admin"],
                "summary": "Retry settlement",
                "parameters": [{"type": "string", "description": "Session ID", "name": "sessionId", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/services.SettlementResult"}},
                    "202": {"description": "Accepted"},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/services.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/services.ErrorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/services.ErrorResponse"}}
                }
            }
        },
        "/credits/account": {
            "post": {
                "security": [{"BearerAuth": []}],
                "description": "Create the caller's credit account with the starting balance. Repeated calls return the existing account.",
                "produces": ["application/json"],
                "tags": ["credits"],
                "summary": "Open credit account",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/models.Account"}},
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/models.Account"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/services.ErrorResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/services.ErrorResponse"}}
                }
            }
        },
        "/credits/balance": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["credits"],
                "summary": "Get credit balance",
                "responses": {
                    "200": {"description": "OK"},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/services.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/services.ErrorResponse"}}
                }
            }
        },
        "/credits/transactions": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["credits"],
                "summary": "List credit transactions",
                "parameters": [
                    {"type": "integer", "description": "Page size (max 100)", "name": "limit", "in": "query"},
                    {"type": "string", "description": "Cursor from the previous page", "name": "cursor", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/services.TransactionPage"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/services.ErrorResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/services.ErrorResponse"}}
                }
            }
        },
        "/sessions": {
            "get": {
                "security": [{"BearerAuth": []}],
                "description": "Sessions where the caller is the learner (mode=learner, default) or the mentor (mode=mentor)",
                "produces": ["application/json"],
                "tags": ["sessions"],
                "summary": "List sessions",
                "parameters": [{"type": "string", "description": "learner or mentor", "name": "mode", "in": "query"}],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/models.Session"}}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/services.ErrorResponse"}}
                }
            }
        },
        "/sessions/{sessionId}/cancel": {
            "post": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["sessions"],
                "summary": "Cancel session",
                "parameters": [{"type": "string", "description": "Session ID", "name": "sessionId", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/models.Session"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/services.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/services.ErrorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/services.ErrorResponse"}}
                }
            }
        },
        "/sessions/{sessionId}/complete": {
            "post": {
                "security": [{"BearerAuth": []}],
                "description": "Mentor only. Moves cost plus tip from learner to mentor exactly once. 202 means the session is completed but the payment is pending.",
                "produces": ["application/json"],
                "tags": ["sessions"],
                "summary": "Complete session",
                "parameters": [{"type": "string", "description": "Session ID", "name": "sessionId", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/services.SettlementResult"}},
                    "202": {"description": "Accepted"},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/services.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/services.ErrorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/services.ErrorResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/services.ErrorResponse"}}
                }
            }
        },
        "/sessions/{sessionId}/start": {
            "post": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["sessions"],
                "summary": "Start session",
                "parameters": [{"type": "string", "description": "Session ID", "name": "sessionId", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/models.Session"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/services.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/services.ErrorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/services.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "models.Account": {
            "type": "object",
            "properties": {
                "balance": {"type": "string"},
                "created_at": {"type": "string"},
                "total_earned": {"type": "string"},
                "total_spent": {"type": "string"},
                "updated_at": {"type": "string"},
                "user_id": {"type": "string"}
            }
        },
        "models.CreditTransaction": {
            "type": "object",
            "properties": {
                "amount": {"type": "string"},
                "created_at": {"type": "string"},
                "description": {"type": "string"},
                "from_user_id": {"type": "string"},
                "id": {"type": "string"},
                "session_id": {"type": "string"},
                "to_user_id": {"type": "string"},
                "transaction_type": {"type": "string", "enum": ["session_payment", "tip"]}
            }
        },
        "models.Session": {
            "type": "object",
            "properties": {
                "completed_at": {"type": "string"},
                "credits_cost": {"type": "string"},
                "description": {"type": "string"},
                "id": {"type": "string"},
                "learner_id": {"type": "string"},
                "mentor_id": {"type": "string"},
                "scheduled_at": {"type": "string"},
                "status": {"type": "string", "enum": ["scheduled", "in_progress", "completed", "cancelled"]},
                "tip_amount": {"type": "string"},
                "title": {"type": "string"}
            }
        },
        "services.ErrorResponse": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "details": {"type": "object", "additionalProperties": {"type": "string"}},
                "error": {"type": "string"}
            }
        },
        "services.SettlementResult": {
            "type": "object",
            "properties": {
                "session": {"$ref": "#/definitions/models.Session"},
                "transaction": {"$ref": "#/definitions/models.CreditTransaction"}
            }
        },
        "services.TransactionPage": {
            "type": "object",
            "properties": {
                "next_cursor": {"type": "string"},
                "transactions": {"type": "array", "items": {"$ref": "#/definitions/models.CreditTransaction"}}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/api/v1",
	Schemes:          []string{"http", "https"},
	Title:            "Skillsy Credits API",
	Description:      "Credit ledger and session settlement for the Skillsy skill exchange",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
