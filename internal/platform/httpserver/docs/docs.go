// Package docs registers the OpenAPI document served under /swagger/.
package docs

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
    "paths": {
        "/healthz": {
            "get": {"summary": "Liveness check", "responses": {"200": {"description": "OK"}}}
        },
        "/v1/voting/sessions": {
            "get": {
                "summary": "List sessions",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ListSessionsResponse"}}}
            },
            "post": {
                "summary": "Create a session owned by the caller",
                "parameters": [
                    {"$ref": "#/parameters/UserID"},
                    {"name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateSessionRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/SessionResponse"}},
                    "400": {"description": "invalid_options or invalid_title", "schema": {"$ref": "#/definitions/ErrorResponse"}}
                }
            }
        },
        "/v1/voting/sessions/{session_id}": {
            "get": {
                "summary": "Get a session",
                "parameters": [{"$ref": "#/parameters/SessionID"}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/SessionResponse"}},
                    "404": {"description": "session_not_found", "schema": {"$ref": "#/definitions/ErrorResponse"}}
                }
            }
        },
        "/v1/voting/sessions/{session_id}/options": {
            "get": {
                "summary": "List the session's options",
                "parameters": [{"$ref": "#/parameters/SessionID"}],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/v1/voting/sessions/{session_id}/voters": {
            "post": {
                "summary": "Allow a voter (creator only)",
                "parameters": [
                    {"$ref": "#/parameters/SessionID"},
                    {"$ref": "#/parameters/UserID"},
                    {"name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/AddVoterRequest"}}
                ],
                "responses": {"201": {"description": "Created"}, "403": {"description": "unauthorized"}, "409": {"description": "already_allowed or session_closed"}}
            }
        },
        "/v1/voting/sessions/{session_id}/voters/{voter_id}": {
            "get": {
                "summary": "Check whether a voter is allowed",
                "parameters": [{"$ref": "#/parameters/SessionID"}, {"$ref": "#/parameters/VoterID"}],
                "responses": {"200": {"description": "OK"}}
            },
            "delete": {
                "summary": "Remove a voter and retract their vote and delegation (creator only)",
                "parameters": [{"$ref": "#/parameters/SessionID"}, {"$ref": "#/parameters/VoterID"}, {"$ref": "#/parameters/UserID"}],
                "responses": {"200": {"description": "OK"}, "404": {"description": "voter_not_found"}, "409": {"description": "cannot_remove_creator"}}
            }
        },
        "/v1/voting/sessions/{session_id}/votes": {
            "post": {
                "summary": "Cast a direct vote",
                "parameters": [
                    {"$ref": "#/parameters/SessionID"},
                    {"$ref": "#/parameters/UserID"},
                    {"name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CastVoteRequest"}}
                ],
                "responses": {"204": {"description": "No Content"}, "400": {"description": "invalid_option"}, "409": {"description": "already_voted, already_delegated or session_closed"}}
            }
        },
        "/v1/voting/sessions/{session_id}/delegations": {
            "post": {
                "summary": "Delegate the caller's vote",
                "parameters": [
                    {"$ref": "#/parameters/SessionID"},
                    {"$ref": "#/parameters/UserID"},
                    {"name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/DelegateVoteRequest"}}
                ],
                "responses": {"204": {"description": "No Content"}, "400": {"description": "invalid_delegate"}, "409": {"description": "delegation_cycle or already_voted"}}
            },
            "delete": {
                "summary": "Revoke the caller's delegation",
                "parameters": [{"$ref": "#/parameters/SessionID"}, {"$ref": "#/parameters/UserID"}],
                "responses": {"204": {"description": "No Content"}, "409": {"description": "no_active_delegation"}}
            }
        },
        "/v1/voting/sessions/{session_id}/close": {
            "post": {
                "summary": "Close the session (creator only)",
                "parameters": [{"$ref": "#/parameters/SessionID"}, {"$ref": "#/parameters/UserID"}],
                "responses": {"200": {"description": "OK"}, "409": {"description": "already_closed"}}
            }
        },
        "/v1/voting/sessions/{session_id}/results": {
            "get": {
                "summary": "Compute the current tally",
                "parameters": [{"$ref": "#/parameters/SessionID"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResultsResponse"}}, "403": {"description": "unauthorized"}}
            }
        },
        "/v1/voting/sessions/{session_id}/results/final": {
            "get": {
                "summary": "Read the archived tally of a closed session",
                "parameters": [{"$ref": "#/parameters/SessionID"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResultsResponse"}}, "403": {"description": "unauthorized"}, "404": {"description": "results_not_finalized"}}
            }
        },
        "/v1/voting/sessions/{session_id}/results/voters/{voter_id}": {
            "get": {
                "summary": "Resolve where a voter's effective vote lands",
                "parameters": [{"$ref": "#/parameters/SessionID"}, {"$ref": "#/parameters/VoterID"}],
                "responses": {"200": {"description": "OK"}}
            }
        }
    },
    "parameters": {
        "SessionID": {"name": "session_id", "in": "path", "required": true, "type": "integer", "format": "uint64"},
        "VoterID": {"name": "voter_id", "in": "path", "required": true, "type": "string"},
        "UserID": {"name": "X-User-Id", "in": "header", "required": true, "type": "string"}
    },
    "definitions": {
        "ErrorResponse": {
            "type": "object",
            "properties": {"code": {"type": "string"}, "message": {"type": "string"}}
        },
        "CreateSessionRequest": {
            "type": "object",
            "properties": {
                "title": {"type": "string"},
                "options": {"type": "array", "items": {"type": "string"}},
                "results_public": {"type": "boolean"}
            }
        },
        "SessionResponse": {
            "type": "object",
            "properties": {
                "session_id": {"type": "integer"},
                "title": {"type": "string"},
                "options": {"type": "array", "items": {"type": "string"}},
                "creator_id": {"type": "string"},
                "allowed_voters": {"type": "array", "items": {"type": "string"}},
                "vote_count": {"type": "integer"},
                "delegation_count": {"type": "integer"},
                "closed": {"type": "boolean"},
                "results_public": {"type": "boolean"},
                "created_at": {"type": "string"},
                "updated_at": {"type": "string"},
                "closed_at": {"type": "string"}
            }
        },
        "ListSessionsResponse": {
            "type": "object",
            "properties": {"items": {"type": "array", "items": {"type": "object"}}}
        },
        "AddVoterRequest": {
            "type": "object",
            "properties": {"voter_id": {"type": "string"}}
        },
        "CastVoteRequest": {
            "type": "object",
            "properties": {"option_index": {"type": "integer"}}
        },
        "DelegateVoteRequest": {
            "type": "object",
            "properties": {"delegate_id": {"type": "string"}}
        },
        "ResultsResponse": {
            "type": "object",
            "properties": {
                "session_id": {"type": "integer"},
                "closed": {"type": "boolean"},
                "eligible": {"type": "integer"},
                "abstentions": {"type": "integer"},
                "total_votes": {"type": "integer"},
                "items": {
                    "type": "array",
                    "items": {
                        "type": "object",
                        "properties": {
                            "option_index": {"type": "integer"},
                            "option": {"type": "string"},
                            "votes": {"type": "integer"}
                        }
                    }
                }
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "ballotbox API",
	Description:      "Delegated voting sessions with creator-managed allow lists.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
