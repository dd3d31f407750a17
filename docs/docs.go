// Package docs serves the OpenAPI description of the task router API at /swagger/.
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
        "/health": {
            "get": {
                "produces": ["application/json"],
                "tags": ["system"],
                "summary": "Health check",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.HealthResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/handlers.HealthResponse"}}
                }
            }
        },
        "/api/events": {
            "post": {
                "description": "Runs every enabled task bound to the event subject and returns the dispatch summary",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["events"],
                "summary": "Ingest trigger event",
                "parameters": [
                    {"description": "Trigger event", "name": "event", "in": "body", "required": true, "schema": {"$ref": "#/definitions/tasks.Event"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.EventResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "404": {"description": "No trigger registered for the subject", "schema": {"$ref": "#/definitions/handlers.EventResponse"}},
                    "429": {"description": "Too Many Requests", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/api/events/definitions": {
            "put": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["events"],
                "summary": "Load event definitions",
                "parameters": [
                    {"description": "Trigger and action definitions", "name": "definitions", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.DefinitionsRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.DefinitionsResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/api/tasks": {
            "put": {
                "description": "Validates each task against its trigger definition and stores it",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["tasks"],
                "summary": "Load tasks",
                "parameters": [
                    {"description": "Tasks", "name": "tasks", "in": "body", "required": true, "schema": {"type": "array", "items": {"$ref": "#/definitions/tasks.Task"}}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/tasks.Task"}}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/api/tasks/{id}/enable": {
            "post": {
                "produces": ["application/json"],
                "tags": ["tasks"],
                "summary": "Enable task",
                "parameters": [{"type": "string", "description": "Task ID", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.TaskStateResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/api/tasks/{id}/disable": {
            "post": {
                "produces": ["application/json"],
                "tags": ["tasks"],
                "summary": "Disable task",
                "parameters": [{"type": "string", "description": "Task ID", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.TaskStateResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/api/tasks/{id}/activities": {
            "get": {
                "produces": ["application/json"],
                "tags": ["activities"],
                "summary": "List task activities",
                "parameters": [
                    {"type": "string", "description": "Task ID", "name": "id", "in": "path", "required": true},
                    {"type": "integer", "description": "Maximum entries, 100 by default", "name": "limit", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/tasks.Activity"}}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            },
            "delete": {
                "produces": ["application/json"],
                "tags": ["activities"],
                "summary": "Clear task activities",
                "parameters": [{"type": "string", "description": "Task ID", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.DeleteActivitiesResponse"}}
                }
            }
        },
        "/api/activities/{id}/retry": {
            "post": {
                "produces": ["application/json"],
                "tags": ["activities"],
                "summary": "Retry failed activity",
                "parameters": [{"type": "string", "description": "Activity ID", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.RetryResponse"}},
                    "404": {"description": "Activity or task not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "409": {"description": "Activity is not an error", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/api/providers": {
            "get": {
                "produces": ["application/json"],
                "tags": ["providers"],
                "summary": "List data providers",
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/tasks.ProviderInfo"}}}
                }
            }
        }
    },
    "definitions": {
        "handlers.ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {"type": "string"},
                "messageKey": {"type": "string"},
                "type": {"type": "string"}
            }
        },
        "handlers.HealthResponse": {
            "type": "object",
            "properties": {
                "checks": {"type": "object", "additionalProperties": {"type": "string"}},
                "status": {"type": "string"}
            }
        },
        "handlers.EventResponse": {
            "type": "object",
            "properties": {
                "eventId": {"type": "string"},
                "subject": {"type": "string"},
                "triggerFound": {"type": "boolean"},
                "results": {"type": "array", "items": {"$ref": "#/definitions/tasks.TaskResult"}},
                "matched": {"type": "integer"},
                "dispatched": {"type": "integer"},
                "failed": {"type": "integer"},
                "skipped": {"type": "integer"}
            }
        },
        "handlers.DefinitionsRequest": {
            "type": "object",
            "properties": {
                "actions": {"type": "array", "items": {"$ref": "#/definitions/tasks.TaskEvent"}},
                "triggers": {"type": "array", "items": {"$ref": "#/definitions/tasks.TaskEvent"}}
            }
        },
        "handlers.DefinitionsResponse": {
            "type": "object",
            "properties": {
                "actions": {"type": "integer"},
                "triggers": {"type": "integer"}
            }
        },
        "handlers.TaskStateResponse": {
            "type": "object",
            "properties": {
                "enabled": {"type": "boolean"},
                "id": {"type": "string"}
            }
        },
        "handlers.DeleteActivitiesResponse": {
            "type": "object",
            "properties": {
                "deleted": {"type": "integer"}
            }
        },
        "handlers.RetryResponse": {
            "type": "object",
            "properties": {
                "taskId": {"type": "string"},
                "outcome": {"type": "string"},
                "messageKey": {"type": "string"},
                "disabled": {"type": "boolean"},
                "actionEventId": {"type": "string"},
                "error": {"type": "string"}
            }
        },
        "tasks.TaskResult": {
            "type": "object",
            "properties": {
                "taskId": {"type": "string"},
                "outcome": {"type": "string", "enum": ["dispatched", "skipped", "failed"]},
                "messageKey": {"type": "string"},
                "disabled": {"type": "boolean"},
                "actionEventId": {"type": "string"}
            }
        },
        "tasks.Event": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "subject": {"type": "string"},
                "parameters": {"type": "object", "additionalProperties": {}}
            }
        },
        "tasks.EventParameter": {
            "type": "object",
            "properties": {
                "displayName": {"type": "string"},
                "eventKey": {"type": "string"},
                "type": {"type": "string", "enum": ["TEXT", "TEXTAREA", "NUMBER", "DATE"]}
            }
        },
        "tasks.TaskEvent": {
            "type": "object",
            "properties": {
                "subject": {"type": "string"},
                "displayName": {"type": "string"},
                "description": {"type": "string"},
                "eventParameters": {"type": "array", "items": {"$ref": "#/definitions/tasks.EventParameter"}}
            }
        },
        "tasks.Filter": {
            "type": "object",
            "properties": {
                "eventParameter": {"$ref": "#/definitions/tasks.EventParameter"},
                "negationOperator": {"type": "boolean"},
                "operator": {"type": "string", "enum": ["CONTAINS", "EXIST", "EQUALS", "STARTSWITH", "ENDSWITH", "GT", "LT"]},
                "expression": {"type": "string"}
            }
        },
        "tasks.AdditionalData": {
            "type": "object",
            "properties": {
                "id": {"type": "integer"},
                "type": {"type": "string"},
                "lookupField": {"type": "string"},
                "lookupValue": {"type": "string"}
            }
        },
        "tasks.Task": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "name": {"type": "string"},
                "description": {"type": "string"},
                "trigger": {"type": "string"},
                "action": {"type": "string"},
                "actionInputFields": {"type": "object", "additionalProperties": {"type": "string"}},
                "filters": {"type": "array", "items": {"$ref": "#/definitions/tasks.Filter"}},
                "additionalData": {"type": "object", "additionalProperties": {"type": "array", "items": {"$ref": "#/definitions/tasks.AdditionalData"}}},
                "enabled": {"type": "boolean"}
            }
        },
        "tasks.Activity": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "task": {"type": "string"},
                "activityType": {"type": "string", "enum": ["SUCCESS", "WARNING", "ERROR"]},
                "message": {"type": "string"},
                "fields": {"type": "object", "additionalProperties": {"type": "string"}},
                "parameters": {"type": "object", "additionalProperties": {}},
                "date": {"type": "string"}
            }
        },
        "tasks.ObjectInfo": {
            "type": "object",
            "properties": {
                "type": {"type": "string"},
                "displayName": {"type": "string"},
                "lookupFields": {"type": "array", "items": {"type": "string"}},
                "fields": {"type": "array", "items": {"type": "string"}}
            }
        },
        "tasks.ProviderInfo": {
            "type": "object",
            "properties": {
                "name": {"type": "string"},
                "objects": {"type": "array", "items": {"$ref": "#/definitions/tasks.ObjectInfo"}}
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
	Title:            "Task Router API",
	Description:      "Routes trigger events to action events through configurable tasks.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
