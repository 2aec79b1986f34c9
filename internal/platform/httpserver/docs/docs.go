// Package docs registers the OpenAPI description served under /swagger/.
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
        "/v1/experiments": {
            "get": {
                "produces": ["application/json"],
                "tags": ["experiments"],
                "summary": "List experiments by status",
                "parameters": [
                    {"type": "string", "description": "draft|active|paused|completed|cancelled, empty lists all", "name": "status", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ListExperimentsResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/ErrorResponse"}}
                }
            },
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["experiments"],
                "summary": "Create a draft experiment",
                "parameters": [
                    {"type": "string", "name": "X-User-Id", "in": "header", "required": true},
                    {"type": "string", "name": "Idempotency-Key", "in": "header"},
                    {"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateExperimentRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ExperimentResponse"}},
                    "200": {"description": "Replayed", "schema": {"$ref": "#/definitions/ExperimentResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/ErrorResponse"}},
                    "409": {"description": "Idempotency conflict", "schema": {"$ref": "#/definitions/ErrorResponse"}}
                }
            }
        },
        "/v1/experiments/{experiment_id}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["experiments"],
                "summary": "Get an experiment",
                "parameters": [{"type": "string", "name": "experiment_id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ExperimentResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/ErrorResponse"}}
                }
            }
        },
        "/v1/experiments/{experiment_id}/variants": {
            "get": {
                "produces": ["application/json"],
                "tags": ["variants"],
                "summary": "List variants",
                "parameters": [{"type": "string", "name": "experiment_id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ListVariantsResponse"}}}
            },
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["variants"],
                "summary": "Add a variant to a draft experiment",
                "parameters": [
                    {"type": "string", "name": "experiment_id", "in": "path", "required": true},
                    {"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/AddVariantRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/VariantResponse"}},
                    "409": {"description": "Control exists or experiment not editable", "schema": {"$ref": "#/definitions/ErrorResponse"}}
                }
            }
        },
        "/v1/experiments/{experiment_id}/{transition}": {
            "post": {
                "produces": ["application/json"],
                "tags": ["lifecycle"],
                "summary": "Start, pause, resume, cancel or complete an experiment",
                "parameters": [
                    {"type": "string", "name": "experiment_id", "in": "path", "required": true},
                    {"type": "string", "enum": ["start", "pause", "resume", "cancel", "complete"], "name": "transition", "in": "path", "required": true},
                    {"name": "request", "in": "body", "schema": {"$ref": "#/definitions/CompleteExperimentRequest"}}
                ],
                "responses": {
                    "200": {"description": "Applied", "schema": {"$ref": "#/definitions/TransitionResponse"}},
                    "409": {"description": "Refused with reason", "schema": {"$ref": "#/definitions/TransitionResponse"}}
                }
            }
        },
        "/v1/experiments/{experiment_id}/assignments": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["assignment"],
                "summary": "Assign a subject to a variant",
                "parameters": [
                    {"type": "string", "name": "experiment_id", "in": "path", "required": true},
                    {"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/AssignRequest"}}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/AssignResponse"}}}
            }
        },
        "/v1/experiments/{experiment_id}/conversions": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["conversion"],
                "summary": "Record a conversion event for an assigned subject",
                "parameters": [
                    {"type": "string", "name": "experiment_id", "in": "path", "required": true},
                    {"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RecordConversionRequest"}}
                ],
                "responses": {
                    "201": {"description": "Recorded", "schema": {"$ref": "#/definitions/ConversionResponse"}},
                    "200": {"description": "Refused with reason", "schema": {"$ref": "#/definitions/ConversionResponse"}}
                }
            }
        },
        "/v1/experiments/{experiment_id}/results": {
            "get": {
                "produces": ["application/json"],
                "tags": ["results"],
                "summary": "Compute the results report",
                "parameters": [{"type": "string", "name": "experiment_id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResultsResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/ErrorResponse"}}
                }
            }
        },
        "/v1/experiments/{experiment_id}/snapshots": {
            "get": {
                "produces": ["application/json"],
                "tags": ["results"],
                "summary": "List completion snapshots",
                "parameters": [{"type": "string", "name": "experiment_id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ListSnapshotsResponse"}}}
            }
        }
    },
    "definitions": {
        "ErrorResponse": {
            "type": "object",
            "properties": {"code": {"type": "string"}, "message": {"type": "string"}}
        },
        "CreateExperimentRequest": {
            "type": "object",
            "required": ["name", "target_metric"],
            "properties": {
                "name": {"type": "string"},
                "description": {"type": "string"},
                "hypothesis": {"type": "string"},
                "target_metric": {"type": "string"},
                "success_threshold": {"type": "number"},
                "min_sample_size": {"type": "integer"},
                "duration_days": {"type": "integer"}
            }
        },
        "AddVariantRequest": {
            "type": "object",
            "required": ["name"],
            "properties": {
                "name": {"type": "string"},
                "description": {"type": "string"},
                "config": {"type": "object"},
                "traffic_percentage": {"type": "number"},
                "is_control": {"type": "boolean"}
            }
        },
        "AssignRequest": {
            "type": "object",
            "required": ["subject_id"],
            "properties": {"subject_id": {"type": "string"}}
        },
        "RecordConversionRequest": {
            "type": "object",
            "required": ["subject_id", "event_name"],
            "properties": {
                "subject_id": {"type": "string"},
                "event_name": {"type": "string"},
                "value": {"type": "number"},
                "metadata": {"type": "object"}
            }
        },
        "CompleteExperimentRequest": {
            "type": "object",
            "properties": {"winning_variant_id": {"type": "string"}}
        },
        "ExperimentResponse": {
            "type": "object",
            "properties": {
                "experiment_id": {"type": "string"},
                "name": {"type": "string"},
                "target_metric": {"type": "string"},
                "success_threshold": {"type": "number"},
                "min_sample_size": {"type": "integer"},
                "status": {"type": "string"},
                "start_date": {"type": "string", "format": "date-time"},
                "end_date": {"type": "string", "format": "date-time"},
                "winning_variant_id": {"type": "string"},
                "replayed": {"type": "boolean"}
            }
        },
        "ListExperimentsResponse": {
            "type": "object",
            "properties": {"items": {"type": "array", "items": {"$ref": "#/definitions/ExperimentResponse"}}}
        },
        "VariantResponse": {
            "type": "object",
            "properties": {
                "variant_id": {"type": "string"},
                "experiment_id": {"type": "string"},
                "name": {"type": "string"},
                "config": {"type": "object"},
                "traffic_percentage": {"type": "number"},
                "is_control": {"type": "boolean"}
            }
        },
        "ListVariantsResponse": {
            "type": "object",
            "properties": {"items": {"type": "array", "items": {"$ref": "#/definitions/VariantResponse"}}}
        },
        "TransitionResponse": {
            "type": "object",
            "properties": {
                "applied": {"type": "boolean"},
                "reason": {"type": "string"},
                "experiment": {"$ref": "#/definitions/ExperimentResponse"}
            }
        },
        "AssignResponse": {
            "type": "object",
            "properties": {
                "experiment_id": {"type": "string"},
                "subject_id": {"type": "string"},
                "variant_id": {"type": "string"},
                "assigned": {"type": "boolean"},
                "created": {"type": "boolean"},
                "reason": {"type": "string"}
            }
        },
        "ConversionResponse": {
            "type": "object",
            "properties": {
                "recorded": {"type": "boolean"},
                "reason": {"type": "string"},
                "event_id": {"type": "string"}
            }
        },
        "ResultsResponse": {
            "type": "object",
            "properties": {
                "experiment_id": {"type": "string"},
                "experiment_status": {"type": "string"},
                "status": {"type": "string", "enum": ["collecting_data", "winner_found", "control_better", "inconclusive"]},
                "recommended_variant_id": {"type": "string"},
                "generated_at": {"type": "string", "format": "date-time"},
                "variants": {"type": "array", "items": {"type": "object"}}
            }
        },
        "ListSnapshotsResponse": {
            "type": "object",
            "properties": {"items": {"type": "array", "items": {"type": "object"}}}
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Aegis Experimentation API",
	Description:      "A/B experiment lifecycle, subject assignment, conversion recording and results.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
