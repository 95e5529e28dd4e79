// Package docs is generated by swaggo/swag from the handler annotations; regenerate with `swag init -g cmd/server/main.go`.
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
        "/": {
            "get": {"produces": ["application/json"], "tags": ["health"], "summary": "Service index", "responses": {"200": {"description": "OK"}}}
        },
        "/health": {
            "get": {"produces": ["application/json"], "tags": ["health"], "summary": "Health check", "responses": {"200": {"description": "OK"}}}
        },
        "/api/signals": {
            "get": {
                "description": "Returns recent signals, optionally filtered by market, source, type and direction",
                "produces": ["application/json"],
                "tags": ["signals"],
                "summary": "Get detected signals",
                "parameters": [
                    {"type": "string", "description": "Condition id or Kalshi ticker", "name": "market_id", "in": "query"},
                    {"type": "string", "description": "polymarket or kalshi", "name": "source", "in": "query"},
                    {"type": "string", "description": "alert or trend", "name": "type", "in": "query"},
                    {"type": "string", "description": "up or down", "name": "direction", "in": "query"},
                    {"type": "string", "description": "Only signals at or after this time", "name": "since", "in": "query"},
                    {"type": "integer", "default": 50, "description": "Number of signals (default 50, max 200)", "name": "limit", "in": "query"}
                ],
                "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}, "503": {"description": "Service Unavailable"}}
            }
        },
        "/api/signals/daily": {
            "get": {
                "description": "Stored signals per UTC day and platform, split by type and direction",
                "produces": ["application/json"],
                "tags": ["signals"],
                "summary": "Daily signal activity",
                "parameters": [
                    {"type": "string", "description": "polymarket or kalshi", "name": "source", "in": "query"},
                    {"type": "integer", "default": 30, "description": "Number of days (default 30, max 365)", "name": "days", "in": "query"}
                ],
                "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}, "503": {"description": "Service Unavailable"}}
            }
        },
        "/api/sweep": {
            "post": {
                "description": "Scans every active market and stores newly detected signals",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["signals"],
                "summary": "Run a detection sweep",
                "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}, "500": {"description": "Internal Server Error"}}
            }
        },
        "/api/detect": {
            "post": {
                "description": "Runs alert and trend detection over the posted points; stores them when store=true",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["signals"],
                "summary": "Detect signals in a supplied series",
                "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}}
            }
        },
        "/api/markets": {
            "get": {
                "produces": ["application/json"],
                "tags": ["markets"],
                "summary": "List tracked markets",
                "parameters": [
                    {"type": "string", "description": "polymarket or kalshi", "name": "source", "in": "query"},
                    {"type": "boolean", "description": "Include inactive markets", "name": "all", "in": "query"}
                ],
                "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}}
            }
        },
        "/api/markets/track": {
            "post": {
                "description": "ref may be a Polymarket event slug, a Kalshi market or event ticker, or a market URL",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["markets"],
                "summary": "Start tracking a market or event",
                "responses": {"201": {"description": "Created"}, "400": {"description": "Bad Request"}, "404": {"description": "Not Found"}}
            }
        },
        "/api/markets/{source}/{slug}": {
            "delete": {
                "description": "Deactivates the event and its markets; stored prices and signals are kept",
                "produces": ["application/json"],
                "tags": ["markets"],
                "summary": "Stop tracking an event",
                "parameters": [
                    {"type": "string", "name": "source", "in": "path", "required": true},
                    {"type": "string", "name": "slug", "in": "path", "required": true}
                ],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}
            }
        },
        "/api/markets/{source}/{id}/prices": {
            "get": {
                "produces": ["application/json", "text/csv"],
                "tags": ["markets"],
                "summary": "Get a market's stored price series",
                "parameters": [
                    {"type": "string", "name": "source", "in": "path", "required": true},
                    {"type": "string", "name": "id", "in": "path", "required": true},
                    {"type": "integer", "default": 24, "name": "hours", "in": "query"},
                    {"type": "integer", "name": "limit", "in": "query"},
                    {"type": "string", "description": "json or csv", "name": "format", "in": "query"}
                ],
                "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}}
            }
        },
        "/api/markets/{source}/{id}/chart": {
            "get": {
                "description": "PNG price line with markers at the market's stored signals",
                "produces": ["image/png"],
                "tags": ["markets"],
                "summary": "Render a market chart",
                "parameters": [
                    {"type": "string", "name": "source", "in": "path", "required": true},
                    {"type": "string", "name": "id", "in": "path", "required": true},
                    {"type": "integer", "default": 24, "name": "hours", "in": "query"}
                ],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}
            }
        },
        "/collect": {
            "get": {"produces": ["application/json"], "tags": ["collect"], "summary": "Collect Polymarket snapshots", "responses": {"200": {"description": "OK"}}},
            "post": {"produces": ["application/json"], "tags": ["collect"], "summary": "Collect Polymarket snapshots", "responses": {"200": {"description": "OK"}}}
        },
        "/collect-prices": {
            "get": {"produces": ["application/json"], "tags": ["collect"], "summary": "Collect Polymarket price history", "responses": {"200": {"description": "OK"}}},
            "post": {"produces": ["application/json"], "tags": ["collect"], "summary": "Collect Polymarket price history", "responses": {"200": {"description": "OK"}}}
        },
        "/collect-kalshi": {
            "get": {"produces": ["application/json"], "tags": ["collect"], "summary": "Collect Kalshi candlesticks", "responses": {"200": {"description": "OK"}}},
            "post": {"produces": ["application/json"], "tags": ["collect"], "summary": "Collect Kalshi candlesticks", "responses": {"200": {"description": "OK"}}}
        },
        "/collect-all": {
            "get": {"produces": ["application/json"], "tags": ["collect"], "summary": "Collect prices from both platforms", "responses": {"200": {"description": "OK"}}},
            "post": {"produces": ["application/json"], "tags": ["collect"], "summary": "Collect prices from both platforms", "responses": {"200": {"description": "OK"}}}
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Prediction Pulse API",
	Description:      "Price collection and signal detection for Polymarket and Kalshi markets.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
