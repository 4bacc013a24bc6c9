package api

import "github.com/HelloWorldSungin/claude-strategist/internal/relay"

// buildOpenAPIDoc returns an OpenAPI 3.1 document for the /v1 routes.
func buildOpenAPIDoc() map[string]any {
	classes := make([]string, 0, len(relay.Classes))
	for _, c := range relay.Classes {
		classes = append(classes, string(c))
	}
	secured := []any{map[string]any{"BearerAuth": []string{}}}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "Strategist Relay",
			"version": "1.0",
		},
		"paths": map[string]any{
			"/v1/commands": map[string]any{
				"post": map[string]any{
					"operationId": "runCommand",
					"summary":     "Run a chat command through the relay",
					"security":    secured,
					"requestBody": map[string]any{
						"required": true,
						"content": map[string]any{
							"application/json": map[string]any{
								"schema": map[string]any{
									"type":     "object",
									"required": []string{"principal", "class"},
									"properties": map[string]any{
										"principal": map[string]any{"type": "string"},
										"class":     map[string]any{"type": "string", "enum": classes},
										"payload":   map[string]any{"type": "string"},
									},
								},
							},
						},
					},
					"responses": map[string]any{
						"200": map[string]any{"description": "Completed"},
						"202": map[string]any{"description": "Accepted, result follows as a notification"},
						"400": map[string]any{"description": "Invalid request"},
						"403": map[string]any{"description": "Principal not authorized"},
						"429": map[string]any{"description": "Rate or concurrency limit"},
						"502": map[string]any{"description": "Worker failed"},
					},
				},
			},
			"/v1/cache/{name}": map[string]any{
				"get": map[string]any{"operationId": "getCache", "security": secured},
			},
			"/v1/runs": map[string]any{
				"get": map[string]any{"operationId": "listRuns", "security": secured},
			},
			"/v1/freshness": map[string]any{
				"get": map[string]any{"operationId": "getFreshness", "security": secured},
			},
		},
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"BearerAuth": map[string]any{
					"type":   "http",
					"scheme": "bearer",
				},
			},
		},
	}
}
