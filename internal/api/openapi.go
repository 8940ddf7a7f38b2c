package api

import (
	"net/http"
)

// buildOpenAPIDoc returns an OpenAPI 3.1 document describing the read-only API.
// Optional routes are included only when the server serves them.
func (s *Server) buildOpenAPIDoc() map[string]any {
	secured := []any{map[string]any{"BearerAuth": []string{}}}
	if s.config.Token == "" {
		secured = []any{}
	}

	get := func(summary string, security []any, responses map[string]any) map[string]any {
		return map[string]any{
			"get": map[string]any{
				"summary":   summary,
				"security":  security,
				"responses": responses,
			},
		}
	}
	ok := map[string]any{"description": "OK"}

	paths := map[string]any{
		"/healthz": get("Liveness and last run", []any{}, map[string]any{"200": ok}),
		"/runs": get("Recent runs, newest first", secured, map[string]any{
			"200": ok,
			"400": map[string]any{"description": "Invalid limit"},
		}),
		"/runs/{runID}": get("One run with its stage log", secured, map[string]any{
			"200": ok,
			"404": map[string]any{"description": "Run not found"},
			"409": map[string]any{"description": "Ambiguous run id prefix"},
		}),
		"/snapshots": get("Snapshots in the history directory", secured, map[string]any{"200": ok}),
	}
	if s.deps.Metrics != nil {
		paths["/metrics"] = get("Prometheus metrics", []any{}, map[string]any{"200": ok})
	}
	if s.deps.Events != nil {
		paths["/events"] = get("Pipeline progress as server-sent events", secured, map[string]any{"200": ok})
	}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "strata",
			"version": "1.0",
		},
		"paths": paths,
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

// handleOpenAPI handles GET /openapi.json (no auth).
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.buildOpenAPIDoc())
}
