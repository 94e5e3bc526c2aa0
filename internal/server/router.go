package server

import (
	"net/http"

	"github.com/maruel/secdb/internal/server/dto"
	"github.com/maruel/secdb/internal/server/handlers"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) routes(opts Options) (http.Handler, error) {
	svc := &handlers.Services{
		Registry: s.registry,
		Config:   s.cfg,
		Audit:    s.audit,
		History:  s.history,
		Version:  opts.Version,
		Sessions: s.sessions.Len,
	}
	admin, err := handlers.NewAdminHandler(svc)
	if err != nil {
		return nil, err
	}
	api := handlers.NewAPIHandler(svc)
	health := handlers.NewHealthHandler(opts.Version)

	mux := &http.ServeMux{}
	mux.Handle("GET /api/health", Wrap(health.Health))
	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		handlers.WriteError(r.Context(), w, dto.NotFound("endpoint"))
	})

	// JSON API.
	v1 := &http.ServeMux{}
	v1.Handle("POST /api/v1/token", Wrap(api.Token))
	v1.Handle("GET /api/v1/databases", Wrap(api.ListDatabases))
	v1.Handle("POST /api/v1/databases", Wrap(api.CreateDatabase))
	v1.Handle("DELETE /api/v1/databases/{db}", Wrap(api.DeleteDatabase))
	v1.Handle("GET /api/v1/databases/{db}/tables", Wrap(api.ListTables))
	v1.Handle("POST /api/v1/databases/{db}/tables", Wrap(api.CreateTable))
	v1.Handle("DELETE /api/v1/databases/{db}/tables/{table}", Wrap(api.DeleteTable))
	v1.Handle("POST /api/v1/databases/{db}/tables/{table}/reset", Wrap(api.ResetTable))
	v1.Handle("GET /api/v1/databases/{db}/tables/{table}/columns", Wrap(api.GetColumns))
	v1.Handle("GET /api/v1/databases/{db}/tables/{table}/rows", Wrap(api.ListRows))
	v1.Handle("POST /api/v1/databases/{db}/tables/{table}/rows", Wrap(api.InsertRow))
	v1.Handle("DELETE /api/v1/databases/{db}/tables/{table}/rows/{id}", Wrap(api.DeleteRow))
	v1.Handle("DELETE /api/v1/databases/{db}/tables/{table}/rows/at/{index}", Wrap(api.DeleteRowAt))
	v1.Handle("GET /api/v1/databases/{db}/tables/{table}/exists", Wrap(api.Exists))
	v1.HandleFunc("/api/v1/", func(w http.ResponseWriter, r *http.Request) {
		handlers.WriteError(r.Context(), w, dto.NotFound("endpoint"))
	})
	mux.Handle("/api/v1/", s.requireAPIKey(v1))

	// Administration pages.
	pages := &http.ServeMux{}
	pages.HandleFunc("GET /{$}", admin.Dashboard)
	pages.HandleFunc("GET /databases", admin.Databases)
	pages.HandleFunc("GET /createdb", admin.CreateDatabaseForm)
	pages.HandleFunc("POST /createdb", admin.CreateDatabase)
	pages.HandleFunc("POST /deletedb", admin.DeleteDatabase)
	pages.HandleFunc("GET /viewdb", admin.ViewDatabase)
	pages.HandleFunc("POST /createtable", admin.CreateTable)
	pages.HandleFunc("POST /insertrow", admin.InsertRow)
	pages.HandleFunc("POST /deleterow", admin.DeleteRow)
	pages.HandleFunc("POST /deletetable", admin.DeleteTable)
	pages.HandleFunc("POST /resettable", admin.ResetTable)
	pages.HandleFunc("GET /logs", admin.Logs)
	pages.HandleFunc("POST /clear-logs", admin.ClearLogs)
	pages.HandleFunc("GET /config", admin.Config)
	pages.HandleFunc("POST /config", admin.UpdateConfig)
	pages.HandleFunc("POST /regenerate-key", admin.RegenerateKey)
	pages.Handle("GET /metrics", promhttp.HandlerFor(opts.Metrics, promhttp.HandlerOpts{}))
	mux.Handle("/", s.requireAdmin(http.NewCrossOriginProtection().Handler(pages)))

	return s.observe(s.limit(mux)), nil
}
