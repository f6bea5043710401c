package transport

import (
	"log"
	"net/http"

	gorillaHandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"streamdecoder/internal/audit"
	"streamdecoder/internal/config"
	"streamdecoder/internal/diagnostics"
	"streamdecoder/internal/session"
)

// Server is the HTTP bootstrap: router + middleware + listener, grounded
// on the teacher main.go's router-construction/middleware-wrapping/
// ListenAndServe shape.
type Server struct {
	cfg      *config.Config
	registry *session.Registry
	audit    audit.Store
	archiver *diagnostics.Archiver
}

// New builds a Server ready to Run.
func New(cfg *config.Config, registry *session.Registry, auditStore audit.Store, archiver *diagnostics.Archiver) *Server {
	return &Server{cfg: cfg, registry: registry, audit: auditStore, archiver: archiver}
}

// Run blocks serving HTTP until the process exits or ListenAndServe fails.
func (s *Server) Run() error {
	router := mux.NewRouter()

	router.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ServeWebSocket(w, r, s.registry, s.cfg.TempDir, s.audit, s.archiver)
	})
	router.HandleFunc("/debug/sessions", diagnosticsHandler(s.registry)).Methods(http.MethodGet)

	allowedOrigins := gorillaHandlers.AllowedOrigins([]string{"*"})
	allowedMethods := gorillaHandlers.AllowedMethods([]string{"GET", "POST", "OPTIONS"})
	allowedHeaders := gorillaHandlers.AllowedHeaders([]string{"Content-Type"})

	handler := gorillaHandlers.LoggingHandler(logWriter{}, router)
	handler = gorillaHandlers.CORS(allowedOrigins, allowedMethods, allowedHeaders)(handler)
	handler = gorillaHandlers.RecoveryHandler()(handler)

	addr := ":" + s.cfg.Port
	log.Printf("transport: listening on %s", addr)
	return http.ListenAndServe(addr, handler)
}

// logWriter adapts the standard logger into gorilla/handlers' io.Writer
// access-log sink.
type logWriter struct{}

func (logWriter) Write(p []byte) (int, error) {
	log.Print(string(p))
	return len(p), nil
}
