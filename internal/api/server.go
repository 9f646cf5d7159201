package api

import (
	"context"
	"log"
	"net/http"

	"signupguard/internal/blocklist"
	"signupguard/internal/classifier"
	"signupguard/internal/eventbus"

	"github.com/gorilla/mux"
)

// BuildCommit is set by main to the git commit hash baked in at build time.
var BuildCommit = "dev"

type Server struct {
	classifier *classifier.Classifier
	loader     *blocklist.Loader
	hub        *Hub
	auth       *AuthMiddleware
	httpServer *http.Server
}

func NewServer(cls *classifier.Classifier, loader *blocklist.Loader, events *eventbus.Bus, port, jwtSecret string) *Server {
	r := mux.NewRouter()

	s := &Server{
		classifier: cls,
		loader:     loader,
		hub:        newHub(),
		auth:       NewAuthMiddleware(jwtSecret),
	}

	r.Use(commonMiddleware)
	r.Use(rateLimitMiddleware)

	// OPTIONS is registered on every route so preflights reach
	// commonMiddleware instead of mux's method-mismatch 405.
	r.HandleFunc("/health", s.handleHealth).Methods("GET", "OPTIONS")
	r.HandleFunc("/v1/classify", s.handleClassify).Methods("GET", "POST", "OPTIONS")
	r.HandleFunc("/v1/status", s.handleStatus).Methods("GET", "OPTIONS")
	r.Handle("/v1/admin/update", s.auth.Middleware(http.HandlerFunc(s.handleAdminUpdate))).Methods("POST", "OPTIONS")
	r.HandleFunc("/ws/status", s.handleStatusWebSocket).Methods("GET", "OPTIONS")

	s.httpServer = &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}

	if events != nil {
		s.hub.attach(events)
	}

	return s
}

func (s *Server) Start() error {
	go s.hub.run()
	log.Printf("[API] Listening on %s (commit %s)", s.httpServer.Addr, BuildCommit)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func commonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
