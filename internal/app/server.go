package app

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/quorumlabs/lexvault/internal/api/handlers"
	appMiddleware "github.com/quorumlabs/lexvault/internal/api/middlewares"
	"github.com/quorumlabs/lexvault/internal/config"
	"github.com/quorumlabs/lexvault/internal/core"
	ingestor "github.com/quorumlabs/lexvault/internal/core/ingestion_engine"
)

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
}

// NewServer builds and wires all routes.
func NewServer(cfg *config.Config, db core.DbClient, ing ingestor.Ingestor, emb core.EmbeddingProvider) *Server {
	docHandler := handlers.NewDocumentHandler(db, ing, cfg)
	searchHandler := handlers.NewSearchHandler(db, emb)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8888"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(api chi.Router) {
		// protected endpoints
		api.Group(func(protected chi.Router) {
			protected.Use(appMiddleware.JWTMiddleware(cfg.JwtSecret))

			protected.Post("/documents/upload", docHandler.UploadDocument)
			protected.Post("/documents/folder", docHandler.UploadBatch)
			protected.Post("/documents/drive", docHandler.SyncDriveFolder)

			protected.Get("/documents", docHandler.GetDocuments)
			protected.Get("/documents/{document_id}", docHandler.GetDocument)

			protected.Get("/search", searchHandler.Search)
		})
	})

	httpSrv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	return &Server{httpServer: httpSrv}
}

// Start runs the HTTP server.
func (s *Server) Start() {
	log.Printf("HTTP server listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down HTTP server...")
	return s.httpServer.Shutdown(ctx)
}
