// Package server exposes the published catalog over HTTP: the full document,
// single entries and a download redirect per target Zotero version.
package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	"github.com/zotero-addons/addons-scraper/internal/config"
)

type Server struct {
	router chi.Router
	log    *logrus.Logger
	config *config.ServerConfig
	cache  *cache.Cache
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) notFoundHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSONError(w, r, http.StatusNotFound, fmt.Errorf("not found"))
}

func (s *Server) methodNotAllowedHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSONError(w, r, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
}

func (s *Server) indexHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]string{
		"service": "zotero addons registry",
		"stage":   s.config.Stage,
		"version": s.config.Version,
	})
}

func New(log *logrus.Logger, serverCfg *config.ServerConfig) *Server {
	router := chi.NewRouter()
	server := &Server{
		router: router,
		log:    log,
		config: serverCfg,
		cache:  cache.New(5*time.Minute, 10*time.Minute),
	}
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(server.logMiddleware)
	router.Use(server.recoverMiddleware)

	router.Use(middleware.Timeout(time.Minute))

	router.NotFound(server.notFoundHandler)
	router.MethodNotAllowed(server.methodNotAllowedHandler)

	router.Get("/", server.indexHandler)

	router.With(server.cacheMiddleware).Group(func(r chi.Router) {
		r.Get("/addons", server.listAddons)
		r.Get("/addons/{owner}/{repo}", server.getAddon)
	})
	router.Get("/download/{owner}/{repo}/{target}", server.downloadAddon)

	return server
}
