package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zotero-addons/addons-scraper/pkg/catalog"
)

// catalogTTL bounds how stale a served catalog can be after the file on disk
// has been replaced by a newer scraper run.
const catalogTTL = time.Minute

func (s *Server) loadCatalog() ([]*catalog.Addon, error) {
	k := s.getCacheKeyWithPrefix(cacheKeyPrefixCatalog, s.config.CatalogFile)
	if v, ok := s.getFromCache(k); ok {
		return v.([]*catalog.Addon), nil
	}
	addons, err := catalog.LoadFile(s.config.CatalogFile)
	if err != nil {
		return nil, err
	}
	s.setInCache(k, addons, catalogTTL)
	return addons, nil
}

func (s *Server) findAddon(addons []*catalog.Addon, repo string) *catalog.Addon {
	for _, addon := range addons {
		if addon.Repo == repo {
			return addon
		}
	}
	return nil
}

func (s *Server) listAddons(w http.ResponseWriter, r *http.Request) {
	addons, err := s.loadCatalog()
	if err != nil {
		s.writeJSONError(w, r, http.StatusInternalServerError, err, "could not load catalog")
		return
	}
	s.setInCache(s.getCacheKeyFromRequest(r), addons)
	s.writeJSON(w, addons)
}

func (s *Server) getAddon(w http.ResponseWriter, r *http.Request) {
	repo := chi.URLParam(r, "owner") + "/" + chi.URLParam(r, "repo")
	addons, err := s.loadCatalog()
	if err != nil {
		s.writeJSONError(w, r, http.StatusInternalServerError, err, "could not load catalog")
		return
	}
	addon := s.findAddon(addons, repo)
	if addon == nil {
		s.writeJSONError(w, r, http.StatusNotFound, fmt.Errorf("addon %s not found", repo))
		return
	}
	s.setInCache(s.getCacheKeyFromRequest(r), addon)
	s.writeJSON(w, addon)
}

func (s *Server) downloadAddon(w http.ResponseWriter, r *http.Request) {
	repo := chi.URLParam(r, "owner") + "/" + chi.URLParam(r, "repo")
	target := chi.URLParam(r, "target")
	addons, err := s.loadCatalog()
	if err != nil {
		s.writeJSONError(w, r, http.StatusInternalServerError, err, "could not load catalog")
		return
	}
	addon := s.findAddon(addons, repo)
	if addon == nil {
		s.writeJSONError(w, r, http.StatusNotFound, fmt.Errorf("addon %s not found", repo))
		return
	}
	for _, release := range addon.Releases {
		if release.TargetZoteroVersion != target || release.DownloadURL == "" {
			continue
		}
		http.Redirect(w, r, release.DownloadURL, http.StatusFound)
		return
	}
	s.writeJSONError(w, r, http.StatusNotFound, fmt.Errorf("no download for %s on zotero %s", repo, target))
}
