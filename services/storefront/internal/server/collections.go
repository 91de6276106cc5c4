package server

import (
	"net/http"
	"strings"

	"bookstore/pkg/domain"
	"bookstore/services/storefront/internal/app"
)

type collectionRequest struct {
	Name string `json:"name"`
}

type externalBookRef struct {
	ExternalVolumeID string `json:"externalVolumeId"`
	VolumeID         string `json:"volumeId"`
}

type collectionItemRequest struct {
	BookID string           `json:"bookId"`
	Book   *externalBookRef `json:"book"`
	Notes  string           `json:"notes"`
}

func (s *Server) handleCollections(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodGet:
		list, err := s.app.ListCollections(r.Context(), user.ID)
		if err != nil {
			writeAppError(w, r, err, "not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": list})
	case http.MethodPost:
		var req collectionRequest
		if err := decodeJSON(r, &req); err != nil {
			writeAppError(w, r, err, "not found")
			return
		}
		c, err := s.app.CreateCollection(r.Context(), user.ID, req.Name)
		if err != nil {
			writeAppError(w, r, err, "not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"id": c.ID, "name": c.Name, "slug": c.Slug})
	default:
		methodNotAllowed(w)
	}
}

// /collections/{id}, /collections/{id}/items or /collections/{id}/items/{bookId}
func (s *Server) handleCollectionPath(w http.ResponseWriter, r *http.Request, user domain.User) {
	path := strings.TrimPrefix(r.URL.Path, "/collections/")
	parts := strings.Split(path, "/")
	id := parts[0]
	if id == "" {
		notFound(w, "not found")
		return
	}
	switch {
	case len(parts) == 1:
		s.handleCollection(w, r, user, id)
	case len(parts) == 2 && parts[1] == "items":
		s.handleAddCollectionItem(w, r, user, id)
	case len(parts) == 3 && parts[1] == "items" && parts[2] != "":
		s.handleRemoveCollectionItem(w, r, user, id, parts[2])
	default:
		notFound(w, "not found")
	}
}

func (s *Server) handleCollection(w http.ResponseWriter, r *http.Request, user domain.User, id string) {
	switch r.Method {
	case http.MethodPatch:
		var req collectionRequest
		if err := decodeJSON(r, &req); err != nil {
			writeAppError(w, r, err, "not found")
			return
		}
		c, err := s.app.RenameCollection(r.Context(), user.ID, id, req.Name)
		if err != nil {
			writeAppError(w, r, err, "collection not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"id": c.ID, "name": c.Name, "slug": c.Slug})
	case http.MethodDelete:
		if err := s.app.DeleteCollection(r.Context(), user.ID, id); err != nil {
			writeAppError(w, r, err, "collection not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleAddCollectionItem(w http.ResponseWriter, r *http.Request, user domain.User, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req collectionItemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAppError(w, r, err, "not found")
		return
	}
	in := app.CollectionItemInput{BookID: req.BookID, Notes: req.Notes}
	if req.Book != nil {
		in.VolumeID = req.Book.ExternalVolumeID
		if in.VolumeID == "" {
			in.VolumeID = req.Book.VolumeID
		}
	}
	item, err := s.app.AddCollectionItem(r.Context(), user.ID, id, in)
	if err != nil {
		writeAppError(w, r, err, "collection not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "itemId": item.ID})
}

func (s *Server) handleRemoveCollectionItem(w http.ResponseWriter, r *http.Request, user domain.User, id, bookID string) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	if err := s.app.RemoveCollectionItem(r.Context(), user.ID, id, bookID); err != nil {
		writeAppError(w, r, err, "collection not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
