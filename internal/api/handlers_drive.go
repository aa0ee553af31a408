package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/dgallion1/mdbulk/internal/drive"
)

var errBadRequest = errors.New("bad request")

// listEntry is one child in a /api/list answer.
type listEntry struct {
	Name     string `json:"name"`
	ItemPath string `json:"itemPath"`
	Folder   bool   `json:"folder"`
}

// client returns a Graph client acting with the caller's token.
func (s *Server) client(ctx context.Context) *drive.Client {
	return s.clientFor(tokenFrom(ctx))
}

func (s *Server) clientFor(token string) *drive.Client {
	return drive.NewClient(s.cfg.GraphURL, drive.StaticToken(token), s.stats, s.cfg.RequestTimeout)
}

// resolveRoot turns a root parameter into an item: https links are resolved
// as share links, anything else must be a canonical item path, which names
// an item of unknown kind.
func resolveRoot(ctx context.Context, c *drive.Client, root string) (drive.Item, error) {
	if strings.HasPrefix(root, "https://") {
		return c.ResolveShareLink(ctx, root)
	}
	ref, err := drive.ParseItemPath(root)
	if err != nil {
		return drive.Item{}, fmt.Errorf("%w: %w", errBadRequest, err)
	}
	return drive.Item{Ref: ref}, nil
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	c := s.client(r.Context())
	defer c.Close()

	me, err := c.Me(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(me)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	root := r.URL.Query().Get("root")
	entries := []listEntry{}
	if root == "" {
		writeJSON(w, http.StatusOK, entries)
		return
	}

	c := s.client(r.Context())
	defer c.Close()

	it, err := resolveRoot(r.Context(), c, root)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	children, err := c.ListChildren(r.Context(), it.Ref)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	for _, child := range children {
		entries = append(entries, listEntry{
			Name:     child.Name,
			ItemPath: child.Ref.Path(),
			Folder:   child.IsFolder(),
		})
	}
	writeJSON(w, http.StatusOK, entries)
}

// writeError maps err onto a status code: drive failures keep the status
// the drive answered with, an oversized body is a 413, malformed input a 400
// and the rest a 500.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := drive.StatusCode(err)
	var maxErr *http.MaxBytesError
	switch {
	case code != 0:
	case errors.As(err, &maxErr):
		code = http.StatusRequestEntityTooLarge
	case errors.Is(err, errBadRequest):
		code = http.StatusBadRequest
	default:
		code = http.StatusInternalServerError
	}
	s.log.Warn("request failed", "path", r.URL.Path, "status", code, "error", err)
	jsonError(w, err.Error(), code)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
