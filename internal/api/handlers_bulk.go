package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/dgallion1/mdbulk/internal/bulk"
	"github.com/dgallion1/mdbulk/internal/drive"
	"github.com/dgallion1/mdbulk/internal/pipeline"
	"github.com/dgallion1/mdbulk/internal/table"
	"github.com/go-chi/chi/v5"
)

// workflow runs one bulk workflow with a client acting for the caller.
type workflow func(ctx context.Context, c *drive.Client, svc *bulk.Service) ([]bulk.Row, error)

func (s *Server) service(c *drive.Client, progress func(error)) *bulk.Service {
	return bulk.NewService(c, s.engine, bulk.Options{
		MaxConcurrent:  s.cfg.MaxConcurrent,
		Suffix:         s.cfg.DocumentSuffix,
		PartialFailure: s.cfg.PartialFailure,
		OnTaskDone:     progress,
	}, s.log)
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	root := r.URL.Query().Get("root")
	if root == "" {
		s.writeRows(w, r, nil)
		return
	}
	if !strings.HasPrefix(root, "https://") {
		if _, err := drive.ParseItemPath(root); err != nil {
			s.writeError(w, r, fmt.Errorf("%w: %w", errBadRequest, err))
			return
		}
	}
	s.runWorkflow(w, r, pipeline.KindExtract, func(ctx context.Context, c *drive.Client, svc *bulk.Service) ([]bulk.Row, error) {
		it, err := resolveRoot(ctx, c, root)
		if err != nil {
			return nil, err
		}
		return svc.Extract(ctx, it)
	})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	rows, err := s.readRows(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.runWorkflow(w, r, pipeline.KindVerify, func(ctx context.Context, _ *drive.Client, svc *bulk.Service) ([]bulk.Row, error) {
		return svc.Verify(ctx, rows)
	})
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	rows, err := s.readRows(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.runWorkflow(w, r, pipeline.KindUpdate, func(ctx context.Context, _ *drive.Client, svc *bulk.Service) ([]bulk.Row, error) {
		return svc.Update(ctx, rows)
	})
}

// runWorkflow runs run inline, or as a queued job when the request asks
// for ?async=true.
func (s *Server) runWorkflow(w http.ResponseWriter, r *http.Request, kind pipeline.JobKind, run workflow) {
	if r.URL.Query().Get("async") == "true" {
		token := tokenFrom(r.Context())
		job := pipeline.NewJob(kind, func(ctx context.Context, progress func(error)) ([]bulk.Row, error) {
			c := s.clientFor(token)
			defer c.Close()
			return run(ctx, c, s.service(c, progress))
		})
		job.Owner = tokenOwner(token)
		if err := s.orchestrator.Submit(job); err != nil {
			jsonError(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{
			"job_id":   job.ID,
			"kind":     kind,
			"status":   pipeline.StatusQueued,
			"poll_url": fmt.Sprintf("/api/jobs/%s", job.ID),
		})
		return
	}

	c := s.client(r.Context())
	defer c.Close()
	rows, err := run(r.Context(), c, s.service(c, nil))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeRows(w, r, rows)
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job := s.orchestrator.GetJob(jobID)
	// Jobs of other callers are indistinguishable from missing ones.
	if job == nil || !job.OwnedBy(tokenOwner(tokenFrom(r.Context()))) {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, job.Snapshot())
}

// readRows decodes the request body as a JSON or CSV row table.
func (s *Server) readRows(w http.ResponseWriter, r *http.Request) ([]bulk.Row, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	rows, err := table.ReadRows(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", errBadRequest, err)
	}
	return rows, nil
}

// writeRows answers with rows as JSON, or as CSV for ?format=csv.
func (s *Server) writeRows(w http.ResponseWriter, r *http.Request, rows []bulk.Row) {
	if r.URL.Query().Get("format") == "csv" {
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		if err := table.WriteCSV(w, rows, s.engine.Fields()); err != nil {
			s.log.Warn("write csv response", "error", err)
		}
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := table.WriteJSON(w, rows); err != nil {
		s.log.Warn("write json response", "error", err)
	}
}
