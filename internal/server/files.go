package server

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"

	fserr "github.com/bleepstore/filestorage/internal/errors"
	"github.com/bleepstore/filestorage/internal/file"
	"github.com/bleepstore/filestorage/internal/metadata"

	"github.com/go-chi/chi/v5"
)

// multipartMemory is the part of a multipart form kept in memory; the rest
// spills to temporary files.
const multipartMemory = 32 << 20

func (s *Server) limitBody(w http.ResponseWriter, r *http.Request) {
	if limit := s.cfg.Server.MaxUploadBytes; limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}
}

// uploadFile handles POST /files. The form carries the content in "file" and
// optional storage, model, model_id, collection and metadata (JSON object)
// fields.
func (s *Server) uploadFile(w http.ResponseWriter, r *http.Request) {
	s.limitBody(w, r)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		s.writeError(w, r, fserr.ErrInvalidAttributes.WithMessage("Invalid multipart form").WithCause(err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	fh, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, r, fserr.ErrNoStream.WithMessage("Missing form file \"file\""))
		return
	}
	defer fh.Close()

	storageName := r.FormValue("storage")
	if storageName == "" {
		storageName = s.cfg.DefaultStorage
	}

	f, err := file.FromReader(header.Filename, storageName, fh, header.Size)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if model := r.FormValue("model"); model != "" {
		f = f.BelongsToModel(model, r.FormValue("model_id"))
	}
	if collection := r.FormValue("collection"); collection != "" {
		f = f.AddToCollection(collection)
	}
	if raw := r.FormValue("metadata"); raw != "" {
		var md map[string]any
		if err := json.Unmarshal([]byte(raw), &md); err != nil {
			s.writeError(w, r, fserr.ErrInvalidAttributes.WithMessage("metadata must be a JSON object").WithCause(err))
			return
		}
		f = f.WithMetadata(md)
	}

	stored, err := s.orch.Store(r.Context(), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, fileBody(stored))
}

// uploadVariant handles PUT and POST /files/{uuid}/variants/{name} with the
// raw variant content as the body.
func (s *Server) uploadVariant(w http.ResponseWriter, r *http.Request) {
	s.limitBody(w, r)
	ctx := r.Context()

	f, err := s.loadFile(ctx, chi.URLParam(r, "uuid"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	mimeType := r.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	updated, err := s.orch.StoreVariant(ctx, f, chi.URLParam(r, "name"), r.Body, mimeType)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := s.store.PutFile(ctx, metadata.ToRecord(updated)); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fileBody(updated))
}

// downloadFile handles GET /files/{uuid}/content.
func (s *Server) downloadFile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	f, err := s.loadFile(ctx, chi.URLParam(r, "uuid"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rc, err := s.orch.Open(ctx, f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer rc.Close()

	s.stream(w, r, rc, f.MimeType(), f.Filename())
}

// downloadVariant handles GET /files/{uuid}/variants/{name}/content.
func (s *Server) downloadVariant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := chi.URLParam(r, "name")
	f, err := s.loadFile(ctx, chi.URLParam(r, "uuid"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	v, err := f.Variant(name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rc, err := s.orch.OpenVariant(ctx, f, name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer rc.Close()

	mimeType, _ := v["mimeType"].(string)
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	s.stream(w, r, rc, mimeType, "")
}

func (s *Server) stream(w http.ResponseWriter, r *http.Request, rc io.Reader, mimeType, filename string) {
	w.Header().Set("Content-Type", mimeType)
	if filename != "" {
		w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": filename}))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		s.logger.WarnContext(r.Context(), "Streaming content failed", "path", r.URL.Path, "error", err)
	}
}
