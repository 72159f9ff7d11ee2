package server

import (
	"context"
	"net/http"

	"github.com/bleepstore/filestorage/internal/file"
	"github.com/bleepstore/filestorage/internal/metadata"
)

// HealthBody is the JSON body returned by the health check endpoint.
type HealthBody struct {
	Status string `json:"status" example:"ok" doc:"Health status"`
}

// HealthOutput is the Huma output struct for the health check endpoint.
type HealthOutput struct {
	Body HealthBody
}

// ReadyBody reports the outcome of each dependency check.
type ReadyBody struct {
	Status string            `json:"status" example:"ok" doc:"ok or unavailable"`
	Checks map[string]string `json:"checks" doc:"Per-dependency result"`
}

// ReadyOutput carries the readiness status code and body.
type ReadyOutput struct {
	Status int
	Body   ReadyBody
}

// FileInput addresses a single file.
type FileInput struct {
	UUID string `path:"uuid" doc:"File UUID"`
}

// VariantInput addresses a variant of a file.
type VariantInput struct {
	UUID string `path:"uuid" doc:"File UUID"`
	Name string `path:"name" doc:"Variant name"`
}

// FileOutput is the structured representation of a file.
type FileOutput struct {
	Body map[string]any
}

// ListFilesInput filters the file listing.
type ListFilesInput struct {
	Storage    string `query:"storage" doc:"Storage name"`
	Model      string `query:"model" doc:"Owning model"`
	ModelID    string `query:"model_id" doc:"Owning model id"`
	Collection string `query:"collection" doc:"Collection name"`
	After      int64  `query:"after" minimum:"0" doc:"Return records with an id greater than this"`
	Limit      int    `query:"limit" minimum:"1" maximum:"1000" default:"100" doc:"Page size"`
}

// ListFilesBody is a page of files.
type ListFilesBody struct {
	Files     []map[string]any `json:"files"`
	NextAfter int64            `json:"next_after,omitempty" doc:"Cursor for the next page"`
}

// ListFilesOutput wraps ListFilesBody.
type ListFilesOutput struct {
	Body ListFilesBody
}

func (s *Server) ready(ctx context.Context, _ *struct{}) (*ReadyOutput, error) {
	out := &ReadyOutput{
		Status: http.StatusOK,
		Body:   ReadyBody{Status: "ok", Checks: map[string]string{}},
	}
	fail := func(name string, err error) {
		out.Status = http.StatusServiceUnavailable
		out.Body.Status = "unavailable"
		out.Body.Checks[name] = err.Error()
	}

	if err := s.store.Ping(ctx); err != nil {
		fail("metadata", err)
	} else {
		out.Body.Checks["metadata"] = "ok"
	}
	if s.health != nil {
		failures := s.health.HealthCheck(ctx)
		for name, err := range failures {
			fail("storage:"+name, err)
		}
		if len(failures) == 0 {
			out.Body.Checks["storage"] = "ok"
		}
	}
	return out, nil
}

func (s *Server) listFiles(ctx context.Context, input *ListFilesInput) (*ListFilesOutput, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = 100
	}
	recs, err := s.store.ListFiles(ctx, metadata.ListOptions{
		Storage:    input.Storage,
		Model:      input.Model,
		ModelID:    input.ModelID,
		Collection: input.Collection,
		AfterID:    input.After,
		Limit:      limit,
	})
	if err != nil {
		return nil, s.apiError(ctx, err)
	}

	out := &ListFilesOutput{Body: ListFilesBody{Files: make([]map[string]any, 0, len(recs))}}
	for i := range recs {
		f, err := recs[i].File()
		if err != nil {
			return nil, s.apiError(ctx, err)
		}
		out.Body.Files = append(out.Body.Files, fileBody(f))
	}
	if len(recs) == limit {
		out.Body.NextAfter = recs[len(recs)-1].ID
	}
	return out, nil
}

func (s *Server) getFile(ctx context.Context, input *FileInput) (*FileOutput, error) {
	f, err := s.loadFile(ctx, input.UUID)
	if err != nil {
		return nil, s.apiError(ctx, err)
	}
	return &FileOutput{Body: fileBody(f)}, nil
}

func (s *Server) deleteFile(ctx context.Context, input *FileInput) (*struct{}, error) {
	f, err := s.loadFile(ctx, input.UUID)
	if err != nil {
		return nil, s.apiError(ctx, err)
	}
	if _, err := s.orch.Remove(ctx, f); err != nil {
		return nil, s.apiError(ctx, err)
	}
	return nil, nil
}

func (s *Server) deleteVariant(ctx context.Context, input *VariantInput) (*FileOutput, error) {
	f, err := s.loadFile(ctx, input.UUID)
	if err != nil {
		return nil, s.apiError(ctx, err)
	}
	updated, err := s.orch.RemoveVariant(ctx, f, input.Name)
	if err != nil {
		return nil, s.apiError(ctx, err)
	}
	if _, err := s.store.PutFile(ctx, metadata.ToRecord(updated)); err != nil {
		return nil, s.apiError(ctx, err)
	}
	return &FileOutput{Body: fileBody(updated)}, nil
}

func (s *Server) loadFile(ctx context.Context, uuid string) (*file.File, error) {
	rec, err := s.store.GetFile(ctx, uuid)
	if err != nil {
		return nil, err
	}
	return rec.File()
}

// fileBody extends the file's map form with its record id and storage.
func fileBody(f *file.File) map[string]any {
	m := f.ToMap()
	m["id"] = f.ID()
	m["storage"] = f.Storage()
	return m
}
