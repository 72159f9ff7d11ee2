package metadata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/bleepstore/filestorage/internal/config"
	fserr "github.com/bleepstore/filestorage/internal/errors"
)

const firestoreCounterDoc = "counter_files"

// FirestoreStore keeps one document per file in a single collection. The
// document ID is the file UUID; a counter document in the same collection
// hands out numeric IDs inside a transaction.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
}

var _ Store = (*FirestoreStore)(nil)

func NewFirestoreStore(ctx context.Context, cfg config.FirestoreConfig) (*FirestoreStore, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("firestore project id is required")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := firestore.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}

	collection := cfg.Collection
	if collection == "" {
		collection = "filestorage_files"
	}
	slog.Info("Firestore metadata store initialized", "project", cfg.ProjectID, "collection", collection)
	return &FirestoreStore{client: client, collection: collection}, nil
}

func (s *FirestoreStore) collectionRef() *firestore.CollectionRef {
	return s.client.Collection(s.collection)
}

func (s *FirestoreStore) Ping(ctx context.Context) error {
	_, err := s.collectionRef().Limit(1).Documents(ctx).Next()
	if err != nil && !errors.Is(err, iterator.Done) {
		return err
	}
	return nil
}

func (s *FirestoreStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func (s *FirestoreStore) PutFile(ctx context.Context, rec *FileRecord) (*FileRecord, error) {
	var stored *FileRecord
	fileRef := s.collectionRef().Doc(rec.UUID)
	counterRef := s.collectionRef().Doc(firestoreCounterDoc)

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		stored = cloneRecord(rec)
		now := nowUTC()

		existing, err := tx.Get(fileRef)
		if err != nil && status.Code(err) != codes.NotFound {
			return fmt.Errorf("getting file record: %w", err)
		}
		counter, err := tx.Get(counterRef)
		if err != nil && status.Code(err) != codes.NotFound {
			return fmt.Errorf("reading file id counter: %w", err)
		}
		current := counterValue(counter)

		if existing != nil && existing.Exists() {
			prev, err := docToRecord(existing.Data())
			if err != nil {
				return err
			}
			stored.ID = prev.ID
			stored.CreatedAt = prev.CreatedAt
		} else {
			switch {
			case stored.ID == 0:
				current++
				stored.ID = current
			case stored.ID > current:
				current = stored.ID
			}
			if stored.CreatedAt.IsZero() {
				stored.CreatedAt = now
			}
			if err := tx.Set(counterRef, map[string]interface{}{"type": "counter", "value": current}); err != nil {
				return err
			}
		}
		stored.UpdatedAt = now

		doc, err := recordToDoc(stored)
		if err != nil {
			return err
		}
		return tx.Set(fileRef, doc)
	})
	if err != nil {
		return nil, fmt.Errorf("putting file record: %w", err)
	}
	return stored, nil
}

func counterValue(doc *firestore.DocumentSnapshot) int64 {
	if doc == nil || !doc.Exists() {
		return 0
	}
	n, _ := doc.Data()["value"].(int64)
	return n
}

func (s *FirestoreStore) GetFile(ctx context.Context, uuid string) (*FileRecord, error) {
	doc, err := s.collectionRef().Doc(uuid).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fserr.ErrFileNotFound.WithMessage("File %s does not exist", uuid)
		}
		return nil, fmt.Errorf("getting file record: %w", err)
	}
	if !doc.Exists() {
		return nil, fserr.ErrFileNotFound.WithMessage("File %s does not exist", uuid)
	}
	return docToRecord(doc.Data())
}

func (s *FirestoreStore) DeleteFile(ctx context.Context, uuid string) error {
	if _, err := s.collectionRef().Doc(uuid).Delete(ctx); err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("deleting file record: %w", err)
	}
	return nil
}

// ListFiles orders on the id field server side and applies the remaining
// filters while iterating, so only the (type, id) composite index is needed.
func (s *FirestoreStore) ListFiles(ctx context.Context, opts ListOptions) ([]FileRecord, error) {
	query := s.collectionRef().
		Where("type", "==", "file").
		Where("id", ">", opts.AfterID).
		OrderBy("id", firestore.Asc)

	iter := query.Documents(ctx)
	defer iter.Stop()

	result := make([]FileRecord, 0)
	for opts.Limit <= 0 || len(result) < opts.Limit {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("listing file records: %w", err)
		}
		rec, err := docToRecord(doc.Data())
		if err != nil {
			return nil, err
		}
		if opts.match(rec) {
			result = append(result, *rec)
		}
	}
	return result, nil
}

// recordToDoc flattens rec into document fields. Variants and metadata are
// kept as JSON strings so arbitrary values survive the round trip unchanged.
func recordToDoc(rec *FileRecord) (map[string]interface{}, error) {
	variants, err := marshalJSONColumn(rec.Variants)
	if err != nil {
		return nil, fmt.Errorf("encoding variants: %w", err)
	}
	metadata, err := marshalJSONColumn(rec.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encoding metadata: %w", err)
	}
	return map[string]interface{}{
		"type":       "file",
		"id":         rec.ID,
		"uuid":       rec.UUID,
		"filename":   rec.Filename,
		"filesize":   rec.Filesize,
		"mime_type":  rec.MimeType,
		"extension":  rec.Extension,
		"path":       rec.Path,
		"storage":    rec.Storage,
		"collection": rec.Collection,
		"model":      rec.Model,
		"model_id":   rec.ModelID,
		"variants":   variants,
		"metadata":   metadata,
		"created_at": rec.CreatedAt.UTC(),
		"updated_at": rec.UpdatedAt.UTC(),
	}, nil
}

func docToRecord(data map[string]interface{}) (*FileRecord, error) {
	str := func(key string) string {
		v, _ := data[key].(string)
		return v
	}
	num := func(key string) int64 {
		v, _ := data[key].(int64)
		return v
	}
	ts := func(key string) time.Time {
		v, _ := data[key].(time.Time)
		return v.UTC()
	}

	rec := &FileRecord{
		ID:         num("id"),
		UUID:       str("uuid"),
		Filename:   str("filename"),
		Filesize:   num("filesize"),
		MimeType:   str("mime_type"),
		Extension:  str("extension"),
		Path:       str("path"),
		Storage:    str("storage"),
		Collection: str("collection"),
		Model:      str("model"),
		ModelID:    str("model_id"),
		CreatedAt:  ts("created_at"),
		UpdatedAt:  ts("updated_at"),
	}
	variants := str("variants")
	if variants == "" {
		variants = "{}"
	}
	if err := unmarshalVariants(variants, rec); err != nil {
		return nil, err
	}
	if err := unmarshalMetadata(str("metadata"), rec); err != nil {
		return nil, err
	}
	return rec, nil
}
