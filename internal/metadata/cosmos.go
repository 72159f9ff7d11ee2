package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/azcosmos"

	"github.com/bleepstore/filestorage/internal/config"
	fserr "github.com/bleepstore/filestorage/internal/errors"
)

const (
	cosmosFileType    = "file"
	cosmosCounterType = "counter"
	cosmosCounterID   = "counter_files"

	maxCounterRetries = 8
)

// CosmosAPI is the subset of *azcosmos.ContainerClient used by CosmosStore.
type CosmosAPI interface {
	Read(ctx context.Context, o *azcosmos.ReadContainerOptions) (azcosmos.ContainerResponse, error)
	CreateItem(ctx context.Context, pk azcosmos.PartitionKey, item []byte, o *azcosmos.ItemOptions) (azcosmos.ItemResponse, error)
	UpsertItem(ctx context.Context, pk azcosmos.PartitionKey, item []byte, o *azcosmos.ItemOptions) (azcosmos.ItemResponse, error)
	ReplaceItem(ctx context.Context, pk azcosmos.PartitionKey, itemID string, item []byte, o *azcosmos.ItemOptions) (azcosmos.ItemResponse, error)
	ReadItem(ctx context.Context, pk azcosmos.PartitionKey, itemID string, o *azcosmos.ItemOptions) (azcosmos.ItemResponse, error)
	DeleteItem(ctx context.Context, pk azcosmos.PartitionKey, itemID string, o *azcosmos.ItemOptions) (azcosmos.ItemResponse, error)
	NewQueryItemsPager(query string, pk azcosmos.PartitionKey, o *azcosmos.QueryOptions) *runtime.Pager[azcosmos.QueryItemsResponse]
}

// CosmosStore keeps file records in a Cosmos DB container partitioned on
// /type. File items live in the "file" partition under their UUID; the ID
// counter is a single item in the "counter" partition updated with ETag
// preconditions.
type CosmosStore struct {
	client CosmosAPI
}

var _ Store = (*CosmosStore)(nil)

type cosmosFileItem struct {
	ID     string     `json:"id"`
	Type   string     `json:"type"`
	FileID int64      `json:"file_id"`
	Record FileRecord `json:"record"`
}

type cosmosCounterItem struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Value int64  `json:"value"`
}

func NewCosmosStore(ctx context.Context, cfg config.CosmosConfig) (*CosmosStore, error) {
	if cfg.Endpoint == "" || cfg.MasterKey == "" {
		return nil, fmt.Errorf("cosmos endpoint and master key are required")
	}
	if cfg.Database == "" || cfg.Container == "" {
		return nil, fmt.Errorf("cosmos database and container names are required")
	}

	cred, err := azcosmos.NewKeyCredential(cfg.MasterKey)
	if err != nil {
		return nil, fmt.Errorf("creating cosmos key credential: %w", err)
	}
	client, err := azcosmos.NewClientWithKey(cfg.Endpoint, cred, &azcosmos.ClientOptions{
		ClientOptions: policy.ClientOptions{},
	})
	if err != nil {
		return nil, fmt.Errorf("creating cosmos client: %w", err)
	}
	db, err := client.NewDatabase(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("getting database client: %w", err)
	}
	container, err := db.NewContainer(cfg.Container)
	if err != nil {
		return nil, fmt.Errorf("getting container client: %w", err)
	}

	slog.Info("Cosmos DB metadata store initialized", "database", cfg.Database, "container", cfg.Container)
	return NewCosmosStoreWithClient(container), nil
}

// NewCosmosStoreWithClient creates a store on an existing container client.
func NewCosmosStoreWithClient(client CosmosAPI) *CosmosStore {
	return &CosmosStore{client: client}
}

func (s *CosmosStore) Ping(ctx context.Context) error {
	_, err := s.client.Read(ctx, nil)
	return err
}

func (s *CosmosStore) Close() error {
	return nil
}

func filePartition() azcosmos.PartitionKey {
	return azcosmos.NewPartitionKeyString(cosmosFileType)
}

func counterPartition() azcosmos.PartitionKey {
	return azcosmos.NewPartitionKeyString(cosmosCounterType)
}

func cosmosStatus(err error) int {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode
	}
	return 0
}

// updateCounter applies next to the counter value under an ETag
// precondition, retrying when another writer got there first. When next
// reports false the counter is left as is.
func (s *CosmosStore) updateCounter(ctx context.Context, next func(cur int64) (int64, bool)) (int64, error) {
	for attempt := 0; attempt < maxCounterRetries; attempt++ {
		resp, err := s.client.ReadItem(ctx, counterPartition(), cosmosCounterID, nil)
		switch {
		case cosmosStatus(err) == http.StatusNotFound:
			value, write := next(0)
			if !write {
				return value, nil
			}
			data, _ := json.Marshal(cosmosCounterItem{ID: cosmosCounterID, Type: cosmosCounterType, Value: value})
			_, err = s.client.CreateItem(ctx, counterPartition(), data, nil)
			if cosmosStatus(err) == http.StatusConflict {
				continue
			}
			if err != nil {
				return 0, fmt.Errorf("creating file id counter: %w", err)
			}
			return value, nil
		case err != nil:
			return 0, fmt.Errorf("reading file id counter: %w", err)
		}

		var counter cosmosCounterItem
		if err := json.Unmarshal(resp.Value, &counter); err != nil {
			return 0, fmt.Errorf("decoding file id counter: %w", err)
		}
		value, write := next(counter.Value)
		if !write {
			return value, nil
		}
		counter.Value = value
		data, _ := json.Marshal(counter)
		etag := resp.ETag
		_, err = s.client.ReplaceItem(ctx, counterPartition(), cosmosCounterID, data, &azcosmos.ItemOptions{IfMatchEtag: &etag})
		if cosmosStatus(err) == http.StatusPreconditionFailed {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("updating file id counter: %w", err)
		}
		return value, nil
	}
	return 0, fmt.Errorf("updating file id counter: too much contention after %d attempts", maxCounterRetries)
}

func (s *CosmosStore) nextID(ctx context.Context) (int64, error) {
	return s.updateCounter(ctx, func(cur int64) (int64, bool) { return cur + 1, true })
}

// raiseCounter moves the counter up to id so imported IDs are never reused.
func (s *CosmosStore) raiseCounter(ctx context.Context, id int64) error {
	_, err := s.updateCounter(ctx, func(cur int64) (int64, bool) {
		if cur >= id {
			return cur, false
		}
		return id, true
	})
	return err
}

func (s *CosmosStore) PutFile(ctx context.Context, rec *FileRecord) (*FileRecord, error) {
	stored := cloneRecord(rec)
	now := nowUTC()

	existing, err := s.GetFile(ctx, rec.UUID)
	switch {
	case err == nil:
		stored.ID = existing.ID
		stored.CreatedAt = existing.CreatedAt
	case errors.Is(err, fserr.ErrFileNotFound):
		if stored.ID == 0 {
			if stored.ID, err = s.nextID(ctx); err != nil {
				return nil, err
			}
		} else if err := s.raiseCounter(ctx, stored.ID); err != nil {
			return nil, err
		}
		if stored.CreatedAt.IsZero() {
			stored.CreatedAt = now
		}
	default:
		return nil, err
	}
	stored.UpdatedAt = now

	data, err := json.Marshal(cosmosFileItem{
		ID:     stored.UUID,
		Type:   cosmosFileType,
		FileID: stored.ID,
		Record: *stored,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding file record: %w", err)
	}
	if _, err := s.client.UpsertItem(ctx, filePartition(), data, nil); err != nil {
		return nil, fmt.Errorf("putting file record: %w", err)
	}
	return stored, nil
}

func (s *CosmosStore) GetFile(ctx context.Context, uuid string) (*FileRecord, error) {
	resp, err := s.client.ReadItem(ctx, filePartition(), uuid, nil)
	if err != nil {
		if cosmosStatus(err) == http.StatusNotFound {
			return nil, fserr.ErrFileNotFound.WithMessage("File %s does not exist", uuid)
		}
		return nil, fmt.Errorf("getting file record: %w", err)
	}
	var item cosmosFileItem
	if err := json.Unmarshal(resp.Value, &item); err != nil {
		return nil, fmt.Errorf("decoding file record: %w", err)
	}
	return &item.Record, nil
}

func (s *CosmosStore) DeleteFile(ctx context.Context, uuid string) error {
	_, err := s.client.DeleteItem(ctx, filePartition(), uuid, nil)
	if err != nil && cosmosStatus(err) != http.StatusNotFound {
		return fmt.Errorf("deleting file record: %w", err)
	}
	return nil
}

// listQuery builds the SQL query and parameters for opts. Equality filters
// are pushed down to the container.
func listQuery(opts ListOptions) (string, []azcosmos.QueryParameter) {
	query := "SELECT * FROM c WHERE c.type = @type AND c.file_id > @after"
	params := []azcosmos.QueryParameter{
		{Name: "@type", Value: cosmosFileType},
		{Name: "@after", Value: opts.AfterID},
	}
	for _, f := range []struct{ field, param, value string }{
		{"storage", "@storage", opts.Storage},
		{"model", "@model", opts.Model},
		{"model_id", "@model_id", opts.ModelID},
		{"collection", "@collection", opts.Collection},
	} {
		if f.value == "" {
			continue
		}
		query += fmt.Sprintf(" AND c.record.%s = %s", f.field, f.param)
		params = append(params, azcosmos.QueryParameter{Name: f.param, Value: f.value})
	}
	return query + " ORDER BY c.file_id", params
}

func (s *CosmosStore) ListFiles(ctx context.Context, opts ListOptions) ([]FileRecord, error) {
	query, params := listQuery(opts)
	qopts := &azcosmos.QueryOptions{QueryParameters: params}
	if opts.Limit > 0 {
		qopts.PageSizeHint = int32(opts.Limit)
	}
	pager := s.client.NewQueryItemsPager(query, filePartition(), qopts)

	result := make([]FileRecord, 0)
	for pager.More() && (opts.Limit <= 0 || len(result) < opts.Limit) {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing file records: %w", err)
		}
		for _, raw := range resp.Items {
			var item cosmosFileItem
			if err := json.Unmarshal(raw, &item); err != nil {
				return nil, fmt.Errorf("decoding file record: %w", err)
			}
			result = append(result, item.Record)
			if opts.Limit > 0 && len(result) == opts.Limit {
				break
			}
		}
	}
	return result, nil
}
