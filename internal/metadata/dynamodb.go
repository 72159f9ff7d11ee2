package metadata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/bleepstore/filestorage/internal/config"
	fserr "github.com/bleepstore/filestorage/internal/errors"
)

const (
	dynamoTimeFormat = "2006-01-02T15:04:05.000Z"

	filesCounterPK = "COUNTER#files"
	counterAttr    = "value"
)

// DynamoDBAPI is the subset of the DynamoDB client used by DynamoDBStore.
type DynamoDBAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// DynamoDBStore keeps file records in a single DynamoDB table keyed by a
// partition key "pk" and sort key "sk". IDs come from an atomic counter item.
type DynamoDBStore struct {
	client    DynamoDBAPI
	tableName string
}

var _ Store = (*DynamoDBStore)(nil)

func NewDynamoDBStore(ctx context.Context, cfg config.DynamoDBConfig) (*DynamoDBStore, error) {
	if cfg.Table == "" {
		return nil, fmt.Errorf("dynamodb table name is required")
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	if cfg.EndpointURL != "" {
		awsCfg.BaseEndpoint = aws.String(cfg.EndpointURL)
	}

	slog.Info("DynamoDB metadata store initialized", "table", cfg.Table, "region", region)
	return NewDynamoDBStoreWithClient(cfg.Table, dynamodb.NewFromConfig(awsCfg)), nil
}

// NewDynamoDBStoreWithClient creates a store using the provided client. This
// is primarily used for testing with mock clients.
func NewDynamoDBStoreWithClient(table string, client DynamoDBAPI) *DynamoDBStore {
	return &DynamoDBStore{client: client, tableName: table}
}

func (s *DynamoDBStore) Ping(ctx context.Context) error {
	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.tableName),
	})
	return err
}

func (s *DynamoDBStore) Close() error {
	return nil
}

func pkFile(uuid string) string {
	return "FILE#" + uuid
}

func skMetadata() string {
	return "#METADATA"
}

func fileKey(uuid string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"pk": &types.AttributeValueMemberS{Value: pkFile(uuid)},
		"sk": &types.AttributeValueMemberS{Value: skMetadata()},
	}
}

func counterKey() map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"pk": &types.AttributeValueMemberS{Value: filesCounterPK},
		"sk": &types.AttributeValueMemberS{Value: skMetadata()},
	}
}

// nextID atomically increments the counter item and returns its new value.
func (s *DynamoDBStore) nextID(ctx context.Context) (int64, error) {
	resp, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.tableName),
		Key:                       counterKey(),
		UpdateExpression:          aws.String("ADD #v :one"),
		ExpressionAttributeNames:  map[string]string{"#v": counterAttr},
		ExpressionAttributeValues: map[string]types.AttributeValue{":one": &types.AttributeValueMemberN{Value: "1"}},
		ReturnValues:              types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, fmt.Errorf("allocating file id: %w", err)
	}
	return getNInt(resp.Attributes, counterAttr), nil
}

// raiseCounter moves the counter up to id so imported IDs are never reused.
func (s *DynamoDBStore) raiseCounter(ctx context.Context, id int64) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.tableName),
		Key:                       counterKey(),
		UpdateExpression:          aws.String("SET #v = :id"),
		ConditionExpression:       aws.String("attribute_not_exists(#v) OR #v < :id"),
		ExpressionAttributeNames:  map[string]string{"#v": counterAttr},
		ExpressionAttributeValues: map[string]types.AttributeValue{":id": &types.AttributeValueMemberN{Value: strconv.FormatInt(id, 10)}},
	})
	if err != nil && !isConditionFailed(err) {
		return fmt.Errorf("raising file id counter: %w", err)
	}
	return nil
}

func (s *DynamoDBStore) PutFile(ctx context.Context, rec *FileRecord) (*FileRecord, error) {
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

	item, err := fileToItem(stored)
	if err != nil {
		return nil, err
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	}); err != nil {
		return nil, fmt.Errorf("putting file record: %w", err)
	}
	return stored, nil
}

func (s *DynamoDBStore) GetFile(ctx context.Context, uuid string) (*FileRecord, error) {
	resp, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            fileKey(uuid),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("getting file record: %w", err)
	}
	if resp.Item == nil {
		return nil, fserr.ErrFileNotFound.WithMessage("File %s does not exist", uuid)
	}
	return itemToFile(resp.Item)
}

func (s *DynamoDBStore) DeleteFile(ctx context.Context, uuid string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key:       fileKey(uuid),
	})
	if err != nil {
		return fmt.Errorf("deleting file record: %w", err)
	}
	return nil
}

func (s *DynamoDBStore) ListFiles(ctx context.Context, opts ListOptions) ([]FileRecord, error) {
	files := make(map[string]*FileRecord)
	var exclusiveStartKey map[string]types.AttributeValue

	for {
		input := &dynamodb.ScanInput{
			TableName:        aws.String(s.tableName),
			FilterExpression: aws.String("#t = :file"),
			ExpressionAttributeNames: map[string]string{
				"#t": "type",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":file": &types.AttributeValueMemberS{Value: "file"},
			},
			ExclusiveStartKey: exclusiveStartKey,
		}
		resp, err := s.client.Scan(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("listing file records: %w", err)
		}
		for _, item := range resp.Items {
			rec, err := itemToFile(item)
			if err != nil {
				return nil, err
			}
			files[rec.UUID] = rec
		}
		if len(resp.LastEvaluatedKey) == 0 {
			break
		}
		exclusiveStartKey = resp.LastEvaluatedKey
	}
	return listSorted(files, opts), nil
}

func fileToItem(rec *FileRecord) (map[string]types.AttributeValue, error) {
	variants, err := marshalJSONColumn(rec.Variants)
	if err != nil {
		return nil, fmt.Errorf("encoding variants: %w", err)
	}
	metadata, err := marshalJSONColumn(rec.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encoding metadata: %w", err)
	}
	item := fileKey(rec.UUID)
	for k, v := range map[string]types.AttributeValue{
		"type":       &types.AttributeValueMemberS{Value: "file"},
		"id":         &types.AttributeValueMemberN{Value: strconv.FormatInt(rec.ID, 10)},
		"uuid":       &types.AttributeValueMemberS{Value: rec.UUID},
		"filename":   &types.AttributeValueMemberS{Value: rec.Filename},
		"filesize":   &types.AttributeValueMemberN{Value: strconv.FormatInt(rec.Filesize, 10)},
		"mime_type":  &types.AttributeValueMemberS{Value: rec.MimeType},
		"extension":  &types.AttributeValueMemberS{Value: rec.Extension},
		"path":       &types.AttributeValueMemberS{Value: rec.Path},
		"storage":    &types.AttributeValueMemberS{Value: rec.Storage},
		"collection": &types.AttributeValueMemberS{Value: rec.Collection},
		"model":      &types.AttributeValueMemberS{Value: rec.Model},
		"model_id":   &types.AttributeValueMemberS{Value: rec.ModelID},
		"variants":   &types.AttributeValueMemberS{Value: variants},
		"metadata":   &types.AttributeValueMemberS{Value: metadata},
		"created_at": &types.AttributeValueMemberS{Value: rec.CreatedAt.UTC().Format(dynamoTimeFormat)},
		"updated_at": &types.AttributeValueMemberS{Value: rec.UpdatedAt.UTC().Format(dynamoTimeFormat)},
	} {
		item[k] = v
	}
	return item, nil
}

func itemToFile(item map[string]types.AttributeValue) (*FileRecord, error) {
	rec := &FileRecord{
		ID:         getNInt(item, "id"),
		UUID:       getString(item, "uuid"),
		Filename:   getString(item, "filename"),
		Filesize:   getNInt(item, "filesize"),
		MimeType:   getString(item, "mime_type"),
		Extension:  getString(item, "extension"),
		Path:       getString(item, "path"),
		Storage:    getString(item, "storage"),
		Collection: getString(item, "collection"),
		Model:      getString(item, "model"),
		ModelID:    getString(item, "model_id"),
	}
	if err := unmarshalVariants(getStringOr(item, "variants", "{}"), rec); err != nil {
		return nil, err
	}
	if err := unmarshalMetadata(getString(item, "metadata"), rec); err != nil {
		return nil, err
	}
	rec.CreatedAt, _ = time.Parse(dynamoTimeFormat, getString(item, "created_at"))
	rec.UpdatedAt, _ = time.Parse(dynamoTimeFormat, getString(item, "updated_at"))
	return rec, nil
}

func getString(item map[string]types.AttributeValue, key string) string {
	if v, ok := item[key]; ok {
		if sv, ok := v.(*types.AttributeValueMemberS); ok {
			return sv.Value
		}
	}
	return ""
}

func getStringOr(item map[string]types.AttributeValue, key, fallback string) string {
	if s := getString(item, key); s != "" {
		return s
	}
	return fallback
}

func getNInt(item map[string]types.AttributeValue, key string) int64 {
	if v, ok := item[key]; ok {
		if nv, ok := v.(*types.AttributeValueMemberN); ok {
			n, _ := strconv.ParseInt(nv.Value, 10, 64)
			return n
		}
	}
	return 0
}

// isConditionFailed reports whether err is a failed condition expression.
func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "ConditionalCheckFailedException"
}
