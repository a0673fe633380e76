package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	dynamoBodyAttr     = "_body"
	dynamoBatchSize    = 25
	dynamoBatchRetries = 5
)

// DynamoAPI is the subset of *dynamodb.Client used here.
type DynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	CreateTable(ctx context.Context, in *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

// NewDynamoClient loads the default AWS credential chain for region. A
// non-empty endpoint points the client at DynamoDB Local or another
// compatible service.
func NewDynamoClient(ctx context.Context, region, endpoint string) (*dynamodb.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

// DynamoTable maps a Schema onto a native DynamoDB table: string key
// attributes, one global secondary index per schema index and the body in
// a binary attribute.
type DynamoTable struct {
	client DynamoAPI
	schema Schema
	// backoff between BatchWriteItem retries; tests set it to zero
	backoff time.Duration
}

func NewDynamoTable(client DynamoAPI, schema Schema) *DynamoTable {
	return &DynamoTable{client: client, schema: schema, backoff: 50 * time.Millisecond}
}

func (t *DynamoTable) Schema() Schema {
	return t.schema
}

// Migrate creates the table with on-demand billing. An existing table is
// left alone.
func (t *DynamoTable) Migrate(ctx context.Context) error {
	defined := map[string]bool{}
	var attrDefs []types.AttributeDefinition
	define := func(name string) {
		if name == "" || defined[name] {
			return
		}
		defined[name] = true
		attrDefs = append(attrDefs, types.AttributeDefinition{
			AttributeName: aws.String(name),
			AttributeType: types.ScalarAttributeTypeS,
		})
	}
	keySchema := func(pk, sk string) []types.KeySchemaElement {
		define(pk)
		ks := []types.KeySchemaElement{{AttributeName: aws.String(pk), KeyType: types.KeyTypeHash}}
		if sk != "" {
			define(sk)
			ks = append(ks, types.KeySchemaElement{AttributeName: aws.String(sk), KeyType: types.KeyTypeRange})
		}
		return ks
	}

	in := &dynamodb.CreateTableInput{
		TableName:   aws.String(t.schema.Name),
		BillingMode: types.BillingModePayPerRequest,
		KeySchema:   keySchema(t.schema.PartitionKey, t.schema.SortKey),
	}
	for _, name := range t.schema.indexNames() {
		idx := t.schema.Indexes[name]
		in.GlobalSecondaryIndexes = append(in.GlobalSecondaryIndexes, types.GlobalSecondaryIndex{
			IndexName:  aws.String(name),
			KeySchema:  keySchema(idx.PartitionKey, idx.SortKey),
			Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
		})
	}
	in.AttributeDefinitions = attrDefs

	_, err := t.client.CreateTable(ctx, in)
	var inUse *types.ResourceInUseException
	if err != nil && !errors.As(err, &inUse) {
		return fmt.Errorf("failed to create table %s: %w", t.schema.Name, err)
	}
	return nil
}

func (t *DynamoTable) keyValue(key Key) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue, 2)
	for name, v := range t.schema.keyAttrs(key) {
		out[name] = &types.AttributeValueMemberS{Value: v}
	}
	return out
}

func toDynamoItem(item Item) map[string]types.AttributeValue {
	av := make(map[string]types.AttributeValue, len(item.Attrs)+1)
	for name, v := range item.Attrs {
		// empty strings are not valid index keys
		if v == "" {
			continue
		}
		av[name] = &types.AttributeValueMemberS{Value: v}
	}
	if item.Body != nil {
		av[dynamoBodyAttr] = &types.AttributeValueMemberB{Value: item.Body}
	}
	return av
}

func fromDynamoItem(av map[string]types.AttributeValue) Item {
	item := Item{Attrs: make(map[string]string, len(av))}
	for name, v := range av {
		switch v := v.(type) {
		case *types.AttributeValueMemberS:
			item.Attrs[name] = v.Value
		case *types.AttributeValueMemberB:
			if name == dynamoBodyAttr {
				item.Body = v.Value
			}
		}
	}
	return item
}

func (t *DynamoTable) Put(ctx context.Context, item Item) error {
	if _, err := t.schema.validate(item); err != nil {
		return err
	}
	if _, ok := item.Attrs[dynamoBodyAttr]; ok {
		return fmt.Errorf("%w: attribute %s is reserved", ErrInvalidItem, dynamoBodyAttr)
	}
	_, err := t.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(t.schema.Name),
		Item:      toDynamoItem(item),
	})
	if err != nil {
		return fmt.Errorf("failed to put item into %s: %w", t.schema.Name, err)
	}
	return nil
}

func (t *DynamoTable) Get(ctx context.Context, key Key) (Item, error) {
	out, err := t.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(t.schema.Name),
		Key:            t.keyValue(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return Item{}, fmt.Errorf("failed to get item from %s: %w", t.schema.Name, err)
	}
	if len(out.Item) == 0 {
		return Item{}, ErrNotFound
	}
	return fromDynamoItem(out.Item), nil
}

func (t *DynamoTable) Query(ctx context.Context, q Query) ([]Item, error) {
	idx, err := t.schema.validateQuery(q)
	if err != nil {
		return nil, err
	}

	in := &dynamodb.QueryInput{
		TableName:                 aws.String(t.schema.Name),
		KeyConditionExpression:    aws.String("#pk = :pk"),
		ExpressionAttributeNames:  map[string]string{"#pk": idx.PartitionKey},
		ExpressionAttributeValues: map[string]types.AttributeValue{":pk": &types.AttributeValueMemberS{Value: q.Partition}},
	}
	if q.Index != "" {
		in.IndexName = aws.String(q.Index)
	}
	if q.Sort != nil {
		in.ExpressionAttributeNames["#sk"] = idx.SortKey
		in.ExpressionAttributeValues[":lo"] = &types.AttributeValueMemberS{Value: q.Sort.lo}
		if q.Sort.op == opEqual {
			in.KeyConditionExpression = aws.String("#pk = :pk AND #sk = :lo")
		} else {
			in.ExpressionAttributeValues[":hi"] = &types.AttributeValueMemberS{Value: q.Sort.hi}
			in.KeyConditionExpression = aws.String("#pk = :pk AND #sk BETWEEN :lo AND :hi")
		}
	}

	var items []Item
	paginator := dynamodb.NewQueryPaginator(t.client, in)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to query %s: %w", t.schema.Name, err)
		}
		for _, av := range page.Items {
			items = append(items, fromDynamoItem(av))
		}
	}
	sortItems(t.schema, idx, items)
	return items, nil
}

func (t *DynamoTable) Delete(ctx context.Context, key Key) error {
	_, err := t.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(t.schema.Name),
		Key:       t.keyValue(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete item from %s: %w", t.schema.Name, err)
	}
	return nil
}

// BatchDelete issues BatchWriteItem calls of at most 25 deletes and
// resubmits unprocessed requests with a linear backoff.
func (t *DynamoTable) BatchDelete(ctx context.Context, keys []Key) error {
	for start := 0; start < len(keys); start += dynamoBatchSize {
		end := start + dynamoBatchSize
		if end > len(keys) {
			end = len(keys)
		}

		reqs := make([]types.WriteRequest, 0, end-start)
		for _, key := range keys[start:end] {
			reqs = append(reqs, types.WriteRequest{
				DeleteRequest: &types.DeleteRequest{Key: t.keyValue(key)},
			})
		}
		if err := t.writeBatch(ctx, reqs); err != nil {
			return err
		}
	}
	return nil
}

func (t *DynamoTable) writeBatch(ctx context.Context, reqs []types.WriteRequest) error {
	pending := map[string][]types.WriteRequest{t.schema.Name: reqs}
	for attempt := 0; attempt <= dynamoBatchRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * t.backoff):
			}
		}
		out, err := t.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
		if err != nil {
			return fmt.Errorf("failed to batch delete from %s: %w", t.schema.Name, err)
		}
		if len(out.UnprocessedItems[t.schema.Name]) == 0 {
			return nil
		}
		pending = out.UnprocessedItems
	}
	return fmt.Errorf("failed to batch delete from %s: %d requests still unprocessed",
		t.schema.Name, len(pending[t.schema.Name]))
}
