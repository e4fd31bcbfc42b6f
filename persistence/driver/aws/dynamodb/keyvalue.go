package dynamodb

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dogmatiq/rewind/persistence/driver/aws/internal/awsx"
	"github.com/dogmatiq/rewind/persistence/kv"
)

// KeyValueStore is an implementation of [kv.Store] that persists keyspaces in a
// DynamoDB table.
type KeyValueStore struct {
	// Client is the DynamoDB client to use.
	Client *dynamodb.Client

	// Table is the table name used for storage of key/value pairs.
	Table string

	// DecorateGetItem is an optional function that is called before each
	// DynamoDB "GetItem" request.
	//
	// It may modify the API input in-place. It returns options that will be
	// applied to the request.
	DecorateGetItem func(*dynamodb.GetItemInput) []func(*dynamodb.Options)

	// DecorateQuery is an optional function that is called before each DynamoDB
	// "Query" request.
	DecorateQuery func(*dynamodb.QueryInput) []func(*dynamodb.Options)

	// DecoratePutItem is an optional function that is called before each
	// DynamoDB "PutItem" request.
	DecoratePutItem func(*dynamodb.PutItemInput) []func(*dynamodb.Options)

	// DecorateDeleteItem is an optional function that is called before each
	// DynamoDB "DeleteItem" request.
	DecorateDeleteItem func(*dynamodb.DeleteItemInput) []func(*dynamodb.Options)
}

const (
	kvKeyspaceAttr = "Keyspace"
	kvKeyAttr      = "Key"
	kvValueAttr    = "Value"
)

// Open returns the keyspace with the given name.
func (s *KeyValueStore) Open(ctx context.Context, name string) (kv.Keyspace, error) {
	if name == "" {
		return nil, errors.New("keyspace name must not be empty")
	}

	ks := &keyspace{
		store: s,
		name:  &types.AttributeValueMemberS{Value: name},
		key:   &types.AttributeValueMemberB{},
		value: &types.AttributeValueMemberB{},
	}

	primaryKey := map[string]types.AttributeValue{
		kvKeyspaceAttr: ks.name,
		kvKeyAttr:      ks.key,
	}

	ks.get = dynamodb.GetItemInput{
		TableName:            aws.String(s.Table),
		Key:                  primaryKey,
		ProjectionExpression: aws.String(`#V`),
		ExpressionAttributeNames: map[string]string{
			"#V": kvValueAttr,
		},
	}

	// Projecting only the key avoids fetching the value when checking for
	// the presence of a key.
	ks.has = dynamodb.GetItemInput{
		TableName:            aws.String(s.Table),
		Key:                  primaryKey,
		ProjectionExpression: aws.String(`#K`),
		ExpressionAttributeNames: map[string]string{
			"#K": kvKeyAttr,
		},
	}

	ks.query = dynamodb.QueryInput{
		TableName:              aws.String(s.Table),
		KeyConditionExpression: aws.String(`#S = :S`),
		ProjectionExpression:   aws.String("#K, #V"),
		ExpressionAttributeNames: map[string]string{
			"#S": kvKeyspaceAttr,
			"#K": kvKeyAttr,
			"#V": kvValueAttr,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":S": ks.name,
		},
	}

	ks.put = dynamodb.PutItemInput{
		TableName: aws.String(s.Table),
		Item: map[string]types.AttributeValue{
			kvKeyspaceAttr: ks.name,
			kvKeyAttr:      ks.key,
			kvValueAttr:    ks.value,
		},
	}

	ks.del = dynamodb.DeleteItemInput{
		TableName: aws.String(s.Table),
		Key:       primaryKey,
	}

	return ks, ctx.Err()
}

// keyspace is an implementation of [kv.Keyspace] that stores key/value pairs
// as items in a DynamoDB table. The request inputs are built once and share
// the attribute values that are modified before each request.
type keyspace struct {
	store *KeyValueStore

	name  *types.AttributeValueMemberS
	key   *types.AttributeValueMemberB
	value *types.AttributeValueMemberB

	get   dynamodb.GetItemInput
	has   dynamodb.GetItemInput
	query dynamodb.QueryInput
	put   dynamodb.PutItemInput
	del   dynamodb.DeleteItemInput
}

func (ks *keyspace) getItem(
	ctx context.Context,
	k []byte,
	in *dynamodb.GetItemInput,
) (map[string]types.AttributeValue, error) {
	ks.key.Value = k

	out, err := awsx.Do(
		ctx,
		ks.store.Client.GetItem,
		ks.store.DecorateGetItem,
		in,
	)
	if err != nil {
		return nil, err
	}

	return out.Item, nil
}

func (ks *keyspace) Get(ctx context.Context, k []byte) ([]byte, error) {
	item, err := ks.getItem(ctx, k, &ks.get)
	if err != nil || item == nil {
		return nil, err
	}

	v, err := attrOf[*types.AttributeValueMemberB](item, kvValueAttr)
	if err != nil {
		return nil, err
	}

	return v.Value, nil
}

func (ks *keyspace) Has(ctx context.Context, k []byte) (bool, error) {
	item, err := ks.getItem(ctx, k, &ks.has)
	return item != nil, err
}

func (ks *keyspace) Set(ctx context.Context, k, v []byte) error {
	ks.key.Value = k

	if len(v) == 0 {
		_, err := awsx.Do(
			ctx,
			ks.store.Client.DeleteItem,
			ks.store.DecorateDeleteItem,
			&ks.del,
		)
		return err
	}

	ks.value.Value = v

	_, err := awsx.Do(
		ctx,
		ks.store.Client.PutItem,
		ks.store.DecoratePutItem,
		&ks.put,
	)
	return err
}

func (ks *keyspace) Range(ctx context.Context, fn kv.RangeFunc) error {
	ks.query.ExclusiveStartKey = nil

	for {
		out, err := awsx.Do(
			ctx,
			ks.store.Client.Query,
			ks.store.DecorateQuery,
			&ks.query,
		)
		if err != nil {
			return err
		}

		for _, item := range out.Items {
			k, err := attrOf[*types.AttributeValueMemberB](item, kvKeyAttr)
			if err != nil {
				return err
			}

			v, err := attrOf[*types.AttributeValueMemberB](item, kvValueAttr)
			if err != nil {
				return err
			}

			ok, err := fn(ctx, k.Value, v.Value)
			if !ok || err != nil {
				return err
			}
		}

		if out.LastEvaluatedKey == nil {
			return nil
		}

		ks.query.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func (ks *keyspace) Close() error {
	return nil
}

// CreateKeyValueStoreTable creates a DynamoDB table for use with
// [KeyValueStore].
func CreateKeyValueStoreTable(
	ctx context.Context,
	client *dynamodb.Client,
	table string,
	decorators ...func(*dynamodb.CreateTableInput) []func(*dynamodb.Options),
) error {
	_, err := awsx.Do(
		ctx,
		client.CreateTable,
		func(in *dynamodb.CreateTableInput) []func(*dynamodb.Options) {
			var options []func(*dynamodb.Options)
			for _, dec := range decorators {
				options = append(options, dec(in)...)
			}
			return options
		},
		&dynamodb.CreateTableInput{
			TableName: aws.String(table),
			AttributeDefinitions: []types.AttributeDefinition{
				{AttributeName: aws.String(kvKeyspaceAttr), AttributeType: types.ScalarAttributeTypeS},
				{AttributeName: aws.String(kvKeyAttr), AttributeType: types.ScalarAttributeTypeB},
			},
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String(kvKeyspaceAttr), KeyType: types.KeyTypeHash},
				{AttributeName: aws.String(kvKeyAttr), KeyType: types.KeyTypeRange},
			},
			BillingMode: types.BillingModePayPerRequest,
		},
	)

	if errors.As(err, new(*types.ResourceInUseException)) {
		return nil
	}

	return err
}
