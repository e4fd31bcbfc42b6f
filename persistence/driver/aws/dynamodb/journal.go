package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dogmatiq/rewind/persistence/driver/aws/internal/awsx"
	"github.com/dogmatiq/rewind/persistence/internal/pathkey"
	"github.com/dogmatiq/rewind/persistence/journal"
)

// JournalStore is an implementation of [journal.Store] that persists journal
// records in a DynamoDB table.
type JournalStore struct {
	// Client is the DynamoDB client to use.
	Client *dynamodb.Client

	// Table is the table name used for storage of journal records.
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
	journalKeyAttr    = "Key"
	journalOffsetAttr = "Offset"
	journalRecordAttr = "Record"

	// boundsOffset is the value of the offset attribute of the item that
	// records the offset of the oldest retained record. It is never a valid
	// record offset, and so is excluded from queries over the records.
	boundsOffset = "-1"
)

// Open returns the journal at the given path.
func (s *JournalStore) Open(ctx context.Context, path ...string) (journal.Journal, error) {
	key, err := pathkey.New(path)
	if err != nil {
		return nil, err
	}

	j := &journ{
		Client:             s.Client,
		DecorateGetItem:    s.DecorateGetItem,
		DecorateQuery:      s.DecorateQuery,
		DecoratePutItem:    s.DecoratePutItem,
		DecorateDeleteItem: s.DecorateDeleteItem,

		key:    &types.AttributeValueMemberS{Value: key},
		offset: &types.AttributeValueMemberN{},
		record: &types.AttributeValueMemberB{},
	}

	j.getRequest = dynamodb.GetItemInput{
		TableName: aws.String(s.Table),
		Key: map[string]types.AttributeValue{
			journalKeyAttr:    j.key,
			journalOffsetAttr: j.offset,
		},
		ProjectionExpression: aws.String(`#R`),
		ExpressionAttributeNames: map[string]string{
			"#R": journalRecordAttr,
		},
	}

	j.queryRequest = dynamodb.QueryInput{
		TableName:              aws.String(s.Table),
		KeyConditionExpression: aws.String(`#K = :K AND #O >= :O`),
		ProjectionExpression:   aws.String("#O, #R"),
		ExpressionAttributeNames: map[string]string{
			"#K": journalKeyAttr,
			"#O": journalOffsetAttr,
			"#R": journalRecordAttr,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":K": j.key,
			":O": j.offset,
		},
	}

	j.lastRequest = dynamodb.QueryInput{
		TableName:              aws.String(s.Table),
		KeyConditionExpression: aws.String(`#K = :K AND #O >= :O`),
		ProjectionExpression:   aws.String("#O"),
		ExpressionAttributeNames: map[string]string{
			"#K": journalKeyAttr,
			"#O": journalOffsetAttr,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":K": j.key,
			":O": &types.AttributeValueMemberN{Value: "0"},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	}

	j.putRequest = dynamodb.PutItemInput{
		TableName:           aws.String(s.Table),
		ConditionExpression: aws.String(`attribute_not_exists(#K)`),
		ExpressionAttributeNames: map[string]string{
			"#K": journalKeyAttr,
		},
		Item: map[string]types.AttributeValue{
			journalKeyAttr:    j.key,
			journalOffsetAttr: j.offset,
			journalRecordAttr: j.record,
		},
	}

	j.deleteRequest = dynamodb.DeleteItemInput{
		TableName: aws.String(s.Table),
		Key: map[string]types.AttributeValue{
			journalKeyAttr:    j.key,
			journalOffsetAttr: j.offset,
		},
	}

	return j, ctx.Err()
}

// journ is an implementation of [journal.Journal] that stores records in a
// DynamoDB table.
type journ struct {
	Client             *dynamodb.Client
	DecorateGetItem    func(*dynamodb.GetItemInput) []func(*dynamodb.Options)
	DecorateQuery      func(*dynamodb.QueryInput) []func(*dynamodb.Options)
	DecoratePutItem    func(*dynamodb.PutItemInput) []func(*dynamodb.Options)
	DecorateDeleteItem func(*dynamodb.DeleteItemInput) []func(*dynamodb.Options)

	key    *types.AttributeValueMemberS
	offset *types.AttributeValueMemberN
	record *types.AttributeValueMemberB

	getRequest    dynamodb.GetItemInput
	queryRequest  dynamodb.QueryInput
	lastRequest   dynamodb.QueryInput
	putRequest    dynamodb.PutItemInput
	deleteRequest dynamodb.DeleteItemInput
}

func (j *journ) Bounds(ctx context.Context) (begin, end journal.Offset, err error) {
	begin, err = j.begin(ctx)
	if err != nil {
		return 0, 0, err
	}

	out, err := awsx.Do(
		ctx,
		j.Client.Query,
		j.DecorateQuery,
		&j.lastRequest,
	)
	if err != nil {
		return 0, 0, err
	}

	end = begin
	if len(out.Items) != 0 {
		off, err := offsetOf(out.Items[0])
		if err != nil {
			return 0, 0, err
		}

		if off+1 > end {
			end = off + 1
		}
	}

	return begin, end, nil
}

// begin returns the offset of the oldest retained record, as recorded by
// the most recent call to Truncate().
func (j *journ) begin(ctx context.Context) (journal.Offset, error) {
	j.offset.Value = boundsOffset

	out, err := awsx.Do(
		ctx,
		j.Client.GetItem,
		j.DecorateGetItem,
		&j.getRequest,
	)
	if err != nil || out.Item == nil {
		return 0, err
	}

	rec, err := attrOf[*types.AttributeValueMemberB](out.Item, journalRecordAttr)
	if err != nil {
		return 0, err
	}

	off, err := strconv.ParseUint(string(rec.Value), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("journal is corrupt: invalid bounds item: %w", err)
	}

	return journal.Offset(off), nil
}

func (j *journ) Get(ctx context.Context, off journal.Offset) ([]byte, bool, error) {
	j.offset.Value = formatOffset(off)

	out, err := awsx.Do(
		ctx,
		j.Client.GetItem,
		j.DecorateGetItem,
		&j.getRequest,
	)
	if err != nil || out.Item == nil {
		return nil, false, err
	}

	rec, err := attrOf[*types.AttributeValueMemberB](out.Item, journalRecordAttr)
	if err != nil {
		return nil, false, err
	}

	return rec.Value, true, nil
}

func (j *journ) Range(
	ctx context.Context,
	begin journal.Offset,
	fn journal.RangeFunc,
) error {
	first, err := j.begin(ctx)
	if err != nil {
		return err
	}

	if begin < first {
		return fmt.Errorf("cannot range from offset %d, the oldest record is at offset %d", begin, first)
	}

	return j.rangeQuery(ctx, begin, fn)
}

func (j *journ) RangeAll(ctx context.Context, fn journal.RangeFunc) error {
	begin, err := j.begin(ctx)
	if err != nil {
		return err
	}

	return j.rangeQuery(ctx, begin, fn)
}

func (j *journ) rangeQuery(
	ctx context.Context,
	begin journal.Offset,
	fn journal.RangeFunc,
) error {
	j.queryRequest.ExclusiveStartKey = nil
	j.offset.Value = formatOffset(begin)

	next := begin

	for {
		out, err := awsx.Do(
			ctx,
			j.Client.Query,
			j.DecorateQuery,
			&j.queryRequest,
		)
		if err != nil {
			return err
		}

		for _, item := range out.Items {
			off, err := offsetOf(item)
			if err != nil {
				return err
			}

			if off != next {
				return fmt.Errorf("journal is corrupt: item has offset %d, expected %d", off, next)
			}
			next++

			rec, err := attrOf[*types.AttributeValueMemberB](item, journalRecordAttr)
			if err != nil {
				return err
			}

			ok, err := fn(ctx, off, rec.Value)
			if !ok || err != nil {
				return err
			}
		}

		if out.LastEvaluatedKey == nil {
			return nil
		}

		j.queryRequest.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func (j *journ) Append(ctx context.Context, end journal.Offset, rec []byte) error {
	j.offset.Value = formatOffset(end)
	j.record.Value = rec

	_, err := awsx.Do(
		ctx,
		j.Client.PutItem,
		j.DecoratePutItem,
		&j.putRequest,
	)

	if errors.As(err, new(*types.ConditionalCheckFailedException)) {
		return journal.ErrConflict
	}

	return err
}

func (j *journ) Truncate(ctx context.Context, end journal.Offset) error {
	begin, err := j.begin(ctx)
	if err != nil {
		return err
	}

	if end <= begin {
		return nil
	}

	// Record the new beginning before deleting anything so that Bounds()
	// never reports a gap in the journal.
	j.offset.Value = boundsOffset
	j.record.Value = []byte(strconv.FormatUint(uint64(end), 10))

	if _, err := awsx.Do(
		ctx,
		j.Client.PutItem,
		j.DecoratePutItem,
		&dynamodb.PutItemInput{
			TableName: j.putRequest.TableName,
			Item:      j.putRequest.Item,
		},
	); err != nil {
		return err
	}

	for off := begin; off < end; off++ {
		j.offset.Value = formatOffset(off)

		if _, err := awsx.Do(
			ctx,
			j.Client.DeleteItem,
			j.DecorateDeleteItem,
			&j.deleteRequest,
		); err != nil {
			return err
		}
	}

	return nil
}

func (j *journ) Close() error {
	return nil
}

func formatOffset(off journal.Offset) string {
	return strconv.FormatUint(uint64(off), 10)
}

func offsetOf(item map[string]types.AttributeValue) (journal.Offset, error) {
	attr, err := attrOf[*types.AttributeValueMemberN](item, journalOffsetAttr)
	if err != nil {
		return 0, err
	}

	off, err := strconv.ParseUint(attr.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("journal is corrupt: invalid offset: %w", err)
	}

	return journal.Offset(off), nil
}

// CreateJournalTable creates a DynamoDB table for use with [JournalStore].
func CreateJournalTable(
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
				{
					AttributeName: aws.String(journalKeyAttr),
					AttributeType: types.ScalarAttributeTypeS,
				},
				{
					AttributeName: aws.String(journalOffsetAttr),
					AttributeType: types.ScalarAttributeTypeN,
				},
			},
			KeySchema: []types.KeySchemaElement{
				{
					AttributeName: aws.String(journalKeyAttr),
					KeyType:       types.KeyTypeHash,
				},
				{
					AttributeName: aws.String(journalOffsetAttr),
					KeyType:       types.KeyTypeRange,
				},
			},
			BillingMode: types.BillingModePayPerRequest,
		},
	)

	if errors.As(err, new(*types.ResourceInUseException)) {
		return nil
	}

	return err
}
