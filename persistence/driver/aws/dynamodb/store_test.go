package dynamodb_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	. "github.com/dogmatiq/rewind/persistence/driver/aws/dynamodb"
	"github.com/dogmatiq/rewind/persistence/journal"
	"github.com/dogmatiq/rewind/persistence/kv"
)

func TestJournalStore(t *testing.T) {
	client, table := setup(
		t,
		"rewind.journal",
		func(ctx context.Context, c *dynamodb.Client, table string) error {
			return CreateJournalTable(ctx, c, table)
		},
	)

	journal.RunTests(
		t,
		func(t *testing.T) journal.Store {
			return &JournalStore{
				Client: client,
				Table:  table,
			}
		},
	)
}

func TestKeyValueStore(t *testing.T) {
	client, table := setup(
		t,
		"rewind.kv",
		func(ctx context.Context, c *dynamodb.Client, table string) error {
			return CreateKeyValueStoreTable(ctx, c, table)
		},
	)

	kv.RunTests(
		t,
		func(t *testing.T) kv.Store {
			return &KeyValueStore{
				Client: client,
				Table:  table,
			}
		},
	)
}

// setup creates a table using create, and drops it when the test ends.
//
// The test is skipped unless REWIND_TEST_DYNAMODB_ENDPOINT is set, typically
// to the address of a DynamoDB Local container.
func setup(
	t *testing.T,
	table string,
	create func(context.Context, *dynamodb.Client, string) error,
) (*dynamodb.Client, string) {
	endpoint := os.Getenv("REWIND_TEST_DYNAMODB_ENDPOINT")
	if endpoint == "" {
		t.Skip("set REWIND_TEST_DYNAMODB_ENDPOINT to run tests against DynamoDB")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	cfg, err := config.LoadDefaultConfig(
		ctx,
		config.WithRegion("us-east-1"),
		config.WithEndpointResolverWithOptions(
			aws.EndpointResolverWithOptionsFunc(
				func(string, string, ...any) (aws.Endpoint, error) {
					return aws.Endpoint{URL: endpoint}, nil
				},
			),
		),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("id", "secret", ""),
		),
		config.WithRetryer(
			func() aws.Retryer {
				return aws.NopRetryer{}
			},
		),
	)
	if err != nil {
		t.Fatal(err)
	}

	client := dynamodb.NewFromConfig(cfg)

	if err := create(ctx, client, table); err != nil {
		t.Fatal(err)
	}

	t.Cleanup(func() {
		_, err := client.DeleteTable(
			ctx,
			&dynamodb.DeleteTableInput{
				TableName: aws.String(table),
			},
		)
		if err != nil && !errors.As(err, new(*types.ResourceNotFoundException)) {
			t.Error(err)
		}
	})

	return client, table
}
