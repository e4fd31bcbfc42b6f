package config

import (
	"context"
	"database/sql"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/dogmatiq/ferrite"
	"github.com/dogmatiq/rewind/internal/telemetry/instrumentedpersistence"
	dynamopersistence "github.com/dogmatiq/rewind/persistence/driver/aws/dynamodb"
	"github.com/dogmatiq/rewind/persistence/driver/memory"
	pgpersistence "github.com/dogmatiq/rewind/persistence/driver/postgres"
	sqlitepersistence "github.com/dogmatiq/rewind/persistence/driver/sqlite"
	_ "github.com/jackc/pgx/v4/stdlib" // register the "pgx" database/sql driver
	_ "modernc.org/sqlite" // register the "sqlite" database/sql driver
)

var journalSQLite = ferrite.
	String("REWIND_JOURNAL_SQLITE", "the path of an SQLite database used to cache decoded transactions").
	Optional(ferrite.WithRegistry(FerriteRegistry))

var postgresDSN = ferrite.
	String("REWIND_POSTGRES_DSN", "the DSN of a PostgreSQL database used to cache decoded transactions").
	WithSensitiveContent().
	Optional(ferrite.WithRegistry(FerriteRegistry))

var dynamoDBTable = ferrite.
	String("REWIND_DYNAMODB_TABLE", "the prefix of the DynamoDB tables used to cache decoded transactions").
	Optional(ferrite.WithRegistry(FerriteRegistry))

func (c *Config) finalizePersistence(ctx context.Context) error {
	p := &c.Persistence

	if c.UseEnv && p.Journals == nil && p.Keyspaces == nil {
		if prefix, ok := dynamoDBTable.Value(); ok {
			if err := c.useDynamoDB(ctx, prefix); err != nil {
				return fmt.Errorf("unable to configure DynamoDB persistence: %w", err)
			}
		} else if dsn, ok := postgresDSN.Value(); ok {
			if err := c.usePostgres(ctx, dsn); err != nil {
				return fmt.Errorf("unable to configure PostgreSQL persistence: %w", err)
			}
		} else if path, ok := journalSQLite.Value(); ok {
			if err := c.useSQLite(ctx, path); err != nil {
				return fmt.Errorf("unable to configure SQLite persistence: %w", err)
			}
		}
	}

	if p.Journals == nil {
		p.Journals = &memory.JournalStore{}
	}

	if p.Keyspaces == nil {
		p.Keyspaces = &memory.KeyValueStore{}
	}

	p.Journals = &instrumentedpersistence.JournalStore{
		Next:      p.Journals,
		Telemetry: c.Telemetry,
	}

	p.Keyspaces = &instrumentedpersistence.KeyValueStore{
		Next:      p.Keyspaces,
		Telemetry: c.Telemetry,
	}

	return nil
}

// useSQLite configures the journal and key/value stores to use the SQLite
// database at the given path, creating it if necessary.
func (c *Config) useSQLite(ctx context.Context, path string) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return err
	}
	c.closers = append(c.closers, db.Close)

	// SQLite permits only a single writer.
	db.SetMaxOpenConns(1)

	if err := sqlitepersistence.CreateSchema(ctx, db); err != nil {
		return err
	}

	c.Persistence.Journals = &sqlitepersistence.JournalStore{DB: db}
	c.Persistence.Keyspaces = &sqlitepersistence.KeyValueStore{DB: db}

	return nil
}

// usePostgres configures the journal and key/value stores to use the
// PostgreSQL database identified by dsn.
func (c *Config) usePostgres(ctx context.Context, dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return err
	}
	c.closers = append(c.closers, db.Close)

	if err := pgpersistence.CreateSchema(ctx, db); err != nil {
		return err
	}

	c.Persistence.Journals = &pgpersistence.JournalStore{DB: db}
	c.Persistence.Keyspaces = &pgpersistence.KeyValueStore{DB: db}

	return nil
}

// useDynamoDB configures the journal and key/value stores to use DynamoDB
// tables named with the given prefix, creating them if necessary.
//
// The AWS configuration is loaded from the environment in the usual way.
func (c *Config) useDynamoDB(ctx context.Context, prefix string) error {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return err
	}

	client := dynamodb.NewFromConfig(cfg)
	journals := prefix + ".journal"
	keyspaces := prefix + ".kv"

	if err := dynamopersistence.CreateJournalTable(ctx, client, journals); err != nil {
		return err
	}

	if err := dynamopersistence.CreateKeyValueStoreTable(ctx, client, keyspaces); err != nil {
		return err
	}

	c.Persistence.Journals = &dynamopersistence.JournalStore{Client: client, Table: journals}
	c.Persistence.Keyspaces = &dynamopersistence.KeyValueStore{Client: client, Table: keyspaces}

	return nil
}
