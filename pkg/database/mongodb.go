package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/grigta/hotspot/pkg/logger"
)

type MongoDB struct {
	client   *mongo.Client
	database *mongo.Database
	timeout  time.Duration
}

type PoolOptions struct {
	MaxPoolSize     uint64
	MinPoolSize     uint64
	MaxConnIdleTime time.Duration
}

func DefaultPoolOptions() PoolOptions {
	return PoolOptions{
		MaxPoolSize:     50,
		MinPoolSize:     5,
		MaxConnIdleTime: 5 * time.Minute,
	}
}

func NewMongoDB(uri string, dbName string, timeout time.Duration) (*MongoDB, error) {
	return NewMongoDBWithPool(uri, dbName, timeout, DefaultPoolOptions())
}

func NewMongoDBWithPool(uri string, dbName string, timeout time.Duration, pool PoolOptions) (*MongoDB, error) {
	if uri == "" {
		return nil, fmt.Errorf("%w: empty MongoDB URI", ErrConnection)
	}
	if dbName == "" {
		return nil, fmt.Errorf("%w: empty database name", ErrConnection)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	clientOptions := options.Client().ApplyURI(uri)
	clientOptions.SetMaxPoolSize(pool.MaxPoolSize)
	clientOptions.SetMinPoolSize(pool.MinPoolSize)
	clientOptions.SetMaxConnIdleTime(pool.MaxConnIdleTime)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	logger.Info("Connected to MongoDB", logger.Field{Key: "database", Value: dbName})

	return &MongoDB{
		client:   client,
		database: client.Database(dbName),
		timeout:  timeout,
	}, nil
}

func (m *MongoDB) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	return m.client.Disconnect(ctx)
}

func (m *MongoDB) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, readpref.Primary())
}

func (m *MongoDB) Client() *mongo.Client {
	return m.client
}

func (m *MongoDB) GetDatabase() *mongo.Database {
	return m.database
}

func (m *MongoDB) GetCollection(name string) *mongo.Collection {
	return m.database.Collection(name)
}

func (m *MongoDB) CreateIndexes(ctx context.Context, collection string, indexes []mongo.IndexModel) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	_, err := m.GetCollection(collection).Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create indexes on %s: %w", collection, err)
	}

	return nil
}

// IndexSpec groups index models per collection so services can declare
// their indexes in one place.
type IndexSpec map[string][]mongo.IndexModel

func (m *MongoDB) EnsureIndexes(ctx context.Context, spec IndexSpec) error {
	for collection, indexes := range spec {
		if len(indexes) == 0 {
			continue
		}
		if err := m.CreateIndexes(ctx, collection, indexes); err != nil {
			return err
		}
	}
	return nil
}

// TranslateError maps driver errors onto the package sentinels.
func TranslateError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	default:
		return err
	}
}
