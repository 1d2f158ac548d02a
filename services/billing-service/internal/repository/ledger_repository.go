package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/grigta/hotspot/services/billing-service/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	TransactionsCollection = "transactions"
	AuditLogsCollection    = "audit_logs"
	WebhookLogsCollection  = "webhook_logs"
)

type TransactionRepository interface {
	// Record inserts tx unless an entry with the same transaction id exists.
	// Returns true when a new entry was written.
	Record(ctx context.Context, tx *models.Transaction) (bool, error)
	GetByTransactionID(ctx context.Context, transactionID string) (*models.Transaction, error)
}

type transactionRepository struct {
	collection *mongo.Collection
}

func NewTransactionRepository(db *mongo.Database) TransactionRepository {
	return &transactionRepository{collection: db.Collection(TransactionsCollection)}
}

func (r *transactionRepository) Record(ctx context.Context, tx *models.Transaction) (bool, error) {
	if tx.TransactionID == "" {
		return false, fmt.Errorf("transaction id is required")
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now()
	}

	result, err := r.collection.UpdateOne(
		ctx,
		bson.M{"transactionId": tx.TransactionID},
		bson.M{"$setOnInsert": tx},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to record transaction: %w", err)
	}

	return result.UpsertedCount > 0, nil
}

func (r *transactionRepository) GetByTransactionID(ctx context.Context, transactionID string) (*models.Transaction, error) {
	var tx models.Transaction
	err := r.collection.FindOne(ctx, bson.M{"transactionId": transactionID}).Decode(&tx)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return &tx, nil
}

type AuditLogRepository interface {
	Append(ctx context.Context, entry *models.AuditLog) error
}

type auditLogRepository struct {
	collection *mongo.Collection
}

func NewAuditLogRepository(db *mongo.Database) AuditLogRepository {
	return &auditLogRepository{collection: db.Collection(AuditLogsCollection)}
}

func (r *auditLogRepository) Append(ctx context.Context, entry *models.AuditLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if _, err := r.collection.InsertOne(ctx, entry); err != nil {
		return fmt.Errorf("failed to append audit log: %w", err)
	}
	return nil
}

type WebhookLogRepository interface {
	Append(ctx context.Context, entry *models.WebhookLog) error
}

type webhookLogRepository struct {
	collection *mongo.Collection
}

func NewWebhookLogRepository(db *mongo.Database) WebhookLogRepository {
	return &webhookLogRepository{collection: db.Collection(WebhookLogsCollection)}
}

func (r *webhookLogRepository) Append(ctx context.Context, entry *models.WebhookLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if _, err := r.collection.InsertOne(ctx, entry); err != nil {
		return fmt.Errorf("failed to append webhook log: %w", err)
	}
	return nil
}
