package repository

import (
	"github.com/grigta/hotspot/pkg/database"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Indexes returns every index the billing service relies on.
func Indexes() database.IndexSpec {
	return database.IndexSpec{
		VouchersCollection: {
			{Keys: bson.D{{Key: "code", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "reference", Value: 1}}, Options: options.Index().SetUnique(true).SetSparse(true)},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "expiry.expiresAt", Value: 1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "usage.purchaseExpiresAt", Value: 1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "usage.expectedEndTime", Value: 1}}},
			{Keys: bson.D{{Key: "routerId", Value: 1}, {Key: "createdAt", Value: -1}}},
			{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}}},
		},
		TransactionsCollection: {
			{Keys: bson.D{{Key: "transactionId", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}}},
		},
		AuditLogsCollection: {
			{Keys: bson.D{{Key: "resourceId", Value: 1}, {Key: "createdAt", Value: -1}}},
		},
		WebhookLogsCollection: {
			{Keys: bson.D{{Key: "transactionId", Value: 1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "createdAt", Value: -1}}},
		},
		SystemConfigCollection: {
			{Keys: bson.D{{Key: "key", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
	}
}
