package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/grigta/hotspot/pkg/database"
	"github.com/grigta/hotspot/services/billing-service/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const VouchersCollection = "vouchers"

type VoucherRepository interface {
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.Voucher, error)
	List(ctx context.Context, filter models.VoucherFilter) ([]*models.Voucher, int64, error)
	FindExpiryCandidates(ctx context.Context, reason models.ExpiryReason, now time.Time) ([]*models.Voucher, error)
	Expire(ctx context.Context, id primitive.ObjectID, reason models.ExpiryReason, now time.Time) (bool, error)
	FindPayableByReference(ctx context.Context, reference string) (*models.Voucher, error)
	FindPaidByReference(ctx context.Context, reference string) (*models.Voucher, error)
	ApplyPayment(ctx context.Context, id primitive.ObjectID, update models.PaymentUpdate, now time.Time) (bool, error)
	Cancel(ctx context.Context, id primitive.ObjectID, now time.Time) (bool, error)
}

type voucherRepository struct {
	collection *mongo.Collection
}

func NewVoucherRepository(db *mongo.Database) VoucherRepository {
	return &voucherRepository{
		collection: db.Collection(VouchersCollection),
	}
}

func (r *voucherRepository) GetByID(ctx context.Context, id primitive.ObjectID) (*models.Voucher, error) {
	var voucher models.Voucher

	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&voucher)
	if err != nil {
		return nil, fmt.Errorf("failed to get voucher: %w", database.TranslateError(err))
	}

	return &voucher, nil
}

func (r *voucherRepository) List(ctx context.Context, filter models.VoucherFilter) ([]*models.Voucher, int64, error) {
	query := bson.M{}
	if filter.UserID != nil {
		query["userId"] = *filter.UserID
	}
	if filter.RouterID != nil {
		query["routerId"] = *filter.RouterID
	}
	if filter.Status != "" {
		query["status"] = filter.Status
	}

	total, err := r.collection.CountDocuments(ctx, query)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count vouchers: %w", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetProjection(bson.M{"password": 0})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}
	if filter.Offset > 0 {
		opts.SetSkip(int64(filter.Offset))
	}

	cursor, err := r.collection.Find(ctx, query, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list vouchers: %w", err)
	}
	defer cursor.Close(ctx)

	vouchers := make([]*models.Voucher, 0)
	if err := cursor.All(ctx, &vouchers); err != nil {
		return nil, 0, fmt.Errorf("failed to decode vouchers: %w", err)
	}

	return vouchers, total, nil
}

// expiryFilter selects non-terminal vouchers whose trigger for reason has
// fired at or before now.
func expiryFilter(reason models.ExpiryReason, now time.Time) (bson.M, error) {
	filter := bson.M{"status": bson.M{"$nin": models.TerminalStatuses}}

	switch reason {
	case models.ReasonActivationExpiry:
		filter["expiry.expiresAt"] = bson.M{"$ne": nil, "$lte": now}
	case models.ReasonPurchaseExpiry:
		filter["usage.purchaseExpiresAt"] = bson.M{"$ne": nil, "$lte": now}
	case models.ReasonUsageEnded:
		filter["usage.expectedEndTime"] = bson.M{"$ne": nil, "$lte": now}
		filter["usage.startTime"] = bson.M{"$ne": nil}
	default:
		return nil, fmt.Errorf("unknown expiry reason %q", reason)
	}

	return filter, nil
}

func (r *voucherRepository) FindExpiryCandidates(ctx context.Context, reason models.ExpiryReason, now time.Time) ([]*models.Voucher, error) {
	filter, err := expiryFilter(reason, now)
	if err != nil {
		return nil, err
	}

	opts := options.Find().SetProjection(bson.M{
		"_id":      1,
		"routerId": 1,
		"userId":   1,
		"code":     1,
		"status":   1,
		"usage":    1,
		"expiry":   1,
	})

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s candidates: %w", reason, err)
	}
	defer cursor.Close(ctx)

	var vouchers []*models.Voucher
	for cursor.Next(ctx) {
		var voucher models.Voucher
		if err := cursor.Decode(&voucher); err != nil {
			return nil, fmt.Errorf("failed to decode voucher: %w", err)
		}
		vouchers = append(vouchers, &voucher)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error on %s candidates: %w", reason, err)
	}

	return vouchers, nil
}

// Expire moves a non-terminal voucher to expired. usage.endTime keeps its
// existing value when one is set. Returns false when the voucher was already
// terminal or is gone.
func (r *voucherRepository) Expire(ctx context.Context, id primitive.ObjectID, reason models.ExpiryReason, now time.Time) (bool, error) {
	filter := bson.M{
		"_id":    id,
		"status": bson.M{"$nin": models.TerminalStatuses},
	}

	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: "status", Value: models.VoucherStatusExpired},
			{Key: "usage.endTime", Value: bson.D{{Key: "$ifNull", Value: bson.A{"$usage.endTime", now}}}},
			{Key: "expiry.expiredAt", Value: now},
			{Key: "expiry.reason", Value: reason},
			{Key: "updatedAt", Value: now},
		}}},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("failed to expire voucher: %w", err)
	}

	return result.MatchedCount > 0, nil
}

func (r *voucherRepository) FindPayableByReference(ctx context.Context, reference string) (*models.Voucher, error) {
	var voucher models.Voucher

	filter := bson.M{
		"reference": reference,
		"status":    bson.M{"$in": models.PayableStatuses},
	}

	err := r.collection.FindOne(ctx, filter).Decode(&voucher)
	if err != nil {
		return nil, fmt.Errorf("failed to find voucher by reference: %w", database.TranslateError(err))
	}

	return &voucher, nil
}

// FindPaidByReference returns the most recently paid voucher for reference,
// whatever its current status.
func (r *voucherRepository) FindPaidByReference(ctx context.Context, reference string) (*models.Voucher, error) {
	var voucher models.Voucher

	filter := bson.M{
		"reference":             reference,
		"payment.transactionId": bson.M{"$nin": bson.A{nil, ""}},
	}
	opts := options.FindOne().SetSort(bson.D{{Key: "payment.paymentDate", Value: -1}})

	err := r.collection.FindOne(ctx, filter, opts).Decode(&voucher)
	if err != nil {
		return nil, fmt.Errorf("failed to find paid voucher by reference: %w", database.TranslateError(err))
	}

	return &voucher, nil
}

// ApplyPayment commits a payment only while the voucher is still payable and
// carries no transaction id. Returns false when another delivery won.
func (r *voucherRepository) ApplyPayment(ctx context.Context, id primitive.ObjectID, update models.PaymentUpdate, now time.Time) (bool, error) {
	filter := bson.M{
		"_id":                   id,
		"status":                bson.M{"$in": models.PayableStatuses},
		"payment.transactionId": bson.M{"$in": bson.A{nil, ""}},
	}

	set := bson.M{
		"status":    models.VoucherStatusPaid,
		"payment":   update.Payment,
		"updatedAt": now,
	}
	if update.PurchaseExpiresAt != nil {
		set["usage.purchaseExpiresAt"] = *update.PurchaseExpiresAt
	}

	result, err := r.collection.UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return false, fmt.Errorf("failed to apply payment: %w", err)
	}

	return result.MatchedCount > 0, nil
}

func (r *voucherRepository) Cancel(ctx context.Context, id primitive.ObjectID, now time.Time) (bool, error) {
	filter := bson.M{
		"_id":    id,
		"status": bson.M{"$nin": models.TerminalStatuses},
	}

	update := bson.M{"$set": bson.M{
		"status":    models.VoucherStatusCancelled,
		"updatedAt": now,
	}}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("failed to cancel voucher: %w", err)
	}

	return result.MatchedCount > 0, nil
}
