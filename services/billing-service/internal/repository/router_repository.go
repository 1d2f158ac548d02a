package repository

import (
	"context"
	"fmt"

	"github.com/grigta/hotspot/pkg/database"
	"github.com/grigta/hotspot/services/billing-service/internal/models"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

const (
	RoutersCollection      = "routers"
	UsersCollection        = "users"
	SystemConfigCollection = "system_config"
)

type RouterRepository interface {
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.Router, error)
}

type routerRepository struct {
	collection *mongo.Collection
}

func NewRouterRepository(db *mongo.Database) RouterRepository {
	return &routerRepository{collection: db.Collection(RoutersCollection)}
}

func (r *routerRepository) GetByID(ctx context.Context, id primitive.ObjectID) (*models.Router, error) {
	var router models.Router
	if err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&router); err != nil {
		return nil, fmt.Errorf("failed to get router: %w", database.TranslateError(err))
	}
	return &router, nil
}

type AccountRepository interface {
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.BillingAccount, error)
}

type accountRepository struct {
	collection *mongo.Collection
}

func NewAccountRepository(db *mongo.Database) AccountRepository {
	return &accountRepository{collection: db.Collection(UsersCollection)}
}

func (r *accountRepository) GetByID(ctx context.Context, id primitive.ObjectID) (*models.BillingAccount, error) {
	var account models.BillingAccount
	if err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&account); err != nil {
		return nil, fmt.Errorf("failed to get billing account: %w", database.TranslateError(err))
	}
	return &account, nil
}

type SystemConfigRepository interface {
	// GetCommissionRates returns percent rates keyed by business type. A
	// missing document yields an empty map.
	GetCommissionRates(ctx context.Context) (map[string]float64, error)
}

type systemConfigRepository struct {
	collection *mongo.Collection
}

func NewSystemConfigRepository(db *mongo.Database) SystemConfigRepository {
	return &systemConfigRepository{collection: db.Collection(SystemConfigCollection)}
}

func (r *systemConfigRepository) GetCommissionRates(ctx context.Context) (map[string]float64, error) {
	var doc models.SystemConfig

	err := r.collection.FindOne(ctx, bson.M{"key": models.CommissionRatesKey}).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return map[string]float64{}, nil
		}
		return nil, fmt.Errorf("failed to get commission rates: %w", err)
	}

	rates := make(map[string]float64, len(doc.Value))
	for businessType, raw := range doc.Value {
		if rate, ok := toFloat(raw); ok {
			rates[businessType] = rate
		}
	}

	return rates, nil
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case primitive.Decimal128:
		d, err := decimal.NewFromString(n.String())
		if err != nil {
			return 0, false
		}
		f, _ := d.Float64()
		return f, true
	default:
		return 0, false
	}
}
