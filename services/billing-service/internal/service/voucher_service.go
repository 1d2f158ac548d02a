package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/grigta/hotspot/pkg/database"
	"github.com/grigta/hotspot/pkg/logger"
	"github.com/grigta/hotspot/pkg/middleware"
	"github.com/grigta/hotspot/services/billing-service/internal/models"
	"github.com/grigta/hotspot/services/billing-service/internal/repository"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	ErrVoucherNotFound = errors.New("voucher not found")
	ErrVoucherTerminal = errors.New("voucher is already expired or cancelled")
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Actor is the authenticated caller of an admin operation.
type Actor struct {
	UserID string
	Role   string
}

func (a Actor) IsAdmin() bool {
	return a.Role == middleware.RoleAdmin
}

type VoucherService struct {
	vouchers repository.VoucherRepository
	routers  repository.RouterRepository
	audit    repository.AuditLogRepository
	remover  HotspotUserRemover
	events   *EventPublisher
	metrics  *Metrics
	logger   logger.Logger
	now      func() time.Time
}

func NewVoucherService(
	vouchers repository.VoucherRepository,
	routers repository.RouterRepository,
	audit repository.AuditLogRepository,
	remover HotspotUserRemover,
	events *EventPublisher,
	metrics *Metrics,
	log logger.Logger,
) *VoucherService {
	return &VoucherService{
		vouchers: vouchers,
		routers:  routers,
		audit:    audit,
		remover:  remover,
		events:   events,
		metrics:  metrics,
		logger:   log.WithField("component", "voucher_service"),
		now:      time.Now,
	}
}

// Get returns a voucher visible to actor. Vouchers of other accounts are
// reported as not found.
func (s *VoucherService) Get(ctx context.Context, id primitive.ObjectID, actor Actor) (*models.Voucher, error) {
	voucher, err := s.vouchers.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrVoucherNotFound
		}
		return nil, err
	}

	if !actor.IsAdmin() && voucher.UserID.Hex() != actor.UserID {
		return nil, ErrVoucherNotFound
	}

	voucher.Password = ""
	return voucher, nil
}

func (s *VoucherService) List(ctx context.Context, filter models.VoucherFilter, actor Actor) ([]*models.Voucher, int64, error) {
	if !actor.IsAdmin() {
		owner, err := primitive.ObjectIDFromHex(actor.UserID)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %s", database.ErrInvalidID, actor.UserID)
		}
		filter.UserID = &owner
	}

	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}

	vouchers, total, err := s.vouchers.List(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	for _, v := range vouchers {
		v.Password = ""
	}
	return vouchers, total, nil
}

// Cancel moves a non-terminal voucher to cancelled and removes its hotspot
// user from the router on a best-effort basis.
func (s *VoucherService) Cancel(ctx context.Context, id primitive.ObjectID, actor Actor) (*models.Voucher, error) {
	voucher, err := s.Get(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if voucher.Status.IsTerminal() {
		return nil, ErrVoucherTerminal
	}

	now := s.now()
	cancelled, err := s.vouchers.Cancel(ctx, id, now)
	if err != nil {
		return nil, err
	}
	if !cancelled {
		return nil, ErrVoucherTerminal
	}

	previous := voucher.Status
	voucher.Status = models.VoucherStatusCancelled
	voucher.UpdatedAt = now

	log := s.logger.WithFields(logger.Fields{
		"voucher_id": voucher.ID.Hex(),
		"actor_id":   actor.UserID,
	})
	log.Info("Voucher cancelled")

	entry := &models.AuditLog{
		Action:       models.AuditVoucherCancelled,
		ResourceType: "voucher",
		ResourceID:   voucher.ID,
		Details: map[string]interface{}{
			"code":           voucher.Code,
			"previousStatus": string(previous),
		},
		CreatedAt: now,
	}
	if actorID, err := primitive.ObjectIDFromHex(actor.UserID); err == nil {
		entry.UserID = &actorID
	}
	if err := s.audit.Append(ctx, entry); err != nil {
		log.Warn("Failed to write cancel audit log", logger.Err(err))
	}

	s.removeFromRouter(ctx, voucher, log)

	if s.metrics != nil {
		s.metrics.IncrementCancelled()
	}
	if s.events != nil {
		s.events.VoucherCancelled(voucher, actor.UserID)
	}

	return voucher, nil
}

func (s *VoucherService) removeFromRouter(ctx context.Context, voucher *models.Voucher, log logger.Logger) {
	if s.remover == nil || voucher.RouterID.IsZero() {
		return
	}

	router, err := s.routers.GetByID(ctx, voucher.RouterID)
	if err != nil {
		log.Warn("Router lookup failed, hotspot user left on router", logger.Err(err))
		return
	}

	removed, err := s.remover.RemoveHotspotUser(ctx, router, voucher.Code)
	if err != nil {
		log.Warn("Failed to remove hotspot user from router", logger.Err(err))
		return
	}
	if !removed {
		log.Debug("Hotspot user not present on router")
	}
}
