package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/grigta/hotspot/pkg/database"
	"github.com/grigta/hotspot/pkg/logger"
	"github.com/grigta/hotspot/services/billing-service/internal/models"
	"github.com/grigta/hotspot/services/billing-service/internal/repository"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

var ErrSweepInProgress = errors.New("expiry sweep already running")

type SweepResult struct {
	Processed       int                         `json:"processed"`
	Expired         int                         `json:"expired"`
	Skipped         int                         `json:"skipped"`
	Failed          int                         `json:"failed"`
	RemovedOnRouter int                         `json:"removedOnRouter"` // expired vouchers also deleted on the router
	ByReason        map[models.ExpiryReason]int `json:"byReason"`
	StartedAt       time.Time                   `json:"startedAt"`
	Duration        time.Duration               `json:"duration"`
}

// Sweeper is what the scheduler and the admin endpoint run.
type Sweeper interface {
	Run(ctx context.Context) (*SweepResult, error)
}

type expiryCandidate struct {
	voucher *models.Voucher
	reason  models.ExpiryReason
}

// ExpirySweeper closes out every voucher whose activation deadline,
// purchase window or session has lapsed.
type ExpirySweeper struct {
	vouchers repository.VoucherRepository
	routers  repository.RouterRepository
	audit    repository.AuditLogRepository
	remover  HotspotUserRemover
	events   *EventPublisher
	metrics  *Metrics
	logger   logger.Logger
	progress io.Writer
	now      func() time.Time
	mu       sync.Mutex
}

func NewExpirySweeper(
	vouchers repository.VoucherRepository,
	routers repository.RouterRepository,
	audit repository.AuditLogRepository,
	remover HotspotUserRemover,
	events *EventPublisher,
	metrics *Metrics,
	log logger.Logger,
) *ExpirySweeper {
	return &ExpirySweeper{
		vouchers: vouchers,
		routers:  routers,
		audit:    audit,
		remover:  remover,
		events:   events,
		metrics:  metrics,
		logger:   log.WithField("component", "expiry_sweeper"),
		now:      time.Now,
	}
}

// SetProgressOutput makes the sweeper print one line per expired voucher.
func (s *ExpirySweeper) SetProgressOutput(w io.Writer) {
	s.progress = w
}

func (s *ExpirySweeper) Run(ctx context.Context) (*SweepResult, error) {
	if !s.mu.TryLock() {
		return nil, ErrSweepInProgress
	}
	defer s.mu.Unlock()

	started := time.Now()
	now := s.now()

	result := &SweepResult{
		ByReason:  make(map[models.ExpiryReason]int),
		StartedAt: now,
	}

	candidates, err := s.collect(ctx, now)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Expiry sweep started", logger.Field{Key: "candidates", Value: len(candidates)})

	routerCache := make(map[primitive.ObjectID]*models.Router)
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			result.Duration = time.Since(started)
			return result, err
		}
		result.Processed++
		s.expireOne(ctx, c, now, routerCache, result)
	}

	result.Duration = time.Since(started)
	if s.metrics != nil {
		s.metrics.ObserveSweepDuration(result.Duration.Seconds())
	}

	s.logger.Info("Expiry sweep completed",
		logger.Field{Key: "processed", Value: result.Processed},
		logger.Field{Key: "expired", Value: result.Expired},
		logger.Field{Key: "skipped", Value: result.Skipped},
		logger.Field{Key: "failed", Value: result.Failed},
		logger.Field{Key: "removed_on_router", Value: result.RemovedOnRouter},
		logger.Field{Key: "duration", Value: result.Duration.String()},
	)

	return result, nil
}

// collect unions the three trigger selections by voucher id. A voucher that
// matches several triggers keeps the highest priority reason.
func (s *ExpirySweeper) collect(ctx context.Context, now time.Time) ([]*expiryCandidate, error) {
	byID := make(map[primitive.ObjectID]*expiryCandidate)
	var ordered []*expiryCandidate

	for _, reason := range models.ExpiryReasons {
		vouchers, err := s.vouchers.FindExpiryCandidates(ctx, reason, now)
		if err != nil {
			return nil, fmt.Errorf("failed to select %s candidates: %w", reason, err)
		}

		for _, v := range vouchers {
			existing, ok := byID[v.ID]
			if !ok {
				c := &expiryCandidate{voucher: v, reason: reason}
				byID[v.ID] = c
				ordered = append(ordered, c)
				continue
			}
			if reason.Priority() > existing.reason.Priority() {
				existing.reason = reason
			}
		}
	}

	return ordered, nil
}

func (s *ExpirySweeper) expireOne(ctx context.Context, c *expiryCandidate, now time.Time, routerCache map[primitive.ObjectID]*models.Router, result *SweepResult) {
	v := c.voucher
	log := s.logger.WithFields(logger.Fields{
		"voucher_id": v.ID.Hex(),
		"code":       v.Code,
		"reason":     string(c.reason),
	})

	removed := s.removeFromRouter(ctx, v, routerCache, log)

	expired, err := s.vouchers.Expire(ctx, v.ID, c.reason, now)
	if err != nil {
		result.Failed++
		if s.metrics != nil {
			s.metrics.IncrementSweepFailures()
		}
		log.Error("Failed to expire voucher", logger.Err(err))
		return
	}
	if !expired {
		result.Skipped++
		log.Debug("Voucher changed state during sweep, skipped")
		return
	}

	result.Expired++
	result.ByReason[c.reason]++
	if removed {
		result.RemovedOnRouter++
	}
	if s.metrics != nil {
		s.metrics.IncrementExpired(string(c.reason))
	}

	if s.audit != nil {
		entry := &models.AuditLog{
			Action:       models.AuditVoucherExpired,
			ResourceType: "voucher",
			ResourceID:   v.ID,
			Details: map[string]interface{}{
				"reason": string(c.reason),
				"code":   v.Code,
			},
			CreatedAt: now,
		}
		if !v.UserID.IsZero() {
			owner := v.UserID
			entry.UserID = &owner
		}
		if err := s.audit.Append(ctx, entry); err != nil {
			log.Warn("Failed to write expiry audit log", logger.Err(err))
		}
	}

	if s.events != nil {
		s.events.VoucherExpired(v, c.reason, now)
	}

	if s.progress != nil {
		fmt.Fprintf(s.progress, "expired voucher %s (%s)\n", v.Code, c.reason)
	}
}

// removeFromRouter makes a best-effort attempt to delete the hotspot user.
// Failures never block expiry.
func (s *ExpirySweeper) removeFromRouter(ctx context.Context, v *models.Voucher, routerCache map[primitive.ObjectID]*models.Router, log logger.Logger) bool {
	if s.remover == nil || v.RouterID.IsZero() || v.Code == "" {
		return false
	}

	router, cached := routerCache[v.RouterID]
	if !cached {
		r, err := s.routers.GetByID(ctx, v.RouterID)
		switch {
		case err == nil:
			routerCache[v.RouterID] = r
		case errors.Is(err, database.ErrNotFound):
			routerCache[v.RouterID] = nil
			log.Warn("Router not found, skipping hotspot removal", logger.Err(err))
		default:
			// transient errors are retried for the next voucher on this router
			log.Warn("Router lookup failed, skipping hotspot removal", logger.Err(err))
		}
		router = r
	}
	if router == nil {
		return false
	}

	provider := string(router.Provider)
	removed, err := s.remover.RemoveHotspotUser(ctx, router, v.Code)
	switch {
	case err != nil:
		log.Warn("Failed to remove hotspot user from router",
			logger.Field{Key: "router_id", Value: router.ID.Hex()},
			logger.Err(err),
		)
		s.countRemoval(provider, "error")
		return false
	case !removed:
		s.countRemoval(provider, "not_found")
		return false
	default:
		s.countRemoval(provider, "removed")
		return true
	}
}

func (s *ExpirySweeper) countRemoval(provider, outcome string) {
	if s.metrics != nil {
		s.metrics.IncrementRouterRemoval(provider, outcome)
	}
}

// Summary renders the run totals for process output.
func (r *SweepResult) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Processed %d vouchers: %d expired, %d skipped, %d failed, %d removed on router",
		r.Processed, r.Expired, r.Skipped, r.Failed, r.RemovedOnRouter)
	for _, reason := range models.ExpiryReasons {
		if n := r.ByReason[reason]; n > 0 {
			fmt.Fprintf(&b, "\n  %s: %d", reason, n)
		}
	}
	fmt.Fprintf(&b, "\nCompleted in %s", r.Duration.Round(time.Millisecond))
	return b.String()
}
