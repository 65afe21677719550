// Package service implements the settlement workflow logic: the withdrawal
// approval lifecycle, cash collection reconciliation and ledger upkeep.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/akarpenko/settlement-system/internal/metrics"
	"github.com/akarpenko/settlement-system/internal/model"
	"github.com/akarpenko/settlement-system/internal/repository"
)

// ErrInvalidInput is returned for missing or malformed request fields.
var ErrInvalidInput = errors.New("invalid input")

// Repository describes the data access contract used by the service.
type Repository interface {
	Close() error
	CreateWithdrawal(ctx context.Context, holder model.Holder, amountCents int64, method model.PaymentMethod) (*model.WithdrawalRequest, error)
	GetWithdrawalsByHolder(ctx context.Context, holder model.Holder) ([]model.WithdrawalRequest, error)
	ListPendingWithdrawals(ctx context.Context, holderType *model.HolderType) ([]model.WithdrawalRequest, error)
	ApproveWithdrawal(ctx context.Context, id, transactionID, adminNotes string) (*model.WithdrawalRequest, error)
	RejectWithdrawal(ctx context.Context, id, reason string) (*model.WithdrawalRequest, error)
	WithdrawalReport(ctx context.Context, f repository.WithdrawalFilter) ([]model.WithdrawalRequest, error)
	WithdrawalStats(ctx context.Context) (model.WithdrawalStats, error)
	CreateCashCollection(ctx context.Context, orderID, customerName, deliveryBoyID string, amountCents int64, orderDate time.Time) (*model.CashCollection, error)
	ListCashCollections(ctx context.Context, f repository.CollectionFilter) ([]model.CashCollection, int64, error)
	CollectionTotals(ctx context.Context) (model.CollectionTotals, error)
	MarkCollected(ctx context.Context, id string) (*model.CashCollection, error)
	GetWallet(ctx context.Context, holder model.Holder) (*model.Wallet, error)
	CreditPendingFunds(ctx context.Context, holder model.Holder, amountCents int64) error
	ReleasePendingFunds(ctx context.Context) (int64, error)
	SetFCMToken(ctx context.Context, holder model.Holder, token string) error
}

// Notifier delivers push notifications to holder devices. Delivery is best
// effort: failures are logged and never fail the triggering operation.
type Notifier interface {
	Push(ctx context.Context, token, title, body string, data map[string]string) error
}

// Service contains the settlement business logic.
type Service struct {
	repo     Repository
	notifier Notifier
	logger   *zap.Logger
}

// NewService creates a service. notifier may be nil, which disables push.
func NewService(repo Repository, notifier Notifier, logger *zap.Logger) *Service {
	return &Service{
		repo:     repo,
		notifier: notifier,
		logger:   logger,
	}
}

// Close releases service resources.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// CreateWithdrawal submits a holder withdrawal request. The amount must be
// positive and covered by the holder's available balance at submission
// time; coverage is re-checked again at approval.
func (s *Service) CreateWithdrawal(ctx context.Context, holder model.Holder, amountCents int64, method model.PaymentMethod) (*model.WithdrawalRequest, error) {
	if amountCents <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	if _, ok := model.ParsePaymentMethod(string(method)); !ok {
		return nil, fmt.Errorf("%w: unknown payment method", ErrInvalidInput)
	}
	return s.repo.CreateWithdrawal(ctx, holder, amountCents, method)
}

// GetWithdrawalsByHolder returns the holder's withdrawal history.
func (s *Service) GetWithdrawalsByHolder(ctx context.Context, holder model.Holder) ([]model.WithdrawalRequest, error) {
	return s.repo.GetWithdrawalsByHolder(ctx, holder)
}

// ListPendingWithdrawals returns pending requests oldest first plus current
// aggregate stats for the admin dashboard.
func (s *Service) ListPendingWithdrawals(ctx context.Context, holderType *model.HolderType) ([]model.WithdrawalRequest, model.WithdrawalStats, error) {
	reqs, err := s.repo.ListPendingWithdrawals(ctx, holderType)
	if err != nil {
		return nil, model.WithdrawalStats{}, err
	}

	stats, err := s.repo.WithdrawalStats(ctx)
	if err != nil {
		return nil, model.WithdrawalStats{}, err
	}

	return reqs, stats, nil
}

// ApproveWithdrawal approves a pending request and debits the holder's
// available balance atomically. Exactly one of two concurrent decisions on
// the same request succeeds.
func (s *Service) ApproveWithdrawal(ctx context.Context, id, transactionID, adminNotes string) (*model.WithdrawalRequest, error) {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return nil, fmt.Errorf("%w: transaction id is required", ErrInvalidInput)
	}

	req, err := s.repo.ApproveWithdrawal(ctx, id, transactionID, strings.TrimSpace(adminNotes))
	if err != nil {
		return nil, err
	}

	metrics.WithdrawalsProcessed.WithLabelValues("approved").Inc()

	s.notifyHolder(ctx, req.Holder, "Withdrawal approved",
		fmt.Sprintf("Your withdrawal of %.2f has been approved.", float64(req.AmountCents)/100),
		map[string]string{
			"type":          "withdrawal_approved",
			"withdrawalId":  req.ID,
			"transactionId": req.TransactionID,
		})

	return req, nil
}

// RejectWithdrawal rejects a pending request. The ledger is untouched.
func (s *Service) RejectWithdrawal(ctx context.Context, id, reason string) (*model.WithdrawalRequest, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: rejection reason is required", ErrInvalidInput)
	}

	req, err := s.repo.RejectWithdrawal(ctx, id, reason)
	if err != nil {
		return nil, err
	}

	metrics.WithdrawalsProcessed.WithLabelValues("rejected").Inc()

	s.notifyHolder(ctx, req.Holder, "Withdrawal rejected",
		fmt.Sprintf("Your withdrawal request was rejected: %s", req.RejectionReason),
		map[string]string{
			"type":         "withdrawal_rejected",
			"withdrawalId": req.ID,
		})

	return req, nil
}

// WithdrawalReport returns requests matching the filter plus aggregate
// stats recomputed from the current store.
func (s *Service) WithdrawalReport(ctx context.Context, f repository.WithdrawalFilter) ([]model.WithdrawalRequest, model.WithdrawalStats, error) {
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return nil, model.WithdrawalStats{}, fmt.Errorf("%w: date range is inverted", ErrInvalidInput)
	}

	reqs, err := s.repo.WithdrawalReport(ctx, f)
	if err != nil {
		return nil, model.WithdrawalStats{}, err
	}

	stats, err := s.repo.WithdrawalStats(ctx)
	if err != nil {
		return nil, model.WithdrawalStats{}, err
	}

	return reqs, stats, nil
}

// CreateCashCollection records the cash owed by a delivery partner for a
// COD order.
func (s *Service) CreateCashCollection(ctx context.Context, orderID, customerName, deliveryBoyID string, amountCents int64, orderDate time.Time) (*model.CashCollection, error) {
	if amountCents <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	if strings.TrimSpace(deliveryBoyID) == "" {
		return nil, fmt.Errorf("%w: delivery partner id is required", ErrInvalidInput)
	}
	if orderDate.IsZero() {
		orderDate = time.Now()
	}
	return s.repo.CreateCashCollection(ctx, orderID, strings.TrimSpace(customerName), deliveryBoyID, amountCents, orderDate)
}

// ListCashCollections returns a page of records plus overall totals.
func (s *Service) ListCashCollections(ctx context.Context, f repository.CollectionFilter) ([]model.CashCollection, int64, model.CollectionTotals, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = 20
	}
	if f.Limit > 100 {
		f.Limit = 100
	}

	recs, total, err := s.repo.ListCashCollections(ctx, f)
	if err != nil {
		return nil, 0, model.CollectionTotals{}, err
	}

	totals, err := s.repo.CollectionTotals(ctx)
	if err != nil {
		return nil, 0, model.CollectionTotals{}, err
	}

	return recs, total, totals, nil
}

// MarkCollected marks a pending cash collection record as collected. A
// second call on the same record fails rather than silently succeeding.
func (s *Service) MarkCollected(ctx context.Context, id string) (*model.CashCollection, error) {
	rec, err := s.repo.MarkCollected(ctx, id)
	if err != nil {
		return nil, err
	}

	metrics.CollectionsMarked.Inc()
	return rec, nil
}

// GetWallet returns the holder's ledger balances.
func (s *Service) GetWallet(ctx context.Context, holder model.Holder) (*model.Wallet, error) {
	return s.repo.GetWallet(ctx, holder)
}

// CreditPendingFunds records an order settlement credit on the holder's
// pending balance.
func (s *Service) CreditPendingFunds(ctx context.Context, holder model.Holder, amountCents int64) error {
	if amountCents <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	return s.repo.CreditPendingFunds(ctx, holder, amountCents)
}

// ReleasePendingFunds moves matured pending balances into available
// balances for all wallets.
func (s *Service) ReleasePendingFunds(ctx context.Context) (int64, error) {
	released, err := s.repo.ReleasePendingFunds(ctx)
	if err != nil {
		return 0, err
	}

	metrics.PendingFundsReleased.Add(float64(released))
	return released, nil
}

// SetFCMToken stores the holder's push token.
func (s *Service) SetFCMToken(ctx context.Context, holder model.Holder, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("%w: token is required", ErrInvalidInput)
	}
	return s.repo.SetFCMToken(ctx, holder, token)
}

// StartReleaseSweep runs ReleasePendingFunds on a fixed interval until the
// context is cancelled. A non-positive interval disables the sweep.
func (s *Service) StartReleaseSweep(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			released, err := s.ReleasePendingFunds(ctx)
			if err != nil {
				s.logger.Error("release pending funds sweep", zap.Error(err))
				continue
			}
			if released > 0 {
				s.logger.Info("released pending funds", zap.Int64("wallets", released))
			}
		}
	}
}

// notifyHolder pushes to the holder's registered device. Missing wallets,
// missing tokens and send failures only produce log entries.
func (s *Service) notifyHolder(ctx context.Context, holder model.Holder, title, body string, data map[string]string) {
	if s.notifier == nil {
		return
	}

	wallet, err := s.repo.GetWallet(ctx, holder)
	if err != nil {
		s.logger.Warn("holder wallet lookup for push failed",
			zap.String("holderID", holder.ID), zap.Error(err))
		return
	}
	if wallet.FCMToken == "" {
		return
	}

	if err := s.notifier.Push(ctx, wallet.FCMToken, title, body, data); err != nil {
		s.logger.Warn("push notification failed",
			zap.String("holderID", holder.ID), zap.Error(err))
	}
}
