package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/akarpenko/settlement-system/internal/model"
	"github.com/akarpenko/settlement-system/internal/repository"
)

type stubRepo struct {
	approveResp *model.WithdrawalRequest
	approveErr  error
	approveCall *struct{ id, transactionID, notes string }

	rejectResp *model.WithdrawalRequest
	rejectErr  error
	rejectCall *struct{ id, reason string }

	createResp *model.WithdrawalRequest
	createErr  error

	wallet    *model.Wallet
	walletErr error

	collections    []model.CashCollection
	collectionsErr error
	lastFilter     repository.CollectionFilter

	markResp *model.CashCollection
	markErr  error

	released    int64
	releasedErr error

	creditErr error

	tokenHolder *model.Holder
	tokenValue  string
}

func (s *stubRepo) Close() error { return nil }

func (s *stubRepo) CreateWithdrawal(ctx context.Context, holder model.Holder, amountCents int64, method model.PaymentMethod) (*model.WithdrawalRequest, error) {
	return s.createResp, s.createErr
}

func (s *stubRepo) GetWithdrawalsByHolder(ctx context.Context, holder model.Holder) ([]model.WithdrawalRequest, error) {
	return nil, nil
}

func (s *stubRepo) ListPendingWithdrawals(ctx context.Context, holderType *model.HolderType) ([]model.WithdrawalRequest, error) {
	return nil, nil
}

func (s *stubRepo) ApproveWithdrawal(ctx context.Context, id, transactionID, adminNotes string) (*model.WithdrawalRequest, error) {
	s.approveCall = &struct{ id, transactionID, notes string }{id, transactionID, adminNotes}
	return s.approveResp, s.approveErr
}

func (s *stubRepo) RejectWithdrawal(ctx context.Context, id, reason string) (*model.WithdrawalRequest, error) {
	s.rejectCall = &struct{ id, reason string }{id, reason}
	return s.rejectResp, s.rejectErr
}

func (s *stubRepo) WithdrawalReport(ctx context.Context, f repository.WithdrawalFilter) ([]model.WithdrawalRequest, error) {
	return nil, nil
}

func (s *stubRepo) WithdrawalStats(ctx context.Context) (model.WithdrawalStats, error) {
	return model.WithdrawalStats{}, nil
}

func (s *stubRepo) CreateCashCollection(ctx context.Context, orderID, customerName, deliveryBoyID string, amountCents int64, orderDate time.Time) (*model.CashCollection, error) {
	return nil, nil
}

func (s *stubRepo) ListCashCollections(ctx context.Context, f repository.CollectionFilter) ([]model.CashCollection, int64, error) {
	s.lastFilter = f
	return s.collections, int64(len(s.collections)), s.collectionsErr
}

func (s *stubRepo) CollectionTotals(ctx context.Context) (model.CollectionTotals, error) {
	return model.CollectionTotals{}, nil
}

func (s *stubRepo) MarkCollected(ctx context.Context, id string) (*model.CashCollection, error) {
	return s.markResp, s.markErr
}

func (s *stubRepo) GetWallet(ctx context.Context, holder model.Holder) (*model.Wallet, error) {
	return s.wallet, s.walletErr
}

func (s *stubRepo) CreditPendingFunds(ctx context.Context, holder model.Holder, amountCents int64) error {
	return s.creditErr
}

func (s *stubRepo) ReleasePendingFunds(ctx context.Context) (int64, error) {
	return s.released, s.releasedErr
}

func (s *stubRepo) SetFCMToken(ctx context.Context, holder model.Holder, token string) error {
	s.tokenHolder = &holder
	s.tokenValue = token
	return nil
}

type stubNotifier struct {
	pushErr   error
	pushCalls []string
}

func (n *stubNotifier) Push(ctx context.Context, token, title, body string, data map[string]string) error {
	n.pushCalls = append(n.pushCalls, token)
	return n.pushErr
}

func approvedRequest(amountCents int64) *model.WithdrawalRequest {
	now := time.Now()
	return &model.WithdrawalRequest{
		ID:            "req-1",
		Holder:        model.Holder{ID: "V1", Type: model.HolderTypeVendor},
		AmountCents:   amountCents,
		Status:        model.WithdrawalStatusApproved,
		PaymentMethod: model.PaymentMethodBankTransfer,
		RequestedAt:   now,
		ProcessedAt:   &now,
		TransactionID: "TXN001",
	}
}

func TestApproveWithdrawal_RequiresTransactionID(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo, nil, zap.NewNop())

	_, err := svc.ApproveWithdrawal(context.Background(), "req-1", "   ", "")
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if repo.approveCall != nil {
		t.Fatalf("repository must not be called on validation failure")
	}
}

func TestApproveWithdrawal_Success(t *testing.T) {
	repo := &stubRepo{
		approveResp: approvedRequest(50000),
		wallet: &model.Wallet{
			Holder:   model.Holder{ID: "V1", Type: model.HolderTypeVendor},
			FCMToken: "device-token",
		},
	}
	notifier := &stubNotifier{}
	svc := NewService(repo, notifier, zap.NewNop())

	req, err := svc.ApproveWithdrawal(context.Background(), "req-1", " TXN001 ", "looks fine")
	if err != nil {
		t.Fatalf("ApproveWithdrawal error: %v", err)
	}
	if req.Status != model.WithdrawalStatusApproved {
		t.Fatalf("status = %s, want approved", req.Status)
	}
	if repo.approveCall.transactionID != "TXN001" {
		t.Fatalf("transaction id not trimmed: %q", repo.approveCall.transactionID)
	}
	if len(notifier.pushCalls) != 1 || notifier.pushCalls[0] != "device-token" {
		t.Fatalf("expected one push to device-token, got %v", notifier.pushCalls)
	}
}

func TestApproveWithdrawal_PushFailureDoesNotFailApproval(t *testing.T) {
	repo := &stubRepo{
		approveResp: approvedRequest(50000),
		wallet: &model.Wallet{
			Holder:   model.Holder{ID: "V1", Type: model.HolderTypeVendor},
			FCMToken: "device-token",
		},
	}
	notifier := &stubNotifier{pushErr: errors.New("fcm unavailable")}
	svc := NewService(repo, notifier, zap.NewNop())

	_, err := svc.ApproveWithdrawal(context.Background(), "req-1", "TXN001", "")
	if err != nil {
		t.Fatalf("approval must not fail on push error, got %v", err)
	}
}

func TestApproveWithdrawal_AlreadyProcessedPropagates(t *testing.T) {
	repo := &stubRepo{approveErr: repository.ErrAlreadyProcessed}
	svc := NewService(repo, nil, zap.NewNop())

	_, err := svc.ApproveWithdrawal(context.Background(), "req-1", "TXN001", "")
	if !errors.Is(err, repository.ErrAlreadyProcessed) {
		t.Fatalf("expected ErrAlreadyProcessed, got %v", err)
	}
}

func TestRejectWithdrawal_RequiresReason(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo, nil, zap.NewNop())

	for _, reason := range []string{"", "   ", "\t\n"} {
		_, err := svc.RejectWithdrawal(context.Background(), "req-1", reason)
		if !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("reason %q: expected ErrInvalidInput, got %v", reason, err)
		}
	}
	if repo.rejectCall != nil {
		t.Fatalf("repository must not be called on validation failure")
	}
}

func TestRejectWithdrawal_TrimsReason(t *testing.T) {
	req := approvedRequest(20000)
	req.Status = model.WithdrawalStatusRejected
	req.RejectionReason = "duplicate request"

	repo := &stubRepo{rejectResp: req}
	svc := NewService(repo, nil, zap.NewNop())

	_, err := svc.RejectWithdrawal(context.Background(), "req-1", "  duplicate request  ")
	if err != nil {
		t.Fatalf("RejectWithdrawal error: %v", err)
	}
	if repo.rejectCall.reason != "duplicate request" {
		t.Fatalf("reason not trimmed: %q", repo.rejectCall.reason)
	}
}

func TestCreateWithdrawal_Validation(t *testing.T) {
	svc := NewService(&stubRepo{}, nil, zap.NewNop())
	holder := model.Holder{ID: "V1", Type: model.HolderTypeVendor}

	_, err := svc.CreateWithdrawal(context.Background(), holder, -100, model.PaymentMethodBankTransfer)
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("negative amount: expected ErrInvalidInput, got %v", err)
	}

	_, err = svc.CreateWithdrawal(context.Background(), holder, 100, model.PaymentMethod("paypal"))
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("unknown method: expected ErrInvalidInput, got %v", err)
	}
}

func TestWithdrawalReport_InvertedRange(t *testing.T) {
	svc := NewService(&stubRepo{}, nil, zap.NewNop())

	from := time.Now()
	to := from.Add(-time.Hour)

	_, _, err := svc.WithdrawalReport(context.Background(), repository.WithdrawalFilter{From: &from, To: &to})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestListCashCollections_NormalizesPaging(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo, nil, zap.NewNop())

	_, _, _, err := svc.ListCashCollections(context.Background(), repository.CollectionFilter{Page: 0, Limit: 0})
	if err != nil {
		t.Fatalf("ListCashCollections error: %v", err)
	}
	if repo.lastFilter.Page != 1 || repo.lastFilter.Limit != 20 {
		t.Fatalf("paging not normalized: page=%d limit=%d", repo.lastFilter.Page, repo.lastFilter.Limit)
	}

	_, _, _, err = svc.ListCashCollections(context.Background(), repository.CollectionFilter{Page: 3, Limit: 1000})
	if err != nil {
		t.Fatalf("ListCashCollections error: %v", err)
	}
	if repo.lastFilter.Limit != 100 {
		t.Fatalf("limit not capped: %d", repo.lastFilter.Limit)
	}
}

func TestCreditPendingFunds_RequiresPositiveAmount(t *testing.T) {
	svc := NewService(&stubRepo{}, nil, zap.NewNop())
	holder := model.Holder{ID: "D2", Type: model.HolderTypeDeliveryPartner}

	err := svc.CreditPendingFunds(context.Background(), holder, 0)
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestSetFCMToken_TrimsAndValidates(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo, nil, zap.NewNop())
	holder := model.Holder{ID: "V1", Type: model.HolderTypeVendor}

	if err := svc.SetFCMToken(context.Background(), holder, "   "); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}

	if err := svc.SetFCMToken(context.Background(), holder, " token-1 "); err != nil {
		t.Fatalf("SetFCMToken error: %v", err)
	}
	if repo.tokenValue != "token-1" {
		t.Fatalf("token not trimmed: %q", repo.tokenValue)
	}
}

func TestStartReleaseSweep_DisabledInterval(t *testing.T) {
	svc := NewService(&stubRepo{}, nil, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan struct{})

	go func() {
		svc.StartReleaseSweep(ctx, 0)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("StartReleaseSweep did not return with zero interval")
	}
}
