// Package handler contains the HTTP handlers of the settlement service API.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/akarpenko/settlement-system/internal/middleware"
	"github.com/akarpenko/settlement-system/internal/model"
	"github.com/akarpenko/settlement-system/internal/repository"
	"github.com/akarpenko/settlement-system/internal/service"
	"github.com/akarpenko/settlement-system/internal/validation"
)

// Service defines the business logic contract used by the HTTP handlers.
type Service interface {
	CreateWithdrawal(ctx context.Context, holder model.Holder, amountCents int64, method model.PaymentMethod) (*model.WithdrawalRequest, error)
	GetWithdrawalsByHolder(ctx context.Context, holder model.Holder) ([]model.WithdrawalRequest, error)
	ListPendingWithdrawals(ctx context.Context, holderType *model.HolderType) ([]model.WithdrawalRequest, model.WithdrawalStats, error)
	ApproveWithdrawal(ctx context.Context, id, transactionID, adminNotes string) (*model.WithdrawalRequest, error)
	RejectWithdrawal(ctx context.Context, id, reason string) (*model.WithdrawalRequest, error)
	WithdrawalReport(ctx context.Context, f repository.WithdrawalFilter) ([]model.WithdrawalRequest, model.WithdrawalStats, error)
	CreateCashCollection(ctx context.Context, orderID, customerName, deliveryBoyID string, amountCents int64, orderDate time.Time) (*model.CashCollection, error)
	ListCashCollections(ctx context.Context, f repository.CollectionFilter) ([]model.CashCollection, int64, model.CollectionTotals, error)
	MarkCollected(ctx context.Context, id string) (*model.CashCollection, error)
	GetWallet(ctx context.Context, holder model.Holder) (*model.Wallet, error)
	CreditPendingFunds(ctx context.Context, holder model.Holder, amountCents int64) error
	ReleasePendingFunds(ctx context.Context) (int64, error)
	SetFCMToken(ctx context.Context, holder model.Holder, token string) error
}

// Handler implements the HTTP API.
type Handler struct {
	service Service
	logger  *zap.Logger
	auth    *middleware.Auth
}

// NewHandler creates a request handler.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.Auth) *Handler {
	return &Handler{
		service: s,
		logger:  logger,
		auth:    auth,
	}
}

type response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, message string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(response{
		Success: status < http.StatusBadRequest,
		Message: message,
		Data:    data,
	})
}

// writeOperationError maps domain errors onto the HTTP taxonomy: bad input
// 400, missing entities 404, lifecycle conflicts 409, everything else 500.
func (h *Handler) writeOperationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, err.Error(), nil)
	case errors.Is(err, repository.ErrWithdrawalNotFound),
		errors.Is(err, repository.ErrCollectionNotFound),
		errors.Is(err, repository.ErrWalletNotFound):
		writeJSON(w, http.StatusNotFound, err.Error(), nil)
	case errors.Is(err, repository.ErrAlreadyProcessed),
		errors.Is(err, repository.ErrAlreadyCollected),
		errors.Is(err, repository.ErrInsufficientBalance),
		errors.Is(err, repository.ErrDuplicateOrder):
		writeJSON(w, http.StatusConflict, err.Error(), nil)
	default:
		h.logger.Error("request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, "internal server error", nil)
	}
}

func amountToCents(amount float64) int64 {
	if amount >= 0 {
		return int64(amount*100 + 0.5)
	}
	return int64(amount*100 - 0.5)
}

type withdrawalResponse struct {
	ID              string  `json:"id"`
	HolderID        string  `json:"holderId"`
	HolderType      string  `json:"holderType"`
	Amount          float64 `json:"amount"`
	Status          string  `json:"status"`
	PaymentMethod   string  `json:"paymentMethod"`
	RequestedAt     string  `json:"requestedAt"`
	ProcessedAt     *string `json:"processedAt,omitempty"`
	TransactionID   string  `json:"transactionId,omitempty"`
	AdminNotes      string  `json:"adminNotes,omitempty"`
	RejectionReason string  `json:"rejectionReason,omitempty"`
}

func toWithdrawalResponse(req model.WithdrawalRequest) withdrawalResponse {
	resp := withdrawalResponse{
		ID:              req.ID,
		HolderID:        req.Holder.ID,
		HolderType:      string(req.Holder.Type),
		Amount:          float64(req.AmountCents) / 100,
		Status:          string(req.Status),
		PaymentMethod:   string(req.PaymentMethod),
		RequestedAt:     req.RequestedAt.Format(time.RFC3339),
		TransactionID:   req.TransactionID,
		AdminNotes:      req.AdminNotes,
		RejectionReason: req.RejectionReason,
	}
	if req.ProcessedAt != nil {
		s := req.ProcessedAt.Format(time.RFC3339)
		resp.ProcessedAt = &s
	}
	return resp
}

func toWithdrawalResponses(reqs []model.WithdrawalRequest) []withdrawalResponse {
	resp := make([]withdrawalResponse, 0, len(reqs))
	for _, req := range reqs {
		resp = append(resp, toWithdrawalResponse(req))
	}
	return resp
}

type withdrawalStatsResponse struct {
	PendingCount   int64   `json:"pendingCount"`
	TotalWithdrawn float64 `json:"totalWithdrawn"`
	ProcessedToday int64   `json:"processedToday"`
}

func toStatsResponse(stats model.WithdrawalStats) withdrawalStatsResponse {
	return withdrawalStatsResponse{
		PendingCount:   stats.PendingCount,
		TotalWithdrawn: float64(stats.TotalWithdrawnCents) / 100,
		ProcessedToday: stats.ProcessedToday,
	}
}

// PendingWithdrawals returns pending requests oldest first plus stats.
func (h *Handler) PendingWithdrawals(w http.ResponseWriter, r *http.Request) {
	var holderType *model.HolderType
	if v := r.URL.Query().Get("holderType"); v != "" {
		ht, ok := model.ParseHolderType(v)
		if !ok {
			writeJSON(w, http.StatusBadRequest, "unknown holder type", nil)
			return
		}
		holderType = &ht
	}

	reqs, stats, err := h.service.ListPendingWithdrawals(r.Context(), holderType)
	if err != nil {
		h.writeOperationError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, "pending withdrawal requests retrieved", map[string]any{
		"withdrawals": toWithdrawalResponses(reqs),
		"stats":       toStatsResponse(stats),
	})
}

type approveRequest struct {
	TransactionID string `json:"transactionId"`
	Notes         string `json:"notes"`
}

// ApproveWithdrawal approves a pending request and debits the holder wallet.
func (h *Handler) ApproveWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}

	result, err := h.service.ApproveWithdrawal(r.Context(), chi.URLParam(r, "id"), req.TransactionID, req.Notes)
	if err != nil {
		h.writeOperationError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, "withdrawal request approved", toWithdrawalResponse(*result))
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

// RejectWithdrawal rejects a pending request.
func (h *Handler) RejectWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}

	result, err := h.service.RejectWithdrawal(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		h.writeOperationError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, "withdrawal request rejected", toWithdrawalResponse(*result))
}

// WithdrawalReports returns filtered request history plus stats.
func (h *Handler) WithdrawalReports(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var filter repository.WithdrawalFilter

	if v := q.Get("status"); v != "" {
		switch model.WithdrawalStatus(v) {
		case model.WithdrawalStatusPending, model.WithdrawalStatusApproved, model.WithdrawalStatusRejected:
			status := model.WithdrawalStatus(v)
			filter.Status = &status
		default:
			writeJSON(w, http.StatusBadRequest, "unknown status", nil)
			return
		}
	}

	if v := q.Get("from"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, "invalid from date", nil)
			return
		}
		filter.From = &ts
	}
	if v := q.Get("to"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, "invalid to date", nil)
			return
		}
		filter.To = &ts
	}

	filter.SortAsc = q.Get("sort") == "asc"

	reqs, stats, err := h.service.WithdrawalReport(r.Context(), filter)
	if err != nil {
		h.writeOperationError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, "withdrawal report retrieved", map[string]any{
		"withdrawals": toWithdrawalResponses(reqs),
		"stats":       toStatsResponse(stats),
	})
}

// ReleasePendingFunds runs the release sweep on demand.
func (h *Handler) ReleasePendingFunds(w http.ResponseWriter, r *http.Request) {
	released, err := h.service.ReleasePendingFunds(r.Context())
	if err != nil {
		h.writeOperationError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, "pending funds released", map[string]any{
		"walletsReleased": released,
	})
}

type settlementRequest struct {
	HolderID   string  `json:"holderId"`
	HolderType string  `json:"holderType"`
	Amount     float64 `json:"amount"`
}

// CreditSettlement records an order settlement credit on a holder's
// pending balance.
func (h *Handler) CreditSettlement(w http.ResponseWriter, r *http.Request) {
	var req settlementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}

	holderType, ok := model.ParseHolderType(req.HolderType)
	if !ok {
		writeJSON(w, http.StatusBadRequest, "unknown holder type", nil)
		return
	}
	if req.HolderID == "" {
		writeJSON(w, http.StatusBadRequest, "holder id is required", nil)
		return
	}

	holder := model.Holder{ID: req.HolderID, Type: holderType}
	if err := h.service.CreditPendingFunds(r.Context(), holder, amountToCents(req.Amount)); err != nil {
		h.writeOperationError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, "settlement credited", nil)
}

type collectionResponse struct {
	ID             string  `json:"id"`
	OrderID        string  `json:"orderId"`
	CustomerName   string  `json:"customerName"`
	DeliveryBoyID  string  `json:"deliveryBoyId"`
	Amount         float64 `json:"amount"`
	Status         string  `json:"status"`
	OrderDate      string  `json:"orderDate"`
	CollectionDate *string `json:"collectionDate,omitempty"`
}

func toCollectionResponse(rec model.CashCollection) collectionResponse {
	resp := collectionResponse{
		ID:            rec.ID,
		OrderID:       rec.OrderID,
		CustomerName:  rec.CustomerName,
		DeliveryBoyID: rec.DeliveryBoyID,
		Amount:        float64(rec.AmountCents) / 100,
		Status:        string(rec.Status),
		OrderDate:     rec.OrderDate.Format(time.RFC3339),
	}
	if rec.CollectionDate != nil {
		s := rec.CollectionDate.Format(time.RFC3339)
		resp.CollectionDate = &s
	}
	return resp
}

type createCollectionRequest struct {
	OrderID       string  `json:"orderId"`
	CustomerName  string  `json:"customerName"`
	DeliveryBoyID string  `json:"deliveryBoyId"`
	Amount        float64 `json:"amount"`
	OrderDate     string  `json:"orderDate"`
}

// CreateCashCollection records a new COD debt for a delivered order.
func (h *Handler) CreateCashCollection(w http.ResponseWriter, r *http.Request) {
	var req createCollectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}

	if !validation.IsValidOrderID(req.OrderID) {
		writeJSON(w, http.StatusBadRequest, "invalid order id", nil)
		return
	}

	var orderDate time.Time
	if req.OrderDate != "" {
		ts, err := time.Parse(time.RFC3339, req.OrderDate)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, "invalid order date", nil)
			return
		}
		orderDate = ts
	}

	rec, err := h.service.CreateCashCollection(r.Context(), req.OrderID, req.CustomerName,
		req.DeliveryBoyID, amountToCents(req.Amount), orderDate)
	if err != nil {
		h.writeOperationError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, "cash collection recorded", toCollectionResponse(*rec))
}

// CashCollections returns a paginated listing with totals.
func (h *Handler) CashCollections(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var filter repository.CollectionFilter

	if v := q.Get("status"); v != "" {
		switch model.CollectionStatus(v) {
		case model.CollectionStatusPending, model.CollectionStatusCollected:
			status := model.CollectionStatus(v)
			filter.Status = &status
		default:
			writeJSON(w, http.StatusBadRequest, "unknown status", nil)
			return
		}
	}

	filter.Search = strings.TrimSpace(q.Get("search"))
	filter.Page, _ = strconv.Atoi(q.Get("page"))
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))

	recs, total, totals, err := h.service.ListCashCollections(r.Context(), filter)
	if err != nil {
		h.writeOperationError(w, err)
		return
	}

	items := make([]collectionResponse, 0, len(recs))
	for _, rec := range recs {
		items = append(items, toCollectionResponse(rec))
	}

	writeJSON(w, http.StatusOK, "cash collections retrieved", map[string]any{
		"collections":    items,
		"total":          total,
		"totalCollected": float64(totals.CollectedCents) / 100,
		"totalPending":   float64(totals.PendingCents) / 100,
	})
}

// MarkCollected marks a cash collection record as collected.
func (h *Handler) MarkCollected(w http.ResponseWriter, r *http.Request) {
	rec, err := h.service.MarkCollected(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeOperationError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, "cash collection marked collected", toCollectionResponse(*rec))
}

type createWithdrawalRequest struct {
	Amount        float64 `json:"amount"`
	PaymentMethod string  `json:"paymentMethod"`
}

// CreateWithdrawal submits a withdrawal request for the authenticated
// holder.
func (h *Handler) CreateWithdrawal(w http.ResponseWriter, r *http.Request) {
	holder, ok := middleware.HolderFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, "authentication required", nil)
		return
	}

	var req createWithdrawalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}

	result, err := h.service.CreateWithdrawal(r.Context(), holder, amountToCents(req.Amount), model.PaymentMethod(req.PaymentMethod))
	if err != nil {
		h.writeOperationError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, "withdrawal request submitted", toWithdrawalResponse(*result))
}

// HolderWithdrawals returns the authenticated holder's request history.
func (h *Handler) HolderWithdrawals(w http.ResponseWriter, r *http.Request) {
	holder, ok := middleware.HolderFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, "authentication required", nil)
		return
	}

	reqs, err := h.service.GetWithdrawalsByHolder(r.Context(), holder)
	if err != nil {
		h.writeOperationError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, "withdrawal history retrieved", toWithdrawalResponses(reqs))
}

// HolderWallet returns the authenticated holder's balances.
func (h *Handler) HolderWallet(w http.ResponseWriter, r *http.Request) {
	holder, ok := middleware.HolderFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, "authentication required", nil)
		return
	}

	wallet, err := h.service.GetWallet(r.Context(), holder)
	if err != nil {
		h.writeOperationError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, "wallet retrieved", map[string]any{
		"available": float64(wallet.AvailableCents) / 100,
		"pending":   float64(wallet.PendingCents) / 100,
		"updatedAt": wallet.UpdatedAt.Format(time.RFC3339),
	})
}

type fcmTokenRequest struct {
	Token string `json:"token"`
}

// SetFCMToken registers the holder's device token for push delivery.
func (h *Handler) SetFCMToken(w http.ResponseWriter, r *http.Request) {
	holder, ok := middleware.HolderFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, "authentication required", nil)
		return
	}

	var req fcmTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}

	if err := h.service.SetFCMToken(r.Context(), holder, req.Token); err != nil {
		h.writeOperationError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, "fcm token registered", nil)
}
