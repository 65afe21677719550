// Package model contains the domain entities of the settlement service.
package model

import "time"

// HolderType identifies the kind of account a wallet belongs to.
type HolderType string

const (
	HolderTypeVendor          HolderType = "vendor"
	HolderTypeDeliveryPartner HolderType = "delivery_partner"
)

// ParseHolderType converts a wire value into a HolderType.
func ParseHolderType(s string) (HolderType, bool) {
	switch HolderType(s) {
	case HolderTypeVendor, HolderTypeDeliveryPartner:
		return HolderType(s), true
	}
	return "", false
}

// Holder references a vendor or delivery partner account that can accrue
// balance and request withdrawals.
type Holder struct {
	ID   string
	Type HolderType
}

// WithdrawalStatus describes the lifecycle state of a withdrawal request.
// Requests start pending and move exactly once to approved or rejected.
type WithdrawalStatus string

const (
	WithdrawalStatusPending  WithdrawalStatus = "pending"
	WithdrawalStatusApproved WithdrawalStatus = "approved"
	WithdrawalStatusRejected WithdrawalStatus = "rejected"
)

// PaymentMethod describes how approved funds leave the platform.
type PaymentMethod string

const (
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	PaymentMethodMobileWallet PaymentMethod = "mobile_wallet"
	PaymentMethodCashPickup   PaymentMethod = "cash_pickup"
)

// ParsePaymentMethod converts a wire value into a PaymentMethod.
func ParsePaymentMethod(s string) (PaymentMethod, bool) {
	switch PaymentMethod(s) {
	case PaymentMethodBankTransfer, PaymentMethodMobileWallet, PaymentMethodCashPickup:
		return PaymentMethod(s), true
	}
	return "", false
}

// WithdrawalRequest is a holder-initiated, admin-processed transfer of
// accrued balance out of the platform ledger. Amounts are stored in cents.
type WithdrawalRequest struct {
	ID              string
	Holder          Holder
	AmountCents     int64
	Status          WithdrawalStatus
	PaymentMethod   PaymentMethod
	RequestedAt     time.Time
	ProcessedAt     *time.Time
	TransactionID   string
	AdminNotes      string
	RejectionReason string
}

// CollectionStatus describes the lifecycle state of a cash collection record.
type CollectionStatus string

const (
	CollectionStatusPending   CollectionStatus = "pending"
	CollectionStatusCollected CollectionStatus = "collected"
)

// CashCollection tracks cash-on-delivery funds a delivery partner owes the
// platform for a single order.
type CashCollection struct {
	ID             string
	OrderID        string
	CustomerName   string
	DeliveryBoyID  string
	AmountCents    int64
	Status         CollectionStatus
	OrderDate      time.Time
	CollectionDate *time.Time
}

// Wallet holds a single holder's ledger balances in cents. Pending funds
// accrue from order settlements and become available after release.
type Wallet struct {
	Holder         Holder
	AvailableCents int64
	PendingCents   int64
	FCMToken       string
	UpdatedAt      time.Time
}

// WithdrawalStats aggregates withdrawal requests for the admin dashboard.
type WithdrawalStats struct {
	PendingCount        int64
	TotalWithdrawnCents int64
	ProcessedToday      int64
}

// CollectionTotals aggregates cash collection amounts by status.
type CollectionTotals struct {
	CollectedCents int64
	PendingCents   int64
}
