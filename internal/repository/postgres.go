// Package repository implements data access for the settlement service in
// PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	"github.com/akarpenko/settlement-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrWithdrawalNotFound is returned when the referenced withdrawal request
// does not exist.
var (
	ErrWithdrawalNotFound = errors.New("withdrawal request not found")
	// ErrWalletNotFound is returned when no ledger wallet exists for the holder.
	ErrWalletNotFound = errors.New("wallet not found")
	// ErrCollectionNotFound is returned when the referenced cash collection
	// record does not exist.
	ErrCollectionNotFound = errors.New("cash collection record not found")
	// ErrAlreadyProcessed is returned when a withdrawal request has already
	// left the pending state.
	ErrAlreadyProcessed = errors.New("withdrawal request already processed")
	// ErrAlreadyCollected is returned when a cash collection record has
	// already been marked collected.
	ErrAlreadyCollected = errors.New("cash collection already collected")
	// ErrInsufficientBalance is returned when a debit would drive the
	// holder's available balance negative.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrDuplicateOrder is returned when a cash collection record already
	// exists for the order.
	ErrDuplicateOrder = errors.New("cash collection already exists for order")
)

// WithdrawalFilter narrows the withdrawal report query.
type WithdrawalFilter struct {
	Status  *model.WithdrawalStatus
	From    *time.Time
	To      *time.Time
	SortAsc bool
}

// CollectionFilter narrows and paginates the cash collection listing.
type CollectionFilter struct {
	Status *model.CollectionStatus
	Search string
	Page   int
	Limit  int
}

// PostgresRepository provides access to the settlement data store.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates the repository and brings the schema up to
// date via embedded migrations.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry re-runs fn on serialization failures and deadlocks, which are
// expected under concurrent admin actions on the same rows.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(3, retry.NewExponential(500*time.Millisecond))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				return retry.RetryableError(err)
			}
		}

		return err
	})
}

// Close closes the connection pool.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

const withdrawalColumns = `id, holder_id, holder_type, amount_cents, status, payment_method,
	requested_at, processed_at, transaction_id, admin_notes, rejection_reason`

func scanWithdrawal(row pgx.Row) (*model.WithdrawalRequest, error) {
	var (
		req             model.WithdrawalRequest
		holderType      string
		status          string
		method          string
		transactionID   *string
		adminNotes      *string
		rejectionReason *string
	)

	err := row.Scan(&req.ID, &req.Holder.ID, &holderType, &req.AmountCents, &status, &method,
		&req.RequestedAt, &req.ProcessedAt, &transactionID, &adminNotes, &rejectionReason)
	if err != nil {
		return nil, err
	}

	req.Holder.Type = model.HolderType(holderType)
	req.Status = model.WithdrawalStatus(status)
	req.PaymentMethod = model.PaymentMethod(method)
	if transactionID != nil {
		req.TransactionID = *transactionID
	}
	if adminNotes != nil {
		req.AdminNotes = *adminNotes
	}
	if rejectionReason != nil {
		req.RejectionReason = *rejectionReason
	}

	return &req, nil
}

// CreateWithdrawal inserts a pending withdrawal request after verifying the
// holder's available balance under a row lock to serialize concurrent
// submissions.
func (r *PostgresRepository) CreateWithdrawal(ctx context.Context, holder model.Holder, amountCents int64, method model.PaymentMethod) (*model.WithdrawalRequest, error) {
	var req *model.WithdrawalRequest

	err := r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var available int64
		err = tx.QueryRow(ctx,
			`SELECT available_cents FROM wallets WHERE holder_id = $1 AND holder_type = $2 FOR UPDATE`,
			holder.ID, string(holder.Type),
		).Scan(&available)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrWalletNotFound
			}
			return fmt.Errorf("lock wallet: %w", err)
		}

		if amountCents > available {
			return ErrInsufficientBalance
		}

		row := tx.QueryRow(ctx,
			`INSERT INTO withdrawal_requests (id, holder_id, holder_type, amount_cents, status, payment_method)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 RETURNING `+withdrawalColumns,
			uuid.NewString(), holder.ID, string(holder.Type), amountCents,
			string(model.WithdrawalStatusPending), string(method),
		)

		req, err = scanWithdrawal(row)
		if err != nil {
			return fmt.Errorf("insert withdrawal: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return req, nil
}

// GetWithdrawalsByHolder returns the holder's withdrawal history, newest
// first.
func (r *PostgresRepository) GetWithdrawalsByHolder(ctx context.Context, holder model.Holder) ([]model.WithdrawalRequest, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+withdrawalColumns+`
		 FROM withdrawal_requests
		 WHERE holder_id = $1 AND holder_type = $2
		 ORDER BY requested_at DESC, id DESC`,
		holder.ID, string(holder.Type),
	)
	if err != nil {
		return nil, fmt.Errorf("select withdrawals: %w", err)
	}
	defer rows.Close()

	return collectWithdrawals(rows)
}

// ListPendingWithdrawals returns pending requests oldest first, optionally
// filtered by holder type.
func (r *PostgresRepository) ListPendingWithdrawals(ctx context.Context, holderType *model.HolderType) ([]model.WithdrawalRequest, error) {
	query := `SELECT ` + withdrawalColumns + `
		 FROM withdrawal_requests
		 WHERE status = $1`
	args := []any{string(model.WithdrawalStatusPending)}

	if holderType != nil {
		query += ` AND holder_type = $2`
		args = append(args, string(*holderType))
	}

	query += ` ORDER BY requested_at ASC, id ASC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select pending withdrawals: %w", err)
	}
	defer rows.Close()

	return collectWithdrawals(rows)
}

func collectWithdrawals(rows pgx.Rows) ([]model.WithdrawalRequest, error) {
	var res []model.WithdrawalRequest
	for rows.Next() {
		req, err := scanWithdrawal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan withdrawal: %w", err)
		}
		res = append(res, *req)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// ApproveWithdrawal moves a pending request to approved and debits the
// holder's available balance in the same transaction. The request row is
// locked first, so of two concurrent approve/reject calls exactly one
// observes the pending state.
func (r *PostgresRepository) ApproveWithdrawal(ctx context.Context, id, transactionID, adminNotes string) (*model.WithdrawalRequest, error) {
	var req *model.WithdrawalRequest

	err := r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var (
			holderID    string
			holderType  string
			amountCents int64
			status      string
		)
		err = tx.QueryRow(ctx,
			`SELECT holder_id, holder_type, amount_cents, status
			 FROM withdrawal_requests
			 WHERE id = $1
			 FOR UPDATE`,
			id,
		).Scan(&holderID, &holderType, &amountCents, &status)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrWithdrawalNotFound
			}
			return fmt.Errorf("lock withdrawal: %w", err)
		}

		if status != string(model.WithdrawalStatusPending) {
			return ErrAlreadyProcessed
		}

		cmdTag, err := tx.Exec(ctx,
			`UPDATE wallets
			 SET available_cents = available_cents - $3, updated_at = now()
			 WHERE holder_id = $1 AND holder_type = $2 AND available_cents >= $3`,
			holderID, holderType, amountCents,
		)
		if err != nil {
			return fmt.Errorf("debit wallet: %w", err)
		}

		if cmdTag.RowsAffected() == 0 {
			var exists bool
			err = tx.QueryRow(ctx,
				`SELECT EXISTS(SELECT 1 FROM wallets WHERE holder_id = $1 AND holder_type = $2)`,
				holderID, holderType,
			).Scan(&exists)
			if err != nil {
				return fmt.Errorf("check wallet: %w", err)
			}
			if !exists {
				return ErrWalletNotFound
			}
			return ErrInsufficientBalance
		}

		row := tx.QueryRow(ctx,
			`UPDATE withdrawal_requests
			 SET status = $2, processed_at = now(), transaction_id = $3, admin_notes = $4
			 WHERE id = $1
			 RETURNING `+withdrawalColumns,
			id, string(model.WithdrawalStatusApproved), transactionID, adminNotes,
		)

		req, err = scanWithdrawal(row)
		if err != nil {
			return fmt.Errorf("update withdrawal: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return req, nil
}

// RejectWithdrawal moves a pending request to rejected. The ledger is not
// touched.
func (r *PostgresRepository) RejectWithdrawal(ctx context.Context, id, reason string) (*model.WithdrawalRequest, error) {
	var req *model.WithdrawalRequest

	err := r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var status string
		err = tx.QueryRow(ctx,
			`SELECT status FROM withdrawal_requests WHERE id = $1 FOR UPDATE`,
			id,
		).Scan(&status)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrWithdrawalNotFound
			}
			return fmt.Errorf("lock withdrawal: %w", err)
		}

		if status != string(model.WithdrawalStatusPending) {
			return ErrAlreadyProcessed
		}

		row := tx.QueryRow(ctx,
			`UPDATE withdrawal_requests
			 SET status = $2, processed_at = now(), rejection_reason = $3
			 WHERE id = $1
			 RETURNING `+withdrawalColumns,
			id, string(model.WithdrawalStatusRejected), reason,
		)

		req, err = scanWithdrawal(row)
		if err != nil {
			return fmt.Errorf("update withdrawal: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return req, nil
}

// WithdrawalReport returns requests matching the filter. Default order is
// requestedAt descending with id as tiebreak.
func (r *PostgresRepository) WithdrawalReport(ctx context.Context, f WithdrawalFilter) ([]model.WithdrawalRequest, error) {
	query := `SELECT ` + withdrawalColumns + ` FROM withdrawal_requests WHERE 1=1`
	args := []any{}

	if f.Status != nil {
		args = append(args, string(*f.Status))
		query += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	if f.From != nil {
		args = append(args, *f.From)
		query += fmt.Sprintf(` AND requested_at >= $%d`, len(args))
	}
	if f.To != nil {
		args = append(args, *f.To)
		query += fmt.Sprintf(` AND requested_at < $%d`, len(args))
	}

	if f.SortAsc {
		query += ` ORDER BY requested_at ASC, id ASC`
	} else {
		query += ` ORDER BY requested_at DESC, id DESC`
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select report: %w", err)
	}
	defer rows.Close()

	return collectWithdrawals(rows)
}

// WithdrawalStats recomputes aggregate counters from the current request
// set; nothing derived is persisted. "Today" is the server's calendar day.
func (r *PostgresRepository) WithdrawalStats(ctx context.Context) (model.WithdrawalStats, error) {
	var stats model.WithdrawalStats

	err := r.pool.QueryRow(ctx,
		`SELECT
			COUNT(*) FILTER (WHERE status = $1),
			COALESCE(SUM(amount_cents) FILTER (WHERE status = $2), 0),
			COUNT(*) FILTER (WHERE processed_at >= date_trunc('day', now())
				AND processed_at < date_trunc('day', now()) + interval '1 day')
		 FROM withdrawal_requests`,
		string(model.WithdrawalStatusPending),
		string(model.WithdrawalStatusApproved),
	).Scan(&stats.PendingCount, &stats.TotalWithdrawnCents, &stats.ProcessedToday)
	if err != nil {
		return model.WithdrawalStats{}, fmt.Errorf("withdrawal stats: %w", err)
	}

	return stats, nil
}

// CreateCashCollection records the cash owed for a delivered COD order.
func (r *PostgresRepository) CreateCashCollection(ctx context.Context, orderID, customerName, deliveryBoyID string, amountCents int64, orderDate time.Time) (*model.CashCollection, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO cash_collections (id, order_id, customer_name, delivery_boy_id, amount_cents, status, order_date)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, order_id, customer_name, delivery_boy_id, amount_cents, status, order_date, collection_date`,
		uuid.NewString(), orderID, customerName, deliveryBoyID, amountCents,
		string(model.CollectionStatusPending), orderDate,
	)

	rec, err := scanCollection(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateOrder, orderID)
		}
		return nil, fmt.Errorf("insert collection: %w", err)
	}

	return rec, nil
}

func scanCollection(row pgx.Row) (*model.CashCollection, error) {
	var (
		rec    model.CashCollection
		status string
	)

	err := row.Scan(&rec.ID, &rec.OrderID, &rec.CustomerName, &rec.DeliveryBoyID,
		&rec.AmountCents, &status, &rec.OrderDate, &rec.CollectionDate)
	if err != nil {
		return nil, err
	}

	rec.Status = model.CollectionStatus(status)
	return &rec, nil
}

// ListCashCollections returns a page of records matching the filter along
// with the total match count. Search is a case-insensitive substring match
// on the order id or customer name.
func (r *PostgresRepository) ListCashCollections(ctx context.Context, f CollectionFilter) ([]model.CashCollection, int64, error) {
	where := ` WHERE 1=1`
	args := []any{}

	if f.Status != nil {
		args = append(args, string(*f.Status))
		where += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		where += fmt.Sprintf(` AND (order_id ILIKE $%d OR customer_name ILIKE $%d)`, len(args), len(args))
	}

	var total int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM cash_collections`+where, args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count collections: %w", err)
	}

	args = append(args, f.Limit, (f.Page-1)*f.Limit)
	query := `SELECT id, order_id, customer_name, delivery_boy_id, amount_cents, status, order_date, collection_date
		 FROM cash_collections` + where +
		fmt.Sprintf(` ORDER BY order_date DESC, id DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("select collections: %w", err)
	}
	defer rows.Close()

	var res []model.CashCollection
	for rows.Next() {
		rec, err := scanCollection(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan collection: %w", err)
		}
		res = append(res, *rec)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows error: %w", err)
	}

	return res, total, nil
}

// CollectionTotals recomputes collected and pending sums over all records.
func (r *PostgresRepository) CollectionTotals(ctx context.Context) (model.CollectionTotals, error) {
	var totals model.CollectionTotals

	err := r.pool.QueryRow(ctx,
		`SELECT
			COALESCE(SUM(amount_cents) FILTER (WHERE status = $1), 0),
			COALESCE(SUM(amount_cents) FILTER (WHERE status = $2), 0)
		 FROM cash_collections`,
		string(model.CollectionStatusCollected),
		string(model.CollectionStatusPending),
	).Scan(&totals.CollectedCents, &totals.PendingCents)
	if err != nil {
		return model.CollectionTotals{}, fmt.Errorf("collection totals: %w", err)
	}

	return totals, nil
}

// MarkCollected transitions a pending record to collected. The status check
// and the mutation are one conditional update, so a repeated call fails
// instead of overwriting the collection date.
func (r *PostgresRepository) MarkCollected(ctx context.Context, id string) (*model.CashCollection, error) {
	var rec *model.CashCollection

	err := r.withRetry(ctx, func(ctx context.Context) error {
		row := r.pool.QueryRow(ctx,
			`UPDATE cash_collections
			 SET status = $2, collection_date = now()
			 WHERE id = $1 AND status = $3
			 RETURNING id, order_id, customer_name, delivery_boy_id, amount_cents, status, order_date, collection_date`,
			id, string(model.CollectionStatusCollected), string(model.CollectionStatusPending),
		)

		var err error
		rec, err = scanCollection(row)
		if err == nil {
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("update collection: %w", err)
		}

		var status string
		err = r.pool.QueryRow(ctx, `SELECT status FROM cash_collections WHERE id = $1`, id).Scan(&status)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrCollectionNotFound
			}
			return fmt.Errorf("check collection: %w", err)
		}

		return ErrAlreadyCollected
	})
	if err != nil {
		return nil, err
	}

	return rec, nil
}

// GetWallet returns the holder's ledger balances.
func (r *PostgresRepository) GetWallet(ctx context.Context, holder model.Holder) (*model.Wallet, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT holder_id, holder_type, available_cents, pending_cents, COALESCE(fcm_token, ''), updated_at
		 FROM wallets
		 WHERE holder_id = $1 AND holder_type = $2`,
		holder.ID, string(holder.Type),
	)

	var (
		w          model.Wallet
		holderType string
	)
	err := row.Scan(&w.Holder.ID, &holderType, &w.AvailableCents, &w.PendingCents, &w.FCMToken, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWalletNotFound
		}
		return nil, fmt.Errorf("get wallet: %w", err)
	}

	w.Holder.Type = model.HolderType(holderType)
	return &w, nil
}

// CreditPendingFunds adds a settlement credit to the holder's pending
// balance, creating the wallet on first credit.
func (r *PostgresRepository) CreditPendingFunds(ctx context.Context, holder model.Holder, amountCents int64) error {
	return r.withRetry(ctx, func(ctx context.Context) error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO wallets (holder_id, holder_type, pending_cents)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (holder_id, holder_type)
			 DO UPDATE SET pending_cents = wallets.pending_cents + EXCLUDED.pending_cents, updated_at = now()`,
			holder.ID, string(holder.Type), amountCents,
		)
		if err != nil {
			return fmt.Errorf("credit wallet: %w", err)
		}
		return nil
	})
}

// ReleasePendingFunds moves every wallet's pending balance into the
// available balance and reports how many wallets changed. A single
// statement keeps the sweep atomic with respect to concurrent approvals.
func (r *PostgresRepository) ReleasePendingFunds(ctx context.Context) (int64, error) {
	var released int64

	err := r.withRetry(ctx, func(ctx context.Context) error {
		cmdTag, err := r.pool.Exec(ctx,
			`UPDATE wallets
			 SET available_cents = available_cents + pending_cents, pending_cents = 0, updated_at = now()
			 WHERE pending_cents > 0`,
		)
		if err != nil {
			return fmt.Errorf("release pending funds: %w", err)
		}
		released = cmdTag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, err
	}

	return released, nil
}

// SetFCMToken stores the holder's push token, creating an empty wallet if
// the holder has not been credited yet.
func (r *PostgresRepository) SetFCMToken(ctx context.Context, holder model.Holder, token string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO wallets (holder_id, holder_type, fcm_token)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (holder_id, holder_type)
		 DO UPDATE SET fcm_token = EXCLUDED.fcm_token, updated_at = now()`,
		holder.ID, string(holder.Type), token,
	)
	if err != nil {
		return fmt.Errorf("set fcm token: %w", err)
	}
	return nil
}
