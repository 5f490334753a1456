// Package auction provides the Postgres-backed store for auction and bid
// records, including the conditional writes the ledger and sweeper rely on
// for concurrency correctness.
package auction

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/flashbid/flashbid/internal/models"
	"github.com/flashbid/flashbid/internal/sqlutil"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// CreateAuction inserts a new OPEN auction with current price equal to its
// start price.
func (r *Repository) CreateAuction(ctx context.Context, a models.Auction) (*models.Auction, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO auctions (id, title, description, start_price, current_price, status, ends_at, seller_id)
		VALUES ($1, $2, $3, $4, $4, $5, $6, $7)
		RETURNING id, title, description, start_price, current_price, status, ends_at, seller_id, winner_id, created_at, updated_at`,
		a.ID, a.Title, a.Description, a.StartPrice, models.AuctionStatusOpen, a.EndsAt, a.SellerID,
	)

	created, err := scanAuction(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create auction: %w", err)
	}
	return created, nil
}

// GetAuction fetches a single auction by id.
func (r *Repository) GetAuction(ctx context.Context, id uuid.UUID) (*models.Auction, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, title, description, start_price, current_price, status, ends_at, seller_id, winner_id, created_at, updated_at
		FROM auctions WHERE id = $1`, id,
	)

	a, err := scanAuction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get auction: %w", err)
	}
	return a, nil
}

// ListOpenAuctions returns every OPEN auction ordered by soonest deadline.
func (r *Repository) ListOpenAuctions(ctx context.Context) ([]models.Auction, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, title, description, start_price, current_price, status, ends_at, seller_id, winner_id, created_at, updated_at
		FROM auctions WHERE status = $1 ORDER BY ends_at ASC`, models.AuctionStatusOpen,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list open auctions: %w", err)
	}
	defer rows.Close()

	var auctions []models.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan auction: %w", err)
		}
		auctions = append(auctions, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate auctions: %w", err)
	}
	return auctions, nil
}

// CommitBid inserts the bid and raises the auction's current price as one
// atomic unit. The price update is conditional on the auction still being
// OPEN at the price the caller validated against; if that compare-and-set
// misses, or the serializable transaction loses a conflict, ErrPriceConflict
// is returned and nothing is written.
func (r *Repository) CommitBid(ctx context.Context, bid models.Bid, expectedPrice float64) error {
	err := sqlutil.RunSerializable(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE auctions SET current_price = $1, updated_at = now()
			WHERE id = $2 AND status = $3 AND current_price = $4`,
			bid.Amount, bid.AuctionID, models.AuctionStatusOpen, expectedPrice,
		)
		if err != nil {
			return fmt.Errorf("failed to update current price: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected count: %w", err)
		}
		if affected == 0 {
			return ErrPriceConflict
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO bids (id, auction_id, bidder_id, bidder_name, amount, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			bid.ID, bid.AuctionID, bid.BidderID, bid.BidderName, bid.Amount, bid.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert bid: %w", err)
		}
		return nil
	})

	if sqlutil.IsSerializationFailure(err) {
		return ErrPriceConflict
	}
	return err
}

// CloseAuction transitions an auction OPEN -> CLOSED and records the winner
// derived from its highest bid (earliest bid wins an amount tie). The status
// update runs first: it is conditional on the auction still being OPEN, so of
// two concurrent closers exactly one observes transitioned == true, and the
// row lock it takes holds off any in-flight bid commit until this transaction
// ends (the bid's price CAS then sees CLOSED and fails). Only with the bid set
// frozen that way is the winner read and written, in the same transaction.
func (r *Repository) CloseAuction(ctx context.Context, id uuid.UUID) (winnerID *string, transitioned bool, err error) {
	err = sqlutil.Run(ctx, r.db, func(tx *sql.Tx) error {
		res, execErr := tx.ExecContext(ctx, `
			UPDATE auctions SET status = $1, updated_at = now()
			WHERE id = $2 AND status = $3`,
			models.AuctionStatusClosed, id, models.AuctionStatusOpen,
		)
		if execErr != nil {
			return fmt.Errorf("failed to close auction: %w", execErr)
		}
		affected, raErr := res.RowsAffected()
		if raErr != nil {
			return fmt.Errorf("failed to get rows affected count: %w", raErr)
		}
		if affected == 0 {
			return nil
		}
		transitioned = true

		var winner string
		scanErr := tx.QueryRowContext(ctx, `
			SELECT bidder_id FROM bids
			WHERE auction_id = $1
			ORDER BY amount DESC, created_at ASC
			LIMIT 1`, id,
		).Scan(&winner)
		if errors.Is(scanErr, sql.ErrNoRows) {
			return nil
		}
		if scanErr != nil {
			return fmt.Errorf("failed to find highest bid: %w", scanErr)
		}

		if _, execErr := tx.ExecContext(ctx, `
			UPDATE auctions SET winner_id = $1 WHERE id = $2`,
			winner, id,
		); execErr != nil {
			return fmt.Errorf("failed to record winner: %w", execErr)
		}
		winnerID = &winner
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return winnerID, transitioned, nil
}

// ListExpiredOpen returns the ids of OPEN auctions whose deadline has passed.
func (r *Repository) ListExpiredOpen(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id FROM auctions WHERE status = $1 AND ends_at <= $2`,
		models.AuctionStatusOpen, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired auctions: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan auction id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate auction ids: %w", err)
	}
	return ids, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAuction(row rowScanner) (*models.Auction, error) {
	var a models.Auction
	var winner sql.NullString
	err := row.Scan(
		&a.ID, &a.Title, &a.Description, &a.StartPrice, &a.CurrentPrice,
		&a.Status, &a.EndsAt, &a.SellerID, &winner, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if winner.Valid {
		a.WinnerID = &winner.String
	}
	return &a, nil
}
