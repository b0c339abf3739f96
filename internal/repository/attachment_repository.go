package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reshala/support-desk/internal/domain"
)

// AttachmentRepository persists proof attachments of a ticket.
type AttachmentRepository interface {
	// Append stores the attachment and returns the ticket's attachment count including it.
	Append(ctx context.Context, ticketID domain.TicketID, attachment *domain.Attachment) (int, error)
	ListByTicket(ctx context.Context, ticketID domain.TicketID) ([]domain.Attachment, error)
}

type attachmentRepository struct {
	pool *pgxpool.Pool
}

// NewAttachmentRepository constructs repository.
func NewAttachmentRepository(pool *pgxpool.Pool) AttachmentRepository {
	return &attachmentRepository{pool: pool}
}

func (r *attachmentRepository) Append(ctx context.Context, ticketID domain.TicketID, attachment *domain.Attachment) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Row lock serialises concurrent appends so the returned count is exact.
	var locked string
	err = tx.QueryRow(ctx, `SELECT id::text FROM tickets WHERE id=$1 FOR UPDATE`, string(ticketID)).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}

	err = tx.QueryRow(ctx, `
        INSERT INTO ticket_attachments (ticket_id, type, value)
        VALUES ($1,$2,$3)
        RETURNING added_at`,
		string(ticketID), string(attachment.Type), attachment.Value,
	).Scan(&attachment.AddedAt)
	if err != nil {
		return 0, err
	}

	var count int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM ticket_attachments WHERE ticket_id=$1`, string(ticketID)).Scan(&count); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *attachmentRepository) ListByTicket(ctx context.Context, ticketID domain.TicketID) ([]domain.Attachment, error) {
	const query = `
        SELECT type, value, added_at
        FROM ticket_attachments WHERE ticket_id=$1 ORDER BY id ASC`
	rows, err := r.pool.Query(ctx, query, string(ticketID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Attachment
	for rows.Next() {
		var (
			attachment domain.Attachment
			kind       string
		)
		if err := rows.Scan(&kind, &attachment.Value, &attachment.AddedAt); err != nil {
			return nil, err
		}
		attachment.Type = domain.AttachmentType(kind)
		result = append(result, attachment)
	}
	return result, rows.Err()
}
