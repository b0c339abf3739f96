package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reshala/support-desk/internal/domain"
)

// TicketMessageRepository manages the conversation history of a ticket.
type TicketMessageRepository interface {
	Append(ctx context.Context, ticketID domain.TicketID, entry *domain.HistoryEntry) error
	ListByTicket(ctx context.Context, ticketID domain.TicketID) ([]domain.HistoryEntry, error)
	// ListRecent returns the last limit entries in chronological order.
	ListRecent(ctx context.Context, ticketID domain.TicketID, limit int) ([]domain.HistoryEntry, error)
}

type ticketMessageRepository struct {
	pool *pgxpool.Pool
}

// NewTicketMessageRepository builds repository.
func NewTicketMessageRepository(pool *pgxpool.Pool) TicketMessageRepository {
	return &ticketMessageRepository{pool: pool}
}

func (r *ticketMessageRepository) Append(ctx context.Context, ticketID domain.TicketID, entry *domain.HistoryEntry) error {
	const query = `
        INSERT INTO ticket_messages (ticket_id, role, content, author_name, sent_to_telegram)
        VALUES ($1,$2,$3,$4,$5)
        RETURNING created_at`
	return r.pool.QueryRow(ctx, query,
		string(ticketID),
		string(entry.Role),
		entry.Content,
		entry.AuthorName,
		entry.SentToTelegram,
	).Scan(&entry.CreatedAt)
}

func (r *ticketMessageRepository) ListByTicket(ctx context.Context, ticketID domain.TicketID) ([]domain.HistoryEntry, error) {
	const query = `
        SELECT role, content, author_name, sent_to_telegram, created_at
        FROM ticket_messages WHERE ticket_id=$1 ORDER BY id ASC`
	rows, err := r.pool.Query(ctx, query, string(ticketID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanHistory(rows)
}

func (r *ticketMessageRepository) ListRecent(ctx context.Context, ticketID domain.TicketID, limit int) ([]domain.HistoryEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	const query = `
        SELECT role, content, author_name, sent_to_telegram, created_at FROM (
            SELECT id, role, content, author_name, sent_to_telegram, created_at
            FROM ticket_messages WHERE ticket_id=$1 ORDER BY id DESC LIMIT $2
        ) recent ORDER BY id ASC`
	rows, err := r.pool.Query(ctx, query, string(ticketID), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanHistory(rows)
}

func scanHistory(rows pgx.Rows) ([]domain.HistoryEntry, error) {
	var result []domain.HistoryEntry
	for rows.Next() {
		var (
			entry domain.HistoryEntry
			role  string
		)
		if err := rows.Scan(
			&role,
			&entry.Content,
			&entry.AuthorName,
			&entry.SentToTelegram,
			&entry.CreatedAt,
		); err != nil {
			return nil, err
		}
		entry.Role = domain.HistoryRole(role)
		result = append(result, entry)
	}
	return result, rows.Err()
}
