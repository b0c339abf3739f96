package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reshala/support-desk/internal/domain"
)

// TicketAuditRepository stores audit entries.
type TicketAuditRepository interface {
	Create(ctx context.Context, entry *domain.TicketAuditEntry) error
	ListByTicket(ctx context.Context, ticketID domain.TicketID) ([]domain.TicketAuditEntry, error)
}

type ticketAuditRepository struct {
	pool *pgxpool.Pool
}

// NewTicketAuditRepository builds repository.
func NewTicketAuditRepository(pool *pgxpool.Pool) TicketAuditRepository {
	return &ticketAuditRepository{pool: pool}
}

func (r *ticketAuditRepository) Create(ctx context.Context, entry *domain.TicketAuditEntry) error {
	const query = `
        INSERT INTO ticket_audit (ticket_id, client_id, event_type, actor_source, actor_name, payload)
        VALUES ($1,$2,$3,$4,$5,$6)
        RETURNING id, created_at`
	return r.pool.QueryRow(ctx, query,
		string(entry.TicketID),
		int64(entry.ClientID),
		entry.EventType,
		entry.ActorSource,
		entry.ActorName,
		entry.Payload,
	).Scan(&entry.ID, &entry.CreatedAt)
}

func (r *ticketAuditRepository) ListByTicket(ctx context.Context, ticketID domain.TicketID) ([]domain.TicketAuditEntry, error) {
	const query = `
        SELECT id, ticket_id, client_id, event_type, actor_source, actor_name, payload, created_at
        FROM ticket_audit WHERE ticket_id=$1 ORDER BY id ASC`
	rows, err := r.pool.Query(ctx, query, string(ticketID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.TicketAuditEntry
	for rows.Next() {
		var (
			entry    domain.TicketAuditEntry
			ticketID string
			clientID int64
		)
		if err := rows.Scan(
			&entry.ID,
			&ticketID,
			&clientID,
			&entry.EventType,
			&entry.ActorSource,
			&entry.ActorName,
			&entry.Payload,
			&entry.CreatedAt,
		); err != nil {
			return nil, err
		}
		entry.TicketID = domain.TicketID(ticketID)
		entry.ClientID = domain.ClientID(clientID)
		result = append(result, entry)
	}
	return result, rows.Err()
}
