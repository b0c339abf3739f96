package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reshala/support-desk/internal/domain"
)

// TicketOrder selects the sort order of a listing.
type TicketOrder int

const (
	// OrderCreatedDesc sorts newest first.
	OrderCreatedDesc TicketOrder = iota
	// OrderEscalatedDesc sorts by escalation time, newest first.
	OrderEscalatedDesc
	// OrderTriage puts suspicious first, then escalated, then open; newest first within a status.
	OrderTriage
)

// TicketFilter captures listing parameters.
type TicketFilter struct {
	Statuses       []domain.TicketStatus
	ClientID       *domain.ClientID
	IncludeRemoved bool
	Order          TicketOrder
	Limit          int
	Offset         int
}

// StatusUpdate describes a compare-and-set transition. The update applies only
// when the ticket is not removed and its current status is one of From.
type StatusUpdate struct {
	From           []domain.TicketStatus
	To             domain.TicketStatus
	Reason         *string
	DisableAI      bool
	StampEscalated bool
	StampClosed    bool
}

// TicketRepository encapsulates ticket persistence.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	GetByID(ctx context.Context, id domain.TicketID) (*domain.Ticket, error)
	FindActiveByClient(ctx context.Context, clientID domain.ClientID) (*domain.Ticket, error)
	FindByTopic(ctx context.Context, threadID domain.ThreadID) (*domain.Ticket, error)
	List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error)
	SetTopic(ctx context.Context, id domain.TicketID, threadID domain.ThreadID) error
	UpdateStatus(ctx context.Context, id domain.TicketID, update StatusUpdate) (*domain.Ticket, error)
	SetAIDisabled(ctx context.Context, id domain.TicketID, disabled bool) error
	MarkRemoved(ctx context.Context, id domain.TicketID) (*domain.Ticket, bool, error)
	// DeleteWithTombstone removes a ticket still in one of the from statuses and leaves a tombstone.
	DeleteWithTombstone(ctx context.Context, id domain.TicketID, from []domain.TicketStatus, closedBy string) (*domain.Tombstone, error)
	GetTombstone(ctx context.Context, id domain.TicketID) (*domain.Tombstone, error)
}

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

const ticketColumns = `id::text, client_id, client_name, client_username, topic_id, status, reason,
               ai_disabled, is_removed, created_at, updated_at, escalated_at, closed_at, removed_at`

const uniqueViolation = "23505"

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        INSERT INTO tickets (id, client_id, client_name, client_username, topic_id, status, reason, ai_disabled)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        RETURNING created_at, updated_at`
	err := r.pool.QueryRow(ctx, query,
		string(ticket.ID),
		int64(ticket.ClientID),
		ticket.ClientName,
		ticket.ClientUsername,
		threadParam(ticket.TopicID),
		string(ticket.Status),
		ticket.Reason,
		ticket.AIDisabled,
	).Scan(&ticket.CreatedAt, &ticket.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrActiveTicketExists
		}
		return err
	}
	return nil
}

func (r *ticketRepository) GetByID(ctx context.Context, id domain.TicketID) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1`
	return r.fetchSingle(ctx, query, string(id))
}

func (r *ticketRepository) FindActiveByClient(ctx context.Context, clientID domain.ClientID) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets
        WHERE client_id=$1 AND status <> 'closed' AND NOT is_removed
        ORDER BY created_at DESC LIMIT 1`
	return r.fetchSingle(ctx, query, int64(clientID))
}

func (r *ticketRepository) FindByTopic(ctx context.Context, threadID domain.ThreadID) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets
        WHERE topic_id=$1 AND NOT is_removed
        ORDER BY (status <> 'closed') DESC, created_at DESC LIMIT 1`
	return r.fetchSingle(ctx, query, int(threadID))
}

func (r *ticketRepository) fetchSingle(ctx context.Context, query string, arg any) (*domain.Ticket, error) {
	ticket, err := scanTicket(r.pool.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return ticket, err
}

func (r *ticketRepository) List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	base := `SELECT ` + ticketColumns + ` FROM tickets`
	clauses := []string{"1=1"}
	args := []any{}

	if !filter.IncludeRemoved {
		clauses = append(clauses, "NOT is_removed")
	}
	if filter.ClientID != nil {
		args = append(args, int64(*filter.ClientID))
		clauses = append(clauses, fmt.Sprintf("client_id=$%d", len(args)))
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			args = append(args, string(status))
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(`%s WHERE %s ORDER BY %s LIMIT %d OFFSET %d`,
		base, strings.Join(clauses, " AND "), orderClause(filter.Order), limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

func orderClause(order TicketOrder) string {
	switch order {
	case OrderEscalatedDesc:
		return "escalated_at DESC NULLS LAST, created_at DESC"
	case OrderTriage:
		return "CASE status WHEN 'suspicious' THEN 0 WHEN 'escalated' THEN 1 WHEN 'open' THEN 2 ELSE 3 END, created_at DESC"
	default:
		return "created_at DESC"
	}
}

func (r *ticketRepository) SetTopic(ctx context.Context, id domain.TicketID, threadID domain.ThreadID) error {
	cmd, err := r.pool.Exec(ctx, `UPDATE tickets SET topic_id=$2, updated_at=NOW() WHERE id=$1`, string(id), int(threadID))
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ticketRepository) UpdateStatus(ctx context.Context, id domain.TicketID, update StatusUpdate) (*domain.Ticket, error) {
	query := `
        UPDATE tickets SET
            status = $2,
            reason = COALESCE($3, reason),
            ai_disabled = ai_disabled OR $4,
            escalated_at = CASE WHEN $5 THEN COALESCE(escalated_at, NOW()) ELSE escalated_at END,
            closed_at = CASE WHEN $6 THEN COALESCE(closed_at, NOW()) ELSE closed_at END,
            updated_at = NOW()
        WHERE id = $1 AND NOT is_removed AND status = ANY($7)
        RETURNING ` + ticketColumns

	from := make([]string, len(update.From))
	for i, s := range update.From {
		from[i] = string(s)
	}

	ticket, err := scanTicket(r.pool.QueryRow(ctx, query,
		string(id),
		string(update.To),
		update.Reason,
		update.DisableAI,
		update.StampEscalated,
		update.StampClosed,
		from,
	))
	if err == nil {
		return ticket, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	current, getErr := r.GetByID(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	return current, ErrStatusMismatch
}

func (r *ticketRepository) SetAIDisabled(ctx context.Context, id domain.TicketID, disabled bool) error {
	cmd, err := r.pool.Exec(ctx, `UPDATE tickets SET ai_disabled=$2, updated_at=NOW() WHERE id=$1`, string(id), disabled)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ticketRepository) MarkRemoved(ctx context.Context, id domain.TicketID) (*domain.Ticket, bool, error) {
	query := `
        UPDATE tickets SET is_removed=TRUE, removed_at=COALESCE(removed_at, NOW()), updated_at=NOW()
        WHERE id=$1 AND NOT is_removed
        RETURNING ` + ticketColumns
	ticket, err := scanTicket(r.pool.QueryRow(ctx, query, string(id)))
	if err == nil {
		return ticket, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, err
	}
	current, getErr := r.GetByID(ctx, id)
	if getErr != nil {
		return nil, false, getErr
	}
	return current, false, nil
}

func (r *ticketRepository) DeleteWithTombstone(ctx context.Context, id domain.TicketID, from []domain.TicketStatus, closedBy string) (*domain.Tombstone, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var (
		clientID int64
		topicID  *int32
	)
	statuses := make([]string, len(from))
	for i, s := range from {
		statuses[i] = string(s)
	}
	err = tx.QueryRow(ctx, `
        DELETE FROM tickets WHERE id=$1 AND status = ANY($2) AND NOT is_removed
        RETURNING client_id, topic_id`, string(id), statuses,
	).Scan(&clientID, &topicID)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrStatusMismatch
	}
	if err != nil {
		return nil, err
	}

	tomb := &domain.Tombstone{
		TicketID: id,
		ClientID: domain.ClientID(clientID),
		TopicID:  threadFromDB(topicID),
		ClosedBy: closedBy,
	}
	err = tx.QueryRow(ctx, `
        INSERT INTO ticket_tombstones (ticket_id, client_id, topic_id, closed_by)
        VALUES ($1,$2,$3,$4)
        ON CONFLICT (ticket_id) DO UPDATE SET closed_by = ticket_tombstones.closed_by
        RETURNING closed_at`,
		string(id), clientID, topicID, closedBy,
	).Scan(&tomb.ClosedAt)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return tomb, nil
}

func (r *ticketRepository) GetTombstone(ctx context.Context, id domain.TicketID) (*domain.Tombstone, error) {
	var (
		tomb     domain.Tombstone
		ticketID string
		clientID int64
		topicID  *int32
	)
	err := r.pool.QueryRow(ctx, `
        SELECT ticket_id::text, client_id, topic_id, closed_by, closed_at
        FROM ticket_tombstones WHERE ticket_id=$1`, string(id),
	).Scan(&ticketID, &clientID, &topicID, &tomb.ClosedBy, &tomb.ClosedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	tomb.TicketID = domain.TicketID(ticketID)
	tomb.ClientID = domain.ClientID(clientID)
	tomb.TopicID = threadFromDB(topicID)
	return &tomb, nil
}

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var (
		ticket   domain.Ticket
		id       string
		clientID int64
		topicID  *int32
		status   string
	)
	if err := row.Scan(
		&id,
		&clientID,
		&ticket.ClientName,
		&ticket.ClientUsername,
		&topicID,
		&status,
		&ticket.Reason,
		&ticket.AIDisabled,
		&ticket.IsRemoved,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
		&ticket.EscalatedAt,
		&ticket.ClosedAt,
		&ticket.RemovedAt,
	); err != nil {
		return nil, err
	}
	ticket.ID = domain.TicketID(id)
	ticket.ClientID = domain.ClientID(clientID)
	ticket.TopicID = threadFromDB(topicID)
	ticket.Status = domain.TicketStatus(status)
	return &ticket, nil
}

func scanTickets(rows pgx.Rows) ([]domain.Ticket, error) {
	var result []domain.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ticket)
	}
	return result, rows.Err()
}

func threadParam(id *domain.ThreadID) *int32 {
	if id == nil {
		return nil
	}
	v := int32(*id)
	return &v
}

func threadFromDB(v *int32) *domain.ThreadID {
	if v == nil {
		return nil
	}
	id := domain.ThreadID(*v)
	return &id
}

func utcNow() time.Time {
	return time.Now().UTC()
}
