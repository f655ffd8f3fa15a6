package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/field-service/internal/domain"
)

// AssignmentRepository persists ticket/technician bindings.
type AssignmentRepository interface {
	WithTx(tx pgx.Tx) AssignmentRepository
	Create(ctx context.Context, assignment *domain.Assignment) error
	Get(ctx context.Context, ticketID, technicianID string) (*domain.Assignment, error)
	ListByTicket(ctx context.Context, ticketID string) ([]domain.Assignment, error)
	ListByTechnician(ctx context.Context, technicianID string, limit, offset int) ([]domain.Assignment, error)
	CountByTicket(ctx context.Context, ticketID string) (int, error)
	SetAccepted(ctx context.Context, ticketID, technicianID string) error
	Delete(ctx context.Context, ticketID, technicianID string) error
	DeleteByTicket(ctx context.Context, ticketID string) error
	// ClaimInstall is the self-assignment claim: lock the ticket row, flip
	// it to ASSIGNED and insert the PRIMARY assignment, but only if the
	// ticket is still an approved, unassigned INSTALL under the lock.
	// Returns ErrNotClaimed when the guard no longer holds. Must run
	// tx-bound; the row lock is what serializes racing claims.
	ClaimInstall(ctx context.Context, ticketID, technicianID string) error
}

type assignmentRepository struct {
	db DBTX
}

// NewAssignmentRepository instantiates the repository.
func NewAssignmentRepository(db DBTX) AssignmentRepository {
	return &assignmentRepository{db: db}
}

func (r *assignmentRepository) WithTx(tx pgx.Tx) AssignmentRepository {
	return &assignmentRepository{db: tx}
}

func (r *assignmentRepository) Create(ctx context.Context, assignment *domain.Assignment) error {
	const query = `
        INSERT INTO assignments (ticket_id, technician_id, role, assigned_by)
        VALUES ($1,$2,$3,$4)
        RETURNING assigned_at`
	return r.db.QueryRow(ctx, query,
		assignment.TicketID,
		assignment.TechnicianID,
		assignment.Role,
		assignment.AssignedBy,
	).Scan(&assignment.AssignedAt)
}

func (r *assignmentRepository) Get(ctx context.Context, ticketID, technicianID string) (*domain.Assignment, error) {
	const query = `
        SELECT ticket_id, technician_id, role, assigned_by, accepted_at, assigned_at
        FROM assignments WHERE ticket_id=$1 AND technician_id=$2`
	var assignment domain.Assignment
	if err := r.db.QueryRow(ctx, query, ticketID, technicianID).Scan(
		&assignment.TicketID,
		&assignment.TechnicianID,
		&assignment.Role,
		&assignment.AssignedBy,
		&assignment.AcceptedAt,
		&assignment.AssignedAt,
	); err != nil {
		return nil, err
	}
	return &assignment, nil
}

func (r *assignmentRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.Assignment, error) {
	const query = `
        SELECT ticket_id, technician_id, role, assigned_by, accepted_at, assigned_at
        FROM assignments WHERE ticket_id=$1 ORDER BY assigned_at ASC`
	rows, err := r.db.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAssignments(rows)
}

func (r *assignmentRepository) ListByTechnician(ctx context.Context, technicianID string, limit, offset int) ([]domain.Assignment, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	const query = `
        SELECT ticket_id, technician_id, role, assigned_by, accepted_at, assigned_at
        FROM assignments WHERE technician_id=$1 ORDER BY assigned_at DESC LIMIT $2 OFFSET $3`
	rows, err := r.db.Query(ctx, query, technicianID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAssignments(rows)
}

func (r *assignmentRepository) CountByTicket(ctx context.Context, ticketID string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM assignments WHERE ticket_id=$1`, ticketID).Scan(&count)
	return count, err
}

func (r *assignmentRepository) SetAccepted(ctx context.Context, ticketID, technicianID string) error {
	const query = `
        UPDATE assignments SET accepted_at=NOW()
        WHERE ticket_id=$1 AND technician_id=$2 AND accepted_at IS NULL`
	cmd, err := r.db.Exec(ctx, query, ticketID, technicianID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *assignmentRepository) Delete(ctx context.Context, ticketID, technicianID string) error {
	cmd, err := r.db.Exec(ctx, `DELETE FROM assignments WHERE ticket_id=$1 AND technician_id=$2`, ticketID, technicianID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *assignmentRepository) DeleteByTicket(ctx context.Context, ticketID string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM assignments WHERE ticket_id=$1`, ticketID)
	return err
}

func (r *assignmentRepository) ClaimInstall(ctx context.Context, ticketID, technicianID string) error {
	// Lock the ticket row before reading the guard. Concurrent claims
	// serialize here; the loser's later statements run on snapshots taken
	// after the winner committed, so the assignment count below sees the
	// winner's row. A single conditional UPDATE cannot give that guarantee
	// under READ COMMITTED: its NOT EXISTS subquery keeps the pre-block
	// snapshot and would let both claims through.
	const lock = `
        SELECT category, approval, status FROM tickets WHERE id=$1 FOR UPDATE`
	var (
		category domain.TicketCategory
		approval domain.ApprovalState
		status   domain.TicketStatus
	)
	if err := r.db.QueryRow(ctx, lock, ticketID).Scan(&category, &approval, &status); err != nil {
		return err
	}
	if category != domain.TicketCategoryInstall || approval != domain.ApprovalApproved {
		return ErrNotClaimed
	}
	if status != domain.TicketStatusOpen && status != domain.TicketStatusAssigned {
		return ErrNotClaimed
	}

	var count int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM assignments WHERE ticket_id=$1`, ticketID).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return ErrNotClaimed
	}

	const claim = `UPDATE tickets SET status=$2, updated_at=NOW() WHERE id=$1`
	if _, err := r.db.Exec(ctx, claim, ticketID, domain.TicketStatusAssigned); err != nil {
		return err
	}

	const insert = `
        INSERT INTO assignments (ticket_id, technician_id, role)
        VALUES ($1,$2,$3)`
	_, err := r.db.Exec(ctx, insert, ticketID, technicianID, domain.AssignmentRolePrimary)
	return err
}

func scanAssignments(rows pgx.Rows) ([]domain.Assignment, error) {
	var result []domain.Assignment
	for rows.Next() {
		var assignment domain.Assignment
		if err := rows.Scan(
			&assignment.TicketID,
			&assignment.TechnicianID,
			&assignment.Role,
			&assignment.AssignedBy,
			&assignment.AcceptedAt,
			&assignment.AssignedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, assignment)
	}
	return result, rows.Err()
}
