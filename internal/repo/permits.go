package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"permitflow/internal/domain"
)

const permitColumns = `id,customer_id,contractor_id,project_name,address,notes,status,internal_stage,billing_status,opened_date,target_issue_date,closed_date,sent_to_billing_at,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPermit(row rowScanner) (domain.Permit, error) {
	var p domain.Permit
	var contractor, address, notes, opened, target, closed, billed sql.NullString
	err := row.Scan(&p.ID, &p.CustomerID, &contractor, &p.ProjectName, &address, &notes,
		&p.Status, &p.InternalStage, &p.BillingStatus, &opened, &target, &closed, &billed, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.ContractorID = contractor.String
	p.Address = address.String
	p.Notes = notes.String
	p.OpenedDate = stringPtr(opened)
	p.TargetIssueDate = stringPtr(target)
	p.ClosedDate = stringPtr(closed)
	p.SentToBillingAt = stringPtr(billed)
	return p, nil
}

func (r Repo) InsertPermit(ctx context.Context, tx *sql.Tx, p domain.Permit) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO permits(`+permitColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.CustomerID, nullable(p.ContractorID), p.ProjectName, nullable(p.Address), nullable(p.Notes),
		p.Status, p.InternalStage, p.BillingStatus, nullableStringPtr(p.OpenedDate), nullableStringPtr(p.TargetIssueDate),
		nullableStringPtr(p.ClosedDate), nullableStringPtr(p.SentToBillingAt), p.CreatedAt, p.UpdatedAt)
	if IsUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (r Repo) GetPermit(ctx context.Context, id string) (domain.Permit, error) {
	return r.GetPermitTx(ctx, nil, id)
}

func (r Repo) GetPermitTx(ctx context.Context, tx *sql.Tx, id string) (domain.Permit, error) {
	return scanPermit(r.q(tx).QueryRowContext(ctx, `SELECT `+permitColumns+` FROM permits WHERE id=?`, id))
}

// UpdatePermit rewrites every mutable column. customer_id and contractor_id
// are fixed at intake and never updated.
func (r Repo) UpdatePermit(ctx context.Context, tx *sql.Tx, p domain.Permit) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE permits SET project_name=?, address=?, notes=?, status=?, internal_stage=?, billing_status=?, opened_date=?, target_issue_date=?, closed_date=?, sent_to_billing_at=?, updated_at=? WHERE id=?`,
		p.ProjectName, nullable(p.Address), nullable(p.Notes), p.Status, p.InternalStage, p.BillingStatus,
		nullableStringPtr(p.OpenedDate), nullableStringPtr(p.TargetIssueDate), nullableStringPtr(p.ClosedDate),
		nullableStringPtr(p.SentToBillingAt), p.UpdatedAt, p.ID)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

func (r Repo) DeletePermit(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM permits WHERE id=?`, id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

type PermitFilters struct {
	Status     domain.PermitStatus
	CustomerID string
	Limit      int
}

func (r Repo) ListPermits(ctx context.Context, f PermitFilters) ([]domain.Permit, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.CustomerID != "" {
		clauses = append(clauses, "customer_id=?")
		args = append(args, f.CustomerID)
	}
	limit := f.Limit
	if limit <= 0 || limit > MaxListLimit {
		limit = MaxListLimit
	}
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, `SELECT `+permitColumns+` FROM permits WHERE `+strings.Join(clauses, " AND ")+` ORDER BY created_at DESC, rowid DESC LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Permit
	for rows.Next() {
		p, err := scanPermit(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}
