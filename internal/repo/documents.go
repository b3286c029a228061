package repo

import (
	"context"
	"database/sql"
	"errors"

	"permitflow/internal/domain"
)

const documentColumns = `id,permit_id,file_name,category,version_tag,parent_document_id,version_group_id,is_required,is_verified,status,notes,storage_path,size_bytes,uploaded_by,created_at,updated_at`

func scanDocument(row rowScanner) (domain.Document, error) {
	var d domain.Document
	var parent, group, notes sql.NullString
	var required, verified int
	err := row.Scan(&d.ID, &d.PermitID, &d.FileName, &d.Category, &d.VersionTag, &parent, &group,
		&required, &verified, &d.Status, &notes, &d.StoragePath, &d.SizeBytes, &d.UploadedBy, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return d, ErrNotFound
	}
	if err != nil {
		return d, err
	}
	d.ParentDocumentID = stringPtr(parent)
	d.VersionGroupID = stringPtr(group)
	d.IsRequired = required != 0
	d.IsVerified = verified != 0
	d.Notes = notes.String
	return d, nil
}

func scanDocuments(rows *sql.Rows) ([]domain.Document, error) {
	defer rows.Close()
	var res []domain.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// NextVersion allocates the next version number for a
// (permit, file name, category) bucket. Numbers are never handed out twice,
// even after the documents carrying them are deleted.
func (r Repo) NextVersion(ctx context.Context, tx *sql.Tx, permitID, fileName string, category domain.DocumentCategory) (int, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `INSERT INTO document_version_counters(permit_id,file_name,category,last_version) VALUES (?,?,?,1)
ON CONFLICT(permit_id,file_name,category) DO UPDATE SET last_version=last_version+1
RETURNING last_version`, permitID, fileName, category).Scan(&n)
	return n, err
}

// SyncVersionCounter raises a bucket's counter to the highest version tag
// already recorded for it, so the next allocation skips tags that were
// written without going through the counter.
func (r Repo) SyncVersionCounter(ctx context.Context, tx *sql.Tx, permitID, fileName string, category domain.DocumentCategory) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO document_version_counters(permit_id,file_name,category,last_version)
SELECT ?,?,?,COALESCE(MAX(CAST(substr(version_tag,2) AS INTEGER)),0) FROM documents
WHERE permit_id=? AND file_name=? AND category=?
ON CONFLICT(permit_id,file_name,category) DO UPDATE SET last_version=MAX(last_version, excluded.last_version)`,
		permitID, fileName, category, permitID, fileName, category)
	return err
}

func (r Repo) InsertDocument(ctx context.Context, tx *sql.Tx, d domain.Document) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO documents(`+documentColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		d.ID, d.PermitID, d.FileName, d.Category, d.VersionTag, nullableStringPtr(d.ParentDocumentID), nullableStringPtr(d.VersionGroupID),
		boolInt(d.IsRequired), boolInt(d.IsVerified), d.Status, nullable(d.Notes), d.StoragePath, d.SizeBytes, d.UploadedBy,
		d.CreatedAt, d.UpdatedAt)
	if IsUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (r Repo) GetDocument(ctx context.Context, id string) (domain.Document, error) {
	return r.GetDocumentTx(ctx, nil, id)
}

func (r Repo) GetDocumentTx(ctx context.Context, tx *sql.Tx, id string) (domain.Document, error) {
	return scanDocument(r.q(tx).QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id=?`, id))
}

// UpdateDocumentReview persists verification flag, status and notes.
func (r Repo) UpdateDocumentReview(ctx context.Context, tx *sql.Tx, d domain.Document) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE documents SET is_verified=?, status=?, notes=?, updated_at=? WHERE id=?`,
		boolInt(d.IsVerified), d.Status, nullable(d.Notes), d.UpdatedAt, d.ID)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

func (r Repo) DeleteDocument(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM documents WHERE id=?`, id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

func (r Repo) ListDocuments(ctx context.Context, permitID string) ([]domain.Document, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE permit_id=? ORDER BY created_at, rowid`, permitID)
	if err != nil {
		return nil, err
	}
	return scanDocuments(rows)
}

// VersionGroup returns the root document groupID and every document that
// names it as its group, oldest first.
func (r Repo) VersionGroup(ctx context.Context, groupID string) ([]domain.Document, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id=? OR version_group_id=? ORDER BY created_at, rowid`, groupID, groupID)
	if err != nil {
		return nil, err
	}
	return scanDocuments(rows)
}

// StoragePaths lists the storage handles of every document on a permit.
func (r Repo) StoragePaths(ctx context.Context, tx *sql.Tx, permitID string) ([]string, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT storage_path FROM documents WHERE permit_id=?`, permitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}
