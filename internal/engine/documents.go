package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"permitflow/internal/activity"
	"permitflow/internal/domain"
	"permitflow/internal/repo"
)

type AddDocumentCommand struct {
	PermitID         string
	FileName         string
	Category         domain.DocumentCategory
	Content          []byte
	IsRequired       bool
	Notes            string
	IsNewVersion     bool
	ParentDocumentID string
	ActorID          string
}

type VerifyDocumentCommand struct {
	DocumentID string
	IsVerified bool
	// Rejected marks an unverified document as Rejected instead of Pending.
	Rejected bool
	// Notes replaces the document notes when set.
	Notes   *string
	ActorID string
}

var errNoStore = errors.New("document storage is not configured")

// AddDocument stores the bytes, then records the document, its version tag
// and a DocumentUploaded entry in one transaction. Storage errors are
// returned unchanged and nothing is recorded. When recording fails the
// stored bytes are removed again.
func (e Engine) AddDocument(ctx context.Context, cmd AddDocumentCommand) (domain.Document, error) {
	if !cmd.Category.IsValid() {
		return domain.Document{}, invalid("category", "unknown document category %q", cmd.Category)
	}
	cmd.FileName = strings.TrimSpace(cmd.FileName)
	if cmd.FileName == "" {
		return domain.Document{}, invalid("file_name", "is required")
	}
	if e.Store == nil {
		return domain.Document{}, errNoStore
	}
	if _, err := e.Repo.GetPermit(ctx, cmd.PermitID); err != nil {
		return domain.Document{}, notFound(err, "permit", cmd.PermitID)
	}
	var parent *domain.Document
	if cmd.ParentDocumentID != "" {
		d, err := e.Repo.GetDocument(ctx, cmd.ParentDocumentID)
		if err != nil {
			return domain.Document{}, notFound(err, "parent document", cmd.ParentDocumentID)
		}
		if d.PermitID != cmd.PermitID {
			return domain.Document{}, &NotFoundError{Kind: "parent document", ID: cmd.ParentDocumentID}
		}
		parent = &d
	}

	defer e.lock(bucketKey(cmd.PermitID, cmd.FileName, cmd.Category))()

	path, err := e.Store.Save(ctx, cmd.Content, cmd.FileName, cmd.PermitID)
	if err != nil {
		return domain.Document{}, err
	}
	var doc domain.Document
	for attempt := 0; ; attempt++ {
		doc, err = e.recordDocument(ctx, cmd, parent, path, attempt > 0)
		if errors.Is(err, repo.ErrConflict) && attempt == 0 {
			e.log().Warn("document version conflict, retrying", "permit", cmd.PermitID, "file", cmd.FileName)
			continue
		}
		break
	}
	if err != nil {
		e.discard(ctx, path)
		if errors.Is(err, repo.ErrConflict) {
			return domain.Document{}, &ConflictError{Op: "add document " + cmd.FileName}
		}
		return domain.Document{}, err
	}
	e.log().Info("document uploaded", "permit", doc.PermitID, "document", doc.ID, "version", doc.VersionTag, "bytes", doc.SizeBytes)
	return doc, nil
}

func (e Engine) recordDocument(ctx context.Context, cmd AddDocumentCommand, parent *domain.Document, path string, resync bool) (domain.Document, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Document{}, err
	}
	defer tx.Rollback()

	if resync {
		if err := e.Repo.SyncVersionCounter(ctx, tx, cmd.PermitID, cmd.FileName, cmd.Category); err != nil {
			return domain.Document{}, fmt.Errorf("sync version counter: %w", err)
		}
	}

	n, err := e.Repo.NextVersion(ctx, tx, cmd.PermitID, cmd.FileName, cmd.Category)
	if err != nil {
		return domain.Document{}, fmt.Errorf("allocate version: %w", err)
	}
	ts := e.timestamp()
	d := domain.Document{
		ID:             uuid.NewString(),
		PermitID:       cmd.PermitID,
		FileName:       cmd.FileName,
		Category:       cmd.Category,
		VersionTag:     domain.VersionTag(n),
		VersionGroupID: versionGroup(cmd.IsNewVersion, parent),
		IsRequired:     cmd.IsRequired,
		Status:         domain.DocumentPending,
		Notes:          cmd.Notes,
		StoragePath:    path,
		SizeBytes:      int64(len(cmd.Content)),
		UploadedBy:     cmd.ActorID,
		CreatedAt:      ts,
		UpdatedAt:      ts,
	}
	if parent != nil {
		d.ParentDocumentID = ptr(parent.ID)
	}
	if err := e.Repo.InsertDocument(ctx, tx, d); err != nil {
		return domain.Document{}, err
	}
	meta := map[string]any{
		"file_name":   d.FileName,
		"category":    string(d.Category),
		"version_tag": d.VersionTag,
		"size_bytes":  d.SizeBytes,
	}
	if d.VersionGroupID != nil {
		meta["version_group_id"] = *d.VersionGroupID
	}
	if d.ParentDocumentID != nil {
		meta["parent_document_id"] = *d.ParentDocumentID
	}
	if err := e.record(ctx, tx, activity.Entry{
		PermitID:    d.PermitID,
		ActorID:     cmd.ActorID,
		Type:        domain.ActivityDocumentUploaded,
		EntityKind:  activity.KindDocument,
		EntityID:    d.ID,
		Description: fmt.Sprintf("Uploaded %s (%s) %s", d.FileName, d.Category, d.VersionTag),
		NewValue:    activity.Value(d.VersionTag),
		Metadata:    meta,
	}); err != nil {
		return domain.Document{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Document{}, err
	}
	return d, nil
}

// versionGroup links a new upload to its lineage. A parent always places the
// upload in the parent's group, or in the group rooted at the parent when it
// has none. A new version without a parent starts its own group. Other
// uploads stay ungrouped.
func versionGroup(isNewVersion bool, parent *domain.Document) *string {
	switch {
	case parent != nil && parent.VersionGroupID != nil:
		return ptr(*parent.VersionGroupID)
	case parent != nil:
		return ptr(parent.ID)
	case isNewVersion:
		return ptr(uuid.NewString())
	default:
		return nil
	}
}

func bucketKey(permitID, fileName string, c domain.DocumentCategory) string {
	return "document:" + permitID + "\x00" + fileName + "\x00" + string(c)
}

// VerifyDocument sets the verification flag and the matching status
// (Verified, Rejected or Pending). An entry is recorded only when the flag
// or the status actually changes.
func (e Engine) VerifyDocument(ctx context.Context, cmd VerifyDocumentCommand) (domain.Document, error) {
	if cmd.IsVerified && cmd.Rejected {
		return domain.Document{}, invalid("rejected", "cannot be combined with isVerified")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Document{}, err
	}
	defer tx.Rollback()

	d, err := e.Repo.GetDocumentTx(ctx, tx, cmd.DocumentID)
	if err != nil {
		return domain.Document{}, notFound(err, "document", cmd.DocumentID)
	}
	status := domain.DocumentPending
	switch {
	case cmd.IsVerified:
		status = domain.DocumentVerified
	case cmd.Rejected:
		status = domain.DocumentRejected
	}
	before, beforeStatus := d.IsVerified, d.Status
	flagChanged := before != cmd.IsVerified
	statusChanged := beforeStatus != status
	notesChanged := cmd.Notes != nil && *cmd.Notes != d.Notes
	if !flagChanged && !statusChanged && !notesChanged {
		return d, nil
	}
	d.IsVerified = cmd.IsVerified
	d.Status = status
	if cmd.Notes != nil {
		d.Notes = *cmd.Notes
	}
	d.UpdatedAt = e.timestamp()
	if err := e.Repo.UpdateDocumentReview(ctx, tx, d); err != nil {
		return domain.Document{}, fmt.Errorf("update document: %w", err)
	}
	entry := activity.Entry{
		PermitID:   d.PermitID,
		ActorID:    cmd.ActorID,
		Type:       domain.ActivityDocumentVerified,
		EntityKind: activity.KindDocument,
		EntityID:   d.ID,
	}
	switch {
	case flagChanged:
		entry.Description = fmt.Sprintf("%s %s verification changed from %t to %t", d.FileName, d.VersionTag, before, d.IsVerified)
		entry.OldValue = ptr(strconv.FormatBool(before))
		entry.NewValue = ptr(strconv.FormatBool(d.IsVerified))
	case statusChanged:
		entry.Description = fmt.Sprintf("%s %s review status changed from %s to %s", d.FileName, d.VersionTag, beforeStatus, d.Status)
		entry.OldValue = activity.Value(beforeStatus)
		entry.NewValue = activity.Value(d.Status)
	}
	if entry.Description != "" {
		if err := e.record(ctx, tx, entry); err != nil {
			return domain.Document{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Document{}, err
	}
	return d, nil
}

func (e Engine) GetDocument(ctx context.Context, id string) (domain.Document, error) {
	d, err := e.Repo.GetDocument(ctx, id)
	return d, notFound(err, "document", id)
}

func (e Engine) ListDocuments(ctx context.Context, permitID string) ([]domain.Document, error) {
	if _, err := e.GetPermit(ctx, permitID); err != nil {
		return nil, err
	}
	return e.Repo.ListDocuments(ctx, permitID)
}

// Lineage returns every revision in the document's version group, oldest
// first. An ungrouped document that no other document points at is its own
// single-member lineage.
func (e Engine) Lineage(ctx context.Context, documentID string) ([]domain.Document, error) {
	d, err := e.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	group := d.ID
	if d.VersionGroupID != nil {
		group = *d.VersionGroupID
	}
	docs, err := e.Repo.VersionGroup(ctx, group)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		docs = []domain.Document{d}
	}
	return docs, nil
}

// OpenDocument returns the metadata and stored bytes of a document.
func (e Engine) OpenDocument(ctx context.Context, documentID string) (domain.Document, []byte, error) {
	d, err := e.GetDocument(ctx, documentID)
	if err != nil {
		return domain.Document{}, nil, err
	}
	if e.Store == nil {
		return domain.Document{}, nil, errNoStore
	}
	data, err := e.Store.Get(ctx, d.StoragePath)
	if err != nil {
		return domain.Document{}, nil, err
	}
	return d, data, nil
}

// DeleteDocument removes the metadata and records a FieldUpdated entry, then
// asks storage to drop the bytes. A storage failure is logged, not returned.
func (e Engine) DeleteDocument(ctx context.Context, documentID, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	d, err := e.Repo.GetDocumentTx(ctx, tx, documentID)
	if err != nil {
		return notFound(err, "document", documentID)
	}
	if err := e.Repo.DeleteDocument(ctx, tx, documentID); err != nil {
		return notFound(err, "document", documentID)
	}
	if err := e.record(ctx, tx, activity.Entry{
		PermitID:    d.PermitID,
		ActorID:     actorID,
		Type:        domain.ActivityFieldUpdated,
		EntityKind:  activity.KindDocument,
		EntityID:    d.ID,
		Description: fmt.Sprintf("Deleted %s (%s) %s", d.FileName, d.Category, d.VersionTag),
		OldValue:    activity.Value(d.VersionTag),
		Metadata:    map[string]any{"deleted": true, "file_name": d.FileName, "category": string(d.Category)},
	}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.discard(ctx, d.StoragePath)
	return nil
}

// discard removes stored bytes, logging instead of failing.
func (e Engine) discard(ctx context.Context, path string) {
	if e.Store == nil || path == "" {
		return
	}
	if err := e.Store.Delete(context.WithoutCancel(ctx), path); err != nil {
		e.log().Warn("stored document not removed", "path", path, "err", err)
	}
}
