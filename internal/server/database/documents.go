package database

import (
	"context"
	"fmt"
	"time"
)

const documentColumns = `id, user_id, stored_name, original_name, file_path, mime_type, file_size, description, created_at`

const trashColumns = `id, user_id, stored_name, original_name, file_path, mime_type, file_size, description, created_at, original_id, deleted_at`

func scanDocument(s rowScanner) (*Document, error) {
	d := &Document{}
	err := s.Scan(
		&d.ID,
		&d.UserID,
		&d.StoredName,
		&d.OriginalName,
		&d.FilePath,
		&d.MIMEType,
		&d.FileSize,
		&d.Description,
		&d.CreatedAt,
	)
	return d, err
}

func scanDeletedDocument(s rowScanner) (*DeletedDocument, error) {
	d := &DeletedDocument{}
	err := s.Scan(
		&d.ID,
		&d.UserID,
		&d.StoredName,
		&d.OriginalName,
		&d.FilePath,
		&d.MIMEType,
		&d.FileSize,
		&d.Description,
		&d.CreatedAt,
		&d.OriginalID,
		&d.DeletedAt,
	)
	return d, err
}

// CreateDocument inserts a document record and fills in its ID and creation time.
func (r *Repository) CreateDocument(ctx context.Context, d *Document) error {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO documents (
			user_id, stored_name, original_name, file_path,
			mime_type, file_size, description
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`,
		d.UserID,
		d.StoredName,
		d.OriginalName,
		d.FilePath,
		d.MIMEType,
		d.FileSize,
		d.Description,
	).Scan(&d.ID, &d.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}
	return nil
}

// GetDocument retrieves a document by its ID.
func (r *Repository) GetDocument(ctx context.Context, id int64) (*Document, error) {
	d, err := scanDocument(r.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", notFound(err))
	}
	return d, nil
}

// ListDocuments returns a user's documents, newest first.
func (r *Repository) ListDocuments(ctx context.Context, userID int64) ([]*Document, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// MoveToTrash copies a document into deleted_documents and removes the live
// row. Share links of the document are removed with it. Run inside WithTx.
func (r *Repository) MoveToTrash(ctx context.Context, documentID int64) (*DeletedDocument, error) {
	d, err := scanDeletedDocument(r.db.QueryRowContext(ctx, `
		INSERT INTO deleted_documents (
			original_id, user_id, stored_name, original_name, file_path,
			mime_type, file_size, description, created_at
		)
		SELECT id, user_id, stored_name, original_name, file_path,
			   mime_type, file_size, description, created_at
		FROM documents WHERE id = $1
		RETURNING `+trashColumns, documentID))
	if err != nil {
		return nil, fmt.Errorf("failed to trash document: %w", notFound(err))
	}

	res, err := r.db.ExecContext(ctx, "DELETE FROM documents WHERE id = $1", documentID)
	if err := requireAffected(res, err, "delete document"); err != nil {
		return nil, err
	}
	return d, nil
}

// GetTrashed retrieves a trash entry by its ID.
func (r *Repository) GetTrashed(ctx context.Context, id int64) (*DeletedDocument, error) {
	d, err := scanDeletedDocument(r.db.QueryRowContext(ctx,
		`SELECT `+trashColumns+` FROM deleted_documents WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get trashed document: %w", notFound(err))
	}
	return d, nil
}

// ListTrash returns a user's trashed documents, most recently deleted first.
func (r *Repository) ListTrash(ctx context.Context, userID int64) ([]*DeletedDocument, error) {
	return r.queryTrash(ctx,
		`SELECT `+trashColumns+` FROM deleted_documents WHERE user_id = $1 ORDER BY deleted_at DESC`, userID)
}

// ListTrashOlderThan returns trash entries deleted before cutoff.
func (r *Repository) ListTrashOlderThan(ctx context.Context, cutoff time.Time) ([]*DeletedDocument, error) {
	return r.queryTrash(ctx,
		`SELECT `+trashColumns+` FROM deleted_documents WHERE deleted_at < $1`, cutoff)
}

func (r *Repository) queryTrash(ctx context.Context, query string, args ...any) ([]*DeletedDocument, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trash: %w", err)
	}
	defer rows.Close()

	var docs []*DeletedDocument
	for rows.Next() {
		d, err := scanDeletedDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trashed document: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// RestoreFromTrash puts a trashed document back under its original ID and
// removes the trash entry. Run inside WithTx.
func (r *Repository) RestoreFromTrash(ctx context.Context, trashID int64) (*Document, error) {
	d, err := scanDocument(r.db.QueryRowContext(ctx, `
		INSERT INTO documents (
			id, user_id, stored_name, original_name, file_path,
			mime_type, file_size, description, created_at
		)
		SELECT original_id, user_id, stored_name, original_name, file_path,
			   mime_type, file_size, description, created_at
		FROM deleted_documents WHERE id = $1
		RETURNING `+documentColumns, trashID))
	if err != nil {
		return nil, fmt.Errorf("failed to restore document: %w", notFound(err))
	}

	if err := r.PurgeTrashed(ctx, trashID); err != nil {
		return nil, err
	}
	return d, nil
}

// PurgeTrashed permanently removes a trash entry.
func (r *Repository) PurgeTrashed(ctx context.Context, trashID int64) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM deleted_documents WHERE id = $1", trashID)
	return requireAffected(res, err, "purge trashed document")
}
