package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"findit/internal/server/config"
	"findit/internal/server/database"
	"findit/internal/server/storage"

	"github.com/google/uuid"
)

// Upload describes one incoming document.
type Upload struct {
	Filename    string
	MIMEType    string
	Size        int64
	Description string
	Body        io.Reader
}

// DocumentList is a user's documents plus the quota summary.
type DocumentList struct {
	Documents    []*database.Document
	StorageUsed  int64
	StorageLimit int64
	QuotaPercent float64
}

// DocumentService manages uploads, the trash and owner downloads.
type DocumentService struct {
	repo  Repo
	store storage.Store
	cfg   *config.Config
}

// NewDocumentService creates a new document service.
func NewDocumentService(repo Repo, store storage.Store, cfg *config.Config) *DocumentService {
	return &DocumentService{repo: repo, store: store, cfg: cfg}
}

// Upload validates and stores a document. Type and size are checked before
// anything is written. The quota reservation, file and row either all land or
// none do.
func (s *DocumentService) Upload(ctx context.Context, userID int64, up Upload) (*database.Document, error) {
	if up.Size <= 0 {
		return nil, ErrEmptyFile
	}
	if up.Size > s.cfg.MaxFileSize {
		return nil, ErrFileTooLarge
	}
	if !s.cfg.MIMEAllowed(up.MIMEType) {
		return nil, ErrMIMENotAllowed
	}

	original := sanitizeFilename(up.Filename, "document")
	stored := uuid.NewString() + strings.ToLower(path.Ext(original))
	key := fmt.Sprintf("documents/%d/%s", userID, stored)

	doc := &database.Document{
		UserID:       userID,
		StoredName:   stored,
		OriginalName: original,
		FilePath:     key,
		MIMEType:     up.MIMEType,
		FileSize:     up.Size,
		Description:  strings.TrimSpace(up.Description),
	}

	var written bool
	err := s.repo.InTx(ctx, func(tx Repo) error {
		if err := tx.ReserveStorage(ctx, userID, up.Size); err != nil {
			return err
		}

		n, err := s.store.Save(ctx, key, io.LimitReader(up.Body, s.cfg.MaxFileSize+1))
		written = true
		if err != nil {
			return fmt.Errorf("failed to store file: %w", err)
		}
		if n > s.cfg.MaxFileSize {
			return ErrFileTooLarge
		}
		if n != up.Size {
			return invalid("upload truncated: got %d of %d bytes", n, up.Size)
		}

		return tx.CreateDocument(ctx, doc)
	})
	if err != nil {
		if written {
			s.deleteObject(ctx, key)
		}
		if errors.Is(err, database.ErrQuotaExceeded) {
			return nil, ErrQuotaExceeded
		}
		return nil, err
	}

	slog.Info("document uploaded",
		"document_id", doc.ID,
		"user_id", userID,
		"size", doc.FileSize,
		"mime_type", doc.MIMEType,
	)
	recordActivity(ctx, s.repo, userID, "upload", "Uploaded "+doc.OriginalName)
	return doc, nil
}

// List returns the user's documents with quota usage.
func (s *DocumentService) List(ctx context.Context, userID int64) (*DocumentList, error) {
	u, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	docs, err := s.repo.ListDocuments(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &DocumentList{
		Documents:    docs,
		StorageUsed:  u.StorageUsed,
		StorageLimit: u.StorageLimit,
		QuotaPercent: quotaPercent(u.StorageUsed, u.StorageLimit),
	}, nil
}

// Get returns a document owned by userID.
func (s *DocumentService) Get(ctx context.Context, userID, docID int64) (*database.Document, error) {
	doc, err := s.repo.GetDocument(ctx, docID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrDocumentNotFound
		}
		return nil, err
	}
	// Other users' documents look absent.
	if doc.UserID != userID {
		return nil, ErrDocumentNotFound
	}
	return doc, nil
}

// Open streams a document to its owner.
func (s *DocumentService) Open(ctx context.Context, userID, docID int64) (*database.Document, io.ReadCloser, error) {
	doc, err := s.Get(ctx, userID, docID)
	if err != nil {
		return nil, nil, err
	}
	rc, err := s.store.Open(ctx, doc.FilePath)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			slog.Error("document file missing", "document_id", doc.ID, "key", doc.FilePath)
			return nil, nil, ErrFileMissing
		}
		return nil, nil, err
	}
	return doc, rc, nil
}

// Trash moves a document into the trash. Its quota stays charged until it
// is purged.
func (s *DocumentService) Trash(ctx context.Context, userID, docID int64) (*database.DeletedDocument, error) {
	doc, err := s.Get(ctx, userID, docID)
	if err != nil {
		return nil, err
	}

	var trashed *database.DeletedDocument
	err = s.repo.InTx(ctx, func(tx Repo) error {
		var err error
		trashed, err = tx.MoveToTrash(ctx, doc.ID)
		return err
	})
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrDocumentNotFound
		}
		return nil, err
	}

	slog.Info("document trashed", "document_id", doc.ID, "trash_id", trashed.ID)
	recordActivity(ctx, s.repo, userID, "trash", "Moved "+doc.OriginalName+" to trash")
	return trashed, nil
}

// ListTrash returns the user's trashed documents.
func (s *DocumentService) ListTrash(ctx context.Context, userID int64) ([]*database.DeletedDocument, error) {
	return s.repo.ListTrash(ctx, userID)
}

func (s *DocumentService) getTrashed(ctx context.Context, userID, trashID int64) (*database.DeletedDocument, error) {
	d, err := s.repo.GetTrashed(ctx, trashID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrDocumentNotFound
		}
		return nil, err
	}
	if d.UserID != userID {
		return nil, ErrDocumentNotFound
	}
	return d, nil
}

// Restore moves a trashed document back under its original ID.
func (s *DocumentService) Restore(ctx context.Context, userID, trashID int64) (*database.Document, error) {
	d, err := s.getTrashed(ctx, userID, trashID)
	if err != nil {
		return nil, err
	}

	var doc *database.Document
	err = s.repo.InTx(ctx, func(tx Repo) error {
		var err error
		doc, err = tx.RestoreFromTrash(ctx, d.ID)
		return err
	})
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrDocumentNotFound
		}
		return nil, err
	}

	slog.Info("document restored", "document_id", doc.ID, "trash_id", trashID)
	recordActivity(ctx, s.repo, userID, "restore", "Restored "+doc.OriginalName)
	return doc, nil
}

// Purge permanently deletes a trashed document and frees its quota.
func (s *DocumentService) Purge(ctx context.Context, userID, trashID int64) error {
	d, err := s.getTrashed(ctx, userID, trashID)
	if err != nil {
		return err
	}
	if err := s.purge(ctx, d); err != nil {
		return err
	}
	recordActivity(ctx, s.repo, userID, "purge", "Permanently deleted "+d.OriginalName)
	return nil
}

// PurgeTrashOlderThan purges every trash entry deleted before cutoff. One
// failing entry does not stop the rest.
func (s *DocumentService) PurgeTrashOlderThan(ctx context.Context, cutoff time.Time) (purged, failed int, err error) {
	entries, err := s.repo.ListTrashOlderThan(ctx, cutoff)
	if err != nil {
		return 0, 0, err
	}

	for _, d := range entries {
		if err := s.purge(ctx, d); err != nil {
			slog.Error("failed to purge trashed document", "trash_id", d.ID, "error", err)
			failed++
			continue
		}
		purged++
	}
	return purged, failed, nil
}

func (s *DocumentService) purge(ctx context.Context, d *database.DeletedDocument) error {
	err := s.repo.InTx(ctx, func(tx Repo) error {
		if err := tx.PurgeTrashed(ctx, d.ID); err != nil {
			return err
		}
		return tx.ReleaseStorage(ctx, d.UserID, d.FileSize)
	})
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return ErrDocumentNotFound
		}
		return err
	}

	// A restore would need the file, so it goes only after the row.
	s.deleteObject(ctx, d.FilePath)
	slog.Info("document purged", "trash_id", d.ID, "user_id", d.UserID, "size", d.FileSize)
	return nil
}

func (s *DocumentService) deleteObject(ctx context.Context, key string) {
	if err := s.store.Delete(ctx, key); err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
		slog.Error("failed to delete stored file", "key", key, "error", err)
	}
}
