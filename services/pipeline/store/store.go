// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store is the append-only version ledger.
//
// # Description
//
// The store owns every mutation of a document's version chain. Other
// components never write version records directly; they go through
// AppendVersion, which is the single write path and enforces the chain
// invariants:
//
//   - sequence numbers are strictly increasing per document
//   - a version's parent is the head at append time (compare-and-swap),
//     so concurrent writers cannot both commit against the same parent
//   - the document's head pointer is updated in the same transaction as
//     the version insert
//   - versions are never mutated or deleted; Revert appends a copy of an
//     older version's content instead of touching history
//
// # Key layout
//
//	project/<id>                   Project JSON
//	projectname/<name>             project id (uniqueness index)
//	document/<id>                  Document JSON (carries the head pointer)
//	docseq/<projectID>/<kind>      per-project-per-kind document counter
//	version/<docID>/<seq%08d>      Version JSON
//	versionid/<versionID>          docID/seq locator
//	proposal/<id>                  FixProposal JSON
//
// # Thread Safety
//
// All operations are safe for concurrent use; writes rely on Badger's
// serializable transactions, and a lost CAS race surfaces as
// datatypes.ConflictError.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/AleutianAI/ReqPipeline/pkg/logging"
	"github.com/AleutianAI/ReqPipeline/services/pipeline/blob"
	"github.com/AleutianAI/ReqPipeline/services/pipeline/datatypes"
	"github.com/AleutianAI/ReqPipeline/services/pipeline/storage"
)

// Store implements the version ledger over Badger and a blob store.
type Store struct {
	db    *storage.DB
	blobs blob.Store
	log   *logging.Logger
	clock func() time.Time
}

// New creates a Store. logger may be nil.
func New(db *storage.DB, blobs blob.Store, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{db: db, blobs: blobs, log: logger, clock: time.Now}
}

func keyProject(id string) []byte    { return []byte("project/" + id) }
func keyProjectName(n string) []byte { return []byte("projectname/" + n) }
func keyDocument(id string) []byte   { return []byte("document/" + id) }
func keyVersionID(id string) []byte  { return []byte("versionid/" + id) }
func keyProposal(id string) []byte   { return []byte("proposal/" + id) }

func keyDocSeq(projectID string, kind datatypes.DocumentKind) []byte {
	return []byte(fmt.Sprintf("docseq/%s/%s", projectID, kind))
}

func keyVersion(docID string, seq int) []byte {
	return []byte(fmt.Sprintf("version/%s/%08d", docID, seq))
}

func prefixVersions(docID string) []byte {
	return []byte(fmt.Sprintf("version/%s/", docID))
}

// -----------------------------------------------------------------------------
// Projects
// -----------------------------------------------------------------------------

// CreateProject creates a project. Names are unique; reusing one is a
// validation error.
func (s *Store) CreateProject(ctx context.Context, name, description string) (*datatypes.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, datatypes.Validationf("project name must not be empty")
	}

	p := &datatypes.Project{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		CreatedAt:   s.clock().UTC(),
	}

	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(keyProjectName(name)); err == nil {
			return datatypes.Validationf("project %q already exists", name)
		} else if !storage.IsKeyNotFound(err) {
			return err
		}
		if err := setJSON(txn, keyProject(p.ID), p); err != nil {
			return err
		}
		return txn.Set(keyProjectName(name), []byte(p.ID))
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("project created", "project_id", p.ID, "name", name)
	return p, nil
}

// GetProject looks a project up by id.
func (s *Store) GetProject(ctx context.Context, id string) (*datatypes.Project, error) {
	var p datatypes.Project
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, keyProject(id), &p, "project", id)
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListProjects returns all projects, ordered by creation time.
func (s *Store) ListProjects(ctx context.Context) ([]datatypes.Project, error) {
	var out []datatypes.Project
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return iteratePrefix(txn, []byte("project/"), func(val []byte) error {
			var p datatypes.Project
			if err := json.Unmarshal(val, &p); err != nil {
				return fmt.Errorf("decode project record: %w", err)
			}
			out = append(out, p)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortByTime(out, func(p datatypes.Project) time.Time { return p.CreatedAt })
	return out, nil
}

// -----------------------------------------------------------------------------
// Documents
// -----------------------------------------------------------------------------

// CreateDocumentOptions carries the optional fields of CreateDocument.
type CreateDocumentOptions struct {
	// SourceDocumentID links a TESTCASES chain to its functional document.
	SourceDocumentID string
}

// CreateDocument creates a document with a freshly allocated per-project
// per-kind sequence number. The chain is empty until the first
// AppendVersion.
func (s *Store) CreateDocument(ctx context.Context, projectID string, kind datatypes.DocumentKind, opts CreateDocumentOptions) (*datatypes.Document, error) {
	switch kind {
	case datatypes.KindBRD, datatypes.KindFRD, datatypes.KindTestcases:
	default:
		return nil, datatypes.Validationf("unknown document kind %q", kind)
	}

	now := s.clock().UTC()
	doc := &datatypes.Document{
		ID:               uuid.NewString(),
		ProjectID:        projectID,
		Kind:             kind,
		SourceDocumentID: opts.SourceDocumentID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		if err := getJSON(txn, keyProject(projectID), &datatypes.Project{}, "project", projectID); err != nil {
			return err
		}

		n, err := nextCounter(txn, keyDocSeq(projectID, kind))
		if err != nil {
			return err
		}
		doc.DocNumber = n
		return setJSON(txn, keyDocument(doc.ID), doc)
	})
	if err != nil {
		if storage.IsConflict(err) {
			// Counter contention; the caller can simply retry.
			return nil, &datatypes.ConflictError{DocumentID: doc.ID}
		}
		return nil, err
	}

	s.log.Info("document created",
		"document_id", doc.ID, "project_id", projectID,
		"kind", kind, "doc_number", doc.DocNumber)
	return doc, nil
}

// GetDocument looks a document up by id.
func (s *Store) GetDocument(ctx context.Context, id string) (*datatypes.Document, error) {
	var doc datatypes.Document
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, keyDocument(id), &doc, "document", id)
	})
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// FindTestcaseDocument returns the TESTCASES document derived from the
// given functional document, or NotFoundError if none exists yet.
func (s *Store) FindTestcaseDocument(ctx context.Context, sourceDocID string) (*datatypes.Document, error) {
	var found *datatypes.Document
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return iteratePrefix(txn, []byte("document/"), func(val []byte) error {
			var doc datatypes.Document
			if err := json.Unmarshal(val, &doc); err != nil {
				return fmt.Errorf("decode document record: %w", err)
			}
			if doc.Kind == datatypes.KindTestcases && doc.SourceDocumentID == sourceDocID {
				found = &doc
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, &datatypes.NotFoundError{Resource: "document", ID: "testcases for " + sourceDocID}
	}
	return found, nil
}

// -----------------------------------------------------------------------------
// Versions
// -----------------------------------------------------------------------------

// AppendVersion appends a new version derived from parentID and moves the
// document's head to it, atomically.
//
// parentID must be the document's current head id, or empty for the first
// version of an empty chain. Anything else fails with ConflictError and
// the chain is untouched; callers re-read the head and retry.
//
// The content blob is written before the transaction; if the transaction
// fails the blob is deleted again, so a failed append leaves nothing
// observable.
func (s *Store) AppendVersion(ctx context.Context, documentID, parentID string, content []byte, status datatypes.VersionStatus, anomalies *datatypes.AnomalySet) (*datatypes.Version, error) {
	v := &datatypes.Version{
		ID:         uuid.NewString(),
		DocumentID: documentID,
		ParentID:   parentID,
		Status:     status,
		Anomalies:  anomalies,
		CreatedAt:  s.clock().UTC(),
	}

	// The blob key embeds the version id, so concurrent appends never
	// collide on a path.
	var doc datatypes.Document
	if err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, keyDocument(documentID), &doc, "document", documentID)
	}); err != nil {
		return nil, err
	}

	blobKey := fmt.Sprintf("%s/%s_%s.txt", strings.ToLower(string(doc.Kind)), documentID, v.ID)
	path, err := s.blobs.Write(blobKey, content)
	if err != nil {
		return nil, fmt.Errorf("write version content: %w", err)
	}
	v.ContentPath = path

	err = s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		var cur datatypes.Document
		if err := getJSON(txn, keyDocument(documentID), &cur, "document", documentID); err != nil {
			return err
		}
		if cur.HeadID != parentID {
			return &datatypes.ConflictError{
				DocumentID:     documentID,
				ExpectedParent: parentID,
				Head:           cur.HeadID,
			}
		}

		v.Seq = cur.HeadSeq + 1
		if err := setJSON(txn, keyVersion(documentID, v.Seq), v); err != nil {
			return err
		}
		if err := txn.Set(keyVersionID(v.ID), []byte(fmt.Sprintf("%s/%08d", documentID, v.Seq))); err != nil {
			return err
		}

		cur.HeadSeq = v.Seq
		cur.HeadID = v.ID
		cur.UpdatedAt = v.CreatedAt
		return setJSON(txn, keyDocument(documentID), &cur)
	})
	if err != nil {
		if derr := s.blobs.Delete(path); derr != nil {
			s.log.Warn("orphan blob cleanup failed", "path", path, "error", derr.Error())
		}
		if storage.IsConflict(err) {
			// Two appends raced past the head check; the transaction
			// conflict means the other one won.
			return nil, &datatypes.ConflictError{DocumentID: documentID, ExpectedParent: parentID}
		}
		return nil, err
	}

	s.log.Info("version appended",
		"document_id", documentID, "version_id", v.ID,
		"seq", v.Seq, "status", status)
	return v, nil
}

// Head returns the document's current head version. An empty chain is a
// NotFoundError.
func (s *Store) Head(ctx context.Context, documentID string) (*datatypes.Version, error) {
	var v datatypes.Version
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		var doc datatypes.Document
		if err := getJSON(txn, keyDocument(documentID), &doc, "document", documentID); err != nil {
			return err
		}
		if doc.HeadSeq == 0 {
			return &datatypes.NotFoundError{Resource: "version", ID: documentID + "/head"}
		}
		return getJSON(txn, keyVersion(documentID, doc.HeadSeq), &v, "version", fmt.Sprintf("%s/%d", documentID, doc.HeadSeq))
	})
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// Version returns one version by document and sequence number.
func (s *Store) Version(ctx context.Context, documentID string, seq int) (*datatypes.Version, error) {
	var v datatypes.Version
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, keyVersion(documentID, seq), &v, "version", fmt.Sprintf("%s/%d", documentID, seq))
	})
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// VersionByID resolves a version id to its record.
func (s *Store) VersionByID(ctx context.Context, versionID string) (*datatypes.Version, error) {
	var v datatypes.Version
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(keyVersionID(versionID))
		if err != nil {
			if storage.IsKeyNotFound(err) {
				return &datatypes.NotFoundError{Resource: "version", ID: versionID}
			}
			return err
		}
		return item.Value(func(val []byte) error {
			// Locator format is docID/seq.
			parts := strings.SplitN(string(val), "/", 2)
			if len(parts) != 2 {
				return fmt.Errorf("corrupt version locator %q", val)
			}
			var seq int
			if _, err := fmt.Sscanf(parts[1], "%d", &seq); err != nil {
				return fmt.Errorf("corrupt version locator %q", val)
			}
			return getJSON(txn, keyVersion(parts[0], seq), &v, "version", versionID)
		})
	})
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// Chain returns the document's versions oldest-first.
func (s *Store) Chain(ctx context.Context, documentID string) ([]datatypes.Version, error) {
	var out []datatypes.Version
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		if err := getJSON(txn, keyDocument(documentID), &datatypes.Document{}, "document", documentID); err != nil {
			return err
		}
		return iteratePrefix(txn, prefixVersions(documentID), func(val []byte) error {
			var v datatypes.Version
			if err := json.Unmarshal(val, &v); err != nil {
				return fmt.Errorf("decode version record: %w", err)
			}
			out = append(out, v)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Content reads a version's content blob.
func (s *Store) Content(ctx context.Context, v *datatypes.Version) ([]byte, error) {
	data, err := s.blobs.Read(v.ContentPath)
	if err != nil {
		return nil, &datatypes.NotFoundError{Resource: "content", ID: v.ContentPath}
	}
	return data, nil
}

// Revert appends a new version whose content equals the version at
// toSeq, with parent = the current head and status "reverted". The target
// version is untouched; this is the only rollback path.
func (s *Store) Revert(ctx context.Context, documentID string, toSeq int) (*datatypes.Version, error) {
	target, err := s.Version(ctx, documentID, toSeq)
	if err != nil {
		return nil, err
	}
	head, err := s.Head(ctx, documentID)
	if err != nil {
		return nil, err
	}
	content, err := s.Content(ctx, target)
	if err != nil {
		return nil, err
	}

	v, err := s.AppendVersion(ctx, documentID, head.ID, content, datatypes.StatusReverted, target.Anomalies)
	if err != nil {
		return nil, err
	}
	s.log.Info("version reverted",
		"document_id", documentID, "to_seq", toSeq, "new_seq", v.Seq)
	return v, nil
}

// -----------------------------------------------------------------------------
// Fix proposals
// -----------------------------------------------------------------------------

// PutProposal stores a fix proposal record.
func (s *Store) PutProposal(ctx context.Context, p *datatypes.FixProposal) error {
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return setJSON(txn, keyProposal(p.ID), p)
	})
}

// GetProposal returns a proposal by id.
func (s *Store) GetProposal(ctx context.Context, id string) (*datatypes.FixProposal, error) {
	var p datatypes.FixProposal
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, keyProposal(id), &p, "proposal", id)
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return txn.Set(key, data)
}

func getJSON(txn *badger.Txn, key []byte, v any, resource, id string) error {
	item, err := txn.Get(key)
	if err != nil {
		if storage.IsKeyNotFound(err) {
			return &datatypes.NotFoundError{Resource: resource, ID: id}
		}
		return err
	}
	return item.Value(func(val []byte) error {
		if err := json.Unmarshal(val, v); err != nil {
			return fmt.Errorf("decode %s record: %w", resource, err)
		}
		return nil
	})
}

func nextCounter(txn *badger.Txn, key []byte) (int, error) {
	n := 0
	item, err := txn.Get(key)
	if err == nil {
		if err := item.Value(func(val []byte) error {
			_, serr := fmt.Sscanf(string(val), "%d", &n)
			return serr
		}); err != nil {
			return 0, err
		}
	} else if !storage.IsKeyNotFound(err) {
		return 0, err
	}
	n++
	if err := txn.Set(key, []byte(fmt.Sprintf("%d", n))); err != nil {
		return 0, err
	}
	return n, nil
}

func iteratePrefix(txn *badger.Txn, prefix []byte, fn func(val []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		if err := it.Item().Value(func(val []byte) error {
			return fn(append([]byte(nil), val...))
		}); err != nil {
			return err
		}
	}
	return nil
}

func sortByTime[T any](items []T, at func(T) time.Time) {
	sort.Slice(items, func(i, j int) bool {
		return at(items[i]).Before(at(items[j]))
	})
}
