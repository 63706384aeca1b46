package service

import (
	"context"

	"github.com/stepdocs/stepdocs/backend/go-services/internal/document"
	"github.com/stepdocs/stepdocs/backend/go-services/pkg/logger"
)

// Owner lookups happen after commit, so a directory failure only degrades
// the embedded identity to its ID.
func (s *documentService) lookupOwners(ctx context.Context, ids []string) map[string]document.Owner {
	if s.owners == nil || len(ids) == 0 {
		return nil
	}
	owners, err := s.owners.Owners(ctx, uniqueIDs(ids))
	if err != nil {
		logger.Warnf("owner lookup failed: %v", err)
		return nil
	}
	return owners
}

func ownerOrID(owners map[string]document.Owner, id string) *document.Owner {
	if o, ok := owners[id]; ok {
		return &o
	}
	return &document.Owner{ID: id}
}

func (s *documentService) withOwner(ctx context.Context, d *document.Document) *document.Document {
	if d == nil {
		return nil
	}
	d.User = ownerOrID(s.lookupOwners(ctx, []string{d.UserID}), d.UserID)
	return d
}

func (s *documentService) withOwners(ctx context.Context, list []document.Summary) []document.Summary {
	ids := make([]string, 0, len(list))
	for _, sum := range list {
		ids = append(ids, sum.UserID)
	}
	owners := s.lookupOwners(ctx, ids)
	for i := range list {
		list[i].User = ownerOrID(owners, list[i].UserID)
	}
	return list
}
