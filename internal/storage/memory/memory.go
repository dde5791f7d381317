// Package memory is an in-process LinkStore used by tests and dry runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/steveyegge/portalsync/internal/storage"
)

// Store keeps links in maps guarded by a single RWMutex.
type Store struct {
	mu     sync.RWMutex
	nextID int64
	now    func() time.Time

	issues   map[int64]*storage.IssueLink // by ID
	comments map[int64]*storage.CommentLink
	versions map[int64]*storage.VersionLink
}

// New returns an empty store.
func New() *Store {
	return &Store{
		now:      time.Now,
		issues:   make(map[int64]*storage.IssueLink),
		comments: make(map[int64]*storage.CommentLink),
		versions: make(map[int64]*storage.VersionLink),
	}
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *Store) SaveIssueLink(_ context.Context, portalIssueID, internalIssueID int64) (*storage.IssueLink, error) {
	link := &storage.IssueLink{PortalIssueID: portalIssueID, InternalIssueID: internalIssueID}
	if err := link.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, l := range s.issues {
		if l.PortalIssueID == portalIssueID || l.InternalIssueID == internalIssueID {
			delete(s.issues, id)
		}
	}
	link.ID = s.id()
	link.CreatedAt = s.now().UTC()
	s.issues[link.ID] = link
	cp := *link
	return &cp, nil
}

func (s *Store) IssueLinkByPortal(_ context.Context, portalIssueID int64) (*storage.IssueLink, error) {
	return s.findIssueLink(func(l *storage.IssueLink) bool { return l.PortalIssueID == portalIssueID },
		"portal", portalIssueID)
}

func (s *Store) IssueLinkByInternal(_ context.Context, internalIssueID int64) (*storage.IssueLink, error) {
	return s.findIssueLink(func(l *storage.IssueLink) bool { return l.InternalIssueID == internalIssueID },
		"internal", internalIssueID)
}

func (s *Store) findIssueLink(match func(*storage.IssueLink) bool, side string, id int64) (*storage.IssueLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, l := range s.issues {
		if match(l) {
			cp := *l
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("issue link by %s issue %d: %w", side, id, storage.ErrNotFound)
}

func (s *Store) RemoveIssueLink(_ context.Context, issueID int64, portal bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, l := range s.issues {
		if (portal && l.PortalIssueID == issueID) || (!portal && l.InternalIssueID == issueID) {
			delete(s.issues, id)
		}
	}
	return nil
}

func (s *Store) ListIssueLinks(_ context.Context, filter storage.LinkFilter) ([]*storage.IssueLink, error) {
	s.mu.RLock()
	links := make([]*storage.IssueLink, 0, len(s.issues))
	for _, l := range s.issues {
		if !filter.Since.IsZero() && l.CreatedAt.Before(filter.Since) {
			continue
		}
		cp := *l
		links = append(links, &cp)
	}
	s.mu.RUnlock()

	sort.Slice(links, func(i, j int) bool {
		if !links[i].CreatedAt.Equal(links[j].CreatedAt) {
			return links[i].CreatedAt.After(links[j].CreatedAt)
		}
		return links[i].ID > links[j].ID
	})
	if filter.Limit > 0 && len(links) > filter.Limit {
		links = links[:filter.Limit]
	}
	return links, nil
}

func (s *Store) SaveCommentLink(_ context.Context, link storage.CommentLink) (*storage.CommentLink, error) {
	if err := link.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, l := range s.comments {
		if l.PortalCommentID == link.PortalCommentID || l.InternalCommentID == link.InternalCommentID {
			delete(s.comments, id)
		}
	}
	link.ID = s.id()
	link.CreatedAt = s.now().UTC()
	stored := link
	s.comments[link.ID] = &stored
	return &link, nil
}

func (s *Store) CommentLinkByComment(_ context.Context, t storage.CommentType, commentID int64) (*storage.CommentLink, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("unknown comment type %q", t)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, l := range s.comments {
		if (t == storage.CommentInternal && l.InternalCommentID == commentID) ||
			(t == storage.CommentPortal && l.PortalCommentID == commentID) {
			cp := *l
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("comment link by %s comment %d: %w", t, commentID, storage.ErrNotFound)
}

func (s *Store) ListCommentLinks(_ context.Context, portalIssueID int64) ([]*storage.CommentLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var links []*storage.CommentLink
	for _, l := range s.comments {
		if l.PortalIssueID == portalIssueID {
			cp := *l
			links = append(links, &cp)
		}
	}
	sort.Slice(links, func(i, j int) bool { return links[i].ID < links[j].ID })
	return links, nil
}

func (s *Store) RemoveCommentLinks(_ context.Context, portalIssueID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, l := range s.comments {
		if l.PortalIssueID == portalIssueID {
			delete(s.comments, id)
		}
	}
	return nil
}

func (s *Store) SaveVersionLink(_ context.Context, portalVersionID, internalVersionID int64) (*storage.VersionLink, error) {
	link := &storage.VersionLink{PortalVersionID: portalVersionID, InternalVersionID: internalVersionID}
	if err := link.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, l := range s.versions {
		if l.PortalVersionID == portalVersionID || l.InternalVersionID == internalVersionID {
			delete(s.versions, id)
		}
	}
	link.ID = s.id()
	link.CreatedAt = s.now().UTC()
	s.versions[link.ID] = link
	cp := *link
	return &cp, nil
}

func (s *Store) RestoreVersion(_ context.Context, versionID int64, targetIsPortal bool) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, l := range s.versions {
		if targetIsPortal && l.InternalVersionID == versionID {
			return l.PortalVersionID, nil
		}
		if !targetIsPortal && l.PortalVersionID == versionID {
			return l.InternalVersionID, nil
		}
	}
	return 0, fmt.Errorf("restore version %d: %w", versionID, storage.ErrNotFound)
}

func (s *Store) RemoveVersionLinks(_ context.Context, versionID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, l := range s.versions {
		if l.PortalVersionID == versionID || l.InternalVersionID == versionID {
			delete(s.versions, id)
		}
	}
	return nil
}

func (s *Store) ListVersionLinks(_ context.Context) ([]*storage.VersionLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	links := make([]*storage.VersionLink, 0, len(s.versions))
	for _, l := range s.versions {
		cp := *l
		links = append(links, &cp)
	}
	sort.Slice(links, func(i, j int) bool { return links[i].ID < links[j].ID })
	return links, nil
}

func (s *Store) Close() error { return nil }

var _ storage.LinkStore = (*Store)(nil)
