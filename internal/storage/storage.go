// Package storage defines the link store: the tables that map an issue, comment or
// version on one side of a project pair to its counterpart on the other side.
//
// Backends live in sub-packages: sqlite (default, local file), dolt (embedded or
// sql-server) and memory (tests, dry runs). The SQL backends share their queries
// through sqlstore.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested link does not exist.
var ErrNotFound = errors.New("not found")

// ErrInvalidLink is returned when a link is saved with a missing identity.
var ErrInvalidLink = errors.New("invalid link")

// CommentType names the side a comment ID belongs to.
type CommentType string

const (
	CommentInternal CommentType = "INTERNAL"
	CommentPortal   CommentType = "PORTAL"
)

// Valid reports whether t is a known comment type.
func (t CommentType) Valid() bool {
	return t == CommentInternal || t == CommentPortal
}

// IssueLink pairs a portal issue with its internal mirror.
type IssueLink struct {
	ID              int64     `json:"id"`
	PortalIssueID   int64     `json:"portal_issue_id"`
	InternalIssueID int64     `json:"internal_issue_id"`
	CreatedAt       time.Time `json:"created_at"`
}

// Validate checks both identities are set.
func (l *IssueLink) Validate() error {
	if l.PortalIssueID <= 0 || l.InternalIssueID <= 0 {
		return fmt.Errorf("%w: issue link needs both portal and internal issue IDs (got %d, %d)",
			ErrInvalidLink, l.PortalIssueID, l.InternalIssueID)
	}
	return nil
}

// CommentLink pairs a comment with the comment it produced on the other side.
type CommentLink struct {
	ID                int64     `json:"id"`
	PortalIssueID     int64     `json:"portal_issue_id"`
	InternalIssueID   int64     `json:"internal_issue_id"`
	PortalCommentID   int64     `json:"portal_comment_id"`
	InternalCommentID int64     `json:"internal_comment_id"`
	CreatedAt         time.Time `json:"created_at"`
}

// Validate checks all four identities are set.
func (l *CommentLink) Validate() error {
	if l.PortalIssueID <= 0 || l.InternalIssueID <= 0 || l.PortalCommentID <= 0 || l.InternalCommentID <= 0 {
		return fmt.Errorf("%w: comment link needs issue and comment IDs on both sides", ErrInvalidLink)
	}
	return nil
}

// Counterpart returns the comment ID on the other side of a comment of type t.
func (l *CommentLink) Counterpart(t CommentType) int64 {
	if t == CommentInternal {
		return l.PortalCommentID
	}
	return l.InternalCommentID
}

// VersionLink pairs a portal project version with an internal project version.
type VersionLink struct {
	ID                int64     `json:"id"`
	PortalVersionID   int64     `json:"portal_version_id"`
	InternalVersionID int64     `json:"internal_version_id"`
	CreatedAt         time.Time `json:"created_at"`
}

// Validate checks both identities are set.
func (l *VersionLink) Validate() error {
	if l.PortalVersionID <= 0 || l.InternalVersionID <= 0 {
		return fmt.Errorf("%w: version link needs both portal and internal version IDs", ErrInvalidLink)
	}
	return nil
}

// LinkFilter narrows link listings.
type LinkFilter struct {
	Since time.Time // only links created at or after Since
	Limit int       // 0 means no limit
}

// LinkStore is the persistence contract for issue, comment and version links.
//
// Issue links are one-to-one: saving a link replaces any link that already uses
// either of its issue IDs. Lookups return ErrNotFound when no link exists.
type LinkStore interface {
	SaveIssueLink(ctx context.Context, portalIssueID, internalIssueID int64) (*IssueLink, error)
	IssueLinkByPortal(ctx context.Context, portalIssueID int64) (*IssueLink, error)
	IssueLinkByInternal(ctx context.Context, internalIssueID int64) (*IssueLink, error)
	// RemoveIssueLink deletes the link keyed by issueID on the given side.
	RemoveIssueLink(ctx context.Context, issueID int64, portal bool) error
	ListIssueLinks(ctx context.Context, filter LinkFilter) ([]*IssueLink, error)

	SaveCommentLink(ctx context.Context, link CommentLink) (*CommentLink, error)
	// CommentLinkByComment finds the link whose t-side comment is commentID.
	CommentLinkByComment(ctx context.Context, t CommentType, commentID int64) (*CommentLink, error)
	ListCommentLinks(ctx context.Context, portalIssueID int64) ([]*CommentLink, error)
	RemoveCommentLinks(ctx context.Context, portalIssueID int64) error

	SaveVersionLink(ctx context.Context, portalVersionID, internalVersionID int64) (*VersionLink, error)
	// RestoreVersion maps a version ID from one project to its counterpart. When
	// targetIsPortal is true versionID is an internal version and the portal
	// counterpart is returned, and vice versa.
	RestoreVersion(ctx context.Context, versionID int64, targetIsPortal bool) (int64, error)
	// RemoveVersionLinks deletes every link that references versionID on either side.
	RemoveVersionLinks(ctx context.Context, versionID int64) error
	ListVersionLinks(ctx context.Context) ([]*VersionLink, error)

	Close() error
}
