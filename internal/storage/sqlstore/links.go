package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/steveyegge/portalsync/internal/storage"
)

const issueLinkColumns = `id, portal_issue_id, internal_issue_id, created_at`

// SaveIssueLink stores portal<->internal, replacing any link that already uses
// either issue.
func (s *Store) SaveIssueLink(ctx context.Context, portalIssueID, internalIssueID int64) (*storage.IssueLink, error) {
	link := &storage.IssueLink{PortalIssueID: portalIssueID, InternalIssueID: internalIssueID}
	if err := link.Validate(); err != nil {
		return nil, err
	}
	created := s.timestamp()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM issue_links WHERE portal_issue_id = ? OR internal_issue_id = ?`,
			portalIssueID, internalIssueID); err != nil {
			return fmt.Errorf("clear previous links: %w", err)
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO issue_links (portal_issue_id, internal_issue_id, created_at) VALUES (?, ?, ?)`,
			portalIssueID, internalIssueID, created)
		if err != nil {
			return fmt.Errorf("insert link: %w", err)
		}
		link.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("save issue link %d->%d: %w", portalIssueID, internalIssueID, err)
	}
	link.CreatedAt = fromTimestamp(created)
	return link, nil
}

// IssueLinkByPortal returns the link whose portal side is portalIssueID.
func (s *Store) IssueLinkByPortal(ctx context.Context, portalIssueID int64) (*storage.IssueLink, error) {
	return s.issueLinkWhere(ctx, "portal_issue_id", portalIssueID)
}

// IssueLinkByInternal returns the link whose internal side is internalIssueID.
func (s *Store) IssueLinkByInternal(ctx context.Context, internalIssueID int64) (*storage.IssueLink, error) {
	return s.issueLinkWhere(ctx, "internal_issue_id", internalIssueID)
}

func (s *Store) issueLinkWhere(ctx context.Context, column string, id int64) (*storage.IssueLink, error) {
	var l storage.IssueLink
	var created int64
	err := s.queryRow(ctx, func(row *sql.Row) error {
		return row.Scan(&l.ID, &l.PortalIssueID, &l.InternalIssueID, &created)
	}, `SELECT `+issueLinkColumns+` FROM issue_links WHERE `+column+` = ?`, id)
	if err != nil {
		return nil, wrapDBError(fmt.Sprintf("issue link by %s %d", column, id), err)
	}
	l.CreatedAt = fromTimestamp(created)
	return &l, nil
}

// RemoveIssueLink deletes the link keyed by issueID on the given side.
func (s *Store) RemoveIssueLink(ctx context.Context, issueID int64, portal bool) error {
	column := "internal_issue_id"
	if portal {
		column = "portal_issue_id"
	}
	if _, err := s.exec(ctx, `DELETE FROM issue_links WHERE `+column+` = ?`, issueID); err != nil {
		return fmt.Errorf("remove issue link %d: %w", issueID, err)
	}
	return nil
}

// ListIssueLinks returns links newest first.
func (s *Store) ListIssueLinks(ctx context.Context, filter storage.LinkFilter) ([]*storage.IssueLink, error) {
	query := `SELECT ` + issueLinkColumns + ` FROM issue_links`
	var args []any
	if !filter.Since.IsZero() {
		query += ` WHERE created_at >= ?`
		args = append(args, filter.Since.UTC().UnixNano())
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, filter.Limit)
	}

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list issue links: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var links []*storage.IssueLink
	for rows.Next() {
		var l storage.IssueLink
		var created int64
		if err := rows.Scan(&l.ID, &l.PortalIssueID, &l.InternalIssueID, &created); err != nil {
			return nil, fmt.Errorf("scan issue link: %w", err)
		}
		l.CreatedAt = fromTimestamp(created)
		links = append(links, &l)
	}
	return links, rows.Err()
}

const commentLinkColumns = `id, portal_issue_id, internal_issue_id, portal_comment_id, internal_comment_id, created_at`

// SaveCommentLink stores a comment correspondence, replacing any link that already
// uses either comment.
func (s *Store) SaveCommentLink(ctx context.Context, link storage.CommentLink) (*storage.CommentLink, error) {
	if err := link.Validate(); err != nil {
		return nil, err
	}
	created := s.timestamp()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM comment_links WHERE portal_comment_id = ? OR internal_comment_id = ?`,
			link.PortalCommentID, link.InternalCommentID); err != nil {
			return fmt.Errorf("clear previous comment links: %w", err)
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO comment_links (portal_issue_id, internal_issue_id, portal_comment_id, internal_comment_id, created_at)
			 VALUES (?, ?, ?, ?, ?)`,
			link.PortalIssueID, link.InternalIssueID, link.PortalCommentID, link.InternalCommentID, created)
		if err != nil {
			return fmt.Errorf("insert comment link: %w", err)
		}
		link.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("save comment link %d<->%d: %w", link.PortalCommentID, link.InternalCommentID, err)
	}
	link.CreatedAt = fromTimestamp(created)
	return &link, nil
}

// CommentLinkByComment finds the link whose t-side comment is commentID.
func (s *Store) CommentLinkByComment(ctx context.Context, t storage.CommentType, commentID int64) (*storage.CommentLink, error) {
	var column string
	switch t {
	case storage.CommentInternal:
		column = "internal_comment_id"
	case storage.CommentPortal:
		column = "portal_comment_id"
	default:
		return nil, fmt.Errorf("unknown comment type %q", t)
	}

	var l storage.CommentLink
	var created int64
	err := s.queryRow(ctx, func(row *sql.Row) error {
		return row.Scan(&l.ID, &l.PortalIssueID, &l.InternalIssueID, &l.PortalCommentID, &l.InternalCommentID, &created)
	}, `SELECT `+commentLinkColumns+` FROM comment_links WHERE `+column+` = ?`, commentID)
	if err != nil {
		return nil, wrapDBError(fmt.Sprintf("comment link by %s comment %d", t, commentID), err)
	}
	l.CreatedAt = fromTimestamp(created)
	return &l, nil
}

// ListCommentLinks returns the comment links owned by a portal issue.
func (s *Store) ListCommentLinks(ctx context.Context, portalIssueID int64) ([]*storage.CommentLink, error) {
	rows, err := s.query(ctx,
		`SELECT `+commentLinkColumns+` FROM comment_links WHERE portal_issue_id = ? ORDER BY id`, portalIssueID)
	if err != nil {
		return nil, fmt.Errorf("list comment links for %d: %w", portalIssueID, err)
	}
	defer func() { _ = rows.Close() }()

	var links []*storage.CommentLink
	for rows.Next() {
		var l storage.CommentLink
		var created int64
		if err := rows.Scan(&l.ID, &l.PortalIssueID, &l.InternalIssueID, &l.PortalCommentID, &l.InternalCommentID, &created); err != nil {
			return nil, fmt.Errorf("scan comment link: %w", err)
		}
		l.CreatedAt = fromTimestamp(created)
		links = append(links, &l)
	}
	return links, rows.Err()
}

// RemoveCommentLinks deletes the comment links owned by a portal issue.
func (s *Store) RemoveCommentLinks(ctx context.Context, portalIssueID int64) error {
	if _, err := s.exec(ctx, `DELETE FROM comment_links WHERE portal_issue_id = ?`, portalIssueID); err != nil {
		return fmt.Errorf("remove comment links for %d: %w", portalIssueID, err)
	}
	return nil
}

// SaveVersionLink stores a version correspondence, replacing any link that already
// uses either version.
func (s *Store) SaveVersionLink(ctx context.Context, portalVersionID, internalVersionID int64) (*storage.VersionLink, error) {
	link := &storage.VersionLink{PortalVersionID: portalVersionID, InternalVersionID: internalVersionID}
	if err := link.Validate(); err != nil {
		return nil, err
	}
	created := s.timestamp()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM version_links WHERE portal_version_id = ? OR internal_version_id = ?`,
			portalVersionID, internalVersionID); err != nil {
			return fmt.Errorf("clear previous version links: %w", err)
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO version_links (portal_version_id, internal_version_id, created_at) VALUES (?, ?, ?)`,
			portalVersionID, internalVersionID, created)
		if err != nil {
			return fmt.Errorf("insert version link: %w", err)
		}
		link.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("save version link %d<->%d: %w", portalVersionID, internalVersionID, err)
	}
	link.CreatedAt = fromTimestamp(created)
	return link, nil
}

// RestoreVersion maps versionID to its counterpart on the target side.
func (s *Store) RestoreVersion(ctx context.Context, versionID int64, targetIsPortal bool) (int64, error) {
	from, to := "portal_version_id", "internal_version_id"
	if targetIsPortal {
		from, to = to, from
	}
	var counterpart int64
	err := s.queryRow(ctx, func(row *sql.Row) error {
		return row.Scan(&counterpart)
	}, `SELECT `+to+` FROM version_links WHERE `+from+` = ?`, versionID)
	if err != nil {
		return 0, wrapDBError(fmt.Sprintf("restore version %d", versionID), err)
	}
	return counterpart, nil
}

// RemoveVersionLinks deletes every link that references versionID.
func (s *Store) RemoveVersionLinks(ctx context.Context, versionID int64) error {
	if _, err := s.exec(ctx,
		`DELETE FROM version_links WHERE portal_version_id = ? OR internal_version_id = ?`,
		versionID, versionID); err != nil {
		return fmt.Errorf("remove version links for %d: %w", versionID, err)
	}
	return nil
}

// ListVersionLinks returns all version links.
func (s *Store) ListVersionLinks(ctx context.Context) ([]*storage.VersionLink, error) {
	rows, err := s.query(ctx,
		`SELECT id, portal_version_id, internal_version_id, created_at FROM version_links ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list version links: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var links []*storage.VersionLink
	for rows.Next() {
		var l storage.VersionLink
		var created int64
		if err := rows.Scan(&l.ID, &l.PortalVersionID, &l.InternalVersionID, &created); err != nil {
			return nil, fmt.Errorf("scan version link: %w", err)
		}
		l.CreatedAt = fromTimestamp(created)
		links = append(links, &l)
	}
	return links, rows.Err()
}
