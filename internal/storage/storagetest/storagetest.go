// Package storagetest holds the behaviour every storage.LinkStore backend must share.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/portalsync/internal/storage"
)

// Run exercises a LinkStore returned fresh by open for every subtest.
func Run(t *testing.T, open func(t *testing.T) storage.LinkStore) {
	t.Helper()

	t.Run("IssueLinkRoundTrip", func(t *testing.T) {
		s, ctx := open(t), context.Background()

		saved, err := s.SaveIssueLink(ctx, 10, 20)
		require.NoError(t, err)
		assert.NotZero(t, saved.ID)
		assert.False(t, saved.CreatedAt.IsZero())

		byPortal, err := s.IssueLinkByPortal(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, int64(20), byPortal.InternalIssueID)

		byInternal, err := s.IssueLinkByInternal(ctx, 20)
		require.NoError(t, err)
		assert.Equal(t, int64(10), byInternal.PortalIssueID)
	})

	t.Run("IssueLinkMissing", func(t *testing.T) {
		s, ctx := open(t), context.Background()

		_, err := s.IssueLinkByPortal(ctx, 99)
		assert.ErrorIs(t, err, storage.ErrNotFound)
		_, err = s.IssueLinkByInternal(ctx, 99)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("IssueLinkOneToOne", func(t *testing.T) {
		s, ctx := open(t), context.Background()

		_, err := s.SaveIssueLink(ctx, 1, 2)
		require.NoError(t, err)
		_, err = s.SaveIssueLink(ctx, 1, 3)
		require.NoError(t, err)

		link, err := s.IssueLinkByPortal(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(3), link.InternalIssueID)

		_, err = s.IssueLinkByInternal(ctx, 2)
		assert.ErrorIs(t, err, storage.ErrNotFound, "replaced link must be gone")

		_, err = s.SaveIssueLink(ctx, 4, 3)
		require.NoError(t, err)
		_, err = s.IssueLinkByPortal(ctx, 1)
		assert.ErrorIs(t, err, storage.ErrNotFound, "internal issue 3 moved to portal 4")

		links, err := s.ListIssueLinks(ctx, storage.LinkFilter{})
		require.NoError(t, err)
		assert.Len(t, links, 1)
	})

	t.Run("IssueLinkInvalid", func(t *testing.T) {
		s, ctx := open(t), context.Background()

		_, err := s.SaveIssueLink(ctx, 0, 2)
		assert.ErrorIs(t, err, storage.ErrInvalidLink)
	})

	t.Run("RemoveIssueLinkBySide", func(t *testing.T) {
		s, ctx := open(t), context.Background()

		_, err := s.SaveIssueLink(ctx, 1, 2)
		require.NoError(t, err)
		_, err = s.SaveIssueLink(ctx, 3, 4)
		require.NoError(t, err)

		// The portal column does not contain 2, so nothing goes.
		require.NoError(t, s.RemoveIssueLink(ctx, 2, true))
		_, err = s.IssueLinkByInternal(ctx, 2)
		require.NoError(t, err)

		require.NoError(t, s.RemoveIssueLink(ctx, 2, false))
		_, err = s.IssueLinkByInternal(ctx, 2)
		assert.ErrorIs(t, err, storage.ErrNotFound)

		require.NoError(t, s.RemoveIssueLink(ctx, 3, true))
		_, err = s.IssueLinkByPortal(ctx, 3)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("ListIssueLinksLimit", func(t *testing.T) {
		s, ctx := open(t), context.Background()

		for i := int64(1); i <= 5; i++ {
			_, err := s.SaveIssueLink(ctx, i, i+100)
			require.NoError(t, err)
		}
		links, err := s.ListIssueLinks(ctx, storage.LinkFilter{Limit: 2})
		require.NoError(t, err)
		assert.Len(t, links, 2)

		links, err = s.ListIssueLinks(ctx, storage.LinkFilter{Since: time.Now().Add(time.Hour)})
		require.NoError(t, err)
		assert.Empty(t, links)
	})

	t.Run("CommentLinks", func(t *testing.T) {
		s, ctx := open(t), context.Background()

		_, err := s.SaveCommentLink(ctx, storage.CommentLink{
			PortalIssueID: 1, InternalIssueID: 2, PortalCommentID: 11, InternalCommentID: 21,
		})
		require.NoError(t, err)
		_, err = s.SaveCommentLink(ctx, storage.CommentLink{
			PortalIssueID: 1, InternalIssueID: 2, PortalCommentID: 12, InternalCommentID: 22,
		})
		require.NoError(t, err)

		link, err := s.CommentLinkByComment(ctx, storage.CommentInternal, 21)
		require.NoError(t, err)
		assert.Equal(t, int64(11), link.Counterpart(storage.CommentInternal))

		link, err = s.CommentLinkByComment(ctx, storage.CommentPortal, 12)
		require.NoError(t, err)
		assert.Equal(t, int64(22), link.Counterpart(storage.CommentPortal))

		_, err = s.CommentLinkByComment(ctx, storage.CommentPortal, 21)
		assert.ErrorIs(t, err, storage.ErrNotFound, "lookup is scoped to the comment's side")

		links, err := s.ListCommentLinks(ctx, 1)
		require.NoError(t, err)
		assert.Len(t, links, 2)

		require.NoError(t, s.RemoveCommentLinks(ctx, 1))
		links, err = s.ListCommentLinks(ctx, 1)
		require.NoError(t, err)
		assert.Empty(t, links)
	})

	t.Run("VersionLinks", func(t *testing.T) {
		s, ctx := open(t), context.Background()

		_, err := s.SaveVersionLink(ctx, 100, 200)
		require.NoError(t, err)

		got, err := s.RestoreVersion(ctx, 200, true)
		require.NoError(t, err)
		assert.Equal(t, int64(100), got)

		got, err = s.RestoreVersion(ctx, 100, false)
		require.NoError(t, err)
		assert.Equal(t, int64(200), got)

		_, err = s.RestoreVersion(ctx, 100, true)
		assert.ErrorIs(t, err, storage.ErrNotFound, "100 is a portal version")

		require.NoError(t, s.RemoveVersionLinks(ctx, 200))
		links, err := s.ListVersionLinks(ctx)
		require.NoError(t, err)
		assert.Empty(t, links)
	})
}
