package fwmem

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/launchdarkly/go-sdk-common/v3/ldlog"
	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"
	th "github.com/launchdarkly/go-test-helpers/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ratio-et-Ars/firewatch/interfaces"
)

func fields(kvs ...interface{}) ldvalue.Value {
	b := ldvalue.ObjectBuild()
	for i := 0; i < len(kvs); i += 2 {
		b.Set(kvs[i].(string), ldvalue.CopyArbitraryValue(kvs[i+1]))
	}
	return b.Build()
}

func withStore(t *testing.T, action func(s *Store)) {
	s := New(ldlog.NewDisabledLoggers())
	defer s.Close()
	action(s)
}

func TestGetDocument(t *testing.T) {
	t.Run("missing document", func(t *testing.T) {
		withStore(t, func(s *Store) {
			snap, err := s.GetDocument(context.Background(), "users/u1")
			require.NoError(t, err)
			assert.Equal(t, "u1", snap.ID)
			assert.False(t, snap.Exists)
		})
	})

	t.Run("seeded document", func(t *testing.T) {
		withStore(t, func(s *Store) {
			s.Seed("users/u1", fields("name", "Ada"))
			snap, err := s.GetDocument(context.Background(), "users/u1")
			require.NoError(t, err)
			assert.True(t, snap.Exists)
			assert.Equal(t, ldvalue.String("Ada"), snap.Fields.GetByKey("name"))
		})
	})
}

func TestGetDocumentCached(t *testing.T) {
	t.Run("miss before any read", func(t *testing.T) {
		withStore(t, func(s *Store) {
			s.Seed("users/u1", fields("name", "Ada"))
			_, err := s.GetDocumentCached(context.Background(), "users/u1")
			assert.True(t, errors.Is(err, interfaces.ErrCacheMiss))
		})
	})

	t.Run("hit after a server read", func(t *testing.T) {
		withStore(t, func(s *Store) {
			s.Seed("users/u1", fields("name", "Ada"))
			_, err := s.GetDocument(context.Background(), "users/u1")
			require.NoError(t, err)

			snap, err := s.GetDocumentCached(context.Background(), "users/u1")
			require.NoError(t, err)
			assert.True(t, snap.Exists)
			assert.Equal(t, ldvalue.String("Ada"), snap.Fields.GetByKey("name"))
		})
	})

	t.Run("hit after a local write", func(t *testing.T) {
		withStore(t, func(s *Store) {
			require.NoError(t, s.SetDocument(context.Background(), "users/u1", fields("name", "Ada"), false))

			snap, err := s.GetDocumentCached(context.Background(), "users/u1")
			require.NoError(t, err)
			assert.True(t, snap.Exists)
		})
	})

	t.Run("miss again after delete", func(t *testing.T) {
		withStore(t, func(s *Store) {
			require.NoError(t, s.SetDocument(context.Background(), "users/u1", fields("name", "Ada"), false))
			require.NoError(t, s.DeleteDocument(context.Background(), "users/u1"))

			_, err := s.GetDocumentCached(context.Background(), "users/u1")
			assert.True(t, errors.Is(err, interfaces.ErrCacheMiss))
		})
	})
}

func TestSetDocument(t *testing.T) {
	t.Run("overwrite replaces all fields", func(t *testing.T) {
		withStore(t, func(s *Store) {
			s.Seed("users/u1", fields("name", "Ada", "age", 36))
			require.NoError(t, s.SetDocument(context.Background(), "users/u1", fields("name", "Grace"), false))

			snap, _ := s.GetDocument(context.Background(), "users/u1")
			assert.Equal(t, ldvalue.String("Grace"), snap.Fields.GetByKey("name"))
			assert.Equal(t, ldvalue.Null(), snap.Fields.GetByKey("age"))
		})
	})

	t.Run("merge keeps unrelated fields", func(t *testing.T) {
		withStore(t, func(s *Store) {
			s.Seed("users/u1", fields("name", "Ada", "age", 36))
			require.NoError(t, s.SetDocument(context.Background(), "users/u1", fields("name", "Grace"), true))

			snap, _ := s.GetDocument(context.Background(), "users/u1")
			assert.Equal(t, ldvalue.String("Grace"), snap.Fields.GetByKey("name"))
			assert.Equal(t, ldvalue.Int(36), snap.Fields.GetByKey("age"))
		})
	})

	t.Run("merge on missing document creates it", func(t *testing.T) {
		withStore(t, func(s *Store) {
			require.NoError(t, s.SetDocument(context.Background(), "users/u1", fields("name", "Ada"), true))

			snap, _ := s.GetDocument(context.Background(), "users/u1")
			assert.True(t, snap.Exists)
		})
	})
}

func TestUpdateDocument(t *testing.T) {
	t.Run("merges into existing document", func(t *testing.T) {
		withStore(t, func(s *Store) {
			s.Seed("users/u1", fields("name", "Ada", "age", 36))
			require.NoError(t, s.UpdateDocument(context.Background(), "users/u1", fields("age", 37)))

			snap, _ := s.GetDocument(context.Background(), "users/u1")
			assert.Equal(t, ldvalue.String("Ada"), snap.Fields.GetByKey("name"))
			assert.Equal(t, ldvalue.Int(37), snap.Fields.GetByKey("age"))
		})
	})

	t.Run("fails on missing document", func(t *testing.T) {
		withStore(t, func(s *Store) {
			err := s.UpdateDocument(context.Background(), "users/u1", fields("age", 37))
			assert.Error(t, err)
		})
	})
}

func TestAddDocument(t *testing.T) {
	withStore(t, func(s *Store) {
		id1, err := s.AddDocument(context.Background(), "users/u1/messages", fields("n", 1))
		require.NoError(t, err)
		id2, err := s.AddDocument(context.Background(), "users/u1/messages", fields("n", 2))
		require.NoError(t, err)

		assert.NotEqual(t, id1, id2)
		// ULIDs sort by creation time, which gives collections a stable default order
		assert.Less(t, id1, id2)

		snap, _ := s.GetDocument(context.Background(), "users/u1/messages/"+id1)
		assert.True(t, snap.Exists)
		assert.Equal(t, id1, snap.ID)
	})
}

func TestDeleteDocument(t *testing.T) {
	t.Run("removes the document", func(t *testing.T) {
		withStore(t, func(s *Store) {
			s.Seed("users/u1", fields("name", "Ada"))
			require.NoError(t, s.DeleteDocument(context.Background(), "users/u1"))

			snap, _ := s.GetDocument(context.Background(), "users/u1")
			assert.False(t, snap.Exists)
		})
	})

	t.Run("missing document is not an error", func(t *testing.T) {
		withStore(t, func(s *Store) {
			assert.NoError(t, s.DeleteDocument(context.Background(), "users/u1"))
		})
	})
}

func TestWatchDocument(t *testing.T) {
	t.Run("delivers current state immediately", func(t *testing.T) {
		withStore(t, func(s *Store) {
			s.Seed("users/u1", fields("name", "Ada"))
			sub, err := s.WatchDocument("users/u1", interfaces.WatchOptions{})
			require.NoError(t, err)
			defer sub.Close()

			snap := th.RequireValue(t, sub.Snapshots(), time.Second)
			assert.True(t, snap.Exists)
			assert.Equal(t, ldvalue.String("Ada"), snap.Fields.GetByKey("name"))
		})
	})

	t.Run("missing document yields a non-existent snapshot", func(t *testing.T) {
		withStore(t, func(s *Store) {
			sub, err := s.WatchDocument("users/u1", interfaces.WatchOptions{})
			require.NoError(t, err)
			defer sub.Close()

			snap := th.RequireValue(t, sub.Snapshots(), time.Second)
			assert.False(t, snap.Exists)
		})
	})

	t.Run("delivers changes", func(t *testing.T) {
		withStore(t, func(s *Store) {
			sub, err := s.WatchDocument("users/u1", interfaces.WatchOptions{})
			require.NoError(t, err)
			defer sub.Close()
			_ = th.RequireValue(t, sub.Snapshots(), time.Second)

			s.Seed("users/u1", fields("name", "Ada"))
			snap := th.RequireValue(t, sub.Snapshots(), time.Second)
			assert.True(t, snap.Exists)

			s.SeedRemove("users/u1")
			snap = th.RequireValue(t, sub.Snapshots(), time.Second)
			assert.False(t, snap.Exists)
		})
	})

	t.Run("pendency metadata", func(t *testing.T) {
		withStore(t, func(s *Store) {
			sub, err := s.WatchDocument("users/u1", interfaces.WatchOptions{IncludeMetadata: true})
			require.NoError(t, err)
			defer sub.Close()
			_ = th.RequireValue(t, sub.Snapshots(), time.Second)

			s.HoldWrites()
			require.NoError(t, s.SetDocument(context.Background(), "users/u1", fields("name", "Ada"), false))
			snap := th.RequireValue(t, sub.Snapshots(), time.Second)
			assert.True(t, snap.Exists)
			assert.True(t, snap.HasPendingWrites)

			s.ReleaseWrites()
			snap = th.RequireValue(t, sub.Snapshots(), time.Second)
			assert.True(t, snap.Exists)
			assert.False(t, snap.HasPendingWrites)
		})
	})

	t.Run("metadata omitted unless requested", func(t *testing.T) {
		withStore(t, func(s *Store) {
			sub, err := s.WatchDocument("users/u1", interfaces.WatchOptions{})
			require.NoError(t, err)
			defer sub.Close()
			_ = th.RequireValue(t, sub.Snapshots(), time.Second)

			s.HoldWrites()
			require.NoError(t, s.SetDocument(context.Background(), "users/u1", fields("name", "Ada"), false))
			snap := th.RequireValue(t, sub.Snapshots(), time.Second)
			assert.False(t, snap.HasPendingWrites)
		})
	})

	t.Run("close ends the channels", func(t *testing.T) {
		withStore(t, func(s *Store) {
			sub, err := s.WatchDocument("users/u1", interfaces.WatchOptions{})
			require.NoError(t, err)
			_ = th.RequireValue(t, sub.Snapshots(), time.Second)

			sub.Close()
			th.AssertChannelClosed(t, sub.Snapshots(), time.Second)

			// A change after close must not panic
			s.Seed("users/u1", fields("name", "Ada"))
		})
	})
}

func TestWatchQuery(t *testing.T) {
	baseQuery := interfaces.Query{Collection: "users/u1/messages"}

	t.Run("delivers current result immediately", func(t *testing.T) {
		withStore(t, func(s *Store) {
			s.Seed("users/u1/messages/m1", fields("n", 1))
			sub, err := s.WatchQuery(baseQuery)
			require.NoError(t, err)
			defer sub.Close()

			snap := th.RequireValue(t, sub.Snapshots(), time.Second)
			require.Len(t, snap.Docs, 1)
			assert.Equal(t, "m1", snap.Docs[0].ID)
		})
	})

	t.Run("delivers changes to matching documents", func(t *testing.T) {
		withStore(t, func(s *Store) {
			sub, err := s.WatchQuery(baseQuery)
			require.NoError(t, err)
			defer sub.Close()
			_ = th.RequireValue(t, sub.Snapshots(), time.Second)

			s.Seed("users/u1/messages/m1", fields("n", 1))
			snap := th.RequireValue(t, sub.Snapshots(), time.Second)
			assert.Len(t, snap.Docs, 1)

			s.SeedRemove("users/u1/messages/m1")
			snap = th.RequireValue(t, sub.Snapshots(), time.Second)
			assert.Len(t, snap.Docs, 0)
		})
	})

	t.Run("unchanged results are not re-delivered", func(t *testing.T) {
		withStore(t, func(s *Store) {
			s.Seed("users/u1/messages/m1", fields("n", 1))
			sub, err := s.WatchQuery(baseQuery)
			require.NoError(t, err)
			defer sub.Close()
			_ = th.RequireValue(t, sub.Snapshots(), time.Second)

			// A change in an unrelated collection re-evaluates nothing here
			s.Seed("users/u2/messages/m1", fields("n", 1))
			// Re-seeding identical data dedupes on the result key
			s.Seed("users/u1/messages/m1", fields("n", 1))

			th.AssertNoMoreValues(t, sub.Snapshots(), 100*time.Millisecond)
		})
	})
}

func TestFailSubscriptions(t *testing.T) {
	withStore(t, func(s *Store) {
		docSub, err := s.WatchDocument("users/u1", interfaces.WatchOptions{})
		require.NoError(t, err)
		defer docSub.Close()
		querySub, err := s.WatchQuery(interfaces.Query{Collection: "users/u1/messages"})
		require.NoError(t, err)
		defer querySub.Close()

		failure := errors.New("stream broke")
		s.FailSubscriptions(failure)

		assert.Equal(t, failure, th.RequireValue(t, docSub.Errors(), time.Second))
		assert.Equal(t, failure, th.RequireValue(t, querySub.Errors(), time.Second))
	})
}
