package fwmem

import (
	"context"
	"testing"

	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ratio-et-Ars/firewatch/interfaces"
)

func docIDs(snap interfaces.QuerySnapshot) []string {
	ids := make([]string, 0, len(snap.Docs))
	for _, doc := range snap.Docs {
		ids = append(ids, doc.ID)
	}
	return ids
}

func seedMessages(s *Store) {
	s.Seed("users/u1/messages/m1", fields("n", 3, "read", true))
	s.Seed("users/u1/messages/m2", fields("n", 1, "read", false))
	s.Seed("users/u1/messages/m3", fields("n", 2, "read", true))
}

func runQuery(t *testing.T, s *Store, query interfaces.Query) interfaces.QuerySnapshot {
	snap, err := s.RunQuery(context.Background(), query)
	require.NoError(t, err)
	return snap
}

func TestQueryMatchesDirectChildrenOnly(t *testing.T) {
	withStore(t, func(s *Store) {
		s.Seed("users/u1/messages/m1", fields("n", 1))
		s.Seed("users/u1/messages/m1/replies/r1", fields("n", 2))
		s.Seed("users/u2/messages/m9", fields("n", 3))

		snap := runQuery(t, s, interfaces.Query{Collection: "users/u1/messages"})
		assert.Equal(t, []string{"m1"}, docIDs(snap))
	})
}

func TestQueryDefaultOrderIsDocumentID(t *testing.T) {
	withStore(t, func(s *Store) {
		seedMessages(s)
		snap := runQuery(t, s, interfaces.Query{Collection: "users/u1/messages"})
		assert.Equal(t, []string{"m1", "m2", "m3"}, docIDs(snap))
	})
}

func TestQueryOrdering(t *testing.T) {
	t.Run("ascending", func(t *testing.T) {
		withStore(t, func(s *Store) {
			seedMessages(s)
			query := interfaces.Query{Collection: "users/u1/messages"}.OrderBy("n", false)
			assert.Equal(t, []string{"m2", "m3", "m1"}, docIDs(runQuery(t, s, query)))
		})
	})

	t.Run("descending", func(t *testing.T) {
		withStore(t, func(s *Store) {
			seedMessages(s)
			query := interfaces.Query{Collection: "users/u1/messages"}.OrderBy("n", true)
			assert.Equal(t, []string{"m1", "m3", "m2"}, docIDs(runQuery(t, s, query)))
		})
	})

	t.Run("ties fall back to document id", func(t *testing.T) {
		withStore(t, func(s *Store) {
			s.Seed("users/u1/messages/m2", fields("n", 1))
			s.Seed("users/u1/messages/m1", fields("n", 1))
			query := interfaces.Query{Collection: "users/u1/messages"}.OrderBy("n", false)
			assert.Equal(t, []string{"m1", "m2"}, docIDs(runQuery(t, s, query)))
		})
	})

	t.Run("secondary criterion breaks primary ties", func(t *testing.T) {
		withStore(t, func(s *Store) {
			s.Seed("users/u1/messages/m1", fields("a", 1, "b", 2))
			s.Seed("users/u1/messages/m2", fields("a", 1, "b", 1))
			s.Seed("users/u1/messages/m3", fields("a", 0, "b", 9))
			query := interfaces.Query{Collection: "users/u1/messages"}.
				OrderBy("a", false).OrderBy("b", false)
			assert.Equal(t, []string{"m3", "m2", "m1"}, docIDs(runQuery(t, s, query)))
		})
	})
}

func TestQueryFilters(t *testing.T) {
	t.Run("equality", func(t *testing.T) {
		withStore(t, func(s *Store) {
			seedMessages(s)
			query := interfaces.Query{Collection: "users/u1/messages"}.
				Where("read", interfaces.FilterEquals, ldvalue.Bool(true))
			assert.Equal(t, []string{"m1", "m3"}, docIDs(runQuery(t, s, query)))
		})
	})

	t.Run("range operators", func(t *testing.T) {
		withStore(t, func(s *Store) {
			seedMessages(s)
			base := interfaces.Query{Collection: "users/u1/messages"}

			assert.Equal(t, []string{"m2"},
				docIDs(runQuery(t, s, base.Where("n", interfaces.FilterLess, ldvalue.Int(2)))))
			assert.Equal(t, []string{"m2", "m3"},
				docIDs(runQuery(t, s, base.Where("n", interfaces.FilterLessOrEqual, ldvalue.Int(2)))))
			assert.Equal(t, []string{"m1"},
				docIDs(runQuery(t, s, base.Where("n", interfaces.FilterGreater, ldvalue.Int(2)))))
			assert.Equal(t, []string{"m1", "m3"},
				docIDs(runQuery(t, s, base.Where("n", interfaces.FilterGreaterOrEqual, ldvalue.Int(2)))))
		})
	})

	t.Run("mismatched types never match range operators", func(t *testing.T) {
		withStore(t, func(s *Store) {
			s.Seed("users/u1/messages/m1", fields("n", "not a number"))
			query := interfaces.Query{Collection: "users/u1/messages"}.
				Where("n", interfaces.FilterGreater, ldvalue.Int(0))
			assert.Empty(t, docIDs(runQuery(t, s, query)))
		})
	})

	t.Run("filters combine conjunctively", func(t *testing.T) {
		withStore(t, func(s *Store) {
			seedMessages(s)
			query := interfaces.Query{Collection: "users/u1/messages"}.
				Where("read", interfaces.FilterEquals, ldvalue.Bool(true)).
				Where("n", interfaces.FilterLess, ldvalue.Int(3))
			assert.Equal(t, []string{"m3"}, docIDs(runQuery(t, s, query)))
		})
	})
}

func TestQueryLimit(t *testing.T) {
	withStore(t, func(s *Store) {
		seedMessages(s)
		query := interfaces.Query{Collection: "users/u1/messages", Limit: 2}.OrderBy("n", false)
		assert.Equal(t, []string{"m2", "m3"}, docIDs(runQuery(t, s, query)))
	})
}

func TestQueryLimitZeroIsUnbounded(t *testing.T) {
	withStore(t, func(s *Store) {
		seedMessages(s)
		snap := runQuery(t, s, interfaces.Query{Collection: "users/u1/messages"})
		assert.Len(t, snap.Docs, 3)
	})
}
