package store_test

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-posts/config"
	"go-posts/internal/model"
	"go-posts/internal/query"
	"go-posts/internal/store"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()

	s, err := store.Open(config.DatabaseConfig{
		Driver: config.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "posts.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func candidate(i int) model.CandidatePost {
	return model.CandidatePost{
		Title:       fmt.Sprintf("Post %d", i),
		Description: fmt.Sprintf("Description %d", i),
		Link:        fmt.Sprintf("https://medium.com/%d", i),
		PubDate:     time.Date(2024, 1, 1, 0, i, 0, 0, time.UTC),
	}
}

func seed(t *testing.T, s *store.Store, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := s.Create(context.Background(), candidate(i))
		require.NoError(t, err)
	}
}

func titles(posts []model.Post) []string {
	out := make([]string, len(posts))
	for i, p := range posts {
		out[i] = p.Title
	}
	return out
}

func list(t *testing.T, s *store.Store, p query.Params) ([]model.Post, int64) {
	t.Helper()

	d, err := query.Build(p)
	require.NoError(t, err)

	posts, err := s.FindMany(context.Background(), d)
	require.NoError(t, err)
	total, err := s.Count(context.Background(), d.Predicate)
	require.NoError(t, err)

	return posts, total
}

func TestCreateAssignsID(t *testing.T) {
	s := openStore(t)

	post, err := s.Create(context.Background(), candidate(1))
	require.NoError(t, err)
	assert.NotZero(t, post.ID)

	got, err := s.FindByID(context.Background(), post.ID)
	require.NoError(t, err)
	assert.Equal(t, "Post 1", got.Title)
	assert.True(t, got.PubDate.Equal(candidate(1).PubDate))
}

func TestCreateDuplicateLink(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, candidate(1))
	require.NoError(t, err)

	dup := candidate(2)
	dup.Link = candidate(1).Link
	_, err = s.Create(ctx, dup)
	require.ErrorIs(t, err, store.ErrDuplicateLink)

	total, err := s.Count(ctx, query.Predicate{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
}

func TestFindByIDNotFound(t *testing.T) {
	s := openStore(t)

	_, err := s.FindByID(context.Background(), 42)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPagination(t *testing.T) {
	s := openStore(t)
	seed(t, s, 20)

	tests := []struct {
		page, limit int
		want        int
	}{
		{page: 1, limit: 10, want: 10},
		{page: 2, limit: 2, want: 2},
		{page: 3, limit: 8, want: 4},
		{page: 5, limit: 5, want: 0},
		{page: 1, limit: 1000, want: 20},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("page %d limit %d", tt.page, tt.limit), func(t *testing.T) {
			posts, total := list(t, s, query.Params{Page: tt.page, Limit: tt.limit})
			assert.Len(t, posts, tt.want)
			assert.EqualValues(t, 20, total)
		})
	}
}

func TestHugePageIsEmpty(t *testing.T) {
	s := openStore(t)
	seed(t, s, 5)

	posts, total := list(t, s, query.Params{Page: math.MaxInt64 / 50, Limit: 100})
	assert.Empty(t, posts)
	assert.EqualValues(t, 5, total)
}

func TestDefaultOrderingIsInsertionOrder(t *testing.T) {
	s := openStore(t)
	seed(t, s, 3)

	posts, _ := list(t, s, query.Params{Sort: "garbage"})
	assert.Equal(t, []string{"Post 0", "Post 1", "Post 2"}, titles(posts))
}

func TestLimitCeiling(t *testing.T) {
	s := openStore(t)
	seed(t, s, 105)

	posts, total := list(t, s, query.Params{Limit: 1000})
	assert.Len(t, posts, query.MaxLimit)
	assert.EqualValues(t, 105, total)
}

func TestSearchIsCaseInsensitiveSubstring(t *testing.T) {
	s := openStore(t)
	seed(t, s, 20)

	for _, term := range []string{"13", "POST 13", "post 13"} {
		posts, total := list(t, s, query.Params{Search: term})
		require.Len(t, posts, 1, term)
		assert.Equal(t, "Post 13", posts[0].Title)
		assert.EqualValues(t, 1, total)
	}
}

func TestSearchMatchesDescriptionAndLink(t *testing.T) {
	s := openStore(t)
	seed(t, s, 3)

	posts, _ := list(t, s, query.Params{Search: "DESCRIPTION 2"})
	assert.Equal(t, []string{"Post 2"}, titles(posts))

	posts, _ = list(t, s, query.Params{Search: "medium.com/1"})
	assert.Equal(t, []string{"Post 1"}, titles(posts))
}

func TestSearchFoldsNonASCIICase(t *testing.T) {
	s := openStore(t)
	seed(t, s, 3)

	c := candidate(13)
	c.Title = "Пост 13"
	c.Description = "Über Straße"
	_, err := s.Create(context.Background(), c)
	require.NoError(t, err)

	for _, term := range []string{"Пост 13", "ПОСТ 13", "пост 13", "über", "ÜBER"} {
		posts, total := list(t, s, query.Params{Search: term})
		require.Len(t, posts, 1, term)
		assert.Equal(t, "Пост 13", posts[0].Title)
		assert.EqualValues(t, 1, total, term)
	}
}

func TestSearchEscapesWildcards(t *testing.T) {
	s := openStore(t)
	seed(t, s, 3)

	posts, total := list(t, s, query.Params{Search: "%"})
	assert.Empty(t, posts)
	assert.Zero(t, total)
}

func TestFilterExactMatch(t *testing.T) {
	s := openStore(t)
	seed(t, s, 20)

	posts, total := list(t, s, query.Params{Filter: map[string]string{"link": "https://medium.com/7"}})
	require.Len(t, posts, 1)
	assert.Equal(t, "Post 7", posts[0].Title)
	assert.EqualValues(t, 1, total)
}

func TestFilterNarrowsSearch(t *testing.T) {
	s := openStore(t)
	seed(t, s, 20)

	posts, total := list(t, s, query.Params{
		Search: "1",
		Filter: map[string]string{"title": "Post 7"},
	})
	assert.Empty(t, posts)
	assert.Zero(t, total)

	posts, total = list(t, s, query.Params{
		Search: "1",
		Filter: map[string]string{"title": "Post 17"},
	})
	assert.Equal(t, []string{"Post 17"}, titles(posts))
	assert.EqualValues(t, 1, total)
}

func TestFilterByPubDate(t *testing.T) {
	s := openStore(t)
	seed(t, s, 5)

	posts, _ := list(t, s, query.Params{
		Filter: map[string]string{"pubDate": "2024-01-01T00:03:00.000Z"},
	})
	assert.Equal(t, []string{"Post 3"}, titles(posts))
}

func TestSortIsLexicographic(t *testing.T) {
	s := openStore(t)
	seed(t, s, 20)

	posts, total := list(t, s, query.Params{Sort: "title:desc", Limit: 2, Page: 2})
	assert.Equal(t, []string{"Post 7", "Post 6"}, titles(posts))
	assert.EqualValues(t, 20, total)
}

func TestSortByPubDate(t *testing.T) {
	s := openStore(t)
	seed(t, s, 3)

	posts, _ := list(t, s, query.Params{Sort: "pubDate:desc"})
	assert.Equal(t, []string{"Post 2", "Post 1", "Post 0"}, titles(posts))
}

func TestUpdate(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	seed(t, s, 2)

	title := "Test Post (updated)"
	post, err := s.Update(ctx, 1, model.PostPatch{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, title, post.Title)
	assert.Equal(t, "Description 0", post.Description)

	link := candidate(1).Link
	_, err = s.Update(ctx, 1, model.PostPatch{Link: &link})
	assert.ErrorIs(t, err, store.ErrDuplicateLink)

	_, err = s.Update(ctx, 99, model.PostPatch{Title: &title})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDelete(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	seed(t, s, 1)

	post, err := s.Delete(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Post 0", post.Title)

	_, err = s.FindByID(ctx, 1)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.Delete(ctx, 1)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestIngestionRuns(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	last, err := s.LastRun(ctx)
	require.NoError(t, err)
	assert.Nil(t, last)

	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.RecordRun(ctx, &model.IngestionRun{StartedAt: start, Inserted: 3}))
	require.NoError(t, s.RecordRun(ctx, &model.IngestionRun{StartedAt: start.Add(time.Hour), Error: "fetch feed: boom"}))

	last, err = s.LastRun(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.True(t, last.Failed())
	assert.Equal(t, "fetch feed: boom", last.Error)
}
