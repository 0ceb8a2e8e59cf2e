package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"regwatch/internal/domain/entity"
	"regwatch/internal/infra/adapter/persistence/memory"
)

func TestFingerprint(t *testing.T) {
	a := Fingerprint([]byte("<rss/>"))
	assert.Len(t, a, 64)
	assert.Equal(t, a, Fingerprint([]byte("<rss/>")))
	assert.NotEqual(t, a, Fingerprint([]byte("<rss />")))
}

func TestEntryFingerprint_IgnoresSurroundingWhitespace(t *testing.T) {
	published := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	a := FeedEntry{Title: "Guidelines", URL: "https://x/1", PublishedAt: &published}
	b := FeedEntry{Title: "  Guidelines ", URL: "https://x/1\n", PublishedAt: &published}
	assert.Equal(t, EntryFingerprint(a), EntryFingerprint(b))

	later := published.Add(time.Hour)
	c := a
	c.UpdatedAt = &later
	assert.NotEqual(t, EntryFingerprint(a), EntryFingerprint(c))
}

func TestChangeDetector_Unchanged(t *testing.T) {
	d := NewChangeDetector(memory.NewItemRepo())
	src := testSource("EBA")

	assert.False(t, d.Unchanged(src, "H1"), "no stored fingerprint")
	src.Health.LastFingerprint = "H1"
	assert.True(t, d.Unchanged(src, "H1"))
	assert.False(t, d.Unchanged(src, "H2"))
}

func TestChangeDetector_Detect(t *testing.T) {
	ctx := context.Background()
	items := memory.NewItemRepo()
	d := NewChangeDetector(items)
	src := testSource("EBA")
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	entries := []FeedEntry{
		{Title: "A", URL: "https://x/a"},
		{Title: "A", URL: "https://x/a"},
		{Title: "", URL: ""},
		{Title: "B", URL: "https://x/b", ContentType: "guideline"},
	}
	found, err := d.Detect(ctx, src, entries, now)
	require.NoError(t, err)
	require.Len(t, found, 2)
	for _, item := range found {
		assert.Equal(t, entity.ChangeCreated, item.Change)
		assert.Equal(t, item.SubjectID, item.ID)
		assert.Equal(t, entity.StatusPending, item.Status)
		assert.Equal(t, now, item.DiscoveredAt)
		assert.Equal(t, "EU", item.Jurisdiction)
	}
	assert.Equal(t, "guideline", found[1].ContentType)
	require.NoError(t, items.SaveBatch(ctx, found))

	again, err := d.Detect(ctx, src, entries, now)
	require.NoError(t, err)
	assert.Empty(t, again)

	revised, err := d.Detect(ctx, src, []FeedEntry{{Title: "B", URL: "https://x/b", Summary: "amended"}}, now)
	require.NoError(t, err)
	require.Len(t, revised, 1)
	assert.Equal(t, entity.ChangeUpdated, revised[0].Change)
	assert.Equal(t, found[1].SubjectID, revised[0].SubjectID)
	assert.NotEqual(t, found[1].ID, revised[0].ID)
}

func TestChangeDetector_DetectEmpty(t *testing.T) {
	found, err := NewChangeDetector(memory.NewItemRepo()).Detect(context.Background(), testSource("EBA"), nil, time.Now())
	require.NoError(t, err)
	assert.Nil(t, found)
}
