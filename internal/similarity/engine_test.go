package similarity

import (
	"context"
	"fmt"
	"testing"

	"bitwise74/media-api/db"
	"bitwise74/media-api/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func seedFile(t *testing.T, d *gorm.DB, f model.MediaFile, tags ...string) model.MediaFile {
	t.Helper()

	if f.Filename == "" {
		f.Filename = f.ID + ".bin"
	}
	if f.OwnerID == "" {
		f.OwnerID = "owner-1"
	}
	if f.MediaClass == "" {
		f.MediaClass = model.ClassImage
	}
	require.NoError(t, d.Create(&f).Error)

	for _, name := range tags {
		tag := model.Tag{Name: name}
		require.NoError(t, d.Where(model.Tag{Name: name}).FirstOrCreate(&tag).Error)
		require.NoError(t, d.Create(&model.TagAssociation{FileID: f.ID, TagID: tag.ID, Confidence: 1}).Error)
	}

	return f
}

func ids(matches []Match) []string {
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.File.ID
	}
	return out
}

func TestNearDuplicates(t *testing.T) {
	d, err := db.NewMemory()
	require.NoError(t, err)
	ctx := context.Background()

	base := seedFile(t, d, model.MediaFile{ID: "a", Title: "Villa pool at dusk", Size: 1000,
		Description: "Infinity pool with sea views", Metadata: model.JSONMap{"width": 4000, "height": 3000}}, "pool", "villa")

	seedFile(t, d, model.MediaFile{ID: "near", Title: "Villa pool at dusk", Size: 1050,
		Description: "Infinity pool with sea view", Metadata: model.JSONMap{"width": 4000, "height": 3000}}, "pool", "villa")
	seedFile(t, d, model.MediaFile{ID: "close", Title: "Villa pool at night", Size: 950,
		Description: "Infinity pool with sea views", Metadata: model.JSONMap{"width": 4000, "height": 3000}}, "pool")
	seedFile(t, d, model.MediaFile{ID: "too-big", Title: "Villa pool at dusk", Size: 1200,
		Description: "Infinity pool with sea views"})
	seedFile(t, d, model.MediaFile{ID: "video", MediaClass: model.ClassVideo, Title: "Villa pool at dusk", Size: 1000})
	seedFile(t, d, model.MediaFile{ID: "archived", Title: "Villa pool at dusk", Size: 1000, Archived: true})
	seedFile(t, d, model.MediaFile{ID: "other", Title: "Kitchen", Size: 1000, Description: "Open plan kitchen"})

	matches, err := NewEngine(d, 0).NearDuplicates(ctx, base.ID, 0.8)
	require.NoError(t, err)

	assert.Equal(t, []string{"near", "close"}, ids(matches))
	assert.Equal(t, 1.0, matches[0].Score)
	assert.Greater(t, matches[0].Score, matches[1].Score)

	// Scores are the same from the other side
	back, err := NewEngine(d, 0).NearDuplicates(ctx, "close", 0.8)
	require.NoError(t, err)
	for _, m := range back {
		if m.File.ID == base.ID {
			assert.Equal(t, matches[1].Score, m.Score)
		}
	}
}

func TestFilenameDuplicates(t *testing.T) {
	d, err := db.NewMemory()
	require.NoError(t, err)

	seedFile(t, d, model.MediaFile{ID: "a", OriginalFilename: "villa_pool.jpg"})
	seedFile(t, d, model.MediaFile{ID: "b", OriginalFilename: "Villa_Pool (2).jpg"})
	seedFile(t, d, model.MediaFile{ID: "c", OriginalFilename: "villa_pool_20240101.jpg"})
	seedFile(t, d, model.MediaFile{ID: "d", OriginalFilename: "kitchen.jpg"})
	seedFile(t, d, model.MediaFile{ID: "e", OriginalFilename: "villa_pool.jpg", OwnerID: "someone-else"})

	matches, err := NewEngine(d, 0).FilenameDuplicates(context.Background(), "a")
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"b", "c"}, ids(matches))
}

func TestExactDuplicates(t *testing.T) {
	d, err := db.NewMemory()
	require.NoError(t, err)

	for i, archived := range []bool{false, false, true} {
		seedFile(t, d, model.MediaFile{ID: fmt.Sprintf("h%d", i), ContentHash: "abc", Archived: archived})
	}
	seedFile(t, d, model.MediaFile{ID: "x", ContentHash: "def"})

	dups, err := NewEngine(d, 0).ExactDuplicates(context.Background(), "h0")
	require.NoError(t, err)
	require.Len(t, dups, 1)
	assert.Equal(t, "h1", dups[0].ID)
}
