package composition

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/therealutkarshpriyadarshi/composer/pkg/models"
)

func clip(id, row, from, duration int) models.Overlay {
	return models.Overlay{ID: id, Type: models.OverlayTypeVideo, Row: row, From: from, DurationInFrames: duration}
}

func TestFindNextAvailablePositionEmptyTimeline(t *testing.T) {
	pos, err := FindNextAvailablePosition(nil, 1, 100)
	require.NoError(t, err)
	assert.Equal(t, Position{From: 0, Row: 0}, pos)
}

func TestFindNextAvailablePositionAppendsAfterOnlyOccupant(t *testing.T) {
	existing := []models.Overlay{clip(1, 0, 0, 100)}

	pos, err := FindNextAvailablePosition(existing, 1, 50)
	require.NoError(t, err)
	assert.Equal(t, Position{From: 100, Row: 0}, pos)
}

func TestFindNextAvailablePositionPrefersLeftmostGap(t *testing.T) {
	existing := []models.Overlay{
		clip(1, 0, 0, 30),
		clip(2, 0, 80, 20),
		clip(3, 0, 200, 50),
	}

	tests := []struct {
		name     string
		duration int
		want     Position
	}{
		{"fits between first and second", 50, Position{From: 30, Row: 0}},
		{"fits between second and third", 60, Position{From: 100, Row: 0}},
		{"only fits after last", 150, Position{From: 250, Row: 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pos, err := FindNextAvailablePosition(existing, 1, tt.duration)
			require.NoError(t, err)
			assert.Equal(t, tt.want, pos)
		})
	}
}

func TestFindNextAvailablePositionGapBeforeFirst(t *testing.T) {
	existing := []models.Overlay{clip(1, 0, 60, 40)}

	pos, err := FindNextAvailablePosition(existing, 1, 60)
	require.NoError(t, err)
	assert.Equal(t, Position{From: 0, Row: 0}, pos)
}

func TestFindNextAvailablePositionLowestRowFirstWhenBounded(t *testing.T) {
	placer := Placer{MaxRows: 4, TimelineFrames: 300}
	existing := []models.Overlay{
		clip(1, 0, 0, 280),
		clip(2, 1, 0, 100),
		clip(3, 1, 150, 150),
	}

	pos, err := placer.FindNextAvailablePosition(existing, 2, 40)
	require.NoError(t, err)
	assert.Equal(t, Position{From: 100, Row: 1}, pos)
}

func TestFindNextAvailablePositionGrowsRowsUpToCap(t *testing.T) {
	placer := Placer{MaxRows: 3, TimelineFrames: 100}
	existing := []models.Overlay{clip(1, 0, 0, 100)}

	pos, err := placer.FindNextAvailablePosition(existing, 1, 50)
	require.NoError(t, err)
	assert.Equal(t, Position{From: 0, Row: 1}, pos)
}

func TestFindNextAvailablePositionOverflowAtCap(t *testing.T) {
	placer := Placer{MaxRows: 2, TimelineFrames: 100}
	existing := []models.Overlay{
		clip(1, 0, 0, 100),
		clip(2, 1, 0, 90),
	}

	pos, err := placer.FindNextAvailablePosition(existing, 2, 50)
	require.NoError(t, err)
	assert.Equal(t, Position{From: 90, Row: 1}, pos)
}

func TestFindNextAvailablePositionHandlesOverlappingExisting(t *testing.T) {
	// A drag left two overlays intersecting; the gap scan must skip past both.
	existing := []models.Overlay{
		clip(1, 0, 0, 100),
		clip(2, 0, 50, 20),
		clip(3, 0, 130, 10),
	}

	pos, err := FindNextAvailablePosition(existing, 1, 30)
	require.NoError(t, err)
	assert.Equal(t, Position{From: 100, Row: 0}, pos)
}

func TestFindNextAvailablePositionRejectsNonPositiveDuration(t *testing.T) {
	for _, d := range []int{0, -5} {
		_, err := FindNextAvailablePosition(nil, 1, d)
		assert.ErrorIs(t, err, ErrInvalidDuration)
	}
}

func TestFindNextAvailablePositionIsDeterministic(t *testing.T) {
	existing := []models.Overlay{
		clip(3, 1, 40, 10),
		clip(1, 0, 0, 30),
		clip(2, 0, 60, 30),
	}

	first, err := FindNextAvailablePosition(existing, 2, 25)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := FindNextAvailablePosition(existing, 2, 25)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestPlacementNeverOverlaps(t *testing.T) {
	placers := []Placer{
		{MaxRows: DefaultMaxRows},
		{MaxRows: 5, TimelineFrames: 600},
	}

	for _, placer := range placers {
		rng := rand.New(rand.NewSource(42))
		collection := NewCollection()

		for i := 0; i < 200; i++ {
			duration := 1 + rng.Intn(120)
			rows := 1 + rng.Intn(4)

			pos, err := placer.FindNextAvailablePosition(collection.Overlays(), rows, duration)
			require.NoError(t, err)

			_, err = collection.AddOverlay(models.Overlay{
				Type:             models.OverlayTypeVideo,
				Row:              pos.Row,
				From:             pos.From,
				DurationInFrames: duration,
			})
			require.NoError(t, err)

			// Occasionally remove something to open gaps.
			if i%7 == 6 {
				all := collection.Overlays()
				require.NoError(t, collection.RemoveOverlay(all[rng.Intn(len(all))].ID))
			}
		}

		all := collection.Overlays()
		for i := range all {
			for j := i + 1; j < len(all); j++ {
				assert.False(t, all[i].Overlaps(all[j]), "overlays %d and %d overlap", all[i].ID, all[j].ID)
			}
		}
	}
}
