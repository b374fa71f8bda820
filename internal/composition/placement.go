package composition

import (
	"errors"
	"fmt"
	"sort"

	"github.com/therealutkarshpriyadarshi/composer/pkg/models"
)

// ErrInvalidDuration is returned when a placement is requested for a
// non-positive duration
var ErrInvalidDuration = errors.New("duration must be positive")

// DefaultMaxRows caps row growth when no Placer is configured
const DefaultMaxRows = 10

// Position is a proposed timeline slot
type Position struct {
	From int `json:"from"`
	Row  int `json:"row"`
}

// Placer computes collision-free positions for new overlays.
//
// With TimelineFrames == 0 the timeline is unbounded, so the slot after the
// last occupant of a row always fits and rows beyond availableRows are never
// opened. With a bounded timeline, rows availableRows..MaxRows-1 are tried
// next; when those are exhausted too the overlay goes after the row whose
// last occupant ends earliest.
type Placer struct {
	MaxRows        int
	TimelineFrames int
}

// FindNextAvailablePosition places durationInFrames using the default Placer
func FindNextAvailablePosition(existing []models.Overlay, availableRows, durationInFrames int) (Position, error) {
	return Placer{MaxRows: DefaultMaxRows}.FindNextAvailablePosition(existing, availableRows, durationInFrames)
}

// FindNextAvailablePosition returns the leftmost gap on the lowest row that
// fits durationInFrames. The result never overlaps an existing overlay.
func (p Placer) FindNextAvailablePosition(existing []models.Overlay, availableRows, durationInFrames int) (Position, error) {
	if durationInFrames <= 0 {
		return Position{}, fmt.Errorf("%w: got %d", ErrInvalidDuration, durationInFrames)
	}
	if availableRows < 1 {
		availableRows = 1
	}
	maxRows := p.MaxRows
	if maxRows < availableRows {
		maxRows = availableRows
	}

	rows := groupByRow(existing)

	for row := 0; row < maxRows; row++ {
		if row >= availableRows && p.TimelineFrames <= 0 {
			break
		}
		if from, ok := p.firstGap(rows[row], durationInFrames); ok {
			return Position{From: from, Row: row}, nil
		}
	}

	// Every row up to the cap is full: append after the earliest-ending row.
	best := Position{From: rowEnd(rows[0]), Row: 0}
	for row := 1; row < maxRows; row++ {
		if end := rowEnd(rows[row]); end < best.From {
			best = Position{From: end, Row: row}
		}
	}
	return best, nil
}

// firstGap scans overlays sorted by start frame. cursor is the furthest end
// seen so far, which keeps the scan correct when existing overlays were
// dragged into an overlapping state.
func (p Placer) firstGap(overlays []models.Overlay, duration int) (int, bool) {
	cursor := 0
	for _, o := range overlays {
		if o.From-cursor >= duration {
			return cursor, true
		}
		if o.End() > cursor {
			cursor = o.End()
		}
	}
	if p.TimelineFrames > 0 && cursor+duration > p.TimelineFrames {
		return 0, false
	}
	return cursor, true
}

func groupByRow(overlays []models.Overlay) map[int][]models.Overlay {
	rows := make(map[int][]models.Overlay)
	for _, o := range overlays {
		rows[o.Row] = append(rows[o.Row], o)
	}
	for row := range rows {
		list := rows[row]
		sort.Slice(list, func(i, j int) bool {
			if list[i].From != list[j].From {
				return list[i].From < list[j].From
			}
			return list[i].ID < list[j].ID
		})
	}
	return rows
}

func rowEnd(overlays []models.Overlay) int {
	end := 0
	for _, o := range overlays {
		if o.End() > end {
			end = o.End()
		}
	}
	return end
}
