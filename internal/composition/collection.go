package composition

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/therealutkarshpriyadarshi/composer/pkg/models"
)

var (
	// ErrInvalidOverlay is returned when an overlay violates the model invariants
	ErrInvalidOverlay = errors.New("invalid overlay")
	// ErrOverlayNotFound is returned for unknown overlay ids
	ErrOverlayNotFound = errors.New("overlay not found")
	// ErrImmutableField is returned when a patch tries to change id or type
	ErrImmutableField = errors.New("overlay id and type cannot be changed")
	// ErrDuplicateOverlay is returned when an explicit id is already taken
	ErrDuplicateOverlay = errors.New("overlay id already exists")
)

// Collection is the overlay set of one editing session.
//
// It does not enforce non-overlap: placement happens through the Placer at
// creation time and later drags are accepted as-is.
type Collection struct {
	mu       sync.RWMutex
	overlays map[int]models.Overlay
	nextID   int
}

// NewCollection creates an empty collection
func NewCollection() *Collection {
	return &Collection{
		overlays: make(map[int]models.Overlay),
		nextID:   1,
	}
}

// AddOverlay validates and stores an overlay, assigning an id when ID is zero
func (c *Collection) AddOverlay(o models.Overlay) (models.Overlay, error) {
	if err := validate(o); err != nil {
		return models.Overlay{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.insert(o)
}

// Place finds a free slot with p and stores the overlay there in one step, so
// concurrent placements never land on the same slot. availableRows <= 0 means
// the rows currently occupied.
func (c *Collection) Place(p Placer, availableRows int, o models.Overlay) (models.Overlay, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing := make([]models.Overlay, 0, len(c.overlays))
	for _, current := range c.overlays {
		existing = append(existing, current)
	}
	if availableRows <= 0 {
		availableRows = c.rows()
	}

	pos, err := p.FindNextAvailablePosition(existing, availableRows, o.DurationInFrames)
	if err != nil {
		return models.Overlay{}, err
	}
	o.Row, o.From = pos.Row, pos.From

	if err := validate(o); err != nil {
		return models.Overlay{}, err
	}
	return c.insert(o)
}

// insert stores o; the caller holds the write lock
func (c *Collection) insert(o models.Overlay) (models.Overlay, error) {
	if o.ID == 0 {
		o.ID = c.nextID
	} else if _, exists := c.overlays[o.ID]; exists {
		return models.Overlay{}, fmt.Errorf("%w: %d", ErrDuplicateOverlay, o.ID)
	}
	if o.ID >= c.nextID {
		c.nextID = o.ID + 1
	}

	stored := o.Clone()
	c.overlays[o.ID] = stored
	return stored.Clone(), nil
}

// ChangeOverlay merges a JSON patch into the overlay with the given id
func (c *Collection) ChangeOverlay(id int, patch []byte) (models.Overlay, error) {
	var immutable struct {
		ID   *int                `json:"id"`
		Type *models.OverlayType `json:"type"`
	}
	if err := json.Unmarshal(patch, &immutable); err != nil {
		return models.Overlay{}, fmt.Errorf("%w: malformed patch: %v", ErrInvalidOverlay, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	current, ok := c.overlays[id]
	if !ok {
		return models.Overlay{}, fmt.Errorf("%w: %d", ErrOverlayNotFound, id)
	}
	if immutable.ID != nil && *immutable.ID != current.ID {
		return models.Overlay{}, ErrImmutableField
	}
	if immutable.Type != nil && *immutable.Type != current.Type {
		return models.Overlay{}, ErrImmutableField
	}

	merged := current.Clone()
	if err := json.Unmarshal(patch, &merged); err != nil {
		return models.Overlay{}, fmt.Errorf("%w: malformed patch: %v", ErrInvalidOverlay, err)
	}
	if err := validate(merged); err != nil {
		return models.Overlay{}, err
	}

	c.overlays[id] = merged
	return merged.Clone(), nil
}

// RemoveOverlay deletes the overlay with the given id
func (c *Collection) RemoveOverlay(id int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.overlays[id]; !ok {
		return fmt.Errorf("%w: %d", ErrOverlayNotFound, id)
	}
	delete(c.overlays, id)
	return nil
}

// Get returns a copy of the overlay with the given id
func (c *Collection) Get(id int) (models.Overlay, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	o, ok := c.overlays[id]
	if !ok {
		return models.Overlay{}, fmt.Errorf("%w: %d", ErrOverlayNotFound, id)
	}
	return o.Clone(), nil
}

// Overlays returns a snapshot ordered by row, start frame and id
func (c *Collection) Overlays() []models.Overlay {
	c.mu.RLock()
	out := make([]models.Overlay, 0, len(c.overlays))
	for _, o := range c.overlays {
		out = append(out, o.Clone())
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Row != out[j].Row {
			return out[i].Row < out[j].Row
		}
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Len returns the number of overlays
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.overlays)
}

// Rows returns one past the highest occupied row
func (c *Collection) Rows() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rows()
}

func (c *Collection) rows() int {
	rows := 0
	for _, o := range c.overlays {
		if o.Row+1 > rows {
			rows = o.Row + 1
		}
	}
	return rows
}

// DurationInFrames returns the end frame of the last overlay
func (c *Collection) DurationInFrames() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	end := 0
	for _, o := range c.overlays {
		if o.End() > end {
			end = o.End()
		}
	}
	return end
}

func validate(o models.Overlay) error {
	switch {
	case o.DurationInFrames <= 0:
		return fmt.Errorf("%w: durationInFrames must be positive, got %d", ErrInvalidOverlay, o.DurationInFrames)
	case o.From < 0:
		return fmt.Errorf("%w: from must not be negative, got %d", ErrInvalidOverlay, o.From)
	case o.Row < 0:
		return fmt.Errorf("%w: row must not be negative, got %d", ErrInvalidOverlay, o.Row)
	case o.ID < 0:
		return fmt.Errorf("%w: id must not be negative, got %d", ErrInvalidOverlay, o.ID)
	case !o.Type.Valid():
		return fmt.Errorf("%w: unknown type %q", ErrInvalidOverlay, o.Type)
	}
	return nil
}
