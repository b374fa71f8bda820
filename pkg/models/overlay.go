package models

// OverlayType discriminates the overlay variants placed on the timeline
type OverlayType string

// OverlayType constants
const (
	OverlayTypeVideo OverlayType = "video"
	OverlayTypeImage OverlayType = "image"
	OverlayTypeText  OverlayType = "text"
	OverlayTypeSound OverlayType = "sound"
	OverlayTypeAudio OverlayType = "audio"
)

// Valid reports whether t is a known overlay variant
func (t OverlayType) Valid() bool {
	switch t {
	case OverlayTypeVideo, OverlayTypeImage, OverlayTypeText, OverlayTypeSound, OverlayTypeAudio:
		return true
	}
	return false
}

// IsVideo reports whether keyframes can be extracted for this variant
func (t OverlayType) IsVideo() bool {
	return t == OverlayTypeVideo
}

// Overlay is one placed item on the composition timeline.
//
// Variant-specific fields are flat and omitted when empty: clips use Src,
// VideoStartTime and Speed; text uses Content for the text itself; images,
// sounds and audio use Src, with StartFromSound for the audio variants.
type Overlay struct {
	ID               int           `json:"id"`
	Type             OverlayType   `json:"type"`
	Row              int           `json:"row"`
	From             int           `json:"from"`
	DurationInFrames int           `json:"durationInFrames"`
	Left             float64       `json:"left"`
	Top              float64       `json:"top"`
	Width            float64       `json:"width"`
	Height           float64       `json:"height"`
	Rotation         float64       `json:"rotation"`
	IsDragging       bool          `json:"isDragging,omitempty"`
	Styles           OverlayStyles `json:"styles"`

	Src            string  `json:"src,omitempty"`
	Content        string  `json:"content,omitempty"`
	File           string  `json:"file,omitempty"`
	VideoStartTime float64 `json:"videoStartTime,omitempty"` // seconds into the source media
	Speed          float64 `json:"speed,omitempty"`
	StartFromSound int     `json:"startFromSound,omitempty"` // frames into the source audio
}

// End returns the first frame after the overlay
func (o Overlay) End() int {
	return o.From + o.DurationInFrames
}

// Overlaps reports whether two overlays share a row and intersect in time
func (o Overlay) Overlaps(other Overlay) bool {
	return o.Row == other.Row && o.From < other.End() && other.From < o.End()
}

// PlaybackRate returns Speed, defaulting to 1 when unset
func (o Overlay) PlaybackRate() float64 {
	if o.Speed <= 0 {
		return 1
	}
	return o.Speed
}

// OverlayStyles is the visual property bag applied to an overlay. The
// placement and render core only reads Volume, Filter and BackgroundImage.
type OverlayStyles struct {
	Opacity         *float64   `json:"opacity,omitempty"`
	Transform       string     `json:"transform,omitempty"`
	Filter          string     `json:"filter,omitempty"`
	ObjectFit       string     `json:"objectFit,omitempty"`
	ZIndex          int        `json:"zIndex,omitempty"`
	Padding         string     `json:"padding,omitempty"`
	Volume          *float64   `json:"volume,omitempty"`
	BackgroundImage string     `json:"backgroundImage,omitempty"`
	BorderRadius    string     `json:"borderRadius,omitempty"`
	BoxShadow       string     `json:"boxShadow,omitempty"`
	FontSize        string     `json:"fontSize,omitempty"`
	FontFamily      string     `json:"fontFamily,omitempty"`
	FontWeight      string     `json:"fontWeight,omitempty"`
	Color           string     `json:"color,omitempty"`
	TextAlign       string     `json:"textAlign,omitempty"`
	Animation       *Animation `json:"animation,omitempty"`
}

// Animation names the enter and exit animations of an overlay
type Animation struct {
	Enter string `json:"enter,omitempty"`
	Exit  string `json:"exit,omitempty"`
}

// Clone returns a deep copy so callers can never alias pointer styles
func (o Overlay) Clone() Overlay {
	c := o
	if o.Styles.Opacity != nil {
		v := *o.Styles.Opacity
		c.Styles.Opacity = &v
	}
	if o.Styles.Volume != nil {
		v := *o.Styles.Volume
		c.Styles.Volume = &v
	}
	if o.Styles.Animation != nil {
		a := *o.Styles.Animation
		c.Styles.Animation = &a
	}
	return c
}

// CloneOverlays deep-copies a slice of overlays
func CloneOverlays(overlays []Overlay) []Overlay {
	out := make([]Overlay, len(overlays))
	for i, o := range overlays {
		out[i] = o.Clone()
	}
	return out
}
