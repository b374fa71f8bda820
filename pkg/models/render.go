package models

import "time"

// RenderState is the state of a render job
type RenderState string

// RenderState constants
const (
	RenderStateSubmitted RenderState = "submitted"
	RenderStatePolling   RenderState = "polling"
	RenderStateDone      RenderState = "done"
	RenderStateError     RenderState = "error"
)

// Terminal reports whether no further transition is possible
func (s RenderState) Terminal() bool {
	return s == RenderStateDone || s == RenderStateError
}

// RenderJob tracks one render request against the remote executor. It is
// never persisted beyond the job store TTL.
type RenderJob struct {
	CompositionID   string      `json:"compositionId"`
	RenderID        string      `json:"renderId,omitempty"`
	BucketName      string      `json:"bucketName,omitempty"`
	State           RenderState `json:"state"`
	Progress        float64     `json:"progress"`
	ResultURL       string      `json:"resultUrl,omitempty"`
	ResultSizeBytes int64       `json:"resultSizeBytes,omitempty"`
	ErrorMessage    string      `json:"errorMessage,omitempty"`
	CreatedAt       time.Time   `json:"createdAt"`
	UpdatedAt       time.Time   `json:"updatedAt"`
}

// ProgressType is the discriminant of a progress response
type ProgressType string

// ProgressType constants
const (
	ProgressTypeProgress ProgressType = "progress"
	ProgressTypeDone     ProgressType = "done"
	ProgressTypeError    ProgressType = "error"
)

// ErrorKind separates executor-reported fatal errors from transport failures
type ErrorKind string

// ErrorKind constants
const (
	ErrorKindExecutorFatal  ErrorKind = "executor_fatal"
	ErrorKindTransport      ErrorKind = "transport_error"
	ErrorKindSubmitRejected ErrorKind = "submit_rejected"
)

// ProgressResponse is what a progress check surfaces to the caller
type ProgressResponse struct {
	Type     ProgressType `json:"type"`
	Progress float64      `json:"progress,omitempty"`
	URL      string       `json:"url,omitempty"`
	Size     int64        `json:"size,omitempty"`
	Message  string       `json:"message,omitempty"`
	Kind     ErrorKind    `json:"kind,omitempty"`
}

// RenderRequest is the composition payload sent to the executor
type RenderRequest struct {
	CompositionID    string    `json:"compositionId"`
	Overlays         []Overlay `json:"overlays"`
	DurationInFrames int       `json:"durationInFrames"`
	FPS              int       `json:"fps"`
	Width            int       `json:"width"`
	Height           int       `json:"height"`
}

// RenderHandle identifies a job on the executor
type RenderHandle struct {
	RenderID   string `json:"renderId"`
	BucketName string `json:"bucketName"`
}
