package models

// ProgressKind classifies a progress event for the client.
type ProgressKind string

const (
	ProgressKindInfo    ProgressKind = "info"
	ProgressKindWarning ProgressKind = "warning"
	ProgressKindError   ProgressKind = "error"
)

// ProgressPayload is attached to the terminal event only: either the full
// sequence result or a structured error description, never both.
type ProgressPayload struct {
	Sequence *SequenceResult `json:"sequence,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// ProgressEvent is one frame of the job progress stream. Within a job the
// Percent values are monotonically non-decreasing and exactly one event has
// Terminal set; it is always the last one delivered.
type ProgressEvent struct {
	JobID    string           `json:"jobId"`
	UserID   string           `json:"userId"`
	Message  string           `json:"message"`
	Percent  int              `json:"percent"`
	Kind     ProgressKind     `json:"kind"`
	Terminal bool             `json:"terminal"`
	Payload  *ProgressPayload `json:"payload,omitempty"`
}

// GlobalRules is the process-wide rule set prepended to every composed
// prompt. A snapshot is taken at job start and injected into the composer, so
// pure functions never read hot-reloadable state.
type GlobalRules struct {
	AspectRatio       string `json:"aspectRatio"`
	Framing           string `json:"framing"`
	QualityDirectives string `json:"qualityDirectives"`
}
