package models

import (
	"time"

	"github.com/google/uuid"
)

// StyleRecord describes one selectable visual style. Styles are maintained by
// the admin collaborator and treated as immutable for the duration of a job.
type StyleRecord struct {
	Key                   string `json:"key" db:"key"`
	DisplayName           string `json:"displayName" db:"display_name"`
	BaseInstructions      string `json:"baseInstructions" db:"base_instructions"`
	CharacterInstructions string `json:"characterInstructions,omitempty" db:"character_instructions"`
}

// CharacterDescription is the analyzer's free-text description of the
// reference photo's durable visual traits. Empty means "no enrichment":
// the pipeline composes prompts without it.
type CharacterDescription string

// Empty reports whether the description carries no usable content.
func (d CharacterDescription) Empty() bool {
	return len(d) == 0
}

// GenerationRequest is the fully normalized input of one sequence job.
// Scenes are already sanitized, non-empty and bounded by the time this
// struct is built; the transport layer owns all leniency.
type GenerationRequest struct {
	JobID          uuid.UUID
	UserID         string
	SubjectLabel   string
	DreamerLabel   string
	StyleKey       string
	ReferenceImage []byte
	ReferenceMIME  string
	Scenes         []string
	// PreviewID references a previously confirmed character preview whose
	// description can be reused instead of re-analyzing the photo.
	PreviewID string
}

// SceneStatus marks how a single scene concluded.
type SceneStatus string

const (
	SceneStatusSucceeded         SceneStatus = "succeeded"
	SceneStatusFailedPlaceholder SceneStatus = "failed_placeholder"
)

// ErrorPlaceholderImageRef is the well-known reference substituted when every
// provider failed for an image. It always resolves to a real stored image, so
// consumers never deal with a missing value.
const ErrorPlaceholderImageRef = "img_error_placeholder"

// SceneResult is the append-only outcome of one scene. SequenceNumber is
// 1-based and matches the input order exactly.
type SceneResult struct {
	SequenceNumber int         `json:"sequenceNumber" db:"sequence_number"`
	Prompt         string      `json:"prompt" db:"prompt"`
	ImageRef       string      `json:"imageRef" db:"image_ref"`
	ImageURL       string      `json:"imageUrl,omitempty" db:"-"`
	Status         SceneStatus `json:"status" db:"status"`
}

// Failed reports whether this scene ended with the error placeholder.
func (s SceneResult) Failed() bool {
	return s.Status == SceneStatusFailedPlaceholder
}

// SequenceStatus tracks the persisted lifecycle of a sequence row.
type SequenceStatus string

const (
	SequenceStatusGenerating SequenceStatus = "generating"
	SequenceStatusCompleted  SequenceStatus = "completed"
	SequenceStatusFailed     SequenceStatus = "failed"
)

// SequenceResult is the aggregate produced by one job: the request's static
// fields, the character image and the ordered scene results. It is owned
// exclusively by the orchestrator while the job runs.
type SequenceResult struct {
	ID                uuid.UUID      `json:"id" db:"id"`
	UserID            string         `json:"userId" db:"user_id"`
	SubjectLabel      string         `json:"subjectLabel" db:"subject_label"`
	DreamerLabel      string         `json:"dreamerLabel,omitempty" db:"dreamer_label"`
	StyleKey          string         `json:"styleKey" db:"style_key"`
	CharacterImageRef string         `json:"characterImageRef" db:"character_image_ref"`
	CharacterImageURL string         `json:"characterImageUrl,omitempty" db:"-"`
	CharacterPrompt   string         `json:"characterPrompt,omitempty" db:"character_prompt"`
	Status            SequenceStatus `json:"status" db:"status"`
	Scenes            []SceneResult  `json:"scenes" db:"-"`
	CreatedAt         time.Time      `json:"createdAt" db:"created_at"`
	CompletedAt       *time.Time     `json:"completedAt,omitempty" db:"completed_at"`
}

// CharacterPreview is the result of the synchronous character-image-only
// sub-operation. The fragment and description can be carried into a later
// full-sequence submission via PreviewID.
type CharacterPreview struct {
	PreviewID         string               `json:"previewId"`
	CharacterImageRef string               `json:"characterImageRef"`
	CharacterFragment string               `json:"characterFragment"`
	Description       CharacterDescription `json:"-"`
}
