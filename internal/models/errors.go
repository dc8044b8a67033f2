package models

import "errors"

// Application-wide standard errors
var (
	// Common resource/DB errors
	ErrNotFound      = errors.New("resource not found")
	ErrStyleNotFound = errors.New("style not found")
	ErrImageNotFound = errors.New("image not found")

	// Request validation errors (user-correctable, 4xx)
	ErrInvalidInput          = errors.New("invalid input data")
	ErrReferenceImageMissing = errors.New("reference image is missing or empty")
	ErrReferenceImageTooBig  = errors.New("reference image exceeds the size limit")
	ErrUnsupportedImageType  = errors.New("unsupported reference image content type")

	// Generation errors (contained inside a job, never surfaced raw)
	ErrAnalysisFailed        = errors.New("character analysis failed")
	ErrImageGenerationFailed = errors.New("image generation failed")
	ErrImageSaveFailed       = errors.New("image save failed")
	ErrAllProvidersFailed    = errors.New("all image providers failed")

	// Job lifecycle errors
	ErrJobNotFound     = errors.New("generation job not found")
	ErrJobAlreadyDone  = errors.New("generation job already finished")
	ErrSequenceUnsaved = errors.New("sequence could not be persisted")

	// General request/server errors
	ErrUnauthorized   = errors.New("unauthorized")
	ErrInternalServer = errors.New("internal server error")
)
