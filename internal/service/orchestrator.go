package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"dream-server/internal/config"
	"dream-server/internal/models"
	"dream-server/internal/repository"
)

// Progress percent milestones. Scene progress is interpolated linearly
// between percentCharacterImage and percentScenesEnd; percent never
// decreases within a job.
const (
	percentValidated      = 5
	percentAnalyzed       = 15
	percentCharacterImage = 35
	percentScenesEnd      = 90
	percentDone           = 100
)

var allowedReferenceMIMEs = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

var (
	jobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dream_server_jobs_total",
			Help: "Total number of finished sequence jobs.",
		},
		[]string{"status"},
	)
	jobDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dream_server_job_duration_seconds",
			Help:    "Histogram of full sequence job durations.",
			Buckets: prometheus.ExponentialBuckets(5, 2, 10),
		},
	)
	scenesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dream_server_scenes_total",
			Help: "Total number of generated scenes.",
		},
		[]string{"status"},
	)
)

// previewEntry is the cached outcome of a character preview, reusable by a
// later full submission.
type previewEntry struct {
	StyleKey           string
	Description        models.CharacterDescription
	CharacterFragment  string
	CharacterImageRef  string
	CharacterImage     []byte
	CharacterImageMIME string
}

// jobState carries everything one running job needs; it is owned by the job
// goroutine exclusively.
type jobState struct {
	req     *models.GenerationRequest
	style   *models.StyleRecord
	rules   models.GlobalRules
	scenes  []string
	preview *previewEntry
	percent int
}

// Orchestrator drives the sequence pipeline: validation, character analysis,
// character image, the sequential scene loop, persistence and progress
// events. One Submit call runs one job goroutine; jobs are independent.
type Orchestrator struct {
	cfg          *config.Config
	styleRes     StyleResolver
	analyzer     CharacterAnalyzer
	synthesizer  ImageSynthesizer
	sequenceRepo repository.SequenceRepository
	imageRefRepo repository.ImageReferenceRepository
	notifier     ProgressNotifier
	rules        *RulesService
	logger       *zap.Logger

	previews *gocache.Cache
	done     *gocache.Cache

	mu   sync.Mutex
	jobs map[uuid.UUID]context.CancelFunc
}

// NewOrchestrator wires the pipeline together.
func NewOrchestrator(
	cfg *config.Config,
	styleRes StyleResolver,
	analyzer CharacterAnalyzer,
	synthesizer ImageSynthesizer,
	sequenceRepo repository.SequenceRepository,
	imageRefRepo repository.ImageReferenceRepository,
	notifier ProgressNotifier,
	rules *RulesService,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		cfg:          cfg,
		styleRes:     styleRes,
		analyzer:     analyzer,
		synthesizer:  synthesizer,
		sequenceRepo: sequenceRepo,
		imageRefRepo: imageRefRepo,
		notifier:     notifier,
		rules:        rules,
		logger:       logger.Named("Orchestrator"),
		previews:     gocache.New(cfg.PreviewTTL, 2*cfg.PreviewTTL),
		done:         gocache.New(time.Hour, 2*time.Hour),
		jobs:         make(map[uuid.UUID]context.CancelFunc),
	}
}

// Submit validates the request synchronously and, when it is acceptable,
// starts the job on a detached context and returns its ID. Validation
// failures leave no trace: nothing is persisted and no events are emitted.
// The caller's context only covers validation; a client disconnect after
// Submit returns never aborts generation.
func (o *Orchestrator) Submit(ctx context.Context, req *models.GenerationRequest) (uuid.UUID, error) {
	job, err := o.validate(ctx, req)
	if err != nil {
		return uuid.Nil, err
	}

	jobID := uuid.New()
	req.JobID = jobID

	jobCtx, cancel := context.WithTimeout(context.Background(), o.cfg.JobTimeout)
	o.mu.Lock()
	o.jobs[jobID] = cancel
	o.mu.Unlock()

	go o.run(jobCtx, job)

	o.logger.Info("Sequence job accepted",
		zap.String("job_id", jobID.String()),
		zap.String("user_id", req.UserID),
		zap.String("style_key", req.StyleKey),
		zap.Int("scene_count", len(job.scenes)))
	return jobID, nil
}

// Cancel stops a running job: no further scenes are started, completed work
// is still finalized and the terminal event is still emitted.
func (o *Orchestrator) Cancel(jobID uuid.UUID) error {
	o.mu.Lock()
	cancel, ok := o.jobs[jobID]
	o.mu.Unlock()

	if !ok {
		if _, finished := o.done.Get(jobID.String()); finished {
			return models.ErrJobAlreadyDone
		}
		return models.ErrJobNotFound
	}

	cancel()
	o.logger.Info("Sequence job cancelled", zap.String("job_id", jobID.String()))
	return nil
}

// Preview runs the synchronous character-image-only sub-operation. The
// returned preview ID lets a later full submission reuse the analysis and
// character image instead of redoing them.
func (o *Orchestrator) Preview(ctx context.Context, userID, subjectLabel, styleKey string, photo []byte, mimeType string) (*models.CharacterPreview, error) {
	subjectLabel = strings.TrimSpace(subjectLabel)
	if subjectLabel == "" {
		return nil, fmt.Errorf("%w: subject label is required", models.ErrInvalidInput)
	}
	style, err := o.styleRes.Resolve(ctx, styleKey)
	if err != nil {
		return nil, err
	}
	if err := o.validateReferenceImage(photo, mimeType); err != nil {
		return nil, err
	}

	description, err := o.analyzer.DescribeCharacter(ctx, userID, photo, mimeType)
	if err != nil {
		o.logger.Warn("Character analysis failed for preview, proceeding without description",
			zap.String("user_id", userID), zap.Error(err))
		description = ""
	}

	fragment := BuildCharacterFragment(subjectLabel)
	prompt := ComposeCharacterPrompt(style, fragment, description, o.rules.Snapshot())

	imageRef, imageData, imageMIME, err := o.synthesizer.Synthesize(ctx, SynthesisRequest{
		JobID:          "preview",
		Prompt:         prompt,
		Ratio:          o.rules.Snapshot().AspectRatio,
		ReferenceImage: photo,
		ReferenceMIME:  mimeType,
	})
	if err != nil {
		// A placeholder preview would be useless to confirm, so the
		// synchronous path surfaces the failure instead.
		return nil, err
	}

	previewID := uuid.New().String()
	o.previews.Set(previewID, &previewEntry{
		StyleKey:           styleKey,
		Description:        description,
		CharacterFragment:  fragment,
		CharacterImageRef:  imageRef,
		CharacterImage:     imageData,
		CharacterImageMIME: imageMIME,
	}, gocache.DefaultExpiration)

	return &models.CharacterPreview{
		PreviewID:         previewID,
		CharacterImageRef: imageRef,
		CharacterFragment: fragment,
		Description:       description,
	}, nil
}

// GetSequence loads a stored sequence with its image URLs resolved.
func (o *Orchestrator) GetSequence(ctx context.Context, id uuid.UUID) (*models.SequenceResult, error) {
	seq, err := o.sequenceRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	o.resolveImageURLs(ctx, seq)
	return seq, nil
}

// ListStyles exposes the style catalog.
func (o *Orchestrator) ListStyles(ctx context.Context) ([]models.StyleRecord, error) {
	return o.styleRes.List(ctx)
}

// validate performs the full synchronous pre-flight check and builds the
// job state. Everything here must stay side-effect free.
func (o *Orchestrator) validate(ctx context.Context, req *models.GenerationRequest) (*jobState, error) {
	req.SubjectLabel = strings.TrimSpace(req.SubjectLabel)
	if req.SubjectLabel == "" {
		return nil, fmt.Errorf("%w: subject label is required", models.ErrInvalidInput)
	}
	if len(req.Scenes) > o.cfg.MaxScenes {
		return nil, fmt.Errorf("%w: at most %d scenes are allowed, got %d", models.ErrInvalidInput, o.cfg.MaxScenes, len(req.Scenes))
	}

	style, err := o.styleRes.Resolve(ctx, req.StyleKey)
	if err != nil {
		return nil, err
	}

	var preview *previewEntry
	if req.PreviewID != "" {
		if cached, ok := o.previews.Get(req.PreviewID); ok {
			entry := cached.(*previewEntry)
			if entry.StyleKey == req.StyleKey {
				preview = entry
			} else {
				o.logger.Warn("Preview style mismatch, ignoring preview",
					zap.String("preview_id", req.PreviewID),
					zap.String("preview_style", entry.StyleKey),
					zap.String("requested_style", req.StyleKey))
			}
		} else {
			o.logger.Warn("Preview not found or expired, ignoring", zap.String("preview_id", req.PreviewID))
		}
	}

	if preview == nil {
		if err := o.validateReferenceImage(req.ReferenceImage, req.ReferenceMIME); err != nil {
			return nil, err
		}
	}

	// Scenes that sanitize to nothing carried no usable content; when none
	// remain the job still runs with exactly one default scene.
	scenes := make([]string, 0, len(req.Scenes))
	for _, raw := range req.Scenes {
		if text := SanitizeSceneText(raw); text != "" {
			scenes = append(scenes, text)
		}
	}
	if len(scenes) == 0 {
		scenes = []string{o.cfg.DefaultSceneText}
	}

	return &jobState{
		req:     req,
		style:   style,
		rules:   o.rules.Snapshot(),
		scenes:  scenes,
		preview: preview,
	}, nil
}

func (o *Orchestrator) validateReferenceImage(data []byte, mimeType string) error {
	if len(data) == 0 {
		return models.ErrReferenceImageMissing
	}
	if int64(len(data)) > o.cfg.MaxImageBytes {
		return fmt.Errorf("%w: %d bytes exceeds the %d byte limit", models.ErrReferenceImageTooBig, len(data), o.cfg.MaxImageBytes)
	}
	if !allowedReferenceMIMEs[strings.ToLower(mimeType)] {
		return fmt.Errorf("%w: '%s'", models.ErrUnsupportedImageType, mimeType)
	}
	return nil
}

// run executes the accepted job to its terminal event. It never returns an
// error: every outcome, including total failure, ends in exactly one
// terminal progress event.
func (o *Orchestrator) run(ctx context.Context, job *jobState) {
	startTime := time.Now()
	jobID := job.req.JobID
	log := o.logger.With(
		zap.String("job_id", jobID.String()),
		zap.String("user_id", job.req.UserID))

	defer func() {
		o.mu.Lock()
		if cancel, ok := o.jobs[jobID]; ok {
			cancel()
			delete(o.jobs, jobID)
		}
		o.mu.Unlock()
		o.done.Set(jobID.String(), true, gocache.DefaultExpiration)
		jobDuration.Observe(time.Since(startTime).Seconds())
	}()

	seq := &models.SequenceResult{
		ID:           jobID,
		UserID:       job.req.UserID,
		SubjectLabel: job.req.SubjectLabel,
		DreamerLabel: job.req.DreamerLabel,
		StyleKey:     job.req.StyleKey,
		Status:       models.SequenceStatusGenerating,
		Scenes:       make([]models.SceneResult, 0, len(job.scenes)),
		CreatedAt:    time.Now().UTC(),
	}

	if err := o.sequenceRepo.Create(ctx, seq); err != nil {
		log.Error("Failed to create sequence row", zap.Error(err))
		o.finishFailed(ctx, job, "could not start the sequence")
		return
	}
	o.notifyInfo(ctx, job, percentValidated, "Request validated, starting generation")

	// The job context is only consulted between steps: cancellation and the
	// job deadline stop the pipeline at the next scene boundary, while work
	// already handed to a provider runs to completion on stepCtx and is
	// still persisted. Each provider call is bounded by its own client
	// timeout.
	stepCtx := context.WithoutCancel(ctx)

	// AnalyzingCharacter
	description := o.analyzeCharacter(stepCtx, job, log)
	o.notifyInfo(stepCtx, job, percentAnalyzed, "Character analysis finished")

	// GeneratingCharacterImage
	fragment, characterRef, characterImage, characterMIME := o.generateCharacterImage(stepCtx, job, description, log)
	seq.CharacterImageRef = characterRef
	seq.CharacterPrompt = fragment
	o.notifyInfo(stepCtx, job, percentCharacterImage, "Character image ready")

	// GeneratingScenes: strictly sequential, input order, one scene's failure
	// never aborts the rest.
	sceneReference := characterImage
	sceneReferenceMIME := characterMIME
	if sceneReference == nil {
		sceneReference = job.req.ReferenceImage
		sceneReferenceMIME = job.req.ReferenceMIME
	}

	cancelled := false
	for i, sceneText := range job.scenes {
		if ctx.Err() != nil {
			log.Info("Job cancelled, skipping remaining scenes", zap.Int("next_scene", i+1))
			cancelled = true
			break
		}

		scene := o.generateScene(stepCtx, job, i+1, sceneText, fragment, description, sceneReference, sceneReferenceMIME, log)
		seq.Scenes = append(seq.Scenes, scene)

		if err := o.sequenceRepo.AppendScene(stepCtx, seq.ID, scene); err != nil {
			log.Error("Failed to persist scene", zap.Int("sequence_number", scene.SequenceNumber), zap.Error(err))
		}

		percent := percentCharacterImage + (percentScenesEnd-percentCharacterImage)*(i+1)/len(job.scenes)
		if scene.Failed() {
			o.notifyWarning(stepCtx, job, percent, fmt.Sprintf("Scene %d failed, a placeholder image was used", scene.SequenceNumber))
		} else {
			o.notifyInfo(stepCtx, job, percent, fmt.Sprintf("Scene %d of %d ready", scene.SequenceNumber, len(job.scenes)))
		}
	}

	// Finalizing. Cancellation and all-placeholder outcomes still complete:
	// whatever was generated is worth keeping and the client decides what to
	// do with placeholders.
	now := time.Now().UTC()
	seq.Status = models.SequenceStatusCompleted
	seq.CompletedAt = &now
	// Finalize must not be skipped by the cancelled job context.
	finalizeCtx, cancelFinalize := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancelFinalize()

	if err := o.sequenceRepo.Finalize(finalizeCtx, seq.ID, seq.CharacterImageRef, fragment, seq.Status, now); err != nil {
		log.Error("Failed to finalize sequence", zap.Error(err))
		o.finishFailed(finalizeCtx, job, "could not store the finished sequence")
		return
	}

	o.resolveImageURLs(finalizeCtx, seq)

	jobsTotal.With(prometheus.Labels{"status": string(seq.Status)}).Inc()
	log.Info("Sequence job finished",
		zap.Int("scenes", len(seq.Scenes)),
		zap.Bool("cancelled", cancelled),
		zap.Duration("duration", time.Since(startTime)))

	o.notify(finalizeCtx, models.ProgressEvent{
		JobID:    jobID.String(),
		UserID:   job.req.UserID,
		Message:  "Sequence completed",
		Percent:  percentDone,
		Kind:     models.ProgressKindInfo,
		Terminal: true,
		Payload:  &models.ProgressPayload{Sequence: seq},
	})
}

// analyzeCharacter runs the analyzer unless a confirmed preview already
// carries a description. Failures degrade to an empty description.
func (o *Orchestrator) analyzeCharacter(ctx context.Context, job *jobState, log *zap.Logger) models.CharacterDescription {
	if job.preview != nil {
		log.Debug("Reusing character description from preview")
		return job.preview.Description
	}

	description, err := o.analyzer.DescribeCharacter(ctx, job.req.UserID, job.req.ReferenceImage, job.req.ReferenceMIME)
	if err != nil {
		log.Warn("Character analysis failed, proceeding without description", zap.Error(err))
		o.notifyWarning(ctx, job, percentValidated, "Character analysis failed, continuing with the photo only")
		return ""
	}
	return description
}

// generateCharacterImage produces the sequence's character image, reusing
// the preview result when available. A total provider failure yields the
// placeholder and a warning; it is not fatal to the job.
func (o *Orchestrator) generateCharacterImage(ctx context.Context, job *jobState, description models.CharacterDescription, log *zap.Logger) (fragment, imageRef string, imageData []byte, imageMIME string) {
	if job.preview != nil {
		log.Debug("Reusing character image from preview",
			zap.String("image_ref", job.preview.CharacterImageRef))
		return job.preview.CharacterFragment, job.preview.CharacterImageRef,
			job.preview.CharacterImage, job.preview.CharacterImageMIME
	}

	fragment = BuildCharacterFragment(job.req.SubjectLabel)
	prompt := ComposeCharacterPrompt(job.style, fragment, description, job.rules)

	imageRef, imageData, imageMIME, err := o.synthesizer.Synthesize(ctx, SynthesisRequest{
		JobID:          job.req.JobID.String(),
		Prompt:         prompt,
		Ratio:          job.rules.AspectRatio,
		ReferenceImage: job.req.ReferenceImage,
		ReferenceMIME:  job.req.ReferenceMIME,
	})
	if err != nil {
		log.Warn("Character image fell back to placeholder", zap.Error(err))
		o.notifyWarning(ctx, job, percentAnalyzed, "Character image failed, continuing with a placeholder")
	}
	return fragment, imageRef, imageData, imageMIME
}

// generateScene runs the per-scene path: compose, synthesize, classify. Any
// failure is contained here and expressed as a placeholder result.
func (o *Orchestrator) generateScene(ctx context.Context, job *jobState, sequenceNumber int, sceneText, fragment string, description models.CharacterDescription, reference []byte, referenceMIME string, log *zap.Logger) models.SceneResult {
	prompt := Compose(job.style, fragment, description, sceneText, job.rules)

	imageRef, _, _, err := o.synthesizer.Synthesize(ctx, SynthesisRequest{
		JobID:          job.req.JobID.String(),
		Prompt:         prompt,
		Ratio:          job.rules.AspectRatio,
		ReferenceImage: reference,
		ReferenceMIME:  referenceMIME,
	})

	scene := models.SceneResult{
		SequenceNumber: sequenceNumber,
		Prompt:         prompt,
		ImageRef:       imageRef,
		Status:         models.SceneStatusSucceeded,
	}
	if err != nil {
		log.Warn("Scene generation failed, substituting placeholder",
			zap.Int("sequence_number", sequenceNumber),
			zap.Error(err))
		scene.ImageRef = models.ErrorPlaceholderImageRef
		scene.Status = models.SceneStatusFailedPlaceholder
	}

	scenesTotal.With(prometheus.Labels{"status": string(scene.Status)}).Inc()
	return scene
}

// resolveImageURLs fills the transient URL fields from the reference table
// in one batch lookup. Missing rows simply leave the URL empty.
func (o *Orchestrator) resolveImageURLs(ctx context.Context, seq *models.SequenceResult) {
	refs := make([]string, 0, len(seq.Scenes)+1)
	if seq.CharacterImageRef != "" {
		refs = append(refs, seq.CharacterImageRef)
	}
	for _, scene := range seq.Scenes {
		refs = append(refs, scene.ImageRef)
	}

	urls, err := o.imageRefRepo.GetURLsByRefs(ctx, refs)
	if err != nil {
		o.logger.Warn("Failed to resolve image URLs", zap.String("sequence_id", seq.ID.String()), zap.Error(err))
		return
	}

	seq.CharacterImageURL = urls[seq.CharacterImageRef]
	for i := range seq.Scenes {
		seq.Scenes[i].ImageURL = urls[seq.Scenes[i].ImageRef]
	}
}

// finishFailed emits the terminal error event for a job that could not
// produce a sequence at all.
func (o *Orchestrator) finishFailed(ctx context.Context, job *jobState, message string) {
	jobsTotal.With(prometheus.Labels{"status": string(models.SequenceStatusFailed)}).Inc()
	o.notify(ctx, models.ProgressEvent{
		JobID:    job.req.JobID.String(),
		UserID:   job.req.UserID,
		Message:  "Sequence failed",
		Percent:  percentDone,
		Kind:     models.ProgressKindError,
		Terminal: true,
		Payload:  &models.ProgressPayload{Error: message},
	})
}

func (o *Orchestrator) notifyInfo(ctx context.Context, job *jobState, percent int, message string) {
	if percent < job.percent {
		percent = job.percent
	}
	job.percent = percent
	o.notify(ctx, models.ProgressEvent{
		JobID:   job.req.JobID.String(),
		UserID:  job.req.UserID,
		Message: message,
		Percent: percent,
		Kind:    models.ProgressKindInfo,
	})
}

func (o *Orchestrator) notifyWarning(ctx context.Context, job *jobState, percent int, message string) {
	if percent < job.percent {
		percent = job.percent
	}
	job.percent = percent
	o.notify(ctx, models.ProgressEvent{
		JobID:   job.req.JobID.String(),
		UserID:  job.req.UserID,
		Message: message,
		Percent: percent,
		Kind:    models.ProgressKindWarning,
	})
}

func (o *Orchestrator) notify(ctx context.Context, event models.ProgressEvent) {
	if err := o.notifier.Notify(ctx, event); err != nil {
		o.logger.Warn("Failed to publish progress event",
			zap.String("job_id", event.JobID),
			zap.Bool("terminal", event.Terminal),
			zap.Error(err))
	}
}
