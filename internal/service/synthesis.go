package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	openaigo "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"dream-server/internal/config"
	"dream-server/internal/models"
	"dream-server/internal/repository"
)

var (
	imageProviderRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dream_server_image_provider_requests_total",
			Help: "Total number of image generation attempts per provider.",
		},
		[]string{"provider", "status"},
	)
	imageProviderRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dream_server_image_provider_request_duration_seconds",
			Help:    "Histogram of image provider request durations.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		},
		[]string{"provider"},
	)
	imagePlaceholdersTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dream_server_image_placeholders_total",
			Help: "Total number of images that fell through every provider to the error placeholder.",
		},
	)
)

// SynthesisRequest is one image to produce. ReferenceImage is optional;
// providers that cannot condition on it simply ignore it.
type SynthesisRequest struct {
	JobID          string
	Prompt         string
	Ratio          string
	ReferenceImage []byte
	ReferenceMIME  string
}

// ImageProvider generates raw image bytes for a composed prompt. Returned
// MIME type drives the stored file extension.
type ImageProvider interface {
	Name() string
	Generate(ctx context.Context, req SynthesisRequest) (data []byte, mimeType string, err error)
}

// ImageSynthesizer runs the ordered provider list for one image and persists
// whatever comes back. It never fails a scene outright: when every provider
// errors it returns the well-known placeholder reference together with
// models.ErrAllProvidersFailed so the caller can emit a warning and move on.
// The stored bytes and their MIME type are returned so the caller can
// condition later images on this one.
type ImageSynthesizer interface {
	Synthesize(ctx context.Context, req SynthesisRequest) (imageRef string, data []byte, mimeType string, err error)
}

// Compile-time check to ensure imageSynthesizer implements the interface
var _ ImageSynthesizer = (*imageSynthesizer)(nil)

type imageSynthesizer struct {
	providers     []ImageProvider
	imageRefRepo  repository.ImageReferenceRepository
	limiter       *rate.Limiter
	imageSavePath string
	imageBaseURL  string
	logger        *zap.Logger
}

// NewImageSynthesizer builds the synthesizer with the standard provider
// order: the reference-conditioned edit server first, the text-to-image
// provider as fallback.
func NewImageSynthesizer(cfg *config.Config, imageRefRepo repository.ImageReferenceRepository, logger *zap.Logger) (ImageSynthesizer, error) {
	if cfg.ImageSavePath == "" {
		return nil, fmt.Errorf("image save path (IMAGE_SAVE_PATH) is not configured")
	}
	if err := os.MkdirAll(cfg.ImageSavePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create image save path '%s': %w", cfg.ImageSavePath, err)
	}

	openaiConfig := openaigo.DefaultConfig(cfg.ImageAPIKey)
	openaiConfig.BaseURL = cfg.ImageBaseURL
	openaiConfig.HTTPClient = &http.Client{Timeout: cfg.ImageTimeout}

	providers := []ImageProvider{
		&editServerProvider{
			baseURL: cfg.EditServerBaseURL,
			client:  &http.Client{Timeout: cfg.EditServerTimeout},
			logger:  logger.Named("EditServerProvider"),
		},
		&textToImageProvider{
			client:     openaigo.NewClientWithConfig(openaiConfig),
			model:      cfg.ImageModel,
			size:       cfg.ImageSize,
			downloader: &http.Client{Timeout: cfg.ImageTimeout},
			logger:     logger.Named("TextToImageProvider"),
		},
	}

	return &imageSynthesizer{
		providers:     providers,
		imageRefRepo:  imageRefRepo,
		limiter:       rate.NewLimiter(rate.Limit(cfg.ProviderRPS), cfg.ProviderBurst),
		imageSavePath: cfg.ImageSavePath,
		imageBaseURL:  strings.TrimSuffix(cfg.ImagePublicBaseURL, "/"),
		logger:        logger.Named("ImageSynthesizer"),
	}, nil
}

// Synthesize tries each provider in order with the same composed prompt and
// stores the first usable result under a fresh stable reference.
func (s *imageSynthesizer) Synthesize(ctx context.Context, req SynthesisRequest) (string, []byte, string, error) {
	log := s.logger.With(zap.String("job_id", req.JobID))

	var lastErr error
	for _, provider := range s.providers {
		data, mimeType, err := s.attempt(ctx, provider, req)
		if err != nil {
			log.Warn("Image provider attempt failed",
				zap.String("provider", provider.Name()),
				zap.Error(err))
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}

		ref := "img_" + uuid.New().String()
		if err := s.store(ctx, ref, data, mimeType); err != nil {
			log.Error("Failed to store generated image",
				zap.String("provider", provider.Name()),
				zap.String("reference", ref),
				zap.Error(err))
			lastErr = err
			continue
		}

		log.Info("Image generated and stored",
			zap.String("provider", provider.Name()),
			zap.String("reference", ref),
			zap.Int("size_bytes", len(data)))
		return ref, data, mimeType, nil
	}

	imagePlaceholdersTotal.Inc()
	log.Error("All image providers failed, substituting placeholder", zap.Error(lastErr))
	return models.ErrorPlaceholderImageRef, nil, "", fmt.Errorf("%w: %v", models.ErrAllProvidersFailed, lastErr)
}

// attempt runs one provider under the shared rate limit and validates that
// it produced usable bytes.
func (s *imageSynthesizer) attempt(ctx context.Context, provider ImageProvider, req SynthesisRequest) ([]byte, string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, "", fmt.Errorf("rate limiter wait: %w", err)
	}

	startTime := time.Now()
	data, mimeType, err := provider.Generate(ctx, req)
	duration := time.Since(startTime)

	if err != nil {
		imageProviderRequestsTotal.With(prometheus.Labels{"provider": provider.Name(), "status": "error"}).Inc()
		return nil, "", err
	}
	if len(data) == 0 {
		imageProviderRequestsTotal.With(prometheus.Labels{"provider": provider.Name(), "status": "empty"}).Inc()
		return nil, "", fmt.Errorf("%w: provider '%s' returned empty data", models.ErrImageGenerationFailed, provider.Name())
	}

	imageProviderRequestsTotal.With(prometheus.Labels{"provider": provider.Name(), "status": "success"}).Inc()
	imageProviderRequestDuration.With(prometheus.Labels{"provider": provider.Name()}).Observe(duration.Seconds())
	return data, mimeType, nil
}

// store writes the bytes to the image file store and records the public URL
// for the reference.
func (s *imageSynthesizer) store(ctx context.Context, ref string, data []byte, mimeType string) error {
	fileName := ref + extensionForMIME(mimeType)
	filePath := filepath.Join(s.imageSavePath, fileName)

	if err := os.WriteFile(filePath, data, 0o644); err != nil {
		return fmt.Errorf("%w: %v", models.ErrImageSaveFailed, err)
	}

	imageURL := s.imageBaseURL + "/" + fileName
	if err := s.imageRefRepo.SaveOrUpdate(ctx, ref, imageURL); err != nil {
		return fmt.Errorf("%w: %v", models.ErrImageSaveFailed, err)
	}
	return nil
}

// EnsurePlaceholder makes sure the well-known error placeholder resolves to a
// real stored image, rendering a plain gray frame on first start.
func EnsurePlaceholder(ctx context.Context, cfg *config.Config, imageRefRepo repository.ImageReferenceRepository, logger *zap.Logger) error {
	fileName := models.ErrorPlaceholderImageRef + ".png"
	filePath := filepath.Join(cfg.ImageSavePath, fileName)

	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		img := image.NewRGBA(image.Rect(0, 0, 512, 512))
		gray := color.RGBA{R: 0x44, G: 0x44, B: 0x4c, A: 0xff}
		for y := 0; y < 512; y++ {
			for x := 0; x < 512; x++ {
				img.Set(x, y, gray)
			}
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return fmt.Errorf("failed to encode placeholder image: %w", err)
		}
		if err := os.MkdirAll(cfg.ImageSavePath, 0o755); err != nil {
			return fmt.Errorf("failed to create image save path: %w", err)
		}
		if err := os.WriteFile(filePath, buf.Bytes(), 0o644); err != nil {
			return fmt.Errorf("failed to write placeholder image: %w", err)
		}
		logger.Info("Placeholder image rendered", zap.String("path", filePath))
	}

	imageURL := strings.TrimSuffix(cfg.ImagePublicBaseURL, "/") + "/" + fileName
	return imageRefRepo.SaveOrUpdate(ctx, models.ErrorPlaceholderImageRef, imageURL)
}

// extensionForMIME maps a provider-reported MIME type to a file extension.
func extensionForMIME(mimeType string) string {
	switch strings.ToLower(mimeType) {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}

// --- Edit Server Provider (reference-conditioned) ---

// Compile-time check to ensure editServerProvider implements the interface
var _ ImageProvider = (*editServerProvider)(nil)

// editServerProvider posts the prompt and the base64-encoded reference image
// to the local edit server and receives raw image bytes back.
type editServerProvider struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

type editServerRequest struct {
	Prompt         string `json:"prompt"`
	Ratio          string `json:"ratio"`
	ReferenceImage string `json:"reference_image,omitempty"`
	ReferenceMIME  string `json:"reference_mime,omitempty"`
}

func (p *editServerProvider) Name() string { return "edit_server" }

func (p *editServerProvider) Generate(ctx context.Context, req SynthesisRequest) ([]byte, string, error) {
	reqPayload := editServerRequest{
		Prompt: req.Prompt,
		Ratio:  req.Ratio,
	}
	if len(req.ReferenceImage) > 0 {
		reqPayload.ReferenceImage = base64.StdEncoding.EncodeToString(req.ReferenceImage)
		reqPayload.ReferenceMIME = req.ReferenceMIME
	}

	reqBodyBytes, err := json.Marshal(reqPayload)
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal request payload: %w", err)
	}

	endpointURL := p.baseURL + "/generate"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL, bytes.NewReader(reqBodyBytes))
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "image/*")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, "", fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, readErr := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		p.logger.Error("Edit server returned non-OK status",
			zap.Int("status_code", resp.StatusCode),
			zap.ByteString("response_body", bodyBytes))
		return nil, "", fmt.Errorf("%w: edit server returned status %d", models.ErrImageGenerationFailed, resp.StatusCode)
	}
	if readErr != nil {
		return nil, "", fmt.Errorf("failed to read response body: %w", readErr)
	}

	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	return bodyBytes, mimeType, nil
}

// --- Text-to-Image Provider (fallback) ---

// Compile-time check to ensure textToImageProvider implements the interface
var _ ImageProvider = (*textToImageProvider)(nil)

// textToImageProvider generates from the composed prompt alone. The provider
// answers with a short-lived URL, so the bytes are downloaded immediately and
// re-hosted by the caller.
type textToImageProvider struct {
	client     *openaigo.Client
	model      string
	size       string
	downloader *http.Client
	logger     *zap.Logger
}

func (p *textToImageProvider) Name() string { return "text_to_image" }

func (p *textToImageProvider) Generate(ctx context.Context, req SynthesisRequest) ([]byte, string, error) {
	resp, err := p.client.CreateImage(ctx, openaigo.ImageRequest{
		Prompt:         req.Prompt,
		Model:          p.model,
		N:              1,
		Size:           p.size,
		ResponseFormat: openaigo.CreateImageResponseFormatURL,
	})
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", models.ErrImageGenerationFailed, err)
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return nil, "", fmt.Errorf("%w: provider returned no image URL", models.ErrImageGenerationFailed)
	}

	return p.download(ctx, resp.Data[0].URL)
}

// download fetches the provider URL before it expires.
func (p *textToImageProvider) download(ctx context.Context, imageURL string) ([]byte, string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create download request: %w", err)
	}

	resp, err := p.downloader.Do(httpReq)
	if err != nil {
		return nil, "", fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("%w: image download returned status %d", models.ErrImageGenerationFailed, resp.StatusCode)
	}

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read downloaded image: %w", err)
	}

	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "image/png"
	}
	return bodyBytes, mimeType, nil
}
