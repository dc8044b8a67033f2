package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/pkoukk/tiktoken-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	openaigo "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"dream-server/internal/config"
	"dream-server/internal/models"
)

// visionInstruction asks only for durable visual traits: the description is
// reused across every scene of a sequence, so transient details (pose,
// background, lighting) would fight the per-scene text.
const visionInstruction = `Describe the person in this photo for an illustrator who must draw the same character many times. List only durable visual traits: approximate age, hair color and length, eye color, skin tone, build, and distinctive features such as glasses or freckles. One short paragraph, no names, no background or pose details.`

var (
	visionRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dream_server_vision_requests_total",
			Help: "Total number of character analysis requests.",
		},
		[]string{"provider", "status"},
	)
	visionRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dream_server_vision_request_duration_seconds",
			Help:    "Histogram of character analysis request durations.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)
	visionDescriptionTokens = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dream_server_vision_description_tokens",
			Help:    "Histogram of estimated token counts of produced character descriptions.",
			Buckets: prometheus.LinearBuckets(25, 25, 12),
		},
		[]string{"provider"},
	)
)

// CharacterAnalyzer produces a free-text description of the reference
// photo's durable visual traits. Implementations degrade gracefully: on any
// failure they return an empty description together with the error, and the
// caller decides whether to proceed without enrichment.
type CharacterAnalyzer interface {
	DescribeCharacter(ctx context.Context, userID string, imageData []byte, mimeType string) (models.CharacterDescription, error)
}

// NewCharacterAnalyzer selects the analyzer implementation from the
// configured vision client type.
func NewCharacterAnalyzer(cfg *config.Config, logger *zap.Logger) (CharacterAnalyzer, error) {
	switch strings.ToLower(cfg.VisionClientType) {
	case "openai":
		openaiConfig := openaigo.DefaultConfig(cfg.VisionAPIKey)
		openaiConfig.BaseURL = cfg.VisionBaseURL
		openaiConfig.HTTPClient = &http.Client{Timeout: cfg.VisionTimeout}
		logger.Info("Using OpenAI vision analyzer",
			zap.String("base_url", cfg.VisionBaseURL),
			zap.String("model", cfg.VisionModel),
			zap.Duration("timeout", cfg.VisionTimeout))
		return &openAIVisionAnalyzer{
			client: openaigo.NewClientWithConfig(openaiConfig),
			model:  cfg.VisionModel,
			logger: logger.Named("OpenAIVisionAnalyzer"),
		}, nil
	case "ollama":
		return newOllamaVisionAnalyzer(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown vision client type: '%s'", cfg.VisionClientType)
	}
}

// --- OpenAI Implementation ---

// Compile-time check to ensure openAIVisionAnalyzer implements the interface
var _ CharacterAnalyzer = (*openAIVisionAnalyzer)(nil)

type openAIVisionAnalyzer struct {
	client *openaigo.Client
	model  string
	logger *zap.Logger
}

func (a *openAIVisionAnalyzer) DescribeCharacter(ctx context.Context, userID string, imageData []byte, mimeType string) (models.CharacterDescription, error) {
	startTime := time.Now()

	dataURL := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(imageData))
	resp, err := a.client.CreateChatCompletion(ctx, openaigo.ChatCompletionRequest{
		Model: a.model,
		Messages: []openaigo.ChatCompletionMessage{
			{
				Role: openaigo.ChatMessageRoleUser,
				MultiContent: []openaigo.ChatMessagePart{
					{
						Type: openaigo.ChatMessagePartTypeText,
						Text: visionInstruction,
					},
					{
						Type: openaigo.ChatMessagePartTypeImageURL,
						ImageURL: &openaigo.ChatMessageImageURL{
							URL:    dataURL,
							Detail: openaigo.ImageURLDetailAuto,
						},
					},
				},
			},
		},
	})
	duration := time.Since(startTime)

	if err != nil {
		visionRequestsTotal.With(prometheus.Labels{"provider": "openai", "status": "error"}).Inc()
		a.logger.Error("Vision request failed",
			zap.String("user_id", userID),
			zap.Duration("duration", duration),
			zap.Error(err))
		return "", fmt.Errorf("%w: %s", models.ErrAnalysisFailed, err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		visionRequestsTotal.With(prometheus.Labels{"provider": "openai", "status": "empty"}).Inc()
		a.logger.Warn("Vision request returned an empty description",
			zap.String("user_id", userID),
			zap.Duration("duration", duration))
		return "", fmt.Errorf("%w: empty response", models.ErrAnalysisFailed)
	}

	description := strings.TrimSpace(resp.Choices[0].Message.Content)
	visionRequestsTotal.With(prometheus.Labels{"provider": "openai", "status": "success"}).Inc()
	visionRequestDuration.With(prometheus.Labels{"provider": "openai"}).Observe(duration.Seconds())
	observeDescriptionTokens("openai", a.model, description)

	a.logger.Debug("Character description produced",
		zap.String("user_id", userID),
		zap.Duration("duration", duration),
		zap.Int("description_length", len(description)))
	return models.CharacterDescription(description), nil
}

// --- Ollama Implementation ---

// Compile-time check to ensure ollamaVisionAnalyzer implements the interface
var _ CharacterAnalyzer = (*ollamaVisionAnalyzer)(nil)

type ollamaVisionAnalyzer struct {
	client *api.Client
	model  string
	logger *zap.Logger
}

func newOllamaVisionAnalyzer(cfg *config.Config, logger *zap.Logger) (CharacterAnalyzer, error) {
	baseURL := strings.TrimSuffix(cfg.VisionBaseURL, "/v1")
	baseURL = strings.TrimSuffix(baseURL, "/")

	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Ollama base URL '%s': %w", baseURL, err)
	}

	logger.Info("Using Ollama vision analyzer",
		zap.String("base_url", baseURL),
		zap.String("model", cfg.VisionModel),
		zap.Duration("timeout", cfg.VisionTimeout))

	return &ollamaVisionAnalyzer{
		client: api.NewClient(parsedURL, &http.Client{Timeout: cfg.VisionTimeout}),
		model:  cfg.VisionModel,
		logger: logger.Named("OllamaVisionAnalyzer"),
	}, nil
}

func (a *ollamaVisionAnalyzer) DescribeCharacter(ctx context.Context, userID string, imageData []byte, mimeType string) (models.CharacterDescription, error) {
	startTime := time.Now()
	stream := false

	var responseText strings.Builder
	err := a.client.Chat(ctx, &api.ChatRequest{
		Model: a.model,
		Messages: []api.Message{
			{
				Role:    "user",
				Content: visionInstruction,
				Images:  []api.ImageData{imageData},
			},
		},
		Stream: &stream,
	}, func(resp api.ChatResponse) error {
		responseText.WriteString(resp.Message.Content)
		return nil
	})
	duration := time.Since(startTime)

	if err != nil {
		visionRequestsTotal.With(prometheus.Labels{"provider": "ollama", "status": "error"}).Inc()
		a.logger.Error("Vision request failed",
			zap.String("user_id", userID),
			zap.Duration("duration", duration),
			zap.Error(err))
		return "", fmt.Errorf("%w: %s", models.ErrAnalysisFailed, err)
	}

	description := strings.TrimSpace(responseText.String())
	if description == "" {
		visionRequestsTotal.With(prometheus.Labels{"provider": "ollama", "status": "empty"}).Inc()
		return "", fmt.Errorf("%w: empty response", models.ErrAnalysisFailed)
	}

	visionRequestsTotal.With(prometheus.Labels{"provider": "ollama", "status": "success"}).Inc()
	visionRequestDuration.With(prometheus.Labels{"provider": "ollama"}).Observe(duration.Seconds())
	observeDescriptionTokens("ollama", a.model, description)

	a.logger.Debug("Character description produced",
		zap.String("user_id", userID),
		zap.Duration("duration", duration),
		zap.Int("description_length", len(description)))
	return models.CharacterDescription(description), nil
}

// observeDescriptionTokens records an estimated token count for the produced
// description. Vision responses do not always carry usage info, so the count
// is approximated locally; models unknown to tiktoken fall back to cl100k_base.
func observeDescriptionTokens(provider, model, description string) {
	tke, err := tiktoken.EncodingForModel(model)
	if err != nil {
		tke, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return
		}
	}
	visionDescriptionTokens.With(prometheus.Labels{"provider": provider}).
		Observe(float64(len(tke.Encode(description, nil, nil))))
}
