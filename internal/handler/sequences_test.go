package handler

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"dream-server/internal/models"
)

func TestNormalizeScenes(t *testing.T) {
	cases := []struct {
		name     string
		values   []string
		expected []string
	}{
		{
			name:     "no values",
			values:   nil,
			expected: nil,
		},
		{
			name:     "repeated form fields pass through",
			values:   []string{"first scene", "second scene"},
			expected: []string{"first scene", "second scene"},
		},
		{
			name:     "single bare string",
			values:   []string{"a child flying over clouds"},
			expected: []string{"a child flying over clouds"},
		},
		{
			name:     "blank single value",
			values:   []string{"   "},
			expected: nil,
		},
		{
			name:     "json array",
			values:   []string{`["first scene", "second scene"]`},
			expected: []string{"first scene", "second scene"},
		},
		{
			name:     "json array with surrounding whitespace",
			values:   []string{`  ["only scene"]  `},
			expected: []string{"only scene"},
		},
		{
			name:     "mixed-type json array keeps only strings",
			values:   []string{`["a scene", 42, null, "another scene"]`},
			expected: []string{"a scene", "another scene"},
		},
		{
			name:     "malformed json array becomes one scene",
			values:   []string{`[broken`},
			expected: []string{`[broken`},
		},
		{
			name:     "json-encoded string unwraps",
			values:   []string{`"a quoted scene"`},
			expected: []string{"a quoted scene"},
		},
		{
			name:     "json-encoded array inside a string unwraps twice",
			values:   []string{`"[\"first\", \"second\"]"`},
			expected: []string{"first", "second"},
		},
		{
			name:     "unterminated quote stays a bare scene",
			values:   []string{`"half quoted`},
			expected: []string{`"half quoted`},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, normalizeScenes(tc.values))
		})
	}
}

func TestRespondError_StatusMapping(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := &SequenceHandler{logger: zap.NewNop()}

	cases := []struct {
		err        error
		wantStatus int
	}{
		{models.ErrInvalidInput, http.StatusBadRequest},
		{models.ErrStyleNotFound, http.StatusBadRequest},
		{models.ErrReferenceImageMissing, http.StatusBadRequest},
		{models.ErrReferenceImageTooBig, http.StatusBadRequest},
		{models.ErrUnsupportedImageType, http.StatusBadRequest},
		{fmt.Errorf("%w: subject label is required", models.ErrInvalidInput), http.StatusBadRequest},
		{models.ErrJobNotFound, http.StatusNotFound},
		{models.ErrNotFound, http.StatusNotFound},
		{models.ErrImageNotFound, http.StatusNotFound},
		{models.ErrJobAlreadyDone, http.StatusConflict},
		{models.ErrAllProvidersFailed, http.StatusBadGateway},
		{models.ErrImageGenerationFailed, http.StatusBadGateway},
		{fmt.Errorf("something unexpected"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			h.respondError(c, tc.err)
			assert.Equal(t, tc.wantStatus, w.Code)
		})
	}
}
