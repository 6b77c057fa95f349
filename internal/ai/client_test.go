package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pageza/alchemorsel-v2/recipegen/config"
	"github.com/pageza/alchemorsel-v2/recipegen/internal/apperrors"
	"github.com/pageza/alchemorsel-v2/recipegen/internal/types"
)

// fakeAPI serves canned chat completions and image generations
type fakeAPI struct {
	chatReply   string
	chatStatus  int
	imageURL    string
	imageFails  int32
	imageCalls  int32

	mu   sync.Mutex
	last map[string]interface{}
}

func (f *fakeAPI) lastBody() map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

func (f *fakeAPI) server(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.last = body
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")

		switch {
		case strings.HasSuffix(r.URL.Path, "/chat/completions"):
			if f.chatStatus != 0 {
				w.WriteHeader(f.chatStatus)
				_, _ = w.Write([]byte(`{"error": {"message": "boom"}}`))
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"id": "chatcmpl-1", "object": "chat.completion", "created": 0, "model": "test",
				"choices": []map[string]interface{}{{
					"index": 0, "finish_reason": "stop",
					"message": map[string]interface{}{"role": "assistant", "content": f.chatReply},
				}},
			})
		case strings.HasSuffix(r.URL.Path, "/images/generations"):
			n := atomic.AddInt32(&f.imageCalls, 1)
			if n <= f.imageFails {
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"error": {"message": "busy"}}`))
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"created": 0,
				"data":    []map[string]interface{}{{"url": f.imageURL}},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newChat(t *testing.T, f *fakeAPI) *ChatClient {
	srv := f.server(t)
	return NewChatClient(config.AIEndpoint{URL: srv.URL + "/", Model: "test", Key: "k"}, zap.NewNop(), option.WithMaxRetries(0))
}

func TestGenerateText(t *testing.T) {
	f := &fakeAPI{chatReply: `{"title": "Soup"}`}
	gen := NewTextGenerator(newChat(t, f))

	out, err := gen.GenerateText(context.Background(), "soup please")
	require.NoError(t, err)
	assert.Equal(t, `{"title": "Soup"}`, out)
	assert.Equal(t, "test", f.lastBody()["model"])
}

func TestGenerateTextProviderError(t *testing.T) {
	f := &fakeAPI{chatStatus: http.StatusBadRequest}
	gen := NewTextGenerator(newChat(t, f))

	_, err := gen.GenerateText(context.Background(), "soup")
	require.Error(t, err)
	assert.True(t, apperrors.IsExternal(err))
}

func TestEvaluateQuality(t *testing.T) {
	draft := &types.RecipeDraft{Title: "Soup", Ingredients: []string{"water"}, Steps: []types.Step{{Text: "boil"}}}

	t.Run("overall given", func(t *testing.T) {
		f := &fakeAPI{chatReply: `{"completeness": 8, "clarity": 7, "consistency": 9, "overall": 6.2, "reasons": ["thin"]}`}
		q, err := NewQualityService(newChat(t, f)).EvaluateQuality(context.Background(), draft)
		require.NoError(t, err)
		assert.InDelta(t, 6.2, q.Overall, 1e-9)
		assert.False(t, q.PassingThreshold)
		assert.Equal(t, []string{"thin"}, q.Reasons)
	})

	t.Run("overall derived and clamped", func(t *testing.T) {
		f := &fakeAPI{chatReply: `{"completeness": 12, "clarity": 9, "consistency": 9}`}
		q, err := NewQualityService(newChat(t, f)).EvaluateQuality(context.Background(), draft)
		require.NoError(t, err)
		assert.Equal(t, 10.0, q.Completeness)
		assert.Equal(t, 10.0, q.Overall)
		assert.True(t, q.PassingThreshold)
	})

	t.Run("garbage", func(t *testing.T) {
		f := &fakeAPI{chatReply: "no idea"}
		_, err := NewQualityService(newChat(t, f)).EvaluateQuality(context.Background(), draft)
		assert.True(t, apperrors.IsExternal(err))
	})
}

func TestClassify(t *testing.T) {
	draft := &types.RecipeDraft{Title: "Soup"}

	f := &fakeAPI{chatReply: `{"category": "Soup", "tags": ["Warm", "warm", "winter", "easy", "quick", "cheap", "extra"]}`}
	c, err := NewClassifier(newChat(t, f)).Classify(context.Background(), draft)
	require.NoError(t, err)
	assert.Equal(t, "Soup", c.Category)
	assert.Equal(t, []string{"warm", "winter", "easy", "quick", "cheap"}, c.Tags)

	f = &fakeAPI{chatReply: `{"category": " ", "tags": []}`}
	_, err = NewClassifier(newChat(t, f)).Classify(context.Background(), draft)
	assert.True(t, apperrors.IsExternal(err))
}

func TestEstimateNutrition(t *testing.T) {
	f := &fakeAPI{chatReply: `{"calories": 250, "protein": 8, "fat": 3, "carbs": 40}`}
	n, err := NewNutritionService(newChat(t, f)).EstimateNutrition(context.Background(), "Soup", []string{"water", "salt"})
	require.NoError(t, err)
	assert.Equal(t, types.Nutrition{Calories: 250, Protein: 8, Fat: 3, Carbs: 40}, *n)

	f = &fakeAPI{chatReply: `{"calories": -5, "protein": 8, "fat": 3, "carbs": 40}`}
	_, err = NewNutritionService(newChat(t, f)).EstimateNutrition(context.Background(), "Soup", nil)
	assert.True(t, apperrors.IsExternal(err))
}

func newImageClient(t *testing.T, f *fakeAPI, attempts int) *ImageClient {
	srv := f.server(t)
	cfg := config.ImageConfig{
		AIEndpoint:  config.AIEndpoint{URL: srv.URL + "/", Model: "dall-e-3", Key: "k"},
		MaxAttempts: attempts,
	}
	return NewImageClient(cfg, zap.NewNop(), option.WithMaxRetries(0)).WithBackoff(0)
}

func TestGenerateImage(t *testing.T) {
	f := &fakeAPI{imageURL: "https://images.example/1.png"}
	url, err := newImageClient(t, f, 3).GenerateImage(context.Background(), "a bowl of soup", types.TierPro)
	require.NoError(t, err)
	assert.Equal(t, "https://images.example/1.png", url)
	assert.Equal(t, "hd", f.lastBody()["quality"])
	assert.Equal(t, "1024x1024", f.lastBody()["size"])
	assert.Equal(t, "url", f.lastBody()["response_format"])
}

func TestGenerateImageRetries(t *testing.T) {
	f := &fakeAPI{imageURL: "https://images.example/2.png", imageFails: 2}
	url, err := newImageClient(t, f, 3).GenerateImage(context.Background(), "soup", types.TierFree)
	require.NoError(t, err)
	assert.Equal(t, "https://images.example/2.png", url)
	assert.EqualValues(t, 3, atomic.LoadInt32(&f.imageCalls))

	f = &fakeAPI{imageFails: 5}
	_, err = newImageClient(t, f, 2).GenerateImage(context.Background(), "soup", types.TierFree)
	require.Error(t, err)
	assert.True(t, apperrors.IsExternal(err))
	assert.EqualValues(t, 2, atomic.LoadInt32(&f.imageCalls))
}

func TestTierImageOptions(t *testing.T) {
	tests := []struct {
		tier    string
		quality openai.ImageGenerateParamsQuality
	}{
		{types.TierFree, openai.ImageGenerateParamsQualityStandard},
		{types.TierBasic, openai.ImageGenerateParamsQualityStandard},
		{types.TierPremium, openai.ImageGenerateParamsQualityHD},
		{"PRO", openai.ImageGenerateParamsQualityHD},
		{"platinum", openai.ImageGenerateParamsQualityStandard},
	}
	for _, tt := range tests {
		opts := TierImageOptions(tt.tier)
		assert.Equal(t, tt.quality, opts.Quality, tt.tier)
		assert.Equal(t, openai.ImageGenerateParamsSize1024x1024, opts.Size, tt.tier)
	}
}

func TestBuildGenerationPrompt(t *testing.T) {
	assert.Equal(t, "Generate a recipe for: soup", BuildGenerationPrompt("soup", nil))

	prompt := BuildGenerationPrompt("soup", &types.UserPreferences{Allergens: []string{"peanuts"}, DietaryRestrictions: []string{"vegan"}})
	assert.Contains(t, prompt, "Avoid using: peanuts")
	assert.Contains(t, prompt, "suitable for: vegan")
}

func TestBuildIllustrationPromptUsesHint(t *testing.T) {
	draft := &types.RecipeDraft{Title: "Soup", Steps: []types.Step{{Text: "Boil water", IllustrationPrompt: "Steaming Pot"}, {Text: "Add Salt"}}}
	assert.Contains(t, BuildIllustrationPrompt(draft, 0), "steaming pot")
	assert.Contains(t, BuildIllustrationPrompt(draft, 1), "add salt")
	assert.LessOrEqual(t, len(BuildIllustrationPrompt(&types.RecipeDraft{Title: strings.Repeat("x", 2000), Steps: draft.Steps}, 0)), maxImagePromptLength)
}
