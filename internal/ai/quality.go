package ai

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pageza/alchemorsel-v2/recipegen/internal/apperrors"
	"github.com/pageza/alchemorsel-v2/recipegen/internal/types"
)

// QualityService scores drafts with the text model
type QualityService struct {
	chat *ChatClient
}

func NewQualityService(chat *ChatClient) *QualityService {
	return &QualityService{chat: chat}
}

type qualityResponse struct {
	Completeness float64  `json:"completeness"`
	Clarity      float64  `json:"clarity"`
	Consistency  float64  `json:"consistency"`
	Overall      *float64 `json:"overall"`
	Reasons      []string `json:"reasons"`
}

// EvaluateQuality returns a normalized assessment. A missing overall score is
// the mean of the three sub-scores.
func (s *QualityService) EvaluateQuality(ctx context.Context, draft *types.RecipeDraft) (*types.QualityAssessment, error) {
	out, err := s.chat.Complete(ctx, qualitySystemPrompt, describeDraft(draft), 0.2)
	if err != nil {
		return nil, apperrors.NewExternalServiceError("quality evaluation", err)
	}
	return parseQuality(out)
}

func parseQuality(raw string) (*types.QualityAssessment, error) {
	body, err := extractJSON(raw)
	if err != nil {
		return nil, apperrors.NewExternalServiceError("quality evaluation", err)
	}
	var r qualityResponse
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		return nil, apperrors.NewExternalServiceError("quality evaluation", fmt.Errorf("decode assessment: %w", err))
	}
	q := &types.QualityAssessment{
		Completeness: r.Completeness,
		Clarity:      r.Clarity,
		Consistency:  r.Consistency,
		Reasons:      r.Reasons,
	}
	if r.Overall != nil {
		q.Overall = *r.Overall
	} else {
		q.Overall = (r.Completeness + r.Clarity + r.Consistency) / 3
	}
	q.Normalize()
	return q, nil
}
