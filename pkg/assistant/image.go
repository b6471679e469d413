package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/barekit/vitrine/pkg/catalog"
	"github.com/barekit/vitrine/pkg/knowledge"
	"github.com/barekit/vitrine/pkg/llm"
	"github.com/barekit/vitrine/pkg/observability"
)

const imageAnalysisPrompt = `You are an expert in porcelain and ceramic design aesthetics.

Analyze this image and describe the visual characteristics, style, and aesthetic qualities you observe.

Focus on:
1. Overall aesthetic style (minimalist, rustic, contemporary, classic, etc.)
2. Cultural influences (Japanese, European, Middle Eastern, etc.)
3. Colors and color palette
4. Finish and texture (matte, glossy, textured, smooth)
5. Form and geometry (round, organic, geometric)
6. Mood and emotional quality (elegant, warm, bold, serene)
7. Pattern or decorative elements
8. Material appearance (porcelain, stoneware, ceramic)
9. Production quality (handmade, industrial, artisanal)
10. Use context (fine dining, casual, specific cuisine type)

Provide a comprehensive description that will help match this to similar products.

Respond with JSON in this format:
{
  "summary": "Brief 2-3 sentence description of what you see",
  "aestheticStyle": ["style1", "style2"],
  "culturalInfluence": ["culture1", "culture2"],
  "colorPalette": ["color1", "color2", "color3"],
  "finish": "matte/glossy/etc",
  "texture": "description",
  "mood": ["mood1", "mood2"],
  "formGeometry": "description",
  "searchQuery": "A natural language search query to find similar products"
}`

// ImageAnalysis describes a customer-supplied photo.
type ImageAnalysis struct {
	Summary           string   `json:"summary"`
	AestheticStyle    []string `json:"aestheticStyle"`
	CulturalInfluence []string `json:"culturalInfluence"`
	ColorPalette      []string `json:"colorPalette"`
	Finish            string   `json:"finish"`
	Texture           string   `json:"texture"`
	Mood              []string `json:"mood"`
	FormGeometry      string   `json:"formGeometry"`
	SearchQuery       string   `json:"searchQuery"`
}

// ImageMatch is the reply to a photo.
type ImageMatch struct {
	Analysis ImageAnalysis           `json:"analysis"`
	Products []catalog.ProductResult `json:"products"`
	Message  string                  `json:"message"`
}

// MatchImage describes the photo at imageURL (an http(s) or data URL) with
// the vision model and looks up visually similar products. Product lookup
// failures only shrink the result.
func (a *Assistant) MatchImage(ctx context.Context, imageURL string) (match *ImageMatch, err error) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("image match panicked", "panic", r)
			match, err = nil, newError(CodeInternal, fmt.Errorf("panic: %v", r))
		}
	}()

	if strings.TrimSpace(imageURL) == "" {
		return nil, newError(CodeInvalidRequest, errors.New("no image provided"))
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	lctx, span := observability.StartLLMSpan(ctx, a.visionModel)
	resp, err := a.provider.Chat(lctx, []llm.Message{{
		Role:        llm.RoleUser,
		Content:     imageAnalysisPrompt,
		Attachments: []llm.Attachment{{Type: llm.AttachmentImageURL, URL: imageURL}},
	}}, llm.Options{
		Model:       a.visionModel,
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
		JSON:        true,
	})
	if err != nil {
		observability.RecordError(span, err)
		span.End()
		return nil, providerError(ctx, fmt.Errorf("image analysis failed: %w", err))
	}
	observability.RecordUsage(span, resp.Usage)
	span.End()

	var analysis ImageAnalysis
	if content := strings.TrimSpace(resp.Message.Content); content != "" {
		if err := json.Unmarshal([]byte(content), &analysis); err != nil {
			return nil, newError(CodeProvider, fmt.Errorf("failed to parse image analysis: %w", err))
		}
	}

	match = &ImageMatch{Analysis: analysis, Products: []catalog.ProductResult{}}
	if q := firstNonEmpty(analysis.SearchQuery, analysis.Summary); q != "" {
		match.Products = a.similarProducts(ctx, q)
	}

	style := strings.Join(analysis.AestheticStyle, " and ")
	if len(match.Products) > 0 {
		match.Message = fmt.Sprintf("Based on your image, I found %d similar products that match the %s style you're looking for.", len(match.Products), style)
	} else {
		match.Message = fmt.Sprintf("I analyzed your image and found it has a %s aesthetic. Let me search for similar products for you.", style)
	}
	return match, nil
}

// similarProducts searches the visual profiles for query. Any failure
// yields no products.
func (a *Assistant) similarProducts(ctx context.Context, query string) []catalog.ProductResult {
	if a.visual == nil || !a.resolver.Enabled() {
		return []catalog.ProductResult{}
	}

	embedding, err := knowledge.EmbedOne(ctx, a.embedder, query)
	if err != nil {
		a.logger.Warn("failed to embed image query", "error", err)
		return []catalog.ProductResult{}
	}
	matches, err := a.visual.Query(ctx, embedding, a.productLimit)
	if err != nil {
		a.logger.Warn("visual search failed", "error", err)
		return []catalog.ProductResult{}
	}

	scores := make(map[uint]float64, len(matches))
	for _, m := range matches {
		if s, ok := scores[m.Metadata.ProductID]; !ok || m.Score > s {
			scores[m.Metadata.ProductID] = m.Score
		}
	}
	products := a.resolver.ProductsByIDs(ctx, rankIDs(scores, a.productLimit))
	if products == nil {
		return []catalog.ProductResult{}
	}
	return products
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
