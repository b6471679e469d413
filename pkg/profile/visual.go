package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/barekit/vitrine/pkg/catalog"
	"github.com/barekit/vitrine/pkg/knowledge"
	"github.com/barekit/vitrine/pkg/llm"
)

// VisualType tags visual profile documents.
const VisualType = "visual-analysis"

// DefaultVisionModel is the model used for image analysis.
const DefaultVisionModel = "gpt-4o"

// ErrNoImage is returned when a product has no usable image to analyze.
var ErrNoImage = errors.New("product has no image")

// VisualAnalysis is the vision model's reading of a product photo.
type VisualAnalysis struct {
	AestheticStyle        []string `json:"aestheticStyle"`
	ArtMovementInfluence  []string `json:"artMovementInfluence"`
	CulturalInspiration   []string `json:"culturalInspiration"`
	MotifPattern          []string `json:"motifPattern"`
	ColorPalette          []string `json:"colorPalette"`
	FinishGlazeType       string   `json:"finishGlazeType"`
	Texture               string   `json:"texture"`
	EdgeRimStyle          string   `json:"edgeRimStyle"`
	FormGeometry          string   `json:"formGeometry"`
	VisualThemeKeywords   []string `json:"visualThemeKeywords"`
	ApparentMaterial      string   `json:"apparentMaterial"`
	ProductionMethod      string   `json:"productionMethod"`
	MoodEmotionElicited   []string `json:"moodEmotionElicited"`
	CulinaryCompatibility []string `json:"culinaryCompatibility"`
	LightingCompatibility []string `json:"lightingCompatibility"`
	PhotographicValue     string   `json:"photographicValue"`
	IntendedUse           []string `json:"intendedUse"`
	TargetIndustry        []string `json:"targetIndustry"`
	PriceSegment          string   `json:"priceSegment"`
	RichVisualDescription string   `json:"richVisualDescription"`
	AestheticTagBundle    []string `json:"aestheticTagBundle"`
	KeywordIndex          []string `json:"keywordIndex"`
}

// VisualMetadata is stored with each visual profile.
type VisualMetadata struct {
	ProductID   uint           `json:"productId"`
	ProductName string         `json:"productName"`
	ProductCode string         `json:"productCode"`
	ImageURL    string         `json:"imageUrl"`
	Analysis    VisualAnalysis `json:"analysis"`
	Type        string         `json:"type"`
}

const visionPrompt = `You are an expert in porcelain and ceramic design, art history and visual aesthetics.
Study the product image and classify it.

Use these vocabularies where they fit:
- aestheticStyle (1-3): Wabi-Sabi, Minimalist, Contemporary, Classic, Vintage, Rustic, Industrial, Art Deco, Scandinavian, Asian Fusion, Mediterranean, Middle Eastern
- artMovementInfluence (1-2): Minimalism, Modernism, Bauhaus, Art Deco, Art Nouveau, Brutalism, Organic Modernism, Japanese Aesthetics, Functionalism
- culturalInspiration (1-3): Japanese, Chinese, European, French, Italian, Middle Eastern, Scandinavian, Mediterranean, Global Fusion, American
- motifPattern: Textured/Organic, Geometric, Floral, Abstract, Ribbed, Embossed, Plain, Hand-painted, Reactive Glaze Pattern
- colorPalette: every visible color
- finishGlazeType: Matte, Glossy, Satin, Semi-Matte, Reactive Glaze, Textured Glaze, Crystalline
- texture: Smooth, Rough/Uneven, Ribbed, Embossed, Hand-crafted, Industrial-smooth
- edgeRimStyle: Clean/Sharp, Irregular/Organic, Beveled, Rounded, Rustic, Hand-finished
- formGeometry: Round, Square, Rectangular, Oval, Organic/Irregular, Asymmetric
- visualThemeKeywords (3-5): e.g. Earthy, Elegant, Bold, Delicate, Refined, Natural
- apparentMaterial: Fine Porcelain, Bone China, Stoneware, Ceramic, Earthenware
- productionMethod: Handmade, Industrial, Semi-handmade
- moodEmotionElicited (2-3): Calm, Sophisticated, Warm, Inviting, Bold, Serene, Rustic, Refined, Playful, Elegant
- culinaryCompatibility: Japanese, French, Italian, Modern European, Asian Fusion, Middle Eastern, Contemporary American
- lightingCompatibility: Candlelight, Natural Light, Bright Restaurant Lighting, Mood Lighting
- photographicValue: High, Medium, Low
- intendedUse: Fine Dining, Casual Dining, Banquet, Cafe, Hotel, Home
- targetIndustry: Fine Dining Restaurant, Casual Restaurant, Hotel, Catering, Retail/Home
- priceSegment: Luxury, Premium, Mid-Range, Budget
- richVisualDescription: 3-4 sentences on the piece's character and ideal use
- aestheticTagBundle: 5-7 combined search tags
- keywordIndex: 10-15 search keywords

Respond with a single JSON object using exactly these keys:
aestheticStyle, artMovementInfluence, culturalInspiration, motifPattern, colorPalette,
finishGlazeType, texture, edgeRimStyle, formGeometry, visualThemeKeywords, apparentMaterial,
productionMethod, moodEmotionElicited, culinaryCompatibility, lightingCompatibility,
photographicValue, intendedUse, targetIndustry, priceSegment, richVisualDescription,
aestheticTagBundle, keywordIndex.
String fields hold strings, every other field is an array of strings.`

// Analyzer asks a vision-capable model to describe product photos.
type Analyzer struct {
	provider llm.Provider
	model    string
}

// NewAnalyzer creates an Analyzer. An empty model uses DefaultVisionModel.
func NewAnalyzer(provider llm.Provider, model string) *Analyzer {
	if model == "" {
		model = DefaultVisionModel
	}
	return &Analyzer{provider: provider, model: model}
}

// ImageURL returns the analyzable image of p, or "" when it has none.
func ImageURL(p catalog.Product) string {
	u := catalog.ExtractImageURL(p.ProductImages)
	if u == catalog.PlaceholderImageURL {
		return ""
	}
	return u
}

// Analyze runs the vision model on the product image.
func (a *Analyzer) Analyze(ctx context.Context, p catalog.Product) (*VisualAnalysis, string, error) {
	imageURL := ImageURL(p)
	if imageURL == "" {
		return nil, "", fmt.Errorf("product %d: %w", p.ID, ErrNoImage)
	}

	messages := []llm.Message{{
		Role:    llm.RoleUser,
		Content: visionPrompt,
		Attachments: []llm.Attachment{
			{Type: llm.AttachmentImageURL, URL: imageURL},
		},
	}}
	resp, err := a.provider.Chat(ctx, messages, llm.Options{
		Model:       a.model,
		Temperature: 0.3,
		MaxTokens:   1500,
		JSON:        true,
	})
	if err != nil {
		return nil, imageURL, fmt.Errorf("vision analysis of product %d failed: %w", p.ID, err)
	}

	var analysis VisualAnalysis
	if err := json.Unmarshal([]byte(resp.Message.Content), &analysis); err != nil {
		return nil, imageURL, fmt.Errorf("failed to parse vision analysis of product %d: %w", p.ID, err)
	}
	return &analysis, imageURL, nil
}

// SearchableText renders an analysis as the text that gets embedded.
func SearchableText(p catalog.Product, a VisualAnalysis) string {
	join := func(values []string) string { return strings.Join(values, ", ") }

	var b strings.Builder
	fmt.Fprintf(&b, "Product: %s (%s)\n\n", p.ProductName, p.ProductCode)
	fmt.Fprintf(&b, "VISUAL AESTHETICS:\n%s\n", a.RichVisualDescription)
	fmt.Fprintf(&b, "Style: %s\n", join(a.AestheticStyle))
	fmt.Fprintf(&b, "Art Movement: %s\n", join(a.ArtMovementInfluence))
	fmt.Fprintf(&b, "Cultural Inspiration: %s\n\n", join(a.CulturalInspiration))
	fmt.Fprintf(&b, "VISUAL CHARACTERISTICS:\n")
	fmt.Fprintf(&b, "Pattern: %s\n", join(a.MotifPattern))
	fmt.Fprintf(&b, "Colors: %s\n", join(a.ColorPalette))
	fmt.Fprintf(&b, "Finish: %s\n", a.FinishGlazeType)
	fmt.Fprintf(&b, "Texture: %s\n", a.Texture)
	fmt.Fprintf(&b, "Edge: %s\n", a.EdgeRimStyle)
	fmt.Fprintf(&b, "Form: %s\n\n", a.FormGeometry)
	fmt.Fprintf(&b, "MATERIAL & CRAFT:\n")
	fmt.Fprintf(&b, "Material: %s\n", a.ApparentMaterial)
	fmt.Fprintf(&b, "Production: %s\n\n", a.ProductionMethod)
	fmt.Fprintf(&b, "EMOTIONAL & CONTEXTUAL:\n")
	fmt.Fprintf(&b, "Mood: %s\n", join(a.MoodEmotionElicited))
	fmt.Fprintf(&b, "Theme: %s\n\n", join(a.VisualThemeKeywords))
	fmt.Fprintf(&b, "CULINARY & USAGE:\n")
	fmt.Fprintf(&b, "Best for: %s\n", join(a.CulinaryCompatibility))
	fmt.Fprintf(&b, "Lighting: %s\n", join(a.LightingCompatibility))
	fmt.Fprintf(&b, "Use Case: %s\n", join(a.IntendedUse))
	fmt.Fprintf(&b, "Target: %s\n", join(a.TargetIndustry))
	fmt.Fprintf(&b, "Segment: %s\n\n", a.PriceSegment)
	fmt.Fprintf(&b, "PHOTOGENIC VALUE: %s\n\n", a.PhotographicValue)
	fmt.Fprintf(&b, "Tags: %s\n", join(a.AestheticTagBundle))
	fmt.Fprintf(&b, "Keywords: %s", join(a.KeywordIndex))
	return b.String()
}

// VisualID is the document id of a product's visual profile.
func VisualID(productID uint) string {
	return fmt.Sprintf("visual-%d", productID)
}

// VisualDocument builds the unembedded profile document for p.
func VisualDocument(p catalog.Product, imageURL string, a VisualAnalysis) knowledge.Document[VisualMetadata] {
	return knowledge.Document[VisualMetadata]{
		ID:      VisualID(p.ID),
		Content: SearchableText(p, a),
		Metadata: VisualMetadata{
			ProductID:   p.ID,
			ProductName: p.ProductName,
			ProductCode: p.ProductCode,
			ImageURL:    imageURL,
			Analysis:    a,
			Type:        VisualType,
		},
	}
}
