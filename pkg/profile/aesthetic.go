// Package profile derives searchable style profiles for catalog products.
//
// Aesthetic profiles come from keyword rules over a product's name and
// description. Visual profiles come from a vision model looking at the
// product image. Each profile is embedded into its own vector store and
// matched against shoppers' style questions.
package profile

import (
	"fmt"
	"strings"

	"github.com/barekit/vitrine/pkg/catalog"
	"github.com/barekit/vitrine/pkg/knowledge"
)

// AestheticTraits are the style attributes inferred for a product.
type AestheticTraits struct {
	Material       string   `json:"material"`
	MaterialFinish string   `json:"materialFinish,omitempty"`
	Style          []string `json:"style"`
	ColorPalette   []string `json:"colorPalette"`
	Finish         string   `json:"finish"`
	EdgeType       string   `json:"edgeType,omitempty"`
	Aesthetic      string   `json:"aesthetic"`
	UseCase        []string `json:"useCase"`
}

// AestheticMetadata is stored with each aesthetic profile.
type AestheticMetadata struct {
	ProductID   uint            `json:"productId"`
	ProductName string          `json:"productName"`
	ProductCode string          `json:"productCode"`
	Traits      AestheticTraits `json:"traits"`
	Locale      string          `json:"locale,omitempty"`
}

var paletteColors = []string{"white", "black", "cream", "ivory", "grey", "gray", "blue", "green", "red", "brown"}

// ExtractAestheticTraits infers traits from the product's text.
func ExtractAestheticTraits(p catalog.Product) AestheticTraits {
	desc := p.Description
	if desc == "" {
		desc = p.ProductDescription
	}
	text := strings.ToLower(p.ProductName + " " + desc)
	has := func(words ...string) bool {
		for _, w := range words {
			if strings.Contains(text, w) {
				return true
			}
		}
		return false
	}

	traits := AestheticTraits{
		Material:       p.Material,
		MaterialFinish: p.MaterialFinish,
		Style:          []string{},
		ColorPalette:   []string{},
		UseCase:        []string{},
	}
	if traits.Material == "" {
		traits.Material = "porcelain"
	}

	if has("classic", "traditional") {
		traits.Style = append(traits.Style, "classic")
	}
	if has("modern", "contemporary") {
		traits.Style = append(traits.Style, "modern")
	}
	if has("minimalist", "simple") {
		traits.Style = append(traits.Style, "minimalist")
	}
	if has("elegant", "fine") {
		traits.Style = append(traits.Style, "elegant")
	}
	if has("rustic", "artisan") {
		traits.Style = append(traits.Style, "rustic")
	}

	for _, c := range paletteColors {
		if has(c) {
			traits.ColorPalette = append(traits.ColorPalette, c)
		}
	}
	if len(traits.ColorPalette) == 0 {
		traits.ColorPalette = []string{"white"}
	}

	switch {
	case has("glossy", "shiny", "glaze"):
		traits.Finish = "glossy"
	case has("matte", "matt"):
		traits.Finish = "matte"
	case has("satin"):
		traits.Finish = "satin"
	default:
		traits.Finish = "glazed"
	}

	if has("hotel", "hospitality") {
		traits.UseCase = append(traits.UseCase, "hotel")
	}
	if has("restaurant", "commercial") {
		traits.UseCase = append(traits.UseCase, "restaurant")
	}
	if has("fine dining", "banquet") {
		traits.UseCase = append(traits.UseCase, "fine dining")
	}
	if has("casual", "everyday") {
		traits.UseCase = append(traits.UseCase, "casual dining")
	}
	if len(traits.UseCase) == 0 {
		traits.UseCase = []string{"home", "restaurant"}
	}

	switch {
	case has("rolled edge", "rolled rim"):
		traits.EdgeType = "rolled"
	case has("plain"):
		traits.EdgeType = "plain"
	}

	switch {
	case traits.hasStyle("classic", "elegant"):
		traits.Aesthetic = "elegant"
	case traits.hasStyle("modern", "minimalist"):
		traits.Aesthetic = "contemporary"
	case traits.hasStyle("rustic"):
		traits.Aesthetic = "rustic"
	default:
		traits.Aesthetic = "versatile"
	}

	return traits
}

func (t AestheticTraits) hasStyle(styles ...string) bool {
	for _, s := range t.Style {
		for _, want := range styles {
			if s == want {
				return true
			}
		}
	}
	return false
}

// Description renders the traits as the sentence list that gets embedded.
func (t AestheticTraits) Description() string {
	var parts []string
	if t.Material != "" {
		parts = append(parts, "Made from "+t.Material)
	}
	if t.MaterialFinish != "" {
		parts = append(parts, "with "+t.MaterialFinish+" finish")
	}
	if len(t.Style) > 0 {
		parts = append(parts, "featuring "+strings.Join(t.Style, ", ")+" design")
	}
	if len(t.ColorPalette) > 0 {
		parts = append(parts, "in "+strings.Join(t.ColorPalette, ", ")+" colors")
	}
	if t.Aesthetic != "" {
		parts = append(parts, "perfect for "+t.Aesthetic+" settings")
	}
	if len(t.UseCase) > 0 {
		parts = append(parts, "ideal for "+strings.Join(t.UseCase, ", "))
	}
	if t.EdgeType != "" {
		parts = append(parts, "with "+t.EdgeType+" edge")
	}
	return strings.Join(parts, ". ") + "."
}

// AestheticID is the document id of a product's aesthetic profile.
func AestheticID(productID uint) string {
	return fmt.Sprintf("aesthetic-%d", productID)
}

// AestheticDocument builds the unembedded profile document for p.
func AestheticDocument(p catalog.Product) knowledge.Document[AestheticMetadata] {
	traits := ExtractAestheticTraits(p)
	return knowledge.Document[AestheticMetadata]{
		ID:      AestheticID(p.ID),
		Content: traits.Description(),
		Metadata: AestheticMetadata{
			ProductID:   p.ID,
			ProductName: p.ProductName,
			ProductCode: p.ProductCode,
			Traits:      traits,
			Locale:      p.Locale,
		},
	}
}
