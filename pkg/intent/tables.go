package intent

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Mapping maps a keyword found in the text to a canonical value.
type Mapping struct {
	Keyword string `yaml:"keyword"`
	Value   string `yaml:"value"`
}

// ProductTables drive DetectProduct.
type ProductTables struct {
	Keywords    []string `yaml:"keywords"`
	Collections []string `yaml:"collections"`
	Categories  []string `yaml:"categories"`
	StopWords   []string `yaml:"stop_words"`
	// DefaultTerm is searched when nothing more specific can be extracted,
	// so generic discovery queries still surface products.
	DefaultTerm string `yaml:"default_term"`
}

// AestheticTables drive ExtractAesthetic.
type AestheticTables struct {
	Keywords []string  `yaml:"keywords"`
	Colors   []Mapping `yaml:"colors"`
	Style    []string  `yaml:"style"`
	Mood     []string  `yaml:"mood"`
	Setting  []string  `yaml:"setting"`
	Finish   []string  `yaml:"finish"`
}

// VisualTables drive ExtractVisual.
type VisualTables struct {
	Keywords []string  `yaml:"keywords"`
	Styles   []Mapping `yaml:"styles"`
	Cultures []Mapping `yaml:"cultures"`
	Finish   []string  `yaml:"finish"`
	Mood     []string  `yaml:"mood"`
	Cuisine  []string  `yaml:"cuisine"`
	Luxury   []string  `yaml:"luxury"`
	Budget   []string  `yaml:"budget"`
}

// Tables holds every keyword list used by the classifiers.
type Tables struct {
	Product   ProductTables   `yaml:"product"`
	Aesthetic AestheticTables `yaml:"aesthetic"`
	Visual    VisualTables    `yaml:"visual"`
}

// LoadTables reads a YAML override file on top of DefaultTables.
// Lists present in the file replace the default list entirely.
func LoadTables(path string) (Tables, error) {
	tables := DefaultTables()
	if path == "" {
		return tables, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Tables{}, fmt.Errorf("failed to read intent tables: %w", err)
	}
	if err := yaml.Unmarshal(data, &tables); err != nil {
		return Tables{}, fmt.Errorf("failed to parse intent tables %s: %w", path, err)
	}
	if tables.Product.DefaultTerm == "" {
		tables.Product.DefaultTerm = DefaultTables().Product.DefaultTerm
	}
	return tables, nil
}

// DefaultTables returns the built-in keyword lists.
func DefaultTables() Tables {
	return Tables{
		Product: ProductTables{
			Keywords: []string{
				// product nouns
				"product", "plate", "bowl", "cup", "dish", "saucer", "platter", "mug",
				"teapot", "coffee", "dinnerware", "serveware", "tableware", "porcelain",
				// shopping verbs
				"show", "see", "looking for", "need", "want", "buy", "purchase",
				"browse", "explore", "find", "search", "recommend", "suggest",
				// questions
				"what do you have", "what products", "what items", "what options",
				"do you sell", "do you offer", "available", "stock", "top", "best",
				"popular", "featured", "new",
				// ranges
				"collection", "category", "range", "line", "series",
				"classic gourmet", "banquet", "ease", "neo fusion", "vintage",
				// specific items
				"dinner plate", "salad plate", "soup bowl", "coffee cup", "tea cup",
				"serving dish", "oval platter", "round plate", "square plate",
				// materials and segments
				"white porcelain", "colored", "microwave safe", "dishwasher safe",
				"commercial", "hotel", "restaurant",
				// general discovery
				"catalog", "catalogue", "menu", "selection", "variety", "rak", "what", "tell",
			},
			Collections: []string{
				"classic gourmet", "banquet", "ease", "neo fusion", "vintage",
				"ivoris", "rondo", "shale", "trinidad", "metalfusion", "sketch",
				"woodart", "suggestions", "titan", "karbon", "genesis", "chef's cult",
				"fire", "stone", "charm", "chroma",
			},
			Categories: []string{
				"plate", "platter", "charger",
				"bowl", "soup bowl", "salad bowl", "pasta bowl", "rice bowl",
				"cup", "mug", "coffee cup", "tea cup", "espresso cup", "cappuccino cup",
				"saucer",
				"serving dish", "serving bowl", "serving platter", "tray",
				"teapot", "coffee pot", "creamer", "sugar bowl", "milk jug",
				"ramekin", "egg cup", "butter dish", "salt", "pepper",
			},
			StopWords:   []string{"what", "show", "tell", "about", "have", "your"},
			DefaultTerm: "plate",
		},
		Aesthetic: AestheticTables{
			Keywords: []string{
				// style
				"elegant", "sophisticated", "modern", "contemporary", "traditional",
				"minimalist", "rustic", "classic", "vintage", "timeless", "artistic",
				// mood
				"warm", "inviting", "bold", "serene", "playful", "refined", "casual",
				"formal", "luxury", "premium",
				// finish
				"glossy", "matte", "shiny", "textured", "smooth", "satin",
				// cultural
				"asian", "european", "middle eastern", "fusion", "japanese", "chinese",
				"french", "italian", "arabic",
				// setting
				"fine dining", "bistro", "hotel", "restaurant", "luxury hotel",
				"casual dining", "formal event",
			},
			Colors: []Mapping{
				{"white", "white"}, {"black", "black"}, {"cream", "cream"}, {"ivory", "ivory"},
				{"grey", "grey"}, {"gray", "grey"}, {"blue", "blue"}, {"green", "green"},
			},
			Style:   []string{"modern", "contemporary", "traditional", "minimalist", "elegant", "rustic"},
			Mood:    []string{"sophisticated", "warm", "bold", "serene", "inviting"},
			Setting: []string{"fine dining", "casual", "formal", "bistro", "hotel", "restaurant"},
			Finish:  []string{"glossy", "matte", "satin", "textured"},
		},
		Visual: VisualTables{
			Keywords: []string{
				"wabi-sabi", "minimalist", "contemporary", "classic", "vintage",
				"rustic", "industrial", "art deco", "scandinavian", "mediterranean",
				"japanese", "european", "french", "italian", "chinese",
				"middle eastern", "asian", "fusion",
				"textured", "smooth", "matte", "glossy", "reactive glaze",
				"handmade", "hand-crafted", "artisan", "organic",
				"earthy", "elegant", "sophisticated", "refined",
				"bold", "delicate", "warm", "inviting", "calm", "serene",
				"photogenic", "instagram", "beautiful", "striking", "stunning",
				"fine dining", "casual", "candlelight", "natural light",
			},
			Styles: []Mapping{
				{"wabi-sabi", "Wabi-Sabi"}, {"minimalist", "Minimalist"}, {"contemporary", "Contemporary"},
				{"classic", "Classic"}, {"vintage", "Vintage"}, {"rustic", "Rustic"},
				{"industrial", "Industrial"}, {"art deco", "Art Deco"}, {"scandinavian", "Scandinavian"},
			},
			Cultures: []Mapping{
				{"japanese", "Japanese"}, {"chinese", "Chinese"}, {"european", "European"},
				{"french", "French"}, {"italian", "Italian"}, {"middle eastern", "Middle Eastern"},
				{"asian", "Asian Fusion"},
			},
			Finish:  []string{"matte", "glossy", "satin", "reactive glaze"},
			Mood:    []string{"elegant", "sophisticated", "rustic", "refined", "bold", "calm", "warm"},
			Cuisine: []string{"japanese", "french", "italian", "asian", "fusion", "european"},
			Luxury:  []string{"luxury", "premium"},
			Budget:  []string{"budget", "affordable"},
		},
	}
}
