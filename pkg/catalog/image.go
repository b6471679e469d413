package catalog

import (
	"encoding/json"
)

// PlaceholderImageURL is shown for products whose image data is missing or
// in a shape ExtractImageURL does not know.
const PlaceholderImageURL = "https://via.placeholder.com/400x400/f3f4f6/9ca3af?text=RAK+Porcelain"

// ExtractImageURL returns the first image URL found in raw, a product_images
// value. Accepted shapes, as decoded JSON or as JSON text:
//
//	[{"publicUrl": "..."}]
//	["..."]
//	[{"url": "..."}]
//	{"url": "..."} or {"publicUrl": "..."}
//	{"data": [{"attributes": {"url": "..."}}]}
//
// Anything else yields PlaceholderImageURL. It never panics.
func ExtractImageURL(raw any) string {
	v, ok := decodeImages(raw)
	if !ok {
		return PlaceholderImageURL
	}

	if list, ok := v.([]any); ok && len(list) > 0 {
		switch first := list[0].(type) {
		case string:
			if first != "" {
				return first
			}
		case map[string]any:
			if u := stringField(first, "publicUrl"); u != "" {
				return u
			}
			if u := stringField(first, "url"); u != "" {
				return u
			}
		}
	}

	obj, ok := v.(map[string]any)
	if !ok {
		return PlaceholderImageURL
	}
	if u := stringField(obj, "url"); u != "" {
		return u
	}
	if u := stringField(obj, "publicUrl"); u != "" {
		return u
	}

	// Strapi media wrapper
	if data, ok := obj["data"].([]any); ok && len(data) > 0 {
		if item, ok := data[0].(map[string]any); ok {
			if attrs, ok := item["attributes"].(map[string]any); ok {
				if u := stringField(attrs, "url"); u != "" {
					return u
				}
			}
		}
	}

	return PlaceholderImageURL
}

// decodeImages normalizes raw into generic JSON values.
func decodeImages(raw any) (any, bool) {
	var data []byte
	switch t := raw.(type) {
	case nil:
		return nil, false
	case *string:
		if t == nil {
			return nil, false
		}
		data = []byte(*t)
	case string:
		data = []byte(t)
	case []byte:
		data = t
	case json.RawMessage:
		data = t
	case []any, map[string]any:
		return t, true
	default:
		b, err := json.Marshal(raw)
		if err != nil {
			return nil, false
		}
		data = b
	}

	if len(data) == 0 {
		return nil, false
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, false
	}
	return v, v != nil
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
