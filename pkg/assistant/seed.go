package assistant

import "github.com/barekit/vitrine/pkg/knowledge"

// DefaultSeedDocuments is the starter corpus written to an empty content
// store, one single-chunk page per topic.
func DefaultSeedDocuments() []knowledge.Document[knowledge.ChunkMetadata] {
	return []knowledge.Document[knowledge.ChunkMetadata]{
		seedPage("rak-about-company", "https://www.rakporcelain.com/us-en/about", "About RAK Porcelain", "About Us", "about",
			"RAK Porcelain is one of the world's largest porcelain manufacturers, headquartered in Ras Al Khaimah, United Arab Emirates. Established with a commitment to quality and innovation, RAK Porcelain has grown to serve customers in over 150 countries worldwide. The company operates state-of-the-art manufacturing facilities with advanced production technology. RAK Porcelain specializes in tabletop products for the hospitality industry, including hotels, restaurants, catering companies, as well as retail consumers. Our products combine traditional craftsmanship with modern design, meeting international standards including ISO 9001 certification."),
		seedPage("rak-products-overview", "https://www.rakporcelain.com/us-en/products", "RAK Porcelain Products", "Our Products", "product",
			"RAK Porcelain offers an extensive range of products including dinnerware collections, serving dishes, bowls, plates, cups, and saucers. Our collections range from classic white porcelain to contemporary designs with various colors and patterns. Popular collections include Ease, Banquet, and Classic Gourmet. All products are made from high-quality porcelain that is durable, chip-resistant, and suitable for commercial use."),
		seedPage("rak-care-instructions", "https://www.rakporcelain.com/us-en/care-instructions", "Care Instructions", "How to Care for Your RAK Porcelain", "care",
			"RAK Porcelain products are designed for durability and ease of care. All items are dishwasher safe and can withstand high temperatures. For best results, we recommend using a mild detergent and avoiding abrasive cleaners. Our porcelain is microwave safe and oven safe up to 250°C (482°F). To maintain the beauty of your porcelain, stack carefully with protective layers between pieces. With proper care, RAK Porcelain products will maintain their quality and appearance for years."),
		seedPage("rak-b2b-services", "https://www.rakporcelain.com/us-en/b2b", "B2B & Wholesale", "Business Solutions", "b2b",
			"RAK Porcelain offers comprehensive B2B and wholesale solutions for hotels, restaurants, catering companies, and retailers. We provide custom branding options, volume discounts, and dedicated account management. Our wholesale program includes flexible ordering, competitive pricing, and reliable delivery schedules. For B2B inquiries, please contact our sales team at sales@rakporcelain.com or call +971 7 244 8777."),
		seedPage("rak-warranty-policy", "https://www.rakporcelain.com/us-en/warranty", "Warranty Information", "Product Warranty", "warranty",
			"RAK Porcelain stands behind the quality of our products with a comprehensive warranty. All products are guaranteed against manufacturing defects for a period of one year from the date of purchase. Our porcelain is chip-resistant and designed for commercial use. In the unlikely event of a defect, we will replace the item free of charge. Normal wear and tear, improper use, or accidental damage are not covered by warranty."),
		seedPage("rak-shipping-info", "https://www.rakporcelain.com/us-en/shipping", "Shipping Information", "Shipping & Delivery", "shipping",
			"RAK Porcelain US offers shipping throughout the United States. Standard shipping takes 5-7 business days. Expedited shipping options are available. We offer free shipping on orders over $500. All items are carefully packaged to ensure safe delivery. For large or commercial orders, freight shipping is available."),
		seedPage("rak-contact-info", "https://www.rakporcelain.com/us-en/contact", "Contact Us", "Get in Touch", "contact",
			"Contact RAK Porcelain US: Customer Service - Email: customerservice@rakporcelain.com, Phone: +1 (800) 123-4567 (toll-free), Hours: Monday-Friday 9:00 AM - 5:00 PM EST. Sales Inquiries - Email: sales@rakporcelain.com. Headquarters in Ras Al Khaimah, United Arab Emirates, Phone: +971 7 244 8777."),
	}
}

func seedPage(id, url, title, heading, section, content string) knowledge.Document[knowledge.ChunkMetadata] {
	return knowledge.Document[knowledge.ChunkMetadata]{
		ID:      id,
		Content: content,
		Metadata: knowledge.ChunkMetadata{
			URL:         url,
			Title:       title,
			Heading:     heading,
			Section:     section,
			Lang:        "en",
			ChunkIndex:  0,
			TotalChunks: 1,
		},
	}
}
