// Package catalog reads products from the relational product catalog and
// turns them into results the chat surface can display.
package catalog

import "time"

// Product is a row of the products table.
type Product struct {
	ID                 uint   `gorm:"primaryKey"`
	ProductName        string `gorm:"column:product_name"`
	ProductCode        string `gorm:"column:product_code"`
	ProductDescription string `gorm:"column:product_description"`
	Description        string
	Specifications     string
	// ProductImages holds the raw JSON image list; NULL means no images.
	ProductImages    *string `gorm:"column:product_images"`
	Locale           string
	Material         string
	MaterialFinish   string `gorm:"column:material_finish"`
	Shape            string
	Capacity         string
	IsMicrowaveSafe  bool `gorm:"column:is_microwave_safe"`
	IsDishwasherSafe bool `gorm:"column:is_dishwasher_safe"`
	PublishedAt      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (Product) TableName() string { return "products" }

// DisplayDescription prefers the product description over the generic one.
func (p Product) DisplayDescription() string {
	if p.ProductDescription != "" {
		return p.ProductDescription
	}
	return p.Description
}

// Category is a top level product category.
type Category struct {
	ID          uint `gorm:"primaryKey"`
	Name        string
	Locale      string
	PublishedAt *time.Time
}

func (Category) TableName() string { return "categories" }

// SubCategory groups products below a category.
type SubCategory struct {
	ID          uint `gorm:"primaryKey"`
	Name        string
	Description string
	Locale      string
	PublishedAt *time.Time
}

func (SubCategory) TableName() string { return "sub_categories" }

// Collection is a named design range.
type Collection struct {
	ID             uint   `gorm:"primaryKey"`
	CollectionName string `gorm:"column:collection_name"`
	Locale         string
	PublishedAt    *time.Time
}

func (Collection) TableName() string { return "collections" }

type ProductSubCategoryLink struct {
	ID            uint `gorm:"primaryKey"`
	ProductID     uint `gorm:"index"`
	SubCategoryID uint `gorm:"index"`
}

func (ProductSubCategoryLink) TableName() string { return "products_sub_category_links" }

type SubCategoryCategoryLink struct {
	ID            uint `gorm:"primaryKey"`
	SubCategoryID uint `gorm:"index"`
	CategoryID    uint `gorm:"index"`
}

func (SubCategoryCategoryLink) TableName() string { return "sub_categories_categories_links" }

type ProductCollectionLink struct {
	ID           uint `gorm:"primaryKey"`
	ProductID    uint `gorm:"index"`
	CollectionID uint `gorm:"index"`
}

func (ProductCollectionLink) TableName() string { return "products_collection_links" }

// Models lists every catalog model, in migration order.
func Models() []any {
	return []any{
		&Product{}, &Category{}, &SubCategory{}, &Collection{},
		&ProductSubCategoryLink{}, &SubCategoryCategoryLink{}, &ProductCollectionLink{},
	}
}
