package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// Repository runs catalog queries. Only published products with image data
// are ever returned, most recently updated first.
type Repository struct {
	db *gorm.DB
}

// NewRepository wraps an open gorm connection.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Migrate creates the catalog tables. The production catalog is owned by the
// CMS; this is for local databases and tests.
func (r *Repository) Migrate(ctx context.Context) error {
	if err := r.db.WithContext(ctx).AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("failed to migrate catalog schema: %w", err)
	}
	return nil
}

func displayable(db *gorm.DB) *gorm.DB {
	return db.Where("published_at IS NOT NULL AND product_images IS NOT NULL")
}

func recent(db *gorm.DB) *gorm.DB {
	return db.Order("updated_at DESC").Order("id DESC")
}

func likePattern(term string) string {
	return "%" + strings.ToLower(strings.TrimSpace(term)) + "%"
}

// SearchProducts matches term case-insensitively against name, code,
// descriptions, material and shape.
func (r *Repository) SearchProducts(ctx context.Context, term string, limit int) ([]Product, error) {
	pattern := likePattern(term)

	var products []Product
	err := r.db.WithContext(ctx).
		Scopes(displayable, recent).
		Where(
			r.db.Where("LOWER(product_name) LIKE ?", pattern).
				Or("LOWER(product_code) LIKE ?", pattern).
				Or("LOWER(product_description) LIKE ?", pattern).
				Or("LOWER(description) LIKE ?", pattern).
				Or("LOWER(material) LIKE ?", pattern).
				Or("LOWER(shape) LIKE ?", pattern),
		).
		Limit(limit).
		Find(&products).Error
	if err != nil {
		return nil, fmt.Errorf("failed to search products for %q: %w", term, err)
	}
	return products, nil
}

// FindCategory returns the first published category whose name contains
// name, or nil when there is none.
func (r *Repository) FindCategory(ctx context.Context, name string) (*Category, error) {
	var category Category
	err := r.db.WithContext(ctx).
		Where("LOWER(name) LIKE ? AND published_at IS NOT NULL", likePattern(name)).
		Order("id").
		First(&category).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find category %q: %w", name, err)
	}
	return &category, nil
}

// FindCollection returns the first published collection whose name contains
// name, or nil when there is none.
func (r *Repository) FindCollection(ctx context.Context, name string) (*Collection, error) {
	var collection Collection
	err := r.db.WithContext(ctx).
		Where("LOWER(collection_name) LIKE ? AND published_at IS NOT NULL", likePattern(name)).
		Order("id").
		First(&collection).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find collection %q: %w", name, err)
	}
	return &collection, nil
}

// ProductsInCategory returns products linked to the category through any of
// its sub-categories.
func (r *Repository) ProductsInCategory(ctx context.Context, categoryID uint, limit int) ([]Product, error) {
	linked := r.db.Table("products_sub_category_links AS psc").
		Select("psc.product_id").
		Joins("JOIN sub_categories_categories_links AS scc ON psc.sub_category_id = scc.sub_category_id").
		Where("scc.category_id = ?", categoryID)

	var products []Product
	err := r.db.WithContext(ctx).
		Scopes(displayable, recent).
		Where("id IN (?)", linked).
		Limit(limit).
		Find(&products).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list products in category %d: %w", categoryID, err)
	}
	return products, nil
}

// ProductsInCollection returns products linked to the collection.
func (r *Repository) ProductsInCollection(ctx context.Context, collectionID uint, limit int) ([]Product, error) {
	linked := r.db.Model(&ProductCollectionLink{}).
		Select("product_id").
		Where("collection_id = ?", collectionID)

	var products []Product
	err := r.db.WithContext(ctx).
		Scopes(displayable, recent).
		Where("id IN (?)", linked).
		Limit(limit).
		Find(&products).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list products in collection %d: %w", collectionID, err)
	}
	return products, nil
}

// ProductsByIDs loads the displayable products among ids. Result order is
// unspecified.
func (r *Repository) ProductsByIDs(ctx context.Context, ids []uint) ([]Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var products []Product
	err := r.db.WithContext(ctx).
		Scopes(displayable).
		Where("id IN ?", ids).
		Find(&products).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load products by id: %w", err)
	}
	return products, nil
}

// PublishedProducts lists displayable products in id order, for building
// search profiles. limit <= 0 means no limit.
func (r *Repository) PublishedProducts(ctx context.Context, limit int) ([]Product, error) {
	q := r.db.WithContext(ctx).Scopes(displayable).Order("id")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var products []Product
	if err := q.Find(&products).Error; err != nil {
		return nil, fmt.Errorf("failed to list published products: %w", err)
	}
	return products, nil
}

// RecentlyUpdated lists published products, with or without images, most
// recently updated first. It feeds the product pages of the content index.
func (r *Repository) RecentlyUpdated(ctx context.Context, limit int) ([]Product, error) {
	var products []Product
	err := r.db.WithContext(ctx).
		Scopes(recent).
		Where("published_at IS NOT NULL").
		Limit(limit).
		Find(&products).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list recently updated products: %w", err)
	}
	return products, nil
}
