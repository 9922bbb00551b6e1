package repo

import (
	"context"
	"errors"
	"time"

	"github.com/bookstore/services/inventory/internal/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrCategoryNotFound is returned when a category is not found
	ErrCategoryNotFound = errors.New("category not found")
)

// CategoryRepository persists category tree nodes
type CategoryRepository struct {
	db  *db.DB
	log *zap.Logger
}

// NewCategoryRepository creates a new category repository
func NewCategoryRepository(database *db.DB, logger *zap.Logger) *CategoryRepository {
	return &CategoryRepository{
		db:  database,
		log: logger,
	}
}

// GetByID retrieves a category by id
func (r *CategoryRepository) GetByID(ctx context.Context, id int64) (*db.Category, error) {
	var category db.Category
	err := r.db.WithContext(ctx).First(&category, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCategoryNotFound
		}
		r.log.Error("Failed to get category", zap.Int64("id", id), zap.Error(err))
		return nil, err
	}

	return &category, nil
}

// GetBySlug retrieves a category by slug
func (r *CategoryRepository) GetBySlug(ctx context.Context, slug string) (*db.Category, error) {
	var category db.Category
	err := r.db.WithContext(ctx).Where("slug = ?", slug).First(&category).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCategoryNotFound
		}
		r.log.Error("Failed to get category by slug", zap.String("slug", slug), zap.Error(err))
		return nil, err
	}

	return &category, nil
}

// FindByIDs retrieves all categories matching the given ids
func (r *CategoryRepository) FindByIDs(ctx context.Context, ids []int64) ([]*db.Category, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var categories []*db.Category
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&categories).Error; err != nil {
		r.log.Error("Failed to find categories by ids", zap.Error(err))
		return nil, err
	}
	return categories, nil
}

// ExistsByName reports whether a category with the given name exists
func (r *CategoryRepository) ExistsByName(ctx context.Context, name string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&db.Category{}).Where("name = ?", name).Count(&count).Error
	if err != nil {
		r.log.Error("Failed to check category name", zap.String("name", name), zap.Error(err))
		return false, err
	}
	return count > 0, nil
}

// ExistsBySlug reports whether a category with the given slug exists
func (r *CategoryRepository) ExistsBySlug(ctx context.Context, slug string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&db.Category{}).Where("slug = ?", slug).Count(&count).Error
	if err != nil {
		r.log.Error("Failed to check category slug", zap.String("slug", slug), zap.Error(err))
		return false, err
	}
	return count > 0, nil
}

// Create inserts a new category
func (r *CategoryRepository) Create(ctx context.Context, category *db.Category) error {
	if err := r.db.WithContext(ctx).Create(category).Error; err != nil {
		r.log.Error("Failed to create category", zap.String("name", category.Name), zap.Error(err))
		return err
	}

	r.log.Info("Category created", zap.Int64("id", category.ID), zap.String("name", category.Name), zap.String("slug", category.Slug))
	return nil
}

// Save persists changes to an existing category
func (r *CategoryRepository) Save(ctx context.Context, category *db.Category) error {
	result := r.db.WithContext(ctx).Model(&db.Category{}).
		Where("id = ?", category.ID).
		Updates(map[string]interface{}{
			"name":        category.Name,
			"slug":        category.Slug,
			"description": category.Description,
			"parent_id":   category.ParentID,
			"updated_at":  time.Now(),
		})
	if result.Error != nil {
		r.log.Error("Failed to save category", zap.Int64("id", category.ID), zap.Error(result.Error))
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrCategoryNotFound
	}

	return nil
}

// Delete removes a category row
func (r *CategoryRepository) Delete(ctx context.Context, id int64) error {
	result := r.db.WithContext(ctx).Delete(&db.Category{}, id)
	if result.Error != nil {
		r.log.Error("Failed to delete category", zap.Int64("id", id), zap.Error(result.Error))
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrCategoryNotFound
	}

	r.log.Info("Category deleted", zap.Int64("id", id))
	return nil
}

// ListRoots returns all categories without a parent, ordered by name
func (r *CategoryRepository) ListRoots(ctx context.Context) ([]*db.Category, error) {
	var categories []*db.Category
	err := r.db.WithContext(ctx).Where("parent_id IS NULL").Order("name").Find(&categories).Error
	if err != nil {
		r.log.Error("Failed to list root categories", zap.Error(err))
		return nil, err
	}
	return categories, nil
}

// ListChildren returns the direct children of a category, ordered by name
func (r *CategoryRepository) ListChildren(ctx context.Context, parentID int64) ([]*db.Category, error) {
	var categories []*db.Category
	err := r.db.WithContext(ctx).Where("parent_id = ?", parentID).Order("name").Find(&categories).Error
	if err != nil {
		r.log.Error("Failed to list subcategories", zap.Int64("parent_id", parentID), zap.Error(err))
		return nil, err
	}
	return categories, nil
}

// CountChildren returns how many direct children a category has
func (r *CategoryRepository) CountChildren(ctx context.Context, parentID int64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&db.Category{}).Where("parent_id = ?", parentID).Count(&count).Error
	if err != nil {
		r.log.Error("Failed to count subcategories", zap.Int64("parent_id", parentID), zap.Error(err))
		return 0, err
	}
	return count, nil
}

// Count returns the total number of categories
func (r *CategoryRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&db.Category{}).Count(&count).Error; err != nil {
		r.log.Error("Failed to count categories", zap.Error(err))
		return 0, err
	}
	return count, nil
}
