package category

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bookstore/services/inventory/internal/db"
	"github.com/bookstore/services/inventory/internal/metrics"
	"github.com/bookstore/services/inventory/internal/repo"
	"go.uber.org/zap"
)

var (
	// ErrDuplicateName is returned when a category name is already taken
	ErrDuplicateName = errors.New("category name already exists")

	// ErrSelfParent is returned when a category is assigned itself as parent
	ErrSelfParent = errors.New("category cannot be its own parent")

	// ErrCycleDetected is returned when a parent assignment would create a cycle
	ErrCycleDetected = errors.New("parent assignment would create a cycle")

	// ErrHasChildren is returned when deleting a category that still has subcategories
	ErrHasChildren = errors.New("category still has subcategories")

	// ErrHasAssociatedItems is returned when deleting a category that still has inventory items
	ErrHasAssociatedItems = errors.New("category still has inventory items")
)

// Service manages the category tree. Reads run concurrently; structural
// writes (move, delete) serialize on one mutex so that two moves validated
// against the same stale snapshot cannot jointly close a cycle. The cycle
// check always runs against fresh reads inside the critical section.
type Service struct {
	categories *repo.CategoryRepository
	items      *repo.InventoryRepository
	log        *zap.Logger

	mu sync.Mutex
}

// NewService creates a new category service
func NewService(categories *repo.CategoryRepository, items *repo.InventoryRepository, logger *zap.Logger) *Service {
	return &Service{
		categories: categories,
		items:      items,
		log:        logger,
	}
}

// CreateParams describes a new category
type CreateParams struct {
	Name        string
	Description string
	ParentID    *int64
}

// Create adds a category, deriving a collision-free slug from its name. The
// parent, if given, must exist. Creating under a parent is a structural write
// and takes the same lock as Move and Delete, so the parent cannot be deleted
// between the existence check and the insert.
func (s *Service) Create(ctx context.Context, params CreateParams) (*db.Category, error) {
	if params.ParentID != nil {
		s.mu.Lock()
		defer s.mu.Unlock()
	}

	exists, err := s.categories.ExistsByName(ctx, params.Name)
	if err != nil {
		return nil, err
	}
	if exists {
		metrics.CategoryMutations.WithLabelValues("create", "rejected").Inc()
		return nil, ErrDuplicateName
	}

	if params.ParentID != nil {
		if _, err := s.categories.GetByID(ctx, *params.ParentID); err != nil {
			metrics.CategoryMutations.WithLabelValues("create", "rejected").Inc()
			return nil, err
		}
	}

	slug, err := s.uniqueSlug(ctx, Slugify(params.Name), 0)
	if err != nil {
		return nil, err
	}

	category := &db.Category{
		Name:        params.Name,
		Slug:        slug,
		Description: params.Description,
		ParentID:    params.ParentID,
	}

	if err := s.categories.Create(ctx, category); err != nil {
		metrics.CategoryMutations.WithLabelValues("create", "error").Inc()
		return nil, err
	}

	metrics.CategoryMutations.WithLabelValues("create", "ok").Inc()
	return category, nil
}

// UpdateParams describes a partial category update. Nil fields are left alone.
type UpdateParams struct {
	Name        *string
	Description *string
}

// Update renames or re-describes a category. A name change re-derives the
// slug with the node's own slug excluded from the collision check.
func (s *Service) Update(ctx context.Context, id int64, params UpdateParams) (*db.Category, error) {
	category, err := s.categories.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if params.Name != nil && *params.Name != category.Name {
		exists, err := s.categories.ExistsByName(ctx, *params.Name)
		if err != nil {
			return nil, err
		}
		if exists {
			metrics.CategoryMutations.WithLabelValues("update", "rejected").Inc()
			return nil, ErrDuplicateName
		}

		category.Name = *params.Name
		slug, err := s.uniqueSlug(ctx, Slugify(*params.Name), id)
		if err != nil {
			return nil, err
		}
		category.Slug = slug
	}

	if params.Description != nil {
		category.Description = *params.Description
	}

	if err := s.categories.Save(ctx, category); err != nil {
		metrics.CategoryMutations.WithLabelValues("update", "error").Inc()
		return nil, err
	}

	metrics.CategoryMutations.WithLabelValues("update", "ok").Inc()
	s.log.Info("Category updated", zap.Int64("id", id), zap.String("slug", category.Slug))
	return category, nil
}

// Move reassigns a category's parent. A nil newParentID makes it a root.
// The ancestor walk from the proposed parent runs under the structural lock
// against fresh reads, so concurrent moves cannot sneak a cycle past it.
func (s *Service) Move(ctx context.Context, id int64, newParentID *int64) (*db.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	category, err := s.categories.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if newParentID != nil {
		if *newParentID == id {
			metrics.CategoryMutations.WithLabelValues("move", "rejected").Inc()
			return nil, ErrSelfParent
		}

		if _, err := s.categories.GetByID(ctx, *newParentID); err != nil {
			metrics.CategoryMutations.WithLabelValues("move", "rejected").Inc()
			return nil, err
		}

		ok, err := s.checkHierarchy(ctx, id, *newParentID)
		if err != nil {
			return nil, err
		}
		if !ok {
			metrics.CategoryMutations.WithLabelValues("move", "rejected").Inc()
			return nil, ErrCycleDetected
		}
	}

	category.ParentID = newParentID
	if err := s.categories.Save(ctx, category); err != nil {
		metrics.CategoryMutations.WithLabelValues("move", "error").Inc()
		return nil, err
	}

	metrics.CategoryMutations.WithLabelValues("move", "ok").Inc()
	if newParentID != nil {
		s.log.Info("Category moved", zap.Int64("id", id), zap.Int64("new_parent_id", *newParentID))
	} else {
		s.log.Info("Category moved to root", zap.Int64("id", id))
	}
	return category, nil
}

// Delete removes a category. Refused while it still has subcategories or
// inventory items linked to it.
func (s *Service) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.categories.GetByID(ctx, id); err != nil {
		return err
	}

	children, err := s.categories.CountChildren(ctx, id)
	if err != nil {
		return err
	}
	if children > 0 {
		metrics.CategoryMutations.WithLabelValues("delete", "rejected").Inc()
		return ErrHasChildren
	}

	linked, err := s.items.CountByCategory(ctx, id)
	if err != nil {
		return err
	}
	if linked > 0 {
		metrics.CategoryMutations.WithLabelValues("delete", "rejected").Inc()
		return ErrHasAssociatedItems
	}

	if err := s.categories.Delete(ctx, id); err != nil {
		metrics.CategoryMutations.WithLabelValues("delete", "error").Inc()
		return err
	}

	metrics.CategoryMutations.WithLabelValues("delete", "ok").Inc()
	return nil
}

// GetByID returns a single category
func (s *Service) GetByID(ctx context.Context, id int64) (*db.Category, error) {
	return s.categories.GetByID(ctx, id)
}

// GetBySlug returns a single category by its slug
func (s *Service) GetBySlug(ctx context.Context, slug string) (*db.Category, error) {
	return s.categories.GetBySlug(ctx, slug)
}

// FindByIDs returns all categories matching the given ids
func (s *Service) FindByIDs(ctx context.Context, ids []int64) ([]*db.Category, error) {
	return s.categories.FindByIDs(ctx, ids)
}

// ListRoots returns all top-level categories
func (s *Service) ListRoots(ctx context.Context) ([]*db.Category, error) {
	return s.categories.ListRoots(ctx)
}

// ListChildren returns the direct children of a category
func (s *Service) ListChildren(ctx context.Context, parentID int64) ([]*db.Category, error) {
	if _, err := s.categories.GetByID(ctx, parentID); err != nil {
		return nil, err
	}
	return s.categories.ListChildren(ctx, parentID)
}

// Ancestors returns the path from the root down to the node's immediate parent
func (s *Service) Ancestors(ctx context.Context, id int64) ([]*db.Category, error) {
	category, err := s.categories.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	var ancestors []*db.Category
	seen := map[int64]bool{id: true}
	current := category.ParentID
	for current != nil {
		if seen[*current] {
			return nil, fmt.Errorf("category tree contains a cycle at id %d", *current)
		}
		seen[*current] = true

		parent, err := s.categories.GetByID(ctx, *current)
		if err != nil {
			return nil, err
		}
		ancestors = append(ancestors, parent)
		current = parent.ParentID
	}

	// Walked child-to-root; callers expect root-to-immediate-parent
	for i, j := 0, len(ancestors)-1; i < j; i, j = i+1, j-1 {
		ancestors[i], ancestors[j] = ancestors[j], ancestors[i]
	}
	return ancestors, nil
}

// Descendants returns the whole subtree below a node, pre-order
func (s *Service) Descendants(ctx context.Context, id int64) ([]*db.Category, error) {
	if _, err := s.categories.GetByID(ctx, id); err != nil {
		return nil, err
	}

	var descendants []*db.Category
	if err := s.collectDescendants(ctx, id, &descendants); err != nil {
		return nil, err
	}
	return descendants, nil
}

// TreeNode is one node of a materialized hierarchy view
type TreeNode struct {
	Category *db.Category `json:"category"`
	Children []*TreeNode  `json:"children,omitempty"`
}

// Hierarchy materializes the full category forest, roots ordered by name
func (s *Service) Hierarchy(ctx context.Context) ([]*TreeNode, error) {
	roots, err := s.categories.ListRoots(ctx)
	if err != nil {
		return nil, err
	}

	nodes := make([]*TreeNode, 0, len(roots))
	for _, root := range roots {
		node, err := s.buildSubtree(ctx, root)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

// HierarchyFrom materializes the subtree rooted at the given category
func (s *Service) HierarchyFrom(ctx context.Context, id int64) (*TreeNode, error) {
	category, err := s.categories.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.buildSubtree(ctx, category)
}

// IsValidHierarchy reports whether assigning newParentID as the parent of id
// would keep the tree acyclic. Making a node a root is always valid. This is
// a pre-check only; Move re-validates under the structural lock.
func (s *Service) IsValidHierarchy(ctx context.Context, id int64, newParentID *int64) (bool, error) {
	if newParentID == nil {
		return true, nil
	}
	if *newParentID == id {
		return false, nil
	}
	if _, err := s.categories.GetByID(ctx, *newParentID); err != nil {
		return false, err
	}
	return s.checkHierarchy(ctx, id, *newParentID)
}

// Count returns the total number of categories
func (s *Service) Count(ctx context.Context) (int64, error) {
	return s.categories.Count(ctx)
}

// checkHierarchy walks from the proposed parent to the root looking for id.
func (s *Service) checkHierarchy(ctx context.Context, id, newParentID int64) (bool, error) {
	seen := make(map[int64]bool)
	current := &newParentID
	for current != nil {
		if *current == id {
			return false, nil
		}
		if seen[*current] {
			return false, fmt.Errorf("category tree contains a cycle at id %d", *current)
		}
		seen[*current] = true

		node, err := s.categories.GetByID(ctx, *current)
		if err != nil {
			return false, err
		}
		current = node.ParentID
	}
	return true, nil
}

func (s *Service) collectDescendants(ctx context.Context, id int64, out *[]*db.Category) error {
	children, err := s.categories.ListChildren(ctx, id)
	if err != nil {
		return err
	}

	for _, child := range children {
		*out = append(*out, child)
		if err := s.collectDescendants(ctx, child.ID, out); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) buildSubtree(ctx context.Context, category *db.Category) (*TreeNode, error) {
	node := &TreeNode{Category: category}

	children, err := s.categories.ListChildren(ctx, category.ID)
	if err != nil {
		return nil, err
	}

	for _, child := range children {
		childNode, err := s.buildSubtree(ctx, child)
		if err != nil {
			return nil, err
		}
		node.Children = append(node.Children, childNode)
	}
	return node, nil
}

// uniqueSlug appends -1, -2, ... to the base slug until no other category
// holds it. excludeID skips the node being renamed.
func (s *Service) uniqueSlug(ctx context.Context, base string, excludeID int64) (string, error) {
	slug := base
	for counter := 1; ; counter++ {
		existing, err := s.categories.GetBySlug(ctx, slug)
		if err != nil {
			if errors.Is(err, repo.ErrCategoryNotFound) {
				return slug, nil
			}
			return "", err
		}
		if excludeID != 0 && existing.ID == excludeID {
			return slug, nil
		}
		slug = fmt.Sprintf("%s-%d", base, counter)
	}
}
