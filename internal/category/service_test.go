package category

import (
	"context"
	"testing"
	"time"

	"github.com/bookstore/services/inventory/internal/db"
	"github.com/bookstore/services/inventory/internal/repo"
	"github.com/bookstore/services/inventory/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *db.DB {
	gormDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	// Run migrations
	err = gormDB.AutoMigrate(&db.InventoryItem{}, &db.Category{})
	require.NoError(t, err)

	return &db.DB{DB: gormDB}
}

func newTestService(t *testing.T) (*Service, *repo.InventoryRepository) {
	database := setupTestDB(t)
	log := logger.NewLogger("test", "error")
	categoryRepo := repo.NewCategoryRepository(database, log)
	inventoryRepo := repo.NewInventoryRepository(database, log)
	return NewService(categoryRepo, inventoryRepo, log), inventoryRepo
}

func TestCreate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateParams{Name: "Science Fiction", Description: "Spaceships and such"})
	require.NoError(t, err)
	assert.Equal(t, "science-fiction", created.Slug)
	assert.Nil(t, created.ParentID)

	got, err := svc.GetBySlug(ctx, "science-fiction")
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "Spaceships and such", got.Description)
}

func TestCreateDuplicateName(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateParams{Name: "Science Fiction"})
	require.NoError(t, err)

	_, err = svc.Create(ctx, CreateParams{Name: "Science Fiction"})
	assert.ErrorIs(t, err, ErrDuplicateName)
}

func TestCreateSlugCollision(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	// Distinct names that derive the same slug get numbered suffixes
	first, err := svc.Create(ctx, CreateParams{Name: "Science Fiction"})
	require.NoError(t, err)
	assert.Equal(t, "science-fiction", first.Slug)

	second, err := svc.Create(ctx, CreateParams{Name: "Science  Fiction"})
	require.NoError(t, err)
	assert.Equal(t, "science-fiction-1", second.Slug)

	third, err := svc.Create(ctx, CreateParams{Name: "Science   Fiction"})
	require.NoError(t, err)
	assert.Equal(t, "science-fiction-2", third.Slug)
}

func TestCreateWithMissingParent(t *testing.T) {
	svc, _ := newTestService(t)

	missing := int64(9999)
	_, err := svc.Create(context.Background(), CreateParams{Name: "Orphan", ParentID: &missing})
	assert.ErrorIs(t, err, repo.ErrCategoryNotFound)
}

func TestCreateWithParentWaitsForStructuralWrites(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	parent, err := svc.Create(ctx, CreateParams{Name: "Fiction"})
	require.NoError(t, err)

	// While a structural write holds the lock, a create under a parent must
	// block; otherwise it could commit against a parent being deleted.
	svc.mu.Lock()
	done := make(chan error, 1)
	go func() {
		_, err := svc.Create(ctx, CreateParams{Name: "Fantasy", ParentID: &parent.ID})
		done <- err
	}()

	select {
	case <-done:
		t.Fatal("create with parent did not wait for the structural write lock")
	case <-time.After(50 * time.Millisecond):
	}

	svc.mu.Unlock()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("create did not finish after the lock was released")
	}

	children, err := svc.ListChildren(ctx, parent.ID)
	require.NoError(t, err)
	assert.Len(t, children, 1)
}

func TestUpdateRenameReslugs(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateParams{Name: "Mystery"})
	require.NoError(t, err)

	name := "Mystery & Thrillers"
	updated, err := svc.Update(ctx, created.ID, UpdateParams{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Mystery & Thrillers", updated.Name)
	assert.Equal(t, "mystery-thrillers", updated.Slug)
}

func TestUpdateKeepsOwnSlug(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateParams{Name: "Classics"})
	require.NoError(t, err)
	require.Equal(t, "classics", created.Slug)

	// The new name derives the node's current slug; no suffix appears
	name := "CLASSICS"
	updated, err := svc.Update(ctx, created.ID, UpdateParams{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "classics", updated.Slug)
}

func TestMoveSelfParent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateParams{Name: "Loner"})
	require.NoError(t, err)

	_, err = svc.Move(ctx, created.ID, &created.ID)
	assert.ErrorIs(t, err, ErrSelfParent)
}

func TestMoveCyclePrevention(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	a, err := svc.Create(ctx, CreateParams{Name: "Fiction"})
	require.NoError(t, err)
	b, err := svc.Create(ctx, CreateParams{Name: "Fantasy", ParentID: &a.ID})
	require.NoError(t, err)
	c, err := svc.Create(ctx, CreateParams{Name: "Epic Fantasy", ParentID: &b.ID})
	require.NoError(t, err)

	// Moving the root under its own grandchild would close a cycle
	_, err = svc.Move(ctx, a.ID, &c.ID)
	assert.ErrorIs(t, err, ErrCycleDetected)

	// Moving the grandchild directly under the root is fine
	moved, err := svc.Move(ctx, c.ID, &a.ID)
	require.NoError(t, err)
	require.NotNil(t, moved.ParentID)
	assert.Equal(t, a.ID, *moved.ParentID)

	// The middle node is untouched
	bReloaded, err := svc.GetByID(ctx, b.ID)
	require.NoError(t, err)
	require.NotNil(t, bReloaded.ParentID)
	assert.Equal(t, a.ID, *bReloaded.ParentID)
}

func TestMoveToRoot(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	a, err := svc.Create(ctx, CreateParams{Name: "Nonfiction"})
	require.NoError(t, err)
	b, err := svc.Create(ctx, CreateParams{Name: "History", ParentID: &a.ID})
	require.NoError(t, err)

	moved, err := svc.Move(ctx, b.ID, nil)
	require.NoError(t, err)
	assert.Nil(t, moved.ParentID)

	roots, err := svc.ListRoots(ctx)
	require.NoError(t, err)
	assert.Len(t, roots, 2)
}

func TestIsValidHierarchy(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	a, err := svc.Create(ctx, CreateParams{Name: "Fiction"})
	require.NoError(t, err)
	b, err := svc.Create(ctx, CreateParams{Name: "Fantasy", ParentID: &a.ID})
	require.NoError(t, err)

	ok, err := svc.IsValidHierarchy(ctx, a.ID, &b.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = svc.IsValidHierarchy(ctx, b.ID, nil)
	require.NoError(t, err)
	assert.True(t, ok) // Becoming a root is always valid

	ok, err = svc.IsValidHierarchy(ctx, a.ID, &a.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeleteGuards(t *testing.T) {
	svc, inventoryRepo := newTestService(t)
	ctx := context.Background()

	parent, err := svc.Create(ctx, CreateParams{Name: "Fiction"})
	require.NoError(t, err)
	child, err := svc.Create(ctx, CreateParams{Name: "Fantasy", ParentID: &parent.ID})
	require.NoError(t, err)

	err = svc.Delete(ctx, parent.ID)
	assert.ErrorIs(t, err, ErrHasChildren)

	// An inventory item linked to the child blocks its deletion
	err = inventoryRepo.Create(ctx, &db.InventoryItem{
		BookID:     "BOOK-100",
		BookTitle:  "Linked",
		Status:     db.StatusActive,
		CategoryID: &child.ID,
	})
	require.NoError(t, err)

	err = svc.Delete(ctx, child.ID)
	assert.ErrorIs(t, err, ErrHasAssociatedItems)

	// Unlink the item; the child and then the parent can go
	item, err := inventoryRepo.GetByBookID(ctx, "BOOK-100")
	require.NoError(t, err)
	item.CategoryID = nil
	require.NoError(t, inventoryRepo.Save(ctx, item, item.Version))

	require.NoError(t, svc.Delete(ctx, child.ID))
	require.NoError(t, svc.Delete(ctx, parent.ID))

	_, err = svc.GetByID(ctx, parent.ID)
	assert.ErrorIs(t, err, repo.ErrCategoryNotFound)
}

func TestAncestors(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	a, err := svc.Create(ctx, CreateParams{Name: "Fiction"})
	require.NoError(t, err)
	b, err := svc.Create(ctx, CreateParams{Name: "Fantasy", ParentID: &a.ID})
	require.NoError(t, err)
	c, err := svc.Create(ctx, CreateParams{Name: "Epic Fantasy", ParentID: &b.ID})
	require.NoError(t, err)

	ancestors, err := svc.Ancestors(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, ancestors, 2)
	// Root first, immediate parent last
	assert.Equal(t, a.ID, ancestors[0].ID)
	assert.Equal(t, b.ID, ancestors[1].ID)

	ancestors, err = svc.Ancestors(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, ancestors)
}

func TestDescendantsPreOrder(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	root, err := svc.Create(ctx, CreateParams{Name: "Fiction"})
	require.NoError(t, err)
	fantasy, err := svc.Create(ctx, CreateParams{Name: "Fantasy", ParentID: &root.ID})
	require.NoError(t, err)
	mystery, err := svc.Create(ctx, CreateParams{Name: "Mystery", ParentID: &root.ID})
	require.NoError(t, err)
	epic, err := svc.Create(ctx, CreateParams{Name: "Epic Fantasy", ParentID: &fantasy.ID})
	require.NoError(t, err)

	descendants, err := svc.Descendants(ctx, root.ID)
	require.NoError(t, err)
	require.Len(t, descendants, 3)

	// Children visit in name order, each followed by its own subtree
	assert.Equal(t, fantasy.ID, descendants[0].ID)
	assert.Equal(t, epic.ID, descendants[1].ID)
	assert.Equal(t, mystery.ID, descendants[2].ID)
}

func TestHierarchy(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	fiction, err := svc.Create(ctx, CreateParams{Name: "Fiction"})
	require.NoError(t, err)
	nonfiction, err := svc.Create(ctx, CreateParams{Name: "Nonfiction"})
	require.NoError(t, err)
	fantasy, err := svc.Create(ctx, CreateParams{Name: "Fantasy", ParentID: &fiction.ID})
	require.NoError(t, err)

	forest, err := svc.Hierarchy(ctx)
	require.NoError(t, err)
	require.Len(t, forest, 2)

	assert.Equal(t, fiction.ID, forest[0].Category.ID)
	require.Len(t, forest[0].Children, 1)
	assert.Equal(t, fantasy.ID, forest[0].Children[0].Category.ID)
	assert.Equal(t, nonfiction.ID, forest[1].Category.ID)
	assert.Empty(t, forest[1].Children)

	subtree, err := svc.HierarchyFrom(ctx, fiction.ID)
	require.NoError(t, err)
	assert.Equal(t, fiction.ID, subtree.Category.ID)
	require.Len(t, subtree.Children, 1)
}

func TestGetBySlugNotFound(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.GetBySlug(context.Background(), "nope")
	assert.ErrorIs(t, err, repo.ErrCategoryNotFound)
}
