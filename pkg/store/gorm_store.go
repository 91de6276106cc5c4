package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"bookstore/internal/util"
	"bookstore/pkg/domain"
)

const migrateLockID int64 = 48151623

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog, TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(
			&UserModel{},
			&AuthorModel{},
			&CategoryModel{},
			&BookModel{},
			&CartModel{},
			&CartItemModel{},
			&OrderModel{},
			&OrderItemModel{},
			&CollectionModel{},
			&CollectionItemModel{},
		); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// CreateUser inserts a user; a duplicate email yields domain.ErrConflict.
func (s *GormStore) CreateUser(ctx context.Context, u domain.User) error {
	model := userToModel(u)
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.ErrConflict
		}
		return err
	}
	return nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(ctx context.Context, id string) (domain.User, bool, error) {
	return s.getUser(ctx, "id = ?", id)
}

// GetUserByEmail looks up a user by email.
func (s *GormStore) GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error) {
	return s.getUser(ctx, "email = ?", strings.ToLower(strings.TrimSpace(email)))
}

func (s *GormStore) getUser(ctx context.Context, cond string, arg any) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).Where(cond, arg).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// CreateBook inserts a book, connecting authors and categories by name.
func (s *GormStore) CreateBook(ctx context.Context, b domain.Book) (domain.Book, error) {
	model := bookToModel(b)
	if model.ID == "" {
		model.ID = util.NewID()
	}
	now := time.Now().UTC()
	model.CreatedAt = now
	model.UpdatedAt = now
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		authors, err := connectAuthors(tx, b.AuthorNames())
		if err != nil {
			return err
		}
		categories, err := connectCategories(tx, categoryNames(b.Categories))
		if err != nil {
			return err
		}
		model.Authors = authors
		model.Categories = categories
		return tx.Create(&model).Error
	})
	if err != nil {
		return domain.Book{}, err
	}
	return bookFromModel(model), nil
}

// UpsertBookByVolumeID returns the book already linked to the external
// volume or creates it. The bool reports whether a row was created.
func (s *GormStore) UpsertBookByVolumeID(ctx context.Context, b domain.Book) (domain.Book, bool, error) {
	volumeID := strings.TrimSpace(b.ExternalVolumeID)
	if volumeID == "" {
		return domain.Book{}, false, domain.ValidationError("external volume id required")
	}
	if existing, ok, err := s.getBook(ctx, "external_volume_id = ?", volumeID); err != nil || ok {
		return existing, false, err
	}
	created, err := s.CreateBook(ctx, b)
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		return domain.Book{}, false, err
	}
	// Lost a concurrent insert; the winner's row is the answer.
	existing, ok, err := s.getBook(ctx, "external_volume_id = ?", volumeID)
	if err != nil {
		return domain.Book{}, false, err
	}
	if !ok {
		return domain.Book{}, false, fmt.Errorf("upsert volume %s: row vanished after conflict", volumeID)
	}
	return existing, false, nil
}

// GetBook retrieves a book with authors and categories.
func (s *GormStore) GetBook(ctx context.Context, id string) (domain.Book, bool, error) {
	return s.getBook(ctx, "id = ?", id)
}

func (s *GormStore) getBook(ctx context.Context, cond string, arg any) (domain.Book, bool, error) {
	var model BookModel
	err := s.db.WithContext(ctx).
		Preload("Authors").
		Preload("Categories").
		Where(cond, arg).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Book{}, false, nil
		}
		return domain.Book{}, false, err
	}
	return bookFromModel(model), true, nil
}

// ListBooks returns a page of books, newest first, plus the total count.
func (s *GormStore) ListBooks(ctx context.Context, q BookQuery) ([]domain.Book, int64, error) {
	limit := q.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	tx := s.db.WithContext(ctx).Model(&BookModel{})
	if title := strings.TrimSpace(q.Title); title != "" {
		tx = tx.Where("title ILIKE ?", likePattern(title))
	}
	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var models []BookModel
	if err := tx.Preload("Authors").Preload("Categories").
		Order("created_at DESC").
		Limit(limit).
		Offset(max(q.Offset, 0)).
		Find(&models).Error; err != nil {
		return nil, 0, err
	}
	return booksFromModels(models), total, nil
}

// SearchBooksByTitle does a case-insensitive substring match on title.
func (s *GormStore) SearchBooksByTitle(ctx context.Context, title string, limit int) ([]domain.Book, error) {
	if limit <= 0 {
		limit = 10
	}
	var models []BookModel
	if err := s.db.WithContext(ctx).
		Preload("Authors").
		Preload("Categories").
		Where("title ILIKE ?", likePattern(title)).
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	return booksFromModels(models), nil
}

// FindBooksByVolumeIDs returns stored books keyed by external volume id.
func (s *GormStore) FindBooksByVolumeIDs(ctx context.Context, volumeIDs []string) (map[string]domain.Book, error) {
	out := make(map[string]domain.Book, len(volumeIDs))
	if len(volumeIDs) == 0 {
		return out, nil
	}
	var models []BookModel
	if err := s.db.WithContext(ctx).
		Preload("Authors").
		Where("external_volume_id IN ?", volumeIDs).
		Find(&models).Error; err != nil {
		return nil, err
	}
	for _, m := range models {
		if m.ExternalVolumeID != nil {
			out[*m.ExternalVolumeID] = bookFromModel(m)
		}
	}
	return out, nil
}

// SetBookFileIfEmpty writes ref only while file_url is still NULL.
func (s *GormStore) SetBookFileIfEmpty(ctx context.Context, bookID string, ref domain.FileRef) (domain.FileRef, error) {
	if !ref.IsSet() {
		return domain.FileRef{}, domain.ValidationError("file reference requires kind and url")
	}
	res := s.db.WithContext(ctx).
		Model(&BookModel{}).
		Where("id = ? AND file_url IS NULL", bookID).
		Updates(map[string]any{
			"file_url":   ref.URL,
			"file_kind":  string(ref.Kind),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return domain.FileRef{}, res.Error
	}
	if res.RowsAffected == 1 {
		return ref, nil
	}
	var model BookModel
	if err := s.db.WithContext(ctx).Select("id", "file_url", "file_kind").First(&model, "id = ?", bookID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.FileRef{}, domain.ErrNotFound
		}
		return domain.FileRef{}, err
	}
	return fileRefFromModel(model), nil
}

// HasPaidOrderItem reports whether the user has a PAID order containing the book.
func (s *GormStore) HasPaidOrderItem(ctx context.Context, userID, bookID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&OrderItemModel{}).
		Joins("JOIN order_models ON order_models.id = order_item_models.order_id").
		Where("order_models.user_id = ? AND order_models.status = ? AND order_item_models.book_id = ?",
			userID, string(domain.OrderPaid), bookID).
		Limit(1).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetCart returns the user's cart, creating it on first access.
func (s *GormStore) GetCart(ctx context.Context, userID string) (domain.Cart, error) {
	var cart domain.Cart
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := ensureCart(tx, userID); err != nil {
			return err
		}
		var err error
		cart, err = loadCart(tx, userID)
		return err
	})
	return cart, err
}

// AddCartItem adds qty of a book, incrementing an existing line.
func (s *GormStore) AddCartItem(ctx context.Context, userID, bookID string, qty int) (domain.Cart, error) {
	var cart domain.Cart
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireBook(tx, bookID); err != nil {
			return err
		}
		cartModel, err := ensureCart(tx, userID)
		if err != nil {
			return err
		}
		item := CartItemModel{ID: util.NewID(), CartID: cartModel.ID, BookID: bookID, Quantity: qty}
		if err := tx.Omit(clause.Associations).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "cart_id"}, {Name: "book_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"quantity": gorm.Expr("cart_item_models.quantity + ?", qty),
			}),
		}).Create(&item).Error; err != nil {
			return err
		}
		if err := touchCart(tx, cartModel.ID); err != nil {
			return err
		}
		cart, err = loadCart(tx, userID)
		return err
	})
	return cart, err
}

// SetCartItemQuantity overwrites the quantity of an existing cart line.
func (s *GormStore) SetCartItemQuantity(ctx context.Context, userID, bookID string, qty int) (domain.Cart, error) {
	var cart domain.Cart
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cartModel, err := ensureCart(tx, userID)
		if err != nil {
			return err
		}
		res := tx.Model(&CartItemModel{}).
			Where("cart_id = ? AND book_id = ?", cartModel.ID, bookID).
			Update("quantity", qty)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrNotFound
		}
		if err := touchCart(tx, cartModel.ID); err != nil {
			return err
		}
		cart, err = loadCart(tx, userID)
		return err
	})
	return cart, err
}

// RemoveCartItem drops a book from the cart. Missing lines are ignored.
func (s *GormStore) RemoveCartItem(ctx context.Context, userID, bookID string) (domain.Cart, error) {
	var cart domain.Cart
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cartModel, err := ensureCart(tx, userID)
		if err != nil {
			return err
		}
		if err := tx.Where("cart_id = ? AND book_id = ?", cartModel.ID, bookID).Delete(&CartItemModel{}).Error; err != nil {
			return err
		}
		if err := touchCart(tx, cartModel.ID); err != nil {
			return err
		}
		cart, err = loadCart(tx, userID)
		return err
	})
	return cart, err
}

// ClearCart removes every line from the user's cart.
func (s *GormStore) ClearCart(ctx context.Context, userID string) error {
	db := s.db.WithContext(ctx)
	return db.
		Where("cart_id IN (?)", db.Model(&CartModel{}).Select("id").Where("user_id = ?", userID)).
		Delete(&CartItemModel{}).Error
}

// CreateOrder stores an order, its items and the checkout snapshot.
func (s *GormStore) CreateOrder(ctx context.Context, o domain.Order) (domain.Order, error) {
	model, err := orderToModel(o)
	if err != nil {
		return domain.Order{}, err
	}
	items := model.Items
	model.Items = nil
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(&model).Error; err != nil {
			return err
		}
		if len(items) == 0 {
			return nil
		}
		return tx.Omit(clause.Associations).Create(&items).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.Order{}, domain.ErrConflict
		}
		return domain.Order{}, err
	}
	model.Items = items
	return orderFromModel(model), nil
}

// GetOrderBySession returns the order created for a payment session.
func (s *GormStore) GetOrderBySession(ctx context.Context, sessionID string) (domain.Order, bool, error) {
	model, err := loadOrder(s.db.WithContext(ctx), sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Order{}, false, nil
		}
		return domain.Order{}, false, err
	}
	return orderFromModel(model), true, nil
}

// MarkOrderPaid transitions PENDING to PAID exactly once.
func (s *GormStore) MarkOrderPaid(ctx context.Context, sessionID string) (domain.Order, bool, error) {
	var (
		order        domain.Order
		transitioned bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&OrderModel{}).
			Where("payment_session_id = ? AND status = ?", sessionID, string(domain.OrderPending)).
			Updates(map[string]any{
				"status":     string(domain.OrderPaid),
				"updated_at": time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		transitioned = res.RowsAffected == 1
		model, err := loadOrder(tx, sessionID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrNotFound
			}
			return err
		}
		order = orderFromModel(model)
		return nil
	})
	return order, transitioned, err
}

// ListCollections returns the user's collections, newest first.
func (s *GormStore) ListCollections(ctx context.Context, userID string) ([]domain.Collection, error) {
	var models []CollectionModel
	if err := preloadCollection(s.db.WithContext(ctx)).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Collection, 0, len(models))
	for _, m := range models {
		out = append(out, collectionFromModel(m))
	}
	return out, nil
}

// CreateCollection inserts a collection; a taken (user, slug) pair yields domain.ErrConflict.
func (s *GormStore) CreateCollection(ctx context.Context, c domain.Collection) (domain.Collection, error) {
	now := time.Now().UTC()
	model := CollectionModel{
		ID:        c.ID,
		UserID:    c.UserID,
		Slug:      c.Slug,
		Name:      c.Name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if model.ID == "" {
		model.ID = util.NewID()
	}
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.Collection{}, domain.ErrConflict
		}
		return domain.Collection{}, err
	}
	return collectionFromModel(model), nil
}

// GetCollection returns a collection with its items.
func (s *GormStore) GetCollection(ctx context.Context, id string) (domain.Collection, bool, error) {
	var model CollectionModel
	if err := preloadCollection(s.db.WithContext(ctx)).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Collection{}, false, nil
		}
		return domain.Collection{}, false, err
	}
	return collectionFromModel(model), true, nil
}

// RenameCollection updates name and slug.
func (s *GormStore) RenameCollection(ctx context.Context, id, name, slug string) (domain.Collection, error) {
	res := s.db.WithContext(ctx).Model(&CollectionModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"name":       name,
			"slug":       slug,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return domain.Collection{}, domain.ErrConflict
		}
		return domain.Collection{}, res.Error
	}
	if res.RowsAffected == 0 {
		return domain.Collection{}, domain.ErrNotFound
	}
	c, ok, err := s.GetCollection(ctx, id)
	if err != nil {
		return domain.Collection{}, err
	}
	if !ok {
		return domain.Collection{}, domain.ErrNotFound
	}
	return c, nil
}

// DeleteCollection removes a collection and its items.
func (s *GormStore) DeleteCollection(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("collection_id = ?", id).Delete(&CollectionItemModel{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&CollectionModel{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrNotFound
		}
		return nil
	})
}

// UpsertCollectionItem adds a book to a collection or updates its notes.
func (s *GormStore) UpsertCollectionItem(ctx context.Context, collectionID, bookID, notes string) (domain.CollectionItem, error) {
	var item CollectionItemModel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireBook(tx, bookID); err != nil {
			return err
		}
		model := CollectionItemModel{
			ID:           util.NewID(),
			CollectionID: collectionID,
			BookID:       bookID,
			Notes:        notes,
			CreatedAt:    time.Now().UTC(),
		}
		if err := tx.Omit(clause.Associations).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "collection_id"}, {Name: "book_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"notes"}),
		}).Create(&model).Error; err != nil {
			return err
		}
		if err := tx.Model(&CollectionModel{}).Where("id = ?", collectionID).Update("updated_at", time.Now().UTC()).Error; err != nil {
			return err
		}
		return tx.Preload("Book.Authors").
			Where("collection_id = ? AND book_id = ?", collectionID, bookID).
			First(&item).Error
	})
	if err != nil {
		return domain.CollectionItem{}, err
	}
	return collectionItemFromModel(item), nil
}

// RemoveCollectionItem drops a book from a collection.
func (s *GormStore) RemoveCollectionItem(ctx context.Context, collectionID, bookID string) error {
	res := s.db.WithContext(ctx).
		Where("collection_id = ? AND book_id = ?", collectionID, bookID).
		Delete(&CollectionItemModel{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func connectAuthors(tx *gorm.DB, names []string) ([]AuthorModel, error) {
	out := make([]AuthorModel, 0, len(names))
	for _, name := range names {
		candidate := AuthorModel{ID: util.NewID(), Name: name}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoNothing: true,
		}).Create(&candidate).Error; err != nil {
			return nil, fmt.Errorf("connect author %q: %w", name, err)
		}
		var stored AuthorModel
		if err := tx.Where("name = ?", name).First(&stored).Error; err != nil {
			return nil, fmt.Errorf("load author %q: %w", name, err)
		}
		out = append(out, stored)
	}
	return out, nil
}

func connectCategories(tx *gorm.DB, names []string) ([]CategoryModel, error) {
	out := make([]CategoryModel, 0, len(names))
	for _, name := range names {
		candidate := CategoryModel{ID: util.NewID(), Name: name}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoNothing: true,
		}).Create(&candidate).Error; err != nil {
			return nil, fmt.Errorf("connect category %q: %w", name, err)
		}
		var stored CategoryModel
		if err := tx.Where("name = ?", name).First(&stored).Error; err != nil {
			return nil, fmt.Errorf("load category %q: %w", name, err)
		}
		out = append(out, stored)
	}
	return out, nil
}

func requireBook(tx *gorm.DB, bookID string) error {
	var count int64
	if err := tx.Model(&BookModel{}).Where("id = ?", bookID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func ensureCart(tx *gorm.DB, userID string) (CartModel, error) {
	now := time.Now().UTC()
	candidate := CartModel{ID: util.NewID(), UserID: userID, CreatedAt: now, UpdatedAt: now}
	if err := tx.Omit(clause.Associations).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(&candidate).Error; err != nil {
		return CartModel{}, err
	}
	var stored CartModel
	if err := tx.Where("user_id = ?", userID).First(&stored).Error; err != nil {
		return CartModel{}, err
	}
	return stored, nil
}

func touchCart(tx *gorm.DB, cartID string) error {
	return tx.Model(&CartModel{}).Where("id = ?", cartID).Update("updated_at", time.Now().UTC()).Error
}

func loadCart(tx *gorm.DB, userID string) (domain.Cart, error) {
	var model CartModel
	if err := tx.
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("cart_item_models.id") }).
		Preload("Items.Book.Authors").
		Where("user_id = ?", userID).
		First(&model).Error; err != nil {
		return domain.Cart{}, err
	}
	return cartFromModel(model), nil
}

func loadOrder(tx *gorm.DB, sessionID string) (OrderModel, error) {
	var model OrderModel
	err := tx.Preload("Items.Book.Authors").
		Where("payment_session_id = ?", sessionID).
		First(&model).Error
	return model, err
}

func preloadCollection(tx *gorm.DB) *gorm.DB {
	return tx.
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("collection_item_models.created_at ASC") }).
		Preload("Items.Book.Authors")
}

func likePattern(term string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + replacer.Replace(term) + "%"
}

func categoryNames(categories []domain.Category) []string {
	names := make([]string, 0, len(categories))
	for _, c := range categories {
		names = append(names, c.Name)
	}
	return names
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:           u.ID,
		Name:         u.Name,
		Email:        strings.ToLower(strings.TrimSpace(u.Email)),
		PasswordHash: u.PasswordHash,
		Role:         string(u.Role),
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:           m.ID,
		Name:         m.Name,
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
		Role:         domain.UserRole(m.Role),
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func bookToModel(b domain.Book) BookModel {
	model := BookModel{
		ID:          b.ID,
		Title:       b.Title,
		Subtitle:    b.Subtitle,
		Description: b.Description,
		PriceCents:  b.PriceCents,
		Currency:    b.Currency,
		Inventory:   b.Inventory,
		CoverURL:    b.CoverURL,
		ISBN10:      b.ISBN10,
		ISBN13:      b.ISBN13,
		PublishedAt: b.PublishedAt,
		CreatedAt:   b.CreatedAt,
		UpdatedAt:   b.UpdatedAt,
	}
	if model.Currency == "" {
		model.Currency = "USD"
	}
	if v := strings.TrimSpace(b.ExternalVolumeID); v != "" {
		model.ExternalVolumeID = &v
	}
	if b.File.IsSet() {
		url := b.File.URL
		model.FileURL = &url
		model.FileKind = string(b.File.Kind)
	}
	return model
}

func bookFromModel(m BookModel) domain.Book {
	b := domain.Book{
		ID:          m.ID,
		Title:       m.Title,
		Subtitle:    m.Subtitle,
		Description: m.Description,
		PriceCents:  m.PriceCents,
		Currency:    m.Currency,
		Inventory:   m.Inventory,
		CoverURL:    m.CoverURL,
		ISBN10:      m.ISBN10,
		ISBN13:      m.ISBN13,
		File:        fileRefFromModel(m),
		PublishedAt: m.PublishedAt,
		Authors:     make([]domain.Author, 0, len(m.Authors)),
		Categories:  make([]domain.Category, 0, len(m.Categories)),
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
	if m.ExternalVolumeID != nil {
		b.ExternalVolumeID = *m.ExternalVolumeID
	}
	for _, a := range m.Authors {
		b.Authors = append(b.Authors, domain.Author{ID: a.ID, Name: a.Name})
	}
	for _, c := range m.Categories {
		b.Categories = append(b.Categories, domain.Category{ID: c.ID, Name: c.Name})
	}
	return b
}

func booksFromModels(models []BookModel) []domain.Book {
	out := make([]domain.Book, 0, len(models))
	for _, m := range models {
		out = append(out, bookFromModel(m))
	}
	return out
}

// fileRefFromModel treats rows written before file_kind existed as downloads.
func fileRefFromModel(m BookModel) domain.FileRef {
	if m.FileURL == nil || *m.FileURL == "" {
		return domain.FileRef{}
	}
	kind := domain.FileKind(m.FileKind)
	if kind == domain.FileNone {
		kind = domain.FileDownload
	}
	return domain.FileRef{Kind: kind, URL: *m.FileURL}
}

func cartFromModel(m CartModel) domain.Cart {
	cart := domain.Cart{
		ID:        m.ID,
		UserID:    m.UserID,
		Items:     make([]domain.CartItem, 0, len(m.Items)),
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
	for _, item := range m.Items {
		book := bookFromModel(item.Book)
		cart.Items = append(cart.Items, domain.CartItem{
			ID:       item.ID,
			CartID:   item.CartID,
			BookID:   item.BookID,
			Quantity: item.Quantity,
			Book:     &book,
		})
	}
	return cart
}

func orderToModel(o domain.Order) (OrderModel, error) {
	lines, err := json.Marshal(o.Lines)
	if err != nil {
		return OrderModel{}, fmt.Errorf("encode checkout lines: %w", err)
	}
	now := time.Now().UTC()
	model := OrderModel{
		ID:               o.ID,
		UserID:           o.UserID,
		Status:           string(o.Status),
		TotalCents:       o.TotalCents,
		Currency:         o.Currency,
		PaymentSessionID: o.PaymentSessionID,
		Lines:            datatypes.JSON(lines),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if model.ID == "" {
		model.ID = util.NewID()
	}
	for _, item := range o.Items {
		id := item.ID
		if id == "" {
			id = util.NewID()
		}
		model.Items = append(model.Items, OrderItemModel{
			ID:        id,
			OrderID:   model.ID,
			BookID:    item.BookID,
			Quantity:  item.Quantity,
			UnitCents: item.UnitCents,
		})
	}
	return model, nil
}

func orderFromModel(m OrderModel) domain.Order {
	order := domain.Order{
		ID:               m.ID,
		UserID:           m.UserID,
		Status:           domain.OrderStatus(m.Status),
		TotalCents:       m.TotalCents,
		Currency:         m.Currency,
		PaymentSessionID: m.PaymentSessionID,
		Items:            make([]domain.OrderItem, 0, len(m.Items)),
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
	if len(m.Lines) > 0 {
		_ = json.Unmarshal(m.Lines, &order.Lines)
	}
	for _, item := range m.Items {
		oi := domain.OrderItem{
			ID:        item.ID,
			OrderID:   item.OrderID,
			BookID:    item.BookID,
			Quantity:  item.Quantity,
			UnitCents: item.UnitCents,
		}
		if item.Book.ID != "" {
			book := bookFromModel(item.Book)
			oi.Book = &book
		}
		order.Items = append(order.Items, oi)
	}
	return order
}

func collectionFromModel(m CollectionModel) domain.Collection {
	c := domain.Collection{
		ID:        m.ID,
		UserID:    m.UserID,
		Name:      m.Name,
		Slug:      m.Slug,
		Items:     make([]domain.CollectionItem, 0, len(m.Items)),
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
	for _, item := range m.Items {
		c.Items = append(c.Items, collectionItemFromModel(item))
	}
	return c
}

func collectionItemFromModel(m CollectionItemModel) domain.CollectionItem {
	item := domain.CollectionItem{
		ID:           m.ID,
		CollectionID: m.CollectionID,
		BookID:       m.BookID,
		Notes:        m.Notes,
		AddedAt:      m.CreatedAt,
	}
	if m.Book.ID != "" {
		book := bookFromModel(m.Book)
		item.Book = &book
	}
	return item
}
