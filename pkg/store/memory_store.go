package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"bookstore/internal/util"
	"bookstore/pkg/domain"
)

var _ Store = (*MemoryStore)(nil)

type memoryCart struct {
	id        string
	items     []domain.CartItem
	createdAt time.Time
	updatedAt time.Time
}

// MemoryStore keeps everything in-process. It backs tests and local runs
// without Postgres.
type MemoryStore struct {
	mu          sync.RWMutex
	users       map[string]domain.User
	emails      map[string]string // email -> user ID
	books       map[string]domain.Book
	bookOrder   []string
	volumes     map[string]string // external volume id -> book ID
	authors     map[string]domain.Author
	categories  map[string]domain.Category
	carts       map[string]*memoryCart // user ID -> cart
	orders      map[string]domain.Order // payment session id -> order
	collections map[string]domain.Collection
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[string]domain.User),
		emails:      make(map[string]string),
		books:       make(map[string]domain.Book),
		volumes:     make(map[string]string),
		authors:     make(map[string]domain.Author),
		categories:  make(map[string]domain.Category),
		carts:       make(map[string]*memoryCart),
		orders:      make(map[string]domain.Order),
		collections: make(map[string]domain.Collection),
	}
}

func (m *MemoryStore) CreateUser(_ context.Context, u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	email := strings.ToLower(strings.TrimSpace(u.Email))
	if _, exists := m.emails[email]; exists {
		return domain.ErrConflict
	}
	if u.ID == "" {
		u.ID = util.NewID()
	}
	u.Email = email
	m.users[u.ID] = u
	m.emails[email] = u.ID
	return nil
}

func (m *MemoryStore) GetUserByID(_ context.Context, id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

func (m *MemoryStore) GetUserByEmail(_ context.Context, email string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.emails[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return domain.User{}, false, nil
	}
	return m.users[id], true, nil
}

func (m *MemoryStore) CreateBook(_ context.Context, b domain.Book) (domain.Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createBookLocked(b)
}

func (m *MemoryStore) createBookLocked(b domain.Book) (domain.Book, error) {
	if b.ID == "" {
		b.ID = util.NewID()
	}
	if b.Currency == "" {
		b.Currency = "USD"
	}
	if v := strings.TrimSpace(b.ExternalVolumeID); v != "" {
		if _, taken := m.volumes[v]; taken {
			return domain.Book{}, domain.ErrConflict
		}
		m.volumes[v] = b.ID
	}
	now := time.Now().UTC()
	b.CreatedAt = now
	b.UpdatedAt = now
	authors := make([]domain.Author, 0, len(b.Authors))
	for _, a := range b.Authors {
		stored, ok := m.authors[a.Name]
		if !ok {
			stored = domain.Author{ID: util.NewID(), Name: a.Name}
			m.authors[a.Name] = stored
		}
		authors = append(authors, stored)
	}
	categories := make([]domain.Category, 0, len(b.Categories))
	for _, c := range b.Categories {
		stored, ok := m.categories[c.Name]
		if !ok {
			stored = domain.Category{ID: util.NewID(), Name: c.Name}
			m.categories[c.Name] = stored
		}
		categories = append(categories, stored)
	}
	b.Authors = authors
	b.Categories = categories
	m.books[b.ID] = b
	m.bookOrder = append(m.bookOrder, b.ID)
	return b, nil
}

func (m *MemoryStore) UpsertBookByVolumeID(_ context.Context, b domain.Book) (domain.Book, bool, error) {
	volumeID := strings.TrimSpace(b.ExternalVolumeID)
	if volumeID == "" {
		return domain.Book{}, false, domain.ValidationError("external volume id required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.volumes[volumeID]; ok {
		return m.books[id], false, nil
	}
	created, err := m.createBookLocked(b)
	if err != nil {
		return domain.Book{}, false, err
	}
	return created, true, nil
}

func (m *MemoryStore) GetBook(_ context.Context, id string) (domain.Book, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.books[id]
	return b, ok, nil
}

// ListBooks returns newest first, mirroring the SQL store.
func (m *MemoryStore) ListBooks(_ context.Context, q BookQuery) ([]domain.Book, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	limit := q.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	matched := m.matchTitleLocked(q.Title)
	total := int64(len(matched))
	offset := max(q.Offset, 0)
	if offset >= len(matched) {
		return []domain.Book{}, total, nil
	}
	end := min(offset+limit, len(matched))
	return matched[offset:end], total, nil
}

func (m *MemoryStore) SearchBooksByTitle(_ context.Context, title string, limit int) ([]domain.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 {
		limit = 10
	}
	matched := m.matchTitleLocked(title)
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (m *MemoryStore) matchTitleLocked(title string) []domain.Book {
	needle := strings.ToLower(strings.TrimSpace(title))
	out := make([]domain.Book, 0)
	for i := len(m.bookOrder) - 1; i >= 0; i-- {
		b := m.books[m.bookOrder[i]]
		if needle == "" || strings.Contains(strings.ToLower(b.Title), needle) {
			out = append(out, b)
		}
	}
	return out
}

func (m *MemoryStore) FindBooksByVolumeIDs(_ context.Context, volumeIDs []string) (map[string]domain.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]domain.Book, len(volumeIDs))
	for _, v := range volumeIDs {
		if id, ok := m.volumes[v]; ok {
			out[v] = m.books[id]
		}
	}
	return out, nil
}

func (m *MemoryStore) SetBookFileIfEmpty(_ context.Context, bookID string, ref domain.FileRef) (domain.FileRef, error) {
	if !ref.IsSet() {
		return domain.FileRef{}, domain.ValidationError("file reference requires kind and url")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[bookID]
	if !ok {
		return domain.FileRef{}, domain.ErrNotFound
	}
	if b.File.IsSet() {
		return b.File, nil
	}
	b.File = ref
	b.UpdatedAt = time.Now().UTC()
	m.books[bookID] = b
	return ref, nil
}

func (m *MemoryStore) HasPaidOrderItem(_ context.Context, userID, bookID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, o := range m.orders {
		if o.UserID != userID || o.Status != domain.OrderPaid {
			continue
		}
		for _, item := range o.Items {
			if item.BookID == bookID {
				return true, nil
			}
		}
	}
	return false, nil
}

func (m *MemoryStore) GetCart(_ context.Context, userID string) (domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cartViewLocked(m.ensureCartLocked(userID), userID), nil
}

func (m *MemoryStore) AddCartItem(_ context.Context, userID, bookID string, qty int) (domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.books[bookID]; !ok {
		return domain.Cart{}, domain.ErrNotFound
	}
	cart := m.ensureCartLocked(userID)
	found := false
	for i := range cart.items {
		if cart.items[i].BookID == bookID {
			cart.items[i].Quantity += qty
			found = true
			break
		}
	}
	if !found {
		cart.items = append(cart.items, domain.CartItem{ID: util.NewID(), CartID: cart.id, BookID: bookID, Quantity: qty})
	}
	cart.updatedAt = time.Now().UTC()
	return m.cartViewLocked(cart, userID), nil
}

func (m *MemoryStore) SetCartItemQuantity(_ context.Context, userID, bookID string, qty int) (domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cart := m.ensureCartLocked(userID)
	for i := range cart.items {
		if cart.items[i].BookID == bookID {
			cart.items[i].Quantity = qty
			cart.updatedAt = time.Now().UTC()
			return m.cartViewLocked(cart, userID), nil
		}
	}
	return domain.Cart{}, domain.ErrNotFound
}

func (m *MemoryStore) RemoveCartItem(_ context.Context, userID, bookID string) (domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cart := m.ensureCartLocked(userID)
	kept := cart.items[:0]
	for _, item := range cart.items {
		if item.BookID != bookID {
			kept = append(kept, item)
		}
	}
	cart.items = kept
	cart.updatedAt = time.Now().UTC()
	return m.cartViewLocked(cart, userID), nil
}

func (m *MemoryStore) ClearCart(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cart, ok := m.carts[userID]; ok {
		cart.items = nil
		cart.updatedAt = time.Now().UTC()
	}
	return nil
}

func (m *MemoryStore) ensureCartLocked(userID string) *memoryCart {
	cart, ok := m.carts[userID]
	if !ok {
		now := time.Now().UTC()
		cart = &memoryCart{id: util.NewID(), createdAt: now, updatedAt: now}
		m.carts[userID] = cart
	}
	return cart
}

func (m *MemoryStore) cartViewLocked(cart *memoryCart, userID string) domain.Cart {
	view := domain.Cart{
		ID:        cart.id,
		UserID:    userID,
		Items:     make([]domain.CartItem, 0, len(cart.items)),
		CreatedAt: cart.createdAt,
		UpdatedAt: cart.updatedAt,
	}
	for _, item := range cart.items {
		if b, ok := m.books[item.BookID]; ok {
			book := b
			item.Book = &book
		}
		view.Items = append(view.Items, item)
	}
	return view
}

func (m *MemoryStore) CreateOrder(_ context.Context, o domain.Order) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.orders[o.PaymentSessionID]; exists {
		return domain.Order{}, domain.ErrConflict
	}
	if o.ID == "" {
		o.ID = util.NewID()
	}
	now := time.Now().UTC()
	o.CreatedAt = now
	o.UpdatedAt = now
	items := make([]domain.OrderItem, 0, len(o.Items))
	for _, item := range o.Items {
		if item.ID == "" {
			item.ID = util.NewID()
		}
		item.OrderID = o.ID
		item.Book = nil
		items = append(items, item)
	}
	o.Items = items
	m.orders[o.PaymentSessionID] = o
	return m.orderViewLocked(o), nil
}

func (m *MemoryStore) GetOrderBySession(_ context.Context, sessionID string) (domain.Order, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[sessionID]
	if !ok {
		return domain.Order{}, false, nil
	}
	return m.orderViewLocked(o), true, nil
}

func (m *MemoryStore) MarkOrderPaid(_ context.Context, sessionID string) (domain.Order, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[sessionID]
	if !ok {
		return domain.Order{}, false, domain.ErrNotFound
	}
	transitioned := false
	if o.Status == domain.OrderPending {
		o.Status = domain.OrderPaid
		o.UpdatedAt = time.Now().UTC()
		m.orders[sessionID] = o
		transitioned = true
	}
	return m.orderViewLocked(o), transitioned, nil
}

func (m *MemoryStore) orderViewLocked(o domain.Order) domain.Order {
	items := make([]domain.OrderItem, 0, len(o.Items))
	for _, item := range o.Items {
		if b, ok := m.books[item.BookID]; ok {
			book := b
			item.Book = &book
		}
		items = append(items, item)
	}
	o.Items = items
	return o
}

func (m *MemoryStore) ListCollections(_ context.Context, userID string) ([]domain.Collection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Collection, 0)
	for _, c := range m.collections {
		if c.UserID == userID {
			out = append(out, m.collectionViewLocked(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) CreateCollection(_ context.Context, c domain.Collection) (domain.Collection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.slugTakenLocked(c.UserID, c.Slug, "") {
		return domain.Collection{}, domain.ErrConflict
	}
	if c.ID == "" {
		c.ID = util.NewID()
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	c.Items = nil
	m.collections[c.ID] = c
	return m.collectionViewLocked(c), nil
}

func (m *MemoryStore) GetCollection(_ context.Context, id string) (domain.Collection, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[id]
	if !ok {
		return domain.Collection{}, false, nil
	}
	return m.collectionViewLocked(c), true, nil
}

func (m *MemoryStore) RenameCollection(_ context.Context, id, name, slug string) (domain.Collection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[id]
	if !ok {
		return domain.Collection{}, domain.ErrNotFound
	}
	if m.slugTakenLocked(c.UserID, slug, id) {
		return domain.Collection{}, domain.ErrConflict
	}
	c.Name = name
	c.Slug = slug
	c.UpdatedAt = time.Now().UTC()
	m.collections[id] = c
	return m.collectionViewLocked(c), nil
}

func (m *MemoryStore) DeleteCollection(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.collections, id)
	return nil
}

func (m *MemoryStore) UpsertCollectionItem(_ context.Context, collectionID, bookID, notes string) (domain.CollectionItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[collectionID]
	if !ok {
		return domain.CollectionItem{}, domain.ErrNotFound
	}
	if _, ok := m.books[bookID]; !ok {
		return domain.CollectionItem{}, domain.ErrNotFound
	}
	var item domain.CollectionItem
	found := false
	for i := range c.Items {
		if c.Items[i].BookID == bookID {
			c.Items[i].Notes = notes
			item = c.Items[i]
			found = true
			break
		}
	}
	if !found {
		item = domain.CollectionItem{
			ID:           util.NewID(),
			CollectionID: collectionID,
			BookID:       bookID,
			Notes:        notes,
			AddedAt:      time.Now().UTC(),
		}
		c.Items = append(c.Items, item)
	}
	c.UpdatedAt = time.Now().UTC()
	m.collections[collectionID] = c
	book := m.books[bookID]
	item.Book = &book
	return item, nil
}

func (m *MemoryStore) RemoveCollectionItem(_ context.Context, collectionID, bookID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[collectionID]
	if !ok {
		return domain.ErrNotFound
	}
	for i, item := range c.Items {
		if item.BookID == bookID {
			c.Items = append(c.Items[:i:i], c.Items[i+1:]...)
			m.collections[collectionID] = c
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *MemoryStore) slugTakenLocked(userID, slug, exceptID string) bool {
	for id, c := range m.collections {
		if id != exceptID && c.UserID == userID && c.Slug == slug {
			return true
		}
	}
	return false
}

func (m *MemoryStore) collectionViewLocked(c domain.Collection) domain.Collection {
	items := make([]domain.CollectionItem, 0, len(c.Items))
	for _, item := range c.Items {
		if b, ok := m.books[item.BookID]; ok {
			book := b
			item.Book = &book
		}
		items = append(items, item)
	}
	c.Items = items
	return c
}
