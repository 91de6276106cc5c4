package domain

import "time"

type UserRole string

const (
	RoleCustomer UserRole = "customer"
	RoleAdmin    UserRole = "admin"
)

// User is a storefront account. Token issuance is external; signup only
// records the credential hash.
type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name,omitempty"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         UserRole  `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// FileKind discriminates what a book's file reference points at.
type FileKind string

const (
	FileNone     FileKind = ""
	FilePreview  FileKind = "preview"
	FileDownload FileKind = "file"
)

// FileRef is the resolved location of a book's readable content. A zero
// value means nothing has been resolved yet.
type FileRef struct {
	Kind FileKind `json:"kind,omitempty"`
	URL  string   `json:"url,omitempty"`
}

func DownloadRef(url string) FileRef { return FileRef{Kind: FileDownload, URL: url} }

func PreviewRef(url string) FileRef { return FileRef{Kind: FilePreview, URL: url} }

// IsSet reports whether the reference carries a usable URL.
func (f FileRef) IsSet() bool {
	return f.Kind != FileNone && f.URL != ""
}

type Author struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Book struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	Subtitle         string     `json:"subtitle,omitempty"`
	Description      string     `json:"description,omitempty"`
	PriceCents       int64      `json:"priceCents"`
	Currency         string     `json:"currency"`
	Inventory        int        `json:"inventory"`
	CoverURL         string     `json:"coverUrl,omitempty"`
	ExternalVolumeID string     `json:"externalVolumeId,omitempty"`
	ISBN10           string     `json:"isbn10,omitempty"`
	ISBN13           string     `json:"isbn13,omitempty"`
	File             FileRef    `json:"file"`
	PublishedAt      *time.Time `json:"publishedAt,omitempty"`
	Authors          []Author   `json:"authors"`
	Categories       []Category `json:"categories"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// AuthorNames returns the author names in stored order.
func (b Book) AuthorNames() []string {
	names := make([]string, 0, len(b.Authors))
	for _, a := range b.Authors {
		names = append(names, a.Name)
	}
	return names
}

// ExternalBook is a catalog volume normalized into storefront shape.
type ExternalBook struct {
	ExternalVolumeID string   `json:"externalVolumeId"`
	Title            string   `json:"title"`
	Subtitle         string   `json:"subtitle,omitempty"`
	Description      string   `json:"description,omitempty"`
	Authors          []string `json:"authors"`
	Categories       []string `json:"categories"`
	CoverURL         string   `json:"coverUrl,omitempty"`
	ISBN10           string   `json:"isbn10,omitempty"`
	ISBN13           string   `json:"isbn13,omitempty"`
	PriceCents       int64    `json:"priceCents"`
	Currency         string   `json:"currency"`
	PublishedDate    string   `json:"publishedDate,omitempty"`
}

type CartItem struct {
	ID       string `json:"id"`
	CartID   string `json:"cartId"`
	BookID   string `json:"bookId"`
	Quantity int    `json:"qty"`
	Book     *Book  `json:"book,omitempty"`
}

type Cart struct {
	ID        string     `json:"id"`
	UserID    string     `json:"userId"`
	Items     []CartItem `json:"items"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// TotalCents sums unit price times quantity over items that carry a book.
func (c Cart) TotalCents() int64 {
	var total int64
	for _, item := range c.Items {
		if item.Book == nil {
			continue
		}
		total += item.Book.PriceCents * int64(item.Quantity)
	}
	return total
}

type OrderStatus string

const (
	OrderPending OrderStatus = "PENDING"
	OrderPaid    OrderStatus = "PAID"
)

type OrderItem struct {
	ID        string `json:"id"`
	OrderID   string `json:"orderId"`
	BookID    string `json:"bookId"`
	Quantity  int    `json:"qty"`
	UnitCents int64  `json:"unitCents"`
	Book      *Book  `json:"book,omitempty"`
}

// CheckoutLine is the priced line sent to the payment provider. Orders
// keep the list as a snapshot of what the customer was charged for.
type CheckoutLine struct {
	BookID    string `json:"bookId"`
	Title     string `json:"title"`
	ImageURL  string `json:"imageUrl,omitempty"`
	UnitCents int64  `json:"unitCents"`
	Quantity  int    `json:"qty"`
}

type Order struct {
	ID               string         `json:"id"`
	UserID           string         `json:"userId"`
	Status           OrderStatus    `json:"status"`
	TotalCents       int64          `json:"totalCents"`
	Currency         string         `json:"currency"`
	PaymentSessionID string         `json:"paymentSessionId"`
	Items            []OrderItem    `json:"items"`
	Lines            []CheckoutLine `json:"lines,omitempty"`
	CreatedAt        time.Time      `json:"createdAt"`
	UpdatedAt        time.Time      `json:"updatedAt"`
}

type CollectionItem struct {
	ID           string    `json:"id"`
	CollectionID string    `json:"collectionId"`
	BookID       string    `json:"bookId"`
	Notes        string    `json:"notes,omitempty"`
	Book         *Book     `json:"book,omitempty"`
	AddedAt      time.Time `json:"addedAt"`
}

type Collection struct {
	ID        string           `json:"id"`
	UserID    string           `json:"userId"`
	Name      string           `json:"name"`
	Slug      string           `json:"slug"`
	Items     []CollectionItem `json:"items"`
	CreatedAt time.Time        `json:"createdAt"`
	UpdatedAt time.Time        `json:"updatedAt"`
}
