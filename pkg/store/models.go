package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID           string `gorm:"primaryKey"`
	Name         string
	Email        string    `gorm:"uniqueIndex;not null"`
	PasswordHash string    `gorm:"not null"`
	Role         string    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time
}

type AuthorModel struct {
	ID   string `gorm:"primaryKey"`
	Name string `gorm:"uniqueIndex;not null"`
}

type CategoryModel struct {
	ID   string `gorm:"primaryKey"`
	Name string `gorm:"uniqueIndex;not null"`
}

type BookModel struct {
	ID               string `gorm:"primaryKey"`
	Title            string `gorm:"not null;index"`
	Subtitle         string
	Description      string  `gorm:"type:text"`
	PriceCents       int64   `gorm:"not null"`
	Currency         string  `gorm:"not null;default:USD"`
	Inventory        int     `gorm:"not null"`
	CoverURL         string
	ExternalVolumeID *string `gorm:"uniqueIndex"`
	ISBN10           string
	ISBN13           string
	FileURL          *string
	FileKind         string
	PublishedAt      *time.Time
	Authors          []AuthorModel   `gorm:"many2many:book_authors"`
	Categories       []CategoryModel `gorm:"many2many:book_categories"`
	CreatedAt        time.Time       `gorm:"not null;index"`
	UpdatedAt        time.Time       `gorm:"not null"`
}

type CartModel struct {
	ID        string          `gorm:"primaryKey"`
	UserID    string          `gorm:"uniqueIndex;not null"`
	Items     []CartItemModel `gorm:"foreignKey:CartID;constraint:OnDelete:CASCADE"`
	CreatedAt time.Time       `gorm:"not null"`
	UpdatedAt time.Time       `gorm:"not null"`
}

type CartItemModel struct {
	ID       string    `gorm:"primaryKey"`
	CartID   string    `gorm:"not null;uniqueIndex:idx_cart_book"`
	BookID   string    `gorm:"not null;uniqueIndex:idx_cart_book"`
	Quantity int       `gorm:"not null"`
	Book     BookModel `gorm:"foreignKey:BookID"`
}

type OrderModel struct {
	ID               string           `gorm:"primaryKey"`
	UserID           string           `gorm:"not null;index"`
	Status           string           `gorm:"not null;index"`
	TotalCents       int64            `gorm:"not null"`
	Currency         string           `gorm:"not null"`
	PaymentSessionID string           `gorm:"uniqueIndex;not null"`
	Lines            datatypes.JSON   `gorm:"type:jsonb"`
	Items            []OrderItemModel `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt        time.Time        `gorm:"not null"`
	UpdatedAt        time.Time        `gorm:"not null"`
}

type OrderItemModel struct {
	ID        string    `gorm:"primaryKey"`
	OrderID   string    `gorm:"not null;index"`
	BookID    string    `gorm:"not null;index"`
	Quantity  int       `gorm:"not null"`
	UnitCents int64     `gorm:"not null"`
	Book      BookModel `gorm:"foreignKey:BookID"`
}

type CollectionModel struct {
	ID        string                `gorm:"primaryKey"`
	UserID    string                `gorm:"not null;uniqueIndex:idx_collection_user_slug"`
	Slug      string                `gorm:"not null;uniqueIndex:idx_collection_user_slug"`
	Name      string                `gorm:"not null"`
	Items     []CollectionItemModel `gorm:"foreignKey:CollectionID;constraint:OnDelete:CASCADE"`
	CreatedAt time.Time             `gorm:"not null"`
	UpdatedAt time.Time             `gorm:"not null"`
}

type CollectionItemModel struct {
	ID           string    `gorm:"primaryKey"`
	CollectionID string    `gorm:"not null;uniqueIndex:idx_collection_book"`
	BookID       string    `gorm:"not null;uniqueIndex:idx_collection_book"`
	Notes        string    `gorm:"type:text"`
	Book         BookModel `gorm:"foreignKey:BookID"`
	CreatedAt    time.Time `gorm:"not null"`
}
