package expense

import (
	"time"

	"github.com/shopspring/decimal"
)

// Category is the spending category assigned to an expense
type Category string

const (
	CategoryFood           Category = "Food"
	CategoryEntertainment  Category = "Entertainment"
	CategoryShopping       Category = "Shopping"
	CategoryTravel         Category = "Travel"
	CategoryPets           Category = "Pets"
	CategoryMedical        Category = "Medical"
	CategoryRent           Category = "Rent"
	CategoryTransportation Category = "Transportation"
	CategoryOther          Category = "Other"
)

// Categories is the closed category taxonomy, in prompt order
var Categories = []Category{
	CategoryFood,
	CategoryEntertainment,
	CategoryShopping,
	CategoryTravel,
	CategoryPets,
	CategoryMedical,
	CategoryRent,
	CategoryTransportation,
	CategoryOther,
}

// Valid reports whether c is one of Categories
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Expense is a normalized expense record owned by a user
type Expense struct {
	ID           string          `json:"id"`
	UserID       string          `json:"user_id"`
	Amount       decimal.Decimal `json:"amount"`
	Category     Category        `json:"category"`
	BusinessName string          `json:"business_name"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Upload is a receipt image received from a client
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}
