package models

import "time"

// User represents a registered user
type User struct {
	ID           int
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// Listing represents an offer to sell one asset. A cleared slot is the zero Listing.
type Listing struct {
	AssetID int64  `json:"asset_id"`
	Seller  string `json:"seller"`
	Price   int64  `json:"price"` // Smallest indivisible value unit
	Active  bool   `json:"active"`
}

// Slot pairs a listing with its position in the append-only slot sequence
type Slot struct {
	Position int     `json:"position"`
	Listing  Listing `json:"listing"`
}

// Sale represents a completed purchase
type Sale struct {
	ID         string    `json:"id"`
	AssetID    int64     `json:"asset_id"`
	Seller     string    `json:"seller"`
	Buyer      string    `json:"buyer"`
	Price      int64     `json:"price"`
	Fee        int64     `json:"fee"`
	Proceeds   int64     `json:"proceeds"`
	Tendered   int64     `json:"tendered"`
	Refund     int64     `json:"refund"`
	Remainder  int64     `json:"remainder"` // Rounding dust kept by escrow
	ExecutedAt time.Time `json:"executed_at"`
}

// Account is a value balance held by an identity
type Account struct {
	ID      string `json:"id"`
	Balance int64  `json:"balance"`
	Frozen  bool   `json:"frozen"` // Frozen accounts refuse incoming payments
}
