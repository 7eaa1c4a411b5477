package model

// Listing status values
const (
	ListingActive   = "active"
	ListingReserved = "reserved"
	ListingSold     = "sold"
	ListingExpired  = "expired"
	ListingPending  = "pending"
)

// ListingSummary is the compact listing reference embedded in a conversation
type ListingSummary struct {
	ListingId string `json:"listing_id"`
	Title     string `json:"title"`
	Image     string `json:"image,omitempty"`
	Price     int64  `json:"price"` // minor units
	Currency  string `json:"currency"`
}

// Listing is the current listing detail rendered on the "about this listing" card
type Listing struct {
	ListingId   string `json:"listing_id"`
	SellerId    string `json:"seller_id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Image       string `json:"image,omitempty"`
	Price       int64  `json:"price"`
	Currency    string `json:"currency"`
	Status      string `json:"status"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
}

// ContactEnabled reports whether contact actions for this listing are still
// offered. A sold/expired/pending listing shows a banner instead; the
// conversation itself stays readable.
func (l *Listing) ContactEnabled() bool {
	return l.Status == ListingActive || l.Status == ListingReserved
}
