package models

import "time"

// ShopKey identifies a listing: one catalog identifier at one store in one
// condition.
type ShopKey struct {
	ISBN      string `json:"isbn"`
	Store     string `json:"store"`
	Condition string `json:"condition"`
}

// ItemID renders the key the way listings have always been addressed,
// e.g. "9781975300000CrunchyrollNew".
func (k ShopKey) ItemID() string {
	return k.ISBN + k.Store + k.Condition
}

// ShopListing is a retailer offer for a volume or bundle.
type ShopListing struct {
	ShopKey
	URL                 string    `json:"url"`
	Price               float64   `json:"price"`
	StockStatus         string    `json:"stock_status,omitempty"`
	LastStockUpdate     time.Time `json:"last_stock_update"`
	Coupon              string    `json:"coupon,omitempty"`
	IsOnSale            bool      `json:"is_on_sale"`
	Exclusive           bool      `json:"exclusive"`
	Promotion           string    `json:"promotion,omitempty"`
	PromotionPercentage float64   `json:"promotion_percentage,omitempty"`
	BackorderDetails    string    `json:"backorder_details,omitempty"`
	IsBundle            bool      `json:"is_bundle"`
}

// Stock status labels reported by the storefront.
const (
	StockInStock    = "In Stock"
	StockPreOrder   = "Pre-Order"
	StockOutOfStock = "Out of Stock"
	StockOutOfPrint = "Out of Print"
)
