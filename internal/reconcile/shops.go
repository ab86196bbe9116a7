package reconcile

import (
	"time"

	"mangacatalog/internal/config"
	"mangacatalog/pkg/models"
)

// BuildShops returns the listings seen for the item on this pass: the
// storefront's own listing, then marketplace listings when the policy keeps
// them. LastStockUpdate is left zero; see CarryStock.
func BuildShops(in Input, policy config.Policy) []models.ShopListing {
	a := in.Attrs
	bundle := IsBundle(a.ISBN, a.Name)

	out := []models.ShopListing{{
		ShopKey:             models.ShopKey{ISBN: a.ISBN, Store: StoreName, Condition: ConditionNew},
		URL:                 a.URL,
		Price:               a.Price,
		StockStatus:         a.StockStatus,
		Coupon:              a.Coupon,
		IsOnSale:            a.IsOnSale,
		Exclusive:           a.Exclusive,
		Promotion:           a.Promotion,
		PromotionPercentage: a.PromotionPercentage,
		BackorderDetails:    a.BackorderDetails,
		IsBundle:            bundle,
	}}

	if policy.QueryAlternateShop && in.Biblio != nil {
		for _, s := range in.Biblio.Shops {
			s.IsBundle = bundle
			out = append(out, s)
		}
	}
	return out
}

// CarryStock stamps fresh with the time its stock label last changed: the
// stored timestamp when the label for the same key is unchanged, now
// otherwise.
func CarryStock(fresh models.ShopListing, current *models.ShopListing, now time.Time) models.ShopListing {
	if current != nil && current.StockStatus == fresh.StockStatus && !current.LastStockUpdate.IsZero() {
		fresh.LastStockUpdate = current.LastStockUpdate
		return fresh
	}
	fresh.LastStockUpdate = now
	return fresh
}
