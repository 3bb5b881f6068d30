// Package estimate derives price estimates from observed sold listings.
package estimate

// Priced is anything carrying a sale price. ok is false when the price is
// unknown.
type Priced interface {
	Price() (price float64, ok bool)
}

// MeanPrice returns the mean price over items. ok is false when no item
// carries a price, so callers never mistake "no data" for a zero estimate.
// Items without a price are not counted.
func MeanPrice[T Priced](items []T) (mean float64, ok bool) {
	var total float64
	var count int
	for _, item := range items {
		price, ok := item.Price()
		if !ok {
			continue
		}
		total += price
		count++
	}
	if count == 0 {
		return 0, false
	}
	return total / float64(count), true
}
