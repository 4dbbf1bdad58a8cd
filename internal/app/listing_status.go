package app

import "github.com/GDIPSA-Team2/ecoplate/internal/store"

// listingTransitions is the whole listing lifecycle. sold and expired are
// terminal.
var listingTransitions = map[string][]string{
	store.ListingActive:   {store.ListingReserved, store.ListingExpired},
	store.ListingReserved: {store.ListingSold, store.ListingActive, store.ListingExpired},
}

func canTransition(from, to string) bool {
	for _, next := range listingTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
