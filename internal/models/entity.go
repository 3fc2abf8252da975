package models

import (
	"errors"
	"time"
)

// EntityKind distinguishes cached products from cached vendors.
type EntityKind string

const (
	EntityProduct EntityKind = "product"
	EntityVendor  EntityKind = "vendor"
)

// ErrInvalidEntityKind is returned for an unknown entity kind.
var ErrInvalidEntityKind = errors.New("invalid entity kind")

// CachedEntity is a locally stored snapshot of a product or vendor kept for
// offline browsing.
type CachedEntity struct {
	ID          string     `json:"id"`
	Kind        EntityKind `json:"kind"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Price       float64    `json:"price,omitempty"`
	VendorID    string     `json:"vendorId,omitempty"`
	ImageURLs   []string   `json:"imageUrls,omitempty"`
	DetailURL   string     `json:"detailUrl,omitempty"`
	CachedAt    time.Time  `json:"cachedAt"`
}

// DetailPath returns the storefront page path for the entity when DetailURL is unset.
func (e CachedEntity) DetailPath() string {
	if e.DetailURL != "" {
		return e.DetailURL
	}
	switch e.Kind {
	case EntityVendor:
		return "/vendors/" + e.ID
	default:
		return "/products/" + e.ID
	}
}

// Validate checks the fields required to key and locate an entity.
func (e CachedEntity) Validate() error {
	if e.ID == "" {
		return ErrEmptyEntityID
	}
	switch e.Kind {
	case EntityProduct, EntityVendor:
		return nil
	default:
		return ErrInvalidEntityKind
	}
}
