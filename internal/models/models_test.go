package models

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestNewActionValidate(t *testing.T) {
	tests := []struct {
		name    string
		action  NewAction
		wantErr error
	}{
		{
			name:   "valid cart add",
			action: NewAction{Type: ActionTypeCart, Action: ActionAdd, Data: CartActionPayload{ProductID: "p1", Quantity: 2}},
		},
		{
			name:   "cart remove without quantity",
			action: NewAction{Type: ActionTypeCart, Action: ActionRemove, Data: CartActionPayload{ProductID: "p1"}},
		},
		{
			name:   "valid vendor favorite",
			action: NewAction{Type: ActionTypeFavorite, Action: ActionAdd, Data: FavoriteActionPayload{EntityID: "v1", EntityType: FavoriteVendor}},
		},
		{
			name:    "unknown type",
			action:  NewAction{Type: "ORDER", Action: ActionAdd, Data: CartActionPayload{ProductID: "p1", Quantity: 1}},
			wantErr: ErrInvalidActionType,
		},
		{
			name:    "unknown kind",
			action:  NewAction{Type: ActionTypeCart, Action: "TOGGLE", Data: CartActionPayload{ProductID: "p1", Quantity: 1}},
			wantErr: ErrInvalidActionKind,
		},
		{
			name:    "missing payload",
			action:  NewAction{Type: ActionTypeCart, Action: ActionAdd},
			wantErr: ErrMissingPayload,
		},
		{
			name:    "payload for other type",
			action:  NewAction{Type: ActionTypeCart, Action: ActionAdd, Data: FavoriteActionPayload{EntityID: "p1", EntityType: FavoriteProduct}},
			wantErr: ErrPayloadMismatch,
		},
		{
			name:    "zero quantity add",
			action:  NewAction{Type: ActionTypeCart, Action: ActionAdd, Data: CartActionPayload{ProductID: "p1"}},
			wantErr: ErrInvalidQuantity,
		},
		{
			name:    "bad favorite entity type",
			action:  NewAction{Type: ActionTypeFavorite, Action: ActionAdd, Data: FavoriteActionPayload{EntityID: "x", EntityType: "order"}},
			wantErr: ErrInvalidEntityType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.action.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestNewActionUnmarshalResolvesPayloadVariant(t *testing.T) {
	var a NewAction
	if err := json.Unmarshal([]byte(`{"type":"CART","action":"ADD","data":{"productId":"p1","quantity":2}}`), &a); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	p, ok := a.Data.(CartActionPayload)
	if !ok {
		t.Fatalf("expected CartActionPayload, got %T", a.Data)
	}
	if p.ProductID != "p1" || p.Quantity != 2 {
		t.Errorf("unexpected payload: %+v", p)
	}

	var f NewAction
	if err := json.Unmarshal([]byte(`{"type":"FAVORITE","action":"REMOVE","data":{"vendorId":"v9","entityType":"vendor"}}`), &f); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if fp, ok := f.Data.(FavoriteActionPayload); !ok || fp.EntityType != FavoriteVendor || fp.EntityID != "v9" {
		t.Errorf("expected vendor favorite payload, got %#v", f.Data)
	}

	var bad NewAction
	if err := json.Unmarshal([]byte(`{"type":"ORDER","action":"ADD","data":{}}`), &bad); !errors.Is(err, ErrInvalidActionType) {
		t.Errorf("expected ErrInvalidActionType, got %v", err)
	}
}

func TestFavoritePayloadWireShape(t *testing.T) {
	tests := []struct {
		name    string
		payload FavoriteActionPayload
		want    string
	}{
		{"product", FavoriteActionPayload{EntityID: "p1", EntityType: FavoriteProduct}, `{"productId":"p1","entityType":"product"}`},
		{"vendor", FavoriteActionPayload{EntityID: "v1", EntityType: FavoriteVendor}, `{"vendorId":"v1","entityType":"vendor"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := json.Marshal(tt.payload)
			if err != nil {
				t.Fatalf("marshal failed: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
			var back FavoriteActionPayload
			if err := json.Unmarshal(got, &back); err != nil {
				t.Fatalf("unmarshal failed: %v", err)
			}
			if back != tt.payload {
				t.Errorf("expected %+v, got %+v", tt.payload, back)
			}
		})
	}

	var inferred FavoriteActionPayload
	if err := json.Unmarshal([]byte(`{"vendorId":"v2"}`), &inferred); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if inferred.EntityID != "v2" || inferred.EntityType != FavoriteVendor {
		t.Errorf("expected vendor inferred from key, got %+v", inferred)
	}
}

func TestPendingActionUnmarshal(t *testing.T) {
	var p PendingAction
	raw := `{"id":7,"type":"FAVORITE","action":"ADD","data":{"productId":"p1","entityType":"product"},"timestamp":"2024-01-02T03:04:05Z","idempotencyKey":"k","attempts":2}`
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if p.ID != 7 || p.Attempts != 2 || p.IdempotencyKey != "k" {
		t.Errorf("unexpected record: %+v", p)
	}
	if _, ok := p.Data.(FavoriteActionPayload); !ok {
		t.Errorf("expected FavoriteActionPayload, got %T", p.Data)
	}
}

func TestEndpointFor(t *testing.T) {
	if got, _ := EndpointFor(ActionTypeCart); got != "/api/cart" {
		t.Errorf("cart endpoint = %q", got)
	}
	if got, _ := EndpointFor(ActionTypeFavorite); got != "/api/favorites" {
		t.Errorf("favorite endpoint = %q", got)
	}
	if _, err := EndpointFor("X"); !errors.Is(err, ErrInvalidActionType) {
		t.Errorf("expected ErrInvalidActionType, got %v", err)
	}
}

func TestCachedEntityDetailPath(t *testing.T) {
	if got := (CachedEntity{ID: "p1", Kind: EntityProduct}).DetailPath(); got != "/products/p1" {
		t.Errorf("product path = %q", got)
	}
	if got := (CachedEntity{ID: "v1", Kind: EntityVendor}).DetailPath(); got != "/vendors/v1" {
		t.Errorf("vendor path = %q", got)
	}
	if got := (CachedEntity{ID: "v1", Kind: EntityVendor, DetailURL: "/shop/v1"}).DetailPath(); got != "/shop/v1" {
		t.Errorf("explicit path = %q", got)
	}
}
