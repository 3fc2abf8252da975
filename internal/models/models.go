// Package models defines the core data structures for the Makeriess offline layer.
//
// It includes pending actions captured while offline, cached entity snapshots,
// and the JSON envelope used by the control API.
package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ActionType selects the backend endpoint and payload shape of a pending action.
type ActionType string

const (
	// ActionTypeCart is a shopping cart mutation.
	ActionTypeCart ActionType = "CART"
	// ActionTypeFavorite is a favorite toggle on a product or vendor.
	ActionTypeFavorite ActionType = "FAVORITE"
)

// ActionKind is the semantic intent of a pending action, not an HTTP verb.
type ActionKind string

const (
	ActionAdd    ActionKind = "ADD"
	ActionRemove ActionKind = "REMOVE"
	ActionUpdate ActionKind = "UPDATE"
)

// Backend mutation endpoints.
const (
	CartEndpoint      = "/api/cart"
	FavoritesEndpoint = "/api/favorites"
)

// Error variables for validation and lookups
var (
	ErrInvalidActionType = errors.New("invalid action type")
	ErrInvalidActionKind = errors.New("invalid action kind")
	ErrMissingPayload    = errors.New("action payload is required")
	ErrPayloadMismatch   = errors.New("payload does not match action type")
	ErrEmptyProductID    = errors.New("productId cannot be empty")
	ErrInvalidQuantity   = errors.New("quantity must be positive")
	ErrEmptyEntityID     = errors.New("entity id cannot be empty")
	ErrInvalidEntityType = errors.New("invalid favorite entity type")
)

// IsValidActionType checks if the given action type is supported.
func IsValidActionType(t ActionType) bool {
	switch t {
	case ActionTypeCart, ActionTypeFavorite:
		return true
	default:
		return false
	}
}

// IsValidActionKind checks if the given action kind is supported.
func IsValidActionKind(k ActionKind) bool {
	switch k {
	case ActionAdd, ActionRemove, ActionUpdate:
		return true
	default:
		return false
	}
}

// EndpointFor returns the backend path that accepts actions of type t.
func EndpointFor(t ActionType) (string, error) {
	switch t {
	case ActionTypeCart:
		return CartEndpoint, nil
	case ActionTypeFavorite:
		return FavoritesEndpoint, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidActionType, t)
	}
}

// ActionPayload is the typed data carried by a pending action. The concrete
// type is determined by the action's ActionType.
type ActionPayload interface {
	ActionType() ActionType
	Validate(kind ActionKind) error
}

// CartActionPayload is the payload of a CART action.
type CartActionPayload struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity,omitempty"`
}

// ActionType implements ActionPayload.
func (CartActionPayload) ActionType() ActionType { return ActionTypeCart }

// Validate checks the cart payload. REMOVE does not need a quantity.
func (p CartActionPayload) Validate(kind ActionKind) error {
	if p.ProductID == "" {
		return ErrEmptyProductID
	}
	if kind != ActionRemove && p.Quantity <= 0 {
		return ErrInvalidQuantity
	}
	return nil
}

// FavoriteEntityType is the kind of entity a favorite refers to.
type FavoriteEntityType string

const (
	FavoriteProduct FavoriteEntityType = "product"
	FavoriteVendor  FavoriteEntityType = "vendor"
)

// FavoriteActionPayload is the payload of a FAVORITE action. On the wire the
// id is keyed productId or vendorId depending on EntityType.
type FavoriteActionPayload struct {
	EntityID   string
	EntityType FavoriteEntityType
}

type favoriteWire struct {
	ProductID  string             `json:"productId,omitempty"`
	VendorID   string             `json:"vendorId,omitempty"`
	EntityType FavoriteEntityType `json:"entityType"`
}

// MarshalJSON writes {productId|vendorId, entityType}.
func (p FavoriteActionPayload) MarshalJSON() ([]byte, error) {
	w := favoriteWire{EntityType: p.EntityType}
	if p.EntityType == FavoriteVendor {
		w.VendorID = p.EntityID
	} else {
		w.ProductID = p.EntityID
	}
	return json.Marshal(w)
}

// UnmarshalJSON reads {productId|vendorId, entityType}. A missing entityType
// is taken from whichever id key is present.
func (p *FavoriteActionPayload) UnmarshalJSON(data []byte) error {
	var w favoriteWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	p.EntityType = w.EntityType
	switch {
	case w.VendorID != "" && (w.EntityType == FavoriteVendor || w.EntityType == ""):
		p.EntityID = w.VendorID
		if p.EntityType == "" {
			p.EntityType = FavoriteVendor
		}
	case w.ProductID != "":
		p.EntityID = w.ProductID
		if p.EntityType == "" {
			p.EntityType = FavoriteProduct
		}
	default:
		p.EntityID = w.VendorID
	}
	return nil
}

// ActionType implements ActionPayload.
func (FavoriteActionPayload) ActionType() ActionType { return ActionTypeFavorite }

// Validate checks the favorite payload.
func (p FavoriteActionPayload) Validate(ActionKind) error {
	if p.EntityID == "" {
		return ErrEmptyEntityID
	}
	switch p.EntityType {
	case FavoriteProduct, FavoriteVendor:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidEntityType, p.EntityType)
	}
}

// NewAction is a mutation the application wants delivered. The store assigns
// the id and timestamp on insert.
type NewAction struct {
	Type   ActionType    `json:"type"`
	Action ActionKind    `json:"action"`
	Data   ActionPayload `json:"data"`
}

// Validate ensures the action is well-formed and its payload matches its type.
func (a NewAction) Validate() error {
	if !IsValidActionType(a.Type) {
		return fmt.Errorf("%w: %q", ErrInvalidActionType, a.Type)
	}
	if !IsValidActionKind(a.Action) {
		return fmt.Errorf("%w: %q", ErrInvalidActionKind, a.Action)
	}
	if a.Data == nil {
		return ErrMissingPayload
	}
	if a.Data.ActionType() != a.Type {
		return fmt.Errorf("%w: %s payload for %s action", ErrPayloadMismatch, a.Data.ActionType(), a.Type)
	}
	return a.Data.Validate(a.Action)
}

// UnmarshalJSON resolves the payload variant from the "type" field.
func (a *NewAction) UnmarshalJSON(b []byte) error {
	var raw struct {
		Type   ActionType      `json:"type"`
		Action ActionKind      `json:"action"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	a.Type = raw.Type
	a.Action = raw.Action
	a.Data = nil
	if len(raw.Data) == 0 || string(raw.Data) == "null" {
		return nil
	}
	payload, err := DecodePayload(raw.Type, raw.Data)
	if err != nil {
		return err
	}
	a.Data = payload
	return nil
}

// DecodePayload decodes the JSON payload of an action of type t.
func DecodePayload(t ActionType, data []byte) (ActionPayload, error) {
	switch t {
	case ActionTypeCart:
		var p CartActionPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode cart payload: %w", err)
		}
		return p, nil
	case ActionTypeFavorite:
		var p FavoriteActionPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode favorite payload: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidActionType, t)
	}
}

// PendingAction is a durable record of one not-yet-confirmed mutation.
type PendingAction struct {
	ID             int64         `json:"id"`
	Type           ActionType    `json:"type"`
	Action         ActionKind    `json:"action"`
	Data           ActionPayload `json:"data"`
	Timestamp      time.Time     `json:"timestamp"`
	IdempotencyKey string        `json:"idempotencyKey"`
	Attempts       int           `json:"attempts"`
	LastError      string        `json:"lastError,omitempty"`
	NextAttemptAt  *time.Time    `json:"nextAttemptAt,omitempty"`
	ClaimedAt      *time.Time    `json:"claimedAt,omitempty"`
}

// UnmarshalJSON resolves the payload variant from the "type" field.
func (p *PendingAction) UnmarshalJSON(b []byte) error {
	type alias PendingAction
	var raw struct {
		alias
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*p = PendingAction(raw.alias)
	if len(raw.Data) == 0 || string(raw.Data) == "null" {
		return nil
	}
	payload, err := DecodePayload(p.Type, raw.Data)
	if err != nil {
		return err
	}
	p.Data = payload
	return nil
}

// DeliveryBody is the JSON body POSTed to a backend mutation endpoint.
type DeliveryBody struct {
	Action ActionKind    `json:"action"`
	Data   ActionPayload `json:"data"`
}

// API Response types for consistent JSON responses

// APIStatus represents the status of an API response.
type APIStatus string

const (
	APIStatusOK    APIStatus = "ok"
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
