package contentcache

import (
	"context"
	"errors"
	"log/slog"

	"github.com/tidwall/gjson"
	"github.com/tonytanb/makeriess-marketplace-sub000/internal/models"
)

// ErrInvalidJSON is returned by CacheFromJSON for malformed input.
var ErrInvalidJSON = errors.New("invalid JSON")

var (
	nameFields  = []string{"name", "businessName", "title"}
	imageFields = []string{"imageUrls", "images", "image", "logo", "coverImage"}
)

// CacheFromJSON caches the product or vendor records found in a backend
// response body. It accepts a single record, an array of records, an
// {"items": [...]} page, or a GraphQL {"data": {...}} envelope holding any
// of those. Records without an id are skipped. It returns how many entities
// were cached.
func (c *Cache) CacheFromJSON(ctx context.Context, kind models.EntityKind, raw []byte) (int, error) {
	if !gjson.ValidBytes(raw) {
		return 0, ErrInvalidJSON
	}
	cached := 0
	for _, r := range records(gjson.ParseBytes(raw)) {
		e := entityFrom(kind, r)
		if err := c.CacheEntity(ctx, e); err != nil {
			slog.Debug("Cache.CacheFromJSON: skipping record", "kind", kind, "error", err)
			continue
		}
		cached++
	}
	return cached, nil
}

func records(v gjson.Result) []gjson.Result {
	switch {
	case v.IsArray():
		return v.Array()
	case !v.IsObject():
		return nil
	}
	if data := v.Get("data"); data.IsObject() {
		var out []gjson.Result
		data.ForEach(func(_, field gjson.Result) bool {
			out = append(out, records(field)...)
			return true
		})
		return out
	}
	if items := v.Get("items"); items.IsArray() {
		return items.Array()
	}
	return []gjson.Result{v}
}

func entityFrom(kind models.EntityKind, r gjson.Result) models.CachedEntity {
	e := models.CachedEntity{
		ID:          r.Get("id").String(),
		Kind:        kind,
		Description: r.Get("description").String(),
		Price:       r.Get("price").Float(),
		VendorID:    r.Get("vendorId").String(),
		DetailURL:   r.Get("detailUrl").String(),
	}
	for _, f := range nameFields {
		if s := r.Get(f).String(); s != "" {
			e.Name = s
			break
		}
	}
	for _, f := range imageFields {
		e.ImageURLs = append(e.ImageURLs, imageURLs(r.Get(f))...)
	}
	return e
}

// imageURLs accepts a URL string, an object with a url field, or an array of either.
func imageURLs(v gjson.Result) []string {
	switch {
	case !v.Exists():
		return nil
	case v.IsArray():
		var out []string
		for _, item := range v.Array() {
			out = append(out, imageURLs(item)...)
		}
		return out
	case v.IsObject():
		if u := v.Get("url").String(); u != "" {
			return []string{u}
		}
		return nil
	case v.Type == gjson.String && v.String() != "":
		return []string{v.String()}
	default:
		return nil
	}
}
