// Package lookup builds the immutable ISO-code tables scripts resolve
// against. The tables are primed once after authentication, before any
// pipeline launches, and are shared read-only with every script runner.
package lookup

import (
	"context"
	"fmt"

	"github.com/shopsync/shopsync/internal/api"
)

// Platform constants, by the names scripts pass to get_default. These ids
// are fixed by the platform across installations.
var defaults = map[string]string{
	"LANGUAGE_SYSTEM":                       "2fbb5fe2e29a4d70aa5854ce7ce3e20b",
	"LIVE_VERSION":                          "0fa91ce3e96a4bc2be4bd9ce752c3425",
	"CURRENCY":                              "b7d2554b0ce847cd82f3ac9bd1c0dfca",
	"SALES_CHANNEL_TYPE_API":                "f183ee5650cf4bdb8a774337575067a6",
	"SALES_CHANNEL_TYPE_STOREFRONT":         "8a243080f92e4c719546314b577cf82b",
	"SALES_CHANNEL_TYPE_PRODUCT_COMPARISON": "ed535e5722134ac1aa6524f73e26881b",
	"STORAGE_DATE_TIME_FORMAT":              "Y-m-d H:i:s.v",
	"STORAGE_DATE_FORMAT":                   "Y-m-d",
	"CMS_PRODUCT_DETAIL_PAGE":               "7a6d253a67204037966f42b0119704d5",
}

// Source is the slice of the API client the primer needs.
type Source interface {
	Languages(ctx context.Context) ([]api.IsoRecord, error)
	Currencies(ctx context.Context) ([]api.IsoRecord, error)
}

// Tables hold the primed lookups. Immutable after Prime returns.
type Tables struct {
	languages  map[string]string
	currencies map[string]string
}

// Prime fetches the language and currency tables from the shop.
func Prime(ctx context.Context, src Source) (*Tables, error) {
	langs, err := src.Languages(ctx)
	if err != nil {
		return nil, fmt.Errorf("priming language lookup: %w", err)
	}
	curs, err := src.Currencies(ctx)
	if err != nil {
		return nil, fmt.Errorf("priming currency lookup: %w", err)
	}

	t := &Tables{
		languages:  make(map[string]string, len(langs)),
		currencies: make(map[string]string, len(curs)),
	}
	for _, l := range langs {
		t.languages[l.ISO] = l.ID
	}
	for _, c := range curs {
		t.currencies[c.ISO] = c.ID
	}
	return t, nil
}

// Empty returns tables with no ISO entries, for contexts that never touch
// the remote (tests, validation-only paths).
func Empty() *Tables {
	return Static(nil, nil)
}

// Static builds tables from already-known ISO maps, without a remote.
func Static(languages, currencies map[string]string) *Tables {
	t := &Tables{
		languages:  make(map[string]string, len(languages)),
		currencies: make(map[string]string, len(currencies)),
	}
	for iso, id := range languages {
		t.languages[iso] = id
	}
	for iso, id := range currencies {
		t.currencies[iso] = id
	}
	return t
}

// Default resolves a platform constant by name. Unknown names yield "".
func (t *Tables) Default(name string) (string, bool) {
	v, ok := defaults[name]
	return v, ok
}

// LanguageByISO resolves an ISO code like "de-DE" to a language id.
func (t *Tables) LanguageByISO(iso string) (string, bool) {
	v, ok := t.languages[iso]
	return v, ok
}

// CurrencyByISO resolves an ISO code like "EUR" to a currency id.
func (t *Tables) CurrencyByISO(iso string) (string, bool) {
	v, ok := t.currencies[iso]
	return v, ok
}
