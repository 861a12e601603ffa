// Package schema is the static registry for the target model: expected and
// required columns per canonical table, typed column sets, business keys,
// foreign-key relations, and the renaming dictionaries that translate
// source-side naming variants into canonical names.
//
// The registry carries no behavior beyond lookups and pure renaming
// functions; it is built once at process start and passed explicitly to the
// extract, transform, and load stages.
package schema

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DateLayout is the canonical date format for all date columns.
const DateLayout = "2006-01-02"

// ForeignKey declares that Column must reference RefColumn of RefTable.
type ForeignKey struct {
	Column    string
	RefTable  string
	RefColumn string
}

// Table declares the shape of one canonical in-flight table.
type Table struct {
	Name string

	// Required columns; a batch missing any of them is structurally invalid.
	Required []string

	// DateColumns and NumericColumns drive type coercion. Every other column
	// is treated as text.
	DateColumns    []string
	NumericColumns []string

	// Key is the business/primary key column used for deduplication and for
	// watermark advancement. Empty means no key-based dedup.
	Key string

	// InBatchDedup controls whether duplicate keys within one batch are
	// dropped. The wide orders batch legitimately repeats its order number
	// across line items, so it opts out; store-level dedup still applies.
	InBatchDedup bool

	ForeignKeys []ForeignKey
}

// Registry is the immutable schema configuration consumed by all pipeline
// stages.
type Registry struct {
	// Tables maps canonical table name to its declaration.
	Tables map[string]Table

	// TableRenames maps source-side table names to canonical names.
	TableRenames map[string]string

	// ColumnRenames maps, per canonical table, source-side column names to
	// canonical column names.
	ColumnRenames map[string]map[string]string

	// HeaderSynonyms maps normalized inbound-file headers to canonical
	// column names. Headers are folded through NormalizeHeader first.
	HeaderSynonyms map[string]string

	// SourceTables lists the embedded-store tables read incrementally, with
	// their source-side primary-key column.
	SourceTables     []string
	SourceKeyColumns map[string]string
}

// Default returns the registry for the sales/inventory model.
func Default() Registry {
	return Registry{
		Tables: map[string]Table{
			"regions": {
				Name:         "regions",
				Required:     []string{"id", "name"},
				Key:          "id",
				InBatchDedup: true,
			},
			"resellers": {
				Name:         "resellers",
				Required:     []string{"id", "name", "region_id"},
				Key:          "id",
				InBatchDedup: true,
				ForeignKeys: []ForeignKey{
					{Column: "region_id", RefTable: "regions", RefColumn: "id"},
				},
			},
			"products": {
				Name:           "products",
				Required:       []string{"source_id", "name", "unit_cost"},
				NumericColumns: []string{"unit_cost"},
				Key:            "source_id",
				InBatchDedup:   true,
			},
			"production": {
				Name:           "production",
				Required:       []string{"id", "product_id", "date", "quantity"},
				DateColumns:    []string{"date"},
				NumericColumns: []string{"quantity"},
				Key:            "id",
				InBatchDedup:   true,
				ForeignKeys: []ForeignKey{
					{Column: "product_id", RefTable: "products", RefColumn: "source_id"},
				},
			},
			// The wide inbox batch: order header plus line-item columns.
			// The loader splits it into orders and order_lines.
			"orders": {
				Name:           "orders",
				Required:       []string{"order_number", "date", "reseller_id", "product_id", "quantity", "unit_price"},
				DateColumns:    []string{"date"},
				NumericColumns: []string{"quantity", "unit_price"},
				Key:            "order_number",
				InBatchDedup:   false,
				ForeignKeys: []ForeignKey{
					{Column: "reseller_id", RefTable: "resellers", RefColumn: "id"},
					{Column: "product_id", RefTable: "products", RefColumn: "source_id"},
				},
			},
		},
		TableRenames: map[string]string{
			"region":   "regions",
			"reseller": "resellers",
			"product":  "products",
		},
		ColumnRenames: map[string]map[string]string{
			"regions": {
				"region_id":   "id",
				"region_name": "name",
			},
			"resellers": {
				"reseller_id":   "id",
				"reseller_name": "name",
			},
			"products": {
				"product_id":    "source_id",
				"product_name":  "name",
				"cout_unitaire": "unit_cost",
			},
			"production": {
				"production_id":   "id",
				"date_production": "date",
			},
		},
		HeaderSynonyms: map[string]string{
			// order number
			"order_number":        "order_number",
			"order_no":            "order_number",
			"order_num":           "order_number",
			"numero_commande":     "order_number",
			"numero_de_commande":  "order_number",
			"num_commande":        "order_number",
			"n_commande":          "order_number",
			"commande_numero":     "order_number",
			"cmd":                 "order_number",
			// order date
			"date":          "date",
			"order_date":    "date",
			"date_commande": "date",
			"commande_date": "date",
			// reseller
			"reseller_id":  "reseller_id",
			"reseller":     "reseller_id",
			"revendeur_id": "reseller_id",
			"id_revendeur": "reseller_id",
			"revendeur":    "reseller_id",
			// region
			"region_id": "region_id",
			"id_region": "region_id",
			"zone":      "region_id",
			// product
			"product_id": "product_id",
			"produit_id": "product_id",
			"id_produit": "product_id",
			"article_id": "product_id",
			"article":    "product_id",
			// quantity
			"quantity": "quantity",
			"quantite": "quantity",
			"qty":      "quantity",
			"qte":      "quantity",
			// unit price
			"unit_price":    "unit_price",
			"prix_unitaire": "unit_price",
			"prix":          "unit_price",
			"price":         "unit_price",
			"pu":            "unit_price",
		},
		SourceTables: []string{"product", "region", "reseller", "production"},
		SourceKeyColumns: map[string]string{
			"product":    "product_id",
			"region":     "region_id",
			"reseller":   "reseller_id",
			"production": "production_id",
		},
	}
}

// CanonicalTable translates a source-side table name to its canonical name;
// unknown names pass through unchanged.
func (r Registry) CanonicalTable(name string) string {
	if canonical, ok := r.TableRenames[name]; ok {
		return canonical
	}
	return name
}

// SourceTable is the inverse of CanonicalTable, used when addressing
// watermark files by the source-side name.
func (r Registry) SourceTable(canonical string) string {
	for src, tgt := range r.TableRenames {
		if tgt == canonical {
			return src
		}
	}
	return canonical
}

// CanonicalColumn resolves one canonical-table column name from a source-side
// name; names without a mapping pass through unchanged.
func (r Registry) CanonicalColumn(table, column string) string {
	if m, ok := r.ColumnRenames[table]; ok {
		if canonical, ok := m[column]; ok {
			return canonical
		}
	}
	return column
}

// CanonicalHeader resolves an inbound-file header to a canonical column name:
// the header is folded (accents stripped, lowercased, spaces to underscores)
// and then looked up in the synonym table. Unresolved headers pass through in
// folded form.
func (r Registry) CanonicalHeader(header string) string {
	folded := NormalizeHeader(header)
	if canonical, ok := r.HeaderSynonyms[folded]; ok {
		return canonical
	}
	return folded
}

// NormalizeHeader converts arbitrary header text into a lowercase ASCII
// identifier:
//  1. trim and lowercase
//  2. strip accents (NFD, remove nonspacing marks, NFC)
//  3. keep [a-z0-9_]; convert space/dash/dot to underscore; drop the rest
func NormalizeHeader(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))

	t := transform.Chain(
		norm.NFD,
		runes.Remove(runes.In(unicode.Mn)),
		norm.NFC,
	)
	ascii, _, _ := transform.String(t, s)

	var b strings.Builder
	prevUnderscore := false
	for _, r := range ascii {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			prevUnderscore = false
		case r == '_' || r == ' ' || r == '-' || r == '.':
			if !prevUnderscore {
				b.WriteRune('_')
				prevUnderscore = true
			}
		}
	}
	return strings.Trim(b.String(), "_")
}
