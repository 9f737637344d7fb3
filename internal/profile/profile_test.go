package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopsync/shopsync/internal/api"
)

func TestParse(t *testing.T) {
	raw := []byte(`
entity: product

filter:
  - type: equals
    field: parentId
    value: null

sort:
  - field: name
    order: ASC

associations:
  - categories

mappings:
  - file_column: "id"
    entity_path: "id"
  - file_column: "manufacturer name"
    entity_path: "manufacturer?.name"
  - file_column: "stock"
    entity_path: "stock"
    column_type: integer
  - file_column: "gross price"
    key: "gross_price"
    column_type: float

serialize_script: |
  row.gross_price = 1.0;
`)

	p, err := Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, "product", p.Entity)
	assert.Equal(t, []string{"id", "manufacturer name", "stock", "gross price"}, p.Columns())
	assert.Equal(t, TypeInteger, p.Mappings[2].ColumnType)
	assert.NotEmpty(t, p.SerializeScript)
	assert.Empty(t, p.DeserializeScript)

	require.Len(t, p.Filter, 1)
	assert.Equal(t, "equals", p.Filter[0].Type)
	assert.Nil(t, p.Filter[0].Value)

	require.Len(t, p.ScriptMappings(), 1)
	assert.Equal(t, "gross_price", p.ScriptMappings()[0].Key)
}

func TestParseRejects(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want error
	}{
		{
			name: "missing entity",
			raw:  "mappings:\n  - file_column: a\n    entity_path: a\n",
			want: ErrProfileSyntax,
		},
		{
			name: "no mappings",
			raw:  "entity: product\n",
			want: ErrProfileSyntax,
		},
		{
			name: "duplicate column",
			raw: "entity: product\nmappings:\n" +
				"  - file_column: a\n    entity_path: a\n" +
				"  - file_column: a\n    entity_path: b\n",
			want: ErrDuplicateColumn,
		},
		{
			name: "both path and key",
			raw: "entity: product\nmappings:\n" +
				"  - file_column: a\n    entity_path: a\n    key: a\n",
			want: ErrInvalidMapping,
		},
		{
			name: "neither path nor key",
			raw: "entity: product\nmappings:\n" +
				"  - file_column: a\n",
			want: ErrInvalidMapping,
		},
		{
			name: "bad column type",
			raw: "entity: product\nmappings:\n" +
				"  - file_column: a\n    entity_path: a\n    column_type: decimal\n",
			want: ErrInvalidMapping,
		},
		{
			name: "bad sort order",
			raw: "entity: product\nsort:\n  - field: name\n    order: up\n" +
				"mappings:\n  - file_column: a\n    entity_path: a\n",
			want: ErrProfileSyntax,
		},
		{
			name: "bad filter type",
			raw: "entity: product\nfilter:\n  - type: fuzzy\n    field: name\n" +
				"mappings:\n  - file_column: a\n    entity_path: a\n",
			want: ErrProfileSyntax,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.raw))
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestAssociationPaths(t *testing.T) {
	p := &Profile{
		Entity:       "product",
		Associations: []string{"categories"},
		Mappings: []Mapping{
			{FileColumn: "tax name", EntityPath: "tax.name"},
			{FileColumn: "tax country", EntityPath: "tax?.country?.name"},
			{FileColumn: "stock", EntityPath: "stock"},
			{FileColumn: "slot", Key: "slot"},
		},
	}

	assert.ElementsMatch(t, []string{"categories", "tax", "tax.country"}, p.AssociationPaths())
}

func TestDefaultProfilesParseAndValidate(t *testing.T) {
	names, err := DefaultProfiles()
	require.NoError(t, err)
	require.NotEmpty(t, names)

	schema := fixtureSchema()
	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			raw, err := DefaultProfile(name)
			require.NoError(t, err)

			p, err := Parse(raw)
			require.NoError(t, err)
			require.NoError(t, p.Validate(schema))
		})
	}
}

// fixtureSchema is a trimmed entity-schema descriptor covering the fields
// the bundled profiles touch.
func fixtureSchema() api.Schema {
	str := api.Property{Type: "string"}
	integer := api.Property{Type: "int"}
	double := api.Property{Type: "float"}
	boolean := api.Property{Type: "boolean"}

	return api.Schema{
		"product": {Entity: "product", Properties: map[string]api.Property{
			"id":            {Type: "uuid"},
			"productNumber": str,
			"active":        boolean,
			"name":          str,
			"stock":         integer,
			"taxId":         {Type: "uuid"},
			"tax":           {Type: "association", Entity: "tax"},
			"manufacturer":  {Type: "association", Entity: "product_manufacturer"},
			"categories":    {Type: "association", Entity: "category"},
		}},
		"product_manufacturer": {Entity: "product_manufacturer", Properties: map[string]api.Property{
			"id":          {Type: "uuid"},
			"name":        str,
			"link":        str,
			"description": str,
		}},
		"category": {Entity: "category", Properties: map[string]api.Property{
			"id":       {Type: "uuid"},
			"parentId": {Type: "uuid"},
			"name":     str,
			"active":   boolean,
			"level":    integer,
		}},
		"tax": {Entity: "tax", Properties: map[string]api.Property{
			"id":       {Type: "uuid"},
			"name":     str,
			"taxRate":  double,
			"position": integer,
			"country":  {Type: "association", Entity: "country"},
		}},
		"country": {Entity: "country", Properties: map[string]api.Property{
			"id":   {Type: "uuid"},
			"name": str,
		}},
		"currency": {Entity: "currency", Properties: map[string]api.Property{
			"id":           {Type: "uuid"},
			"isoCode":      str,
			"name":         str,
			"symbol":       str,
			"factor":       double,
			"itemRounding": {Type: "association", Entity: "rounding_config"},
		}},
		"rounding_config": {Entity: "rounding_config", Properties: map[string]api.Property{
			"decimals": integer,
		}},
		"customer": {Entity: "customer", Properties: map[string]api.Property{
			"id":             {Type: "uuid"},
			"customerNumber": str,
			"firstName":      str,
			"lastName":       str,
			"email":          str,
			"active":         boolean,
			"languageId":     {Type: "uuid"},
			"language":       {Type: "association", Entity: "language"},
		}},
		"language": {Entity: "language", Properties: map[string]api.Property{
			"id":              {Type: "uuid"},
			"translationCode": str,
		}},
	}
}
