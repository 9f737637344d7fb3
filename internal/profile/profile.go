// Package profile defines the declarative sync profile: which remote entity
// is involved, how file columns map to entity fields, and the optional
// transformation scripts. Profiles are YAML documents; a set of default
// profiles for common entities ships embedded in the binary.
package profile

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/shopsync/shopsync/internal/api"
)

//go:embed defaults/*.yaml
var defaultsFS embed.FS

// ColumnType declares how a CSV cell is parsed on import. The zero value
// means "infer from the cell content".
type ColumnType string

const (
	TypeInferred ColumnType = ""
	TypeString   ColumnType = "string"
	TypeInteger  ColumnType = "integer"
	TypeFloat    ColumnType = "float"
	TypeBoolean  ColumnType = "boolean"
	TypeDatetime ColumnType = "datetime"
)

// Mapping binds one file column to either a dotted entity path (automatic
// projection/injection) or a key (a slot only scripts read and write).
// Exactly one of EntityPath and Key must be set.
type Mapping struct {
	FileColumn string     `yaml:"file_column"`
	EntityPath string     `yaml:"entity_path,omitempty"`
	Key        string     `yaml:"key,omitempty"`
	ColumnType ColumnType `yaml:"column_type,omitempty"`
}

// IsPath reports whether the mapping participates in automatic
// projection/injection.
func (m Mapping) IsPath() bool { return m.EntityPath != "" }

// Profile is one parsed profile document. Mapping order defines CSV column
// order.
type Profile struct {
	Entity            string        `yaml:"entity"`
	Filter            []api.Filter  `yaml:"filter,omitempty"`
	Sort              []api.Sorting `yaml:"sort,omitempty"`
	Associations      []string      `yaml:"associations,omitempty"`
	Mappings          []Mapping     `yaml:"mappings"`
	SerializeScript   string        `yaml:"serialize_script,omitempty"`
	DeserializeScript string        `yaml:"deserialize_script,omitempty"`
}

// Profile structural errors. Schema cross-validation errors live in
// validate.go.
var (
	ErrProfileSyntax   = errors.New("profile syntax error")
	ErrDuplicateColumn = errors.New("duplicate file_column")
	ErrInvalidMapping  = errors.New("invalid mapping")
)

// Load reads and structurally checks a profile document. The returned
// profile still needs Validate() against the remote schema before use.
func Load(path string) (*Profile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading profile %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse parses and structurally checks a profile document.
func Parse(raw []byte) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProfileSyntax, err)
	}

	if p.Entity == "" {
		return nil, fmt.Errorf("%w: missing entity", ErrProfileSyntax)
	}
	if len(p.Mappings) == 0 {
		return nil, fmt.Errorf("%w: profile has no mappings", ErrProfileSyntax)
	}

	seen := make(map[string]bool, len(p.Mappings))
	for i, m := range p.Mappings {
		if m.FileColumn == "" {
			return nil, fmt.Errorf("%w: mapping %d has no file_column", ErrInvalidMapping, i)
		}
		if seen[m.FileColumn] {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateColumn, m.FileColumn)
		}
		seen[m.FileColumn] = true

		if (m.EntityPath == "") == (m.Key == "") {
			return nil, fmt.Errorf("%w: column %q must set exactly one of entity_path or key", ErrInvalidMapping, m.FileColumn)
		}
		switch m.ColumnType {
		case TypeInferred, TypeString, TypeInteger, TypeFloat, TypeBoolean, TypeDatetime:
		default:
			return nil, fmt.Errorf("%w: column %q has unknown column_type %q", ErrInvalidMapping, m.FileColumn, m.ColumnType)
		}
	}

	for _, f := range p.Filter {
		if err := f.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrProfileSyntax, err)
		}
	}
	for _, s := range p.Sort {
		if s.Order != "ASC" && s.Order != "DESC" {
			return nil, fmt.Errorf("%w: sort order must be ASC or DESC, got %q", ErrProfileSyntax, s.Order)
		}
	}

	return &p, nil
}

// Columns returns the ordered CSV header.
func (p *Profile) Columns() []string {
	cols := make([]string, len(p.Mappings))
	for i, m := range p.Mappings {
		cols[i] = m.FileColumn
	}
	return cols
}

// AssociationPaths is the union of the explicit associations list and every
// association prefix derivable from dotted entity paths: a mapping path
// "tax.country.name" contributes "tax" and "tax.country". Null-safe marks
// are stripped. The result is deduplicated, order unspecified.
func (p *Profile) AssociationPaths() []string {
	set := make(map[string]bool)
	for _, a := range p.Associations {
		set[cleanPath(a)] = true
	}
	for _, m := range p.Mappings {
		if !m.IsPath() {
			continue
		}
		segments := strings.Split(cleanPath(m.EntityPath), ".")
		for i := 1; i < len(segments); i++ {
			set[strings.Join(segments[:i], ".")] = true
		}
	}

	out := make([]string, 0, len(set))
	for path := range set {
		out = append(out, path)
	}
	return out
}

// Criteria builds the search criteria for one page of this profile's
// entity: the profile's filter and sort carried verbatim, every derived
// association path expanded into the nested tree.
func (p *Profile) Criteria(page int, limit int) *api.Criteria {
	c := api.NewCriteria(page, limit)
	c.Filter = p.Filter
	c.Sort = p.Sort
	for _, path := range p.AssociationPaths() {
		c.AddAssociation(path)
	}
	return c
}

// ScriptMappings returns the key-based mappings in profile order.
func (p *Profile) ScriptMappings() []Mapping {
	var out []Mapping
	for _, m := range p.Mappings {
		if !m.IsPath() {
			out = append(out, m)
		}
	}
	return out
}

func cleanPath(path string) string {
	return strings.ReplaceAll(path, "?", "")
}

// DefaultProfiles lists the bundled profile documents by file name.
func DefaultProfiles() ([]string, error) {
	entries, err := fs.Glob(defaultsFS, "defaults/*.yaml")
	if err != nil {
		return nil, err
	}
	for i, e := range entries {
		entries[i] = strings.TrimPrefix(e, "defaults/")
	}
	return entries, nil
}

// DefaultProfile returns the content of one bundled profile.
func DefaultProfile(name string) ([]byte, error) {
	return defaultsFS.ReadFile("defaults/" + name)
}
