package api

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Criteria is the server-side search document: paging, filter tree, sort
// list and nested association map.
// See https://developer.shopware.com/docs/resources/references/core-reference/dal-reference/filters-reference.html
type Criteria struct {
	Page         int                  `json:"page,omitempty"`
	Limit        int                  `json:"limit,omitempty"`
	Filter       []Filter             `json:"filter,omitempty"`
	Sort         []Sorting            `json:"sort,omitempty"`
	Associations map[string]*Criteria `json:"associations,omitempty"`
}

// Sorting is one sort clause. Order is "ASC" or "DESC".
type Sorting struct {
	Field string `json:"field" yaml:"field"`
	Order string `json:"order" yaml:"order"`
}

// Filter is one node of the criteria filter tree. Exactly which fields are
// meaningful depends on Type:
//
//	equals, equalsAny, contains, prefix, suffix: Field + Value
//	range:                                       Field + Parameters
//	multi, not:                                  Operator + Queries
//
// Value keeps its JSON type through (de)serialization, including an
// explicit null (an equals-null filter is how "field is not set" is
// expressed server-side).
type Filter struct {
	Type       string         `yaml:"type"`
	Field      string         `yaml:"field"`
	Value      any            `yaml:"value"`
	Operator   string         `yaml:"operator"`
	Queries    []Filter       `yaml:"queries"`
	Parameters map[string]any `yaml:"parameters"`
}

// Supported filter node types.
var filterTypes = map[string]bool{
	"equals":    true,
	"equalsAny": true,
	"contains":  true,
	"range":     true,
	"not":       true,
	"multi":     true,
	"prefix":    true,
	"suffix":    true,
}

// Validate checks the node and its sub-queries against the supported
// operator set.
func (f Filter) Validate() error {
	if !filterTypes[f.Type] {
		return fmt.Errorf("unsupported filter type %q", f.Type)
	}
	switch f.Type {
	case "multi", "not":
		if f.Operator != "and" && f.Operator != "or" {
			return fmt.Errorf("filter type %q requires operator \"and\" or \"or\", got %q", f.Type, f.Operator)
		}
		for _, q := range f.Queries {
			if err := q.Validate(); err != nil {
				return err
			}
		}
	default:
		if f.Field == "" {
			return fmt.Errorf("filter type %q requires a field", f.Type)
		}
	}
	return nil
}

// MarshalJSON emits only the fields meaningful for the node type, so an
// explicit null Value survives while unused fields stay absent.
func (f Filter) MarshalJSON() ([]byte, error) {
	doc := map[string]any{"type": f.Type}
	switch f.Type {
	case "multi", "not":
		doc["operator"] = f.Operator
		doc["queries"] = f.Queries
	case "range":
		doc["field"] = f.Field
		doc["parameters"] = f.Parameters
	default:
		doc["field"] = f.Field
		doc["value"] = f.Value
	}
	return json.Marshal(doc)
}

// NewCriteria returns an empty criteria for one page. Page 1 is elided from
// the serialized document (the server default).
func NewCriteria(page, limit int) *Criteria {
	c := &Criteria{Limit: limit}
	if page > 1 {
		c.Page = page
	}
	return c
}

// AddAssociation registers a dotted association path, creating the nested
// descent: "cover.media" loads association "cover" and within it "media".
func (c *Criteria) AddAssociation(path string) {
	current := c
	for _, part := range strings.Split(path, ".") {
		if current.Associations == nil {
			current.Associations = make(map[string]*Criteria)
		}
		child, ok := current.Associations[part]
		if !ok {
			child = &Criteria{}
			current.Associations[part] = child
		}
		current = child
	}
}

// AssociationPaths returns the registered association paths, sorted, for
// logging.
func (c *Criteria) AssociationPaths() []string {
	var out []string
	var walk func(prefix string, node *Criteria)
	walk = func(prefix string, node *Criteria) {
		for name, child := range node.Associations {
			path := name
			if prefix != "" {
				path = prefix + "." + name
			}
			out = append(out, path)
			walk(path, child)
		}
	}
	walk("", c)
	sort.Strings(out)
	return out
}
