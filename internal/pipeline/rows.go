package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopsync/shopsync/internal/entity"
	"github.com/shopsync/shopsync/internal/profile"
	"github.com/shopsync/shopsync/internal/script"
)

// ErrRow marks a typed-parse failure on a single cell. The record is
// dropped and counted, the pipeline keeps going.
var ErrRow = errors.New("row error")

// datetime layouts accepted for column_type: datetime, tried in order.
var datetimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseCell converts one raw CSV cell into an engine value according to the
// declared column type. The empty cell is null for every type.
func ParseCell(raw string, ct profile.ColumnType) (any, error) {
	if raw == "" {
		return nil, nil
	}

	switch ct {
	case profile.TypeString:
		return raw, nil

	case profile.TypeInteger:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not an integer", ErrRow, raw)
		}
		return n, nil

	case profile.TypeFloat:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a float", ErrRow, raw)
		}
		return f, nil

	case profile.TypeBoolean:
		switch strings.ToLower(raw) {
		case "true", "1":
			return true, nil
		case "false", "0":
			return false, nil
		}
		return nil, fmt.Errorf("%w: %q is not a boolean", ErrRow, raw)

	case profile.TypeDatetime:
		for _, layout := range datetimeLayouts {
			if ts, err := time.Parse(layout, raw); err == nil {
				return ts.Format(time.RFC3339Nano), nil
			}
		}
		return nil, fmt.Errorf("%w: %q is not an ISO-8601 datetime", ErrRow, raw)

	default:
		return InferCell(raw), nil
	}
}

// InferCell guesses the value of an untyped cell. Inference order is
// integer, then float, then boolean, then string; the empty cell and the
// literal "null" are null. Note "1"/"0" therefore infer as integers, only
// declared boolean columns read them as booleans.
func InferCell(raw string) any {
	if raw == "" || strings.EqualFold(raw, "null") {
		return nil
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	switch strings.ToLower(raw) {
	case "true":
		return true
	case "false":
		return false
	}
	return raw
}

// RenderCell turns an engine value into its CSV cell text: null is the
// empty field, strings go verbatim (the CSV writer handles quoting),
// booleans are true/false, numbers use the canonical shortest decimal form,
// composites are JSON-encoded.
func RenderCell(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "", nil
	case string:
		return val, nil
	case bool:
		return strconv.FormatBool(val), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case int:
		return strconv.Itoa(val), nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	default:
		raw, err := json.Marshal(val)
		if err != nil {
			return "", fmt.Errorf("%w: cell value %T is not serializable", ErrRow, v)
		}
		return string(raw), nil
	}
}

// SerializeRecord turns one fetched entity into CSV cells in mapping
// order. The serialize script runs first; its row keys win over automatic
// projection for the same file column, and key mappings are filled from
// the script's slots. A strict path miss fails the record.
func SerializeRecord(runner *script.Runner, prof *profile.Profile, record entity.Entity) ([]string, error) {
	scriptRow, err := runner.RunSerialize(record)
	if err != nil {
		return nil, err
	}

	cells := make([]string, len(prof.Mappings))
	for i, m := range prof.Mappings {
		var value any
		switch {
		case m.IsPath():
			if v, ok := scriptRow[m.FileColumn]; ok {
				value = v
			} else if value, err = entity.GetPath(record, m.EntityPath); err != nil {
				return nil, fmt.Errorf("projecting column %q: %w, mark optional steps with '?'", m.FileColumn, err)
			}
		default:
			// key mappings are entirely script-resolved; a slot the
			// script never wrote stays null
			value = scriptRow[m.Key]
		}

		if cells[i], err = RenderCell(value); err != nil {
			return nil, fmt.Errorf("rendering column %q: %w", m.FileColumn, err)
		}
	}
	return cells, nil
}

// columnIndex resolves the profile's columns against a CSV header. Headers
// not claimed by any mapping are ignored with a warning by the caller; a
// mapped column missing from the file is fatal.
func columnIndex(prof *profile.Profile, header []string) (map[string]int, []string, error) {
	position := make(map[string]int, len(header))
	for i, name := range header {
		position[name] = i
	}

	index := make(map[string]int, len(prof.Mappings))
	for _, m := range prof.Mappings {
		pos, ok := position[m.FileColumn]
		if !ok {
			return nil, nil, fmt.Errorf("column %q required by the profile is missing from the file header", m.FileColumn)
		}
		index[m.FileColumn] = pos
		delete(position, m.FileColumn)
	}

	unknown := make([]string, 0, len(position))
	for name := range position {
		unknown = append(unknown, name)
	}
	return index, unknown, nil
}

// DeserializeRow turns one CSV row into an entity tree. Cells are typed
// per mapping, the deserialize script sees all of them (path mappings
// under their file column name, key mappings under their key), and the
// engine injects path-mapping values afterwards: a path write wins over a
// script write at the same leaf.
func DeserializeRow(runner *script.Runner, prof *profile.Profile, index map[string]int, cells []string) (entity.Entity, error) {
	row := make(map[string]any, len(prof.Mappings))
	for _, m := range prof.Mappings {
		pos := index[m.FileColumn]
		if pos >= len(cells) {
			return nil, fmt.Errorf("%w: row has no cell for column %q", ErrRow, m.FileColumn)
		}
		value, err := ParseCell(cells[pos], m.ColumnType)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", m.FileColumn, err)
		}

		slot := m.FileColumn
		if !m.IsPath() {
			slot = m.Key
		}
		row[slot] = value
	}

	record, err := runner.RunDeserialize(row)
	if err != nil {
		return nil, err
	}

	for _, m := range prof.Mappings {
		if m.IsPath() {
			entity.SetPath(record, m.EntityPath, row[m.FileColumn])
		}
	}
	return record, nil
}
