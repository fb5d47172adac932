// Package notebook parses .ipynb documents and binds runtime parameters into
// a template's designated parameters cell.
package notebook

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrMalformedNotebook means the document is not a parseable notebook.
	ErrMalformedNotebook = errors.New("malformed notebook")

	// ErrAmbiguousParameterCell means the template does not contain exactly
	// one cell tagged "parameters".
	ErrAmbiguousParameterCell = errors.New("template must contain exactly one parameters cell")
)

// parametersTag marks the injection point, matching the papermill convention.
const parametersTag = "parameters"

// injectedMarker is the single delimited line prepended to injected source.
const injectedMarker = "# Parameters"

// cellProbe is the minimal view needed to locate the parameters cell. The
// full cell JSON is kept raw so untouched cells pass through with their
// content and order intact.
type cellProbe struct {
	CellType string `json:"cell_type"`
	Metadata struct {
		Tags []string `json:"tags"`
	} `json:"metadata"`
}

// Inject returns a copy of the template with the parameters cell's source
// replaced by literal assignments for each entry in params. All other cells
// are preserved unchanged and in order. The input is never mutated, and the
// output is deterministic for identical inputs.
func Inject(template []byte, params map[string]any) ([]byte, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(template, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedNotebook, err)
	}
	rawCells, ok := doc["cells"]
	if !ok {
		return nil, fmt.Errorf("%w: missing cells", ErrMalformedNotebook)
	}

	var cells []json.RawMessage
	if err := json.Unmarshal(rawCells, &cells); err != nil {
		return nil, fmt.Errorf("%w: cells: %v", ErrMalformedNotebook, err)
	}

	target := -1
	for i, raw := range cells {
		var probe cellProbe
		if err := json.Unmarshal(raw, &probe); err != nil {
			return nil, fmt.Errorf("%w: cell %d: %v", ErrMalformedNotebook, i, err)
		}
		if !hasTag(probe.Metadata.Tags, parametersTag) {
			continue
		}
		if target >= 0 {
			return nil, fmt.Errorf("%w: found more than one", ErrAmbiguousParameterCell)
		}
		target = i
	}
	if target < 0 {
		return nil, fmt.Errorf("%w: found none", ErrAmbiguousParameterCell)
	}

	replaced, err := rewriteParameterCell(cells[target], params)
	if err != nil {
		return nil, err
	}
	cells[target] = replaced

	newCells, err := json.Marshal(cells)
	if err != nil {
		return nil, fmt.Errorf("encode cells: %w", err)
	}
	doc["cells"] = newCells

	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode notebook: %w", err)
	}
	return out, nil
}

func hasTag(tags []string, want string) bool {
	for _, t := range tags {
		if t == want {
			return true
		}
	}
	return false
}

// rewriteParameterCell swaps the cell's source for the rendered assignments
// and resets any stale execution output.
func rewriteParameterCell(raw json.RawMessage, params map[string]any) (json.RawMessage, error) {
	var cell map[string]json.RawMessage
	if err := json.Unmarshal(raw, &cell); err != nil {
		return nil, fmt.Errorf("%w: parameters cell: %v", ErrMalformedNotebook, err)
	}

	source, err := json.Marshal(renderSource(params))
	if err != nil {
		return nil, fmt.Errorf("encode source: %w", err)
	}
	cell["source"] = source
	if _, ok := cell["outputs"]; ok {
		cell["outputs"] = json.RawMessage("[]")
	}
	if _, ok := cell["execution_count"]; ok {
		cell["execution_count"] = json.RawMessage("null")
	}
	return json.Marshal(cell)
}

// renderSource produces the injected cell's source lines: a marker comment
// followed by one assignment per parameter, sorted by name.
func renderSource(params map[string]any) []string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	lines := []string{injectedMarker + "\n"}
	for i, name := range names {
		line := name + " = " + renderValue(params[name])
		if i < len(names)-1 {
			line += "\n"
		}
		lines = append(lines, line)
	}
	return lines
}

// renderValue renders a JSON-representable value as a Python literal.
func renderValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "None"
	case bool:
		if val {
			return "True"
		}
		return "False"
	case []any:
		parts := make([]string, len(val))
		for i, item := range val {
			parts[i] = renderValue(item)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = renderValue(k) + ": " + renderValue(val[k])
		}
		return "{" + strings.Join(parts, ", ") + "}"
	default:
		// Strings and numbers share JSON and Python literal syntax.
		b, err := json.Marshal(val)
		if err != nil {
			return "None"
		}
		return string(b)
	}
}
