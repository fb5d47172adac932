package notebook

import (
	"encoding/json"
	"fmt"
)

// Validate checks that content has the structure of a notebook document.
// Used on template upload so broken documents are rejected at the door
// rather than at execution time.
func Validate(content []byte) error {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(content, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedNotebook, err)
	}
	for _, field := range []string{"cells", "metadata"} {
		if _, ok := doc[field]; !ok {
			return fmt.Errorf("%w: missing %s", ErrMalformedNotebook, field)
		}
	}
	return nil
}
