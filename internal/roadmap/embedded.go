package roadmap

import (
	_ "embed"
	"fmt"
)

//go:embed maps/default.yaml
var defaultDocument []byte

// Default builds the map bundled with the binary
func Default() (*Map, error) {
	doc, err := Parse(defaultDocument, FormatYAML)
	if err != nil {
		return nil, fmt.Errorf("default map: %w", err)
	}
	return New(doc)
}
