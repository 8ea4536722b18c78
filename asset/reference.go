package asset

import (
	"fmt"
	"path"
	"strings"
)

// Category selects the subdirectory a reference is resolved in.
type Category int

const (
	AudioFiles Category = iota
	Impulses
	Samples
)

// String implements fmt.Stringer.
func (c Category) String() string {
	switch c {
	case AudioFiles:
		return "AudioFiles"
	case Impulses:
		return "Impulses"
	case Samples:
		return "Samples"
	default:
		return fmt.Sprintf("Category(%d)", int(c))
	}
}

// Dir returns the category's subdirectory name below a pool root.
func (c Category) Dir() string {
	return c.String()
}

// Reference identifies one resource: a slash-separated identifier relative
// to the category directory.
type Reference struct {
	ID       string
	Category Category
}

// NewReference builds a reference with a cleaned identifier. Backslashes
// are treated as separators.
func NewReference(id string, c Category) Reference {
	id = strings.ReplaceAll(strings.TrimSpace(id), `\`, "/")
	if id != "" {
		id = strings.TrimPrefix(path.Clean(id), "/")
	}
	return Reference{ID: id, Category: c}
}

// String implements fmt.Stringer.
func (r Reference) String() string {
	return r.Category.String() + ":" + r.ID
}
