package model

import (
	"cmp"
	"fmt"
	"strings"

	"github.com/package-url/packageurl-go"
	"gopkg.in/yaml.v3"
)

// Identifier names a package or project by its four coordinates.
type Identifier struct {
	Type      string
	Namespace string
	Name      string
	Version   string
}

// ParseIdentifier parses the "type:namespace:name:version" coordinates form.
// Missing trailing fields are left empty; the version keeps any further colons.
func ParseIdentifier(s string) Identifier {
	parts := strings.SplitN(s, ":", 4)
	for len(parts) < 4 {
		parts = append(parts, "")
	}
	return Identifier{
		Type:      parts[0],
		Namespace: parts[1],
		Name:      parts[2],
		Version:   parts[3],
	}
}

// String returns the coordinates string used as the primary cache key.
func (id Identifier) String() string {
	return id.Type + ":" + id.Namespace + ":" + id.Name + ":" + id.Version
}

// IsZero reports whether all four fields are empty.
func (id Identifier) IsZero() bool {
	return id == Identifier{}
}

// Compare orders identifiers lexicographically by type, namespace, name and version.
func (id Identifier) Compare(other Identifier) int {
	if c := cmp.Compare(id.Type, other.Type); c != 0 {
		return c
	}
	if c := cmp.Compare(id.Namespace, other.Namespace); c != 0 {
		return c
	}
	if c := cmp.Compare(id.Name, other.Name); c != 0 {
		return c
	}
	return cmp.Compare(id.Version, other.Version)
}

// PURL renders the identifier as a package URL. The type is lower-cased since
// analyzer identifiers use display names such as "Maven" or "NPM".
func (id Identifier) PURL() string {
	return packageurl.NewPackageURL(
		strings.ToLower(id.Type), id.Namespace, id.Name, id.Version, nil, "",
	).ToString()
}

func (id Identifier) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *Identifier) UnmarshalText(text []byte) error {
	*id = ParseIdentifier(string(text))
	return nil
}

func (id Identifier) MarshalYAML() (any, error) {
	return id.String(), nil
}

func (id *Identifier) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("identifier: expected scalar, got yaml kind %d", node.Kind)
	}
	*id = ParseIdentifier(node.Value)
	return nil
}
