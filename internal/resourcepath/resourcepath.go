// Package resourcepath implements the resource-path metadata convention:
// a pure, deterministic mapping from a filename to its resource name, type,
// and properties. It performs no I/O.
package resourcepath

import (
	"path/filepath"
	"strings"
)

// Metadata is the parsed form of a resource filename: name.prop1.prop2.ext.
type Metadata struct {
	ResourceName string
	ResourceType string
	Properties   []string
}

// Parse derives resource metadata from a filename. Only the basename is
// consulted; any directory component is ignored. Splitting is based on the
// first and last dot positions in the basename:
//
//   - "model.ios.mesh"  -> name="model", type="mesh", properties=["ios"]
//   - "model.mesh"      -> name="model", type="mesh", properties=[""]
//   - "model"           -> name="model", type="",     properties=[""]
func Parse(path string) Metadata {
	base := filepath.Base(path)

	first := strings.IndexByte(base, '.')
	if first < 0 {
		return Metadata{ResourceName: base, ResourceType: "", Properties: []string{""}}
	}

	last := strings.LastIndexByte(base, '.')

	name := base[:first]
	resourceType := base[last+1:]

	if first == last {
		// Exactly one dot: no properties segment.
		return Metadata{ResourceName: name, ResourceType: resourceType, Properties: []string{""}}
	}

	middle := base[first+1 : last]
	properties := strings.Split(middle, ".")

	return Metadata{ResourceName: name, ResourceType: resourceType, Properties: properties}
}

// HasProperty reports whether any property equals the given platform name.
func (m Metadata) HasProperty(name string) bool {
	for _, p := range m.Properties {
		if p == name {
			return true
		}
	}
	return false
}

// Platform returns the first property matching one of the declared platform
// names, or "generic" if none match.
func (m Metadata) Platform(declaredPlatforms []string) string {
	for _, p := range m.Properties {
		for _, declared := range declaredPlatforms {
			if p == declared {
				return declared
			}
		}
	}
	return "generic"
}
