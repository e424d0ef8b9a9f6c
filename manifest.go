package asice

import (
	"encoding/xml"
	"fmt"
)

// OASIS ODF manifest shape. Attribute names match by local name, so the
// manifest: namespace prefix needs no special handling.
type manifestXML struct {
	Entries []manifestFileEntry `xml:"file-entry"`
}

type manifestFileEntry struct {
	FullPath  string `xml:"full-path,attr"`
	MediaType string `xml:"media-type,attr"`
}

// parseManifest decodes the manifest entry into a path to media-type map.
// A present manifest must be fully well-formed: XML errors, file-entries
// without the required attributes and duplicate paths all abort the parse.
func parseManifest(raw []byte) (Manifest, error) {
	var doc manifestXML
	if err := xml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrManifestFormat, err)
	}
	m := make(Manifest, len(doc.Entries))
	for _, e := range doc.Entries {
		if e.FullPath == "" {
			return nil, fmt.Errorf("%w: file-entry missing full-path", ErrManifestFormat)
		}
		if e.FullPath == "/" {
			// Root entry declaring the container-level media type.
			continue
		}
		if e.MediaType == "" {
			return nil, fmt.Errorf("%w: file-entry %q missing media-type", ErrManifestFormat, e.FullPath)
		}
		if _, ok := m[e.FullPath]; ok {
			return nil, fmt.Errorf("%w: duplicate file-entry %q", ErrManifestFormat, e.FullPath)
		}
		m[e.FullPath] = e.MediaType
	}
	return m, nil
}
