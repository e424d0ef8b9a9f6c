package asice

import "regexp"

const (
	// MimetypeEntryName is the reserved entry whose content names the
	// container's overall format.
	MimetypeEntryName = "mimetype"

	// ManifestEntryName is the fixed path of the manifest entry.
	ManifestEntryName = "META-INF/manifest.xml"

	// DefaultMediaType is applied to data files the manifest does not
	// mention.
	DefaultMediaType = "application/octet-stream"

	metaInfPrefix = "META-INF/"
)

// Entry-name conventions under META-INF/. Signature entries follow the
// "*signatures*.xml" naming used by BDOC/ASiC-E producers; nested
// containers are archived timestamp tokens.
var (
	signatureEntryPattern = regexp.MustCompile(`^META-INF/(.*)signatures(.*)\.xml$`)
	nestedEntryPattern    = regexp.MustCompile(`^META-INF/(.*)\.(tst|asics)$`)
)

// Manifest maps a data-file path to its declared media type. Keys are
// unique; a path absent from the manifest receives [DefaultMediaType].
type Manifest map[string]string

// DataFile is one user-visible file carried by the container.
//
// MediaType is set during assembly from the manifest binding for Name, or
// to [DefaultMediaType] when the manifest omits the file. Later validation
// stages may overwrite it.
type DataFile struct {
	Name      string
	MediaType string
	Size      uint64

	content []byte
	open    func() ([]byte, error)
}

// Content returns the file's bytes. Stream-parsed containers hold the
// bytes already; ParseArchive defers extraction until the first call and
// caches the result, so the archive's underlying reader must stay open
// until every deferred data file has been read.
func (d *DataFile) Content() ([]byte, error) {
	if d.open != nil {
		b, err := d.open()
		if err != nil {
			return nil, err
		}
		d.content = b
		d.open = nil
	}
	return d.content, nil
}

// SignatureEntry is one XML digital-signature entry, opaque to this
// package and handed unmodified to the signature verifier.
type SignatureEntry struct {
	Name string
	XML  []byte
}

// NestedContainer is a container-within-container entry (an archived
// timestamp token). Only identified and extracted here; the consumer
// re-parses it if needed.
type NestedContainer struct {
	Name string
	Data []byte
}

// Container is the assembled result of parsing one archive.
//
// DataFiles, Signatures and Nested preserve archive order. Manifest is nil
// when the archive carries no manifest entry. Config is the opaque
// settings reference handed through to the validation layer; parsing never
// reads it.
type Container struct {
	Mimetype   string
	DataFiles  []*DataFile
	Signatures []SignatureEntry
	Nested     []NestedContainer
	Manifest   Manifest
	Config     Configuration
}

// DataFile returns the data file with the given name, or nil.
func (c *Container) DataFile(name string) *DataFile {
	for _, df := range c.DataFiles {
		if df.Name == name {
			return df
		}
	}
	return nil
}
