// Package asice decodes ASiC-E/BDOC signed-document containers.
//
// An ASiC-E container is a zip archive bundling one or more data files, one
// or more XML digital-signature entries under META-INF/, a manifest mapping
// file names to media types, and an optional "mimetype" marker entry naming
// the container's overall format.
//
// # Parsing
//
// Two drivers decode the same model. ParseStream walks a forward-only zip
// stream and extracts every entry eagerly, since the transport cannot be
// rewound:
//
//	f, _ := os.Open("document.asice")
//	c, err := asice.ParseStream(f)
//
// ParseArchive (and the ParseFile/ParseBytes conveniences) uses the zip
// central directory, extracts metadata entries up front and defers
// data-file bytes until Content is called:
//
//	c, err := asice.ParseFile("document.asice")
//	for _, df := range c.DataFiles {
//		b, err := df.Content()
//		...
//	}
//
// Both drivers produce structurally identical Containers for the same
// archive bytes. Parsing is all-or-nothing: on any fatal error no partial
// Container is returned.
//
// # Scope
//
// This package only decomposes the archive. Cryptographic verification of
// the signature entries, certificate and OCSP/trust-list checks, and
// container creation are the concern of downstream layers, which receive
// the raw signature XML and data-file bytes unmodified.
//
// # Security Considerations
//
// Containers are untrusted input. Configurable [Limits] cap the entry
// count, per-entry and total uncompressed sizes, and the manifest and
// mimetype entries, so hostile archives cannot exhaust memory through
// decompression bombs. Every extracted entry is checked against its
// declared size and CRC.
package asice
