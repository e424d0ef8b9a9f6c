package asice

// Configuration is the read-only settings provider the signature-validation
// layer consults (OCSP responder address, CA certificates, trust-list
// location, algorithm implementations). Parsing never dereferences it; it
// is accepted via WithConfiguration and carried on the Container so
// downstream stages receive it alongside the parsed entries.
type Configuration interface {
	OcspSource() string
	TspSource() string
	TslLocation() string
	CACertPaths() []string
	ValidationPolicy() string
}
