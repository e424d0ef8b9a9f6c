package asice

import "fmt"

// sourceEntry is one archive entry as produced by a parser driver. read
// materializes the content, failing if it exceeds max bytes. Drivers that
// can re-read the archive mark plain data files deferrable so their bytes
// stay unextracted until Content is called; the stream driver cannot, so
// everything it yields is extracted immediately.
type sourceEntry struct {
	name      string
	size      uint64 // declared uncompressed size, 0 when unknown
	read      func(max uint64) ([]byte, error)
	deferable bool
}

// assembler accumulates classified entries into the container model. Media
// types are resolved in finish rather than per entry because the manifest
// may appear anywhere in the archive relative to the data files.
type assembler struct {
	cfg readConfig

	entries     int
	total       uint64
	mimetype    string
	mimetypeSet bool
	manifestRaw []byte
	dataFiles   []*DataFile
	names       map[string]struct{}
	signatures  []SignatureEntry
	nested      []NestedContainer
}

func newAssembler(cfg readConfig) *assembler {
	return &assembler{cfg: cfg, names: make(map[string]struct{})}
}

// accept classifies one entry and routes it into the matching collection.
func (a *assembler) accept(e sourceEntry) error {
	a.entries++
	if a.entries > a.cfg.limits.MaxEntries {
		return fmt.Errorf("%w: more than %d entries", ErrLimitExceeded, a.cfg.limits.MaxEntries)
	}
	switch classifyEntry(e.name) {
	case roleIgnored:
		return nil
	case roleMimetype:
		if a.mimetypeSet {
			// Archives should carry at most one marker; the first wins.
			return nil
		}
		b, err := e.read(a.cfg.limits.MaxMimetypeLen)
		if err != nil {
			return err
		}
		a.mimetype = string(b)
		a.mimetypeSet = true
	case roleManifest:
		if a.manifestRaw != nil {
			return nil
		}
		b, err := e.read(a.cfg.limits.MaxManifestLen)
		if err != nil {
			return err
		}
		a.manifestRaw = b
	case roleSignature:
		b, err := a.readBounded(e)
		if err != nil {
			return err
		}
		a.signatures = append(a.signatures, SignatureEntry{Name: e.name, XML: b})
	case roleNested:
		b, err := a.readBounded(e)
		if err != nil {
			return err
		}
		a.nested = append(a.nested, NestedContainer{Name: e.name, Data: b})
	case roleDataFile:
		return a.acceptDataFile(e)
	}
	return nil
}

func (a *assembler) acceptDataFile(e sourceEntry) error {
	if _, ok := a.names[e.name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateEntry, e.name)
	}
	a.names[e.name] = struct{}{}
	df := &DataFile{Name: e.name, MediaType: DefaultMediaType, Size: e.size}
	if e.deferable && !a.cfg.eager {
		// Deferred entries are bounded by their declared size now and by
		// the per-entry cap again when actually extracted.
		if e.size > a.cfg.limits.MaxEntryUncompressed {
			return fmt.Errorf("%w: entry %q declares %d bytes", ErrLimitExceeded, e.name, e.size)
		}
		if err := a.addTotal(e.size); err != nil {
			return err
		}
		read, max := e.read, a.cfg.limits.MaxEntryUncompressed
		df.open = func() ([]byte, error) { return read(max) }
	} else {
		b, err := a.readBounded(e)
		if err != nil {
			return err
		}
		df.content = b
		df.Size = uint64(len(b))
	}
	a.dataFiles = append(a.dataFiles, df)
	return nil
}

func (a *assembler) readBounded(e sourceEntry) ([]byte, error) {
	b, err := e.read(a.cfg.limits.MaxEntryUncompressed)
	if err != nil {
		return nil, err
	}
	if err := a.addTotal(uint64(len(b))); err != nil {
		return nil, err
	}
	return b, nil
}

func (a *assembler) addTotal(n uint64) error {
	a.total += n
	if a.total > a.cfg.limits.MaxTotalUncompressed {
		return fmt.Errorf("%w: total uncompressed size exceeds %d",
			ErrLimitExceeded, a.cfg.limits.MaxTotalUncompressed)
	}
	return nil
}

// finish resolves media types against the manifest, exactly once, and
// returns the sealed container.
func (a *assembler) finish() (*Container, error) {
	var m Manifest
	if a.manifestRaw != nil {
		var err error
		if m, err = parseManifest(a.manifestRaw); err != nil {
			return nil, err
		}
	}
	for _, df := range a.dataFiles {
		if mt, ok := m[df.Name]; ok {
			df.MediaType = mt
		}
	}
	return &Container{
		Mimetype:   a.mimetype,
		DataFiles:  a.dataFiles,
		Signatures: a.signatures,
		Nested:     a.nested,
		Manifest:   m,
		Config:     a.cfg.config,
	}, nil
}
