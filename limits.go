package asice

type Limits struct {
	MaxEntries           int    // total archive entries, including ignored ones
	MaxEntryUncompressed uint64 // per-entry bytes after decompression
	MaxTotalUncompressed uint64 // sum over all extracted or deferred entries
	MaxManifestLen       uint64 // manifest entry bytes
	MaxMimetypeLen       uint64 // mimetype entry bytes
}

func defaultLimits() Limits {
	return Limits{
		MaxEntries:           10_000,
		MaxEntryUncompressed: 1 << 30, // 1 GiB
		MaxTotalUncompressed: 2 << 30, // 2 GiB
		MaxManifestLen:       1 << 20, // 1 MiB
		MaxMimetypeLen:       1 << 10, // 1 KiB
	}
}

func (l Limits) withDefaults() Limits {
	d := defaultLimits()
	if l.MaxEntries == 0 {
		l.MaxEntries = d.MaxEntries
	}
	if l.MaxEntryUncompressed == 0 {
		l.MaxEntryUncompressed = d.MaxEntryUncompressed
	}
	if l.MaxTotalUncompressed == 0 {
		l.MaxTotalUncompressed = d.MaxTotalUncompressed
	}
	if l.MaxManifestLen == 0 {
		l.MaxManifestLen = d.MaxManifestLen
	}
	if l.MaxMimetypeLen == 0 {
		l.MaxMimetypeLen = d.MaxMimetypeLen
	}
	return l
}
