package asice

import "strings"

type entryRole int

const (
	roleDataFile entryRole = iota
	roleMimetype
	roleManifest
	roleSignature
	roleNested
	roleIgnored
)

// classifyEntry maps an archive entry name to its structural role.
// Matching is case-sensitive and first-match-wins. Directory entries and
// unrecognized META-INF/ bookkeeping are ignored rather than surfaced as
// data files.
func classifyEntry(name string) entryRole {
	if name == "" || strings.HasSuffix(name, "/") {
		return roleIgnored
	}
	if name == MimetypeEntryName {
		return roleMimetype
	}
	if name == ManifestEntryName {
		return roleManifest
	}
	if signatureEntryPattern.MatchString(name) {
		return roleSignature
	}
	if nestedEntryPattern.MatchString(name) {
		return roleNested
	}
	if strings.HasPrefix(name, metaInfPrefix) {
		return roleIgnored
	}
	return roleDataFile
}
