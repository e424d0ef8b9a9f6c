package asice

import (
	"bytes"
	"errors"
	"hash/crc32"
	"reflect"
	"testing"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
)

const asiceMimetype = "application/vnd.etsi.asic-e+zip"

const sampleManifest = `<?xml version="1.0" encoding="utf-8"?>
<manifest:manifest xmlns:manifest="urn:oasis:names:tc:opendocument:xmlns:manifest:1.0">
  <manifest:file-entry manifest:full-path="/" manifest:media-type="application/vnd.etsi.asic-e+zip"/>
  <manifest:file-entry manifest:full-path="doc.txt" manifest:media-type="text/plain"/>
</manifest:manifest>`

type fixtureEntry struct {
	name   string
	data   []byte
	method uint16
}

// The manifest deliberately sits after the data files so resolution cannot
// happen inline during the walk.
func sampleEntries() []fixtureEntry {
	return []fixtureEntry{
		{name: "mimetype", data: []byte(asiceMimetype), method: zip.Store},
		{name: "doc.txt", data: []byte("hello signed world\n"), method: zip.Deflate},
		{name: "extra.bin", data: []byte{0xde, 0xad, 0xbe, 0xef}, method: zip.Deflate},
		{name: "META-INF/manifest.xml", data: []byte(sampleManifest), method: zip.Deflate},
		{name: "META-INF/signatures0.xml", data: []byte("<asic:XAdESSignatures/>"), method: zip.Deflate},
		{name: "META-INF/timestamp.tst", data: []byte{0x30, 0x82, 0x01, 0x00}, method: zip.Store},
		{name: "META-INF/container-info.xml", data: []byte("<info/>"), method: zip.Deflate},
	}
}

func deflateBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	fw, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := fw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func zstdBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatal(err)
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil)
}

// buildArchive writes a zip with explicit sizes in every local header (no
// data descriptors), the layout of writers that know sizes up front.
func buildArchive(t *testing.T, entries []fixtureEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		raw := e.data
		switch e.method {
		case zip.Deflate:
			raw = deflateBytes(t, e.data)
		case methodZstd:
			raw = zstdBytes(t, e.data)
		}
		fh := &zip.FileHeader{
			Name:               e.name,
			Method:             e.method,
			CRC32:              crc32.ChecksumIEEE(e.data),
			CompressedSize64:   uint64(len(raw)),
			UncompressedSize64: uint64(len(e.data)),
		}
		w, err := zw.CreateRaw(fh)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write(raw); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// buildStreamedArchive uses the zip writer's native layout: deflate
// everywhere, sizes carried in trailing data descriptors.
func buildStreamedArchive(t *testing.T, entries []fixtureEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.Create(e.name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write(e.data); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func checkSampleContainer(t *testing.T, c *Container) {
	t.Helper()
	if c.Mimetype != asiceMimetype {
		t.Fatalf("mimetype %q", c.Mimetype)
	}
	if len(c.DataFiles) != 2 {
		t.Fatalf("expected 2 data files, got %d", len(c.DataFiles))
	}
	doc := c.DataFiles[0]
	if doc.Name != "doc.txt" || doc.MediaType != "text/plain" {
		t.Fatalf("doc.txt: %q %q", doc.Name, doc.MediaType)
	}
	b, err := doc.Content()
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "hello signed world\n" {
		t.Fatalf("doc.txt content %q", b)
	}
	extra := c.DataFiles[1]
	if extra.Name != "extra.bin" || extra.MediaType != DefaultMediaType {
		t.Fatalf("extra.bin: %q %q", extra.Name, extra.MediaType)
	}
	if len(c.Signatures) != 1 || c.Signatures[0].Name != "META-INF/signatures0.xml" {
		t.Fatalf("signatures: %+v", c.Signatures)
	}
	if string(c.Signatures[0].XML) != "<asic:XAdESSignatures/>" {
		t.Fatalf("signature xml %q", c.Signatures[0].XML)
	}
	if len(c.Nested) != 1 || c.Nested[0].Name != "META-INF/timestamp.tst" {
		t.Fatalf("nested: %+v", c.Nested)
	}
	if c.Manifest["doc.txt"] != "text/plain" {
		t.Fatalf("manifest: %+v", c.Manifest)
	}
	// Unrecognized META-INF bookkeeping must not leak into data files.
	if c.DataFile("META-INF/container-info.xml") != nil {
		t.Fatal("metadata entry surfaced as data file")
	}
}

func assertContainersEqual(t *testing.T, a, b *Container) {
	t.Helper()
	if a.Mimetype != b.Mimetype {
		t.Fatalf("mimetype %q vs %q", a.Mimetype, b.Mimetype)
	}
	if len(a.DataFiles) != len(b.DataFiles) {
		t.Fatalf("data file count %d vs %d", len(a.DataFiles), len(b.DataFiles))
	}
	for i := range a.DataFiles {
		x, y := a.DataFiles[i], b.DataFiles[i]
		if x.Name != y.Name || x.MediaType != y.MediaType {
			t.Fatalf("data file %d: %q/%q vs %q/%q", i, x.Name, x.MediaType, y.Name, y.MediaType)
		}
		xb, err := x.Content()
		if err != nil {
			t.Fatal(err)
		}
		yb, err := y.Content()
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(xb, yb) {
			t.Fatalf("data file %q content differs", x.Name)
		}
	}
	if !reflect.DeepEqual(a.Signatures, b.Signatures) {
		t.Fatalf("signatures differ: %+v vs %+v", a.Signatures, b.Signatures)
	}
	if !reflect.DeepEqual(a.Nested, b.Nested) {
		t.Fatalf("nested containers differ: %+v vs %+v", a.Nested, b.Nested)
	}
	if !reflect.DeepEqual(a.Manifest, b.Manifest) {
		t.Fatalf("manifests differ: %+v vs %+v", a.Manifest, b.Manifest)
	}
}

func TestParseStream_Sample(t *testing.T) {
	b := buildArchive(t, sampleEntries())
	c, err := ParseStream(bytes.NewReader(b))
	if err != nil {
		t.Fatal(err)
	}
	checkSampleContainer(t, c)
}

func TestParseBytes_Sample(t *testing.T) {
	b := buildArchive(t, sampleEntries())
	c, err := ParseBytes(b)
	if err != nil {
		t.Fatal(err)
	}
	checkSampleContainer(t, c)
}

func TestDriverEquivalence(t *testing.T) {
	layouts := map[string][]byte{
		"sized":    buildArchive(t, sampleEntries()),
		"streamed": buildStreamedArchive(t, sampleEntries()),
	}
	for name, b := range layouts {
		t.Run(name, func(t *testing.T) {
			fromStream, err := ParseStream(bytes.NewReader(b))
			if err != nil {
				t.Fatalf("ParseStream: %v", err)
			}
			fromArchive, err := ParseBytes(b)
			if err != nil {
				t.Fatalf("ParseBytes: %v", err)
			}
			assertContainersEqual(t, fromStream, fromArchive)
		})
	}
}

func TestParseIdempotent(t *testing.T) {
	b := buildArchive(t, sampleEntries())
	c1, err := ParseStream(bytes.NewReader(b))
	if err != nil {
		t.Fatal(err)
	}
	c2, err := ParseStream(bytes.NewReader(b))
	if err != nil {
		t.Fatal(err)
	}
	assertContainersEqual(t, c1, c2)
}

func TestMimetypeFirstWins(t *testing.T) {
	entries := []fixtureEntry{
		{name: "mimetype", data: []byte("first/type"), method: zip.Store},
		{name: "mimetype", data: []byte("second/type"), method: zip.Store},
	}
	b := buildArchive(t, entries)
	fromStream, err := ParseStream(bytes.NewReader(b))
	if err != nil {
		t.Fatal(err)
	}
	if fromStream.Mimetype != "first/type" {
		t.Fatalf("stream mimetype %q", fromStream.Mimetype)
	}
	fromArchive, err := ParseBytes(b)
	if err != nil {
		t.Fatal(err)
	}
	if fromArchive.Mimetype != "first/type" {
		t.Fatalf("archive mimetype %q", fromArchive.Mimetype)
	}
}

func TestEmptyContainer(t *testing.T) {
	b := buildArchive(t, []fixtureEntry{
		{name: "mimetype", data: []byte(asiceMimetype), method: zip.Store},
	})
	for name, parse := range map[string]func() (*Container, error){
		"stream":  func() (*Container, error) { return ParseStream(bytes.NewReader(b)) },
		"archive": func() (*Container, error) { return ParseBytes(b) },
	} {
		c, err := parse()
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if c.Mimetype != asiceMimetype {
			t.Fatalf("%s: mimetype %q", name, c.Mimetype)
		}
		if len(c.DataFiles) != 0 || len(c.Signatures) != 0 || len(c.Nested) != 0 {
			t.Fatalf("%s: expected empty collections", name)
		}
	}
}

func TestNoManifestDefaults(t *testing.T) {
	b := buildArchive(t, []fixtureEntry{
		{name: "doc.txt", data: []byte("x"), method: zip.Deflate},
	})
	c, err := ParseStream(bytes.NewReader(b))
	if err != nil {
		t.Fatal(err)
	}
	if c.Manifest != nil {
		t.Fatalf("expected nil manifest, got %+v", c.Manifest)
	}
	if c.DataFiles[0].MediaType != DefaultMediaType {
		t.Fatalf("media type %q", c.DataFiles[0].MediaType)
	}
}

type closeRecorder struct {
	*bytes.Reader
	closed bool
}

func (c *closeRecorder) Close() error {
	c.closed = true
	return nil
}

func TestParseStream_ClosesReader(t *testing.T) {
	b := buildArchive(t, sampleEntries())

	ok := &closeRecorder{Reader: bytes.NewReader(b)}
	if _, err := ParseStream(ok); err != nil {
		t.Fatal(err)
	}
	if !ok.closed {
		t.Fatal("reader not closed on success")
	}

	bad := &closeRecorder{Reader: bytes.NewReader(b[:50])}
	if _, err := ParseStream(bad); err == nil {
		t.Fatal("expected error")
	}
	if !bad.closed {
		t.Fatal("reader not closed on error")
	}
}

func TestLazyContent(t *testing.T) {
	b := buildArchive(t, sampleEntries())
	c, err := ParseBytes(b)
	if err != nil {
		t.Fatal(err)
	}
	df := c.DataFile("doc.txt")
	if df.open == nil {
		t.Fatal("expected deferred content")
	}
	got, err := df.Content()
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello signed world\n" {
		t.Fatalf("content %q", got)
	}
	if df.open != nil {
		t.Fatal("accessor not released after first fetch")
	}

	eager, err := ParseBytes(b, WithEagerContent(true))
	if err != nil {
		t.Fatal(err)
	}
	if eager.DataFile("doc.txt").open != nil {
		t.Fatal("expected eager content")
	}
}

func TestZstdEntry(t *testing.T) {
	entries := []fixtureEntry{
		{name: "big.bin", data: bytes.Repeat([]byte("asic"), 256), method: methodZstd},
	}
	b := buildArchive(t, entries)
	fromStream, err := ParseStream(bytes.NewReader(b))
	if err != nil {
		t.Fatalf("ParseStream: %v", err)
	}
	fromArchive, err := ParseBytes(b)
	if err != nil {
		t.Fatalf("ParseBytes: %v", err)
	}
	assertContainersEqual(t, fromStream, fromArchive)
	got, err := fromStream.DataFile("big.bin").Content()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, bytes.Repeat([]byte("asic"), 256)) {
		t.Fatal("zstd content mismatch")
	}
}

type fakeConfig struct{}

func (fakeConfig) OcspSource() string       { return "http://ocsp.example.test" }
func (fakeConfig) TspSource() string        { return "http://tsp.example.test" }
func (fakeConfig) TslLocation() string      { return "http://tsl.example.test" }
func (fakeConfig) CACertPaths() []string    { return nil }
func (fakeConfig) ValidationPolicy() string { return "conf/policy.xml" }

func TestConfigurationCarried(t *testing.T) {
	b := buildArchive(t, sampleEntries())
	cfg := fakeConfig{}
	c, err := ParseBytes(b, WithConfiguration(cfg))
	if err != nil {
		t.Fatal(err)
	}
	if c.Config != Configuration(cfg) {
		t.Fatal("configuration reference not carried")
	}
}

func TestDuplicateDataFileRejected(t *testing.T) {
	entries := []fixtureEntry{
		{name: "doc.txt", data: []byte("one"), method: zip.Deflate},
		{name: "doc.txt", data: []byte("two"), method: zip.Deflate},
	}
	b := buildArchive(t, entries)
	if _, err := ParseStream(bytes.NewReader(b)); !errors.Is(err, ErrDuplicateEntry) {
		t.Fatalf("stream: expected ErrDuplicateEntry, got %v", err)
	}
	if _, err := ParseBytes(b); !errors.Is(err, ErrDuplicateEntry) {
		t.Fatalf("archive: expected ErrDuplicateEntry, got %v", err)
	}
}
