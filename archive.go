package asice

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
)

// ParseArchive decodes a container from a random-access zip archive.
// Metadata entries (mimetype, manifest, signatures, nested containers) are
// extracted immediately; plain data-file bytes stay in the archive until
// Content is called, so ra must remain readable for as long as deferred
// data files are unread. WithEagerContent(true) extracts everything up
// front instead.
//
// For the same archive bytes, ParseArchive and ParseStream produce
// structurally identical Containers.
func ParseArchive(ra io.ReaderAt, size int64, opts ...ReadOption) (*Container, error) {
	cfg := newReadConfig(opts)
	zr, err := zip.NewReader(ra, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRead, err)
	}
	zr.RegisterDecompressor(zstd.ZipMethodWinZip, zstd.ZipDecompressor())
	asm := newAssembler(cfg)
	for _, zf := range zr.File {
		zf := zf
		e := sourceEntry{
			name:      zf.Name,
			size:      zf.UncompressedSize64,
			read:      func(max uint64) ([]byte, error) { return readZipEntry(zf, max) },
			deferable: true,
		}
		if err := asm.accept(e); err != nil {
			return nil, err
		}
	}
	return asm.finish()
}

// ParseBytes decodes a container held fully in memory.
func ParseBytes(b []byte, opts ...ReadOption) (*Container, error) {
	return ParseArchive(bytes.NewReader(b), int64(len(b)), opts...)
}

// ParseFile reads the container at path into memory and decodes it.
func ParseFile(path string, opts ...ReadOption) (*Container, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRead, err)
	}
	return ParseBytes(b, opts...)
}

// readZipEntry extracts one entry, holding it to max bytes and checking
// the bytes actually stored against the declared size. The zip reader
// verifies the CRC as the entry drains.
func readZipEntry(zf *zip.File, max uint64) ([]byte, error) {
	if zf.UncompressedSize64 > max {
		return nil, fmt.Errorf("%w: entry %q declares %d bytes", ErrLimitExceeded, zf.Name, zf.UncompressedSize64)
	}
	rc, err := zf.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: open %q: %v", ErrRead, zf.Name, err)
	}
	defer rc.Close()
	b, err := io.ReadAll(io.LimitReader(rc, int64(clampToInt64(zf.UncompressedSize64))+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read %q: %v", ErrRead, zf.Name, err)
	}
	if uint64(len(b)) != zf.UncompressedSize64 {
		return nil, fmt.Errorf("%w: entry %q size %d != declared %d",
			ErrRead, zf.Name, len(b), zf.UncompressedSize64)
	}
	return b, nil
}
