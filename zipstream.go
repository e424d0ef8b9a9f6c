package asice

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zstd"
)

// Zip record signatures and the subset of the format the walker accepts.
const (
	localFileHeaderSig   = 0x04034b50
	dataDescriptorSig    = 0x08074b50
	centralDirHeaderSig  = 0x02014b50
	endOfCentralDirSig   = 0x06054b50
	zip64EndOfCentralSig = 0x06064b50
	zip64LocatorSig      = 0x07064b50
)

const (
	methodStored  = 0
	methodDeflate = 8
	methodZstd    = 93 // WinZip method id for Zstandard
)

const (
	flagEncrypted      = 0x0001
	flagDataDescriptor = 0x0008
)

const zip64SizeMarker = 0xFFFFFFFF

type localHeader struct {
	flags      uint16
	method     uint16
	crc        uint32
	compSize   uint32
	uncompSize uint32
	name       string
}

// streamWalker iterates the local-file-header records of a zip stream in
// archive order, without ever seeing the central directory. All reads go
// through one buffered reader so an entry's decompressor consumes exactly
// the bytes that belong to it.
type streamWalker struct {
	br      *bufio.Reader
	current *streamEntry
}

func newStreamWalker(r io.Reader) *streamWalker {
	return &streamWalker{br: bufio.NewReader(r)}
}

// next returns the following entry. The current entry must have been read
// or skipped first, so that the stream sits on the next record. It returns
// io.EOF once the central directory is reached.
func (w *streamWalker) next() (*streamEntry, error) {
	if w.current != nil && !w.current.consumed {
		return nil, fmt.Errorf("%w: entry %q not consumed", ErrRead, w.current.hdr.name)
	}
	w.current = nil
	var sig [4]byte
	if _, err := io.ReadFull(w.br, sig[:]); err != nil {
		return nil, fmt.Errorf("%w: truncated archive: %v", ErrRead, err)
	}
	switch binary.LittleEndian.Uint32(sig[:]) {
	case localFileHeaderSig:
	case centralDirHeaderSig, endOfCentralDirSig, zip64EndOfCentralSig, zip64LocatorSig:
		// Entry records are over; the rest is directory bookkeeping.
		return nil, io.EOF
	default:
		return nil, fmt.Errorf("%w: unexpected record signature %#08x",
			ErrRead, binary.LittleEndian.Uint32(sig[:]))
	}
	h, err := w.readLocalHeader()
	if err != nil {
		return nil, err
	}
	w.current = &streamEntry{hdr: h, w: w}
	return w.current, nil
}

func (w *streamWalker) readLocalHeader() (localHeader, error) {
	var buf [26]byte
	if _, err := io.ReadFull(w.br, buf[:]); err != nil {
		return localHeader{}, fmt.Errorf("%w: truncated local header: %v", ErrRead, err)
	}
	h := localHeader{
		flags:      binary.LittleEndian.Uint16(buf[2:4]),
		method:     binary.LittleEndian.Uint16(buf[4:6]),
		crc:        binary.LittleEndian.Uint32(buf[10:14]),
		compSize:   binary.LittleEndian.Uint32(buf[14:18]),
		uncompSize: binary.LittleEndian.Uint32(buf[18:22]),
	}
	nameLen := binary.LittleEndian.Uint16(buf[22:24])
	extraLen := binary.LittleEndian.Uint16(buf[24:26])
	name := make([]byte, nameLen)
	if _, err := io.ReadFull(w.br, name); err != nil {
		return localHeader{}, fmt.Errorf("%w: truncated entry name: %v", ErrRead, err)
	}
	h.name = string(name)
	if _, err := io.CopyN(io.Discard, w.br, int64(extraLen)); err != nil {
		return localHeader{}, fmt.Errorf("%w: truncated extra field for %q: %v", ErrRead, h.name, err)
	}
	if h.flags&flagEncrypted != 0 {
		return localHeader{}, fmt.Errorf("%w: entry %q is encrypted", ErrRead, h.name)
	}
	if h.compSize == zip64SizeMarker || h.uncompSize == zip64SizeMarker {
		return localHeader{}, fmt.Errorf("%w: entry %q uses zip64", ErrRead, h.name)
	}
	switch h.method {
	case methodStored, methodDeflate, methodZstd:
	default:
		return localHeader{}, fmt.Errorf("%w: entry %q: unsupported compression method %d",
			ErrRead, h.name, h.method)
	}
	return h, nil
}

type dataDescriptor struct {
	crc        uint32
	compSize   uint32
	uncompSize uint32
}

// readDescriptor reads a data descriptor, with or without its optional
// leading signature.
func (w *streamWalker) readDescriptor(name string) (dataDescriptor, error) {
	var buf [16]byte
	if _, err := io.ReadFull(w.br, buf[:12]); err != nil {
		return dataDescriptor{}, fmt.Errorf("%w: truncated data descriptor for %q: %v", ErrRead, name, err)
	}
	off := 0
	if binary.LittleEndian.Uint32(buf[:4]) == dataDescriptorSig {
		if _, err := io.ReadFull(w.br, buf[12:16]); err != nil {
			return dataDescriptor{}, fmt.Errorf("%w: truncated data descriptor for %q: %v", ErrRead, name, err)
		}
		off = 4
	}
	return dataDescriptor{
		crc:        binary.LittleEndian.Uint32(buf[off : off+4]),
		compSize:   binary.LittleEndian.Uint32(buf[off+4 : off+8]),
		uncompSize: binary.LittleEndian.Uint32(buf[off+8 : off+12]),
	}, nil
}

type streamEntry struct {
	hdr      localHeader
	w        *streamWalker
	consumed bool
}

func (e *streamEntry) read(max uint64) ([]byte, error) {
	b, _, err := e.extract(true, max)
	return b, err
}

// skip drains an entry the caller does not want, reporting how many
// uncompressed bytes it carried so the driver can charge them against the
// total budget.
func (e *streamEntry) skip(max uint64) (uint64, error) {
	_, n, err := e.extract(false, max)
	return n, err
}

// extract reads the entry body, verifies CRC and declared sizes, and
// leaves the stream positioned at the next record. With keep false the
// bytes are checked and discarded; max bounds the uncompressed size either
// way.
func (e *streamEntry) extract(keep bool, max uint64) ([]byte, uint64, error) {
	if e.consumed {
		return nil, 0, fmt.Errorf("%w: entry %q read twice", ErrRead, e.hdr.name)
	}
	e.consumed = true
	if e.hdr.flags&flagDataDescriptor != 0 && e.hdr.compSize == 0 && e.hdr.uncompSize == 0 {
		return e.extractStreamed(keep, max)
	}
	return e.extractSized(keep, max)
}

// extractSized handles entries whose sizes are recorded in the local
// header.
func (e *streamEntry) extractSized(keep bool, max uint64) ([]byte, uint64, error) {
	h := e.hdr
	if uint64(h.uncompSize) > max {
		return nil, 0, fmt.Errorf("%w: entry %q declares %d bytes", ErrLimitExceeded, h.name, h.uncompSize)
	}
	body := &io.LimitedReader{R: e.w.br, N: int64(h.compSize)}
	var dec io.Reader
	switch h.method {
	case methodStored:
		if h.compSize != h.uncompSize {
			return nil, 0, fmt.Errorf("%w: stored entry %q size mismatch", ErrRead, h.name)
		}
		dec = body
	case methodDeflate:
		fr := flate.NewReader(body)
		defer fr.Close()
		dec = fr
	case methodZstd:
		zr, err := zstd.NewReader(body, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, 0, fmt.Errorf("%w: entry %q: %v", ErrRead, h.name, err)
		}
		defer zr.Close()
		dec = zr.IOReadCloser()
	}
	out, n, crc, err := copyChecked(dec, uint64(h.uncompSize), keep)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: entry %q: %v", ErrRead, h.name, err)
	}
	if n != uint64(h.uncompSize) {
		return nil, 0, fmt.Errorf("%w: entry %q size %d != declared %d", ErrRead, h.name, n, h.uncompSize)
	}
	// The decompressor may not have touched trailing compressed bytes;
	// consume them so the stream lands on the next record.
	if _, err := io.Copy(io.Discard, body); err != nil {
		return nil, 0, fmt.Errorf("%w: entry %q: %v", ErrRead, h.name, err)
	}
	if crc != h.crc {
		return nil, 0, fmt.Errorf("%w: entry %q CRC mismatch", ErrRead, h.name)
	}
	if h.flags&flagDataDescriptor != 0 {
		desc, err := e.w.readDescriptor(h.name)
		if err != nil {
			return nil, 0, err
		}
		if desc.crc != h.crc || desc.compSize != h.compSize || desc.uncompSize != h.uncompSize {
			return nil, 0, fmt.Errorf("%w: entry %q data descriptor mismatch", ErrRead, h.name)
		}
	}
	return out, n, nil
}

// extractStreamed handles entries whose sizes arrive only in the trailing
// data descriptor, the layout produced by writers that cannot seek.
func (e *streamEntry) extractStreamed(keep bool, max uint64) ([]byte, uint64, error) {
	h := e.hdr
	switch h.method {
	case methodDeflate:
	case methodZstd:
		return e.extractStreamedZstd(keep, max)
	case methodStored:
		// An empty stored entry is the only stored shape a forward-only
		// reader can delimit without sizes; the descriptor must confirm it.
		desc, err := e.w.readDescriptor(h.name)
		if err != nil {
			return nil, 0, err
		}
		if desc.crc != 0 || desc.compSize != 0 || desc.uncompSize != 0 {
			return nil, 0, fmt.Errorf("%w: stored entry %q has unknown size in stream", ErrRead, h.name)
		}
		if keep {
			return []byte{}, 0, nil
		}
		return nil, 0, nil
	default:
		return nil, 0, fmt.Errorf("%w: entry %q: method %d cannot carry a data descriptor in a stream",
			ErrRead, h.name, h.method)
	}
	cr := &countingByteReader{br: e.w.br}
	fr := flate.NewReader(cr)
	defer fr.Close()
	out, n, crc, err := copyChecked(fr, max, keep)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: entry %q: %v", ErrRead, h.name, err)
	}
	if n > max {
		return nil, 0, fmt.Errorf("%w: entry %q exceeds %d bytes", ErrLimitExceeded, h.name, max)
	}
	desc, err := e.w.readDescriptor(h.name)
	if err != nil {
		return nil, 0, err
	}
	if desc.crc != crc || uint64(desc.compSize) != cr.n || uint64(desc.uncompSize) != n {
		return nil, 0, fmt.Errorf("%w: entry %q data descriptor mismatch", ErrRead, h.name)
	}
	return out, n, nil
}

// extractStreamedZstd handles method 93 entries in descriptor layout. The
// zstd decoder buffers its reads, which would run past the descriptor, so
// the compressed frame is delimited first by walking its block headers and
// only then decoded.
func (e *streamEntry) extractStreamedZstd(keep bool, max uint64) ([]byte, uint64, error) {
	h := e.hdr
	// Worst-case zstd framing overhead on incompressible input is a
	// 3-byte header per 128 KiB block plus fixed frame framing.
	m := clampToInt64(max)
	climit := m + m/1024 + 128
	frame, err := readZstdFrame(e.w.br, climit)
	if err != nil {
		if errors.Is(err, errZstdFrameTooLarge) {
			return nil, 0, fmt.Errorf("%w: entry %q exceeds %d compressed bytes", ErrLimitExceeded, h.name, climit)
		}
		return nil, 0, fmt.Errorf("%w: entry %q: %v", ErrRead, h.name, err)
	}
	zr, err := zstd.NewReader(bytes.NewReader(frame), zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: entry %q: %v", ErrRead, h.name, err)
	}
	defer zr.Close()
	out, n, crc, err := copyChecked(zr.IOReadCloser(), max, keep)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: entry %q: %v", ErrRead, h.name, err)
	}
	if n > max {
		return nil, 0, fmt.Errorf("%w: entry %q exceeds %d bytes", ErrLimitExceeded, h.name, max)
	}
	desc, err := e.w.readDescriptor(h.name)
	if err != nil {
		return nil, 0, err
	}
	if desc.crc != crc || uint64(desc.compSize) != uint64(len(frame)) || uint64(desc.uncompSize) != n {
		return nil, 0, fmt.Errorf("%w: entry %q data descriptor mismatch", ErrRead, h.name)
	}
	return out, n, nil
}

const zstdFrameMagic = 0xFD2FB528

var errZstdFrameTooLarge = errors.New("zstd frame exceeds compressed size cap")

// readZstdFrame copies one zstd frame off the stream without decoding it.
// Frame and block headers carry their sizes, so the frame's end can be
// found on a forward-only reader, leaving whatever follows it in place.
// climit bounds the compressed bytes buffered.
func readZstdFrame(br *bufio.Reader, climit uint64) ([]byte, error) {
	var frame bytes.Buffer
	take := func(n int) ([]byte, error) {
		if uint64(frame.Len())+uint64(n) > climit {
			return nil, errZstdFrameTooLarge
		}
		b := make([]byte, n)
		if _, err := io.ReadFull(br, b); err != nil {
			return nil, err
		}
		frame.Write(b)
		return b, nil
	}
	magic, err := take(4)
	if err != nil {
		return nil, err
	}
	if binary.LittleEndian.Uint32(magic) != zstdFrameMagic {
		return nil, errors.New("not a zstd frame")
	}
	desc, err := take(1)
	if err != nil {
		return nil, err
	}
	d := desc[0]
	singleSegment := d&(1<<5) != 0
	hasChecksum := d&(1<<2) != 0
	rest := 0
	if !singleSegment {
		rest++ // window descriptor
	}
	switch d & 3 { // dictionary id
	case 1:
		rest++
	case 2:
		rest += 2
	case 3:
		rest += 4
	}
	switch d >> 6 { // frame content size
	case 0:
		if singleSegment {
			rest++
		}
	case 1:
		rest += 2
	case 2:
		rest += 4
	case 3:
		rest += 8
	}
	if rest > 0 {
		if _, err := take(rest); err != nil {
			return nil, err
		}
	}
	for {
		bh, err := take(3)
		if err != nil {
			return nil, err
		}
		v := uint32(bh[0]) | uint32(bh[1])<<8 | uint32(bh[2])<<16
		last := v&1 != 0
		blockType := (v >> 1) & 3
		payload := int(v >> 3)
		switch blockType {
		case 1:
			// An RLE block stores a single byte; its size field is the
			// uncompressed run length.
			payload = 1
		case 3:
			return nil, errors.New("reserved zstd block type")
		}
		if payload > 0 {
			if _, err := take(payload); err != nil {
				return nil, err
			}
		}
		if last {
			break
		}
	}
	if hasChecksum {
		if _, err := take(4); err != nil {
			return nil, err
		}
	}
	return frame.Bytes(), nil
}

// copyChecked drains dec, allowing at most max+1 output bytes so overruns
// are observable, and reports the CRC32 of everything read. The bytes are
// retained only when keep is set.
func copyChecked(dec io.Reader, max uint64, keep bool) (data []byte, n uint64, crc uint32, err error) {
	hash := crc32.NewIEEE()
	var buf bytes.Buffer
	var dst io.Writer = hash
	if keep {
		dst = io.MultiWriter(&buf, hash)
	}
	written, err := io.Copy(dst, io.LimitReader(dec, int64(clampToInt64(max))+1))
	if err != nil {
		return nil, 0, 0, err
	}
	if keep {
		data = buf.Bytes()
	}
	return data, uint64(written), hash.Sum32(), nil
}

// clampToInt64 keeps LimitReader bounds addable without overflowing the
// signed range.
func clampToInt64(n uint64) uint64 {
	if n > math.MaxInt64-1 {
		return math.MaxInt64 - 1
	}
	return n
}

// countingByteReader exposes the walker's shared buffered reader to a
// decompressor one byte at a time, tracking how many compressed bytes the
// entry consumed. Implementing io.ByteReader keeps flate from buffering
// past the end of the entry's stream, which would lose the position of the
// data descriptor that follows.
type countingByteReader struct {
	br *bufio.Reader
	n  uint64
}

func (c *countingByteReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	b, err := c.br.ReadByte()
	if err != nil {
		return 0, err
	}
	c.n++
	p[0] = b
	return 1, nil
}

func (c *countingByteReader) ReadByte() (byte, error) {
	b, err := c.br.ReadByte()
	if err == nil {
		c.n++
	}
	return b, err
}
