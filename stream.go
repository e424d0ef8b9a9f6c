package asice

import "io"

// ParseStream decodes a container from a forward-only zip stream. Entries
// are extracted in archive order and each one is fully consumed before the
// next, because the transport cannot be re-read. If r is an io.Closer it
// is closed before ParseStream returns, on success and on error alike.
func ParseStream(r io.Reader, opts ...ReadOption) (*Container, error) {
	cfg := newReadConfig(opts)
	if c, ok := r.(io.Closer); ok {
		defer c.Close()
	}
	asm := newAssembler(cfg)
	w := newStreamWalker(r)
	for {
		ent, err := w.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		e := sourceEntry{
			name: ent.hdr.name,
			size: uint64(ent.hdr.uncompSize),
			read: ent.read,
		}
		if err := asm.accept(e); err != nil {
			return nil, err
		}
		if !ent.consumed {
			// Entries the assembler had no use for still have to be walked
			// over, and their bytes still count against the total budget.
			n, err := ent.skip(cfg.limits.MaxEntryUncompressed)
			if err != nil {
				return nil, err
			}
			if err := asm.addTotal(n); err != nil {
				return nil, err
			}
		}
	}
	return asm.finish()
}
