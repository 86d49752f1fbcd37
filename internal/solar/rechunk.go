package solar

// maxPrealloc caps the capacity reserved for a chunk before its records
// arrive. Larger chunks grow through append.
const maxPrealloc = 4096

// Rechunker turns a stream of arbitrarily sized blocks into chunks of exactly
// Size records (the last chunk may be shorter). Warehouse drivers treat the
// requested block size as a hint, so sources feed their blocks through a
// Rechunker to keep chunk boundaries stable.
type Rechunker struct {
	Size int
	Fn   ChunkFunc

	buf Dataset
}

// NewRechunker returns a Rechunker emitting chunks of size records to fn.
func NewRechunker(size int, fn ChunkFunc) *Rechunker {
	if size < 1 {
		size = 1
	}
	return &Rechunker{Size: size, Fn: fn, buf: make(Dataset, 0, min(size, maxPrealloc))}
}

// Add appends records and emits every full chunk.
func (rc *Rechunker) Add(recs ...Record) error {
	for len(recs) > 0 {
		room := rc.Size - len(rc.buf)
		n := min(room, len(recs))
		rc.buf = append(rc.buf, recs[:n]...)
		recs = recs[n:]

		if len(rc.buf) == rc.Size {
			if err := rc.emit(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Flush emits the buffered remainder, if any.
func (rc *Rechunker) Flush() error {
	if len(rc.buf) == 0 {
		return nil
	}
	return rc.emit()
}

func (rc *Rechunker) emit() error {
	chunk := rc.buf
	rc.buf = make(Dataset, 0, min(rc.Size, maxPrealloc))
	return rc.Fn(chunk)
}
