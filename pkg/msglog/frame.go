package msglog

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"

	"github.com/rotisserie/eris"
)

// Durable segments store entries as frames:
//
//	[length uint32 BE][data][crc32 uint32 BE]
//
// A frame cut short at the end of a segment is a torn write from a crash and is reported as
// ErrTornTail; a complete frame with a bad checksum is ErrCorrupted.

const maxFrameSize = 16 << 20

var (
	ErrCorrupted = eris.New("log frame corrupted")
	ErrTornTail  = eris.New("log ends with a partial frame")
)

// FrameWriter writes framed records.
type FrameWriter struct {
	w   io.Writer
	buf [4]byte
}

func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: w}
}

// Write writes one frame and returns the number of bytes written.
func (f *FrameWriter) Write(data []byte) (int, error) {
	if len(data) > maxFrameSize {
		return 0, eris.Errorf("frame of %d bytes exceeds limit", len(data))
	}

	binary.BigEndian.PutUint32(f.buf[:], uint32(len(data))) //nolint:gosec // bounded above
	if _, err := f.w.Write(f.buf[:]); err != nil {
		return 0, eris.Wrap(err, "failed to write frame length")
	}
	if _, err := f.w.Write(data); err != nil {
		return 0, eris.Wrap(err, "failed to write frame data")
	}
	binary.BigEndian.PutUint32(f.buf[:], crc32.ChecksumIEEE(data))
	if _, err := f.w.Write(f.buf[:]); err != nil {
		return 0, eris.Wrap(err, "failed to write frame checksum")
	}
	return 4 + len(data) + 4, nil
}

// WriteEntry frames and writes e.
func (f *FrameWriter) WriteEntry(e Entry) (int, error) {
	return f.Write(Marshal(e))
}

// FrameReader reads framed records.
type FrameReader struct {
	r   io.Reader
	buf [4]byte
}

func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: r}
}

// Next returns the next frame's data, io.EOF at a clean end.
func (f *FrameReader) Next() ([]byte, error) {
	if _, err := io.ReadFull(f.r, f.buf[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, torn(err)
	}

	length := binary.BigEndian.Uint32(f.buf[:])
	if length > maxFrameSize {
		return nil, eris.Wrapf(ErrCorrupted, "frame length %d", length)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(f.r, data); err != nil {
		return nil, torn(err)
	}
	if _, err := io.ReadFull(f.r, f.buf[:]); err != nil {
		return nil, torn(err)
	}

	want := binary.BigEndian.Uint32(f.buf[:])
	if got := crc32.ChecksumIEEE(data); got != want {
		return nil, eris.Wrapf(ErrCorrupted, "crc mismatch (expected %08x, got %08x)", want, got)
	}
	return data, nil
}

// NextEntry reads and decodes the next entry.
func (f *FrameReader) NextEntry() (Entry, error) {
	data, err := f.Next()
	if err != nil {
		return Entry{}, err
	}
	e, err := Unmarshal(data)
	if err != nil {
		return Entry{}, eris.Wrap(ErrCorrupted, err.Error())
	}
	return e, nil
}

func torn(err error) error {
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return ErrTornTail
	}
	return eris.Wrap(err, "failed to read frame")
}

// ReadEntries reads every entry from r. A torn tail ends the stream without error; the entries
// before it are returned.
func ReadEntries(r io.Reader) ([]Entry, error) {
	fr := NewFrameReader(r)
	var out []Entry
	for {
		e, err := fr.NextEntry()
		switch {
		case err == nil:
			out = append(out, e)
		case errors.Is(err, io.EOF), errors.Is(err, ErrTornTail):
			return out, nil
		default:
			return out, err
		}
	}
}
