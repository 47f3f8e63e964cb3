package vector

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
)

// Memory index file layout (little endian):
//
//	magic "KOTAEVEC" | version uint32 | dimensions uint32 | count uint64
//	count x (id int64 | dimensions x float32)
const (
	codecMagic   = "KOTAEVEC"
	codecVersion = uint32(1)
)

// ErrTruncated is returned when an index file ends before its declared contents.
var ErrTruncated = errors.New("index file truncated")

// Save persists the index to path, creating parent directories as needed.
// Any existing file at path is overwritten.
func (m *MemoryIndex) Save(path string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if path == "" {
		return fmt.Errorf("empty index path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	w := bufio.NewWriter(f)
	if err := m.encode(w); err != nil {
		_ = f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("flush index file: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync index file: %w", err)
	}
	return f.Close()
}

func (m *MemoryIndex) encode(w io.Writer) error {
	if _, err := io.WriteString(w, codecMagic); err != nil {
		return fmt.Errorf("write magic: %w", err)
	}
	header := []any{codecVersion, uint32(m.dimensions), uint64(len(m.ids))}
	for _, v := range header {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}
	buf := make([]byte, 8+m.dimensions*4)
	for i, id := range m.ids {
		binary.LittleEndian.PutUint64(buf[:8], uint64(id))
		putFloat32s(buf[8:], m.vectors[i])
		if _, err := w.Write(buf); err != nil {
			return fmt.Errorf("write vector %d: %w", id, err)
		}
	}
	return nil
}

// Load reads the index from path and replaces the in-memory contents.
// The file's dimensionality must match the index.
func (m *MemoryIndex) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open index file: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat index file: %w", err)
	}
	ids, vectors, err := decode(bufio.NewReader(f), m.dimensions, info.Size())
	if err != nil {
		return err
	}
	positions := make(map[int64]int, len(ids))
	for i, id := range ids {
		if _, dup := positions[id]; dup {
			return fmt.Errorf("duplicate vector id %d in index file", id)
		}
		positions[id] = i
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids = ids
	m.vectors = vectors
	m.positions = positions
	return nil
}

func decode(r io.Reader, dimensions int, size int64) ([]int64, [][]float32, error) {
	magic := make([]byte, len(codecMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, nil, fmt.Errorf("read magic: %w", truncated(err))
	}
	if string(magic) != codecMagic {
		return nil, nil, fmt.Errorf("not a vector index file")
	}
	var version, dim uint32
	var n uint64
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, nil, fmt.Errorf("read version: %w", truncated(err))
	}
	if version != codecVersion {
		return nil, nil, fmt.Errorf("unsupported index format version %d", version)
	}
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return nil, nil, fmt.Errorf("read dimensions: %w", truncated(err))
	}
	if int(dim) != dimensions {
		return nil, nil, &DimensionMismatchError{Expected: dimensions, Got: int(dim)}
	}
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, nil, fmt.Errorf("read count: %w", truncated(err))
	}
	entrySize := int64(8 + dimensions*4)
	headerSize := int64(len(codecMagic) + 4 + 4 + 8)
	if size >= 0 && (n > uint64(math.MaxInt64/entrySize) || headerSize+int64(n)*entrySize != size) {
		return nil, nil, fmt.Errorf("index file size %d does not match %d vectors of dimension %d", size, n, dimensions)
	}
	ids := make([]int64, 0, n)
	vectors := make([][]float32, 0, n)
	buf := make([]byte, entrySize)
	for i := uint64(0); i < n; i++ {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, nil, fmt.Errorf("read vector %d: %w", i, truncated(err))
		}
		ids = append(ids, int64(binary.LittleEndian.Uint64(buf[:8])))
		vectors = append(vectors, getFloat32s(buf[8:], dimensions))
	}
	return ids, vectors, nil
}

func truncated(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrTruncated
	}
	return err
}

func putFloat32s(dst []byte, s []float32) {
	for i, v := range s {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(v))
	}
}

func getFloat32s(b []byte, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}
