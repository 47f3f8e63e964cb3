package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/renameio"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/vector"
)

const (
	// IndexFileName holds the binary similarity index.
	IndexFileName = "vectors.index"
	// MetadataFileName holds the versioned metadata document.
	MetadataFileName = "metadata.json"
	// LockFileName guards the directory against concurrent save and load from other processes.
	LockFileName = ".lock"

	// FormatVersion is the metadata format written by Save.
	FormatVersion = 1
)

// persistedMetadata is the on-disk metadata document.
type persistedMetadata struct {
	FormatVersion int                      `json:"format_version"`
	Model         string                   `json:"model"`
	IndexType     string                   `json:"index_type"`
	Dimensions    int                      `json:"dimensions"`
	NextID        int64                    `json:"next_id"`
	VectorCount   int                      `json:"vector_count"`
	IndexSHA256   string                   `json:"index_sha256"`
	SavedAt       time.Time                `json:"saved_at"`
	Records       []*models.MetadataRecord `json:"records"`
}

// Exists reports whether dir holds both persisted artifacts.
func Exists(dir string) bool {
	for _, name := range []string{IndexFileName, MetadataFileName} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			return false
		}
	}
	return true
}

// Save writes the index and metadata under the store directory, replacing any
// earlier artifacts. Both files are fsynced and renamed into place, the index
// first and the metadata second; the metadata carries the index checksum so
// Load detects a torn pair.
func (s *VectorStore) Save() error {
	if s.index == nil {
		return ErrIndexNotInitialized
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}

	lock := flock.New(filepath.Join(s.dir, LockFileName))
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock store dir: %w", err)
	}
	defer lock.Unlock()

	scratch, err := os.CreateTemp(s.dir, IndexFileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp index file: %w", err)
	}
	scratchPath := scratch.Name()
	_ = scratch.Close()
	defer os.Remove(scratchPath)

	if err := s.index.Save(scratchPath); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	pending, err := renameio.TempFile(s.dir, filepath.Join(s.dir, IndexFileName))
	if err != nil {
		return fmt.Errorf("create pending index file: %w", err)
	}
	defer pending.Cleanup()
	sum, err := copyHashed(pending, scratchPath)
	if err != nil {
		return fmt.Errorf("stage index: %w", err)
	}

	meta := &persistedMetadata{
		FormatVersion: FormatVersion,
		Model:         s.modelName(),
		IndexType:     s.index.Type(),
		Dimensions:    s.index.Dimensions(),
		NextID:        s.nextID,
		VectorCount:   s.index.Size(),
		IndexSHA256:   sum,
		SavedAt:       time.Now().UTC(),
		Records:       s.Records(),
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replace index: %w", err)
	}
	if err := renameio.WriteFile(filepath.Join(s.dir, MetadataFileName), data, 0644); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}

	s.state = StatePersisted
	s.logger.Info("Saved index",
		zap.String("dir", s.dir),
		zap.Int("vectors", meta.VectorCount),
		zap.Int64("next_id", meta.NextID))
	return nil
}

// Load reads the artifacts under dir into a new store. A nil adapter allows
// vector Search only. It fails with
// IndexNotFoundError when an artifact is missing and CorruptStateError when the
// artifacts cannot be decoded or disagree with each other.
func Load(dir string, adapter Adapter, opts ...Option) (*VectorStore, error) {
	s := New(dir, adapter, opts...)
	indexPath := filepath.Join(dir, IndexFileName)
	metaPath := filepath.Join(dir, MetadataFileName)
	for _, p := range []string{indexPath, metaPath} {
		if _, err := os.Stat(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, &IndexNotFoundError{Path: p}
			}
			return nil, fmt.Errorf("stat %s: %w", p, err)
		}
	}

	lock := flock.New(filepath.Join(dir, LockFileName))
	if err := lock.RLock(); err != nil {
		return nil, fmt.Errorf("lock store dir: %w", err)
	}
	defer lock.Unlock()

	data, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	var meta persistedMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, corrupt(metaPath, "decode metadata", err)
	}
	if meta.FormatVersion != FormatVersion {
		return nil, corrupt(metaPath, fmt.Sprintf("unsupported format version %d", meta.FormatVersion), nil)
	}
	if meta.Dimensions <= 0 {
		return nil, corrupt(metaPath, fmt.Sprintf("invalid dimensions %d", meta.Dimensions), nil)
	}
	if adapter != nil {
		if d := adapter.Dimensions(); d > 0 && d != meta.Dimensions {
			return nil, fmt.Errorf("embedding model does not match index: %w",
				&DimensionMismatchError{Expected: meta.Dimensions, Got: d})
		}
		if m := adapter.ModelName(); meta.Model != "" && m != meta.Model {
			s.logger.Warn("Index was built with a different model",
				zap.String("index_model", meta.Model),
				zap.String("model", m))
		}
	}

	sum, err := fileSHA256(indexPath)
	if err != nil {
		return nil, fmt.Errorf("hash index: %w", err)
	}
	if meta.IndexSHA256 != "" && sum != meta.IndexSHA256 {
		return nil, corrupt(indexPath, "index checksum does not match metadata", nil)
	}

	indexType := meta.IndexType
	if indexType == "" {
		indexType = string(vector.IndexTypeMemory)
	}
	if indexType != s.indexType {
		s.logger.Info("Using persisted index type",
			zap.String("index_type", indexType),
			zap.String("configured", s.indexType))
	}
	idx, err := vector.NewVectorIndex(indexType, meta.Dimensions)
	if err != nil {
		return nil, fmt.Errorf("create index: %w", err)
	}
	if err := idx.Load(indexPath); err != nil {
		_ = idx.Close()
		return nil, corrupt(indexPath, "decode index", err)
	}
	if err := checkConsistency(&meta, idx); err != nil {
		_ = idx.Close()
		return nil, corrupt(metaPath, err.Error(), nil)
	}

	s.index = idx
	s.indexType = indexType
	s.nextID = meta.NextID
	s.records = make(map[int64]*models.MetadataRecord, len(meta.Records))
	s.order = make([]int64, 0, len(meta.Records))
	for _, r := range meta.Records {
		s.records[r.ID] = r
		s.order = append(s.order, r.ID)
	}
	s.state = StateLoaded

	s.logger.Info("Loaded index",
		zap.String("dir", dir),
		zap.Int("vectors", idx.Size()),
		zap.Int64("next_id", s.nextID))
	return s, nil
}

func checkConsistency(meta *persistedMetadata, idx vector.VectorIndex) error {
	indexSize := idx.Size()
	if meta.VectorCount != len(meta.Records) {
		return fmt.Errorf("vector_count %d but %d records", meta.VectorCount, len(meta.Records))
	}
	if indexSize != len(meta.Records) {
		return fmt.Errorf("index holds %d vectors but %d records", indexSize, len(meta.Records))
	}
	seen := make(map[int64]struct{}, len(meta.Records))
	for i, r := range meta.Records {
		if r == nil {
			return fmt.Errorf("record %d is null", i)
		}
		if r.ID < 0 || r.ID >= meta.NextID {
			return fmt.Errorf("record id %d outside [0, next_id %d)", r.ID, meta.NextID)
		}
		if _, dup := seen[r.ID]; dup {
			return fmt.Errorf("duplicate record id %d", r.ID)
		}
		if !idx.Contains(r.ID) {
			return fmt.Errorf("record id %d has no vector in the index", r.ID)
		}
		seen[r.ID] = struct{}{}
	}
	return nil
}

// copyHashed copies the file at path into w and returns its sha256.
func copyHashed(w io.Writer, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(w, h), f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
