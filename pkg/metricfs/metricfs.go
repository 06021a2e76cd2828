// Package metricfs implements the metric filesystem: a
// directory of CBOR-encoded blobs, one per sampling period, keyed by a
// monotonically increasing ID and pruned to a fixed retention count.
// Grounded on mash-go's pkg/wire CBOR encoder configuration (that
// package itself was superseded by pkg/ocppmsg's JSON codec, but its
// canonical-CBOR EncOptions are reused here since metricfs has no JSON
// wire requirement and CBOR is the only corpus library that fits).
package metricfs

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// DefaultMaxEntries is the documented retention: 720 entries, one per
// hour, covering 30 days.
const DefaultMaxEntries = 720

var encMode = func() cbor.EncMode {
	opts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeUnix,
	}
	m, err := opts.EncMode()
	if err != nil {
		panic(err)
	}
	return m
}()

// Sample is one metric record: an energy/power/temperature snapshot
// plus whatever connector-scoped counters the caller wants to retain.
// Kept deliberately generic since the design names the filesystem
// layout, not a fixed metric schema.
type Sample struct {
	Timestamp time.Time      `cbor:"ts"`
	Fields    map[string]any `cbor:"fields"`
}

// FS is a directory of CBOR blobs, one per bucket, pruned to MaxEntries.
type FS struct {
	mu         sync.Mutex
	dir        string
	maxEntries int
}

type Config struct {
	Dir        string
	MaxEntries int
}

func New(cfg Config) (*FS, error) {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, err
	}
	return &FS{dir: cfg.Dir, maxEntries: cfg.MaxEntries}, nil
}

func (fs *FS) blobPath(id uint64) string {
	return filepath.Join(fs.dir, fmt.Sprintf("%020d.cbor", id))
}

// nextID returns one greater than the highest existing blob ID, or 0
// if the directory is empty.
func (fs *FS) nextID() (uint64, error) {
	ids, err := fs.listIDs()
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	return ids[len(ids)-1] + 1, nil
}

func (fs *FS) listIDs() ([]uint64, error) {
	entries, err := os.ReadDir(fs.dir)
	if err != nil {
		return nil, err
	}
	var ids []uint64
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".cbor") {
			continue
		}
		id, err := strconv.ParseUint(strings.TrimSuffix(e.Name(), ".cbor"), 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Append writes s as a new blob with the next monotonic ID, then prunes
// the oldest blobs beyond maxEntries.
func (fs *FS) Append(s Sample) (uint64, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	id, err := fs.nextID()
	if err != nil {
		return 0, err
	}

	data, err := encMode.Marshal(s)
	if err != nil {
		return 0, err
	}
	if err := os.WriteFile(fs.blobPath(id), data, 0o644); err != nil {
		return 0, err
	}

	if err := fs.pruneLocked(); err != nil {
		return id, err
	}
	return id, nil
}

func (fs *FS) pruneLocked() error {
	ids, err := fs.listIDs()
	if err != nil {
		return err
	}
	if len(ids) <= fs.maxEntries {
		return nil
	}
	excess := len(ids) - fs.maxEntries
	for _, id := range ids[:excess] {
		if err := os.Remove(fs.blobPath(id)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// Get reads and decodes the blob with the given ID.
func (fs *FS) Get(id uint64) (Sample, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	data, err := os.ReadFile(fs.blobPath(id))
	if err != nil {
		return Sample{}, err
	}
	var s Sample
	dm, err := cbor.DecOptions{IntDec: cbor.IntDecConvertSigned}.DecMode()
	if err != nil {
		return Sample{}, err
	}
	if err := dm.Unmarshal(data, &s); err != nil {
		return Sample{}, err
	}
	return s, nil
}

// Range returns every sample currently retained, oldest first.
func (fs *FS) Range() ([]Sample, error) {
	fs.mu.Lock()
	ids, err := fs.listIDs()
	fs.mu.Unlock()
	if err != nil {
		return nil, err
	}

	samples := make([]Sample, 0, len(ids))
	for _, id := range ids {
		s, err := fs.Get(id)
		if err != nil {
			return nil, err
		}
		samples = append(samples, s)
	}
	return samples, nil
}

// Count returns the number of blobs currently retained.
func (fs *FS) Count() (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	ids, err := fs.listIDs()
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}
