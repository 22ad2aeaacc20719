// Package compression implements the pluggable compression-module registry
// spec.md §9 calls for: the core depends only on the Module trait, never on
// a concrete compressor, and modules are resolved by string id exactly the
// way backend/compress's gzip_handler.go/zstd_handler.go wrap a compressor
// behind a "mode" id.
package compression

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"sync"

	kzstd "github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

// Module is a pluggable (de)compression codec identified by a string id.
// The id round-trips through volume filenames (spec.md §6's grammar), so
// it must be filename-safe.
type Module interface {
	// ID is the module's filename-safe identifier, e.g. "zstd" or "gz".
	ID() string
	// NewWriter wraps w so writes are compressed.
	NewWriter(w io.Writer) (io.WriteCloser, error)
	// NewReader wraps r so reads are decompressed.
	NewReader(r io.Reader) (io.ReadCloser, error)
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Module{}
)

// Register adds m to the registry under m.ID(). Called from init() of each
// module implementation, mirroring fs.Register's backend-registration idiom.
func Register(m Module) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[m.ID()] = m
}

// Lookup resolves id to a Module, or reports an error the coordinator turns
// into repairerr.HelpFailedToLoadCompressionModule.
func Lookup(id string) (Module, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	m, ok := registry[id]
	if !ok {
		return nil, errors.Errorf("compression: module %q is not registered", id)
	}
	return m, nil
}

func init() {
	Register(gzipModule{})
	Register(zstdModule{})
	Register(noneModule{})
}

// gzipModule wraps compress/gzip, matching backend/compress's own default
// ("gzip" is its documented default compression mode).
type gzipModule struct{}

func (gzipModule) ID() string { return "gz" }

func (gzipModule) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return gzip.NewWriter(w), nil
}

func (gzipModule) NewReader(r io.Reader) (io.ReadCloser, error) {
	br := bufio.NewReader(r)
	gr, err := gzip.NewReader(br)
	if err != nil {
		return nil, errors.Wrap(err, "compression: gzip reader")
	}
	return gr, nil
}

// zstdModule wraps klauspost/compress/zstd, the zstd implementation pulled
// in by the teacher's own go.mod (used by backend/compress's zstd_handler.go).
type zstdModule struct{}

func (zstdModule) ID() string { return "zstd" }

func (zstdModule) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return kzstd.NewWriter(w)
}

type zstdReadCloser struct {
	*kzstd.Decoder
}

func (z zstdReadCloser) Close() error {
	z.Decoder.Close()
	return nil
}

func (zstdModule) NewReader(r io.Reader) (io.ReadCloser, error) {
	dec, err := kzstd.NewReader(r)
	if err != nil {
		return nil, errors.Wrap(err, "compression: zstd reader")
	}
	return zstdReadCloser{dec}, nil
}

// noneModule is the identity codec, used by tests and by volumes explicitly
// written uncompressed.
type noneModule struct{}

func (noneModule) ID() string { return "none" }

func (noneModule) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return nopWriteCloser{w}, nil
}

func (noneModule) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(r), nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// Describe renders a human-readable summary of m.
func Describe(m Module) string {
	return fmt.Sprintf("compression module %q", m.ID())
}
