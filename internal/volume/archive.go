package volume

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/duprepair/duprepair/internal/compression"
)

// recordKind discriminates the lines of a volume archive. The archive
// format itself is an internal implementation detail (spec.md §1 treats
// compression/encryption as external collaborators and never specifies a
// wire format beyond "the filename is the only metadata source for
// identity"); this format exists only so the core has something concrete
// to build, verify and reconstruct against in tests.
type recordKind string

// Record kinds.
const (
	recordBlock        recordKind = "block"
	recordBlockList    recordKind = "blocklist"
	recordIndexSection recordKind = "index_section"
	recordFileEntry    recordKind = "file_entry"
	recordControl      recordKind = "control"
)

type record struct {
	Kind    recordKind `json:"kind"`
	Hash    string     `json:"hash,omitempty"`
	Size    int64      `json:"size,omitempty"`
	Data    []byte     `json:"data,omitempty"`
	Entry   *FileEntry `json:"entry,omitempty"`
	ControlName string `json:"control_name,omitempty"`

	// DataVolumeName names the data volume a recordIndexSection begins
	// describing; subsequent recordBlock lines, until the next section or
	// EOF, belong to it.
	DataVolumeName string `json:"data_volume_name,omitempty"`

	// BlockHashes lists the ordered block hashes of a recordBlockList.
	BlockHashes []string `json:"block_hashes,omitempty"`
}

// FileEntry is one file (or directory) entry of a fileset volume.
type FileEntry struct {
	Path            string    `json:"path"`
	IsDir           bool      `json:"is_dir,omitempty"`
	Size            int64     `json:"size"`
	ModTime         time.Time `json:"mod_time"`
	BlockHash       string    `json:"block_hash,omitempty"`        // single-block files
	BlockListHash   string    `json:"block_list_hash,omitempty"`   // multi-block files
	BlockListLength int64     `json:"block_list_length,omitempty"` // total file length when block-listed
}

// Writer builds a new volume archive in a scratch temp file, exposing the
// operations spec.md §4.5 names: set remote name, append block /
// start-volume / finish-volume / write-blocklist, close, dispose.
type Writer struct {
	kind   Kind
	name   *Name
	module compression.Module

	file    *os.File
	comp    io.WriteCloser
	enc     *json.Encoder
	section string // current open index section, "" if none
	closed  bool
}

// NewWriter opens a scratch file and begins a new archive of kind,
// compressed with module.
func NewWriter(kind Kind, module compression.Module) (*Writer, error) {
	f, err := os.CreateTemp("", "duprepair-vol-*")
	if err != nil {
		return nil, errors.Wrap(err, "volume: create scratch file")
	}
	comp, err := module.NewWriter(f)
	if err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, errors.Wrap(err, "volume: open compressor")
	}
	return &Writer{
		kind:   kind,
		module: module,
		file:   f,
		comp:   comp,
		enc:    json.NewEncoder(comp),
	}, nil
}

// SetRemoteName records the remote filename this archive will be uploaded
// as once Close/Put succeed.
func (w *Writer) SetRemoteName(name *Name) { w.name = name }

// RemoteName returns the name set by SetRemoteName, or nil.
func (w *Writer) RemoteName() *Name { return w.name }

func (w *Writer) write(r record) error {
	if w.closed {
		return errors.New("volume: writer already closed")
	}
	return w.enc.Encode(r)
}

// StartVolume begins an index section describing dataVolumeName. Only
// valid for KindIndex.
func (w *Writer) StartVolume(dataVolumeName string) error {
	if w.kind != KindIndex {
		return errors.Errorf("volume: StartVolume is only valid for index volumes, got %v", w.kind)
	}
	if w.section != "" {
		return errors.Errorf("volume: section %q still open", w.section)
	}
	w.section = dataVolumeName
	return w.write(record{Kind: recordIndexSection, DataVolumeName: dataVolumeName})
}

// FinishVolume closes the index section opened by StartVolume.
func (w *Writer) FinishVolume() error {
	if w.kind != KindIndex {
		return errors.Errorf("volume: FinishVolume is only valid for index volumes, got %v", w.kind)
	}
	if w.section == "" {
		return errors.New("volume: no open section to finish")
	}
	w.section = ""
	return nil
}

// AddBlock appends one block. For KindBlocks, data is the block's raw
// payload and is persisted; for KindIndex, AddBlock records the
// (hash,size) pair under the currently open StartVolume section, and data
// is ignored (indexes never carry payloads, only the block-to-volume map).
func (w *Writer) AddBlock(hash string, size int64, data io.Reader) error {
	switch w.kind {
	case KindBlocks:
		var payload []byte
		if data != nil {
			buf, err := io.ReadAll(data)
			if err != nil {
				return errors.Wrap(err, "volume: read block payload")
			}
			payload = buf
		}
		return w.write(record{Kind: recordBlock, Hash: hash, Size: size, Data: payload})
	case KindIndex:
		if w.section == "" {
			return errors.New("volume: AddBlock called outside StartVolume/FinishVolume")
		}
		return w.write(record{Kind: recordBlock, Hash: hash, Size: size, DataVolumeName: w.section})
	default:
		return errors.Errorf("volume: AddBlock is not valid for %v volumes", w.kind)
	}
}

// WriteBlockList appends a block-list payload: the ordered block hashes
// that reconstruct a multi-block file, identified by its own (hash,length).
func (w *Writer) WriteBlockList(hash string, blockHashes []string) error {
	if w.kind != KindIndex {
		return errors.Errorf("volume: WriteBlockList is only valid for index volumes, got %v", w.kind)
	}
	return w.write(record{Kind: recordBlockList, Hash: hash, BlockHashes: blockHashes})
}

// WriteFileEntry appends one file entry. Only valid for KindFiles.
func (w *Writer) WriteFileEntry(entry FileEntry) error {
	if w.kind != KindFiles {
		return errors.Errorf("volume: WriteFileEntry is only valid for fileset volumes, got %v", w.kind)
	}
	e := entry
	return w.write(record{Kind: recordFileEntry, Entry: &e})
}

// WriteControl appends a named control blob, used for config.Options.ControlFiles.
func (w *Writer) WriteControl(name string, data []byte) error {
	if w.kind != KindFiles {
		return errors.Errorf("volume: WriteControl is only valid for fileset volumes, got %v", w.kind)
	}
	return w.write(record{Kind: recordControl, ControlName: name, Data: data})
}

// Close finalizes the archive and returns its local path and size. The
// writer remains responsible for the temp file; callers must call Dispose
// once they are done with LocalPath (after Put, or on error).
func (w *Writer) Close() (localPath string, size int64, err error) {
	if w.closed {
		return "", 0, errors.New("volume: writer already closed")
	}
	if w.section != "" {
		return "", 0, errors.Errorf("volume: section %q left open at Close", w.section)
	}
	w.closed = true
	if err := w.comp.Close(); err != nil {
		return "", 0, errors.Wrap(err, "volume: close compressor")
	}
	info, err := w.file.Stat()
	if err != nil {
		return "", 0, errors.Wrap(err, "volume: stat scratch file")
	}
	if err := w.file.Close(); err != nil {
		return "", 0, errors.Wrap(err, "volume: close scratch file")
	}
	return w.file.Name(), info.Size(), nil
}

// Dispose removes the scratch file on every exit path, per spec.md §3's
// "temporary files it downloads are scoped to the operation that consumed
// them and released on all exit paths".
func (w *Writer) Dispose() {
	if !w.closed {
		_ = w.comp.Close()
		w.closed = true
	}
	_ = os.Remove(w.file.Name())
}

// Archive is the parsed form of a volume's contents, produced by Read.
type Archive struct {
	Kind Kind

	// Blocks (KindBlocks only): payload bytes keyed by BlockKey(hash, size).
	Blocks map[string][]byte

	// BlockRefs (KindBlocks only): the same entries as Blocks, as (hash,size)
	// pairs, so callers don't need to parse BlockKey's string encoding back apart.
	BlockRefs []BlockRef

	// IndexSections (KindIndex only): data volume name -> blocks it holds.
	IndexSections map[string][]BlockRef

	// BlockLists (KindIndex only): blocklist hash -> ordered block hashes.
	BlockLists map[string][]string

	// Entries (KindFiles only): every file/dir entry.
	Entries []FileEntry

	// Controls (KindFiles only): control blobs by name.
	Controls map[string][]byte
}

// BlockRef is one (hash,size) pair referenced from an index section.
type BlockRef struct {
	Hash string
	Size int64
}

// Read opens and parses the local volume archive at localPath, compressed
// with module.
func Read(localPath string, kind Kind, module compression.Module) (*Archive, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, errors.Wrap(err, "volume: open archive")
	}
	defer f.Close()
	r, err := module.NewReader(bufio.NewReader(f))
	if err != nil {
		return nil, errors.Wrap(err, "volume: open decompressor")
	}
	defer r.Close()

	a := &Archive{
		Kind:          kind,
		Blocks:        map[string][]byte{},
		IndexSections: map[string][]BlockRef{},
		BlockLists:    map[string][]string{},
		Controls:      map[string][]byte{},
	}
	dec := json.NewDecoder(r)
	for {
		var rec record
		if err := dec.Decode(&rec); err == io.EOF {
			break
		} else if err != nil {
			return nil, errors.Wrap(err, "volume: decode archive record")
		}
		switch rec.Kind {
		case recordBlock:
			if rec.DataVolumeName != "" {
				a.IndexSections[rec.DataVolumeName] = append(a.IndexSections[rec.DataVolumeName], BlockRef{Hash: rec.Hash, Size: rec.Size})
			} else {
				a.Blocks[BlockKey(rec.Hash, rec.Size)] = rec.Data
				a.BlockRefs = append(a.BlockRefs, BlockRef{Hash: rec.Hash, Size: rec.Size})
			}
		case recordBlockList:
			a.BlockLists[rec.Hash] = rec.BlockHashes
		case recordIndexSection:
			if _, ok := a.IndexSections[rec.DataVolumeName]; !ok {
				a.IndexSections[rec.DataVolumeName] = nil
			}
		case recordFileEntry:
			if rec.Entry != nil {
				a.Entries = append(a.Entries, *rec.Entry)
			}
		case recordControl:
			a.Controls[rec.ControlName] = rec.Data
		}
	}
	return a, nil
}

// BlockKey is the map key Archive.Blocks uses for a (hash,size) pair. The
// separator is '#', which never appears in a base64 digest, unlike '/'.
func BlockKey(hash string, size int64) string {
	return hash + "#" + strconv.FormatInt(size, 10)
}
