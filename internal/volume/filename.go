// Package volume implements the codecs for remote volume filenames and the
// writer interface used to build new volume archives. ParseFilename and
// Name.String are total bijections on well-formed names, grounded on the
// chunk-name parsing/formatting pair in backend/chunker.go (regexp-driven
// parse, sprintf-driven format, both validated against the same grammar).
package volume

import (
	"encoding/base32"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Kind identifies what a remote volume holds.
type Kind int

// Volume kinds, spec.md §3 / §6.
const (
	KindUnknown Kind = iota
	KindFiles        // fileset volume, letter 'f'
	KindIndex        // index volume, letter 'i'
	KindBlocks       // data volume, letter 'b'
)

// String renders the kind's name, used for logging.
func (k Kind) String() string {
	switch k {
	case KindFiles:
		return "Files"
	case KindIndex:
		return "Index"
	case KindBlocks:
		return "Blocks"
	default:
		return "Unknown"
	}
}

// Letter returns the single-character kind tag embedded in filenames.
func (k Kind) Letter() (byte, error) {
	switch k {
	case KindFiles:
		return 'f', nil
	case KindIndex:
		return 'i', nil
	case KindBlocks:
		return 'b', nil
	default:
		return 0, errors.Errorf("volume: kind %v has no filename letter", k)
	}
}

func kindFromLetter(b byte) (Kind, error) {
	switch b {
	case 'f':
		return KindFiles, nil
	case 'i':
		return KindIndex, nil
	case 'b':
		return KindBlocks, nil
	default:
		return KindUnknown, errors.Errorf("volume: unknown kind letter %q", string(b))
	}
}

// timeEncoding is unpadded base32, matching the grammar's "base32-timestamp"
// component. The standard alphabet maps values 26..31 to '2'..'7', which
// sort before 'A', so encoded timestamps do not sort lexicographically in
// time order; compare parsed times instead.
var timeEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Name is the parsed form of a remote volume's filename.
type Name struct {
	Prefix           string
	Kind             Kind
	Time             time.Time
	Random           string
	CompressionModule string
	EncryptionModule string // empty if the volume is unencrypted
}

var filenameRegexp = regexp.MustCompile(`^(.+)-([bif])([A-Z2-7]+)-([A-Za-z0-9_-]+)\.([A-Za-z0-9]+)(?:\.([A-Za-z0-9]+))?$`)

// ParseFilename parses name under the grammar from spec.md §6:
//
//	<prefix>-<kindLetter><base32-timestamp>-<random>.<comp>[.<enc>]
//
// Unparseable names return a non-nil error; the caller (the inventory
// analyzer) treats those as "other volumes" rather than a fatal condition.
func ParseFilename(name string) (*Name, error) {
	m := filenameRegexp.FindStringSubmatch(name)
	if m == nil {
		return nil, errors.Errorf("volume: %q does not match the volume filename grammar", name)
	}
	kind, err := kindFromLetter(m[2][0])
	if err != nil {
		return nil, err
	}
	msRaw, err := timeEncoding.DecodeString(m[3])
	if err != nil {
		return nil, errors.Wrapf(err, "volume: %q has an invalid timestamp component", name)
	}
	ms, err := strconv.ParseInt(string(msRaw), 10, 64)
	if err != nil {
		return nil, errors.Wrapf(err, "volume: %q has a malformed timestamp payload", name)
	}
	return &Name{
		Prefix:            m[1],
		Kind:              kind,
		Time:              time.UnixMilli(ms).UTC(),
		Random:            m[4],
		CompressionModule: m[5],
		EncryptionModule:  m[6],
	}, nil
}

// String formats n back into a filename. String(ParseFilename(s)) == s for
// every well-formed s, and ParseFilename(String(n)) == n for every n
// produced by NewName/String (the suffix padding a timestamp's decimal
// string to a fixed width makes the encoding total).
func (n *Name) String() string {
	letter, err := n.Kind.Letter()
	if err != nil {
		letter = '?'
	}
	ms := fmt.Sprintf("%020d", n.Time.UTC().UnixMilli())
	ts := timeEncoding.EncodeToString([]byte(ms))
	s := fmt.Sprintf("%s-%c%s-%s.%s", n.Prefix, letter, ts, n.Random, n.CompressionModule)
	if n.EncryptionModule != "" {
		s += "." + n.EncryptionModule
	}
	return s
}

// NewName builds a fresh, randomly-suffixed volume name for kind at the
// given time, ready to be checked for uniqueness against a backend listing
// and then used as the target of a Put.
func NewName(prefix string, kind Kind, t time.Time, compressionModule, encryptionModule string) *Name {
	return &Name{
		Prefix:            prefix,
		Kind:              kind,
		Time:              t.UTC(),
		Random:            strings.ReplaceAll(uuid.NewString(), "-", ""),
		CompressionModule: compressionModule,
		EncryptionModule:  encryptionModule,
	}
}
