// Package inventory implements the remote inventory analyzer of spec.md
// §4.4: reconciling a backend listing against the local database and
// classifying every remote name into the discrepancy classes of spec.md §3.
package inventory

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/duprepair/duprepair/internal/backend"
	"github.com/duprepair/duprepair/internal/database"
	"github.com/duprepair/duprepair/internal/volume"
)

// ParsedVolume is one backend entry whose name parsed under the configured
// prefix, with its DB row if one exists.
type ParsedVolume struct {
	Entry backend.Entry
	Name  *volume.Name
	DB    *database.RemoteVolume // nil if unknown to the DB
}

// Report is the full analyzer output the coordinator's remote reconciliation
// phase (spec.md §4.2) drives off of.
type Report struct {
	Parsed                []ParsedVolume
	Extras                []backend.Entry
	Missings              []database.RemoteVolume
	VerificationRequired  []database.RemoteVolume
	OtherVolumes          []backend.Entry
	DiscoveredPrefixes    []string

	MissingRemoteFilesets []database.Fileset
	MissingLocalFilesets  []database.RemoteVolume
	EmptyIndexFiles       []database.RemoteVolume
	LastIncompleteFileset *database.RemoteVolume
}

// Analyze reconciles entries (a backend.List result) against db's
// RemoteVolumes relation, scoped to prefix. It operates in
// "VerifyAndCleanForced" mode: the last-incomplete fileset name is excluded
// from Extras so the coordinator can later synthesize a filelist there
// (spec.md §4.4).
func Analyze(ctx context.Context, db *database.DB, entries []backend.Entry, prefix string) (*Report, error) {
	log := logrus.WithField("component", "inventory")

	dbVolumes, err := db.GetRemoteVolumes(ctx)
	if err != nil {
		return nil, err
	}
	dbByName := make(map[string]database.RemoteVolume, len(dbVolumes))
	for _, v := range dbVolumes {
		dbByName[v.Name] = v
	}

	report := &Report{}
	seenForeign := map[string]bool{}
	accountedFor := map[string]bool{}

	for _, e := range entries {
		if e.IsFolder {
			continue
		}
		name, err := volume.ParseFilename(e.Name)
		if err != nil {
			if strings.HasPrefix(e.Name, prefix+"-") {
				report.OtherVolumes = append(report.OtherVolumes, e)
			}
			continue
		}
		if name.Prefix != prefix {
			if !seenForeign[name.Prefix] {
				seenForeign[name.Prefix] = true
				report.DiscoveredPrefixes = append(report.DiscoveredPrefixes, name.Prefix)
			}
			report.Extras = append(report.Extras, e)
			continue
		}

		dbRow, known := dbByName[e.Name]
		pv := ParsedVolume{Entry: e, Name: name}
		if known {
			pv.DB = &dbRow
		}
		report.Parsed = append(report.Parsed, pv)

		if !known {
			report.Extras = append(report.Extras, e)
			continue
		}
		accountedFor[e.Name] = true
		switch dbRow.State {
		case database.StateUploaded, database.StateVerified:
			// durable and present: no discrepancy.
		case database.StateUploading:
			report.VerificationRequired = append(report.VerificationRequired, dbRow)
		default:
			// Temporary, Deleting, Deleted: not a durable state.
			report.Extras = append(report.Extras, e)
		}
	}

	for _, v := range dbVolumes {
		if v.State != database.StateUploaded && v.State != database.StateVerified {
			continue
		}
		if !accountedFor[v.Name] {
			report.Missings = append(report.Missings, v)
		}
	}

	report.MissingRemoteFilesets, err = db.MissingRemoteFilesets(ctx)
	if err != nil {
		return nil, err
	}
	report.MissingLocalFilesets, err = db.MissingLocalFilesets(ctx)
	if err != nil {
		return nil, err
	}
	report.EmptyIndexFiles, err = db.EmptyIndexFiles(ctx)
	if err != nil {
		return nil, err
	}
	report.LastIncompleteFileset, err = db.GetLastIncompleteFilesetVolume(ctx)
	if err != nil {
		return nil, err
	}

	if report.LastIncompleteFileset != nil {
		exempt := report.LastIncompleteFileset.Name
		filtered := report.Extras[:0]
		for _, e := range report.Extras {
			if e.Name == exempt {
				log.WithField("name", exempt).Debug("exempting last-incomplete fileset volume from cleanup")
				continue
			}
			filtered = append(filtered, e)
		}
		report.Extras = filtered
	}

	return report, nil
}

// Target returns the progress denominator of spec.md §4.2: the sum of
// every discrepancy list's length.
func (r *Report) Target() int {
	return len(r.Extras) + len(r.Missings) + len(r.VerificationRequired) +
		len(r.MissingRemoteFilesets) + len(r.MissingLocalFilesets) + len(r.EmptyIndexFiles)
}

// IsSynchronized reports whether none of the six discrepancy lists has any
// entries (spec.md §4.2's DatabaseIsSynchronized outcome).
func (r *Report) IsSynchronized() bool {
	return r.Target() == 0
}
