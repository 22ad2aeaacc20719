package repair

import (
	"github.com/duprepair/duprepair/internal/database"
	"github.com/duprepair/duprepair/internal/volume"
)

// volumeKind converts the DB's string-stored kind to the volume package's
// filename-grammar Kind, keeping the database package free of a direct
// dependency on volume's filename grammar (spec.md §9's module-registry
// separation applied to this one small seam too).
func volumeKind(k database.VolumeKind) volume.Kind {
	switch k {
	case database.KindFiles:
		return volume.KindFiles
	case database.KindIndex:
		return volume.KindIndex
	case database.KindBlocks:
		return volume.KindBlocks
	default:
		return volume.KindUnknown
	}
}

func dbVolumeKind(k volume.Kind) database.VolumeKind {
	switch k {
	case volume.KindFiles:
		return database.KindFiles
	case volume.KindIndex:
		return database.KindIndex
	case volume.KindBlocks:
		return database.KindBlocks
	default:
		return ""
	}
}
