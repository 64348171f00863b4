package model

import (
	"strconv"
	"strings"
	"time"
)

// ParsedFile is one regular file found in the archive. Identity is nil when
// the file name does not follow the archive naming convention.
type ParsedFile struct {
	Identity *FileIdentity
	Path     string
	Name     string
	Size     int64
	ModTime  time.Time
}

// Epoch is the validity window of a channel in station metadata. A zero End
// means the channel is still open.
type Epoch struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether any part of the UTC day starting at day falls
// inside the epoch.
func (e Epoch) Contains(day time.Time) bool {
	dayEnd := day.AddDate(0, 0, 1)
	if !e.Start.IsZero() && !e.Start.Before(dayEnd) {
		return false
	}
	if !e.End.IsZero() && e.End.Before(day) {
		return false
	}
	return true
}

// MetadataEntry is one channel epoch published by the FDSN station service.
type MetadataEntry struct {
	ChannelKey
	Epoch Epoch
}

// CatalogEntry is the most recent file record the WFCatalog holds for one
// identity.
type CatalogEntry struct {
	Identity FileIdentity
	FileName string
	Checksum []byte
	AddedAt  time.Time
}

// Record is one row of a result table. HasCodes and HasDate are false for
// naming anomalies whose codes or date could not be recovered, in which case
// the corresponding columns are stored as NULL.
type Record struct {
	Network   string
	Station   string
	Location  string
	Channel   string
	Year      int
	JulianDay int
	FileName  string
	HasCodes  bool
	HasDate   bool
}

// NewRecord builds a fully populated record for id stored under fileName.
func NewRecord(id FileIdentity, fileName string) Record {
	return Record{
		Network:   id.Network,
		Station:   id.Station,
		Location:  id.Location,
		Channel:   id.Channel,
		Year:      id.Year,
		JulianDay: id.JulianDay,
		FileName:  fileName,
		HasCodes:  true,
		HasDate:   true,
	}
}

// NamingRecord builds a best-effort record for a file whose name could not be
// parsed. Codes are filled when the name still splits into at least seven
// fields, the date when those fields are numeric.
func NamingRecord(name string) Record {
	rec := Record{FileName: name}
	parts := strings.Split(name, ".")
	if len(parts) < identityFields {
		return rec
	}
	rec.Network, rec.Station, rec.Location, rec.Channel = parts[0], parts[1], parts[2], parts[3]
	rec.HasCodes = true

	year, yerr := strconv.Atoi(parts[5])
	jday, jerr := strconv.Atoi(parts[6])
	if yerr == nil && jerr == nil {
		rec.Year, rec.JulianDay = year, jday
		rec.HasDate = true
	}
	return rec
}

// Table names one inconsistency category. The value is the name of the table
// in the result artifact.
type Table string

const (
	InconsistentMetadata Table = "inconsistent_metadata"
	MissingInCatalog     Table = "missing_in_wfcatalog"
	InconsistentChecksum Table = "inconsistent_checksum"
	OlderDate            Table = "older_date"
	RemoveFromCatalog    Table = "remove_from_wfcatalog"
	InappropriateNaming  Table = "inappropriate_naming"
)

// Tables lists every result table in a stable order.
var Tables = []Table{
	InconsistentMetadata,
	MissingInCatalog,
	InconsistentChecksum,
	OlderDate,
	RemoveFromCatalog,
	InappropriateNaming,
}

func (t Table) Valid() bool {
	for _, known := range Tables {
		if t == known {
			return true
		}
	}
	return false
}

// RemovalReason tells why a catalog entry should be removed.
type RemovalReason string

const (
	// ReasonOrphaned marks an archive file that is cataloged but has no
	// station metadata.
	ReasonOrphaned RemovalReason = "orphaned"
	// ReasonAbsent marks a catalog entry with no file in the archive.
	ReasonAbsent RemovalReason = "absent_from_archive"
)
