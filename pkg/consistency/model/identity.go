package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// identityFields is the number of dot separated fields in an archive file
// name: NET.STA.LOC.CHAN.NEL.YEAR.JDAY.
const identityFields = 7

var ErrMalformedName = errors.New("malformed file name")

// FileIdentity is the logical identity of one day of one channel. It is a
// comparable value and can be used directly as a map key.
type FileIdentity struct {
	Network   string
	Station   string
	Location  string
	Channel   string
	Quality   string
	Year      int
	JulianDay int
}

// ChannelKey is the (network, station, location, channel) part of an
// identity, which is what station metadata is keyed on.
type ChannelKey struct {
	Network  string
	Station  string
	Location string
	Channel  string
}

func (k ChannelKey) String() string {
	return strings.Join([]string{k.Network, k.Station, k.Location, k.Channel}, ".")
}

func (id FileIdentity) ChannelKey() ChannelKey {
	return ChannelKey{
		Network:  id.Network,
		Station:  id.Station,
		Location: id.Location,
		Channel:  id.Channel,
	}
}

// FileName renders the canonical archive file name of the identity.
func (id FileIdentity) FileName() string {
	return fmt.Sprintf("%s.%s.%s.%s.%s.%04d.%03d",
		id.Network, id.Station, id.Location, id.Channel, id.Quality, id.Year, id.JulianDay)
}

func (id FileIdentity) String() string {
	return id.FileName()
}

// Date returns the UTC start of the day the identity covers.
func (id FileIdentity) Date() time.Time {
	return time.Date(id.Year, time.January, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, id.JulianDay-1)
}

// ParseFileName parses an archive file name into its identity. The location
// code may be empty, every other code must be present.
func ParseFileName(name string) (FileIdentity, error) {
	parts := strings.Split(name, ".")
	if len(parts) != identityFields {
		return FileIdentity{}, fmt.Errorf("%w: %q has %d fields, want %d", ErrMalformedName, name, len(parts), identityFields)
	}
	for i, label := range []string{"network", "station", "", "channel", "quality"} {
		if label != "" && parts[i] == "" {
			return FileIdentity{}, fmt.Errorf("%w: %q has an empty %s code", ErrMalformedName, name, label)
		}
	}

	year, err := parseYear(parts[5])
	if err != nil {
		return FileIdentity{}, fmt.Errorf("%w: %q: %w", ErrMalformedName, name, err)
	}
	jday, err := parseJulianDay(parts[6], year)
	if err != nil {
		return FileIdentity{}, fmt.Errorf("%w: %q: %w", ErrMalformedName, name, err)
	}

	return FileIdentity{
		Network:   parts[0],
		Station:   parts[1],
		Location:  parts[2],
		Channel:   parts[3],
		Quality:   parts[4],
		Year:      year,
		JulianDay: jday,
	}, nil
}

func parseYear(s string) (int, error) {
	if len(s) != 4 || !allDigits(s) {
		return 0, fmt.Errorf("year %q is not four digits", s)
	}
	return strconv.Atoi(s)
}

func parseJulianDay(s string, year int) (int, error) {
	if len(s) == 0 || len(s) > 3 || !allDigits(s) {
		return 0, fmt.Errorf("julian day %q is not numeric", s)
	}
	jday, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if jday < 1 || jday > DaysInYear(year) {
		return 0, fmt.Errorf("julian day %d out of range for %d", jday, year)
	}
	return jday, nil
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// DaysInYear returns 366 for leap years and 365 otherwise.
func DaysInYear(year int) int {
	if year%4 == 0 && (year%100 != 0 || year%400 == 0) {
		return 366
	}
	return 365
}
