package dispatch

import (
	"fmt"

	"ds485d/pkg/frame"
)

// Source selects which sending station a filter accepts. The zero value
// matches any source.
type Source struct {
	id    frame.StationID
	fixed bool
}

// AnySource matches frames from every station.
func AnySource() Source {
	return Source{}
}

// FromStation matches frames sent by id only.
func FromStation(id frame.StationID) Source {
	return Source{id: id, fixed: true}
}

// Station returns the accepted station, or false if any station matches.
func (s Source) Station() (frame.StationID, bool) {
	return s.id, s.fixed
}

func (s Source) String() string {
	if !s.fixed {
		return "any"
	}
	return s.id.String()
}

// Filter selects frames by function id (first payload byte) and source.
type Filter struct {
	FunctionID uint8
	Source     Source
}

// Match reports whether r should be delivered under f. Tokens and frames
// without payload never match.
func (f Filter) Match(r *frame.Received) bool {
	fid, ok := r.Frame.FunctionID()
	if !ok || fid != f.FunctionID {
		return false
	}
	if id, fixed := f.Source.Station(); fixed {
		return r.Frame.Header.Source == id
	}
	return true
}

func (f Filter) String() string {
	return fmt.Sprintf("fid=0x%02x src=%s", f.FunctionID, f.Source)
}
