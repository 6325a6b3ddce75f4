package hospital

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/docai/escalation/pkg/wire"
)

// Hospital is immutable reference data for an emergency facility.
type Hospital struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	City  string  `json:"city"`
	Lat   float64 `json:"lat"`
	Lng   float64 `json:"lng"`
	Phone string  `json:"phone,omitempty"`
}

// RankedHospital is a Hospital annotated for one reporter position. Distance
// and ETA are nil when the position could not be acquired.
type RankedHospital struct {
	Hospital
	DistanceKm  *float64 `json:"distanceKm"`
	EtaMinutes  *int     `json:"etaMinutes"`
	Recommended bool     `json:"recommended"`
}

// MapURL links to the facility on a map.
func (h Hospital) MapURL() string {
	return fmt.Sprintf("https://www.google.com/maps?q=%f,%f", h.Lat, h.Lng)
}

// Coordinates is a WGS84 position.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether c lies within the WGS84 range.
func (c Coordinates) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

// Directory is the static list of candidate facilities.
type Directory []Hospital

// InCity returns the facilities located in city, in directory order. City
// names match case-insensitively.
func (d Directory) InCity(city string) []Hospital {
	var out []Hospital
	for _, h := range d {
		if strings.EqualFold(h.City, city) {
			out = append(out, h)
		}
	}
	return out
}

// DefaultDirectory is the built-in facility list.
func DefaultDirectory() Directory {
	return Directory{
		{ID: "1", Name: "SMS Hospital", City: "Jaipur", Lat: 26.9050, Lng: 75.8150, Phone: "+911412560291"},
		{ID: "2", Name: "Fortis Escorts Hospital", City: "Jaipur", Lat: 26.8466, Lng: 75.8069, Phone: "+911412547000"},
		{ID: "3", Name: "Eternal Hospital", City: "Jaipur", Lat: 26.8405, Lng: 75.7870, Phone: "+911415174000"},
		{ID: "4", Name: "Mahatma Gandhi Hospital", City: "Jaipur", Lat: 26.7777, Lng: 75.8290},
		{ID: "5", Name: "Apollo Hospitals Jubilee Hills", City: "Hyderabad", Lat: 17.4156, Lng: 78.4108, Phone: "+914023607777"},
		{ID: "6", Name: "Yashoda Hospitals Somajiguda", City: "Hyderabad", Lat: 17.4239, Lng: 78.4581, Phone: "+914045674567"},
		{ID: "7", Name: "Osmania General Hospital", City: "Hyderabad", Lat: 17.3716, Lng: 78.4747},
		{ID: "8", Name: "AIIMS New Delhi", City: "Delhi", Lat: 28.5672, Lng: 77.2100, Phone: "+911126588500"},
	}
}

// DecodeDirectory decodes a JSON array of hospitals, rejecting entries
// without an id or name, with out-of-range coordinates, or with duplicate ids.
func DecodeDirectory(data []byte) (Directory, error) {
	var raw []json.RawMessage
	if err := wire.Unmarshal("Hospital", data, &raw); err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(raw))
	dir := make(Directory, 0, len(raw))
	for i, item := range raw {
		var h Hospital
		if err := wire.Unmarshal("Hospital", item, &h); err != nil {
			return nil, err
		}
		switch {
		case h.ID == "":
			return nil, wire.Missing("Hospital", fmt.Sprintf("[%d].id", i))
		case h.Name == "":
			return nil, wire.Missing("Hospital", fmt.Sprintf("[%d].name", i))
		case !(Coordinates{Lat: h.Lat, Lng: h.Lng}).Valid():
			return nil, wire.Invalid("Hospital", fmt.Sprintf("[%d].lat/lng", i), "coordinates out of range")
		}
		if _, dup := seen[h.ID]; dup {
			return nil, wire.Invalid("Hospital", fmt.Sprintf("[%d].id", i), "duplicate id %q", h.ID)
		}
		seen[h.ID] = struct{}{}
		dir = append(dir, h)
	}
	return dir, nil
}

// LoadDirectory reads a directory file; an empty path yields the default.
func LoadDirectory(path string) (Directory, error) {
	if path == "" {
		return DefaultDirectory(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read hospital directory %s: %w", path, err)
	}
	return DecodeDirectory(data)
}
