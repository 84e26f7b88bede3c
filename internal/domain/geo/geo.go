// Package geo holds the native geo-coordinate value and the rules for
// recognizing coordinate members on user types.
package geo

import (
	"fmt"
	"strings"
)

// Point is a latitude/longitude pair in degrees.
type Point struct {
	Latitude  float64
	Longitude float64
}

// Validate checks that latitude is in [-90,90] and longitude in [-180,180].
func (p Point) Validate() error {
	if !ValidateCoordinates(p.Latitude, p.Longitude) {
		return fmt.Errorf("coordinates out of range: (%v, %v)", p.Latitude, p.Longitude)
	}
	return nil
}

// ValidateCoordinates checks that latitude is in [-90,90] and longitude in [-180,180].
func ValidateCoordinates(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// Role of a member inside a coordinate-shaped type.
type Role int

// Coordinate roles.
const (
	RoleNone Role = iota
	RoleLatitude
	RoleLongitude
)

// RoleOf classifies a member or parameter name, case-insensitively.
func RoleOf(name string) Role {
	switch strings.ToLower(name) {
	case "lat", "latitude":
		return RoleLatitude
	case "lng", "lon", "long", "longitude":
		return RoleLongitude
	default:
		return RoleNone
	}
}
