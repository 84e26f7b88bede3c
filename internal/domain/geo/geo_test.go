package geo

import "testing"

func TestRoleOf(t *testing.T) {
	tests := []struct {
		name string
		want Role
	}{
		{"Latitude", RoleLatitude},
		{"lat", RoleLatitude},
		{"LNG", RoleLongitude},
		{"Lon", RoleLongitude},
		{"longitude", RoleLongitude},
		{"Altitude", RoleNone},
		{"", RoleNone},
	}
	for _, tc := range tests {
		if got := RoleOf(tc.name); got != tc.want {
			t.Errorf("RoleOf(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestPoint_Validate(t *testing.T) {
	if err := (Point{Latitude: 52.52, Longitude: 13.40}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := (Point{Latitude: 91, Longitude: 0}).Validate(); err == nil {
		t.Fatal("expected error for latitude 91")
	}
	if err := (Point{Latitude: 0, Longitude: -180.5}).Validate(); err == nil {
		t.Fatal("expected error for longitude -180.5")
	}
}

func TestValidateCoordinates_Bounds(t *testing.T) {
	if !ValidateCoordinates(-90, -180) || !ValidateCoordinates(90, 180) {
		t.Fatal("bounds must be inclusive")
	}
}
