package codec

import (
	"errors"
	"math"
	"reflect"
	"testing"
	"testing/quick"
	"time"

	"github.com/kailas-cloud/docq/internal/domain"
)

type status int

const (
	statusDraft status = iota
	statusActive
	statusArchived
)

var statusEnum = NewEnum(map[status]string{
	statusDraft:    "Draft",
	statusActive:   "Active",
	statusArchived: "Archived",
})

func roundTrip[T any](t *testing.T, table *Table, v T) T {
	t.Helper()
	native, err := table.Encode(v)
	if err != nil {
		t.Fatalf("encode %v: %v", v, err)
	}
	out, err := table.Decode(native, reflect.TypeFor[T]())
	if err != nil {
		t.Fatalf("decode %v: %v", native, err)
	}
	return out.Interface().(T)
}

func checkRoundTrip[T any](t *testing.T, table *Table) {
	t.Helper()
	f := func(v T) bool {
		return reflect.DeepEqual(roundTrip(t, table, v), v)
	}
	if err := quick.Check(f, nil); err != nil {
		t.Error(err)
	}
}

func TestRoundTrip_Scalars(t *testing.T) {
	table := NewTable(statusEnum)
	t.Run("bool", func(t *testing.T) { checkRoundTrip[bool](t, table) })
	t.Run("int", func(t *testing.T) { checkRoundTrip[int](t, table) })
	t.Run("int8", func(t *testing.T) { checkRoundTrip[int8](t, table) })
	t.Run("int16", func(t *testing.T) { checkRoundTrip[int16](t, table) })
	t.Run("int32", func(t *testing.T) { checkRoundTrip[int32](t, table) })
	t.Run("int64", func(t *testing.T) { checkRoundTrip[int64](t, table) })
	t.Run("uint16", func(t *testing.T) { checkRoundTrip[uint16](t, table) })
	t.Run("uint32", func(t *testing.T) { checkRoundTrip[uint32](t, table) })
	t.Run("float32", func(t *testing.T) { checkRoundTrip[float32](t, table) })
	t.Run("float64", func(t *testing.T) { checkRoundTrip[float64](t, table) })
	t.Run("string", func(t *testing.T) { checkRoundTrip[string](t, table) })
	t.Run("bytes", func(t *testing.T) {
		f := func(v []byte) bool {
			out := roundTrip(t, table, v)
			if v == nil {
				return out == nil
			}
			return reflect.DeepEqual(out, v)
		}
		if err := quick.Check(f, nil); err != nil {
			t.Error(err)
		}
	})
}

func TestRoundTrip_Collections(t *testing.T) {
	table := NewTable(statusEnum)
	t.Run("[]string", func(t *testing.T) { checkRoundTrip[[]string](t, table) })
	t.Run("[]int64", func(t *testing.T) { checkRoundTrip[[]int64](t, table) })
	t.Run("[]float64", func(t *testing.T) { checkRoundTrip[[]float64](t, table) })
	t.Run("[4]int32", func(t *testing.T) { checkRoundTrip[[4]int32](t, table) })
	t.Run("map[string]int", func(t *testing.T) { checkRoundTrip[map[string]int](t, table) })
	t.Run("[][]string", func(t *testing.T) { checkRoundTrip[[][]string](t, table) })
}

func TestRoundTrip_Enum(t *testing.T) {
	table := NewTable(statusEnum)
	all := []status{statusDraft, statusActive, statusArchived}
	f := func(i uint8) bool {
		v := all[int(i)%len(all)]
		return roundTrip(t, table, v) == v
	}
	if err := quick.Check(f, nil); err != nil {
		t.Error(err)
	}

	list := func(idx []uint8) bool {
		in := make([]status, len(idx))
		for i, n := range idx {
			in[i] = all[int(n)%len(all)]
		}
		return reflect.DeepEqual(roundTrip(t, table, in), in)
	}
	if err := quick.Check(list, nil); err != nil {
		t.Error(err)
	}
}

func TestRoundTrip_Time(t *testing.T) {
	table := Default
	f := func(sec int64, nsec uint32) bool {
		v := time.Unix(sec%(1<<34), int64(nsec%1_000_000_000)).UTC()
		return roundTrip(t, table, v).Equal(v)
	}
	if err := quick.Check(f, nil); err != nil {
		t.Error(err)
	}
}

func TestRoundTrip_Duration(t *testing.T) {
	table := Default
	whole := func(n int64) bool {
		v := time.Duration(n) - time.Duration(n)%Tick
		return roundTrip(t, table, v) == v
	}
	if err := quick.Check(whole, nil); err != nil {
		t.Error(err)
	}

	f := func(n int64) bool {
		v := time.Duration(n)
		native, err := table.Encode(v)
		if v%Tick != 0 {
			var ce *domain.ConversionError
			return errors.As(err, &ce) && native == nil
		}
		if err != nil {
			return false
		}
		out, err := table.Decode(native, reflect.TypeFor[time.Duration]())
		return err == nil && out.Interface() == v
	}
	if err := quick.Check(f, nil); err != nil {
		t.Error(err)
	}
}

func TestDecode_DurationTicks(t *testing.T) {
	table := Default
	f := func(ticks int64) bool {
		out, err := table.Decode(ticks, reflect.TypeFor[time.Duration]())
		if ticks > math.MaxInt64/100 || ticks < math.MinInt64/100 {
			var ce *domain.ConversionError
			return errors.As(err, &ce)
		}
		return err == nil && out.Interface() == time.Duration(ticks)*Tick
	}
	if err := quick.Check(f, nil); err != nil {
		t.Error(err)
	}

	tests := []struct {
		ticks   int64
		wantErr bool
	}{
		{math.MaxInt64 / 100, false},
		{math.MinInt64 / 100, false},
		{math.MaxInt64/100 + 1, true},
		{math.MinInt64/100 - 1, true},
		{1 << 60, true},
	}
	for _, tt := range tests {
		_, err := table.Decode(tt.ticks, reflect.TypeFor[time.Duration]())
		if (err != nil) != tt.wantErr {
			t.Errorf("decode %d ticks: err = %v, wantErr %v", tt.ticks, err, tt.wantErr)
		}
	}
}

func TestEncode_DurationBelowTick(t *testing.T) {
	for _, d := range []time.Duration{150 * time.Nanosecond, time.Nanosecond, -50 * time.Nanosecond} {
		_, err := Default.Encode(d)
		var ce *domain.ConversionError
		if !errors.As(err, &ce) {
			t.Errorf("encode %s: err = %v, want ConversionError", d, err)
		}
	}
}

func TestRoundTrip_Pointer(t *testing.T) {
	table := Default
	f := func(v int32, nilPtr bool) bool {
		var in *int32
		if !nilPtr {
			in = &v
		}
		out := roundTrip(t, table, in)
		if in == nil {
			return out == nil
		}
		return out != nil && *out == *in
	}
	if err := quick.Check(f, nil); err != nil {
		t.Error(err)
	}
}

func TestEncode_NativeShapes(t *testing.T) {
	table := NewTable(statusEnum)
	local := time.FixedZone("UTC+3", 3*3600)
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, local)

	tests := []struct {
		name string
		in   any
		want any
	}{
		{"nil", nil, nil},
		{"int widened", int16(7), int64(7)},
		{"uint widened", uint8(7), int64(7)},
		{"float32 widened", float32(1.5), float64(1.5)},
		{"enum by name", statusActive, "Active"},
		{"time normalized", ts, ts.UTC()},
		{"duration ticks", 3 * time.Millisecond, int64(30000)},
		{"list", []int{1, 2}, []any{int64(1), int64(2)}},
		{"map", map[string]bool{"a": true}, map[string]any{"a": true}},
		{"reference", Reference{Path: "users/u1"}, Reference{Path: "users/u1"}},
		{"geo", GeoPoint{Latitude: 1, Longitude: 2}, GeoPoint{Latitude: 1, Longitude: 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := table.Encode(tt.in)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ts, ok := got.(time.Time); ok {
				if ts.Location() != time.UTC {
					t.Errorf("location = %v, want UTC", ts.Location())
				}
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Encode(%v) = %#v, want %#v", tt.in, got, tt.want)
			}
		})
	}
}

func TestEncode_Failures(t *testing.T) {
	table := NewTable(statusEnum)
	tests := []struct {
		name string
		in   any
	}{
		{"unregistered enum value", status(42)},
		{"uint overflow", uint64(math.MaxUint64)},
		{"non-string map key", map[int]string{1: "a"}},
		{"channel", make(chan int)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := table.Encode(tt.in)
			if !errors.Is(err, domain.ErrConversion) {
				t.Fatalf("err = %v, want ErrConversion", err)
			}
		})
	}
}

func TestDecode_Failures(t *testing.T) {
	table := NewTable(statusEnum)
	tests := []struct {
		name   string
		native any
		target reflect.Type
	}{
		{"unknown enum name", "Deleted", reflect.TypeFor[status]()},
		{"enum from number", int64(1), reflect.TypeFor[status]()},
		{"int overflow", int64(300), reflect.TypeFor[int8]()},
		{"negative to uint", int64(-1), reflect.TypeFor[uint32]()},
		{"fraction to int", 1.5, reflect.TypeFor[int]()},
		{"string to int", "12", reflect.TypeFor[int]()},
		{"number to string", int64(12), reflect.TypeFor[string]()},
		{"string to time", "2024-01-01", reflect.TypeFor[time.Time]()},
		{"array length", []any{int64(1)}, reflect.TypeFor[[2]int]()},
		{"bad element", []any{"x"}, reflect.TypeFor[[]int]()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := table.Decode(tt.native, tt.target)
			var ce *domain.ConversionError
			if !errors.As(err, &ce) {
				t.Fatalf("err = %v, want *ConversionError", err)
			}
			if ce.Target == "" {
				t.Errorf("target not named in %v", ce)
			}
		})
	}
}

func TestDecode_LosslessWidening(t *testing.T) {
	table := Default
	v, err := table.Decode(float64(3), reflect.TypeFor[int]())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Int() != 3 {
		t.Errorf("got %d, want 3", v.Int())
	}
	f, err := table.Decode(int64(3), reflect.TypeFor[float64]())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Float() != 3 {
		t.Errorf("got %v, want 3", f.Float())
	}
}

func TestDecode_NilIsZero(t *testing.T) {
	v, err := Default.Decode(nil, reflect.TypeFor[int]())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Int() != 0 {
		t.Errorf("got %d, want 0", v.Int())
	}
}

func TestDecode_ReferenceFromString(t *testing.T) {
	v, err := Default.Decode("users/u1", reflect.TypeFor[Reference]())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := v.Interface().(Reference); got.Path != "users/u1" {
		t.Errorf("path = %q", got.Path)
	}
}

func TestIsNative(t *testing.T) {
	type embedded struct{ A int }
	tests := []struct {
		typ  reflect.Type
		want bool
	}{
		{reflect.TypeFor[int](), true},
		{reflect.TypeFor[[]string](), true},
		{reflect.TypeFor[time.Time](), true},
		{reflect.TypeFor[GeoPoint](), true},
		{reflect.TypeFor[Reference](), true},
		{reflect.TypeFor[embedded](), false},
		{reflect.TypeFor[[]embedded](), false},
		{reflect.TypeFor[*embedded](), false},
		{reflect.TypeFor[map[string]int](), true},
	}
	for _, tt := range tests {
		if got := IsNative(tt.typ); got != tt.want {
			t.Errorf("IsNative(%s) = %v, want %v", tt.typ, got, tt.want)
		}
	}
}

func TestNewEnum_DuplicateNamePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	NewEnum(map[status]string{statusDraft: "X", statusActive: "X"})
}
