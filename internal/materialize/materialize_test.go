package materialize

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kailas-cloud/docq/internal/codec"
	"github.com/kailas-cloud/docq/internal/db"
	"github.com/kailas-cloud/docq/internal/domain"
	"github.com/kailas-cloud/docq/internal/logger"
	"github.com/kailas-cloud/docq/internal/model"
)

type place struct {
	Lat float64 `docq:"lat"`
	Lng float64 `docq:"lng"`
}

type blob struct {
	X float64
	Y float64
}

type line struct {
	SKU string `docq:"sku"`
	Qty int    `docq:"qty"`
}

type item struct {
	ID   string `docq:"id,id"`
	Name string `docq:"name"`
}

type order struct {
	ID    string  `docq:"id,id"`
	Total float64 `docq:"total"`
	Items []item  `docq:"items,collection"`
}

type user struct {
	ID     string           `docq:"id,id"`
	Name   string           `docq:"name"`
	Age    int              `docq:"age"`
	Home   place            `docq:"home,geo"`
	Lines  []line           `docq:"lines"`
	Best   model.Ref[order] `docq:"best,ref"`
	Orders []*order         `docq:"orders,collection"`
}

type spot struct {
	ID    string `docq:"id,id"`
	Where blob   `docq:"where,geo"`
}

type peer struct {
	ID     string `docq:"id,id"`
	Friend model.Ref[peer]
}

type wallet struct {
	ID     string  `docq:"id,id"`
	Amount float64 `docq:"amount"`
	built  bool
}

func newWallet(id string, amount float64) *wallet {
	return &wallet{ID: id, Amount: amount, built: true}
}

func register[T any](t *testing.T, collection string, opts ...model.Option) *model.Entity {
	t.Helper()
	e, err := model.NewRegistry().Register(reflect.TypeFor[T](), collection, opts...)
	if err != nil {
		t.Fatalf("register %s: %v", collection, err)
	}
	return e
}

func observed() (context.Context, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.WarnLevel)
	return logger.ContextWithLogger(context.Background(), zap.New(core)), logs
}

func TestEntity_Fields(t *testing.T) {
	e := register[user](t, "users")
	doc := &db.Document{Path: "users/u1", Fields: map[string]any{
		"id":    "ignored",
		"name":  "ann",
		"age":   int64(31),
		"home":  codec.GeoPoint{Latitude: 59.9, Longitude: 10.7},
		"lines": []any{map[string]any{"sku": "a", "qty": int64(2)}},
		"best":  codec.Reference{Path: "orders/o1"},
	}}
	side := NewSideload()
	side.Add(&db.Document{Path: "orders/o1", Fields: map[string]any{"total": 9.5}})
	side.SetChildren("users/u1", "orders", "Orders", []*db.Document{
		{Path: "users/u1/orders/a", Fields: map[string]any{"total": 1.0}},
		{Path: "users/u1/orders/a/items/x", Fields: map[string]any{"name": "deep"}},
	})

	v, err := New(nil).Entity(context.Background(), e, doc, side)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	u := v.(*user)
	if u.ID != "u1" {
		t.Errorf("ID = %q, want document id", u.ID)
	}
	if u.Name != "ann" || u.Age != 31 {
		t.Errorf("scalars = %q %d", u.Name, u.Age)
	}
	if u.Home != (place{Lat: 59.9, Lng: 10.7}) {
		t.Errorf("home = %+v", u.Home)
	}
	if !reflect.DeepEqual(u.Lines, []line{{SKU: "a", Qty: 2}}) {
		t.Errorf("lines = %+v", u.Lines)
	}
	if u.Best.Path() != "orders/o1" || !u.Best.Loaded() || u.Best.Value().Total != 9.5 {
		t.Errorf("best = %q loaded=%v", u.Best.Path(), u.Best.Loaded())
	}
	if len(u.Orders) != 1 || u.Orders[0].ID != "a" {
		t.Errorf("orders = %+v", u.Orders)
	}
}

func TestEntity_UnloadedNavigations(t *testing.T) {
	e := register[user](t, "users")
	doc := &db.Document{Path: "users/u1", Fields: map[string]any{"best": codec.Reference{Path: "orders/o1"}}}

	v, err := New(nil).Entity(context.Background(), e, doc, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	u := v.(*user)
	if u.Best.Path() != "orders/o1" || u.Best.Loaded() {
		t.Errorf("best should keep only the raw path, got %q loaded=%v", u.Best.Path(), u.Best.Loaded())
	}
	if u.Orders != nil {
		t.Errorf("orders = %v, want nil", u.Orders)
	}
}

func TestEntity_ConversionFailureDefaults(t *testing.T) {
	e := register[user](t, "users")
	ctx, logs := observed()
	doc := &db.Document{Path: "users/u1", Fields: map[string]any{"name": "ann", "age": "old"}}

	v, err := New(nil).Entity(ctx, e, doc, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	u := v.(*user)
	if u.Name != "ann" || u.Age != 0 {
		t.Errorf("user = %+v", u)
	}

	entries := logs.FilterMessage("conversion failed, using default").All()
	if len(entries) != 1 {
		t.Fatalf("warnings = %d, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["field"] != "age" || fields["value"] != "old" || fields["target_type"] != "int" {
		t.Errorf("warning fields = %v", fields)
	}
}

func TestEntity_Constructor(t *testing.T) {
	e := register[wallet](t, "wallets", model.WithConstructor(newWallet, "id", "amount"))
	doc := &db.Document{Path: "wallets/w1", Fields: map[string]any{"amount": int64(12)}}

	v, err := New(nil).Entity(context.Background(), e, doc, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	w := v.(*wallet)
	if !w.built || w.ID != "w1" || w.Amount != 12 {
		t.Errorf("wallet = %+v", w)
	}
}

func TestEntity_GeoWithoutCoordinates(t *testing.T) {
	e := register[spot](t, "spots")
	doc := &db.Document{Path: "spots/s1", Fields: map[string]any{"where": codec.GeoPoint{Latitude: 1, Longitude: 2}}}

	_, err := New(nil).Entity(context.Background(), e, doc, nil)
	if !errors.Is(err, domain.ErrInvalidSchema) {
		t.Errorf("err = %v, want ErrInvalidSchema", err)
	}
}

func TestEntity_MissingDocument(t *testing.T) {
	e := register[user](t, "users")
	if _, err := New(nil).Entity(context.Background(), e, nil, nil); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestEntity_Dynamic(t *testing.T) {
	doc := &db.Document{Path: "things/t1", Fields: map[string]any{"n": int64(1)}}
	v, err := New(nil).Entity(context.Background(), model.Dynamic("things"), doc, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := map[string]any{"n": int64(1), "id": "t1"}
	if !reflect.DeepEqual(v, want) {
		t.Errorf("got %v, want %v", v, want)
	}
	if _, ok := doc.Fields["id"]; ok {
		t.Error("stored document was modified")
	}
}

func TestEntity_ReferenceCycle(t *testing.T) {
	e := register[peer](t, "peers")
	side := NewSideload()
	side.Add(&db.Document{Path: "peers/b", Fields: map[string]any{"Friend": codec.Reference{Path: "peers/a"}}})
	doc := &db.Document{Path: "peers/a", Fields: map[string]any{"Friend": codec.Reference{Path: "peers/b"}}}

	v, err := New(nil).Entity(context.Background(), e, doc, side)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	a := v.(*peer)
	b := a.Friend.Value()
	if b == nil || b.ID != "b" {
		t.Fatalf("friend = %+v", b)
	}
	if b.Friend.Path() != "peers/a" || b.Friend.Loaded() {
		t.Errorf("cycle should stop at the root, got loaded=%v", b.Friend.Loaded())
	}
}

func TestSerialize(t *testing.T) {
	e := register[user](t, "users")
	u := &user{
		ID:     "u1",
		Name:   "ann",
		Age:    31,
		Home:   place{Lat: 59.9, Lng: 10.7},
		Lines:  []line{{SKU: "a", Qty: 2}},
		Best:   model.NewRef[order]("orders/o1"),
		Orders: []*order{{ID: "x"}},
	}
	got, err := New(nil).Serialize(e, u)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := map[string]any{
		"name":  "ann",
		"age":   int64(31),
		"home":  codec.GeoPoint{Latitude: 59.9, Longitude: 10.7},
		"lines": []any{map[string]any{"sku": "a", "qty": int64(2)}},
		"best":  codec.Reference{Path: "orders/o1"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got  %#v\nwant %#v", got, want)
	}
}

func TestSerialize_RoundTrip(t *testing.T) {
	e := register[user](t, "users")
	m := New(nil)
	in := user{ID: "u1", Name: "bo", Age: 7, Home: place{Lat: -1, Lng: 2}, Lines: []line{{SKU: "z", Qty: 1}}}

	fields, err := m.Serialize(e, in)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	v, err := m.Entity(context.Background(), e, &db.Document{Path: "users/u1", Fields: fields}, nil)
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}
	if out := v.(*user); !reflect.DeepEqual(*out, in) {
		t.Errorf("round trip:\n got %+v\nwant %+v", *out, in)
	}
}

func TestSerialize_InvalidGeo(t *testing.T) {
	e := register[user](t, "users")
	_, err := New(nil).Serialize(e, &user{Home: place{Lat: 91}})
	var ce *domain.ConversionError
	if !errors.As(err, &ce) || ce.Field != "home" {
		t.Errorf("err = %v, want conversion error on home", err)
	}
}

func TestSerialize_Dynamic(t *testing.T) {
	got, err := New(nil).Serialize(model.Dynamic("things"), map[string]any{"id": "t1", "n": 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(got, map[string]any{"n": int64(3)}) {
		t.Errorf("got %v", got)
	}
}
