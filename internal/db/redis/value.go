package redis

import (
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/kailas-cloud/docq/internal/codec"
)

// Wrapper keys for native values BSON has no exact type for. Times are
// stored as a [seconds, nanoseconds] pair, which keeps nanosecond precision
// over the whole time.Time range. Map keys of user data that start with
// escapeRune get a second one so they never read back as a wrapper.
const (
	keyRef  = "$ref"
	keyGeo  = "$geo"
	keyTime = "$ts"

	escapeRune = "$"
)

func escapeKey(k string) string {
	if strings.HasPrefix(k, escapeRune) {
		return escapeRune + k
	}
	return k
}

func unescapeKey(k string) string {
	if strings.HasPrefix(k, escapeRune+escapeRune) {
		return k[len(escapeRune):]
	}
	return k
}

func marshalFields(fields map[string]any) ([]byte, error) {
	m, err := toBSON(fields)
	if err != nil {
		return nil, err
	}
	return bson.Marshal(m)
}

func unmarshalFields(data []byte) (map[string]any, error) {
	var m bson.M
	if err := bson.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	out, err := fromBSON(map[string]any(m))
	if err != nil {
		return nil, err
	}
	fields, _ := out.(map[string]any)
	if fields == nil {
		fields = map[string]any{}
	}
	return fields, nil
}

func toBSON(v any) (any, error) {
	switch x := v.(type) {
	case nil, bool, int64, float64, string:
		return x, nil
	case []byte:
		return primitive.Binary{Data: x}, nil
	case time.Time:
		return bson.M{keyTime: bson.A{x.Unix(), int64(x.Nanosecond())}}, nil
	case codec.Reference:
		return bson.M{keyRef: x.Path}, nil
	case codec.GeoPoint:
		return bson.M{keyGeo: bson.A{x.Latitude, x.Longitude}}, nil
	case []any:
		out := make(bson.A, len(x))
		for i, e := range x {
			b, err := toBSON(e)
			if err != nil {
				return nil, err
			}
			out[i] = b
		}
		return out, nil
	case map[string]any:
		out := make(bson.M, len(x))
		for k, e := range x {
			b, err := toBSON(e)
			if err != nil {
				return nil, err
			}
			out[escapeKey(k)] = b
		}
		return out, nil
	default:
		return nil, fmt.Errorf("value of type %T is not a native document value", v)
	}
}

func fromBSON(v any) (any, error) {
	switch x := v.(type) {
	case nil, bool, int64, float64, string:
		return x, nil
	case int32:
		return int64(x), nil
	case primitive.Binary:
		return x.Data, nil
	case []byte:
		return x, nil
	case primitive.DateTime:
		return x.Time().UTC(), nil
	case primitive.A:
		return fromList([]any(x))
	case []any:
		return fromList(x)
	case primitive.D:
		return fromMap(x.Map())
	case primitive.M:
		return fromMap(map[string]any(x))
	case map[string]any:
		return fromMap(x)
	default:
		return nil, fmt.Errorf("unexpected stored value of type %T", v)
	}
}

func fromList(x []any) (any, error) {
	out := make([]any, len(x))
	for i, e := range x {
		v, err := fromBSON(e)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func fromMap(x map[string]any) (any, error) {
	if len(x) == 1 {
		if p, ok := x[keyRef].(string); ok {
			return codec.Reference{Path: p}, nil
		}
		if sec, nsec, ok := timePair(x[keyTime]); ok {
			return time.Unix(sec, nsec).UTC(), nil
		}
		if pair, ok := geoPair(x[keyGeo]); ok {
			return codec.GeoPoint{Latitude: pair[0], Longitude: pair[1]}, nil
		}
	}
	out := make(map[string]any, len(x))
	for k, e := range x {
		v, err := fromBSON(e)
		if err != nil {
			return nil, err
		}
		out[unescapeKey(k)] = v
	}
	return out, nil
}

func timePair(v any) (sec, nsec int64, ok bool) {
	list, ok := asList(v)
	if !ok || len(list) != 2 {
		return 0, 0, false
	}
	sec, ok1 := list[0].(int64)
	nsec, ok2 := list[1].(int64)
	return sec, nsec, ok1 && ok2
}

func asList(v any) ([]any, bool) {
	switch x := v.(type) {
	case primitive.A:
		return x, true
	case []any:
		return x, true
	default:
		return nil, false
	}
}

func geoPair(v any) ([2]float64, bool) {
	list, ok := asList(v)
	if !ok || len(list) != 2 {
		return [2]float64{}, false
	}
	lat, ok1 := list[0].(float64)
	lng, ok2 := list[1].(float64)
	return [2]float64{lat, lng}, ok1 && ok2
}
