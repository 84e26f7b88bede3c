package docq

import (
	"github.com/kailas-cloud/docq/internal/codec"
	"github.com/kailas-cloud/docq/internal/domain/path"
	"github.com/kailas-cloud/docq/internal/model"
)

// Ref is a reference to a T stored in another document. It is populated by
// Include, or on Load when lazy loading is enabled.
type Ref[T any] = model.Ref[T]

// NewRef returns an unloaded reference to the document at path.
func NewRef[T any](path string) Ref[T] { return model.NewRef[T](path) }

// GeoPoint is a validated latitude/longitude pair, stored natively.
type GeoPoint = codec.GeoPoint

// Document is a schemaless document. Its id is under the "id" key.
type Document = map[string]any

// NewID returns a random 20-character document id.
func NewID() string { return path.NewID() }

// Path returns the document path of id inside collectionPath.
func Path(collectionPath, id string) string { return path.Document(collectionPath, id) }

// ChildCollection returns the path of the child collection name under the
// document at parentPath.
func ChildCollection(parentPath, name string) string { return path.Collection(parentPath, name) }
