// Package path implements the document path convention: a document lives at
// "<collection>/<id>" and a child document at
// "<parentPath>/<collectionName>/<childId>". Depth is the number of "/"
// separators, so a root document has depth 1 and its children depth 3.
package path

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// Separator between path segments.
const Separator = "/"

// IDLength is the length of generated identifiers.
const IDLength = 20

const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Join builds a path from segments.
func Join(segments ...string) string {
	return strings.Join(segments, Separator)
}

// Document returns the path of a document inside a collection path.
func Document(collectionPath, id string) string {
	return collectionPath + Separator + id
}

// Child returns the path of a child document below parentPath.
func Child(parentPath, collection, id string) string {
	return parentPath + Separator + collection + Separator + id
}

// Collection returns the path of a child collection below parentPath.
func Collection(parentPath, collection string) string {
	return parentPath + Separator + collection
}

// Depth counts separators in p.
func Depth(p string) int {
	return strings.Count(p, Separator)
}

// ID returns the last segment of a document path.
func ID(p string) string {
	if i := strings.LastIndex(p, Separator); i >= 0 {
		return p[i+1:]
	}
	return p
}

// Parent returns the collection path that contains document p.
func Parent(p string) string {
	if i := strings.LastIndex(p, Separator); i >= 0 {
		return p[:i]
	}
	return ""
}

// IsDirectChild reports whether document p sits exactly one level below
// collectionPath. Grandchildren share the prefix but not the depth.
func IsDirectChild(collectionPath, p string) bool {
	prefix := collectionPath + Separator
	if !strings.HasPrefix(p, prefix) {
		return false
	}
	return Depth(p) == Depth(collectionPath)+1
}

// Validate checks that p names a document (odd number of segments, none empty).
func Validate(p string) error {
	if p == "" {
		return fmt.Errorf("empty document path")
	}
	segs := strings.Split(p, Separator)
	for _, s := range segs {
		if s == "" {
			return fmt.Errorf("document path %q has an empty segment", p)
		}
	}
	if len(segs)%2 != 0 {
		return fmt.Errorf("document path %q must have an even number of segments", p)
	}
	return nil
}

// NewID returns a 20-character identifier drawn uniformly from [A-Za-z0-9].
func NewID() string {
	max := big.NewInt(int64(len(alphabet)))
	b := make([]byte, IDLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(fmt.Sprintf("path: read random: %v", err))
		}
		b[i] = alphabet[n.Int64()]
	}
	return string(b)
}
