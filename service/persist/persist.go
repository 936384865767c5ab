package persist

import (
	"errors"

	"github.com/segmentio/ksuid"
)

// DBID represents a database ID
type DBID string

var notFoundError = errors.New("not found")

// ErrNotFound is the sentinel every not-found error in this package unwraps to
var ErrNotFound = notFoundError

// GenerateID generates a application-wide unique ID
func GenerateID() DBID {
	id, err := ksuid.NewRandom()
	if err != nil {
		panic(err)
	}
	return DBID(id.String())
}

func (d DBID) String() string {
	return string(d)
}

// DBIDsToStrings converts a slice of DBIDs to a slice of strings
func DBIDsToStrings(ids []DBID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
