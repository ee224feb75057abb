// Package layout decides where a remote item lives below the destination root.
package layout

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/paulschiretz/pgl-photosync/pkg/catalog"
	"github.com/paulschiretz/pgl-photosync/pkg/syncerr"
	"github.com/paulschiretz/pgl-photosync/pkg/util"
)

// Scheme is an organization scheme for the destination tree.
type Scheme int

const (
	// ByYear files items under a directory named after the year they were taken.
	ByYear Scheme = iota
)

// UnknownYear is the directory used for items without a usable creation time.
const UnknownYear = "UNKNOWN"

var schemeToString = map[Scheme]string{
	ByYear: "by_year",
}

var stringToScheme map[string]Scheme

func init() {
	stringToScheme = util.InvertMap(schemeToString)
}

func (s Scheme) String() string {
	if str, ok := schemeToString[s]; ok {
		return str
	}
	return fmt.Sprintf("unknown_scheme(%d)", s)
}

// ParseScheme converts a string like "by_year" into a Scheme.
func ParseScheme(s string) (Scheme, error) {
	if scheme, ok := stringToScheme[strings.ToLower(strings.TrimSpace(s))]; ok {
		return scheme, nil
	}
	return 0, fmt.Errorf("invalid organization scheme: %q. Must be 'by_year'", s)
}

func (s Scheme) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Scheme) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return fmt.Errorf("organization scheme should be a string, got %s", data)
	}
	scheme, err := ParseScheme(str)
	if err != nil {
		return err
	}
	*s = scheme
	return nil
}

// Destination returns the absolute local path for item. It depends only on
// its inputs. Callers must vet item.Filename with CheckFilename first.
func Destination(root string, scheme Scheme, item catalog.MediaItem) string {
	switch scheme {
	case ByYear:
		return filepath.Join(root, yearOf(item.CreationTime), item.Filename)
	default:
		// Unknown schemes are rejected at config validation; keep the item
		// reachable anyway.
		return filepath.Join(root, item.Filename)
	}
}

// yearOf returns the leading four-digit year of the creation time, or
// UnknownYear when there is none.
func yearOf(creationTime string) string {
	if len(creationTime) < 4 {
		return UnknownYear
	}
	for i := 0; i < 4; i++ {
		if creationTime[i] < '0' || creationTime[i] > '9' {
			return UnknownYear
		}
	}
	return creationTime[:4]
}

// CheckFilename rejects remote filenames that cannot be used as a single
// path element below the destination root.
func CheckFilename(name string) error {
	var reason string
	switch {
	case name == "":
		reason = "empty filename"
	case name == "." || name == "..":
		reason = "filename is a relative directory reference"
	case strings.ContainsAny(name, `/\`) || filepath.Base(name) != name:
		reason = "filename contains a path separator"
	case strings.ContainsRune(name, 0):
		reason = "filename contains a NUL byte"
	default:
		return nil
	}
	return syncerr.New(syncerr.ErrInvalidName, "check remote filename", name, errors.New(reason))
}
