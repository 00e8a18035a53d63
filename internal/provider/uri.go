package provider

import (
	"fmt"
	"strconv"
	"strings"
)

// Scheme is the URI scheme of the content surface.
const Scheme = "content"

// URI addresses a table or a row of the content surface:
//
//	content://org.dmfs.tasks/tasks       all tasks
//	content://org.dmfs.tasks/tasks/42    task 42
type URI struct {
	Authority string
	Path      []string
}

// ContentURI returns the URI of a table under the given authority.
func ContentURI(authority, table string) URI {
	return URI{Authority: authority, Path: []string{table}}
}

// ParseURI parses a content:// URI. Empty path segments are dropped.
func ParseURI(s string) (URI, error) {
	rest, ok := strings.CutPrefix(s, Scheme+"://")
	if !ok {
		return URI{}, fmt.Errorf("%w: %q: expected %s:// scheme", ErrInvalidURI, s, Scheme)
	}
	authority, path, _ := strings.Cut(rest, "/")
	if authority == "" {
		return URI{}, fmt.Errorf("%w: %q: missing authority", ErrInvalidURI, s)
	}

	u := URI{Authority: authority}
	for _, seg := range strings.Split(path, "/") {
		if seg != "" {
			u.Path = append(u.Path, seg)
		}
	}
	return u, nil
}

// MustParseURI is like ParseURI but panics on error. Intended for constants and tests.
func MustParseURI(s string) URI {
	u, err := ParseURI(s)
	if err != nil {
		panic(err)
	}
	return u
}

// String returns the textual form of the URI.
func (u URI) String() string {
	if len(u.Path) == 0 {
		return Scheme + "://" + u.Authority
	}
	return Scheme + "://" + u.Authority + "/" + strings.Join(u.Path, "/")
}

// Table returns the first path segment, or "" for a bare authority.
func (u URI) Table() string {
	if len(u.Path) == 0 {
		return ""
	}
	return u.Path[0]
}

// LastSegment returns the trailing path segment, or "" if there is none.
func (u URI) LastSegment() string {
	if len(u.Path) == 0 {
		return ""
	}
	return u.Path[len(u.Path)-1]
}

// WithID appends a row id to a table URI.
func (u URI) WithID(id int64) URI {
	path := make([]string, len(u.Path), len(u.Path)+1)
	copy(path, u.Path)
	return URI{Authority: u.Authority, Path: append(path, strconv.FormatInt(id, 10))}
}

// Equal reports whether two URIs address the same resource.
func (u URI) Equal(other URI) bool {
	if u.Authority != other.Authority || len(u.Path) != len(other.Path) {
		return false
	}
	for i := range u.Path {
		if u.Path[i] != other.Path[i] {
			return false
		}
	}
	return true
}

// IsAncestorOf reports whether other lies strictly below u.
func (u URI) IsAncestorOf(other URI) bool {
	if u.Authority != other.Authority || len(u.Path) >= len(other.Path) {
		return false
	}
	for i := range u.Path {
		if u.Path[i] != other.Path[i] {
			return false
		}
	}
	return true
}

// rowID returns the id addressed by a row URI.
func (u URI) rowID() (int64, bool, error) {
	switch len(u.Path) {
	case 1:
		return 0, false, nil
	case 2:
		id, err := strconv.ParseInt(u.Path[1], 10, 64)
		if err != nil {
			return 0, false, fmt.Errorf("%w: %s: invalid row id", ErrInvalidURI, u)
		}
		return id, true, nil
	default:
		return 0, false, fmt.Errorf("%w: %s: too many path segments", ErrInvalidURI, u)
	}
}
