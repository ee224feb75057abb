// Package syncerr defines the error kinds shared by the sync pipeline.
//
// Every failure raised by the manifest builder, the catalog client, the auth
// provider or the transfer executor is an *Error carrying one of the Kind
// sentinels below, so callers can branch with errors.Is without importing the
// producing package.
package syncerr

import (
	"errors"
	"fmt"
	"strings"
)

// Kinds.
var (
	// ErrIO marks a local read or write failure (manifest traversal, writing download bytes).
	ErrIO = errors.New("io error")
	// ErrAuth marks a failure to obtain or use an access token.
	ErrAuth = errors.New("auth error")
	// ErrRemoteRequest marks a failed catalog page request.
	ErrRemoteRequest = errors.New("remote request error")
	// ErrDownload marks a non-success response for a media download.
	ErrDownload = errors.New("download error")
	// ErrFileSystem marks a failed rename, mkdir or similar filesystem mutation.
	ErrFileSystem = errors.New("filesystem error")
	// ErrPathCollision marks a second remote item planned onto an already claimed destination path.
	ErrPathCollision = errors.New("destination path collision")
	// ErrInvalidName marks a remote filename that cannot be placed below the destination root.
	ErrInvalidName = errors.New("invalid remote filename")
)

// Error is a classified failure. It unwraps to both its Kind and its cause.
type Error struct {
	Kind       error
	Op         string
	Path       string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(" ")
	}
	if e.Path != "" {
		fmt.Fprintf(&b, "%q ", e.Path)
	}
	b.WriteString("failed")
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " with status %d", e.StatusCode)
	}
	if e.Kind != nil {
		fmt.Fprintf(&b, " (%s)", e.Kind)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// New builds a classified error.
func New(kind error, op, path string, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// IO, Auth, Remote, Download and FileSystem are shorthands for New with a fixed kind.
func IO(op, path string, err error) *Error { return New(ErrIO, op, path, err) }

func Auth(op string, err error) *Error { return New(ErrAuth, op, "", err) }

func Remote(op string, status int, err error) *Error {
	e := New(ErrRemoteRequest, op, "", err)
	e.StatusCode = status
	return e
}

func Download(op, url string, status int, err error) *Error {
	e := New(ErrDownload, op, url, err)
	e.StatusCode = status
	return e
}

func FileSystem(op, path string, err error) *Error { return New(ErrFileSystem, op, path, err) }

// KindOf returns the kind sentinel of err, or nil if err is unclassified.
func KindOf(err error) error {
	for _, k := range []error{ErrIO, ErrAuth, ErrRemoteRequest, ErrDownload, ErrFileSystem, ErrPathCollision, ErrInvalidName} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
