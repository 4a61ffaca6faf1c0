package phpctx

import "errors"

var (
	// ErrDiscovery means php-config or the interpreter could not be queried.
	ErrDiscovery = errors.New("php discovery failed")
	// ErrConfigRead means an ini file reported by the interpreter could not be read.
	ErrConfigRead = errors.New("reading php ini file failed")
	// ErrTempFile means a temporary file could not be created or written.
	ErrTempFile = errors.New("temporary file failed")
	// ErrPathEncoding means a path cannot be passed as a text argument.
	ErrPathEncoding = errors.New("path is not representable as text")
)
