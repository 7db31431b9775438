// Package hashfs implements the content hasher: a streaming, 64-bit,
// non-cryptographic digest over a file's full contents, independent of its
// modification time.
package hashfs

import (
	"io"
	"os"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// chunkSize is the size of the read buffer used to stream file content into
// the digester. The digest does not depend on this value; it only bounds
// memory use while hashing arbitrarily large files.
const chunkSize = 1024

// IOError wraps a failure to open or read a file while hashing.
type IOError struct {
	Path string
	Err  error
}

func (e *IOError) Error() string { return "hashfs: " + e.Path + ": " + e.Err.Error() }
func (e *IOError) Unwrap() error { return e.Err }

// Hash streams the file at path in chunkSize chunks and returns its content
// digest as a lowercase hex string. Directories have no digest: they return
// an empty string and no error.
func Hash(path string) (string, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return "", &IOError{Path: path, Err: err}
	}
	if info.IsDir() {
		return "", nil
	}

	f, err := os.Open(path)
	if err != nil {
		return "", &IOError{Path: path, Err: err}
	}
	defer f.Close()

	digester := xxhash.New()
	buffer := make([]byte, chunkSize)
	for {
		n, err := f.Read(buffer)
		if n > 0 {
			digester.Write(buffer[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", &IOError{Path: path, Err: err}
		}
	}

	return strconv.FormatUint(digester.Sum64(), 16), nil
}

// Func is the hasher signature used by the scanner and daemon, allowing tests
// to substitute a stub digester.
type Func func(path string) (string, error)
