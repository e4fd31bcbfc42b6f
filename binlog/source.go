package binlog

import (
	"bytes"
	"io"
	"os"
)

// Source is a re-readable source of log text.
type Source interface {
	// Name returns a human-readable name for the source.
	Name() string

	// Open returns a reader positioned at the start of the log.
	Open() (io.ReadCloser, error)
}

// File returns a source that reads the log text from the file at path.
func File(path string) Source {
	return file(path)
}

// Bytes returns a source that reads the log text from data.
func Bytes(name string, data []byte) Source {
	return &memory{name, data}
}

type file string

func (f file) Name() string {
	return string(f)
}

func (f file) Open() (io.ReadCloser, error) {
	return os.Open(string(f))
}

type memory struct {
	name string
	data []byte
}

func (m *memory) Name() string {
	return m.name
}

func (m *memory) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(m.data)), nil
}
