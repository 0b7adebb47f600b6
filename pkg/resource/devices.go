package resource

import (
	"io"
)

// Null discards writes and reads as empty.
type Null struct{}

func (Null) Name() string                { return "null" }
func (Null) Read(p []byte) (int, error)  { return 0, io.EOF }
func (Null) Write(p []byte) (int, error) { return len(p), nil }
func (Null) Close() error                { return nil }

type PipeReader struct {
	*io.PipeReader
}

func (p *PipeReader) Name() string { return "pipeRead" }

type PipeWriter struct {
	*io.PipeWriter
}

func (p *PipeWriter) Name() string { return "pipeWrite" }

// NewPipe returns both ends of a synchronous in-memory pipe.
func NewPipe() (*PipeReader, *PipeWriter) {
	r, w := io.Pipe()
	return &PipeReader{r}, &PipeWriter{w}
}
