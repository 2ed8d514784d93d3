package utils

import (
	"io"
	"sync"
)

// FlushingWriter pushes buffered output through to the underlying sink after
// every write so log lines become visible as soon as they are emitted.
type FlushingWriter struct {
	writer io.Writer
	mutex  sync.Mutex
}

// NewFlushingWriter wraps the provided writer. Sinks without a Flush method
// receive plain pass-through writes.
func NewFlushingWriter(writer io.Writer) *FlushingWriter {
	return &FlushingWriter{writer: writer}
}

// Write forwards the data and flushes the wrapped writer when it supports
// flushing. Flush failures surface as write errors.
func (flushingWriter *FlushingWriter) Write(data []byte) (int, error) {
	flushingWriter.mutex.Lock()
	defer flushingWriter.mutex.Unlock()

	bytesWritten, writeError := flushingWriter.writer.Write(data)
	if writeError != nil {
		return bytesWritten, writeError
	}
	if flushableWriter, implementsFlush := flushingWriter.writer.(interface{ Flush() error }); implementsFlush {
		if flushError := flushableWriter.Flush(); flushError != nil {
			return bytesWritten, flushError
		}
	}
	return bytesWritten, nil
}
