package utils

import (
	"io"
	"strings"
	"sync"
)

const maskCharacterConstant = "*"

// RedactingWriter wraps an output sink and masks every registered secret with
// an equal-length run of mask characters before forwarding each write. It is
// installed beneath the logger so authenticated URLs and captured subprocess
// output never reach a sink in clear text.
type RedactingWriter struct {
	writer  io.Writer
	mutex   sync.RWMutex
	secrets []string
}

// NewRedactingWriter wraps the provided writer with secret masking.
func NewRedactingWriter(writer io.Writer) *RedactingWriter {
	return &RedactingWriter{writer: writer}
}

// RegisterSecret adds a secret value to mask in subsequent writes.
func (redactingWriter *RedactingWriter) RegisterSecret(secretValue string) {
	trimmedSecret := strings.TrimSpace(secretValue)
	if len(trimmedSecret) == 0 {
		return
	}

	redactingWriter.mutex.Lock()
	defer redactingWriter.mutex.Unlock()

	for _, registeredSecret := range redactingWriter.secrets {
		if registeredSecret == trimmedSecret {
			return
		}
	}
	redactingWriter.secrets = append(redactingWriter.secrets, trimmedSecret)
}

// Write masks registered secrets and forwards the result to the underlying
// writer. The reported byte count reflects the caller's input so wrapped
// writers observe a successful full write.
func (redactingWriter *RedactingWriter) Write(data []byte) (int, error) {
	if redactingWriter == nil || redactingWriter.writer == nil {
		return len(data), nil
	}

	maskedData := redactingWriter.mask(string(data))
	if _, writeError := io.WriteString(redactingWriter.writer, maskedData); writeError != nil {
		return 0, writeError
	}
	return len(data), nil
}

// Redact returns the content with every registered secret masked. It lets
// callers sanitize text that bypasses the writer, such as the error string a
// process prints on exit.
func (redactingWriter *RedactingWriter) Redact(content string) string {
	if redactingWriter == nil {
		return content
	}
	return redactingWriter.mask(content)
}

// Flush forwards flushing to the underlying writer when supported.
func (redactingWriter *RedactingWriter) Flush() error {
	if flushableWriter, implementsFlush := redactingWriter.writer.(interface{ Flush() error }); implementsFlush {
		return flushableWriter.Flush()
	}
	return nil
}

func (redactingWriter *RedactingWriter) mask(content string) string {
	redactingWriter.mutex.RLock()
	defer redactingWriter.mutex.RUnlock()

	maskedContent := content
	for _, registeredSecret := range redactingWriter.secrets {
		maskReplacement := strings.Repeat(maskCharacterConstant, len(registeredSecret))
		maskedContent = strings.ReplaceAll(maskedContent, registeredSecret, maskReplacement)
	}
	return maskedContent
}
