package pipeline

import (
	"context"
	"path/filepath"
	"strings"
)

// ProgressFunc receives stage updates from inside a running evaluation. It
// may be called any number of times, from whatever goroutine the pipeline
// runs on.
type ProgressFunc func(percentage int, message string)

// Document is a readable input handed to the pipeline
type Document struct {
	Ref    string
	Path   string
	Format string
}

// Outcome is what a successful evaluation returns
type Outcome struct {
	Decision string
	Report   []byte
}

// Pipeline evaluates a CV against a job description. Implementations are
// treated as non-preemptible: ctx is a hint, not a guarantee of prompt return.
type Pipeline interface {
	Evaluate(ctx context.Context, cv, jobDesc Document, onProgress ProgressFunc) (*Outcome, error)
}

// Func adapts a plain function to the Pipeline interface
type Func func(ctx context.Context, cv, jobDesc Document, onProgress ProgressFunc) (*Outcome, error)

// Evaluate calls f
func (f Func) Evaluate(ctx context.Context, cv, jobDesc Document, onProgress ProgressFunc) (*Outcome, error) {
	return f(ctx, cv, jobDesc, onProgress)
}

// Supported document formats
const (
	FormatPDF  = "pdf"
	FormatDOCX = "docx"
	FormatTXT  = "txt"
)

// DetectFormat derives the document format from the file extension,
// falling back to pdf for anything unknown.
func DetectFormat(path string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	switch ext {
	case FormatPDF, FormatDOCX, FormatTXT:
		return ext
	default:
		return FormatPDF
	}
}
