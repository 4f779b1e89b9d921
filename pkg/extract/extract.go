// Package extract pulls plain text out of uploaded files for indexing and
// search. Plain formats are read directly; PDF, DOCX, and XLSX go through
// native parsers.
package extract

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Text extracts the searchable text of a stored file. Unsupported
// extensions yield empty text without an error; such files are archived but
// never indexed.
func Text(ctx context.Context, path, filename string) (string, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".txt", ".md", ".markdown", ".csv", ".json", ".log":
		return plainText(path)
	case ".pdf":
		return pdfText(ctx, path)
	case ".docx":
		return docxText(path)
	case ".xlsx":
		return xlsxText(ctx, path)
	default:
		return "", nil
	}
}

// Supported reports whether text can be extracted from the given filename.
func Supported(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".txt", ".md", ".markdown", ".csv", ".json", ".log", ".pdf", ".docx", ".xlsx":
		return true
	default:
		return false
	}
}

func plainText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	return string(data), nil
}
