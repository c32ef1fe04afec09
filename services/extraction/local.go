// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extraction

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PageReader extracts the text of each page of a PDF.
type PageReader interface {
	PageTexts(data []byte) ([]string, error)
}

// PDFPageReader reads the PDF text layer with ledongthuc/pdf.
type PDFPageReader struct{}

var _ PageReader = PDFPageReader{}

// PageTexts implements PageReader. A page that fails to decode is logged
// and skipped.
func (PDFPageReader) PageTexts(data []byte) (pages []string, err error) {
	// The parser panics on some malformed files.
	defer func() {
		if p := recover(); p != nil {
			pages, err = nil, fmt.Errorf("malformed pdf: %v", p)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			slog.Warn("failed to extract pdf page", "page", i, "error", err)
			continue
		}
		pages = append(pages, text)
	}
	return pages, nil
}

// LocalExtractor is the fallback used when managed OCR is unavailable.
type LocalExtractor struct {
	reader PageReader
}

// NewLocalExtractor creates an extractor. A nil reader uses PDFPageReader.
func NewLocalExtractor(reader PageReader) *LocalExtractor {
	if reader == nil {
		reader = PDFPageReader{}
	}
	return &LocalExtractor{reader: reader}
}

// Extract returns the text of the PDF named key.
//
// # Description
//
// Non-empty page texts are joined with a blank line. The result is never
// an error: an image-only or encrypted file yields a placeholder naming the
// file and its size, and a parser failure yields "Error extracting text: ...".
// Either way analysis still receives something to work with.
func (l *LocalExtractor) Extract(key string, data []byte) string {
	pages, err := l.reader.PageTexts(data)
	if err != nil {
		return ErrorText(err)
	}
	var parts []string
	for _, p := range pages {
		if strings.TrimSpace(p) != "" {
			parts = append(parts, p)
		}
	}
	text := strings.Join(parts, "\n\n")
	if strings.TrimSpace(text) == "" {
		return EmptyPlaceholder(key, len(data))
	}
	return text
}

// EmptyPlaceholder is stored when a PDF has no extractable text layer.
func EmptyPlaceholder(key string, size int) string {
	return fmt.Sprintf("[PDF extracted using free method]\nFile: %s\nSize: %d bytes\n\n"+
		"Note: No text could be extracted from this PDF. It may be image-based or encrypted. "+
		"Consider using Textract (paid) for better accuracy.", key, size)
}

// ErrorText is stored when local extraction failed outright.
func ErrorText(err error) string {
	return "Error extracting text: " + err.Error()
}
