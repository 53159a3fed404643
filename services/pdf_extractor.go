package services

import (
	"bytes"
	"fmt"
	"log"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PageChunk is the extracted text of one page, in document order.
type PageChunk struct {
	Page int
	Text string
}

// LoadedDocument is the loader output: ordered page text plus counts.
// Loading is a pure transformation of the input bytes, so it is always safe
// to retry.
type LoadedDocument struct {
	PageCount int
	Chunks    []PageChunk
}

// LoaderLimits are the ceilings enforced before any parsing work is done.
type LoaderLimits struct {
	MaxFileSizeMB int
	MaxPages      int
}

// DefaultLoaderLimits match the documented upload boundary (10 MB, 20 pages).
func DefaultLoaderLimits() LoaderLimits {
	return LoaderLimits{
		MaxFileSizeMB: 10,
		MaxPages:      20,
	}
}

// DocumentLoader turns PDF bytes into ordered page-level text chunks using
// ledongthuc/pdf. Inputs that are not well-formed PDFs inside the configured
// ceilings fail with ErrUnsupportedDocument.
type DocumentLoader struct {
	limits LoaderLimits
}

func NewDocumentLoader(limits LoaderLimits) *DocumentLoader {
	if limits.MaxFileSizeMB <= 0 {
		limits.MaxFileSizeMB = DefaultLoaderLimits().MaxFileSizeMB
	}
	if limits.MaxPages <= 0 {
		limits.MaxPages = DefaultLoaderLimits().MaxPages
	}
	return &DocumentLoader{limits: limits}
}

// sanitizePDF truncates trailing garbage after the last %%EOF marker. PDFs
// that passed through mail clients or web downloads often carry appended
// data that breaks strict parsers.
func sanitizePDF(content []byte) []byte {
	if len(content) == 0 {
		return content
	}

	if !bytes.HasPrefix(content, []byte("%PDF-")) {
		return content
	}

	eofMarker := []byte("%%EOF")
	lastEOF := bytes.LastIndex(content, eofMarker)
	if lastEOF == -1 {
		// Truncated PDF; let the parser report it.
		return content
	}

	pdfEnd := lastEOF + len(eofMarker)

	// Trailing newlines after %%EOF are valid.
	for pdfEnd < len(content) && (content[pdfEnd] == '\n' || content[pdfEnd] == '\r') {
		pdfEnd++
	}

	if pdfEnd < len(content) {
		extraBytes := len(content) - pdfEnd
		if extraBytes > 10 {
			log.Printf("DocumentLoader: removing %d bytes of trailing garbage after %%EOF", extraBytes)
			return content[:pdfEnd]
		}
	}

	return content
}

// Load validates and extracts the document. The returned chunk sequence is
// non-empty for every valid PDF under the ceilings.
func (l *DocumentLoader) Load(content []byte, filename string) (*LoadedDocument, error) {
	if len(content) == 0 {
		return nil, &UnsupportedDocumentError{Filename: filename, Reason: "empty file"}
	}

	maxSize := int64(l.limits.MaxFileSizeMB) * 1024 * 1024
	if int64(len(content)) > maxSize {
		return nil, &UnsupportedDocumentError{
			Filename: filename,
			Reason:   fmt.Sprintf("file size %d exceeds %dMB limit", len(content), l.limits.MaxFileSizeMB),
		}
	}

	if !bytes.HasPrefix(content, []byte("%PDF-")) {
		return nil, &UnsupportedDocumentError{Filename: filename, Reason: "missing PDF header"}
	}

	content = sanitizePDF(content)

	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, &UnsupportedDocumentError{Filename: filename, Reason: fmt.Sprintf("failed to parse PDF: %v", err)}
	}

	numPages := reader.NumPage()
	if numPages == 0 {
		return nil, &UnsupportedDocumentError{Filename: filename, Reason: "PDF has no pages"}
	}
	if numPages > l.limits.MaxPages {
		return nil, &UnsupportedDocumentError{
			Filename: filename,
			Reason:   fmt.Sprintf("%d pages exceeds %d page limit", numPages, l.limits.MaxPages),
		}
	}

	doc := &LoadedDocument{PageCount: numPages}

	for i := 1; i <= numPages; i++ {
		text := extractPageText(reader, i)
		if text == "" {
			log.Printf("DocumentLoader: page %d yielded no text, skipping", i)
			continue
		}
		doc.Chunks = append(doc.Chunks, PageChunk{Page: i, Text: text})
	}

	if len(doc.Chunks) == 0 {
		return nil, &UnsupportedDocumentError{
			Filename: filename,
			Reason:   "no extractable text; document may be scanned/image-based",
		}
	}

	log.Printf("DocumentLoader: extracted %d text chunks from %d pages of %s",
		len(doc.Chunks), numPages, filename)

	return doc, nil
}

// PageCount parses just enough of the document to count pages.
func (l *DocumentLoader) PageCount(content []byte) (int, error) {
	if len(content) == 0 {
		return 0, &UnsupportedDocumentError{Reason: "empty file"}
	}

	content = sanitizePDF(content)
	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return 0, &UnsupportedDocumentError{Reason: fmt.Sprintf("failed to parse PDF: %v", err)}
	}

	return reader.NumPage(), nil
}

// extractPageText reads one page, preferring row extraction for structure
// preservation and falling back to plain text.
func extractPageText(reader *pdf.Reader, pageNum int) string {
	page := reader.Page(pageNum)
	if page.V.IsNull() {
		return ""
	}

	var sb strings.Builder

	rows, err := page.GetTextByRow()
	if err != nil {
		text, plainErr := page.GetPlainText(nil)
		if plainErr != nil {
			log.Printf("DocumentLoader: text extraction failed for page %d: %v", pageNum, plainErr)
			return ""
		}
		return strings.TrimSpace(text)
	}

	for _, row := range rows {
		var rowText strings.Builder
		for _, word := range row.Content {
			rowText.WriteString(word.S)
		}
		line := strings.TrimSpace(rowText.String())
		if line != "" {
			sb.WriteString(line)
			sb.WriteString("\n")
		}
	}

	return strings.TrimSpace(sb.String())
}
