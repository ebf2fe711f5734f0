// Copyright 2025 The Lumen Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"

	"github.com/lumensearch/lumen/pkg/faults"
	"github.com/lumensearch/lumen/pkg/llms"
)

// Extraction is the raw output of the per-type extractors.
type Extraction struct {
	Text      string
	FileType  string
	PageCount int
	Author    string
}

var imageExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true,
}

func isImage(path string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(path))]
}

// extract dispatches on the file extension. Image formats go through
// the vision model; everything unrecognized is treated as text with an
// encoding fallback chain.
func (p *Pipeline) extract(ctx context.Context, path string, size int64) (*Extraction, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case ext == ".pdf":
		return extractPDF(path, size)
	case ext == ".docx":
		return extractDocx(path)
	case ext == ".xlsx":
		return extractXlsx(path)
	case isImage(path):
		return p.extractImage(ctx, path)
	default:
		return extractPlainText(path, ext)
	}
}

func extractPDF(path string, size int64) (*Extraction, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, faults.New(faults.KindInternal, "ingest", "extractPDF", "open failed", err)
	}
	defer f.Close()

	reader, err := pdf.NewReader(f, size)
	if err != nil {
		return nil, faults.New(faults.KindInternal, "ingest", "extractPDF", "parse failed", err)
	}

	var parts []string
	pages := reader.NumPage()
	for n := 1; n <= pages; n++ {
		page := reader.Page(n)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if strings.TrimSpace(text) != "" {
			parts = append(parts, text)
		}
	}

	return &Extraction{
		Text:      strings.Join(parts, "\n\n"),
		FileType:  "pdf",
		PageCount: pages,
	}, nil
}

var xmlTagPattern = regexp.MustCompile(`<[^>]*>`)

func extractDocx(path string) (*Extraction, error) {
	doc, err := docx.ReadDocxFile(path)
	if err != nil {
		return nil, faults.New(faults.KindInternal, "ingest", "extractDocx", "parse failed", err)
	}
	defer doc.Close()

	// GetContent returns the document XML; strip markup to plain text.
	raw := doc.Editable().GetContent()
	text := xmlTagPattern.ReplaceAllString(raw, " ")

	return &Extraction{Text: text, FileType: "docx"}, nil
}

const maxSpreadsheetRows = 500

func extractXlsx(path string) (*Extraction, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, faults.New(faults.KindInternal, "ingest", "extractXlsx", "parse failed", err)
	}
	defer f.Close()

	var b strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil || len(rows) == 0 {
			continue
		}
		fmt.Fprintf(&b, "Sheet: %s\n", sheet)
		fmt.Fprintf(&b, "Column headers: %s\n", strings.Join(rows[0], " | "))
		for i, row := range rows[1:] {
			if i >= maxSpreadsheetRows {
				b.WriteString("... truncated\n")
				break
			}
			b.WriteString(strings.Join(row, " | "))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	return &Extraction{Text: b.String(), FileType: "xlsx"}, nil
}

// Decoders tried, in order, when the bytes are not valid UTF-8. The
// UTF-16 decoder demands a BOM so byte-pair garbage cannot masquerade
// as text; BOM-less single-byte encodings fall through to Windows-1252
// and Latin-1.
var fallbackDecoders = []encoding.Encoding{
	unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM),
	charmap.Windows1252,
	charmap.ISO8859_1,
}

func decodeText(raw []byte) string {
	if utf8.Valid(raw) {
		return string(raw)
	}
	for _, enc := range fallbackDecoders {
		if decoded, err := enc.NewDecoder().Bytes(raw); err == nil && utf8.Valid(decoded) {
			return string(decoded)
		}
	}
	return string(raw)
}

func extractPlainText(path, ext string) (*Extraction, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, faults.New(faults.KindInternal, "ingest", "extractPlainText", "read failed", err)
	}
	fileType := strings.TrimPrefix(ext, ".")
	if fileType == "" {
		fileType = "txt"
	}
	return &Extraction{Text: decodeText(raw), FileType: fileType}, nil
}

const ocrPrompt = `Extract all readable text from this image. If it is a photo or
diagram rather than a text document, describe its contents instead.
Return only the extracted text or description.`

// extractImage runs the vision model for OCR plus description.
func (p *Pipeline) extractImage(ctx context.Context, path string) (*Extraction, error) {
	text, err := p.visionText(ctx, path)
	if err != nil {
		return nil, err
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	return &Extraction{Text: text, FileType: ext}, nil
}

// visionText sends the file bytes to the image-capable model. Used for
// image files and as the OCR fallback for PDFs with no extractable text.
func (p *Pipeline) visionText(ctx context.Context, path string) (string, error) {
	if p.llm == nil {
		return "", faults.New(faults.KindUnavailable, "ingest", "visionText", "no vision model configured", nil)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", faults.New(faults.KindInternal, "ingest", "visionText", "read failed", err)
	}

	p.acquireLLM()
	defer p.releaseLLM()

	out, err := p.llm.Generate(ctx, []llms.Message{{
		Role:    llms.RoleUser,
		Content: ocrPrompt,
		Images:  [][]byte{raw},
	}}, llms.GenerateOptions{Temperature: 0})
	if err != nil {
		return "", err
	}
	return out, nil
}
