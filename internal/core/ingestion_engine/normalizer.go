package ingestion_engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"code.sajari.com/docconv"

	"github.com/quorumlabs/lexvault/internal/core"
	"github.com/quorumlabs/lexvault/internal/models"
)

// ImageSentinel replaces elided media so chunk-position arithmetic stays
// valid and reviewers can see where an image used to be.
const ImageSentinel = "[IMAGE_REMOVED]"

var (
	mdImagePattern   = regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)`)
	htmlImagePattern = regexp.MustCompile(`<img[^>]*>`)
	blankRunPattern  = regexp.MustCompile(`\n\s*\n\s*\n+`)
)

// convertibleTypes maps content types the external converter accepts.
var convertibleTypes = map[string]bool{
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"application/msword": true,
	"application/pdf":    true,
	"text/plain":         true,
	"text/html":          true,
}

// NormalizedDoc is the canonical text blob plus the descriptive metadata
// derived while normalizing, before any model-based enrichment.
type NormalizedDoc struct {
	Title         string
	Text          string
	SourceURL     string
	FilePath      string
	DocType       string
	EffectiveDate time.Time
	LastUpdated   time.Time
	Metadata      models.Metadata
}

// rawJSONDoc is the inline upload shape: an already-extracted document with
// an explicit text field.
type rawJSONDoc struct {
	Title         string          `json:"title"`
	Text          string          `json:"text"`
	Content       string          `json:"content"`
	SourceURL     string          `json:"sourceUrl"`
	FilePath      string          `json:"filePath"`
	DocType       string          `json:"docType"`
	EffectiveDate string          `json:"effectiveDate"`
	LastUpdated   string          `json:"lastUpdated"`
	Metadata      models.Metadata `json:"metadata"`
}

// Normalizer converts arbitrary input (inline JSON document, exported office
// binary) into one canonical text blob plus source metadata. Binary
// conversion delegates to docconv; failure to convert is a hard error for
// that input.
type Normalizer struct{}

func NewNormalizer() *Normalizer { return &Normalizer{} }

// Supported reports whether the normalizer handles the given content type /
// filename combination. Unsupported inputs are rejected before any staging
// record exists.
func (n *Normalizer) Supported(filename, contentType string) bool {
	if isJSONInput(filename, contentType) || isMarkdownInput(filename, contentType) {
		return true
	}
	if convertibleTypes[baseContentType(contentType)] {
		return true
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".docx", ".doc", ".pdf", ".txt", ".md":
		return true
	}
	return false
}

// Normalize produces the canonical document for one raw input. now supplies
// the default for missing dates so callers (and tests) control the clock.
func (n *Normalizer) Normalize(filename, contentType string, raw []byte, now time.Time) (*NormalizedDoc, error) {
	if len(raw) == 0 {
		return nil, core.NewValidationError(core.ErrEmptyInput)
	}
	if !n.Supported(filename, contentType) {
		return nil, core.NewValidationError(fmt.Errorf("%w: %s (%s)", core.ErrUnsupportedFileType, filename, contentType))
	}

	if isJSONInput(filename, contentType) {
		return n.normalizeJSON(filename, raw, now)
	}
	if isMarkdownInput(filename, contentType) {
		return n.normalizeMarkdown(filename, raw, now)
	}
	return n.normalizeBinary(filename, contentType, raw, now)
}

func (n *Normalizer) normalizeJSON(filename string, raw []byte, now time.Time) (*NormalizedDoc, error) {
	var doc rawJSONDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, core.NewValidationError(fmt.Errorf("invalid json document: %w", err))
	}

	text := doc.Text
	if text == "" {
		text = doc.Content
	}
	if strings.TrimSpace(text) == "" {
		return nil, core.NewValidationError(fmt.Errorf("json document has no text field"))
	}

	out := &NormalizedDoc{
		Title:         doc.Title,
		Text:          CleanMarkdown(text),
		SourceURL:     doc.SourceURL,
		FilePath:      doc.FilePath,
		DocType:       doc.DocType,
		EffectiveDate: parseDocDate(doc.EffectiveDate, now),
		LastUpdated:   parseDocDate(doc.LastUpdated, now),
		Metadata:      doc.Metadata,
	}
	n.applyDefaults(out, filename, "uploaded", now)
	return out, nil
}

// normalizeMarkdown handles input that is already in the canonical format;
// it never touches the binary converter, which has no markdown backend.
func (n *Normalizer) normalizeMarkdown(filename string, raw []byte, now time.Time) (*NormalizedDoc, error) {
	text := CleanMarkdown(string(raw))
	if text == "" {
		return nil, core.NewValidationError(fmt.Errorf("%s: empty document", filename))
	}

	out := &NormalizedDoc{Text: text}
	n.applyDefaults(out, filename, "uploaded", now)
	return out, nil
}

func (n *Normalizer) normalizeBinary(filename, contentType string, raw []byte, now time.Time) (*NormalizedDoc, error) {
	mime := baseContentType(contentType)
	if mime == "" || mime == "application/octet-stream" {
		mime = docconv.MimeTypeByExtension(filename)
	}

	res, err := docconv.Convert(bytes.NewReader(raw), mime, false)
	if err != nil {
		return nil, core.NewConversionError(string(models.StatusUploaded), fmt.Errorf("convert %s: %w", filename, err))
	}
	text := CleanMarkdown(res.Body)
	if text == "" {
		return nil, core.NewConversionError(string(models.StatusUploaded), fmt.Errorf("convert %s: empty body", filename))
	}

	out := &NormalizedDoc{Text: text}
	n.applyDefaults(out, filename, "uploaded", now)
	return out, nil
}

func (n *Normalizer) applyDefaults(doc *NormalizedDoc, filename, docType string, now time.Time) {
	if doc.Title == "" {
		doc.Title = titleFromFilename(filename)
	}
	if doc.FilePath == "" {
		doc.FilePath = filename
	}
	if doc.DocType == "" {
		doc.DocType = docType
	}
	if doc.EffectiveDate.IsZero() {
		doc.EffectiveDate = now
	}
	if doc.LastUpdated.IsZero() {
		doc.LastUpdated = now
	}
	if doc.Metadata == nil {
		doc.Metadata = models.Metadata{}
	}
}

// CleanMarkdown applies the converter cleanup pass: images become sentinels,
// runs of blank lines collapse to one paragraph break, edges are trimmed.
func CleanMarkdown(text string) string {
	text = mdImagePattern.ReplaceAllString(text, ImageSentinel)
	text = htmlImagePattern.ReplaceAllString(text, ImageSentinel)
	text = blankRunPattern.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

func isMarkdownInput(filename, contentType string) bool {
	if baseContentType(contentType) == "text/markdown" {
		return true
	}
	return strings.EqualFold(filepath.Ext(filename), ".md")
}

func isJSONInput(filename, contentType string) bool {
	if baseContentType(contentType) == "application/json" {
		return true
	}
	return strings.EqualFold(filepath.Ext(filename), ".json")
}

func baseContentType(contentType string) string {
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = contentType[:i]
	}
	return strings.TrimSpace(strings.ToLower(contentType))
}

// titleFromFilename strips any path components and the extension.
func titleFromFilename(filename string) string {
	name := filepath.Base(filename)
	return strings.TrimSuffix(name, filepath.Ext(name))
}

func parseDocDate(s string, now time.Time) time.Time {
	if s == "" {
		return now
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return now
}
