// Package ingest normalizes the four ingestion surfaces (text, file,
// image, URL) into documents ready for job submission. The payload lands in
// the object store at submit time so workers can read it after a restart.
package ingest

import (
	"context"
	"net/http"
	"path"
	"strings"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"kgraph/internal/chunker"
	"kgraph/internal/config"
	"kgraph/internal/domain"
	"kgraph/internal/kgerrors"
)

// Submission is a normalized ingest request. Text documents carry the
// preprocessed markdown; image documents carry the raw bytes. Both are also
// persisted under Document.ObjectKey before Submit returns.
type Submission struct {
	Document *domain.Document
	Text     string
	Image    []byte
}

// Intake turns raw ingest payloads into Submissions.
type Intake struct {
	config  config.Ingest
	objects *ObjectStore
	fetcher *Fetcher
	logger  *zap.Logger
}

func NewIntake(cfg config.Ingest, objects *ObjectStore, fetcher *Fetcher, logger *zap.Logger) *Intake {
	return &Intake{config: cfg, objects: objects, fetcher: fetcher, logger: logger}
}

var textExtensions = map[string]bool{
	".md": true, ".markdown": true, ".mdx": true, ".txt": true, ".text": true,
}

var imageExtensions = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
	".pdf":  "application/pdf",
}

var mimeExtensions = map[string]string{
	"image/png":       ".png",
	"image/jpeg":      ".jpg",
	"image/gif":       ".gif",
	"image/webp":      ".webp",
	"application/pdf": ".pdf",
}

// Text normalizes and stores a raw text or markdown payload. The document
// hash is taken over the preprocessed form, so the same content with CRLF
// line endings or extra blank lines deduplicates to the same document.
func (in *Intake) Text(text, filename, ontology string) (*Submission, error) {
	if err := checkOntology(ontology); err != nil {
		return nil, err
	}
	if int64(len(text)) > in.maxUpload() {
		return nil, kgerrors.Validation("text exceeds max upload size of %d bytes", in.maxUpload())
	}

	processed := chunker.PreprocessMarkdown(text)
	if strings.TrimSpace(processed) == "" {
		return nil, kgerrors.Validation("document has no text content")
	}

	hash := domain.HashContent([]byte(processed))
	id := domain.NewDocumentID(hash)
	if filename == "" {
		filename = "text-" + hash[:8] + ".md"
	}

	doc := &domain.Document{
		ID:          id,
		ContentHash: hash,
		Filename:    filename,
		Ontology:    ontology,
		ContentType: domain.ContentTypeText,
		MimeType:    textMime(filename),
		SizeBytes:   int64(len(processed)),
		ObjectKey:   "objects/" + id + ".md",
	}
	if err := in.objects.Put(doc.ObjectKey, []byte(processed)); err != nil {
		return nil, err
	}
	return &Submission{Document: doc, Text: processed}, nil
}

// File routes an uploaded file by extension: markdown and plain text enter
// the text pipeline, images and PDFs the image pipeline. Unknown extensions
// are sniffed.
func (in *Intake) File(filename string, data []byte, ontology string) (*Submission, error) {
	if len(data) == 0 {
		return nil, kgerrors.Validation("file %s is empty", filename)
	}
	ext := strings.ToLower(path.Ext(filename))

	if mime, ok := imageExtensions[ext]; ok {
		return in.Image(filename, data, mime, ontology)
	}
	if textExtensions[ext] || ext == "" {
		if !utf8.Valid(data) {
			if ext == "" {
				return in.sniff(filename, data, ontology)
			}
			return nil, kgerrors.Validation("file %s is not valid UTF-8 text", filename)
		}
		return in.Text(string(data), filename, ontology)
	}
	return in.sniff(filename, data, ontology)
}

// sniff classifies a file with an unrecognized extension by its content.
func (in *Intake) sniff(filename string, data []byte, ontology string) (*Submission, error) {
	detected := http.DetectContentType(data)
	switch {
	case strings.HasPrefix(detected, "text/") && utf8.Valid(data):
		return in.Text(string(data), filename, ontology)
	case strings.HasPrefix(detected, "image/"), detected == "application/pdf":
		return in.Image(filename, data, detected, ontology)
	default:
		return nil, kgerrors.Validation("unsupported file type %q for %s", detected, filename)
	}
}

// Image stores raw image or PDF bytes and builds an image document. The
// bytes are hashed as-is.
func (in *Intake) Image(filename string, data []byte, mimeType, ontology string) (*Submission, error) {
	if err := checkOntology(ontology); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, kgerrors.Validation("image is empty")
	}
	if int64(len(data)) > in.maxUpload() {
		return nil, kgerrors.Validation("image exceeds max upload size of %d bytes", in.maxUpload())
	}
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	mimeType = strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0])

	hash := domain.HashContent(data)
	id := domain.NewDocumentID(hash)
	ext := mimeExtensions[mimeType]
	if ext == "" {
		ext = ".bin"
	}
	if filename == "" {
		filename = "image-" + hash[:8] + ext
	}

	doc := &domain.Document{
		ID:          id,
		ContentHash: hash,
		Filename:    filename,
		Ontology:    ontology,
		ContentType: domain.ContentTypeImage,
		MimeType:    mimeType,
		SizeBytes:   int64(len(data)),
		ObjectKey:   "objects/" + id + ext,
	}
	if err := in.objects.Put(doc.ObjectKey, data); err != nil {
		return nil, err
	}
	return &Submission{Document: doc, Image: data}, nil
}

// URL fetches a page, reduces it to markdown and enters the text pipeline.
func (in *Intake) URL(ctx context.Context, rawURL, ontology string) (*Submission, error) {
	if err := checkOntology(ontology); err != nil {
		return nil, err
	}
	page, err := in.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	sub, err := in.Text(page.Markdown, slugify(page.Title)+".md", ontology)
	if err != nil {
		return nil, err
	}
	sub.Document.SourceURL = page.URL
	return sub, nil
}

func (in *Intake) maxUpload() int64 {
	if in.config.MaxUploadBytes > 0 {
		return in.config.MaxUploadBytes
	}
	return 25 << 20
}

func checkOntology(ontology string) error {
	if strings.TrimSpace(ontology) == "" {
		return kgerrors.Validation("ontology is required")
	}
	return nil
}

func textMime(filename string) string {
	switch strings.ToLower(path.Ext(filename)) {
	case ".txt", ".text":
		return "text/plain"
	default:
		return "text/markdown"
	}
}

// slugify reduces a page title to a filesystem-friendly name.
func slugify(title string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(title) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastDash = false
		case !lastDash:
			b.WriteByte('-')
			lastDash = true
		}
		if b.Len() >= 80 {
			break
		}
	}
	slug := strings.Trim(b.String(), "-")
	if slug == "" {
		return "page"
	}
	return slug
}
