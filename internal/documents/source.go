// Package documents lists resumes at a locator and extracts their text.
package documents

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/raphaelgruber/resumerank/internal/parser"
)

var (
	// ErrNotFound means the locator or document does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrAccessDenied means the document exists but may not be read.
	ErrAccessDenied = errors.New("document access denied")

	// ErrUnsupported means the document format cannot be extracted.
	ErrUnsupported = errors.New("unsupported document format")
)

// Document identifies one document at a source.
type Document struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Source is where resumes come from.
type Source interface {
	// List returns the documents at locator in a stable order.
	List(ctx context.Context, locator string) ([]Document, error)
	FetchText(ctx context.Context, id string) (string, error)
}

var supportedExts = []string{".pdf", ".txt", ".md", ".markdown"}

// DirSource reads documents from a local directory tree.
type DirSource struct {
	// Root confines locators and document ids. Relative locators resolve
	// against it. Empty means any path is allowed.
	Root string
}

// NewDirSource creates a directory source confined to root.
func NewDirSource(root string) *DirSource {
	return &DirSource{Root: root}
}

// List returns the supported files directly inside the locator directory,
// sorted by name. Subdirectories are not descended into.
func (s *DirSource) List(ctx context.Context, locator string) ([]Document, error) {
	dir, err := s.resolve(locator)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, mapFSError(locator, err)
	}

	docs := make([]Document, 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if !slices.Contains(supportedExts, strings.ToLower(filepath.Ext(e.Name()))) {
			continue
		}
		docs = append(docs, Document{
			ID:   filepath.Join(dir, e.Name()),
			Name: e.Name(),
		})
	}

	slices.SortFunc(docs, func(a, b Document) int {
		return strings.Compare(a.Name, b.Name)
	})

	slog.Debug("listed documents", "locator", locator, "count", len(docs))
	return docs, nil
}

// FetchText extracts the text of one document.
func (s *DirSource) FetchText(ctx context.Context, id string) (string, error) {
	path, err := s.resolve(id)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return readPDF(path)
	case ".md", ".markdown":
		data, err := os.ReadFile(path)
		if err != nil {
			return "", mapFSError(id, err)
		}
		doc, err := parser.ParseMarkdown(string(data))
		if err != nil {
			return "", fmt.Errorf("parse %s: %w", filepath.Base(path), err)
		}
		return doc.PlainText(), nil
	case ".txt":
		data, err := os.ReadFile(path)
		if err != nil {
			return "", mapFSError(id, err)
		}
		return strings.TrimSpace(string(data)), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupported, filepath.Base(path))
	}
}

// resolve turns a locator or id into a cleaned path under Root.
func (s *DirSource) resolve(p string) (string, error) {
	if s.Root == "" {
		return filepath.Clean(p), nil
	}

	root, err := filepath.Abs(s.Root)
	if err != nil {
		return "", fmt.Errorf("resolve root: %w", err)
	}
	path := p
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	path = filepath.Clean(path)

	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s is outside %s", ErrAccessDenied, p, s.Root)
	}
	return path, nil
}

func readPDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
			return "", mapFSError(path, err)
		}
		return "", fmt.Errorf("open pdf %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	var b strings.Builder
	for pageIndex := 1; pageIndex <= r.NumPage(); pageIndex++ {
		p := r.Page(pageIndex)
		if p.V.IsNull() {
			continue
		}

		text, err := p.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("extract text from page %d of %s: %w", pageIndex, filepath.Base(path), err)
		}
		b.WriteString(text)
		b.WriteString("\n")
	}

	return strings.TrimSpace(b.String()), nil
}

func mapFSError(name string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %s", ErrAccessDenied, name)
	default:
		return fmt.Errorf("read %s: %w", name, err)
	}
}
