// Package upload manages the server-side upload area: source files waiting
// to be imported and the asset pool that import rows reference by file name.
package upload

import (
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
)

// AssetInfo describes one file in the asset pool.
type AssetInfo struct {
	Name     string
	Size     int64
	MimeType string
}

// Store is the upload area a dispatcher reads sources from and the commit
// engine attaches assets out of.
type Store interface {
	SaveSource(name string, r io.Reader) (string, error)
	OpenCSV(ref string, comma rune) (*CSVSource, error)
	OpenXML(ref string) (io.ReadCloser, error)

	SaveAsset(name string, r io.Reader) error
	Asset(name string) (*AssetInfo, error)
	RebuildDerived(name string) error
}

// FSStore implements Store on a local directory: sources/ holds uploaded
// import files, assets/ the referenced asset pool, derived/ the generated
// artifacts.
type FSStore struct {
	root string
}

// NewFSStore creates the upload area directories under root.
func NewFSStore(root string) (*FSStore, error) {
	for _, dir := range []string{"sources", "assets", "derived"} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, fmt.Errorf("create upload dir: %w", err)
		}
	}
	return &FSStore{root: root}, nil
}

// SaveSource stores an uploaded import file and returns its reference.
func (s *FSStore) SaveSource(name string, r io.Reader) (string, error) {
	ref := filepath.Base(name)
	f, err := os.Create(filepath.Join(s.root, "sources", ref))
	if err != nil {
		return "", fmt.Errorf("create source file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return "", fmt.Errorf("write source file: %w", err)
	}
	return ref, nil
}

// OpenCSV opens a stored source file for row-by-row reading.
func (s *FSStore) OpenCSV(ref string, comma rune) (*CSVSource, error) {
	f, err := os.Open(filepath.Join(s.root, "sources", filepath.Base(ref)))
	if err != nil {
		return nil, fmt.Errorf("open source %s: %w", ref, err)
	}

	reader := csv.NewReader(f)
	if comma != 0 {
		reader.Comma = comma
	}
	// Rows may be ragged; short rows read as blank cells downstream.
	reader.FieldsPerRecord = -1

	return &CSVSource{file: f, reader: reader}, nil
}

// OpenXML opens a stored source file as a raw stream.
func (s *FSStore) OpenXML(ref string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(s.root, "sources", filepath.Base(ref)))
	if err != nil {
		return nil, fmt.Errorf("open source %s: %w", ref, err)
	}
	return f, nil
}

// SaveAsset stores a file into the asset pool.
func (s *FSStore) SaveAsset(name string, r io.Reader) error {
	f, err := os.Create(filepath.Join(s.root, "assets", filepath.Base(name)))
	if err != nil {
		return fmt.Errorf("create asset file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("write asset file: %w", err)
	}
	return nil
}

// Asset describes a pooled file, or returns nil, nil when the pool does not
// contain it.
func (s *FSStore) Asset(name string) (*AssetInfo, error) {
	path := filepath.Join(s.root, "assets", filepath.Base(name))
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat asset %s: %w", name, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open asset %s: %w", name, err)
	}
	defer f.Close()

	head := make([]byte, 512)
	n, err := f.Read(head)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("read asset %s: %w", name, err)
	}

	return &AssetInfo{
		Name:     filepath.Base(name),
		Size:     info.Size(),
		MimeType: http.DetectContentType(head[:n]),
	}, nil
}

// RebuildDerived regenerates the derived artifact for a pooled asset.
func (s *FSStore) RebuildDerived(name string) error {
	info, err := s.Asset(name)
	if err != nil {
		return err
	}
	if info == nil {
		return fmt.Errorf("asset %s not in pool", name)
	}

	derived, err := os.Create(filepath.Join(s.root, "derived", info.Name+".meta"))
	if err != nil {
		return fmt.Errorf("create derived file: %w", err)
	}
	defer derived.Close()

	_, err = fmt.Fprintf(derived, "name=%s\nsize=%d\nmime=%s\n", info.Name, info.Size, info.MimeType)
	if err != nil {
		return fmt.Errorf("write derived file: %w", err)
	}
	return nil
}

// CSVSource reads a stored CSV source one row at a time.
type CSVSource struct {
	file   *os.File
	reader *csv.Reader
	header []string
}

// Header returns the first row, reading it if not yet consumed.
func (c *CSVSource) Header() ([]string, error) {
	if c.header != nil {
		return c.header, nil
	}
	row, err := c.reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	c.header = row
	return row, nil
}

// Next returns the next data row, or io.EOF when exhausted. The header row
// is consumed implicitly on the first call.
func (c *CSVSource) Next() ([]string, error) {
	if c.header == nil {
		if _, err := c.Header(); err != nil {
			return nil, err
		}
	}
	return c.reader.Read()
}

// Close releases the underlying file.
func (c *CSVSource) Close() error {
	return c.file.Close()
}
