// Package library maintains books.json, the ordered duplicate free index of
// downloaded novel directories.
package library

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/charmbracelet/log"
	"github.com/hako-dl/hako-dl/common"
)

// IndexFilename is the default index file name.
const IndexFilename = "books.json"

type indexFile struct {
	Books []string `json:"books"`
}

// Index is a books.json file at a fixed path.
type Index struct {
	path string
}

// NewIndex points at an index file, creating nothing yet.
func NewIndex(path string) *Index {
	if path == "" {
		path = IndexFilename
	}

	return &Index{path: path}
}

// Read returns the current book list. A missing file is created empty, an
// unreadable one is treated as empty.
func (idx *Index) Read() []string {
	data, err := os.ReadFile(idx.path)
	if os.IsNotExist(err) {
		if writeErr := idx.write([]string{}); writeErr != nil {
			log.Warnf("failed to initialize %s: %s", idx.path, writeErr)
		}
		return []string{}
	}
	if err != nil {
		return []string{}
	}

	parsed := indexFile{}
	if err = json.Unmarshal(data, &parsed); err != nil {
		log.Warnf("ignoring malformed %s: %s", idx.path, err)
		return []string{}
	}
	if parsed.Books == nil {
		return []string{}
	}

	return parsed.Books
}

// Add records a book directory in the index. Adding an already present entry
// is a no-op, so repeated runs stay idempotent.
func (idx *Index) Add(bookDir string) error {
	books := idx.Read()
	for _, existing := range books {
		if existing == bookDir {
			return nil
		}
	}

	books = append(books, bookDir)

	if err := idx.write(books); err != nil {
		return err
	}

	log.Infof("added %q to %s", bookDir, idx.path)

	return nil
}

// write persists a sorted, deduplicated book list.
func (idx *Index) write(books []string) error {
	seen := map[string]bool{}
	unique := []string{}
	for _, book := range books {
		if !seen[book] {
			seen[book] = true
			unique = append(unique, book)
		}
	}
	sort.Strings(unique)

	data, err := json.MarshalIndent(indexFile{Books: unique}, "", "  ")
	if err != nil {
		return fmt.Errorf("JSON conversion failed: %s", err)
	}

	if err = common.WriteFileAtomic(idx.path, data); err != nil {
		return fmt.Errorf("failed to write %s: %s", idx.path, err)
	}

	return nil
}
