package loader

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"ragqa/types"
)

const documentExt = ".txt"

// LoadDirectory reads every .txt file directly inside dir. Files that cannot
// be read are skipped with a warning.
func LoadDirectory(dir string) ([]types.Document, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", types.ErrInvalidPath, dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %q is not a directory", types.ErrInvalidPath, dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read documents directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var docs []types.Document
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), documentExt) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			slog.Warn("[LOADER] skipping unreadable document", "file", entry.Name(), "error", err)
			continue
		}
		docs = append(docs, types.Document{Name: entry.Name(), Content: strings.ToValidUTF8(string(data), "\uFFFD")})
	}
	return docs, nil
}

// SeedDirectory creates dir and, when it holds no files, writes an example
// document so the service has something to index on first start.
func SeedDirectory(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	if len(entries) > 0 {
		return nil
	}
	example := filepath.Join(dir, "example.txt")
	content := "This is an example document created automatically for the API.\n" +
		"Add more .txt files to this directory and call /index_documents.\n"
	if err := os.WriteFile(example, []byte(content), 0644); err != nil {
		return err
	}
	slog.Info("[LOADER] created example document", "path", example)
	return nil
}
