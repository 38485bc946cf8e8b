package export

import (
	"archive/zip"
	"bytes"
	"fmt"
)

type archiveEntry struct {
	Name string
	Data []byte
}

// buildZip packs entries into an in-memory zip archive. Duplicate entry
// names get a numeric suffix so two texts with the same title both survive.
func buildZip(entries []archiveEntry) ([]byte, error) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)

	seen := make(map[string]int)
	for _, entry := range entries {
		name := entry.Name
		if n := seen[entry.Name]; n > 0 {
			name = fmt.Sprintf("%s-%d%s", stripExt(entry.Name), n, ext(entry.Name))
		}
		seen[entry.Name]++

		f, err := w.Create(name)
		if err != nil {
			return nil, fmt.Errorf("create zip entry %s: %w", name, err)
		}
		if _, err := f.Write(entry.Data); err != nil {
			return nil, fmt.Errorf("write zip entry %s: %w", name, err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close zip: %w", err)
	}
	return buf.Bytes(), nil
}

func stripExt(name string) string {
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '.' {
			return name[:i]
		}
	}
	return name
}

func ext(name string) string {
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '.' {
			return name[i:]
		}
	}
	return ""
}
