package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

//go:embed sql/*.sql
var files embed.FS

// Schema returns every migration concatenated in file-name order
func Schema() (string, error) {
	entries, err := fs.ReadDir(files, "sql")
	if err != nil {
		return "", fmt.Errorf("could not read migrations: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		content, err := fs.ReadFile(files, "sql/"+name)
		if err != nil {
			return "", fmt.Errorf("could not read migration %s: %w", name, err)
		}
		b.Write(content)
		b.WriteString("\n")
	}
	return b.String(), nil
}
