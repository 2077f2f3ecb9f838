package filter

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/banshee-data/csistudio/internal/monitoring"
)

// Opener loads one filter file.
type Opener func(path string) (Filter, error)

// LoadDir scans dir for filter plugins, sorted by file name, and opens each
// with open (OpenNative when nil). Files that fail to load become
// unprepared handles; they never stop the scan.
func LoadDir(dir string, open Opener) ([]*Handle, error) {
	if open == nil {
		open = func(path string) (Filter, error) { return OpenNative(path) }
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read filter directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), Extension) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	handles := make([]*Handle, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		f, err := open(path)
		if err != nil {
			monitoring.Logf("Error loading filter %s: %v", path, err)
			handles = append(handles, FailedHandle(path, err))
			continue
		}
		h := NewHandle(path, f)
		monitoring.Logf("Successfully loaded filter: %s", h.Name())
		handles = append(handles, h)
	}
	return handles, nil
}
