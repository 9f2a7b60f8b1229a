package drop

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"
)

// maxKeyName caps the filename part of a storage key, in bytes.
const maxKeyName = 200

// sanitizeFilename makes an uploaded filename safe to embed in a storage key.
// The original name is still what gets recorded and shown to downloaders.
func sanitizeFilename(name string) string {
	name = strings.ToValidUTF8(name, "_")
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.ReplaceAll(name, "\x00", "")
	name = strings.Trim(name, " .")

	if len(name) > maxKeyName {
		ext := filepath.Ext(name)
		if len(ext) > 20 {
			ext = ""
		}
		base := name[:len(name)-len(ext)]
		// Object names must stay valid UTF-8, so cut on a rune boundary.
		cut := maxKeyName - len(ext)
		for cut > 0 && !utf8.RuneStart(base[cut]) {
			cut--
		}
		name = base[:cut] + ext
	}
	if name == "" {
		name = "unnamed"
	}
	return name
}

func batchKey(code string, at time.Time, index int, filename string) string {
	return fmt.Sprintf("uploads/%s-%d-%d-%s", code, at.UnixMilli(), index, sanitizeFilename(filename))
}

func groupKey(groupID string, at time.Time, filename string) string {
	return fmt.Sprintf("groups/%s/%d-%s", groupID, at.UnixMilli(), sanitizeFilename(filename))
}
