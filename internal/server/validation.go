package server

import (
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

const maxGroupNameLen = 100

// contentType picks the MIME type for an uploaded part: the part's own
// header, then the extension, then sniffing the first bytes.
func contentType(fh *multipart.FileHeader, data []byte) string {
	if ct := fh.Header.Get("Content-Type"); ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err == nil && mt != "application/octet-stream" {
			return mt
		}
	}
	if ext := filepath.Ext(fh.Filename); ext != "" {
		if byExt := mime.TypeByExtension(strings.ToLower(ext)); byExt != "" {
			if mt, _, err := mime.ParseMediaType(byExt); err == nil {
				return mt
			}
		}
	}
	if len(data) > 0 {
		mt, _, _ := mime.ParseMediaType(http.DetectContentType(data))
		if mt != "" {
			return mt
		}
	}
	return "application/octet-stream"
}

// displayName strips any client-supplied directory from a part filename.
func displayName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	name = strings.TrimSpace(strings.ReplaceAll(name, "\x00", ""))
	if name == "" {
		return "unnamed"
	}
	return name
}

func validateGroupName(name string) error {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return invalid("group name is required")
	case utf8.RuneCountInString(name) > maxGroupNameLen:
		return invalid("group name must be at most 100 characters")
	}
	return nil
}
