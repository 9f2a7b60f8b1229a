package server

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"file-drop/internal/drop"
)

const multipartMemory = 32 << 20

type fileSummary struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType"`
}

type uploadResp struct {
	Code           string        `json:"code"`
	QRCode         string        `json:"qrCode"`
	DownloadURL    string        `json:"downloadURL"`
	FilesCount     int           `json:"filesCount"`
	FilesSavedToDB int           `json:"filesSavedToDb"`
	Files          []fileSummary `json:"files"`
}

// handleUpload accepts multipart field "files" (1..MaxFiles parts) and
// stores them as one batch under a new share code.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	form, err := s.parseMultipart(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer func() { _ = form.RemoveAll() }()

	headers := form.File["files"]
	switch {
	case len(headers) == 0:
		s.writeError(w, r, drop.ErrNoFiles)
		return
	case len(headers) > s.cfg.MaxFiles:
		s.writeError(w, r, invalid(fmt.Sprintf("too many files: at most %d per upload", s.cfg.MaxFiles)))
		return
	}

	payloads := make([]drop.Payload, 0, len(headers))
	for _, fh := range headers {
		p, err := readPart(fh)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		payloads = append(payloads, p)
	}

	res, err := s.svc.Upload(r.Context(), payloads)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := uploadResp{
		Code:           res.Code,
		QRCode:         res.QRCode,
		DownloadURL:    res.DownloadURL,
		FilesCount:     res.FilesCount,
		FilesSavedToDB: res.FilesSaved,
		Files:          make([]fileSummary, 0, len(res.Files)),
	}
	for _, f := range res.Files {
		resp.Files = append(resp.Files, fileSummary(f))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) parseMultipart(w http.ResponseWriter, r *http.Request) (*multipart.Form, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return nil, err
		}
		return nil, invalid("request must be multipart/form-data")
	}
	return r.MultipartForm, nil
}

// readPart loads one uploaded part into memory.
func readPart(fh *multipart.FileHeader) (drop.Payload, error) {
	f, err := fh.Open()
	if err != nil {
		return drop.Payload{}, fmt.Errorf("open part %q: %w", fh.Filename, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return drop.Payload{}, fmt.Errorf("read part %q: %w", fh.Filename, err)
	}
	return drop.Payload{
		Filename:    displayName(fh.Filename),
		ContentType: contentType(fh, data),
		Data:        data,
		Size:        int64(len(data)),
	}, nil
}
