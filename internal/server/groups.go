package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"file-drop/internal/drop"
)

type groupResp struct {
	GroupID   string    `json:"groupId"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

type groupFileResp struct {
	Filename   string    `json:"filename"`
	MimeType   string    `json:"mimeType"`
	FileSize   int64     `json:"fileSize"`
	UploadedAt time.Time `json:"uploadedAt"`
	Code       string    `json:"code"`
}

type groupListingResp struct {
	Group groupResp       `json:"group"`
	Files []groupFileResp `json:"files"`
}

type groupUploadResp struct {
	Message string `json:"message"`
	File    struct {
		Filename string `json:"filename"`
		Size     int64  `json:"size"`
		MimeType string `json:"mimeType"`
		Code     string `json:"code"`
	} `json:"file"`
}

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, invalid("request body must be JSON with a name"))
		return
	}
	if err := validateGroupName(req.Name); err != nil {
		s.writeError(w, r, err)
		return
	}

	g, err := s.svc.CreateGroup(r.Context(), req.Name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toGroupResp(g))
}

// handleGetGroup serves both /group/{groupId} and /group/{groupId}/files.
func (s *Server) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	g, recs, err := s.svc.GetGroup(r.Context(), chi.URLParam(r, "groupId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := groupListingResp{
		Group: toGroupResp(g),
		Files: make([]groupFileResp, 0, len(recs)),
	}
	for _, rec := range recs {
		resp.Files = append(resp.Files, groupFileResp{
			Filename:   rec.Filename,
			MimeType:   rec.MimeType,
			FileSize:   rec.FileSize,
			UploadedAt: rec.UploadedAt,
			Code:       rec.Code,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleGroupUpload accepts a single multipart field "file".
func (s *Server) handleGroupUpload(w http.ResponseWriter, r *http.Request) {
	form, err := s.parseMultipart(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer func() { _ = form.RemoveAll() }()

	headers := form.File["file"]
	if len(headers) == 0 {
		s.writeError(w, r, invalid("no file provided"))
		return
	}
	p, err := readPart(headers[0])
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	rec, err := s.svc.UploadToGroup(r.Context(), chi.URLParam(r, "groupId"), p)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var resp groupUploadResp
	resp.Message = "File uploaded successfully"
	resp.File.Filename = rec.Filename
	resp.File.Size = rec.FileSize
	resp.File.MimeType = rec.MimeType
	resp.File.Code = rec.Code
	writeJSON(w, http.StatusOK, resp)
}

func toGroupResp(g drop.Group) groupResp {
	return groupResp{GroupID: g.GroupID, Name: g.Name, CreatedAt: g.CreatedAt}
}
