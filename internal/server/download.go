package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type signedFileResp struct {
	Filename    string `json:"filename"`
	DownloadURL string `json:"downloadUrl"`
	MimeType    string `json:"mimeType"`
	FileSize    int64  `json:"fileSize"`
	BatchIndex  int    `json:"batchIndex"`
}

type redeemResp struct {
	Files      []signedFileResp `json:"files"`
	FilesCount int              `json:"filesCount"`
	TotalSize  int64            `json:"totalSize"`
}

// handleRedeem serves GET /file/{code}. A one-shot batch can be redeemed
// once; the second call gets 410.
func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	red, err := s.svc.Redeem(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := redeemResp{
		Files:      make([]signedFileResp, 0, len(red.Files)),
		FilesCount: red.FilesCount,
		TotalSize:  red.TotalSize,
	}
	for _, f := range red.Files {
		resp.Files = append(resp.Files, signedFileResp(f))
	}
	writeJSON(w, http.StatusOK, resp)
}
