package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"file-drop/internal/logging"
)

func requestID(ctx context.Context) string {
	return middleware.GetReqID(ctx)
}

// echoRequestID returns the request id to the client.
func echoRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rid := requestID(r.Context()); rid != "" {
			w.Header().Set(middleware.RequestIDHeader, rid)
		}
		next.ServeHTTP(w, r)
	})
}

// accessLog writes one line per request. 5xx log at error, 4xx at warn.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		reqLog := s.log.With("request_id", requestID(r.Context()))
		next.ServeHTTP(ww, r.WithContext(logging.WithLogger(r.Context(), reqLog)))

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		level := slog.LevelInfo
		switch {
		case status >= 500:
			level = slog.LevelError
		case status >= 400:
			level = slog.LevelWarn
		}

		reqLog.LogAttrs(r.Context(), level, "http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.Int64("ms", time.Since(start).Milliseconds()),
			slog.Int("bytes", ww.BytesWritten()),
			slog.String("ip", s.ips.resolve(r)),
			slog.String("ua", r.UserAgent()),
		)
	})
}
