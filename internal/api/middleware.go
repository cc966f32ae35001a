package api

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/dunamismax/cutout/internal/requestip"
	"github.com/dunamismax/cutout/internal/security"
)

var corsAllowHeaders = strings.Join([]string{
	"Content-Type",
	security.HeaderAPIKey,
	security.HeaderTimestamp,
	security.HeaderSignature,
	adminPasswordHeader,
}, ", ")

func (s *Server) withRecover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			if s.debug {
				s.logger.Printf("panic method=%s path=%s err=%v\n%s", r.Method, r.URL.Path, rec, debug.Stack())
			} else {
				s.logger.Printf("panic method=%s path=%s err=%v", r.Method, r.URL.Path, rec)
			}
			writeJSON(w, http.StatusInternalServerError, httpError{
				Message: "internal server error",
				Details: fmt.Sprint(rec),
			})
		}()
		next.ServeHTTP(w, r)
	})
}

// withCORS answers every preflight with 200 before any access checks run.
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allow, ok := originAllowed(s.allowedOrigins, origin); ok {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", allow)
			if allow != "*" {
				h.Add("Vary", "Origin")
			}
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
			h.Set("Access-Control-Expose-Headers", "Content-Disposition, Content-Length, Retry-After")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) withAllowList(next http.Handler) http.Handler {
	if !s.allowList.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := requestip.ClientIP(r, s.trusted)
		if err := s.allowList.Check(ip); err != nil {
			s.logger.Printf("blocked request ip=%s method=%s path=%s", ip, r.Method, r.URL.Path)
			s.writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withAPIKey guards state-changing routes; reads stay open.
func (s *Server) withAPIKey(next http.Handler) http.Handler {
	if !s.verifier.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			next.ServeHTTP(w, r)
			return
		}
		if err := s.verifier.VerifyRequest(r); err != nil {
			s.writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func originAllowed(allowed []string, origin string) (string, bool) {
	for _, o := range allowed {
		o = strings.TrimSpace(o)
		if o == "*" {
			return "*", true
		}
		if origin != "" && strings.EqualFold(o, origin) {
			return origin, true
		}
	}
	return "", false
}
