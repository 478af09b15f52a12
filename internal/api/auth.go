package api

import (
	"net/http"

	"github.com/sattu-dealer/Image-Tools/internal/auth"
)

func (s *Server) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.verifier == nil {
			writeJSON(w, http.StatusUnauthorized, errorBody("Not authorized"))
			return
		}

		owner, err := s.verifier.Verify(auth.BearerToken(r.Header.Get("Authorization")))
		if err != nil {
			s.metrics.authRejected.Inc()
			writeJSON(w, http.StatusUnauthorized, errorBody("Not authorized, token failed"))
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithOwner(r.Context(), owner)))
	})
}

func ownerOf(r *http.Request) string {
	owner, _ := auth.OwnerFrom(r.Context())
	return owner
}
