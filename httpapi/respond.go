package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/digitorus/signflow"
)

// errorBody is the JSON body of every error response.
type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorBody{Error: message})
}

// statusOf maps an error kind to its HTTP status.
func statusOf(k signflow.Kind) int {
	switch k {
	case signflow.KindValidation, signflow.KindMalformedToken, signflow.KindLastPageUndeletable:
		return http.StatusBadRequest
	case signflow.KindForbidden:
		return http.StatusForbidden
	case signflow.KindNotFound, signflow.KindSignerNotFound:
		return http.StatusNotFound
	case signflow.KindDocumentLocked, signflow.KindSignerOutOfTurn:
		return http.StatusConflict
	case signflow.KindDocumentExpired:
		return http.StatusGone
	case signflow.KindFileTooLarge:
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err as a JSON error. Internal failures are logged and not
// described to the client.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	k := signflow.KindOf(err)
	status := statusOf(k)
	body := errorBody{Error: err.Error(), Kind: k.String()}
	if status == http.StatusInternalServerError {
		var e *signflow.Error
		ev := s.log.Error().Err(err).Str("method", r.Method).Str("path", redactToken(r.URL.Path))
		if errors.As(err, &e) {
			ev = ev.Str("op", e.Op).Str("document", e.DocumentID)
		}
		ev.Msg("request failed")
		body.Error = http.StatusText(status)
	}
	respondJSON(w, status, body)
}
