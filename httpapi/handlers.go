package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/digitorus/signflow"
	"github.com/digitorus/signflow/audit"
	"github.com/digitorus/signflow/placement"
	"github.com/digitorus/signflow/routing"
	"github.com/digitorus/signflow/sharelink"
)

// createBody is the JSON form of a new document. File holds the PDF,
// base64 encoded.
type createBody struct {
	Name         string                `json:"name"`
	Note         string                `json:"note"`
	FileURL      string                `json:"fileUrl"`
	File         []byte                `json:"file"`
	Signers      []signflow.Signer     `json:"signers"`
	Placeholders []placement.Placement `json:"placeholders"`
	Routing      routing.Mode          `json:"routing"`
	ExpiresAt    *time.Time            `json:"expiresAt"`
}

func (b createBody) request() signflow.CreateRequest {
	req := signflow.CreateRequest{
		Name:         b.Name,
		Note:         b.Note,
		FileURL:      b.FileURL,
		File:         b.File,
		Signers:      b.Signers,
		Placeholders: b.Placeholders,
		Routing:      b.Routing,
	}
	if b.ExpiresAt != nil {
		req.ExpiresAt = *b.ExpiresAt
	}
	return req
}

// jsonLimit bounds JSON bodies, which may carry a base64 encoded upload.
func (s *Server) jsonLimit() int64 {
	return s.maxUpload/3*4 + 1<<20
}

// decode reads the JSON body of r into v. An empty body leaves v untouched
// when optional is set.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any, optional bool) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.jsonLimit())
	err := json.NewDecoder(r.Body).Decode(v)
	var tooLarge *http.MaxBytesError
	switch {
	case err == nil:
		return nil
	case optional && errors.Is(err, io.EOF):
		return nil
	case errors.As(err, &tooLarge):
		return &signflow.Error{Kind: signflow.KindFileTooLarge, Err: err}
	default:
		return &signflow.Error{Kind: signflow.KindValidation, Err: fmt.Errorf("invalid request body: %w", err)}
	}
}

// readUpload reads at most one byte more than the upload limit so the
// workflow can reject oversized files.
func (s *Server) readUpload(body io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(body, s.maxUpload+1))
	if err != nil {
		return nil, &signflow.Error{Kind: signflow.KindValidation, Err: fmt.Errorf("read upload: %w", err)}
	}
	return data, nil
}

func pageParam(r *http.Request) (int, error) {
	n, err := strconv.Atoi(mux.Vars(r)["page"])
	if err != nil {
		return 0, &signflow.Error{Kind: signflow.KindValidation, Err: fmt.Errorf("invalid page number: %w", err)}
	}
	return n, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleCreate accepts either a JSON body or a multipart form with a
// "metadata" JSON field and a "file" part.
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var body createBody
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload+1<<20)
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				s.fail(w, r, &signflow.Error{Kind: signflow.KindFileTooLarge, Err: err})
				return
			}
			respondError(w, http.StatusBadRequest, "Invalid multipart form")
			return
		}
		if err := json.Unmarshal([]byte(r.FormValue("metadata")), &body); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid metadata")
			return
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			respondError(w, http.StatusBadRequest, "Missing file")
			return
		}
		defer f.Close()
		if body.File, err = s.readUpload(f); err != nil {
			s.fail(w, r, err)
			return
		}
	} else if err := s.decode(w, r, &body, false); err != nil {
		s.fail(w, r, err)
		return
	}

	doc, err := s.wf.CreateDocument(r.Context(), body.request())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	doc, err := s.wf.GetDocument(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	doc, err := s.wf.SendDocument(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handleGetPlaceholders(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	ps, err := s.wf.GetPlaceholders(r.Context(), vars["id"], vars["signer"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, ps)
}

func (s *Server) handleSetPlaceholders(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var ps []placement.Placement
	if err := s.decode(w, r, &ps, false); err != nil {
		s.fail(w, r, err)
		return
	}
	doc, err := s.wf.SetPlaceholders(r.Context(), vars["id"], vars["signer"], ps)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handleRemoveSigner(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	doc, err := s.wf.RemoveSigner(r.Context(), vars["id"], vars["signer"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, doc)
}

type linkBody struct {
	Token string `json:"token"`
	URL   string `json:"url,omitempty"`
}

func (s *Server) handleLink(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	token, err := s.wf.IssueShareLink(r.Context(), vars["id"], vars["signer"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	body := linkBody{Token: token}
	if s.linkBase != "" {
		body.URL = s.linkBase + token
	}
	respondJSON(w, http.StatusOK, body)
}

func (s *Server) handleExpiry(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ExpiresAt *time.Time `json:"expiresAt"`
	}
	if err := s.decode(w, r, &body, false); err != nil {
		s.fail(w, r, err)
		return
	}
	var at time.Time
	if body.ExpiresAt != nil {
		at = *body.ExpiresAt
	}
	doc, err := s.wf.ExtendExpiry(r.Context(), mux.Vars(r)["id"], at)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, doc)
}

// handleMerge appends the pages of the raw PDF request body.
func (s *Server) handleMerge(w http.ResponseWriter, r *http.Request) {
	data, err := s.readUpload(r.Body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	doc, err := s.wf.MergePage(r.Context(), mux.Vars(r)["id"], data)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDeletePage(w http.ResponseWriter, r *http.Request) {
	n, err := pageParam(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	doc, err := s.wf.DeletePage(r.Context(), mux.Vars(r)["id"], n)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handleRotate(w http.ResponseWriter, r *http.Request) {
	n, err := pageParam(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var body struct {
		Degrees int `json:"degrees"`
	}
	if err := s.decode(w, r, &body, false); err != nil {
		s.fail(w, r, err)
		return
	}
	doc, err := s.wf.RotatePage(r.Context(), mux.Vars(r)["id"], n, body.Degrees)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := s.wf.GetAuditTrail(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	digest, err := audit.Trail(entries).Digest()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("X-Audit-SHA256", digest)
	respondJSON(w, http.StatusOK, entries)
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	f, err := s.wf.CompletedFile(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", id+".pdf"))
	w.Header().Set("X-Content-SHA256", f.Digest)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(f.PDF)
}

func (s *Server) handleSeal(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	f, err := s.wf.CompletedFile(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if len(f.Seal) == 0 {
		respondError(w, http.StatusNotFound, "Document is not sealed")
		return
	}
	w.Header().Set("Content-Type", "application/pkcs7-signature")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", id+".p7s"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(f.Seal)
}

// link resolves the share link token of the request. It writes the error
// response and returns false when the token is not usable.
func (s *Server) link(w http.ResponseWriter, r *http.Request) (sharelink.Link, bool) {
	l, err := s.wf.ResolveShareLink(r.Context(), mux.Vars(r)["token"])
	if err != nil {
		s.fail(w, r, err)
		return sharelink.Link{}, false
	}
	return l, true
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	l, ok := s.link(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, l)
}

func (s *Server) handleSignerPlaceholders(w http.ResponseWriter, r *http.Request) {
	l, ok := s.link(w, r)
	if !ok {
		return
	}
	ctx := signflow.WithShareLink(r.Context(), l)
	ps, err := s.wf.GetPlaceholders(ctx, l.DocumentID, l.SignerID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, ps)
}

// signerView is what a signer learns about the document after acting on it.
type signerView struct {
	DocumentID string          `json:"documentId"`
	Status     signflow.Status `json:"status"`
}

func (s *Server) handleSignerSetPlaceholders(w http.ResponseWriter, r *http.Request) {
	l, ok := s.link(w, r)
	if !ok {
		return
	}
	var ps []placement.Placement
	if err := s.decode(w, r, &ps, false); err != nil {
		s.fail(w, r, err)
		return
	}
	ctx := signflow.WithShareLink(r.Context(), l)
	doc, err := s.wf.SetPlaceholders(ctx, l.DocumentID, l.SignerID, ps)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, signerView{DocumentID: doc.ID, Status: doc.Status})
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	l, ok := s.link(w, r)
	if !ok {
		return
	}
	if err := s.wf.RecordView(r.Context(), l.DocumentID, l.SignerID, clientIP(r)); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSign(w http.ResponseWriter, r *http.Request) {
	l, ok := s.link(w, r)
	if !ok {
		return
	}
	var body struct {
		Placements []placement.Placement `json:"placements"`
	}
	if err := s.decode(w, r, &body, true); err != nil {
		s.fail(w, r, err)
		return
	}
	doc, err := s.wf.SubmitSignature(r.Context(), l.DocumentID, l.SignerID, body.Placements, clientIP(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, signerView{DocumentID: doc.ID, Status: doc.Status})
}

func (s *Server) handleDecline(w http.ResponseWriter, r *http.Request) {
	l, ok := s.link(w, r)
	if !ok {
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if err := s.decode(w, r, &body, true); err != nil {
		s.fail(w, r, err)
		return
	}
	doc, err := s.wf.DeclineDocument(r.Context(), l.DocumentID, l.SignerID, body.Reason, clientIP(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, signerView{DocumentID: doc.ID, Status: doc.Status})
}
