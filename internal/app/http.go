package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"notegate/api/internal/ledger"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	metrics    *Metrics
	log        *logrus.Entry
}

// NewHTTPServer builds the transport. metrics may be nil.
func NewHTTPServer(service *Service, corsOrigin string, metrics *Metrics, log *logrus.Entry) *HTTPServer {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &HTTPServer{service: service, corsOrigin: corsOrigin, metrics: metrics, log: log.WithField("component", "http")}
}

func (s *HTTPServer) Handler() http.Handler {
	r := mux.NewRouter()
	if s.metrics != nil {
		r.Use(s.metrics.instrument)
		r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}

	r.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/api/ready", s.handleReady).Methods(http.MethodGet, http.MethodHead)

	r.HandleFunc("/api/auth/signup", s.handleSignUp).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/signin", s.handleSignIn).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/refresh", s.handleRefresh).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/logout", s.handleLogout).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/password", s.authed(s.handleChangePassword)).Methods(http.MethodPost)
	r.HandleFunc("/api/session", s.handleSession).Methods(http.MethodGet)

	r.HandleFunc("/api/notes", s.authed(s.handleListNotes)).Methods(http.MethodGet)
	r.HandleFunc("/api/notes", s.authed(s.handleCreateNote)).Methods(http.MethodPost)
	r.HandleFunc("/api/notes/{id}", s.authed(s.handleGetNote)).Methods(http.MethodGet)
	r.HandleFunc("/api/notes/{id}", s.authed(s.handleEditNote)).Methods(http.MethodPut)
	r.HandleFunc("/api/notes/{id}", s.authed(s.handleDeleteNote)).Methods(http.MethodDelete)
	r.HandleFunc("/api/notes/{id}/history", s.authed(s.handleHistory)).Methods(http.MethodGet)
	r.HandleFunc("/api/notes/{id}/revert", s.authed(s.handleRevert)).Methods(http.MethodPost)
	r.HandleFunc("/api/notes/{id}/mirror", s.authed(s.handleMirrorHistory)).Methods(http.MethodGet)
	r.HandleFunc("/api/notes/{id}/mirror/{version:[0-9]+}", s.authed(s.handleMirrorContent)).Methods(http.MethodGet)

	r.HandleFunc("/api/notes/{id}/members", s.authed(s.handleListMembers)).Methods(http.MethodGet)
	r.HandleFunc("/api/notes/{id}/members/{userId}", s.authed(s.handleChangeRole)).Methods(http.MethodPut)
	r.HandleFunc("/api/notes/{id}/members/{userId}", s.authed(s.handleRemoveMember)).Methods(http.MethodDelete)
	r.HandleFunc("/api/notes/{id}/transfer", s.authed(s.handleTransfer)).Methods(http.MethodPost)

	r.HandleFunc("/api/notes/{id}/invitations", s.authed(s.handleListInvitations)).Methods(http.MethodGet)
	r.HandleFunc("/api/notes/{id}/invitations", s.authed(s.handleInvite)).Methods(http.MethodPost)
	r.HandleFunc("/api/invitations/accept", s.authed(s.handleAcceptInvitation)).Methods(http.MethodPost)
	r.HandleFunc("/api/invitations/{invitationId}", s.authed(s.handleRevokeInvitation)).Methods(http.MethodDelete)

	r.HandleFunc("/api/notes/{id}/share-links", s.authed(s.handleListShareLinks)).Methods(http.MethodGet)
	r.HandleFunc("/api/notes/{id}/share-links", s.authed(s.handleCreateShareLink)).Methods(http.MethodPost)
	r.HandleFunc("/api/share-links/{linkId}", s.authed(s.handleRevokeShareLink)).Methods(http.MethodDelete)
	r.HandleFunc("/api/shared/{token}", s.handleResolveShared).Methods(http.MethodGet)
	r.HandleFunc("/api/shared/{token}/comments", s.handleListSharedComments).Methods(http.MethodGet)
	r.HandleFunc("/api/shared/{token}/comments", s.handleAddSharedComment).Methods(http.MethodPost)

	r.HandleFunc("/api/notes/{id}/comments", s.authed(s.handleListComments)).Methods(http.MethodGet)
	r.HandleFunc("/api/notes/{id}/comments", s.authed(s.handleAddComment)).Methods(http.MethodPost)

	r.HandleFunc("/api/search", s.authed(s.handleSearch)).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})
	return s.withMiddleware(r)
}

type authedHandler func(w http.ResponseWriter, r *http.Request, sess Session)

func (s *HTTPServer) authed(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		current, ok := s.requireSession(w, r)
		if !ok {
			return
		}
		next(w, r, current)
	}
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	current, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		s.fail(w, r, err)
		return Session{}, false
	}
	return current, true
}

// fail maps err to a response. Server-side failures are logged with the
// request id; the caller only sees the mapped message.
func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.log.WithError(err).WithFields(logrus.Fields{
			"request_id": requestID(r.Context()),
			"code":       code,
		}).Error("request failed")
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{}
	for name, err := range s.service.Ping(ctx) {
		if err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks[name] = map[string]any{"status": "error", "error": err.Error()}
			continue
		}
		checks[name] = map[string]any{"status": "ok"}
	}
	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

// Auth

func (s *HTTPServer) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		DisplayName string `json:"displayName"`
	}
	if !decodeOrReject(w, r, &body) {
		return
	}
	created, err := s.service.SignUp(r.Context(), body.Email, body.Password, body.DisplayName)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionView(created))
}

func (s *HTTPServer) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decodeOrReject(w, r, &body) {
		return
	}
	created, err := s.service.SignIn(r.Context(), body.Email, body.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionView(created))
}

func (s *HTTPServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if !decodeOrReject(w, r, &body) {
		return
	}
	rotated, err := s.service.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionView(rotated))
}

func (s *HTTPServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	current := Session{}
	if token := bearerToken(r); token != "" {
		if parsed, err := s.service.SessionFromToken(r.Context(), token); err == nil {
			current = parsed
		}
	}
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	_ = decodeBody(r, &body)
	if err := s.service.Logout(r.Context(), current, body.RefreshToken); err != nil {
		s.log.WithError(err).WithField("request_id", requestID(r.Context())).Warn("logout incomplete")
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleChangePassword(w http.ResponseWriter, r *http.Request, sess Session) {
	var body struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
	}
	if !decodeOrReject(w, r, &body) {
		return
	}
	if err := s.service.ChangePassword(r.Context(), sess, body.CurrentPassword, body.NewPassword); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
		return
	}
	current, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"userId":        current.UserID,
		"userName":      current.UserName,
		"email":         current.Email,
	})
}

// Notes

func (s *HTTPServer) handleListNotes(w http.ResponseWriter, r *http.Request, sess Session) {
	notes, err := s.service.ListNotes(r.Context(), sess)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notes": mapEach(notes, visibleNoteView)})
}

func (s *HTTPServer) handleCreateNote(w http.ResponseWriter, r *http.Request, sess Session) {
	var body struct {
		Title   string `json:"title"`
		Content string `json:"content"`
	}
	if !decodeOrReject(w, r, &body) {
		return
	}
	note, err := s.service.CreateNote(r.Context(), sess, body.Title, body.Content)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, noteView(note))
}

func (s *HTTPServer) handleGetNote(w http.ResponseWriter, r *http.Request, sess Session) {
	note, err := s.service.GetNote(r.Context(), sess, mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, visibleNoteView(note))
}

func (s *HTTPServer) handleEditNote(w http.ResponseWriter, r *http.Request, sess Session) {
	var body struct {
		Title           *string `json:"title"`
		Content         *string `json:"content"`
		ExpectedVersion int     `json:"expectedVersion"`
	}
	if !decodeOrReject(w, r, &body) {
		return
	}
	note, err := s.service.EditNote(r.Context(), sess, mux.Vars(r)["id"], ledger.Patch{Title: body.Title, Content: body.Content}, body.ExpectedVersion)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, noteView(note))
}

func (s *HTTPServer) handleDeleteNote(w http.ResponseWriter, r *http.Request, sess Session) {
	if err := s.service.DeleteNote(r.Context(), sess, mux.Vars(r)["id"]); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request, sess Session) {
	versions, err := s.service.NoteHistory(r.Context(), sess, mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"versions": mapEach(versions, versionView)})
}

func (s *HTTPServer) handleRevert(w http.ResponseWriter, r *http.Request, sess Session) {
	var body struct {
		Version         int `json:"version"`
		ExpectedVersion int `json:"expectedVersion"`
	}
	if !decodeOrReject(w, r, &body) {
		return
	}
	note, err := s.service.RevertNote(r.Context(), sess, mux.Vars(r)["id"], body.Version, body.ExpectedVersion)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, noteView(note))
}

func (s *HTTPServer) handleMirrorHistory(w http.ResponseWriter, r *http.Request, sess Session) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 0 {
		limit = 0
	}
	commits, err := s.service.MirrorHistory(r.Context(), sess, mux.Vars(r)["id"], limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"commits": mapEach(commits, mirrorCommitView)})
}

func (s *HTTPServer) handleMirrorContent(w http.ResponseWriter, r *http.Request, sess Session) {
	version, err := strconv.Atoi(mux.Vars(r)["version"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_VERSION", "Version must be a number", nil)
		return
	}
	content, err := s.service.MirrorContent(r.Context(), sess, mux.Vars(r)["id"], version)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"title":         content.Title,
		"content":       content.Content,
		"versionNumber": content.Version,
	})
}

// Members

func (s *HTTPServer) handleListMembers(w http.ResponseWriter, r *http.Request, sess Session) {
	members, err := s.service.ListMembers(r.Context(), sess, mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"members": mapEach(members, memberView)})
}

func (s *HTTPServer) handleChangeRole(w http.ResponseWriter, r *http.Request, sess Session) {
	var body struct {
		Role string `json:"role"`
	}
	if !decodeOrReject(w, r, &body) {
		return
	}
	vars := mux.Vars(r)
	member, err := s.service.ChangeRole(r.Context(), sess, vars["id"], vars["userId"], body.Role)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, memberView(member))
}

func (s *HTTPServer) handleRemoveMember(w http.ResponseWriter, r *http.Request, sess Session) {
	vars := mux.Vars(r)
	if err := s.service.RemoveMember(r.Context(), sess, vars["id"], vars["userId"]); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleTransfer(w http.ResponseWriter, r *http.Request, sess Session) {
	var body struct {
		UserID string `json:"userId"`
	}
	if !decodeOrReject(w, r, &body) {
		return
	}
	member, err := s.service.TransferOwnership(r.Context(), sess, mux.Vars(r)["id"], body.UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, memberView(member))
}

// Invitations

func (s *HTTPServer) handleListInvitations(w http.ResponseWriter, r *http.Request, sess Session) {
	invitations, err := s.service.ListInvitations(r.Context(), sess, mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invitations": mapEach(invitations, invitationView)})
}

func (s *HTTPServer) handleInvite(w http.ResponseWriter, r *http.Request, sess Session) {
	var body struct {
		Email string `json:"email"`
		Role  string `json:"role"`
	}
	if !decodeOrReject(w, r, &body) {
		return
	}
	issued, err := s.service.InviteCollaborator(r.Context(), sess, mux.Vars(r)["id"], body.Email, body.Role)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	response := invitationView(issued.Invitation)
	// Dev bypass: without email delivery the inviter has to pass the token on.
	if !s.service.EmailConfigured() {
		response["devToken"] = issued.Token
	}
	writeJSON(w, http.StatusCreated, response)
}

func (s *HTTPServer) handleRevokeInvitation(w http.ResponseWriter, r *http.Request, sess Session) {
	if err := s.service.RevokeInvitation(r.Context(), sess, mux.Vars(r)["invitationId"]); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleAcceptInvitation(w http.ResponseWriter, r *http.Request, sess Session) {
	var body struct {
		Token string `json:"token"`
	}
	if !decodeOrReject(w, r, &body) {
		return
	}
	joined, err := s.service.AcceptInvitation(r.Context(), sess, body.Token)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, membershipView(joined))
}

// Share links

func (s *HTTPServer) handleListShareLinks(w http.ResponseWriter, r *http.Request, sess Session) {
	links, err := s.service.ListShareLinks(r.Context(), sess, mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"shareLinks": mapEach(links, shareLinkView)})
}

func (s *HTTPServer) handleCreateShareLink(w http.ResponseWriter, r *http.Request, sess Session) {
	var body struct {
		Scope            string `json:"scope"`
		ExpiresInSeconds int64  `json:"expiresInSeconds"`
	}
	if !decodeOrReject(w, r, &body) {
		return
	}
	ttl := time.Duration(body.ExpiresInSeconds) * time.Second
	issued, err := s.service.CreateShareLink(r.Context(), sess, mux.Vars(r)["id"], body.Scope, ttl)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	response := shareLinkView(issued.ShareLink)
	response["token"] = issued.Token
	writeJSON(w, http.StatusCreated, response)
}

func (s *HTTPServer) handleRevokeShareLink(w http.ResponseWriter, r *http.Request, sess Session) {
	if err := s.service.RevokeShareLink(r.Context(), sess, mux.Vars(r)["linkId"]); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleResolveShared(w http.ResponseWriter, r *http.Request) {
	shared, err := s.service.ResolveShared(r.Context(), mux.Vars(r)["token"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	note := shared.Note
	writeJSON(w, http.StatusOK, map[string]any{
		"note": map[string]any{
			"id":            note.ID,
			"title":         note.Title,
			"content":       note.Content,
			"versionNumber": note.VersionNumber,
			"updatedAt":     note.UpdatedAt,
		},
		"scope": shared.Scope,
	})
}

func (s *HTTPServer) handleListSharedComments(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.ListSharedComments(r.Context(), mux.Vars(r)["token"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"comments": mapEach(items, commentView)})
}

func (s *HTTPServer) handleAddSharedComment(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name     string `json:"name"`
		Content  string `json:"content"`
		ParentID string `json:"parentId"`
	}
	if !decodeOrReject(w, r, &body) {
		return
	}
	comment, err := s.service.AddSharedComment(r.Context(), mux.Vars(r)["token"], body.Name, body.Content, body.ParentID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, commentView(comment))
}

// Comments

func (s *HTTPServer) handleListComments(w http.ResponseWriter, r *http.Request, sess Session) {
	items, err := s.service.ListComments(r.Context(), sess, mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"comments": mapEach(items, commentView)})
}

func (s *HTTPServer) handleAddComment(w http.ResponseWriter, r *http.Request, sess Session) {
	var body struct {
		Content  string `json:"content"`
		ParentID string `json:"parentId"`
	}
	if !decodeOrReject(w, r, &body) {
		return
	}
	comment, err := s.service.AddComment(r.Context(), sess, mux.Vars(r)["id"], body.Content, body.ParentID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, commentView(comment))
}

// Search

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request, sess Session) {
	query := r.URL.Query()
	limit, _ := strconv.Atoi(query.Get("limit"))
	offset, _ := strconv.Atoi(query.Get("offset"))
	resp, err := s.service.Search(r.Context(), sess, query.Get("q"), limit, offset)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Middleware and helpers

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		r = r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id))

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", id)

		if r.Method == http.MethodOptions {
			writer.WriteHeader(http.StatusNoContent)
		} else {
			next.ServeHTTP(writer, r)
		}

		s.log.WithFields(logrus.Fields{
			"request_id":  id,
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      writer.status,
			"duration_ms": time.Since(started).Milliseconds(),
		}).Info("request")
	})
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return errors.New("invalid JSON body")
	}
	return nil
}

func decodeOrReject(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := decodeBody(r, target); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return false
	}
	return true
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}
