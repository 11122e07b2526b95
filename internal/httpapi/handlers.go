package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rheeghang/docent/internal/logging"
	"github.com/rheeghang/docent/internal/settings"
	"github.com/rheeghang/docent/kb"
	"github.com/rheeghang/docent/model"
)

const maxBodyBytes = 64 << 10

var errEmptyBody = fmt.Errorf("%w: empty body", ErrBadRequest)

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return nil
}

type createSessionRequest struct {
	Language  string `json:"language"`
	VisitorID string `json:"visitorId"`
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		writeError(w, r, s.log, err)
		return
	}
	ctx := r.Context()
	if req.Language != "" {
		if _, err := settings.Normalize(req.Language); err != nil {
			writeError(w, r, s.log, err)
			return
		}
	}

	stored := ""
	if req.VisitorID != "" {
		stored = s.storedLanguage(ctx, req.VisitorID)
	}
	lang := settings.Resolve(req.Language, stored, r.Header.Get("Accept-Language"))

	snap, err := s.sessions.Create(ctx, lang)
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	if req.VisitorID != "" && req.Language != "" {
		s.saveLanguage(ctx, req.VisitorID, lang)
	}
	writeJSON(w, http.StatusCreated, snap)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sessions.List())
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	snap, err := s.sessions.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) closeSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Close(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, s.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type navigateRequest struct {
	PageID string `json:"pageId"`
}

func (s *Server) navigate(w http.ResponseWriter, r *http.Request) {
	var req navigateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, s.log, err)
		return
	}
	if req.PageID == "" {
		writeError(w, r, s.log, fmt.Errorf("%w: pageId is required", ErrBadRequest))
		return
	}
	upd, err := s.sessions.Navigate(r.Context(), r.PathValue("id"), req.PageID)
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, upd)
}

func (s *Server) observeOrientation(w http.ResponseWriter, r *http.Request) {
	var sample model.OrientationSample
	if err := decodeJSON(w, r, &sample); err != nil {
		writeError(w, r, s.log, err)
		return
	}
	upd, err := s.sessions.ObserveOrientation(r.Context(), r.PathValue("id"), sample)
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, upd)
}

func (s *Server) observeMotion(w http.ResponseWriter, r *http.Request) {
	var sample model.MotionSample
	if err := decodeJSON(w, r, &sample); err != nil {
		writeError(w, r, s.log, err)
		return
	}
	upd, err := s.sessions.ObserveMotion(r.Context(), r.PathValue("id"), sample)
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, upd)
}

func (s *Server) setPermissions(w http.ResponseWriter, r *http.Request) {
	var perms model.Permissions
	if err := decodeJSON(w, r, &perms); err != nil {
		writeError(w, r, s.log, err)
		return
	}
	snap, err := s.sessions.SetPermissions(r.Context(), r.PathValue("id"), perms)
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type languageRequest struct {
	Language  string `json:"language"`
	VisitorID string `json:"visitorId"`
}

func (s *Server) setLanguage(w http.ResponseWriter, r *http.Request) {
	var req languageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, s.log, err)
		return
	}
	snap, err := s.sessions.SetLanguage(r.Context(), r.PathValue("id"), req.Language)
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	if req.VisitorID != "" {
		s.saveLanguage(r.Context(), req.VisitorID, snap.Language)
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) closeMenu(w http.ResponseWriter, r *http.Request) {
	upd, err := s.sessions.CloseMenu(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, upd)
}

func (s *Server) listPages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.pages.ListPages())
}

type pageResponse struct {
	Page     model.PageConfig   `json:"page"`
	Content  *model.PageContent `json:"content,omitempty"`
	Language string             `json:"language,omitempty"`
}

func (s *Server) getPage(w http.ResponseWriter, r *http.Request) {
	page, err := s.pages.GetPage(r.PathValue("id"))
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	resp := pageResponse{Page: page}
	lang := s.requestLanguage(r)
	content, served, err := s.pages.Content(lang, page.ID)
	switch {
	case err == nil:
		resp.Content = &content
		resp.Language = served
	case errors.Is(err, kb.ErrContentNotFound):
		logging.FromContext(r.Context(), s.log).Debug(r.Context(), "page has no content",
			logging.String("page_id", page.ID), logging.String("language", lang))
	default:
		writeError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type menuResponse struct {
	Language string            `json:"language"`
	Entries  []model.MenuEntry `json:"entries"`
}

func (s *Server) menu(w http.ResponseWriter, r *http.Request) {
	lang := s.requestLanguage(r)
	writeJSON(w, http.StatusOK, menuResponse{Language: lang, Entries: s.pages.Menu(lang)})
}

func (s *Server) getSettings(w http.ResponseWriter, r *http.Request) {
	st, err := s.settings.Load(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) putSettings(w http.ResponseWriter, r *http.Request) {
	var st settings.Settings
	if err := decodeJSON(w, r, &st); err != nil {
		writeError(w, r, s.log, err)
		return
	}
	id := r.PathValue("id")
	if err := s.settings.Save(r.Context(), id, st); err != nil {
		writeError(w, r, s.log, err)
		return
	}
	saved, err := s.settings.Load(r.Context(), id)
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// requestLanguage resolves ?lang=, then Accept-Language, then the default.
func (s *Server) requestLanguage(r *http.Request) string {
	return settings.Resolve(r.URL.Query().Get("lang"), "", r.Header.Get("Accept-Language"))
}

// storedLanguage returns the visitor's saved language, or "" when there is
// none or the store is unavailable.
func (s *Server) storedLanguage(ctx context.Context, visitorID string) string {
	st, err := s.settings.Load(ctx, visitorID)
	if err != nil {
		if !errors.Is(err, settings.ErrNotFound) {
			logging.FromContext(ctx, s.log).Warn(ctx, "load visitor settings failed; using request language",
				logging.String("visitor_id", visitorID), logging.Err(err))
		}
		return ""
	}
	return st.Language
}

func (s *Server) saveLanguage(ctx context.Context, visitorID, lang string) {
	err := s.settings.Save(ctx, visitorID, settings.Settings{Language: lang, UpdatedAt: time.Now().UTC()})
	if err != nil {
		logging.FromContext(ctx, s.log).Warn(ctx, "save visitor settings failed",
			logging.String("visitor_id", visitorID), logging.Err(err))
	}
}
