package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/orvull/sparkcards/internal/google"
	"github.com/orvull/sparkcards/internal/log"
	"github.com/orvull/sparkcards/internal/models"
)

const maxBodyBytes = 1 << 20

// RouterOptions wires the optional parts of the HTTP front door.
type RouterOptions struct {
	Metrics      *Metrics
	Limiter      *RateLimiter
	StaffKeyHash string
	Verifier     google.Verifier
}

// NewRouter exposes the service over HTTP.
func NewRouter(svc *Service, opts RouterOptions) http.Handler {
	h := &handler{svc: svc, staff: newStaffGate(opts.StaffKeyHash, opts.Verifier)}
	m := opts.Metrics

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger)

	r.With(m.Middleware("root")).Get("/", h.root)
	r.With(m.Middleware("health")).Get("/health", h.health)

	r.Group(func(r chi.Router) {
		r.Use(m.Middleware("issue"))
		if opts.Limiter != nil {
			r.Use(opts.Limiter.Middleware)
		}
		r.Get("/issue", h.issue)
		r.Post("/issue", h.issue)
	})
	r.With(m.Middleware("award_stamp"), StaffAuth(opts.StaffKeyHash, opts.Verifier)).
		Post("/award_stamp", h.awardStamp)
	r.With(m.Middleware("pass")).Get("/pass/{objectID}", h.pass)
	r.With(m.Middleware("save_url")).Get("/save_url/{objectID}", h.saveURL)

	if m != nil {
		r.Method(http.MethodGet, "/metrics", m.Handler())
	}
	return r
}

type handler struct {
	svc   *Service
	staff staffGate
}

func (h *handler) root(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "SparkCards backend running")
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type issueResponse struct {
	OK           bool   `json:"ok"`
	ObjectID     string `json:"objectId"`
	SaveURL      string `json:"saveUrl"`
	SaveURLAlias string `json:"save_url"`
	ClassID      string `json:"classId"`
	StampN       int    `json:"stamp_n"`
	Total        int    `json:"total"`
	HeroImage    string `json:"heroImage"`
	Created      bool   `json:"created"`
}

func (h *handler) issue(w http.ResponseWriter, r *http.Request) {
	p, err := readParams(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	req := IssueRequest{
		Name:         p.first("name", "client_name"),
		BusinessName: p.first("business_name"),
		ImageBase:    p.first("img_base"),
		ClassID:      p.first("class_id"),
		ObjectID:     p.first("object_id"),
	}
	if req.StampN, err = p.intParam("stamp_n"); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.Total, err = p.intParam("total"); err != nil {
		h.fail(w, r, err)
		return
	}
	// setting progress directly is a staff action, like /award_stamp
	if req.StampN != nil && !h.staff.admit(r) {
		writeUnauthorized(w)
		return
	}

	res, err := h.svc.Issue(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, issueResponse{
		OK:           true,
		ObjectID:     res.ObjectID,
		SaveURL:      res.SaveURL,
		SaveURLAlias: res.SaveURL,
		ClassID:      res.ClassID,
		StampN:       res.StampN,
		Total:        res.Total,
		HeroImage:    res.HeroImage,
		Created:      res.Outcome == models.Created,
	})
}

type awardResponse struct {
	OK        bool   `json:"ok"`
	ObjectID  string `json:"objectId"`
	Previous  int    `json:"previous"`
	New       int    `json:"new_stamp_n"`
	Total     int    `json:"total"`
	HeroImage string `json:"heroImage"`
}

func (h *handler) awardStamp(w http.ResponseWriter, r *http.Request) {
	p, err := readParams(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	req := AwardRequest{
		ObjectID:  p.first("object_id", "passId", "objectId"),
		ImageBase: p.first("img_base"),
	}
	if req.Total, err = p.intParam("total"); err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.svc.AwardStamp(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, awardResponse{
		OK:        true,
		ObjectID:  res.ObjectID,
		Previous:  res.Previous,
		New:       res.New,
		Total:     res.Total,
		HeroImage: res.HeroImage,
	})
}

type passResponse struct {
	OK       bool   `json:"ok"`
	ObjectID string `json:"objectId"`
	ClassID  string `json:"classId"`
	Name     string `json:"name"`
	StampN   int    `json:"stamp_n"`
	Total    int    `json:"total"`
}

func (h *handler) pass(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Progress(r.Context(), chi.URLParam(r, "objectID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, passResponse{
		OK:       true,
		ObjectID: res.ObjectID,
		ClassID:  res.ClassID,
		Name:     res.Name,
		StampN:   res.StampN,
		Total:    res.Total,
	})
}

func (h *handler) saveURL(w http.ResponseWriter, r *http.Request) {
	id, url, err := h.svc.SaveURL(r.Context(), chi.URLParam(r, "objectID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "objectId": id, "saveUrl": url, "save_url": url})
}

// ---------- errors ----------

type errorBody struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// failure maps an error to its status and body. Only validation problems
// are the caller's fault.
func failure(err error) (int, errorBody) {
	var (
		validation *models.ValidationError
		notFound   *models.NotFoundError
		remote     *models.RemoteError
		credential *models.CredentialError
		signing    *models.SigningError
	)
	body := errorBody{Error: err.Error()}
	switch {
	case errors.As(err, &validation):
		body.Kind = "validation"
		return http.StatusBadRequest, body
	case errors.As(err, &notFound):
		body.Kind = "not_found"
	case errors.As(err, &remote):
		body.Kind = "remote"
	case errors.As(err, &credential):
		body.Kind = "credential"
	case errors.As(err, &signing):
		body.Kind = "signing"
	default:
		body.Kind = "internal"
		body.Error = "internal error: " + err.Error()
	}
	return http.StatusInternalServerError, body
}

func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, body := failure(err)
	entry := log.Module("http").WithError(err).WithField("path", r.URL.Path)
	if status >= http.StatusInternalServerError {
		entry.Error("Request failed")
	} else {
		entry.Debug("Request rejected")
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ---------- request parameters ----------

type params map[string]string

// readParams merges the query string with a form or JSON body. Body values
// win over query values.
func readParams(r *http.Request) (params, error) {
	p := params{}
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			p[k] = v[0]
		}
	}
	if r.Method != http.MethodPost || r.Body == nil {
		return p, nil
	}
	r.Body = http.MaxBytesReader(nil, r.Body, maxBodyBytes)

	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "application/json") {
		var body map[string]any
		dec := json.NewDecoder(r.Body)
		dec.UseNumber()
		if err := dec.Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			return nil, &models.ValidationError{Field: "body", Reason: "invalid JSON"}
		}
		for k, v := range body {
			switch t := v.(type) {
			case string:
				p[k] = t
			case json.Number:
				p[k] = t.String()
			case bool:
				p[k] = strconv.FormatBool(t)
			}
		}
		return p, nil
	}

	var err error
	if strings.HasPrefix(ct, "multipart/form-data") {
		err = r.ParseMultipartForm(maxBodyBytes)
	} else {
		err = r.ParseForm()
	}
	if err != nil {
		return nil, &models.ValidationError{Field: "body", Reason: "invalid form"}
	}
	for k := range r.PostForm {
		p[k] = r.PostForm.Get(k)
	}
	return p, nil
}

func (p params) first(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(p[k]); v != "" {
			return v
		}
	}
	return ""
}

func (p params) intParam(key string) (*int, error) {
	raw := strings.TrimSpace(p[key])
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, &models.ValidationError{Field: key, Reason: "must be an integer"}
	}
	return &n, nil
}
