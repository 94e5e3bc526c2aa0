package handlers

import (
	"embed"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/maruel/secdb/internal/config"
	"github.com/maruel/secdb/internal/history"
	"github.com/maruel/secdb/internal/server/dto"
	"github.com/maruel/secdb/internal/tabledb"
)

//go:embed templates/*.html
var templateFS embed.FS

// logLines is the number of audit lines shown on /logs.
const logLines = 500

var funcs = template.FuncMap{
	"bytes": func(n int64) string { return humanize.IBytes(uint64(max(n, 0))) },
	"ago":   humanize.Time,
	"comma": func(n int) string { return humanize.Comma(int64(n)) },
	"short": func(h string) string { return h[:min(len(h), 8)] },
}

// AdminHandler serves the HTML administration pages.
type AdminHandler struct {
	svc   *Services
	pages map[string]*template.Template
}

// NewAdminHandler parses the page templates.
func NewAdminHandler(svc *Services) (*AdminHandler, error) {
	h := &AdminHandler{svc: svc, pages: map[string]*template.Template{}}
	for _, name := range []string{"dashboard", "databases", "createdb", "viewdb", "logs", "config", "error"} {
		t, err := template.New(name).Funcs(funcs).ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, err
		}
		h.pages[name] = t
	}
	return h, nil
}

// layout is embedded in every page.
type layout struct {
	Title   string
	Version string
}

func (h *AdminHandler) layout(title string) layout {
	return layout{Title: title, Version: h.svc.Version}
}

func (h *AdminHandler) render(w http.ResponseWriter, r *http.Request, status int, page string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := h.pages[page].ExecuteTemplate(w, "layout", data); err != nil {
		slog.ErrorContext(r.Context(), "Failed to render page", "page", page, "err", err)
	}
}

// fail renders err with the status it maps to.
func (h *AdminHandler) fail(w http.ResponseWriter, r *http.Request, err error, back string) {
	status, code, msg, _ := Status(err)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "Handler error", "err", err, "code", code)
	}
	h.render(w, r, status, "error", struct {
		layout
		Message string
		Back    string
	}{h.layout(http.StatusText(status)), msg, back})
}

func viewURL(db string) string {
	return "/viewdb?name=" + url.QueryEscape(db)
}

// Dashboard serves GET /.
func (h *AdminHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		h.fail(w, r, dto.NotFound("page"), "/")
		return
	}
	infos, err := h.svc.Registry.ListDatabases()
	if err != nil {
		h.fail(w, r, dto.InternalWithError("failed to list databases", err), "/")
		return
	}
	data := struct {
		layout
		Databases      int
		Loaded         int
		Rows           int
		Size           int64
		Sessions       int
		HistoryEnabled bool
		Commits        []history.Commit
	}{layout: h.layout("Dashboard"), Databases: len(infos), HistoryEnabled: h.svc.History != nil}
	for _, info := range infos {
		data.Size += info.Size
	}
	for _, s := range h.svc.Registry.Loaded() {
		data.Loaded++
		data.Rows += s.Stats().Rows
	}
	if h.svc.Sessions != nil {
		data.Sessions = h.svc.Sessions()
	}
	if h.svc.History != nil {
		if data.Commits, err = h.svc.History.Log(10); err != nil {
			slog.WarnContext(r.Context(), "Failed to read history", "err", err)
		}
	}
	h.render(w, r, http.StatusOK, "dashboard", data)
}

// Databases serves GET /databases.
func (h *AdminHandler) Databases(w http.ResponseWriter, r *http.Request) {
	infos, err := h.svc.Registry.ListDatabases()
	if err != nil {
		h.fail(w, r, dto.InternalWithError("failed to list databases", err), "/")
		return
	}
	h.render(w, r, http.StatusOK, "databases", struct {
		layout
		Databases []tabledb.DatabaseInfo
	}{h.layout("Databases"), infos})
}

// CreateDatabaseForm serves GET /createdb.
func (h *AdminHandler) CreateDatabaseForm(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "createdb", struct{ layout }{h.layout("New database")})
}

// CreateDatabase serves POST /createdb.
func (h *AdminHandler) CreateDatabase(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.PostFormValue("name"))
	if name == "" {
		h.fail(w, r, dto.MissingField("name"), "/createdb")
		return
	}
	if _, err := h.svc.Registry.CreateDatabase(name); err != nil {
		h.fail(w, r, toAPIError(err, name, ""), "/createdb")
		return
	}
	slog.InfoContext(r.Context(), "Created database", "db", name)
	http.Redirect(w, r, viewURL(name), http.StatusFound)
}

// DeleteDatabase serves POST /deletedb.
func (h *AdminHandler) DeleteDatabase(w http.ResponseWriter, r *http.Request) {
	name := r.PostFormValue("name")
	if err := h.svc.Registry.DeleteDatabase(name); err != nil {
		h.fail(w, r, toAPIError(err, name, ""), "/databases")
		return
	}
	slog.InfoContext(r.Context(), "Deleted database", "db", name)
	http.Redirect(w, r, "/databases", http.StatusFound)
}

type tableView struct {
	Name    string
	Columns []string
	Rows    []tabledb.Row
}

// ViewDatabase serves GET /viewdb?name=.
func (h *AdminHandler) ViewDatabase(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		h.fail(w, r, dto.MissingField("name"), "/databases")
		return
	}
	s, err := h.svc.open(name)
	if err != nil {
		h.fail(w, r, err, "/databases")
		return
	}
	data := struct {
		layout
		Name   string
		Tables []tableView
	}{layout: h.layout(name), Name: name}
	for _, t := range s.ListTables() {
		data.Tables = append(data.Tables, tableView{Name: t, Columns: s.GetColumns(t), Rows: s.GetRowsPadded(t)})
	}
	h.render(w, r, http.StatusOK, "viewdb", data)
}

// tableForm opens the database named by the "db" field of a form.
func (h *AdminHandler) tableForm(w http.ResponseWriter, r *http.Request) (*tabledb.Store, string, bool) {
	db := r.PostFormValue("db")
	s, err := h.svc.open(db)
	if err != nil {
		h.fail(w, r, err, "/databases")
		return nil, "", false
	}
	return s, r.PostFormValue("table"), true
}

// CreateTable serves POST /createtable. Columns are comma separated.
func (h *AdminHandler) CreateTable(w http.ResponseWriter, r *http.Request) {
	s, table, ok := h.tableForm(w, r)
	if !ok {
		return
	}
	var columns []string
	for c := range strings.SplitSeq(r.PostFormValue("columns"), ",") {
		if c = strings.TrimSpace(c); c != "" {
			columns = append(columns, c)
		}
	}
	if err := s.CreateTable(strings.TrimSpace(table), columns); err != nil {
		h.fail(w, r, toAPIError(err, s.Name(), table), viewURL(s.Name()))
		return
	}
	http.Redirect(w, r, viewURL(s.Name()), http.StatusFound)
}

// InsertRow serves POST /insertrow. The repeated "value" fields are in
// column order.
func (h *AdminHandler) InsertRow(w http.ResponseWriter, r *http.Request) {
	s, table, ok := h.tableForm(w, r)
	if !ok {
		return
	}
	values := r.PostForm["value"]
	if values == nil {
		values = []string{}
	}
	if err := insertRow(s, table, values); err != nil {
		h.fail(w, r, toAPIError(err, s.Name(), table), viewURL(s.Name()))
		return
	}
	http.Redirect(w, r, viewURL(s.Name()), http.StatusFound)
}

// DeleteRow serves POST /deleterow. The row is selected by "id", matched
// against the first column, or by "index".
func (h *AdminHandler) DeleteRow(w http.ResponseWriter, r *http.Request) {
	s, table, ok := h.tableForm(w, r)
	if !ok {
		return
	}
	var err error
	if r.PostForm.Has("id") {
		_, err = s.DeleteRowByID(table, r.PostFormValue("id"))
	} else {
		var i int
		if i, err = strconv.Atoi(r.PostFormValue("index")); err != nil {
			err = dto.InvalidFormat("index", "not a number")
		} else {
			_, err = s.DeleteRowByIndex(table, i)
		}
	}
	if err != nil {
		h.fail(w, r, toAPIError(err, s.Name(), table), viewURL(s.Name()))
		return
	}
	http.Redirect(w, r, viewURL(s.Name()), http.StatusFound)
}

// DeleteTable serves POST /deletetable.
func (h *AdminHandler) DeleteTable(w http.ResponseWriter, r *http.Request) {
	s, table, ok := h.tableForm(w, r)
	if !ok {
		return
	}
	if err := s.DeleteTable(table); err != nil {
		h.fail(w, r, toAPIError(err, s.Name(), table), viewURL(s.Name()))
		return
	}
	http.Redirect(w, r, viewURL(s.Name()), http.StatusFound)
}

// ResetTable serves POST /resettable.
func (h *AdminHandler) ResetTable(w http.ResponseWriter, r *http.Request) {
	s, table, ok := h.tableForm(w, r)
	if !ok {
		return
	}
	if err := s.ResetTable(table); err != nil {
		h.fail(w, r, toAPIError(err, s.Name(), table), viewURL(s.Name()))
		return
	}
	http.Redirect(w, r, viewURL(s.Name()), http.StatusFound)
}

// Logs serves GET /logs.
func (h *AdminHandler) Logs(w http.ResponseWriter, r *http.Request) {
	lines, err := h.svc.Audit.Tail(logLines)
	if err != nil {
		h.fail(w, r, dto.InternalWithError("failed to read the audit log", err), "/")
		return
	}
	h.render(w, r, http.StatusOK, "logs", struct {
		layout
		Lines []string
	}{h.layout("Logs"), lines})
}

// ClearLogs serves POST /clear-logs.
func (h *AdminHandler) ClearLogs(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Audit.Clear(); err != nil {
		h.fail(w, r, dto.InternalWithError("failed to clear the audit log", err), "/logs")
		return
	}
	slog.InfoContext(r.Context(), "Cleared audit log")
	http.Redirect(w, r, "/logs", http.StatusFound)
}

// Config serves GET /config.
func (h *AdminHandler) Config(w http.ResponseWriter, r *http.Request) {
	cfg := h.svc.Config.Get()
	h.render(w, r, http.StatusOK, "config", struct {
		layout
		APIKey         string
		Username       string
		SessionTimeout time.Duration
		TokenTTL       time.Duration
		Addr           string
		MaxConnections int
		DatabasesDir   string
		Codec          string
		HistoryEnabled bool
	}{
		h.layout("Configuration"),
		cfg.Auth.APIKey,
		cfg.Auth.Username,
		cfg.Auth.SessionTimeout,
		cfg.Auth.TokenTTL,
		cfg.Server.Addr,
		cfg.Server.MaxConnections,
		cfg.DatabasesPath(h.svc.Config.DataDir()),
		cfg.Storage.Codec,
		cfg.History.Enabled,
	})
}

// UpdateConfig serves POST /config.
func (h *AdminHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	username := strings.TrimSpace(r.PostFormValue("username"))
	password := r.PostFormValue("password")
	err := h.svc.Config.Update(func(c *config.Config) error {
		if username == "" {
			return dto.MissingField("username")
		}
		c.Auth.Username = username
		if v := r.PostFormValue("session_timeout"); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return dto.InvalidFormat("session_timeout", err.Error())
			}
			c.Auth.SessionTimeout = d
		}
		if v := r.PostFormValue("token_ttl"); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return dto.InvalidFormat("token_ttl", err.Error())
			}
			c.Auth.TokenTTL = d
		}
		if password != "" {
			return c.SetPassword(password)
		}
		return nil
	})
	if err != nil {
		var ews dto.ErrorWithStatus
		if !errors.As(err, &ews) {
			err = dto.BadRequest(err.Error()).Wrap(err)
		}
		h.fail(w, r, err, "/config")
		return
	}
	slog.InfoContext(r.Context(), "Updated configuration", "username", username, "password_changed", password != "")
	http.Redirect(w, r, "/config", http.StatusFound)
}

// RegenerateKey serves POST /regenerate-key.
func (h *AdminHandler) RegenerateKey(w http.ResponseWriter, r *http.Request) {
	err := h.svc.Config.Update(func(c *config.Config) error {
		k, err := config.GenerateKey()
		if err != nil {
			return dto.InternalWithError("failed to generate key", err)
		}
		c.Auth.APIKey = k
		return nil
	})
	if err != nil {
		h.fail(w, r, err, "/config")
		return
	}
	slog.InfoContext(r.Context(), "Regenerated API key")
	http.Redirect(w, r, "/config", http.StatusFound)
}
