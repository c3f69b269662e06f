package app

import (
	"bytes"
	"encoding/json"
	"html/template"
	"net/http"

	"github.com/vango-dev/sessionbridge/pkg/auth"
	"github.com/vango-dev/sessionbridge/pkg/cache"
	"github.com/vango-dev/sessionbridge/pkg/resources"
	"github.com/vango-dev/sessionbridge/pkg/session"
)

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Path}}</title>
<meta name="sessionbridge-live" content="{{.LivePath}}">
<meta name="sessionbridge-auth-proxy" content="{{.AuthProxyPath}}">
{{- if .Handoff}}
<meta name="sessionbridge-handoff" content="{{.Handoff}}">
{{- end}}
</head>
<body>
{{- if .User}}
<p data-user="{{.User.ID}}">Signed in as {{.User.DisplayName}}</p>
{{- else}}
<p>Not signed in</p>
{{- end}}
</body>
</html>
`))

type pageData struct {
	Path          string
	User          *auth.Profile
	Handoff       string
	LivePath      string
	AuthProxyPath string
}

// page renders the bootstrap result and stores the handoff snapshot the
// page's live session starts from.
func (a *App) page(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	data := pageData{
		Path:          r.URL.Path,
		LivePath:      LivePath,
		AuthProxyPath: a.cfg.AuthConfig.AuthProxyPath,
	}
	if sess != nil {
		data.User = sess.User.Get()
		key, err := session.SaveSnapshot(r.Context(), a.store, sess.Snapshot(), a.cfg.Snapshots.TTL.Std())
		if err != nil {
			sess.Logger().Warn("handoff snapshot not saved", "error", err)
		} else {
			data.Handoff = key
		}
	}

	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, data); err != nil {
		a.logger.Error("render page", "path", r.URL.Path, "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(buf.Bytes())
}

// me answers the current profile. ?fresh=1 rereads it from the remote API
// and updates the session; otherwise reads go through the cache.
func (a *App) me(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	if sess == nil || sess.User.Get() == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": map[string]string{"message": "not authenticated"}})
		return
	}

	var opts []resources.Option
	if a.reader != nil {
		opts = append(opts, resources.WithCache(a.reader))
	}
	users := resources.NewUsers(a.factory.For(sess), a.cfg.ReadMe(), opts...)
	updateState := a.cfg.ModuleConfig.ReadMeQuery.UpdateState == nil || *a.cfg.ModuleConfig.ReadMeQuery.UpdateState

	var (
		profile *auth.Profile
		err     error
	)
	if r.URL.Query().Get("fresh") != "" {
		profile, err = users.ReadMe(r.Context(), nil, updateState)
		if err == nil && a.reader != nil {
			a.reader.Invalidate(r.Context(), cache.Key("readAsyncUser", profile.ID, a.cfg.ReadMe().Key()))
		}
	} else {
		profile, err = users.ReadOneCached(r.Context(), sess.User.Get().ID, a.cfg.ReadMe())
	}
	if err != nil {
		sess.Logger().Warn("profile read failed", "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": map[string]string{"message": "profile unavailable"}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": profile})
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(value)
}
