package proxy

import (
	"fmt"
	"strings"
	"text/template"

	"interlude/types"
)

// configTemplate renders the whole proxy configuration in one pass. The
// document is regenerated wholesale on every activation, never patched.
const configTemplate = `# Generated by interlude. Do not edit; changes are overwritten on reload.
{{- if .Post }}
{{- range $i, $r := .Routes }}

upstream interlude_backend_{{ $i }} {
    server {{ $r.Backend }};
}
{{- end }}

upstream interlude_fallback {
    server {{ .Fallback }};
}
{{- end }}

upstream interlude_orchestrator {
    server {{ .Orchestrator }};
}

server {
    listen {{ .ListenPort }};
    server_name _;

    proxy_http_version 1.1;
    proxy_set_header Host $host;
    proxy_set_header X-Real-IP $remote_addr;
    proxy_set_header X-Forwarded-For $proxy_add_x_forwarded_for;
    proxy_set_header Upgrade $http_upgrade;
    proxy_set_header Connection "upgrade";
    proxy_read_timeout 3600s;
{{- if .Post }}

    location {{ .UIPath }}/ {
        proxy_pass http://interlude_orchestrator;
    }
{{- range $i, $r := .Routes }}

    location {{ $r.Pattern }} {
        proxy_pass http://interlude_backend_{{ $i }};
    }
{{- end }}

    location / {
        proxy_pass http://interlude_fallback;
    }
{{- else }}

    location / {
        proxy_pass http://interlude_orchestrator;
    }
{{- end }}
}
`

var renderedTemplate = template.Must(template.New("proxy").Parse(configTemplate))

type templateData struct {
	Post         bool
	Routes       []types.Route
	Fallback     string
	Orchestrator string
	ListenPort   string
	UIPath       string
}

// Synthesize renders the configuration for a mode. In pre mode every
// request routes to the orchestrator's own interface and the table is
// ignored. In post mode the UI sub-path still routes to the orchestrator,
// each route is emitted in table order (first match wins), and unmatched
// traffic goes to the table's fallback.
func (m *Manager) Synthesize(mode types.ProxyMode, table *types.RouteTable) (string, error) {
	data := templateData{
		Post:         mode == types.ModePost,
		Orchestrator: m.orchestratorAddr,
		ListenPort:   strings.TrimPrefix(m.listenPort, ":"),
		UIPath:       m.uiPath,
	}

	if data.Post {
		if table == nil {
			return "", types.NewError(types.KindConfigInvalid, "post mode requires a route table")
		}
		if table.Fallback == "" {
			return "", types.NewError(types.KindConfigInvalid, "route table has no fallback backend")
		}
		for _, route := range table.Routes {
			if route.Backend == "" {
				return "", types.NewError(types.KindConfigInvalid, "route %q has an empty backend", route.Pattern)
			}
		}
		data.Routes = table.Routes
		data.Fallback = table.Fallback
	}

	var b strings.Builder
	if err := renderedTemplate.Execute(&b, data); err != nil {
		return "", fmt.Errorf("failed to render proxy config: %w", err)
	}
	return b.String(), nil
}
