package main

import (
	"fmt"
	"html/template"
	"net/http"

	"github.com/aethex-foundation/passport-go/middleware"
)

type server struct {
	mux *http.ServeMux
}

const homePage = `<!DOCTYPE html>
<html>
	<head>
		<meta charset="UTF-8">
		<title>Passport example</title>
	</head>
	<body>
		<h1>Passport example app</h1>
		<p><a href="/profile">View your profile</a> (requires login)</p>
	</body>
</html>`

var homeTmpl = template.Must(template.New("homePage").Parse(homePage))

const profilePage = `<!DOCTYPE html>
<html>
	<head>
		<meta charset="UTF-8">
		<title>Profile</title>
	</head>
	<body>
		<h1>Hello, {{ .Username }}</h1>
		<p>sub: {{ .Sub }}</p>
		<p>name: {{ .Name }}</p>
		<p>email: {{ .Email }}</p>
		<p>bio: {{ .Bio }}</p>
	</body>
</html>`

var profileTmpl = template.Must(template.New("profilePage").Parse(profilePage))

func newServer(mw *middleware.Handler) *server {
	s := &server{mux: http.NewServeMux()}

	s.mux.HandleFunc("/", s.home)
	s.mux.Handle("/profile", mw.Wrap(http.HandlerFunc(s.profile)))

	return s
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *server) home(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if err := homeTmpl.Execute(w, nil); err != nil {
		http.Error(w, fmt.Sprintf("failed to render template: %v", err), http.StatusInternalServerError)
	}
}

func (s *server) profile(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	if user == nil {
		http.Error(w, "no user in context", http.StatusInternalServerError)
		return
	}
	if err := profileTmpl.Execute(w, user); err != nil {
		http.Error(w, fmt.Sprintf("failed to render template: %v", err), http.StatusInternalServerError)
	}
}
