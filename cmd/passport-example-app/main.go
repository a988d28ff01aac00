// Command passport-example-app is a minimal web app showing the middleware
// protecting a page with Passport authentication.
package main

import (
	"crypto/rand"
	"flag"
	"fmt"
	"log"
	"net/http"

	"github.com/aethex-foundation/passport-go"
	"github.com/aethex-foundation/passport-go/middleware"
	"github.com/gorilla/sessions"
)

func main() {
	cfg := struct {
		Server   string
		ClientID string
		Listen   string
	}{
		Server:   passport.DefaultServer,
		ClientID: "example-app",
		Listen:   "localhost:8084",
	}

	flag.StringVar(&cfg.Server, "server", cfg.Server, "Passport server base URL")
	flag.StringVar(&cfg.ClientID, "client-id", cfg.ClientID, "client ID")
	flag.StringVar(&cfg.Listen, "listen", cfg.Listen, "address to listen on")

	flag.Parse()

	// throwaway key, sessions won't survive restarts
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		log.Fatal(err)
	}

	baseURL := fmt.Sprintf("http://%s", cfg.Listen)

	mw := &middleware.Handler{
		Server:      cfg.Server,
		ClientID:    cfg.ClientID,
		BaseURL:     baseURL,
		RedirectURL: baseURL + "/profile",
		SessionStore: &middleware.GorillaSessions{
			Store: sessions.NewCookieStore(key),
		},
	}

	svr := newServer(mw)

	log.Printf("Listening on: %s", baseURL)
	if err := http.ListenAndServe(cfg.Listen, svr); err != nil {
		log.Fatal(err)
	}
}
