// Package audit keeps a queryable trail of exercise store mutations in a SQL
// database and serves it over HTTP.
package audit

import (
	"github.com/go-chi/chi/v5"
)

// Router mounts the read-only audit API:
//
//	GET /events            paged list, newest first
//	GET /events/{eventId}  one event
func Router(store *Store) chi.Router {
	a := api{store: store}
	r := chi.NewRouter()
	r.Get("/events", a.listEvents)
	r.Get("/events/{eventId}", a.getEvent)
	return r
}
