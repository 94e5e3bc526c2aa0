// Package handlers implements the administrative pages and the JSON API.
package handlers

import (
	"time"

	"github.com/maruel/secdb/internal/config"
	"github.com/maruel/secdb/internal/history"
	"github.com/maruel/secdb/internal/logging"
	"github.com/maruel/secdb/internal/tabledb"
)

// Services holds the dependencies shared by the handlers.
type Services struct {
	Registry *tabledb.Registry
	Config   *config.Manager
	Audit    *logging.Audit
	History  *history.Repo // nil when history is disabled
	Version  string
	// Sessions returns the number of active sessions; optional.
	Sessions func() int
	// Now defaults to time.Now.
	Now func() time.Time
}

func (s *Services) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// open returns the store of an existing database.
func (s *Services) open(db string) (*tabledb.Store, error) {
	st, err := s.Registry.Open(db)
	if err != nil {
		return nil, toAPIError(err, db, "")
	}
	return st, nil
}
