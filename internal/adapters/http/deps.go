package http

import (
	"github.com/samirrijal/civicmap/internal/adapters/postgres"
	"github.com/samirrijal/civicmap/internal/adapters/valkey"
	"github.com/samirrijal/civicmap/internal/core/nearby"
	"github.com/samirrijal/civicmap/internal/core/placesearch"
	"github.com/samirrijal/civicmap/internal/core/ports"
	"github.com/samirrijal/civicmap/internal/core/usecases"
	"github.com/samirrijal/civicmap/internal/session"
)

// BrokerStatus reports whether the message broker connection is up.
type BrokerStatus interface {
	Connected() bool
}

// Dependencies holds all services needed by HTTP handlers.
type Dependencies struct {
	Issues     *usecases.IssueService
	Solutions  *usecases.SolutionService
	Reports    *usecases.ReportService
	Viewpoints *usecases.ViewpointService
	Prefs      *usecases.PreferenceService
	Geocoder   ports.Geocoder
	Nearby     nearby.Finder
	Hub        *session.Hub

	// SearchLimit caps forward-geocode results; zero means 5.
	SearchLimit int
	// SearchMinLength is the shortest query sent to the geocoder; zero means 3.
	SearchMinLength int
	// DocsPath is the OpenAPI document served under /docs.
	DocsPath string

	Broker BrokerStatus
	DB     *postgres.DB
	Cache  *valkey.Cache
}

func (d *Dependencies) searchMinLength() int {
	if d.SearchMinLength <= 0 {
		return placesearch.DefaultMinLength
	}
	return d.SearchMinLength
}
