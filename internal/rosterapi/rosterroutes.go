package rosterapi

import (
	"errors"
	"fmt"
	"net/http"

	serverops "github.com/pairlink/pairlink/apiframework"
	"github.com/pairlink/pairlink/libauth"
	"github.com/pairlink/pairlink/rosterservice"
)

// AddRosterRoutes registers the read-only roster routes.
func AddRosterRoutes(mux *http.ServeMux, roster rosterservice.Service) {
	m := &rosterManager{roster: roster}

	mux.HandleFunc("GET /roster", m.listCounterparts)
	mux.HandleFunc("GET /roster/{counterpartId}", m.getCounterpart)
}

type rosterManager struct {
	roster rosterservice.Service
}

// Lists the caller's chat counterparts, normalized and sorted by name.
func (m *rosterManager) listCounterparts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identity, err := libauth.IdentityFromContext(ctx)
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.AuthorizeOperation)
		return
	}

	counterparts, err := m.roster.ListCounterparts(ctx, identity.ID)
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.ListOperation)
		return
	}

	_ = serverops.Encode(w, r, http.StatusOK, counterparts) // @response []rosterservice.Counterpart
}

// Resolves a single roster entry.
func (m *rosterManager) getCounterpart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identity, err := libauth.IdentityFromContext(ctx)
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.AuthorizeOperation)
		return
	}

	counterpartID := serverops.GetPathParam(r, "counterpartId", "The roster entry to resolve.")
	counterpart, err := m.roster.GetCounterpart(ctx, identity.ID, counterpartID)
	if err != nil {
		if errors.Is(err, rosterservice.ErrNotFound) {
			err = fmt.Errorf("%w: %w", serverops.ErrNotFound, err)
		}
		_ = serverops.Error(w, r, err, serverops.GetOperation)
		return
	}

	_ = serverops.Encode(w, r, http.StatusOK, counterpart) // @response rosterservice.Counterpart
}
