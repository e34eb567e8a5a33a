// README: API gateway; holds module services and exposes the gin route table.
package http

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"ridecore/internal/infra"
	"ridecore/internal/modules/driver"
	"ridecore/internal/modules/location"
	"ridecore/internal/modules/notify"
	"ridecore/internal/modules/ranking"
	"ridecore/internal/modules/trip"
)

type ServerDeps struct {
	Trips    *trip.Service
	Drivers  *driver.Service
	Location *location.Service
	Ranking  ranking.Ledger
	Hub      *notify.Hub
	Verifier infra.TokenVerifier
	Log      logrus.FieldLogger
}

type Server struct {
	deps ServerDeps
}

func NewServer(deps ServerDeps) *Server {
	return &Server{deps: deps}
}

func (s *Server) Routes() http.Handler {
	return NewRouter(s.deps)
}
