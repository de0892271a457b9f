package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
)

// Instrument оборачивает обработчик маршрута, например для сбора метрик.
type Instrument func(route string, next http.Handler) http.Handler

// Router регистрирует маршруты API. instrument может быть nil.
func (h *Handlers) Router(instrument Instrument) *mux.Router {
	if instrument == nil {
		instrument = func(_ string, next http.Handler) http.Handler { return next }
	}
	router := mux.NewRouter()
	routes := []struct {
		path    string
		handler http.HandlerFunc
	}{
		{"/health", h.HealthCheck},
		{"/cities", h.GetCities},
		{"/city/{cityid}/data", h.SubmitAggregation},
		{"/city/{cityid}/download", h.SubmitExport},
		{"/jobs/{id}", h.PollJob},
	}
	for _, rt := range routes {
		router.Handle(rt.path, instrument(rt.path, rt.handler)).Methods(http.MethodGet)
	}
	return router
}
