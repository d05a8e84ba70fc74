package console

import (
	"net/http"
	"strconv"

	"github.com/paperledger/paperledger/pkg/api"
)

func (s *Server) handleDashboardSummary(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantOf(w, r)
	if !ok {
		return
	}
	summary, err := s.dash.Summarize(r.Context(), tenant)
	if err != nil {
		api.WriteInternal(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, summary)
}

func (s *Server) handleDashboardTimeseries(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantOf(w, r)
	if !ok {
		return
	}

	days := 0
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 366 {
			api.WriteBadRequest(w, "days must be between 1 and 366")
			return
		}
		days = n
	}

	series, err := s.dash.Timeseries(r.Context(), tenant, days)
	if err != nil {
		api.WriteInternal(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, recordsResponse{Records: series, Total: len(series)})
}

func (s *Server) handleDashboardAlerts(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantOf(w, r)
	if !ok {
		return
	}
	alerts, err := s.dash.Alerts(r.Context(), tenant)
	if err != nil {
		// Alert rules are tenant-authored; a broken expression is their
		// input error, not our server error.
		api.WriteBadRequest(w, err.Error())
		return
	}
	api.WriteJSON(w, http.StatusOK, recordsResponse{Records: alerts, Total: len(alerts)})
}

func (s *Server) handleDashboardUsage(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantOf(w, r)
	if !ok {
		return
	}
	period := r.URL.Query().Get("period")
	if period != "" && period != "day" && period != "month" {
		api.WriteBadRequest(w, "period must be day or month")
		return
	}

	usage, err := s.dash.Usage(r.Context(), tenant, period)
	if err != nil {
		api.WriteInternal(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, usage)
}
