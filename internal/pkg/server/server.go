package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/anicoll/lacrosse-integration/internal/pkg/accessory"
	"github.com/anicoll/lacrosse-integration/internal/pkg/metrics"
	"github.com/anicoll/lacrosse-integration/internal/pkg/model"
)

var errHistoryDisabled = errors.New("history is not configured")

type coordinator interface {
	Lookup(name string) (*accessory.Accessory, bool)
	Accessories() []*accessory.Accessory
	Refresh(ctx context.Context, tag string) bool
	Refreshing() bool
	LastSuccess() time.Time
}

type history interface {
	GetReadings(ctx context.Context, deviceID string, kind model.ServiceKind, from, to *time.Time) (model.Records, error)
	GetLatestReadings(ctx context.Context) (model.Records, error)
}

type server struct {
	devices coordinator
	history history
	stream  http.Handler
	logger  *zap.Logger
}

// New returns the local API. history and stream may be nil.
func New(devices coordinator, h history, stream http.Handler) *server {
	return &server{
		devices: devices,
		history: h,
		stream:  stream,
		logger:  zap.L(),
	}
}

func (s *server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(RecoverMiddleware)
	r.Use(LoggingMiddleware)
	r.NotFoundHandler = http.HandlerFunc(notFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)

	api := r.PathPrefix("/api").Subrouter()
	api.NotFoundHandler = http.HandlerFunc(notFound)
	api.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)
	api.HandleFunc("/health", s.GetHealth).Methods(http.MethodGet)
	api.HandleFunc("/refresh", s.PostRefresh).Methods(http.MethodPost)
	api.HandleFunc("/devices", s.GetDevices).Methods(http.MethodGet)
	api.HandleFunc("/devices/{name}", s.GetDevice).Methods(http.MethodGet)
	api.HandleFunc("/devices/{name}/{kind}", s.GetValue).Methods(http.MethodGet)
	api.HandleFunc("/devices/{name}/{kind}/history", s.GetHistory).Methods(http.MethodGet)
	api.HandleFunc("/readings/latest", s.GetLatestReadings).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	if s.stream != nil {
		r.Handle("/ws", s.stream)
	}

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(r)
}

type healthResponse struct {
	Status      string     `json:"status"`
	Refreshing  bool       `json:"refreshing"`
	LastSuccess *time.Time `json:"last_success,omitempty"`
	Devices     int        `json:"devices"`
}

func (s *server) GetHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:     "ok",
		Refreshing: s.devices.Refreshing(),
		Devices:    len(s.devices.Accessories()),
	}
	if last := s.devices.LastSuccess(); !last.IsZero() {
		resp.LastSuccess = &last
	}
	writeJSON(w, http.StatusOK, resp)
}

// PostRefresh runs a full refresh. The refresh is shared by every waiter, so
// a client hanging up does not cancel it.
func (s *server) PostRefresh(w http.ResponseWriter, r *http.Request) {
	refreshed := s.devices.Refresh(context.WithoutCancel(r.Context()), "api")
	writeJSON(w, http.StatusOK, map[string]bool{"refreshed": refreshed})
}

type deviceResponse struct {
	Name            string                         `json:"name"`
	DeviceID        string                         `json:"device_id"`
	Info            model.AccessoryInfo            `json:"info"`
	Available       bool                           `json:"available"`
	LastObservation int64                          `json:"last_observation"`
	Values          map[model.ServiceKind]*float64 `json:"values"`
}

func toDeviceResponse(a *accessory.Accessory) deviceResponse {
	details := a.Snapshot()
	values := make(map[model.ServiceKind]*float64, len(a.Kinds()))
	for _, kind := range a.Kinds() {
		if v, ok := model.ValueOf(details, kind); ok {
			values[kind] = &v
			continue
		}
		values[kind] = nil
	}
	return deviceResponse{
		Name:            a.Name(),
		DeviceID:        a.DeviceID(),
		Info:            a.Info(),
		Available:       details.Available(),
		LastObservation: details.LastObservation,
		Values:          values,
	}
}

func (s *server) GetDevices(w http.ResponseWriter, r *http.Request) {
	accessories := s.devices.Accessories()
	resp := make([]deviceResponse, 0, len(accessories))
	for _, a := range accessories {
		resp = append(resp, toDeviceResponse(a))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) GetDevice(w http.ResponseWriter, r *http.Request) {
	a, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toDeviceResponse(a))
}

// GetValue answers from the cache and triggers a background refresh.
func (s *server) GetValue(w http.ResponseWriter, r *http.Request) {
	a, ok := s.lookup(w, r)
	if !ok {
		return
	}
	kind, ok := parseKind(w, r)
	if !ok {
		return
	}
	v, err := a.Value(kind)
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"name": a.Name(), "kind": kind, "value": v})
}

func (s *server) GetHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		handleError(w, errHistoryDisabled)
		return
	}
	a, ok := s.lookup(w, r)
	if !ok {
		return
	}
	kind, ok := parseKind(w, r)
	if !ok {
		return
	}
	from, err := parseTime(r, "from")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	to, err := parseTime(r, "to")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	records, err := s.history.GetReadings(r.Context(), a.DeviceID(), kind, from, to)
	if err != nil {
		s.logger.Error("failed to read history", zap.Error(err))
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *server) GetLatestReadings(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		handleError(w, errHistoryDisabled)
		return
	}
	records, err := s.history.GetLatestReadings(r.Context())
	if err != nil {
		s.logger.Error("failed to read latest readings", zap.Error(err))
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *server) lookup(w http.ResponseWriter, r *http.Request) (*accessory.Accessory, bool) {
	name := mux.Vars(r)["name"]
	a, ok := s.devices.Lookup(name)
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("unknown device "+name))
		return nil, false
	}
	return a, true
}

func parseKind(w http.ResponseWriter, r *http.Request) (model.ServiceKind, bool) {
	raw := mux.Vars(r)["kind"]
	kind, ok := model.ParseServiceKind(raw)
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("unknown service "+raw))
		return "", false
	}
	return kind, true
}

// parseTime reads an optional RFC 3339 query parameter.
func parseTime(r *http.Request, key string) (*time.Time, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func notFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, errors.New("no route for "+r.URL.Path))
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, errors.New(r.Method+" not allowed on "+r.URL.Path))
}

func handleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, accessory.ErrNoResponse):
		writeError(w, http.StatusServiceUnavailable, err)
	case errors.Is(err, accessory.ErrUnsupportedKind):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, errHistoryDisabled):
		writeError(w, http.StatusNotImplemented, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
