// Package status serves the read-only HTTP surface of the upload client:
// per-upload progress snapshots, an aggregate view, health, version, and
// Prometheus metrics. It never mutates uploads; pause, resume, and cancel
// stay on the registry API.
package status

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/knowhubhq/knowledge-exchange/upload-client/internal/appconfig"
	"github.com/knowhubhq/knowledge-exchange/upload-client/internal/health"
	"github.com/knowhubhq/knowledge-exchange/upload-client/internal/metrics"
	"github.com/knowhubhq/knowledge-exchange/upload-client/internal/middleware"
	"github.com/knowhubhq/knowledge-exchange/upload-client/internal/uploader"
	"github.com/knowhubhq/knowledge-exchange/upload-client/pkg/progress"
	"github.com/knowhubhq/knowledge-exchange/upload-client/pkg/sloger"
) // .import

// ProgressSource is the slice of the upload registry the server reads from.
type ProgressSource interface {
	Progress(id string) (progress.Snapshot, error)
	Snapshots() []progress.Snapshot
	AggregateProgress(ids []string) progress.Aggregate
}

// Server handles http requests for upload progress
type Server struct {
	appConfig appconfig.AppConfig
	uploads   ProgressSource

	watchEvery time.Duration
	logger     *slog.Logger
} // .Server

// New returns a status server ready to serve
func New(appConfig appconfig.AppConfig, uploads ProgressSource) *Server {

	type Empty struct{}
	pkgParts := strings.Split(reflect.TypeOf(Empty{}).PkgPath(), "/")
	// add package name to app logger
	logger := sloger.With("pkg", pkgParts[len(pkgParts)-1])

	logger.Info("started status handler")

	return &Server{
		appConfig:  appConfig,
		uploads:    uploads,
		watchEvery: 500 * time.Millisecond,
		logger:     logger,
	} // .&Server
} // .New

// Router wires up all routes the status server responds on.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()

	router.Handle("/", appconfig.Handler()).Methods(http.MethodGet)
	router.Handle("/health", health.Handler()).Methods(http.MethodGet)
	router.Handle("/version", &VersionHandler{}).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	router.HandleFunc("/status", s.statusAll).Methods(http.MethodGet)
	router.HandleFunc("/status/{id}", s.statusOne).Methods(http.MethodGet)
	router.HandleFunc("/status/{id}/watch", s.watch).Methods(http.MethodGet)

	return router
} // .Router

// HttpServer, adds the routes for the status handlers and can customize the server with port address
func (s *Server) HttpServer() http.Server {
	handler := middleware.AddUploadIDContext(s.Router())
	handler = middleware.TracingMiddleware(handler)

	return http.Server{
		Addr:    s.appConfig.StatusListenAddr,
		Handler: metrics.TrackHTTP(handler),
	} // .httpServer
} // .HttpServer

// StatusResponse is the body of GET /status: the fold across every tracked
// upload plus the per-upload snapshots, oldest first.
type StatusResponse struct {
	Summary progress.Aggregate  `json:"summary"`
	Uploads []progress.Snapshot `json:"uploads"`
} // .StatusResponse

func (s *Server) statusAll(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Summary: s.uploads.AggregateProgress(nil),
		Uploads: s.uploads.Snapshots(),
	}
	s.writeJSON(w, resp)
} // .statusAll

func (s *Server) statusOne(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	snap, err := s.uploads.Progress(id)
	if err != nil {
		if errors.Is(err, uploader.ErrUploadNotFound) {
			http.Error(w, "upload "+id+" not found", http.StatusNotFound)
			return
		}
		s.logger.Error("error reading upload progress", "uploadId", id, "error", err.Error())
		http.Error(w, "failed to read upload progress", http.StatusInternalServerError)
		return
	} // .if

	s.writeJSON(w, snap)
} // .statusOne

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	jsonResp, err := json.Marshal(v)
	if err != nil {
		errMsg := "error marshal json for status response"
		s.logger.Error(errMsg, "error", err.Error())
		http.Error(w, errMsg, http.StatusInternalServerError)
		return
	} // .if

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(jsonResp)
} // .writeJSON
