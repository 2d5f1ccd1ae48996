// Command exnotify runs an example HTTP server whose failures are reported through the
// notifiers configured in configs/.env.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"exnotify.dev/pkg/exnotify"
	"exnotify.dev/pkg/exnotify/config"
	"exnotify.dev/pkg/exnotify/logging"
	"exnotify.dev/pkg/exnotify/middleware"
)

const (
	defaultHTTPPort   = 8000
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 5 * time.Second
)

var errOrderNotFound = errors.New("order not found")

func main() {
	logger := logging.NewLogger(logging.GetLevelFromString(os.Getenv("LOG_LEVEL")))
	conf := config.NewEnvFile("./configs", logger)

	logger.ChangeLevel(logging.GetLevelFromString(conf.GetOrDefault("LOG_LEVEL", "INFO")))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	n, err := exnotify.NewFromConfig(ctx, conf, logger, exnotify.WithRegisterer(prometheus.DefaultRegisterer))
	if err != nil {
		logger.Fatalf("could not set up exception notifications: %v", err)
	}

	logger.Infof("notifying %v", n.Notifiers())

	port, err := strconv.Atoi(conf.Get("HTTP_PORT"))
	if err != nil || port <= 0 {
		port = defaultHTTPPort
	}

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(port),
		Handler:           newRouter(n, logger),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		logger.Infof("starting server on port: %d", port)

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("error while listening to http server, err: %v", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("error shutting down http server: %v", err)
	}

	if err := n.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("error shutting down exception notifier: %v", err)
	}
}

func newRouter(n *exnotify.ExceptionNotifier, logger logging.Logger) http.Handler {
	router := mux.NewRouter()
	router.Use(n.HTTP)
	router.NotFoundHandler = n.HTTP(middleware.CascadeNotFound())

	router.Handle("/metrics", promhttp.Handler())

	router.HandleFunc("/greet", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, `{"data":"Hello World!"}`)
	}).Methods(http.MethodGet)

	// a panic is notified, then answered 500 by the recovery below.
	router.HandleFunc("/panic", func(http.ResponseWriter, *http.Request) {
		panic("something went terribly wrong")
	}).Methods(http.MethodGet)

	wrapped := n.Middleware().Wrap(func(_ http.ResponseWriter, r *http.Request) error {
		middleware.AddData(r.Context(), "order_id", mux.Vars(r)["id"])

		return errOrderNotFound
	})

	router.HandleFunc("/orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		if err := wrapped(w, r); err != nil {
			writeJSON(w, http.StatusNotFound, `{"error":{"message":"`+err.Error()+`"}}`)
		}
	}).Methods(http.MethodGet)

	router.HandleFunc("/jobs/sync", func(w http.ResponseWriter, r *http.Request) {
		job := n.Job("sync", func(context.Context) error { return errors.New("upstream refused the sync") })

		if err := job(r.Context()); err != nil {
			writeJSON(w, http.StatusAccepted, `{"data":"sync failed and was reported"}`)
		}
	}).Methods(http.MethodPost)

	return recoverPanics(router, logger)
}

// recoverPanics answers a re-raised panic with a 500 once the notifier has seen it.
func recoverPanics(next http.Handler, logger logging.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if re := recover(); re != nil {
				if re == http.ErrAbortHandler { //nolint:errorlint // sentinel compared by identity, as net/http does
					panic(re)
				}

				logging.LogPanic(re, logger)

				writeJSON(w, http.StatusInternalServerError,
					`{"code":500,"status":"ERROR","message":"Some unexpected error has occurred"}`)
			}
		}()

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
