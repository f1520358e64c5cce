// Package metrics exposes Prometheus instrumentation for the server.
package metrics

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SessionsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "keel_sessions_active",
		Help: "Currently open sessions by protocol.",
	}, []string{"protocol"})

	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keel_commands_total",
		Help: "Handled commands by protocol and command name.",
	}, []string{"protocol", "command"})

	CommandDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "keel_command_duration_seconds",
		Help:    "Command handling latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"protocol", "command"})

	LoginAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keel_login_attempts_total",
		Help: "Login attempts by outcome (ok, failed, throttled).",
	}, []string{"outcome"})

	MessagesDeliveredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keel_messages_delivered_total",
		Help: "Messages stored by source (LMTP, IMAP).",
	}, []string{"source"})

	BlobUploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keel_blob_uploads_total",
		Help: "Blob uploads to the object store by outcome.",
	}, []string{"outcome"})

	BlobFetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keel_blob_fetches_total",
		Help: "Blob reads by origin (cache, staging, s3).",
	}, []string{"origin"})

	CacheSizeBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "keel_cache_size_bytes",
		Help: "Current size of the local blob cache.",
	})

	CleanupSweptTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "keel_cleanup_swept_total",
		Help: "Blobs reclaimed by the cleanup worker.",
	})
)

// Serve exposes /metrics on addr until the context is cancelled.
func Serve(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("metrics listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Printf("metrics server error: %v", err)
	}
}
