// Command job-receiver is a development endpoint for the webhook job
// queue. It verifies delivery signatures, decodes each job and keeps the
// most recent ones for inspection.
package main

import (
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
)

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	addr := ":8080"
	if v := os.Getenv("ADDR"); v != "" {
		addr = v
	}
	secret := os.Getenv("JOB_WEBHOOK_SECRET")
	if secret == "" {
		logger.Warn("JOB_WEBHOOK_SECRET not set, signatures are not checked")
	}

	rcv := newReceiver(secret, 50, logger)
	srv := &http.Server{
		Addr:              addr,
		Handler:           rcv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("job-receiver listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
