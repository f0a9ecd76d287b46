/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blnkfinance/openbank/api"
	"github.com/blnkfinance/openbank/config"
	trace "github.com/blnkfinance/openbank/internal/traces"
	"github.com/caddyserver/certmagic"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/posthog/posthog-go"
	"github.com/spf13/cobra"
)

// serveTLS starts an HTTPS server with certificates managed by CertMagic.
// Without a domain it falls back to localhost.
func serveTLS(ctx context.Context, r *gin.Engine, conf config.ServerConfig) error {
	certmagic.DefaultACME.Agreed = true
	certmagic.DefaultACME.Email = conf.Email
	cfg := certmagic.NewDefault()
	cfg.Storage = &certmagic.FileStorage{Path: "certmagic"}

	domains := []string{conf.Domain}
	if conf.Domain == "" {
		log.Println("No domain specified, defaulting to localhost")
		domains = []string{"localhost"}
	}

	if err := cfg.ManageSync(ctx, domains); err != nil {
		return err
	}

	server := &http.Server{
		Addr:              ":" + conf.Port,
		Handler:           r,
		TLSConfig:         cfg.TLSConfig(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Printf("Starting HTTPS server on %s\n", conf.Port)
	return runUntilSignal(ctx, server, func() error { return server.ListenAndServeTLS("", "") })
}

// runUntilSignal serves until SIGINT/SIGTERM and then drains in-flight requests.
func runUntilSignal(ctx context.Context, server *http.Server, serve func() error) error {
	errCh := make(chan error, 1)
	go func() {
		if err := serve(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-stop:
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	log.Println("Shutting down server...")
	return server.Shutdown(shutdownCtx)
}

// sendHeartbeat reports liveness to PostHog every five minutes.
func sendHeartbeat(client posthog.Client, heartbeatID string) {
	ticker := time.NewTicker(5 * time.Minute)
	go func() {
		for range ticker.C {
			if err := client.Enqueue(posthog.Capture{
				DistinctId: heartbeatID,
				Event:      "server_heartbeat",
				Properties: map[string]interface{}{
					"timestamp": time.Now().UTC(),
				},
			}); err != nil {
				log.Printf("Failed to send heartbeat: %v", err)
			}
		}
	}()
}

func initializeRouter(app *openbankInstance) *gin.Engine {
	return api.NewAPI(app.ob).Router()
}

func initializeTracing(ctx context.Context, serviceName string) (func(context.Context) error, error) {
	shutdown, err := trace.SetupOTelSDK(ctx, serviceName)
	if err != nil {
		return nil, fmt.Errorf("error setting up OTel SDK: %v", err)
	}
	return shutdown, nil
}

func initializePostHog(apiKey, mode string) (posthog.Client, string) {
	if apiKey == "" {
		return nil, ""
	}
	client, err := posthog.NewWithConfig(apiKey, posthog.Config{Endpoint: "https://us.i.posthog.com"})
	if err != nil {
		log.Printf("PostHog disabled: %v", err)
		return nil, ""
	}
	heartbeatID := uuid.New().String()
	_ = client.Enqueue(posthog.Capture{
		DistinctId: heartbeatID,
		Event:      "server_started",
		Properties: map[string]interface{}{"mode": mode},
	})
	sendHeartbeat(client, heartbeatID)
	return client, heartbeatID
}

func startServer(ctx context.Context, router *gin.Engine, cfg config.ServerConfig) error {
	if cfg.SSL {
		return serveTLS(ctx, router, cfg)
	}
	log.Printf("Starting server on http://localhost:%s", cfg.Port)
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return runUntilSignal(ctx, server, server.ListenAndServe)
}

// initializeObservability turns on tracing when enabled and the PostHog
// heartbeat when telemetry is enabled. Both are off by default.
func initializeObservability(ctx context.Context, cfg *config.Configuration) (posthog.Client, func(context.Context) error, error) {
	shutdown := func(context.Context) error { return nil }
	if cfg.EnableTracing {
		var err error
		shutdown, err = initializeTracing(ctx, cfg.ProjectName)
		if err != nil {
			return nil, nil, err
		}
	}

	if !cfg.EnableTelemetry {
		return nil, shutdown, nil
	}
	phClient, _ := initializePostHog(cfg.PostHogKey, cfg.OpenBanking.Mode)
	return phClient, shutdown, nil
}

// serverCommands returns the command that serves the HTTP API.
func serverCommands(app *openbankInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "start openbank server",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()
			cfg := app.cnf

			phClient, shutdown, err := initializeObservability(ctx, cfg)
			if err != nil {
				log.Fatal(err)
			}
			defer func() {
				if err := shutdown(ctx); err != nil {
					log.Printf("Error during shutdown: %v", err)
				}
			}()
			if phClient != nil {
				defer phClient.Close()
			}
			defer func() {
				if err := app.queue.Close(); err != nil {
					log.Printf("Error closing webhook queue: %v", err)
				}
			}()

			router := initializeRouter(app)
			if err := startServer(ctx, router, cfg.Server); err != nil {
				log.Fatal(err)
			}
		},
	}

	return cmd
}
