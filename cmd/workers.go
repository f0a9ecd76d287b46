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
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/blnkfinance/openbank"
	"github.com/blnkfinance/openbank/config"
	"github.com/hibiken/asynq"
	"github.com/hibiken/asynqmon"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.elastic.co/apm/module/apmlogrus/v2"
	"go.opentelemetry.io/otel"
)

func init() {
	logrus.AddHook(&apmlogrus.Hook{})
}

// tracedWebhook wraps delivery in a span so worker traces join the API's.
func tracedWebhook(deliverer *openbank.WebhookDeliverer) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		ctx, span := otel.Tracer("openbank.webhooks.worker").Start(ctx, "Deliver Webhook From Redis Queue")
		defer span.End()

		if err := deliverer.ProcessWebhook(ctx, t); err != nil {
			retryCount, _ := asynq.GetRetryCount(ctx)
			logrus.WithError(err).WithField("attempt", retryCount+1).Warn("webhook delivery failed")
			span.RecordError(err)
			return err
		}
		return nil
	}
}

func initializeWorkerServer(conf *config.Configuration) (*asynq.Server, error) {
	redisOption, err := openbank.RedisClientOpt(conf)
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	return asynq.NewServer(
		redisOption,
		asynq.Config{
			Concurrency: conf.Queue.Concurrency,
			Queues:      map[string]int{conf.Queue.WebhookQueue: 1},
			Logger:      logrus.StandardLogger(),
		},
	), nil
}

func initializeTaskHandlers(conf *config.Configuration, mux *asynq.ServeMux) {
	deliverer := openbank.NewWebhookDeliverer(conf, openbank.ProviderClient(conf, nil))
	mux.HandleFunc(conf.Queue.WebhookQueue, tracedWebhook(deliverer))
}

// workerCommands starts the webhook worker, the consent poller and the
// asynqmon dashboard.
func workerCommands(app *openbankInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start openbank workers",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()
			conf := app.cnf

			phClient, shutdown, err := initializeObservability(ctx, conf)
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

			srv, err := initializeWorkerServer(conf)
			if err != nil {
				log.Fatal(err)
			}

			mux := asynq.NewServeMux()
			initializeTaskHandlers(conf, mux)

			poller := openbank.NewConsentPoller(app.ob, time.Duration(conf.Queue.ConsentPollSeconds)*time.Second)
			poller.Start()
			defer poller.Stop()

			redisOption, _ := openbank.RedisClientOpt(conf)
			h := asynqmon.New(asynqmon.Options{
				RootPath:     "/monitoring",
				RedisConnOpt: redisOption,
			})

			go func() {
				monitoringAddr := fmt.Sprintf(":%s", conf.Queue.MonitoringPort)
				log.Printf("Asynqmon server listening on %s/monitoring", monitoringAddr)
				if err := http.ListenAndServe(monitoringAddr, h); err != nil {
					log.Fatalf("could not start asynqmon server: %v", err)
				}
			}()

			if err := srv.Run(mux); err != nil {
				log.Fatalf("could not run server: %v", err)
			}
		},
	}

	return cmd
}
