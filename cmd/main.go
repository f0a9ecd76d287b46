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
	"fmt"
	"log"
	"os"

	"github.com/blnkfinance/openbank"
	"github.com/blnkfinance/openbank/config"
	"github.com/blnkfinance/openbank/database"
	"github.com/blnkfinance/openbank/internal/notification"
	redis_db "github.com/blnkfinance/openbank/internal/redis-db"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Openbank represents the CLI application, encapsulating the root Cobra command.
type Openbank struct {
	cmd *cobra.Command
}

// openbankInstance holds what every subcommand needs once the configuration is loaded.
type openbankInstance struct {
	ob    *openbank.OpenBank
	cnf   *config.Configuration
	queue *openbank.WebhookQueue
}

func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads the configuration and builds the pipeline before any command runs.
func preRun(app *openbankInstance, configFile *string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := config.InitConfig(*configFile); err != nil {
			log.Fatal("error loading config: ", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}
		app.cnf = cnf

		// migrations and config printing do not need Redis or the providers
		if cmd.Name() == "config" || (cmd.Parent() != nil && cmd.Parent().Name() == "migrate") {
			return nil
		}

		ob, queue, err := setupOpenBank(cnf)
		if err != nil {
			notification.NotifyErrorAndWait(err)
			log.Fatal(err)
		}
		app.ob = ob
		app.queue = queue
		return nil
	}
}

// setupOpenBank connects the datasource and Redis, registers the provider
// gateways and returns the pipeline with webhooks routed through asynq.
func setupOpenBank(cfg *config.Configuration) (*openbank.OpenBank, *openbank.WebhookQueue, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("error getting datasource: %v", err)
	}

	rdb, err := redis_db.NewRedisClient([]string{cfg.Redis.Dns}, cfg.Redis.SkipTLSVerify)
	if err != nil {
		return nil, nil, fmt.Errorf("error connecting to redis: %v", err)
	}

	queue, err := openbank.NewWebhookQueue(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("error creating webhook queue: %v", err)
	}

	gateways := openbank.NewGatewayRegistry(cfg, openbank.ProviderClient(cfg, nil))
	if missing := cfg.OpenBanking.Configured(); len(missing) > 0 {
		logrus.WithField("missing", missing).Warn("live provider credentials are incomplete; only the sandbox provider will answer")
	}

	ob, err := openbank.NewOpenBank(cfg, db, gateways, rdb.Client(), openbank.WithNotifier(queue))
	if err != nil {
		return nil, nil, fmt.Errorf("error creating openbank: %v", err)
	}
	return ob, queue, nil
}

// NewCLI creates the root command with the server, workers, migrate and config subcommands.
func NewCLI() *Openbank {
	var configFile string
	app := &openbankInstance{}

	var rootCmd = &cobra.Command{
		Use:   "openbank",
		Short: "Open Banking account verification and payments",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./openbank.json", "Configuration file for the openbank server")
	rootCmd.PersistentPreRunE = preRun(app, &configFile)

	rootCmd.AddCommand(serverCommands(app))
	rootCmd.AddCommand(workerCommands(app))
	rootCmd.AddCommand(migrateCommands(app))
	rootCmd.AddCommand(configCommands(app))

	return &Openbank{cmd: rootCmd}
}

func (o Openbank) executeCLI() {
	if err := o.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
