/*
Copyright 2024 Flowlane Authors.

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

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/flowlane/flowlane"
	"github.com/flowlane/flowlane/config"
	"github.com/flowlane/flowlane/database"
	"github.com/flowlane/flowlane/internal/notification"
)

// Flowlane represents the CLI application, encapsulating the root Cobra
// command.
type Flowlane struct {
	cmd *cobra.Command
}

// flowlaneInstance holds the runtime instance shared by the subcommands.
type flowlaneInstance struct {
	flowlane     *flowlane.Flowlane
	pools        *database.PoolManager
	cnf          *config.Configuration
	sourcePoller *flowlane.TaskSourcePoller
}

// recoverPanic handles any panics during program execution and logs the
// error.
func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads the configuration and initializes the Flowlane instance before
// running any command.
func preRun(app *flowlaneInstance) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig("flowlane.json")
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		newFlowlane, pools, err := setupFlowlane(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}

		app.flowlane = newFlowlane
		app.pools = pools
		app.cnf = cnf

		return nil
	}
}

// setupFlowlane creates the pool manager and the Flowlane instance on top of
// it.
func setupFlowlane(cfg *config.Configuration) (*flowlane.Flowlane, *database.PoolManager, error) {
	pools := database.NewPoolManager(cfg)

	newFlowlane, err := flowlane.NewFlowlane(pools)
	if err != nil {
		return nil, nil, fmt.Errorf("error creating flowlane: %v", err)
	}
	return newFlowlane, pools, nil
}

// NewCLI creates the command-line interface for the Flowlane application.
func NewCLI() *Flowlane {
	var configFile string
	b := &flowlaneInstance{}

	var rootCmd = &cobra.Command{
		Use:   "flowlane",
		Short: "Multi-tenant event inbox",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./flowlane.json", "Configuration file for flowlane")

	rootCmd.PersistentPreRunE = preRun(b)

	rootCmd.AddCommand(serverCommands(b))
	rootCmd.AddCommand(workerCommands(b))
	rootCmd.AddCommand(migrateCommands(b))

	return &Flowlane{cmd: rootCmd}
}

// executeCLI runs the root command, handling any errors that occur during
// execution.
func (w Flowlane) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
