/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Command isolevel creates the schema, seeds data and runs isolation-level
// demonstrations against the configured database.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tomoncle/isolevel/config"
	"github.com/tomoncle/isolevel/database"
	"github.com/tomoncle/isolevel/utils"
	"github.com/uptrace/bun"
)

type app struct {
	configPath string
	cfg        *config.Config
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:           "isolevel",
		Short:         "Persist entities in transactions at an explicit isolation level",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return a.load()
		},
	}
	cmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file (default ./isolevel.yaml or ./configs/isolevel.yaml)")

	cmd.AddCommand(newMigrateCommand(a))
	cmd.AddCommand(newSeedCommand(a))
	cmd.AddCommand(newRoomDemoCommand(a))
	cmd.AddCommand(newLostUpdateCommand(a))
	cmd.AddCommand(newOversellCommand(a))
	cmd.AddCommand(newBlockedDepositCommand(a))
	cmd.AddCommand(newPhantomCommand(a))
	cmd.AddCommand(newWithdrawCommand(a))
	cmd.AddCommand(newAccountsCommand(a))
	cmd.AddCommand(newConfigCommand(a))
	return cmd
}

func (a *app) load() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	utils.ConfigureConsoleLogFormat(cfg.Log.Format)
	utils.ConfigureLogLevel(cfg.Log.Level)
	a.cfg = cfg
	return nil
}

// open connects the process-wide database. Callers close it with
// database.CloseDB.
func (a *app) open(cmd *cobra.Command) (*bun.DB, error) {
	return database.InitDB(cmd.Context(), a.cfg.ConfigLoader())
}
