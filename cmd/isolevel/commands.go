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

package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/tomoncle/isolevel"
	"github.com/tomoncle/isolevel/database"
	"github.com/tomoncle/isolevel/entity"
	"github.com/tomoncle/isolevel/repository"
	"github.com/tomoncle/isolevel/scenario"
	"github.com/tomoncle/isolevel/types"
)

func newMigrateCommand(a *app) *cobra.Command {
	var rollback string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the account, item and room tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg.ConfigLoader()
			cfg.DataMigrateConfig.EnableMigrateOnStartup = rollback == ""
			db, err := database.InitDB(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer database.CloseDB()

			mm := database.NewMigrationManager(db, database.GetLogger())
			if rollback != "" {
				if err := mm.Rollback(cmd.Context(), rollback); err != nil {
					return err
				}
			}
			applied, err := mm.AppliedMigrations(cmd.Context())
			if err != nil {
				return err
			}
			for _, m := range applied {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", m.Version, m.Name, m.AppliedAt.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&rollback, "rollback", "", "roll back the given migration version instead of migrating")
	return cmd
}

func newSeedCommand(a *app) *cobra.Command {
	var env, path string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Execute the SQL seed files of an environment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if path != "" {
				a.cfg.Seed.Path = path
			}
			if _, err := a.open(cmd); err != nil {
				return err
			}
			defer database.CloseDB()
			if env == "" {
				env = a.cfg.Seed.Environment
			}
			return database.InitDataWithSQL(cmd.Context(), env)
		},
	}
	cmd.Flags().StringVarP(&env, "env", "e", "", "seed environment (default from config)")
	cmd.Flags().StringVar(&path, "path", "", "seed root directory (default from config)")
	return cmd
}

func newRoomDemoCommand(a *app) *cobra.Command {
	var guest string
	cmd := &cobra.Command{
		Use:   "room-demo",
		Short: "Create a room, then book it in a serializable transaction",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer database.CloseDB()

			res, err := scenario.RoomBooking(cmd.Context(), isolevel.NewRoomService(db), guest)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "created:", res.Created)
			fmt.Fprintln(cmd.OutOrStdout(), "booked: ", res.Booked)
			return nil
		},
	}
	cmd.Flags().StringVar(&guest, "guest", "Alice", "guest name")
	return cmd
}

func newLostUpdateCommand(a *app) *cobra.Command {
	var (
		levelName   string
		balance     int64
		amount      int64
		showMetrics bool
	)
	cmd := &cobra.Command{
		Use:   "lost-update",
		Short: "Run two overlapping withdrawals and report whether one was lost",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			levels, err := parseLevels(levelName)
			if err != nil {
				return err
			}
			db, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer database.CloseDB()

			reg := prometheus.NewRegistry()
			metrics, err := database.NewTxMetrics(reg)
			if err != nil {
				return err
			}
			svc := isolevel.NewAccountService(db, isolevel.WithMetrics(metrics))

			for _, level := range levels {
				acc, err := svc.SaveReadCommitted(cmd.Context(), entity.NewAccount(balance))
				if err != nil {
					return err
				}
				res, err := scenario.LostUpdate(cmd.Context(), svc, level, acc.ID, amount)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), res)
			}
			if showMetrics {
				return printMetrics(cmd.OutOrStdout(), reg)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&levelName, "level", "l", "all", "isolation level: "+levelChoices()+" or all")
	cmd.Flags().Int64Var(&balance, "balance", 500, "initial account balance")
	cmd.Flags().Int64Var(&amount, "amount", 250, "amount each transaction withdraws")
	cmd.Flags().BoolVar(&showMetrics, "metrics", false, "print transaction metrics afterwards")
	return cmd
}

func newOversellCommand(a *app) *cobra.Command {
	var levelName, sku string
	cmd := &cobra.Command{
		Use:   "oversell",
		Short: "Restock one unit while a buyer re-checks availability and report whether it was sold twice",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			levels, err := parseLevels(levelName)
			if err != nil {
				return err
			}
			db, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer database.CloseDB()

			svc := isolevel.NewItemService(db)
			for _, level := range levels {
				item, err := svc.SaveReadCommitted(cmd.Context(), entity.NewItem(fmt.Sprintf("%s-%s-%d", sku, level.Name(), time.Now().UnixNano()), 1, 0))
				if err != nil {
					return err
				}
				res, err := scenario.ItemOversell(cmd.Context(), svc, level, item.ID)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), res)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&levelName, "level", "l", "all", "isolation level: "+levelChoices()+" or all")
	cmd.Flags().StringVar(&sku, "sku", "DEMO", "SKU prefix of the items created")
	return cmd
}

func newBlockedDepositCommand(a *app) *cobra.Command {
	var (
		levelName string
		balance   int64
		deposit   int64
		hold      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "blocked-deposit",
		Short: "Deposit into an account while another transaction withdraws everything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			levels, err := parseLevels(levelName)
			if err != nil {
				return err
			}
			db, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer database.CloseDB()

			svc := isolevel.NewAccountService(db)
			for _, level := range levels {
				acc, err := svc.SaveReadCommitted(cmd.Context(), entity.NewAccount(balance))
				if err != nil {
					return err
				}
				res, err := scenario.BlockedDeposit(cmd.Context(), svc, level, acc.ID, deposit, hold)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), res)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&levelName, "level", "l", "all", "isolation level: "+levelChoices()+" or all")
	cmd.Flags().Int64Var(&balance, "balance", 500, "initial account balance")
	cmd.Flags().Int64Var(&deposit, "deposit", 1000, "amount deposited")
	cmd.Flags().DurationVar(&hold, "hold", 500*time.Millisecond, "how long the withdrawal stays open")
	return cmd
}

func newPhantomCommand(a *app) *cobra.Command {
	var (
		levelName string
		storeID   int64
	)
	cmd := &cobra.Command{
		Use:   "phantom",
		Short: "Add an item to a store while another transaction counts and restocks it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			levels, err := parseLevels(levelName)
			if err != nil {
				return err
			}
			db, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer database.CloseDB()

			svc := isolevel.NewItemService(db)
			for _, level := range levels {
				sku := fmt.Sprintf("PHANTOM-%s-%d", level.Name(), time.Now().UnixNano())
				res, err := scenario.PhantomInsert(cmd.Context(), svc, level, storeID, sku)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), res)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&levelName, "level", "l", "all", "isolation level: "+levelChoices()+" or all")
	cmd.Flags().Int64Var(&storeID, "store", 1, "store whose items are counted")
	return cmd
}

func newWithdrawCommand(a *app) *cobra.Command {
	var (
		levelName string
		accountID int64
		amount    int64
	)
	cmd := &cobra.Command{
		Use:   "withdraw",
		Short: "Withdraw from an account, retrying on serialization conflicts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			level, err := database.ParseIsolationLevel(levelName)
			if err != nil {
				return err
			}
			db, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer database.CloseDB()

			svc := isolevel.NewAccountService(db)
			acc, err := isolevel.RetryOnConflict(cmd.Context(), a.cfg.RetryPolicy(), func(ctx context.Context) (*entity.Account, error) {
				var updated *entity.Account
				err := svc.Transact(ctx, level, func(ctx context.Context, repo repository.Repository[entity.Account]) error {
					acc, found, err := repo.FindByID(ctx, accountID)
					if err != nil {
						return err
					}
					if !found {
						return fmt.Errorf("%w: account id=%d", repository.ErrEntityNotFound, accountID)
					}
					acc.Withdraw(amount)
					updated, err = repo.Save(ctx, acc)
					return err
				})
				return updated, err
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), acc)
			return nil
		},
	}
	cmd.Flags().StringVarP(&levelName, "level", "l", "serializable", "isolation level: "+levelChoices())
	cmd.Flags().Int64Var(&accountID, "account", 0, "account id")
	cmd.Flags().Int64Var(&amount, "amount", 0, "amount to withdraw")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}

func newAccountsCommand(a *app) *cobra.Command {
	var page, size int
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "List accounts one page at a time",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer database.CloseDB()

			repo := repository.NewRepository[entity.Account](db)
			result, err := repo.Page(cmd.Context(), types.NewDefaultPageRequest(page, size))
			if err != nil {
				return err
			}
			for _, acc := range result.Items {
				fmt.Fprintln(cmd.OutOrStdout(), acc)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "page %d/%d, %d accounts\n", result.Page, result.Pages(), result.Total)
			return nil
		},
	}
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&size, "size", 20, "page size")
	return cmd
}

func newConfigCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.cfg.Dump(cmd.OutOrStdout())
		},
	}
}

func levelChoices() string {
	return strings.Join(types.EnumNames(database.IsolationLevels()...), ", ")
}

func parseLevels(name string) ([]database.IsolationLevel, error) {
	if strings.EqualFold(name, "all") {
		return database.IsolationLevels(), nil
	}
	level, err := database.ParseIsolationLevel(name)
	if err != nil {
		return nil, err
	}
	return []database.IsolationLevel{level}, nil
}

func printMetrics(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			labels := make([]string, 0, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				labels = append(labels, lp.GetName()+"="+lp.GetValue())
			}
			sort.Strings(labels)
			switch {
			case m.GetCounter() != nil:
				fmt.Fprintf(w, "%s{%s} %g\n", mf.GetName(), strings.Join(labels, ","), m.GetCounter().GetValue())
			case m.GetHistogram() != nil:
				h := m.GetHistogram()
				fmt.Fprintf(w, "%s{%s} count=%d sum=%.6f\n", mf.GetName(), strings.Join(labels, ","), h.GetSampleCount(), h.GetSampleSum())
			}
		}
	}
	return nil
}
