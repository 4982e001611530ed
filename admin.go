package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	contractx "github.com/tanpawarit/chative-lead-dispatch/agent/contract"
	promptx "github.com/tanpawarit/chative-lead-dispatch/agent/prompt"
	statex "github.com/tanpawarit/chative-lead-dispatch/agent/state"
	configx "github.com/tanpawarit/chative-lead-dispatch/pkg/config"
)

func newCatalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Vehicle catalog commands",
	}
	cmd.AddCommand(newCatalogRefreshCmd())
	return cmd
}

func newCatalogRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Fetch the new and used model lists and print them",
		Long:  "Fetches both catalogs once. A failed fetch prints the fallback list from the prompt pack.",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := configx.New[AppConfig]("APP")
			if err != nil {
				return err
			}
			pack, err := promptx.LoadFile(app.Prompts)
			if err != nil {
				return err
			}
			cache, _, err := openCatalog(pack)
			if err != nil {
				return err
			}

			models := cache.RefreshAll(cmd.Context())
			out := cmd.OutOrStdout()
			for _, pt := range []statex.PurchaseType{statex.PurchaseNew, statex.PurchaseUsed} {
				fmt.Fprintf(out, "%s (%d): %s\n", pt, len(models[pt]), strings.Join(models[pt], ", "))
			}
			return nil
		},
	}
}

func newLedgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Dispatch ledger commands",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Create or update the ledger tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := configx.New[AppConfig]("APP")
			if err != nil {
				return err
			}
			store, err := openLedger(cmd.Context(), app)
			if err != nil {
				return err
			}
			defer closer("ledger", store)()
			fmt.Fprintf(cmd.OutOrStdout(), "Ledger migrated (%s)\n", app.LedgerDriver)
			return nil
		},
	})
	return cmd
}

func newAdvisorsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "advisors",
		Short: "Manage the advisor roster stored in the ledger",
	}
	cmd.AddCommand(newAdvisorsAddCmd())
	cmd.AddCommand(newAdvisorsListCmd())
	cmd.AddCommand(newAdvisorsActiveCmd("deactivate", false))
	cmd.AddCommand(newAdvisorsActiveCmd("activate", true))
	return cmd
}

func newAdvisorsAddCmd() *cobra.Command {
	var (
		name     string
		position int
	)

	cmd := &cobra.Command{
		Use:   "add <id> <contact>",
		Short: "Add or update an advisor",
		Long:  "Adds an advisor to the roster, or updates the name and contact of an existing one.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := configx.New[AppConfig]("APP")
			if err != nil {
				return err
			}
			store, err := openLedger(cmd.Context(), app)
			if err != nil {
				return err
			}
			defer closer("ledger", store)()

			adv := contractx.Advisor{
				ID:      strings.TrimSpace(args[0]),
				Name:    strings.TrimSpace(name),
				Contact: strings.TrimSpace(args[1]),
				Active:  true,
			}
			if err := store.UpsertAdvisor(cmd.Context(), adv, position); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Advisor %s saved\n", adv.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "display name shown to the customer")
	cmd.Flags().IntVar(&position, "position", -1, "roster position (negative appends)")
	return cmd
}

func newAdvisorsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the roster in dispatch order",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := configx.New[AppConfig]("APP")
			if err != nil {
				return err
			}
			store, err := openLedger(cmd.Context(), app)
			if err != nil {
				return err
			}
			defer closer("ledger", store)()

			advisors, err := store.ListAdvisors(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tCONTACT\tACTIVE")
			for _, a := range advisors {
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", a.ID, a.Name, a.Contact, a.Active)
			}
			return w.Flush()
		},
	}
}

func newAdvisorsActiveCmd(use string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: fmt.Sprintf("Mark an advisor as %sd", use),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := configx.New[AppConfig]("APP")
			if err != nil {
				return err
			}
			store, err := openLedger(cmd.Context(), app)
			if err != nil {
				return err
			}
			defer closer("ledger", store)()

			if err := store.SetAdvisorActive(cmd.Context(), args[0], active); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Advisor %s %sd\n", args[0], use)
			return nil
		},
	}
}
