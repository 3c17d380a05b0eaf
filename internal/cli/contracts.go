package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/provisohq/proviso/internal/policy"
)

func newContractsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contracts",
		Short: "Manage decision contract version history",
	}
	cmd.AddCommand(
		newContractsSeedCmd(a),
		newContractsListCmd(a),
		newContractsActiveCmd(a),
		newContractsShowCmd(a),
	)
	return cmd
}

func newContractsSeedCmd(a *app) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load a contract seed file into the store, skipping existing versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(); err != nil {
				return err
			}
			path := file
			if path == "" {
				path = a.cfg.ContractsPath
			}
			loaded, err := policy.LoadContracts(path)
			if err != nil {
				return fmt.Errorf("load contracts: %w", err)
			}
			count, err := a.reg.SeedContracts(loaded)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded contracts=%d hash=%s\n", count, loaded.Hash)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "contract seed file (defaults to contracts_path from config)")
	return cmd
}

func newContractsListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored contracts, most recent effective_from first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(); err != nil {
				return err
			}
			contracts, err := a.reg.ListContracts()
			if err != nil {
				return err
			}
			if a.jsonOut {
				return printJSON(cmd, contracts)
			}
			for _, contract := range contracts {
				fmt.Fprintf(cmd.OutOrStdout(), "version=%s status=%s effective_from=%s created_by=%s\n",
					contract.Version, contract.Status, contract.EffectiveFrom, contract.CreatedBy)
			}
			return nil
		},
	}
}

func newContractsActiveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "active",
		Short: "Show the currently active contract",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(); err != nil {
				return err
			}
			contract, ok := a.reg.ActiveContract()
			if !ok {
				return fmt.Errorf("no active contract")
			}
			if a.jsonOut {
				return printJSON(cmd, contract)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version=%s effective_from=%s auto_decision_allowed=%v\n",
				contract.Version, contract.EffectiveFrom, contract.Rules.AutoDecisionAllowed)
			return nil
		},
	}
}

func newContractsShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <version>",
		Short: "Show one contract version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(); err != nil {
				return err
			}
			contract, ok := a.reg.GetContract(args[0])
			if !ok {
				return fmt.Errorf("contract %s not found", args[0])
			}
			return printJSON(cmd, contract)
		},
	}
}
