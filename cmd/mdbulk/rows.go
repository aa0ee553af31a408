package main

import (
	"github.com/spf13/cobra"
)

func newVerifyCmd(a *app) *cobra.Command {
	var out output
	var localDir string
	cmd := &cobra.Command{
		Use:   "verify <table>",
		Short: "Compare a table with the documents it came from",
		Long: `Verify reads every row's document again and writes the table back with a
<field>_original column holding the value currently in the document.

The table is a CSV or JSON file as written by extract, or - for stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, err := readTable(cmd, args[0])
			if err != nil {
				return err
			}
			store, closeStore, err := a.rowStore(localDir)
			if err != nil {
				return err
			}
			defer closeStore()
			svc, err := a.service(store)
			if err != nil {
				return err
			}
			verified, err := svc.Verify(cmd.Context(), rows)
			if err != nil {
				return err
			}
			drift := 0
			for _, r := range verified {
				for f, v := range r.Fields {
					if orig, ok := r.Original[f]; ok && orig != v {
						drift++
						break
					}
				}
			}
			a.log.Info("verified", "rows", len(verified), "changed", drift, "failed", failedRows(verified))
			return out.write(cmd, verified, svc.Fields())
		},
	}
	cmd.Flags().StringVar(&localDir, "local", "", "directory the table was extracted from")
	out.register(cmd)
	return cmd
}

func newUpdateCmd(a *app) *cobra.Command {
	var out output
	var localDir string
	cmd := &cobra.Command{
		Use:   "update <table>",
		Short: "Write a table's field values into its documents",
		Long: `Update writes every row's field values into the row's document and
uploads the documents that changed. Columns of fields the configuration
does not know are ignored; an empty cell clears the value.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, err := readTable(cmd, args[0])
			if err != nil {
				return err
			}
			store, closeStore, err := a.rowStore(localDir)
			if err != nil {
				return err
			}
			defer closeStore()
			svc, err := a.service(store)
			if err != nil {
				return err
			}
			updated, err := svc.Update(cmd.Context(), rows)
			if err != nil {
				return err
			}
			a.log.Info("updated", "rows", len(updated), "failed", failedRows(updated))
			return out.write(cmd, updated, svc.Fields())
		},
	}
	cmd.Flags().StringVar(&localDir, "local", "", "directory the table was extracted from")
	out.register(cmd)
	return cmd
}
