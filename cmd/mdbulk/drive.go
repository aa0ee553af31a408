package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dgallion1/mdbulk/internal/drive"
	"github.com/dgallion1/mdbulk/internal/localfs"
)

func newResolveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <share-link>",
		Short: "Resolve a share link and remember it as the root folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.graph()
			if err != nil {
				return err
			}
			defer c.Close()
			it, err := c.ResolveShareLink(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := saveState(a.statePath, state{Root: it.Ref.Path(), Name: it.Name, File: it.Ref.Kind == drive.KindFile}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", it.Ref.Path(), it.Name)
			return nil
		},
	}
}

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ls [folder]",
		Short: "List the children of a folder",
		Long: `List prints the children of a local directory, a share link, or a
/drives/{driveId}/items/{id} folder; folders end in a slash. Without an
argument the stored root is listed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			arg := ""
			if len(args) == 1 {
				arg = args[0]
			}

			var items []drive.Item
			if info, err := os.Stat(arg); arg != "" && err == nil && info.IsDir() {
				store, err := localfs.New(arg)
				if err != nil {
					return err
				}
				if items, err = store.ListChildren(cmd.Context(), store.Root()); err != nil {
					return err
				}
			} else {
				c, err := a.graph()
				if err != nil {
					return err
				}
				defer c.Close()
				root, err := a.graphRoot(cmd.Context(), c, arg)
				if err != nil {
					return err
				}
				if items, err = c.ListChildren(cmd.Context(), root.Ref); err != nil {
					return err
				}
			}

			for _, it := range items {
				name := it.Name
				if it.IsFolder() {
					name += "/"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", it.Ref.Path(), name)
			}
			return nil
		},
	}
}

func newMeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "me",
		Short: "Show the account the token belongs to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.graph()
			if err != nil {
				return err
			}
			defer c.Close()
			me, err := c.Me(cmd.Context())
			if err != nil {
				return err
			}
			mail := me.Mail
			if mail == "" {
				mail = me.UserPrincipalName
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s <%s>\n", me.DisplayName, mail)
			return nil
		},
	}
}
