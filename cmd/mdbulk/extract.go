package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dgallion1/mdbulk/internal/bulk"
	"github.com/dgallion1/mdbulk/internal/drive"
	"github.com/dgallion1/mdbulk/internal/localfs"
)

func newExtractCmd(a *app) *cobra.Command {
	var out output
	cmd := &cobra.Command{
		Use:   "extract [root]",
		Short: "Extract the fields of every document under a folder",
		Long: `Extract walks the folder tree under root and writes one row per document.

root is a local directory or file, a share link, or a
/drives/{driveId}/items/{id} path. Without root the item stored by
"mdbulk resolve" is used. A file root yields a single row.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			root := ""
			if len(args) == 1 {
				root = args[0]
			}

			if info, err := os.Stat(root); root != "" && err == nil {
				switch {
				case info.IsDir():
					store, err := localfs.New(root)
					if err != nil {
						return err
					}
					return a.extract(cmd, &out, store, drive.Item{Ref: store.Root()})
				case info.Mode().IsRegular():
					// A single file is served from its directory.
					store, err := localfs.New(filepath.Dir(root))
					if err != nil {
						return err
					}
					name := filepath.Base(root)
					ref := store.Ref(name)
					ref.Kind = drive.KindFile
					return a.extract(cmd, &out, store, drive.Item{Name: name, Ref: ref})
				}
			}

			c, err := a.graph()
			if err != nil {
				return err
			}
			defer c.Close()
			it, err := a.graphRoot(ctx, c, root)
			if err != nil {
				return err
			}
			return a.extract(cmd, &out, c, it)
		},
	}
	out.register(cmd)
	return cmd
}

func (a *app) extract(cmd *cobra.Command, out *output, store bulk.Storage, root drive.Item) error {
	svc, err := a.service(store)
	if err != nil {
		return err
	}
	rows, err := svc.Extract(cmd.Context(), root)
	if err != nil {
		return err
	}
	a.log.Info("extracted", "root", root.Ref.Path(), "rows", len(rows), "failed", failedRows(rows))
	return out.write(cmd, rows, svc.Fields())
}

// graphRoot resolves a Graph root argument, falling back to the stored
// root when arg is empty. Item paths carry no name and are taken to be
// folders unless the stored root was resolved to a file.
func (a *app) graphRoot(ctx context.Context, c *drive.Client, arg string) (drive.Item, error) {
	var it drive.Item
	if arg == "" {
		st, err := loadState(a.statePath)
		if err != nil {
			return it, err
		}
		if st.Root == "" {
			return it, errors.New("no root given and none stored: run mdbulk resolve <link> first")
		}
		arg = st.Root
		it.Name = st.Name
		if st.File {
			it.Ref.Kind = drive.KindFile
		}
	}
	if strings.HasPrefix(arg, "https://") {
		return c.ResolveShareLink(ctx, arg)
	}
	ref, err := drive.ParseItemPath(arg)
	if err != nil {
		return drive.Item{}, fmt.Errorf("%q is neither a directory nor a drive item: %w", arg, err)
	}
	ref.Kind = it.Ref.Kind
	it.Ref = ref
	return it, nil
}
