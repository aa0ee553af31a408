package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dgallion1/mdbulk/internal/bulk"
	"github.com/dgallion1/mdbulk/internal/config"
	"github.com/dgallion1/mdbulk/internal/drive"
	"github.com/dgallion1/mdbulk/internal/fields"
	"github.com/dgallion1/mdbulk/internal/localfs"
	"github.com/dgallion1/mdbulk/internal/table"
)

// app holds the flags shared by every command.
type app struct {
	cfg config.Config

	token       string
	graphURL    string
	fieldsFile  string
	suffix      string
	statePath   string
	concurrent  int
	frontMatter bool
	partial     bool
	verbose     bool

	log *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{cfg: config.Load()}

	root := &cobra.Command{
		Use:   "mdbulk",
		Short: "Bulk edit metadata fields in markdown documents",
		Long: `mdbulk reads metadata fields such as "Topics:" lines out of every markdown
document under a folder, writes them to a CSV or JSON table, and writes an
edited table back into the documents.

Folders are either a local directory or a OneDrive/SharePoint folder given
as a share link or a /drives/{driveId}/items/{id} path.

Examples:
  mdbulk extract ./docs -o fields.csv
  mdbulk update fields.csv --local ./docs
  mdbulk resolve https://contoso.sharepoint.com/:f:/s/team/EaBc
  mdbulk extract -o fields.csv`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := slog.LevelInfo
			if a.verbose {
				level = slog.LevelDebug
			}
			a.log = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.token, "token", os.Getenv("GRAPH_ACCESS_TOKEN"), "Graph access token (env GRAPH_ACCESS_TOKEN)")
	pf.StringVar(&a.graphURL, "graph-url", a.cfg.GraphURL, "Graph API base URL")
	pf.StringVar(&a.fieldsFile, "fields", a.cfg.FieldsFile, "YAML file of field descriptors (default topics and products)")
	pf.StringVar(&a.suffix, "suffix", a.cfg.DocumentSuffix, "file name suffix of the documents to process")
	pf.StringVar(&a.statePath, "state", ".mdbulk.json", "file remembering the resolved root folder")
	pf.IntVar(&a.concurrent, "concurrency", a.cfg.MaxConcurrent, "maximum drive calls in flight")
	pf.BoolVar(&a.frontMatter, "front-matter", a.cfg.FrontMatter, "read a leading --- block as YAML front matter")
	pf.BoolVar(&a.partial, "partial", a.cfg.PartialFailure, "record failed items as error rows instead of aborting")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "log every item")

	root.AddCommand(
		newExtractCmd(a),
		newVerifyCmd(a),
		newUpdateCmd(a),
		newResolveCmd(a),
		newListCmd(a),
		newMeCmd(a),
	)
	return root
}

func (a *app) engine() (*fields.Engine, error) {
	return fields.Load(a.fieldsFile, fields.WithFrontMatter(a.frontMatter))
}

// graph returns a Graph client for the configured token.
func (a *app) graph() (*drive.Client, error) {
	if a.token == "" {
		return nil, errors.New("no access token: pass --token or set GRAPH_ACCESS_TOKEN")
	}
	return drive.NewClient(a.graphURL, drive.StaticToken(a.token), nil, a.cfg.RequestTimeout), nil
}

func (a *app) service(store bulk.Storage) (*bulk.Service, error) {
	engine, err := a.engine()
	if err != nil {
		return nil, err
	}
	return bulk.NewService(store, engine, bulk.Options{
		MaxConcurrent:  a.concurrent,
		Suffix:         a.suffix,
		PartialFailure: a.partial,
	}, a.log), nil
}

// rowStore returns the storage verify and update act on: the local
// directory when one is given, Graph otherwise.
func (a *app) rowStore(localDir string) (bulk.Storage, func(), error) {
	if localDir != "" {
		store, err := localfs.New(localDir)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	}
	c, err := a.graph()
	if err != nil {
		return nil, nil, err
	}
	return c, c.Close, nil
}

// output is where a command writes its table.
type output struct {
	path   string
	asJSON bool
}

func (o *output) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&o.path, "output", "o", "-", "output file, - for stdout")
	cmd.Flags().BoolVar(&o.asJSON, "json", false, "write JSON instead of CSV")
}

func (o *output) write(cmd *cobra.Command, rows []bulk.Row, fieldNames []string) error {
	var w io.Writer = cmd.OutOrStdout()
	if o.path != "-" && o.path != "" {
		f, err := os.Create(o.path)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		w = f
	}
	asJSON := o.asJSON || strings.HasSuffix(o.path, ".json")
	if asJSON {
		return table.WriteJSON(w, rows)
	}
	return table.WriteCSV(w, rows, fieldNames)
}

// readTable reads rows from path, or stdin for "-".
func readTable(cmd *cobra.Command, path string) ([]bulk.Row, error) {
	if path == "-" {
		return table.ReadRows(cmd.InOrStdin())
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open table: %w", err)
	}
	defer f.Close()
	return table.ReadRows(f)
}

// failedRows counts rows carrying an error.
func failedRows(rows []bulk.Row) int {
	n := 0
	for _, r := range rows {
		if r.Error != "" {
			n++
		}
	}
	return n
}
