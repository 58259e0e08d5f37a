package main

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"welletl/internal/aliases"
	"welletl/internal/curate"
	"welletl/internal/link"
	"welletl/internal/mirror"
	"welletl/internal/snapshot"
)

func newSnapshotCommand(a *app) *cobra.Command {
	var (
		sourceDir   string
		out         string
		samplesDir  string
		sampleLines int
		zipPath     string
		workers     int
	)
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Inspect the source directory and write manifest.json",
		Long: `
Hashes every source file, counts its lines, records its header fields and
optionally copies the first lines of each file to a samples directory.
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if sourceDir == "" {
				sourceDir = a.cfg.Source.Dir
			}
			if sourceDir == "" {
				return errors.New("--source-dir is required")
			}
			if out == "" {
				out = filepath.Join(sourceDir, "manifest.json")
			}
			m, err := snapshot.Inspect(cmd.Context(), sourceDir, snapshot.Options{
				SamplesDir:  samplesDir,
				SampleLines: sampleLines,
				ZipPath:     zipPath,
				Workers:     workers,
				Reader:      a.readerOptions(),
				Logger:      a.log,
			})
			if err != nil {
				return err
			}
			if err := snapshot.WriteManifest(out, m); err != nil {
				return err
			}
			return a.printJSON(map[string]any{"manifest": out, "files": len(m.Files)})
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&sourceDir, "source-dir", "", "directory holding the *.txt export")
	flags.StringVarP(&out, "output", "o", "", "manifest path (default <source-dir>/manifest.json)")
	flags.StringVar(&samplesDir, "samples-dir", "", "write <file>.head.txt samples here")
	flags.IntVar(&sampleLines, "sample-lines", 20, "data lines per sample")
	flags.StringVar(&zipPath, "zip", "", "downloaded archive to hash into the manifest")
	flags.IntVar(&workers, "workers", 4, "files inspected concurrently")
	return cmd
}

func newAliasesCommand(a *app) *cobra.Command {
	var manifestPath, dictionaryHTML, out string
	cmd := &cobra.Command{
		Use:   "aliases",
		Short: "Build the header alias dictionary",
		Long: `
Combines the header fields recorded in manifest.json with the column lists of
an optional HTML data dictionary into filename -> {manifest_headers,
dictionary_headers}.
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if manifestPath == "" {
				return errors.New("--manifest is required")
			}
			if out == "" {
				out = a.cfg.Curated.Aliases
			}
			if out == "" {
				return errors.New("--output is required")
			}
			m, err := snapshot.ReadManifest(manifestPath)
			if err != nil {
				return err
			}
			var sections map[string][]string
			if dictionaryHTML != "" {
				f, err := os.Open(dictionaryHTML)
				if err != nil {
					return err
				}
				sections, err = aliases.ParseDictionaryHTML(f)
				f.Close()
				if err != nil {
					return err
				}
			}
			d := aliases.Build(m, sections)
			if err := aliases.Save(out, d); err != nil {
				return err
			}
			a.log.Info("wrote aliases", zap.String("path", out), zap.Int("files", len(d)), zap.Int("sections", len(sections)))
			return a.printJSON(map[string]any{"aliases": out, "files": len(d)})
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&manifestPath, "manifest", "", "manifest.json written by snapshot")
	flags.StringVar(&dictionaryHTML, "dictionary-html", "", "HTML data dictionary (optional)")
	flags.StringVarP(&out, "output", "o", "", "alias dictionary path (default curated.aliases)")
	return cmd
}

func newMirrorCommand(a *app) *cobra.Command {
	var sourceDir, schema string
	cmd := &cobra.Command{
		Use:   "mirror",
		Short: "Rebuild the raw text mirror schema from the source files",
		RunE: func(cmd *cobra.Command, args []string) error {
			if sourceDir == "" {
				sourceDir = a.cfg.Source.Dir
			}
			if sourceDir == "" {
				return errors.New("--source-dir is required")
			}
			if schema == "" {
				schema = a.cfg.Mirror.Schema
			}
			files, err := snapshot.FindFiles(sourceDir)
			if err != nil {
				return err
			}

			repo, err := a.openMirror(cmd.Context())
			if err != nil {
				return err
			}
			defer repo.Close()

			l := &mirror.Loader{Repo: repo, Reader: a.readerOptions(), Logger: a.log}
			res, err := l.Load(cmd.Context(), files, schema)
			if err != nil {
				return err
			}
			return a.printJSON(res)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&sourceDir, "source-dir", "", "directory holding the *.txt export")
	flags.StringVar(&schema, "schema", "", "mirror schema, dropped and recreated (default mirror.schema)")
	return cmd
}

func newETLCommand(a *app) *cobra.Command {
	var (
		sourceDir   string
		aliasesPath string
		batchSize   int
	)
	cmd := &cobra.Command{
		Use:   "etl",
		Short: "Load the curated tables from the source files",
		RunE: func(cmd *cobra.Command, args []string) error {
			if sourceDir == "" {
				sourceDir = a.cfg.Source.Dir
			}
			if sourceDir == "" {
				return errors.New("--source-dir is required")
			}
			if aliasesPath == "" {
				aliasesPath = a.cfg.Curated.Aliases
			}
			if !cmd.Flags().Changed("batch-size") {
				batchSize = a.cfg.Curated.BatchSize
			}
			if batchSize <= 0 {
				return errors.New("--batch-size must be > 0")
			}

			dict := aliases.Dictionary{}
			if aliasesPath != "" {
				d, err := aliases.Load(aliasesPath)
				if err != nil {
					return err
				}
				dict = d
			} else {
				a.log.Warn("no alias dictionary given, resolving every file against its own header")
			}

			repo, err := a.openCurated(cmd.Context())
			if err != nil {
				return err
			}
			defer repo.Close()

			o := &curate.Orchestrator{
				Repo:      repo,
				Logger:    a.log,
				BatchSize: batchSize,
				Reader:    a.readerOptions(),
				Bounds:    a.bounds(),
			}
			res, err := o.Run(cmd.Context(), sourceDir, dict)
			if err != nil {
				return err
			}
			return a.printJSON(res)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&sourceDir, "source-dir", "", "directory holding the *.txt export")
	flags.StringVar(&aliasesPath, "aliases", "", "alias dictionary JSON (default curated.aliases)")
	flags.IntVar(&batchSize, "batch-size", curate.DefaultBatchSize, "rows per upsert batch")
	return cmd
}

func newLinkCommand(a *app) *cobra.Command {
	var (
		radiusM   float64
		batchSize int
	)
	cmd := &cobra.Command{
		Use:   "link",
		Short: "Link well reports to groundwater wells within a radius",
		Long: `
Scores every (well report, groundwater well) pair within --radius-m meters as
max(0, 1 - distance/radius) and upserts it into well_links. Prints the total
number of links in the table, including links from earlier runs. Links a
smaller radius no longer reaches are kept with their earlier score.
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("radius-m") {
				radiusM = a.cfg.Link.RadiusM
			}
			if !cmd.Flags().Changed("batch-size") {
				batchSize = a.cfg.Curated.BatchSize
			}

			repo, err := a.openCurated(cmd.Context())
			if err != nil {
				return err
			}
			defer repo.Close()

			l := &link.Linker{Repo: repo, Logger: a.log, BatchSize: batchSize}
			total, err := l.Link(cmd.Context(), radiusM)
			if err != nil {
				return err
			}
			return a.printJSON(map[string]any{"radius_m": radiusM, "total_links": total})
		},
	}
	flags := cmd.Flags()
	flags.Float64Var(&radiusM, "radius-m", link.DefaultRadiusM, "match radius in meters")
	flags.IntVar(&batchSize, "batch-size", curate.DefaultBatchSize, "rows per upsert batch")
	return cmd
}

func newMigrateCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the curated schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := a.openCurated(cmd.Context())
			if err != nil {
				return err
			}
			repo.Close()
			return a.printJSON(map[string]any{"status": "ok", "kind": a.cfg.Database.Kind})
		},
	}
}
