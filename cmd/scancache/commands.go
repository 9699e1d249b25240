package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/yourorg/scancache/internal/config"
	"github.com/yourorg/scancache/internal/migrate"
	"github.com/yourorg/scancache/internal/model"
)

func (a *app) newPackagesCmd() *cobra.Command {
	var purl bool
	cmd := &cobra.Command{
		Use:   "packages",
		Short: "List every package with stored scan results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, id := range a.handle.ListPackages(cmd.Context()) {
				if purl {
					fmt.Fprintln(out, id.PURL())
				} else {
					fmt.Fprintln(out, id.String())
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&purl, "purl", false, "print package URLs instead of coordinates")
	return cmd
}

func (a *app) newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <type:namespace:name:version>",
		Short: "Print the stored scan results of a package as YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := a.handle.Read(cmd.Context(), model.ParseIdentifier(args[0]))
			defer a.logStats()

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(c); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}

func (a *app) newAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <type:namespace:name:version> <result.yml>",
		Short: "Store a scan result read from a YAML file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			var r model.ScanResult
			if err := yaml.Unmarshal(data, &r); err != nil {
				return fmt.Errorf("parse %s: %w", args[1], err)
			}

			id := model.ParseIdentifier(args[0])
			if !a.handle.Add(cmd.Context(), id, r) {
				return fmt.Errorf("scan result for %s was not stored", id)
			}
			a.logger.Info("stored scan result", "id", id.String(), "backend", a.handle.BackendName())
			return nil
		},
	}
}

func (a *app) newMigrateCmd() *cobra.Command {
	var (
		target      string
		concurrency int
	)
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Copy every stored scan result into another storage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(target)
			if err != nil {
				return err
			}
			dst, closeFn, err := openStorage(cmd.Context(), cfg.Storage, a.logger)
			if err != nil {
				return fmt.Errorf("open target storage: %w", err)
			}
			a.closers = append(a.closers, closeFn)

			rep, err := migrate.Run(cmd.Context(), a.handle, dst, migrate.Options{
				Concurrency: concurrency,
				Logger:      a.logger,
			})
			a.logStats()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "packages=%d processed=%d stored=%d failed=%d\n",
				rep.Packages, rep.Processed, rep.Stored, rep.Failed)
			return nil
		},
	}
	cmd.Flags().StringVar(&target, "to", "", "TOML config file describing the target storage")
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "packages copied in parallel")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}
