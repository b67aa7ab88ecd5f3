package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"nfcunha/vigil/core/repository"
	"nfcunha/vigil/core/service"
	"nfcunha/vigil/metrics"
	"nfcunha/vigil/utils/config"
)

var (
	patchLogPath string

	patchesCmd = &cobra.Command{
		Use:   "patches",
		Short: "Inspect and roll back entries of the patch log",
	}

	patchesListCmd = &cobra.Command{
		Use:   "list",
		Short: "List patch log entries, most recent first",
		RunE:  listPatches,
	}

	patchesRollbackCmd = &cobra.Command{
		Use:   "rollback [patch id]",
		Short: "Revert an applied patch and rebuild its service",
		Args:  cobra.ExactArgs(1),
		RunE:  rollbackPatch,
	}
)

func init() {
	defaultPath := os.Getenv("VIGIL_PATCH_LOG_PATH")
	if defaultPath == "" {
		defaultPath = "./patch-log.json"
	}
	patchesListCmd.Flags().StringVar(&patchLogPath, "file", defaultPath, "path to the patch log")
	patchesCmd.AddCommand(patchesListCmd, patchesRollbackCmd)
}

func listPatches(cmd *cobra.Command, args []string) error {
	store := repository.NewPatchLogStore(patchLogPath)
	if err := store.Load(); err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSERVICE\tSTATUS\tCOMMIT\tTIMESTAMP")
	for _, entry := range store.History() {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			entry.ID, entry.Service, entry.Status, entry.GitCommit, entry.Timestamp.Format(time.RFC3339))
	}
	return w.Flush()
}

// rollbackPatch runs the rollback in-process with the server's configuration.
// Outcome events go to the configured broker; with no broker they are dropped.
func rollbackPatch(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	store := repository.NewPatchLogStore(cfg.Patch.LogPath)
	if err := store.Load(); err != nil {
		return err
	}

	bus := newBus(cfg.Redis)
	defer bus.Close()

	m := metrics.New(prometheus.NewRegistry())
	patches := service.NewPatchService(cfg.Patch, service.PatchServiceDeps{
		Store:     store,
		Runner:    service.NewExecRunner(cfg.Patch.CommandTimeout),
		Health:    service.NewHealthChecker(cfg.HealthProbe.Timeout),
		Services:  cfg.Services,
		Publisher: service.NewPublisher(bus, m),
		Metrics:   m,
	})

	entry, err := patches.RollbackPatch(context.Background(), args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "patch %s (%s) is now %s\n", entry.ID, entry.Service, entry.Status)
	return nil
}
