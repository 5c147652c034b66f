package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Cavedragon13/ai-image-organizer/internal/domain"
	"github.com/Cavedragon13/ai-image-organizer/internal/service"
)

const pollInterval = 250 * time.Millisecond

type runFlags struct {
	input        string
	output       string
	model        string
	threshold    float64
	minGroupSize int
	move         bool
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Organize one folder in-process and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd, ctx, flags)
		},
	}
	cmd.Flags().StringVarP(&flags.input, "input", "i", "", "Folder to scan for images")
	cmd.Flags().StringVarP(&flags.output, "output", "o", "", "Folder that receives the groups")
	cmd.Flags().StringVar(&flags.model, "model", "", "Vision model used for descriptions")
	cmd.Flags().Float64Var(&flags.threshold, "threshold", 0, "Cosine similarity needed to join a group")
	cmd.Flags().IntVar(&flags.minGroupSize, "min-group-size", 0, "Smaller groups go to misc_singles")
	cmd.Flags().BoolVar(&flags.move, "move", false, "Move files instead of copying them")
	_ = cmd.MarkFlagRequired("input")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

// overrides keeps only the flags the user actually set so config defaults
// still apply to the rest.
func (f runFlags) overrides(cmd *cobra.Command) service.SettingsOverrides {
	var o service.SettingsOverrides
	changed := cmd.Flags().Changed
	if changed("model") {
		o.Model = &f.model
	}
	if changed("threshold") {
		o.SimilarityThreshold = &f.threshold
	}
	if changed("min-group-size") {
		o.MinGroupSize = &f.minGroupSize
	}
	if changed("move") {
		copyFiles := !f.move
		o.CopyFiles = &copyFiles
	}
	return o
}

func runOnce(cmd *cobra.Command, cmdCtx *commandContext, flags runFlags) error {
	cfg, err := cmdCtx.ensureConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	e, err := newEngine(ctx, cfg, 1, 1)
	if err != nil {
		return err
	}
	defer e.Close()

	poolDone := make(chan struct{})
	go func() {
		defer close(poolDone)
		e.pool.Run(workerCtx, e.controller.Run)
	}()

	job, err := e.jobs.Submit(ctx, service.SubmitRequest{
		InputFolder:  flags.input,
		OutputFolder: flags.output,
		Settings:     flags.overrides(cmd),
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	live := isTerminal(out)
	interrupted := ctx.Done()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for !job.Status.Terminal() {
		select {
		case <-interrupted:
			interrupted = nil
			if _, err := e.jobs.CancelJob(context.Background(), job.ID); err != nil && !errors.Is(err, domain.ErrNotCancellable) {
				return err
			}
		case <-ticker.C:
		}
		if job, err = e.jobs.GetJob(context.Background(), job.ID); err != nil {
			return err
		}
		if live {
			fmt.Fprintf(out, "\r\033[K%s", progressLine(job))
		}
	}
	if live {
		fmt.Fprintln(out)
	}

	stopWorkers()
	<-poolDone

	writeSummary(out, job)
	switch job.Status {
	case domain.JobStatusError:
		return fmt.Errorf("job failed: %s", job.ErrorMessage)
	case domain.JobStatusCancelled:
		return context.Canceled
	}
	return nil
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isTTY(file.Fd())
}
