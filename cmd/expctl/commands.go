package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	experimentationengine "aegis/contexts/recommendation-optimization/experimentation-engine"
	httptransport "aegis/contexts/recommendation-optimization/experimentation-engine/transport/http"
	"aegis/internal/app/bootstrap"
)

// runtimeBuilder opens the engine; the returned close func releases it.
type runtimeBuilder func(ctx context.Context) (experimentationengine.Module, func() error, error)

func defaultRuntime(ctx context.Context) (experimentationengine.Module, func() error, error) {
	runtime, err := bootstrap.BuildRuntime(ctx, "expctl")
	if err != nil {
		return experimentationengine.Module{}, nil, err
	}
	return runtime.Module, runtime.Close, nil
}

type cli struct {
	build  runtimeBuilder
	module experimentationengine.Module
	close  func() error

	userID      string
	applyFile   string
	winnerID    string
	compactJSON bool
}

func newRootCmd(build runtimeBuilder) *cobra.Command {
	c := &cli{build: build}

	rootCmd := &cobra.Command{
		Use:           "expctl",
		Short:         "Administer A/B experiments",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			module, closeFn, err := c.build(cmd.Context())
			if err != nil {
				return err
			}
			c.module = module
			c.close = closeFn
			return nil
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if c.close == nil {
				return nil
			}
			return c.close()
		},
	}
	rootCmd.PersistentFlags().StringVar(&c.userID, "user", "expctl", "user id recorded as experiment creator")
	rootCmd.PersistentFlags().BoolVar(&c.compactJSON, "compact", false, "print single-line JSON")

	applyCmd := &cobra.Command{
		Use:   "apply -f experiments.yaml",
		Short: "Create experiments and variants from a YAML definition file",
		Args:  cobra.NoArgs,
		RunE:  c.runApply,
	}
	applyCmd.Flags().StringVarP(&c.applyFile, "file", "f", "", "definition file, - for stdin")
	_ = applyCmd.MarkFlagRequired("file")

	startCmd := &cobra.Command{
		Use:   "start [experiment-id]",
		Short: "Start a draft experiment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := c.module.Handler.StartExperimentHandler(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return c.print(cmd.OutOrStdout(), resp)
		},
	}

	completeCmd := &cobra.Command{
		Use:   "complete [experiment-id]",
		Short: "Complete an experiment and record its result snapshots",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := httptransport.CompleteExperimentRequest{WinningVariantID: c.winnerID}
			if err := req.Validate(); err != nil {
				return err
			}
			resp, err := c.module.Handler.CompleteExperimentHandler(cmd.Context(), args[0], req)
			if err != nil {
				return err
			}
			return c.print(cmd.OutOrStdout(), resp)
		},
	}
	completeCmd.Flags().StringVar(&c.winnerID, "winner", "", "winning variant id")

	assignCmd := &cobra.Command{
		Use:   "assign [experiment-id] [subject-id]",
		Short: "Assign a subject to a variant",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := httptransport.AssignRequest{SubjectID: args[1]}
			if err := req.Validate(); err != nil {
				return err
			}
			resp, err := c.module.Handler.AssignHandler(cmd.Context(), args[0], req)
			if err != nil {
				return err
			}
			return c.print(cmd.OutOrStdout(), resp)
		},
	}

	resultsCmd := &cobra.Command{
		Use:   "results [experiment-id]",
		Short: "Compute the results report for an experiment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := c.module.Handler.ResultsHandler(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return c.print(cmd.OutOrStdout(), resp)
		},
	}

	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "Complete active experiments whose end date has passed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			completed, err := c.module.Sweeper.RunOnce(cmd.Context())
			if printErr := c.print(cmd.OutOrStdout(), map[string]int{"completed": completed}); printErr != nil {
				return printErr
			}
			return err
		},
	}

	rootCmd.AddCommand(applyCmd, startCmd, completeCmd, assignCmd, resultsCmd, sweepCmd)
	return rootCmd
}

func (c *cli) runApply(cmd *cobra.Command, _ []string) error {
	var reader io.Reader
	if c.applyFile == "-" {
		reader = cmd.InOrStdin()
	} else {
		file, err := os.Open(c.applyFile)
		if err != nil {
			return fmt.Errorf("open definition file: %w", err)
		}
		defer file.Close()
		reader = file
	}

	definitions, err := loadDefinitions(reader)
	if err != nil {
		return err
	}
	outcomes, applyErr := applyDefinitions(cmd.Context(), c.module.Handler, c.userID, definitions)
	if err := c.print(cmd.OutOrStdout(), outcomes); err != nil {
		return errors.Join(applyErr, err)
	}
	return applyErr
}

func (c *cli) print(w io.Writer, payload any) error {
	encoder := json.NewEncoder(w)
	if !c.compactJSON {
		encoder.SetIndent("", "  ")
	}
	return encoder.Encode(payload)
}
