package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"retreat-quiz/internal/app"
	"retreat-quiz/internal/domain"
)

// newAdminCmd groups the quiz progression commands.
func newAdminCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Drive the quiz",
	}

	step := func(use, short string, fn func(*app.Controller, context.Context) (app.Result[domain.QuizState], error)) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withRuntime(cmd.Context(), opts, func(rt *runtime) error {
					res, err := fn(app.NewController(rt.engine), cmd.Context())
					if err != nil {
						return err
					}
					return printState(cmd.OutOrStdout(), res)
				})
			},
		}
	}

	cmd.AddCommand(
		step("start", "Open the first question", (*app.Controller).Start),
		step("next", "Advance to the next question, ending after the last", (*app.Controller).Next),
		step("prev", "Go back one question", (*app.Controller).Prev),
		step("end", "Finish the quiz", (*app.Controller).End),
		&cobra.Command{
			Use:   "reset",
			Short: "Delete all responses and participants and return to waiting",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withRuntime(cmd.Context(), opts, func(rt *runtime) error {
					res, err := rt.engine.ResetData(cmd.Context())
					if err != nil {
						return err
					}
					return printState(cmd.OutOrStdout(), res)
				})
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Print the live stats",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withRuntime(cmd.Context(), opts, func(rt *runtime) error {
					return printJSON(cmd.OutOrStdout(), rt.engine.Stats())
				})
			},
		},
	)
	return cmd
}

// withRuntime runs fn against a freshly opened client and closes it afterwards.
func withRuntime(ctx context.Context, opts *options, fn func(*runtime) error) error {
	rt, err := openRuntime(ctx, opts.cfg, opts.log)
	if err != nil {
		return err
	}
	defer rt.Close()
	rt.warnIfIsolated()
	return fn(rt)
}

func printState(w io.Writer, res app.Result[domain.QuizState]) error {
	if res.Local {
		fmt.Fprintln(w, "written to the local store only")
	}
	return printJSON(w, res.Value)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
