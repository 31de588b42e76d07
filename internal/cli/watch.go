package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"retreat-quiz/internal/app"
	"retreat-quiz/internal/reactor"
)

// newWatchCmd attaches a console reactor of the chosen role and follows the quiz.
func newWatchCmd(opts *options) *cobra.Command {
	var role, user string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the quiz as a participant, admin or results screen",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := &console{out: cmd.OutOrStdout()}
			var r app.Reactor
			switch app.Role(role) {
			case app.RoleParticipant:
				if user == "" {
					return fmt.Errorf("--user is required for the participant role")
				}
				r = reactor.NewParticipant(out, opts.log)
			case app.RoleAdmin:
				r = reactor.NewAdmin(adminConsole{out})
			case app.RoleResults:
				r = reactor.NewResults(out)
			default:
				return fmt.Errorf("unknown role %q", role)
			}

			rt, err := openRuntime(ctx, opts.cfg, opts.log)
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := rt.engine.Start(ctx, r, user); err != nil {
				return err
			}
			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", string(app.RoleResults), "participant, admin or results")
	cmd.Flags().StringVar(&user, "user", "", "participant user id")
	return cmd
}
