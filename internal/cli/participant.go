package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"retreat-quiz/internal/domain"
)

// newParticipantCmd groups the participant write commands.
func newParticipantCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "participant",
		Short: "Register and answer as a participant",
	}
	cmd.AddCommand(newRegisterCmd(opts), newAnswerCmd(opts))
	return cmd
}

func newRegisterCmd(opts *options) *cobra.Command {
	var p domain.Participant
	var gender string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a nickname",
		RunE: func(cmd *cobra.Command, args []string) error {
			p.Gender = domain.Gender(gender)
			return withRuntime(cmd.Context(), opts, func(rt *runtime) error {
				res, err := rt.engine.RegisterParticipant(cmd.Context(), p)
				if err != nil {
					return err
				}
				if res.Local {
					fmt.Fprintln(cmd.OutOrStdout(), "written to the local store only")
				}
				return printJSON(cmd.OutOrStdout(), res.Value)
			})
		},
	}
	cmd.Flags().StringVar(&p.UserID, "user", "", "user id (generated when empty)")
	cmd.Flags().StringVar(&p.Nickname, "nickname", "", "nickname")
	cmd.Flags().StringVar(&gender, "gender", string(domain.GenderMale), "male or female")
	return cmd
}

func newAnswerCmd(opts *options) *cobra.Command {
	var r domain.Response
	var qtype string
	var number int
	cmd := &cobra.Command{
		Use:   "answer",
		Short: "Answer a question once",
		RunE: func(cmd *cobra.Command, args []string) error {
			r.QuestionType = domain.QuestionType(qtype)
			if cmd.Flags().Changed("number") {
				r.AnswerNumber = &number
			}
			return withRuntime(cmd.Context(), opts, func(rt *runtime) error {
				if q, err := rt.catalog.Question(cmd.Context(), r.QuestionID); err == nil {
					if r.QuestionType == "" {
						r.QuestionType = q.Type
					}
					r.SessionNumber = q.SessionNumber
				}
				res, err := rt.engine.SaveResponse(cmd.Context(), r)
				if err != nil {
					return err
				}
				if res.Local {
					fmt.Fprintln(cmd.OutOrStdout(), "written to the local store only")
				}
				return printJSON(cmd.OutOrStdout(), res.Value)
			})
		},
	}
	cmd.Flags().StringVar(&r.UserID, "user", "", "user id")
	cmd.Flags().IntVar(&r.QuestionID, "question", 0, "question number")
	cmd.Flags().StringVar(&qtype, "type", "", "question type (looked up when empty)")
	cmd.Flags().StringVar(&r.AnswerText, "text", "", "free text or single option answer")
	cmd.Flags().StringSliceVar(&r.AnswerOptions, "option", nil, "selected option, repeatable")
	cmd.Flags().IntVar(&number, "number", 0, "slider value")
	cmd.Flags().StringVar(&r.AnswerEmoji, "emoji", "", "emoji answer")
	cmd.Flags().Int64Var(&r.ResponseTimeMs, "elapsed-ms", 0, "time taken to answer")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("question")
	return cmd
}
