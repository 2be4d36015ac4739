package main

import (
	"errors"

	"github.com/spf13/cobra"
)

func newEvalCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "eval <code>",
		Short: "Evaluate a snippet and print its result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			a, err := root.start(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { err = errors.Join(err, a.close()) }()

			v, err := a.runtime.Eval(args[0], "<eval>")
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), v)
		},
	}
}
