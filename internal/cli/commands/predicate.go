package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/conduit-lang/weave/internal/cli/ui"
	"github.com/conduit-lang/weave/internal/orm/query"
)

var predicateTargetFlag string

// NewPredicateCommand creates the predicate command
func NewPredicateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "predicate",
		Short: "Parse, encode and decode query predicates",
		Long: `Work with the predicate language used by query filters.

A predicate compares fields with literals and combines comparisons with
&& and ||, for example: age >= 21 && team_id in ["t1", "t2"].
Encoded predicates are URL-safe tokens that decode to the same tree.`,
	}

	parse := &cobra.Command{
		Use:     "parse <expression>",
		Short:   "Parse an expression and print its canonical form, SQL and token",
		Example: `  weave predicate parse --target User 'age >= 21 && name != "bob"'`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := query.Parse(predicateTargetFlag, args[0])
			if err != nil {
				return err
			}
			return describePredicate(cmd.OutOrStdout(), p)
		},
	}
	parse.Flags().StringVar(&predicateTargetFlag, "target", "", "Resource type of unqualified fields")

	decode := &cobra.Command{
		Use:     "decode <token>",
		Short:   "Decode a predicate token",
		Example: `  weave predicate decode eyJjb2RlIjoxLCJvcCI6Ij09Ii...`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := query.Decode(strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			return describePredicate(cmd.OutOrStdout(), p)
		},
	}

	cmd.AddCommand(parse, decode)
	return cmd
}

func describePredicate(w io.Writer, p query.Predicate) error {
	token, err := query.Encode(p)
	if err != nil {
		return err
	}
	clause, args, err := query.ToSQL(p, query.SQLOptions{})
	if err != nil {
		return err
	}

	table := ui.NewTable(w, noColorFlag, "Property", "Value")
	table.AddRow("predicate", p.String())
	table.AddRow("targets", strings.Join(p.Targets(), ", "))
	table.AddRow("fields", strings.Join(query.Fields(p), ", "))
	table.AddRow("sql", clause)
	table.AddRow("args", fmt.Sprint(args))
	table.AddRow("token", token)
	table.Render()
	return nil
}
