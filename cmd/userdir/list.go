package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	dimStyle    = lipgloss.NewStyle().Faint(true)
)

var listCmd = &cobra.Command{
	Use:   "list [filter]",
	Short: "Query the local store, optionally filtered by substring",
	Long: `List records from the local store, sorted by name.

With a filter argument, only records whose name or email contains the
text (case-insensitive) are shown. The command never touches the
network; run 'userdir sync' first to populate or refresh the store.

Example usage:
  userdir list              # all records
  userdir list alice        # records matching "alice"`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		filter := ""
		if len(args) == 1 {
			filter = args[0]
		}

		records, err := st.QuerySubstring(ctx, filter)
		if err != nil {
			return err
		}

		if len(records) == 0 {
			fmt.Println(dimStyle.Render("No records found."))
			return nil
		}

		t := table.New().
			Border(lipgloss.NormalBorder()).
			BorderStyle(borderStyle).
			StyleFunc(func(row, col int) lipgloss.Style {
				if row == table.HeaderRow {
					return headerStyle.Padding(0, 1)
				}
				return cellStyle
			}).
			Headers("ID", "NAME", "EMAIL", "PHONE")

		for _, r := range records {
			t.Row(strconv.FormatInt(r.ID, 10), r.Name, r.Email, r.Phone)
		}

		fmt.Println(t)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
