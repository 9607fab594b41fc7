package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"voxchat/internal/db"
	"voxchat/internal/export"
)

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Browse archived chat sessions",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List archived sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := db.Open()
			if err != nil {
				return err
			}
			defer store.Close()

			sessions, err := store.ListSessions()
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Println("No archived sessions.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tMODEL\tVOICE\tRAG\tSTATUS\tUPDATED\tTURNS")
			for _, s := range sessions {
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\t%s\t%d\n",
					s.ID[:min(8, len(s.ID))], s.Model, s.Voice, s.UseRAG, s.Status,
					s.UpdatedAt.Local().Format("2006-01-02 15:04"), s.TurnCount)
			}
			return w.Flush()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Print an archived transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadExport(args[0])
			if err != nil {
				return err
			}
			out, err := glamour.Render(export.ExportSession(s), "dark")
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		},
	})

	var dir string
	exportCmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Write an archived transcript as markdown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadExport(args[0])
			if err != nil {
				return err
			}
			if dir == "" {
				if dir, err = os.Getwd(); err != nil {
					return err
				}
			}
			path, err := export.WriteSession(s, dir)
			if err != nil {
				return err
			}
			fmt.Println(path)
			return nil
		},
	}
	exportCmd.Flags().StringVar(&dir, "dir", "", "base directory (transcripts/ is created inside; default current directory)")
	cmd.AddCommand(exportCmd)

	return cmd
}

// loadExport resolves an ID or unique prefix to an export.
func loadExport(id string) (*export.SessionExport, error) {
	store, err := db.Open()
	if err != nil {
		return nil, err
	}
	defer store.Close()

	sess, err := store.FindSession(id)
	if err != nil {
		return nil, err
	}
	turns, err := store.GetTurns(sess.ID)
	if err != nil {
		return nil, err
	}
	return export.FromArchive(sess, turns), nil
}
