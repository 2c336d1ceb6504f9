package cli

import (
	"fmt"

	"github.com/pysugar/m365-mail-nexus/internal/domain"
	"github.com/pysugar/m365-mail-nexus/internal/util"
	"github.com/spf13/cobra"
)

const subjectWidth = 60

func newMailCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mail",
		Short: "Read mailbox messages",
	}

	var (
		q      domain.MessageQuery
		asJSON bool
	)
	list := accountCommand(a, "list", "List recent messages of an account", func(cmd *cobra.Command, acc *domain.Account) error {
		msgs, err := a.tokens.ListMessages(cmd.Context(), acc.ID, q)
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(a.out, msgs)
		}
		if len(msgs) == 0 {
			fmt.Fprintln(a.out, "No messages.")
			return nil
		}
		rows := make([][]string, 0, len(msgs))
		for _, m := range msgs {
			read := ""
			if !m.IsRead {
				read = warnStyle.Render("●")
			}
			rows = append(rows, []string{read, formatTimePtr(m.ReceivedAt), m.From, util.Ellipsis(m.Subject, subjectWidth)})
		}
		renderTable(a.out, []string{"", "RECEIVED", "FROM", "SUBJECT"}, rows)
		return nil
	})
	list.Flags().IntVar(&q.Top, "top", 10, "Number of messages")
	list.Flags().IntVar(&q.Skip, "skip", 0, "Messages to skip")
	list.Flags().StringVar(&q.Filter, "filter", "", "OData filter, e.g. \"isRead eq false\"")
	list.Flags().StringVar(&q.OrderBy, "order-by", domain.DefaultMessageOrder, "OData order")
	list.Flags().BoolVar(&asJSON, "json", false, "Print JSON")

	cmd.AddCommand(list)
	return cmd
}
