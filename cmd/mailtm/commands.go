package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nhle/mailtm-go/internal/mailbox"
	"github.com/nhle/mailtm-go/internal/store"
	msync "github.com/nhle/mailtm-go/internal/sync"
	"github.com/nhle/mailtm-go/internal/theme"
	"github.com/nhle/mailtm-go/mailtm"
)

func (a *app) domainsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "domains",
		Short: "List domains accounts can be created on",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			domains, err := a.svc.Domains(cmd.Context())
			if err != nil {
				return err
			}
			printDomains(cmd.OutOrStdout(), domains)
			return nil
		},
	}
}

func (a *app) registerCmd() *cobra.Command {
	var domain string

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create a mailbox with a random address and password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mb, err := a.svc.Register(cmd.Context(), domain)
			if err != nil {
				return err
			}
			if err := a.remember(mb.Address); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), theme.SuccessStyle.Render("created "+mb.Address))
			return nil
		},
	}
	cmd.Flags().StringVar(&domain, "domain", "", "domain to register on (default: first public domain)")
	return cmd
}

func (a *app) loginCmd() *cobra.Command {
	var password string

	cmd := &cobra.Command{
		Use:   "login <address>",
		Short: "Log into an existing mailbox and make it the default",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			address := args[0]

			mb, err := a.svc.Open(cmd.Context(), address, password)
			if errors.Is(err, mailbox.ErrNoPassword) {
				if password, err = promptPassword(address); err != nil {
					return err
				}
				mb, err = a.svc.Open(cmd.Context(), address, password)
			}
			if err != nil {
				return err
			}
			if err := a.remember(mb.Address); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), theme.SuccessStyle.Render("logged in as "+mb.Address))
			return nil
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "account password (prompted when unknown)")
	return cmd
}

func promptPassword(address string) (string, error) {
	var password string
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Password").
				Description("Password for " + address).
				EchoMode(huh.EchoModePassword).
				Value(&password).
				Validate(validateRequired("Password")),
		),
	).Run()
	if err != nil {
		return "", err
	}
	return password, nil
}

func validateRequired(field string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", field)
		}
		return nil
	}
}

func (a *app) accountsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "accounts",
		Short: "List mailboxes known to this machine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			boxes, err := a.svc.Mailboxes(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(boxes) == 0 {
				fmt.Fprintln(out, theme.HelpStyle.Render("no mailboxes yet, run `mailtm register`"))
				return nil
			}
			for _, mb := range boxes {
				marker := "  "
				if mb.Address == a.cfg.Account.Address {
					marker = "* "
				}
				last := "never"
				if mb.LastLoginAt != nil {
					last = mb.LastLoginAt.Local().Format("2006-01-02 15:04")
				}
				fmt.Fprintf(out, "%s%-40s %s\n", marker, mb.Address, theme.HelpStyle.Render("last login "+last))
			}
			return nil
		},
	}
}

func (a *app) syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Archive the messages of the default mailbox locally",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.openCurrent(cmd); err != nil {
				return err
			}
			added, err := a.svc.Sync(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), theme.SuccessStyle.Render(fmt.Sprintf("%d new message(s)", added)))
			return nil
		},
	}
}

func (a *app) inboxCmd() *cobra.Command {
	var (
		unseen bool
		query  string
		limit  int
		offset int
		noSync bool
	)

	cmd := &cobra.Command{
		Use:   "inbox",
		Short: "List archived messages of the default mailbox",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.openCurrent(cmd); err != nil {
				return err
			}
			if !noSync {
				if _, err := a.svc.Sync(cmd.Context()); err != nil {
					return err
				}
			}

			filter := store.MessageFilter{UnseenOnly: unseen, Limit: limit, Offset: offset}
			if query != "" {
				filter.Query = &query
			}
			msgs, err := a.svc.Inbox(cmd.Context(), filter)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, theme.HeaderStyle.Render(a.svc.Mailbox().Address))
			if len(msgs) == 0 {
				fmt.Fprintln(out, theme.HelpStyle.Render("no messages"))
				return nil
			}
			for _, m := range msgs {
				clip := ""
				if m.HasAttachments {
					clip = "+"
				}
				line := fmt.Sprintf("%-24s %-30s %-1s %s",
					m.ID, truncate(m.Sender(), 30), clip, m.Subject)
				fmt.Fprintln(out, theme.SeenStyle(m.Seen).Render(line))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&unseen, "unseen", false, "only unread messages")
	cmd.Flags().StringVarP(&query, "query", "q", "", "filter by subject, sender or intro")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of messages")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of messages to skip")
	cmd.Flags().BoolVar(&noSync, "no-sync", false, "list the local archive without contacting the API")
	return cmd
}

func (a *app) watchCmd() *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll the default mailbox and print messages as they arrive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.openCurrent(cmd); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, theme.HeaderStyle.Render("watching "+a.svc.Mailbox().Address))

			poller := msync.New(a.svc, interval, a.logger)
			poller.Start(ctx)
			defer poller.Stop()

			for res := range poller.Results() {
				if res.AuthExpired {
					return res.Error
				}
				if res.Error != nil || res.New == 0 {
					continue
				}
				msgs, err := a.svc.Inbox(ctx, store.MessageFilter{Limit: res.New})
				if err != nil {
					return err
				}
				for i := len(msgs) - 1; i >= 0; i-- {
					m := msgs[i]
					line := fmt.Sprintf("%s  %-30s %s", m.ID, truncate(m.Sender(), 30), m.Subject)
					fmt.Fprintln(out, theme.SeenStyle(m.Seen).Render(line))
				}
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", msync.DefaultInterval, "time between syncs")
	return cmd
}

func (a *app) readCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read <id>",
		Short: "Show a message and mark it read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.openCurrent(cmd); err != nil {
				return err
			}
			msg, err := a.svc.Read(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printMessage(cmd.OutOrStdout(), msg)
			return nil
		},
	}
}

func (a *app) sourceCmd() *cobra.Command {
	var raw bool

	cmd := &cobra.Command{
		Use:   "source <id>",
		Short: "Show the decoded source of a message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.openCurrent(cmd); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if raw {
				src, err := a.svc.Client().MessageSource(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				_, err = io.WriteString(out, src.Data)
				return err
			}

			parsed, err := a.svc.Source(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printParsed(out, parsed)
			return nil
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "print the undecoded RFC 5322 data")
	return cmd
}

func (a *app) attachmentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "attachments <id>",
		Short: "List the attachments of a message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.openCurrent(cmd); err != nil {
				return err
			}
			atts, err := a.svc.Attachments(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(atts) == 0 {
				fmt.Fprintln(out, theme.HelpStyle.Render("no attachments"))
				return nil
			}
			for _, att := range atts {
				fmt.Fprintf(out, "%-32s %-24s %8d  %s\n", att.Filename, att.ContentType, att.Size, att.DownloadURL)
			}
			return nil
		},
	}
}

func (a *app) downloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "download <url> <file>",
		Short: "Save an attachment or message download URL to a file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.openCurrent(cmd); err != nil {
				return err
			}
			f, err := os.Create(args[1])
			if err != nil {
				return err
			}
			n, err := a.svc.Download(cmd.Context(), args[0], f)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				_ = os.Remove(args[1])
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), theme.SuccessStyle.Render(fmt.Sprintf("wrote %d bytes to %s", n, args[1])))
			return nil
		},
	}
}

func (a *app) rmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>...",
		Short: "Delete messages",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.openCurrent(cmd); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			var errs []error
			for _, id := range args {
				if err := a.svc.Delete(cmd.Context(), id); err != nil {
					fmt.Fprintln(out, theme.ErrorStyle.Render("failed "+id+": "+err.Error()))
					errs = append(errs, err)
					continue
				}
				fmt.Fprintln(out, theme.SuccessStyle.Render("deleted "+id))
			}
			return errors.Join(errs...)
		},
	}
}

func (a *app) dropCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "drop",
		Short: "Delete the default mailbox on the server and forget it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.openCurrent(cmd); err != nil {
				return err
			}
			address := a.svc.Mailbox().Address

			if !yes {
				confirmed := false
				err := huh.NewForm(
					huh.NewGroup(
						huh.NewConfirm().
							Title("Delete " + address + "?").
							Description("The account and every message in it are removed for good.").
							Affirmative("Delete").
							Negative("Cancel").
							Value(&confirmed),
					),
				).Run()
				if err != nil {
					return err
				}
				if !confirmed {
					return nil
				}
			}

			if err := a.svc.Remove(cmd.Context()); err != nil {
				return err
			}
			if err := a.remember(""); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), theme.SuccessStyle.Render("deleted "+address))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}

// --- output ---

func printDomains(w io.Writer, domains []mailtm.Domain) {
	if len(domains) == 0 {
		fmt.Fprintln(w, theme.HelpStyle.Render("no domains"))
		return
	}
	for _, d := range domains {
		state := "public"
		switch {
		case !d.IsActive:
			state = "inactive"
		case d.IsPrivate:
			state = "private"
		}
		fmt.Fprintf(w, "%-32s %s\n", d.Domain, theme.DomainStyle(d.IsActive, d.IsPrivate).Render(state))
	}
}

func printMessage(w io.Writer, msg *mailtm.MessageDetail) {
	field := func(label, value string) {
		if value == "" {
			return
		}
		fmt.Fprintln(w, theme.LabelStyle.Render(label)+" "+value)
	}

	field("From", msg.Sender())
	field("To", joinRecipients(msg.To))
	field("Cc", joinRecipients(msg.CC))
	field("Subject", msg.Subject)
	field("Date", msg.CreatedAt.Local().Format("Mon, 02 Jan 2006 15:04"))
	for _, att := range msg.Attachments {
		field("Attached", fmt.Sprintf("%s (%d bytes)", att.Filename, att.Size))
	}

	body := strings.TrimSpace(msg.Text)
	if body == "" {
		body = theme.HelpStyle.Render("(no text body)")
	}
	fmt.Fprintln(w, theme.BodyStyle.Render(body))
}

func printParsed(w io.Writer, p *mailtm.ParsedSource) {
	field := func(label, value string) {
		if value == "" {
			return
		}
		fmt.Fprintln(w, theme.LabelStyle.Render(label)+" "+value)
	}

	field("Msg-ID", p.MessageID)
	field("From", joinRecipients(p.From))
	field("To", joinRecipients(p.To))
	field("Subject", p.Subject)
	if !p.Date.IsZero() {
		field("Date", p.Date.Local().Format("Mon, 02 Jan 2006 15:04"))
	}
	for _, att := range p.Attachments {
		field("Attached", fmt.Sprintf("%s %s (%d bytes)", att.Filename, att.ContentType, att.Size))
	}

	body := strings.TrimSpace(p.TextBody)
	if body == "" {
		body = strings.TrimSpace(p.HTMLBody)
	}
	if body == "" {
		body = theme.HelpStyle.Render("(empty)")
	}
	fmt.Fprintln(w, theme.BodyStyle.Render(body))
}

func joinRecipients(rs []mailtm.Recipient) string {
	parts := make([]string, 0, len(rs))
	for _, r := range rs {
		parts = append(parts, r.String())
	}
	return strings.Join(parts, ", ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
