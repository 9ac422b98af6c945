package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"agent-mail/domain"
	"agent-mail/index"
	"agent-mail/internal"
	"agent-mail/observability"
	"agent-mail/repositories"
	"agent-mail/services"

	env "github.com/Netflix/go-env"
	"github.com/blugelabs/bluge"
	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/joho/godotenv"
	"github.com/olekukonko/tablewriter"
)

// Exit codes to provide meaningful status to the operating system or
// service manager.
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
	exitUsage   = 3
)

const usage = `mailroom <command> [flags]

Commands:
  send       send a message (one shared thread for all recipients)
  broadcast  send per-recipient (one independent thread each)
  reply      reply to a message
  threads    list visible threads
  messages   list messages (thread reading order or recent-first)
  search     search messages
  since      poll messages after an id cursor
  contacts   manage the address book: add|update|deactivate|list
  audit      list the audit ledger
`

func main() {
	code, err := run(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "mailroom: %v\n", err)
	}
	os.Exit(code)
}

// run initializes the store, dispatches one subcommand and reports the
// exit code, so deferred cleanup always executes before the process
// exits.
func run(args []string) (int, error) {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return exitUsage, nil
	}

	// .env is optional; the environment itself wins.
	_ = godotenv.Load()

	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	logger := internal.GetLoggerFromString(config.LogLevel)

	db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).
		WithLoggingLevel(badger.ERROR))
	if err != nil {
		return exitRuntime, fmt.Errorf("opening badger at %s: %w", config.BadgerFilepath, err)
	}
	defer func() { _ = db.Close() }()

	var idx *index.Messages
	if config.BlugeFilepath != "" {
		writer, err := bluge.OpenWriter(bluge.DefaultConfig(config.BlugeFilepath))
		if err != nil {
			return exitRuntime, fmt.Errorf("opening bluge at %s: %w", config.BlugeFilepath, err)
		}
		defer func() { _ = writer.Close() }()
		idx = index.NewMessages(writer, logger)
	}

	metrics := observability.NewMetrics(logger)
	if config.MetricInterval > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go metrics.Report(ctx, config.MetricInterval)
	}
	mail := services.NewMailService(
		db,
		repositories.NewThreadRepository(db, logger),
		repositories.NewMessageRepository(db, logger, config.LimitMessages),
		repositories.NewContactRepository(db, logger),
		repositories.NewAuditRepository(db, logger),
		idx,
		metrics,
		logger,
	)

	if err := dispatch(mail, config, args[0], args[1:]); err != nil {
		return exitRuntime, err
	}
	return exitOK, nil
}

func dispatch(mail *services.MailService, config internal.Config, command string, args []string) error {
	switch command {
	case "send":
		return cmdSend(mail, args, false)
	case "broadcast":
		return cmdSend(mail, args, true)
	case "reply":
		return cmdReply(mail, args)
	case "threads":
		return cmdThreads(mail, config, args)
	case "messages":
		return cmdMessages(mail, config, args)
	case "search":
		return cmdSearch(mail, args)
	case "since":
		return cmdSince(mail, args)
	case "contacts":
		return cmdContacts(mail, args)
	case "audit":
		return cmdAudit(mail, args)
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

func cmdSend(mail *services.MailService, args []string, broadcast bool) error {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	actor := fs.String("as", "", "acting handle")
	to := fs.String("to", "", "comma-separated recipient handles")
	subject := fs.String("subject", "", "message subject")
	body := fs.String("body", "", "message body")
	tags := fs.String("tags", "", "comma-separated tags")
	if err := fs.Parse(args); err != nil {
		return err
	}

	recipients := splitList(*to)
	if broadcast {
		messages, err := mail.Broadcast(*actor, recipients, *subject, *body, splitList(*tags))
		if err != nil {
			return err
		}
		color.Green.Printf("broadcast %d messages\n", len(messages))
		return nil
	}
	message, err := mail.Send(*actor, recipients, *subject, *body, splitList(*tags))
	if err != nil {
		return err
	}
	color.Green.Printf("sent %s in thread %s\n", message.ID, message.ThreadID)
	return nil
}

func cmdReply(mail *services.MailService, args []string) error {
	fs := flag.NewFlagSet("reply", flag.ExitOnError)
	actor := fs.String("as", "", "acting handle")
	messageID := fs.String("message", "", "message id to reply to")
	threadID := fs.String("thread", "", "reply to the last message of this thread instead")
	body := fs.String("body", "", "message body")
	tags := fs.String("tags", "", "comma-separated tags")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var (
		message domain.Message
		err     error
	)
	if *threadID != "" {
		message, err = mail.ReplyThread(*actor, *threadID, *body, splitList(*tags))
	} else {
		message, err = mail.Reply(*actor, *messageID, *body, splitList(*tags))
	}
	if err != nil {
		return err
	}
	color.Green.Printf("replied with %s\n", message.ID)
	return nil
}

func cmdThreads(mail *services.MailService, config internal.Config, args []string) error {
	fs := flag.NewFlagSet("threads", flag.ExitOnError)
	actor := fs.String("as", "", "acting handle")
	limit := fs.Int("limit", config.DefaultPageSize, "maximum threads")
	offset := fs.Int("offset", 0, "threads to skip")
	archived := fs.Bool("archived", false, "include archived threads")
	if err := fs.Parse(args); err != nil {
		return err
	}

	threads, err := mail.ListThreads(*actor, *limit, *offset, *archived)
	if err != nil {
		return err
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Subject", "Participants", "Last activity", "Archived"})
	for _, thread := range threads {
		table.Append([]string{
			thread.ID,
			thread.Subject,
			strings.Join(thread.Participants, ","),
			thread.LastActivity.Format("2006-01-02 15:04:05"),
			strconv.FormatBool(thread.Archived),
		})
	}
	table.Render()
	return nil
}

func cmdMessages(mail *services.MailService, config internal.Config, args []string) error {
	fs := flag.NewFlagSet("messages", flag.ExitOnError)
	actor := fs.String("as", "", "acting handle")
	threadID := fs.String("thread", "", "thread id (reading order); recent-first when empty")
	limit := fs.Int("limit", config.DefaultPageSize, "maximum messages")
	offset := fs.Int("offset", 0, "messages to skip")
	if err := fs.Parse(args); err != nil {
		return err
	}

	messages, err := mail.ListMessages(*actor, *threadID, *limit, *offset)
	if err != nil {
		return err
	}
	renderMessages(messages)
	return nil
}

func cmdSearch(mail *services.MailService, args []string) error {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	actor := fs.String("as", "", "acting handle")
	query := fs.String("query", "", "substring to match")
	inSubject := fs.Bool("subject", false, "match subjects")
	inBody := fs.Bool("body", false, "match bodies")
	from := fs.String("from", "", "filter by sender")
	to := fs.String("to", "", "filter by recipient")
	limit := fs.Int("limit", 0, "maximum results")
	if err := fs.Parse(args); err != nil {
		return err
	}

	messages, err := mail.SearchMessages(*actor, repositories.SearchQuery{
		Text:      *query,
		InSubject: *inSubject,
		InBody:    *inBody,
		From:      *from,
		To:        *to,
		Limit:     *limit,
	})
	if err != nil {
		return err
	}
	renderMessages(messages)
	return nil
}

func cmdSince(mail *services.MailService, args []string) error {
	fs := flag.NewFlagSet("since", flag.ExitOnError)
	token := fs.String("token", "", "id cursor; empty returns everything")
	if err := fs.Parse(args); err != nil {
		return err
	}

	messages, err := mail.MessagesSince(*token)
	if err != nil {
		return err
	}
	renderMessages(messages)
	return nil
}

func cmdContacts(mail *services.MailService, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("contacts: expected add|update|deactivate|list")
	}
	action, rest := args[0], args[1:]

	switch action {
	case "add":
		fs := flag.NewFlagSet("contacts add", flag.ExitOnError)
		actor := fs.String("as", "", "acting handle")
		handle := fs.String("handle", "", "new contact handle")
		name := fs.String("name", "", "display name")
		description := fs.String("description", "", "description")
		tags := fs.String("tags", "", "comma-separated tags")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		contact, err := mail.AddContact(*actor, *handle, *name, *description, splitList(*tags))
		if err != nil {
			return err
		}
		color.Green.Printf("added %s (version %d)\n", contact.Handle, contact.Version)
		return nil

	case "update":
		fs := flag.NewFlagSet("contacts update", flag.ExitOnError)
		actor := fs.String("as", "", "acting handle")
		handle := fs.String("handle", "", "contact handle")
		version := fs.Int64("version", 0, "expected version")
		name := fs.String("name", "", "new display name")
		description := fs.String("description", "", "new description")
		tags := fs.String("tags", "", "new comma-separated tags")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		var fields services.ContactFields
		fs.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "name":
				fields.DisplayName = name
			case "description":
				fields.Description = description
			case "tags":
				parsed := splitList(*tags)
				fields.Tags = &parsed
			}
		})
		contact, err := mail.UpdateContact(*actor, *handle, *version, fields)
		if err != nil {
			return err
		}
		color.Green.Printf("updated %s to version %d\n", contact.Handle, contact.Version)
		return nil

	case "deactivate":
		fs := flag.NewFlagSet("contacts deactivate", flag.ExitOnError)
		actor := fs.String("as", "", "acting handle")
		handle := fs.String("handle", "", "contact handle")
		version := fs.Int64("version", 0, "expected version")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		contact, err := mail.DeactivateContact(*actor, *handle, *version)
		if err != nil {
			return err
		}
		color.Yellow.Printf("deactivated %s (version %d)\n", contact.Handle, contact.Version)
		return nil

	case "list":
		fs := flag.NewFlagSet("contacts list", flag.ExitOnError)
		activeOnly := fs.Bool("active", false, "active contacts only")
		search := fs.String("search", "", "substring on handle, name or description")
		tag := fs.String("tag", "", "filter by tag")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		opts := repositories.ContactListOptions{ActiveOnly: *activeOnly, Search: *search}
		if *tag != "" {
			opts.Tags = []string{*tag}
		}
		contacts, err := mail.ListContacts(opts)
		if err != nil {
			return err
		}
		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Handle", "Name", "Tags", "Active", "Version"})
		for _, contact := range contacts {
			table.Append([]string{
				contact.Handle,
				contact.DisplayName,
				strings.Join(contact.Tags, ","),
				strconv.FormatBool(contact.IsActive),
				strconv.FormatInt(contact.Version, 10),
			})
		}
		table.Render()
		return nil

	default:
		return fmt.Errorf("contacts: unknown action %q", action)
	}
}

func cmdAudit(mail *services.MailService, args []string) error {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	eventType := fs.String("type", "", "filter by event type")
	actor := fs.String("actor", "", "filter by actor")
	target := fs.String("target", "", "filter by target")
	limit := fs.Int("limit", 50, "maximum events")
	if err := fs.Parse(args); err != nil {
		return err
	}

	events, err := mail.ListAudit(repositories.AuditFilter{
		EventType: *eventType,
		Actor:     *actor,
		Target:    *target,
		Limit:     *limit,
	})
	if err != nil {
		return err
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Timestamp", "Type", "Actor", "Target"})
	for _, event := range events {
		table.Append([]string{
			event.At.Format("2006-01-02 15:04:05"),
			event.EventType,
			event.Actor,
			event.Target,
		})
	}
	table.Render()
	return nil
}

func renderMessages(messages []domain.Message) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Thread", "From", "To", "Subject", "At"})
	for _, message := range messages {
		table.Append([]string{
			message.ID,
			message.ThreadID,
			message.From,
			strings.Join(message.To, ","),
			message.Subject,
			message.CreatedAt.Format("2006-01-02 15:04:05"),
		})
	}
	table.Render()
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
