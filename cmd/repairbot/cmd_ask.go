package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"repairbot/internal/agent"
	"repairbot/internal/chat"
	"repairbot/internal/pipeline"

	"github.com/charmbracelet/glamour"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	askRaw    bool
	askThread string
	askOwner  string
)

var askCmd = &cobra.Command{
	Use:   `ask "<question>"`,
	Short: "Ask one repair question",
	Long: `Runs a single turn and prints the answer.

By default progress goes to stderr and the finished answer is rendered as
markdown. With --raw the answer streams to stdout as plain text.`,
	Args:        cobra.MinimumNArgs(1),
	Annotations: map[string]string{annotationQuiet: "true"},
	RunE:        runAsk,
}

func init() {
	askCmd.Flags().BoolVar(&askRaw, "raw", false, "Stream plain text instead of rendering markdown")
	askCmd.Flags().StringVar(&askThread, "thread", "", "Continue an existing thread (default: a new one)")
	askCmd.Flags().StringVar(&askOwner, "owner", "", "Owner id (default: server.default_owner)")
}

func runAsk(cmd *cobra.Command, args []string) error {
	owner, err := resolveOwner(askOwner)
	if err != nil {
		return err
	}
	thread := askThread
	if thread == "" {
		thread = "cli-" + uuid.NewString()
	}

	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	progress := cmd.ErrOrStderr()
	printer := &askPrinter{out: out, progress: progress, raw: askRaw}
	ctx := pipeline.WithEventSink(cmd.Context(), printer.sink)

	res, err := a.chat.Send(ctx, chat.Request{
		OwnerID:  owner,
		ThreadID: thread,
		Message:  strings.Join(args, " "),
	})
	if err != nil {
		return err
	}

	if askRaw {
		printer.finish(res.Reply)
	} else {
		rendered, err := renderMarkdown(res.Reply)
		if err != nil {
			rendered = res.Reply
		}
		fmt.Fprint(out, rendered)
	}
	source := "web (unofficial)"
	if res.OfficialSource {
		source = "iFixit"
	}
	fmt.Fprintf(progress, "\nthread %s · source %s · %d tokens\n", res.ThreadID, source, res.TotalTokens)
	return nil
}

// restartMarker separates abandoned streamed text from what follows.
const restartMarker = "\n\n--- answer restarted ---\n\n"

// askPrinter writes status lines to progress and, in raw mode, streams
// tokens to out.
type askPrinter struct {
	out, progress io.Writer
	raw           bool
	attempt       strings.Builder // tokens written since the last restart
}

func (p *askPrinter) sink(ev pipeline.Event) {
	switch ev.Type {
	case pipeline.EventStatus:
		if msg := agent.StatusMessage(ev.Stage, ev.Content); msg != "" {
			fmt.Fprintln(p.progress, msg)
		}
	case pipeline.EventRetry:
		fmt.Fprintf(p.progress, "\n⏳ rate limited, retry %d...\n", ev.Attempt)
		if p.raw && p.attempt.Len() > 0 {
			fmt.Fprint(p.out, restartMarker)
			p.attempt.Reset()
		}
	case pipeline.EventToken:
		if p.raw {
			fmt.Fprint(p.out, ev.Content)
			p.attempt.WriteString(ev.Content)
		}
	}
}

// finish ends raw output. A reply that differs from what was streamed, such
// as the fallback after a failed stream, is printed in full.
func (p *askPrinter) finish(reply string) {
	if p.attempt.String() != reply {
		if p.attempt.Len() > 0 {
			fmt.Fprint(p.out, restartMarker)
		}
		fmt.Fprint(p.out, reply)
	}
	fmt.Fprintln(p.out)
}

func renderMarkdown(md string) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return "", err
	}
	return r.Render(md)
}

func resolveOwner(flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if cfg.Server.DefaultOwner != "" {
		return cfg.Server.DefaultOwner, nil
	}
	if u := os.Getenv("USER"); u != "" {
		return u, nil
	}
	return "", fmt.Errorf("no owner: pass --owner or set server.default_owner")
}
