// ABOUTME: Command handling and rendering for the trident terminal client
// ABOUTME: Turns slash commands into controller calls and prints the timeline

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"

	"github.com/2389/trident/internal/conversation"
	"github.com/2389/trident/internal/preview"
	"github.com/2389/trident/internal/remote"
)

// shell runs one command at a time and waits for its result before the
// next prompt.
type shell struct {
	ctrl *conversation.Controller
	out  io.Writer

	user  *color.Color
	bot   *color.Color
	dim   *color.Color
	warn  *color.Color
	fault *color.Color
	title *color.Color
}

func newShell(ctrl *conversation.Controller, out io.Writer) *shell {
	return &shell{
		ctrl:  ctrl,
		out:   out,
		user:  color.New(color.FgGreen, color.Bold),
		bot:   color.New(color.FgCyan, color.Bold),
		dim:   color.New(color.FgHiBlack),
		warn:  color.New(color.FgYellow),
		fault: color.New(color.FgRed),
		title: color.New(color.FgCyan),
	}
}

// start loads the thread list and opens threadID when given, otherwise it
// shows the greeting of a new conversation.
func (s *shell) start(ctx context.Context, threadID string) error {
	if err := s.ctrl.LoadThreads(ctx); err != nil {
		s.warn.Fprintf(s.out, "Could not load threads: %v\n\n", err)
	}
	if threadID == "" {
		s.printTimeline()
		return nil
	}
	return s.switchTo(ctx, threadID)
}

func (s *shell) prompt() {
	if id := s.ctrl.CurrentThreadID(); id != "" {
		s.dim.Fprintf(s.out, "[%s]", shortID(id))
	}
	fmt.Fprint(s.out, "> ")
}

// handle runs one line of input and reports whether the user asked to quit.
func (s *shell) handle(ctx context.Context, input string) bool {
	input = strings.TrimSpace(input)
	if input == "" {
		return false
	}

	cmd, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)

	var err error
	switch cmd {
	case "/quit", "/exit", "/q":
		return true
	case "/help":
		s.printHelp()
	case "/threads":
		err = s.listThreads(ctx)
	case "/switch":
		err = s.switchTo(ctx, arg)
	case "/new":
		s.ctrl.NewThread()
		s.printTimeline()
	case "/show":
		s.printTimeline()
	case "/select":
		err = s.selectVariant(arg)
	case "/prefer":
		err = s.prefer(ctx, arg)
	default:
		if strings.HasPrefix(cmd, "/") {
			err = fmt.Errorf("unknown command %s (try /help)", cmd)
			break
		}
		err = s.send(ctx, input)
	}

	if err != nil {
		s.printError(err)
	}
	fmt.Fprintln(s.out)
	return false
}

func (s *shell) printHelp() {
	fmt.Fprintln(s.out, "Commands:")
	fmt.Fprintln(s.out, "  /threads        List your threads")
	fmt.Fprintln(s.out, "  /switch <n|id>  Open a thread by list number or ID")
	fmt.Fprintln(s.out, "  /new            Start a new conversation")
	fmt.Fprintln(s.out, "  /show           Print the current conversation")
	fmt.Fprintln(s.out, "  /select <n>     Show variant n of the last answer")
	fmt.Fprintln(s.out, "  /prefer <n>     Mark variant n of the last answer as preferred")
	fmt.Fprintln(s.out, "  /help           Show this help")
	fmt.Fprintln(s.out, "  /quit           Exit")
}

func (s *shell) send(ctx context.Context, content string) error {
	p, err := s.ctrl.SendMessage(ctx, conversation.SendRequest{Content: content})
	if err != nil {
		return err
	}
	s.dim.Fprintln(s.out, "…")
	if err := p.Wait(ctx); err != nil {
		return err
	}
	if msg, ok := s.lastBotMessage(); ok {
		s.printMessage(msg)
	}
	return nil
}

func (s *shell) listThreads(ctx context.Context) error {
	if err := s.ctrl.LoadThreads(ctx); err != nil {
		return err
	}
	threads := s.ctrl.Threads()
	if len(threads) == 0 {
		fmt.Fprintln(s.out, "No threads yet")
		return nil
	}
	for i, th := range threads {
		marker := " "
		if th.IsActive {
			marker = "*"
		}
		fmt.Fprintf(s.out, "%s %2d. ", marker, i+1)
		s.title.Fprint(s.out, th.TitleSnippet)
		s.dim.Fprintf(s.out, "  (%d turns, %s)\n", th.MessageCount, th.LastUpdatedAt.Local().Format("Jan 02 15:04"))
		if th.LastMessagePreview != "" {
			s.dim.Fprintf(s.out, "      %s\n", th.LastMessagePreview)
		}
	}
	return nil
}

// switchTo accepts a 1-based position in the last listed threads or an ID.
func (s *shell) switchTo(ctx context.Context, arg string) error {
	if arg == "" {
		return errors.New("usage: /switch <n|id>")
	}
	id := arg
	if n, err := strconv.Atoi(arg); err == nil {
		threads := s.ctrl.Threads()
		if n < 1 || n > len(threads) {
			return fmt.Errorf("no thread %d (have %d)", n, len(threads))
		}
		id = threads[n-1].ID
	}

	p, err := s.ctrl.SwitchThread(ctx, id)
	if err != nil {
		return err
	}
	if err := p.Wait(ctx); err != nil {
		return err
	}
	s.printTimeline()
	return nil
}

func (s *shell) selectVariant(arg string) error {
	msg, n, err := s.variantArg(arg)
	if err != nil {
		return err
	}
	if err := s.ctrl.SelectVariant(msg.ID, n-1); err != nil {
		return err
	}
	if updated, ok := s.lastBotMessage(); ok {
		s.printMessage(updated)
	}
	return nil
}

func (s *shell) prefer(ctx context.Context, arg string) error {
	msg, n, err := s.variantArg(arg)
	if err != nil {
		return err
	}
	variant := msg.Responses[n-1]
	p, err := s.ctrl.MarkPreferred(ctx, variant.ID, msg.ID)
	if err != nil {
		return err
	}
	if err := p.Wait(ctx); err != nil {
		return fmt.Errorf("preference not saved: %w", err)
	}
	s.warn.Fprintf(s.out, "★ %s marked as preferred\n", variant.ID)
	return nil
}

func (s *shell) variantArg(arg string) (conversation.Message, int, error) {
	msg, ok := s.lastBotMessage()
	if !ok || len(msg.Responses) == 0 {
		return conversation.Message{}, 0, errors.New("no answer to choose from yet")
	}
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 || n > len(msg.Responses) {
		return conversation.Message{}, 0, fmt.Errorf("pick a variant between 1 and %d", len(msg.Responses))
	}
	return msg, n, nil
}

func (s *shell) lastBotMessage() (conversation.Message, bool) {
	msgs := s.ctrl.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == conversation.RoleBot {
			return msgs[i], true
		}
	}
	return conversation.Message{}, false
}

func (s *shell) printTimeline() {
	for _, msg := range s.ctrl.Messages() {
		s.printMessage(msg)
	}
}

func (s *shell) printMessage(msg conversation.Message) {
	if msg.Role == conversation.RoleUser {
		s.user.Fprint(s.out, "you: ")
		fmt.Fprintln(s.out, msg.Content)
		if msg.Status == conversation.StatusFailed {
			s.fault.Fprintf(s.out, "     not delivered: %s\n", msg.FailureReason)
		}
		return
	}

	s.bot.Fprint(s.out, "bot: ")
	if len(msg.Responses) > 1 {
		for i, v := range msg.Responses {
			line := fmt.Sprintf("[%d] %s", i+1, v.Role)
			if v.IsPreferred {
				line += " ★"
			}
			if i == msg.SelectedResponseIndex {
				s.title.Fprint(s.out, line+"  ")
			} else {
				s.dim.Fprint(s.out, line+"  ")
			}
		}
		fmt.Fprintln(s.out)
	} else if msg.WasContinuation {
		s.dim.Fprintln(s.out, "(continuing the thread)")
	} else {
		fmt.Fprintln(s.out)
	}
	fmt.Fprintln(s.out, msg.Content)
	if msg.ClassificationReasoning != "" {
		s.dim.Fprintf(s.out, "  %s\n", preview.Truncate(msg.ClassificationReasoning, 80))
	}
}

func (s *shell) printError(err error) {
	switch {
	case remote.StatusCode(err) == 401:
		s.fault.Fprintf(s.out, "[error] not authorized: %v\n", err)
	case remote.IsNetwork(err):
		s.fault.Fprintf(s.out, "[error] backend unreachable: %v\n", err)
	default:
		s.fault.Fprintf(s.out, "[error] %v\n", err)
	}
}

// shortID abbreviates a UUID for the prompt.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
