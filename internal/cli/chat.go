package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/outofforest/logger"
	"github.com/outofforest/parallel"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pier2pier.dev/go/pier2pier/internal/chat"
	"pier2pier.dev/go/pier2pier/internal/fault"
	"pier2pier.dev/go/pier2pier/internal/link"
	"pier2pier.dev/go/pier2pier/internal/sigil"
	"pier2pier.dev/go/pier2pier/internal/store"
	"pier2pier.dev/go/pier2pier/internal/transport/direct"
	"pier2pier.dev/go/pier2pier/internal/tui"
)

var (
	chatInitiator bool
	chatQR        bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Connect to a peer and chat",
	Long: `Connect to a peer by exchanging sigils, then chat.

One side runs with --initiator and sends its sigil to the other side. The
other side pastes it and replies with its own sigil, which the initiator
pastes in turn. Once both sigils are exchanged the link comes up.

Every line typed is sent as one message. Type /quit to leave.

Examples:
  pier2pier chat --initiator
  pier2pier chat --initiator --qr
  pier2pier chat --user bob`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().BoolVar(&chatInitiator, "initiator", false, "create the offer (the other side answers)")
	chatCmd.Flags().BoolVar(&chatQR, "qr", false, "also print the sigil as a QR code")
	rootCmd.AddCommand(chatCmd)
}

// printer serializes terminal output from the session loop and the input loop.
type printer struct {
	mu  sync.Mutex
	out io.Writer
}

func (p *printer) Println(a ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, a...)
}

func (p *printer) Printf(format string, a ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format, a...)
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, e, err := setup(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := &printer{out: os.Stdout}
	self := e.userID

	capability := direct.New(e.cfg.DirectConfig(), e.log.Named("direct"))
	mgr := link.NewManager(capability, e.log.Named("link"))
	defer mgr.Destroy()

	bound := make(chan string, 1)
	synchronizer, err := chat.New(e.store, self,
		chat.WithRateLimit(e.cfg.RateLimit()),
		chat.OnBound(func(key string) {
			select {
			case bound <- key:
			default:
			}
		}),
		chat.OnMessage(func(m store.Message) {
			out.Println(formatMessage(m, self))
		}),
	)
	if err != nil {
		return err
	}

	spinner := tui.NewSpinner(os.Stderr, "Preparing sigil...", tui.IsTerminal())
	spinner.Start()
	session, err := mgr.Create(ctx, chatInitiator)
	spinner.Stop()
	if err != nil {
		return errors.Wrap(err, "create session")
	}
	synchronizer.Attach(ctx, session)
	defer synchronizer.Detach()

	answers := make(chan string, 1)
	session.On(link.EventLocalDescriptor, func(ev link.Event) {
		select {
		case answers <- ev.Sigil:
		default:
		}
	})
	connected := make(chan struct{})
	var connectOnce sync.Once
	session.On(link.EventConnected, func(link.Event) {
		connectOnce.Do(func() { close(connected) })
	})
	failed := make(chan error, 1)
	session.On(link.EventError, func(ev link.Event) {
		select {
		case failed <- ev.Err:
		default:
		}
	})

	if err := runRitual(ctx, out, session, answers); err != nil {
		return err
	}

	spinner = tui.NewSpinner(os.Stderr, "Connecting...", tui.IsTerminal())
	spinner.Start()
	select {
	case <-connected:
		spinner.StopWithMessage(okStyle.Render("✓ Connected"))
	case err := <-failed:
		spinner.StopWithMessage(errStyle.Render("✗ Connection failed"))
		return errors.Wrap(err, "connect")
	case <-session.Done():
		spinner.Stop()
		return errors.New("session closed before connecting")
	case <-ctx.Done():
		spinner.Stop()
		return nil
	}

	select {
	case key := <-bound:
		out.Printf("%s %s\n", dimStyle.Render("Conversation:"), titleStyle.Render(key))
		printBacklog(ctx, out, e.store, key, self)
	case <-session.Done():
		return errors.New("peer left before identifying")
	case <-ctx.Done():
		return nil
	}
	out.Println(dimStyle.Render("Type a message and press Enter. /quit leaves."))

	return runChatLoop(ctx, out, synchronizer, session)
}

// runRitual exchanges sigils with the peer. The initiator shows its offer
// and reads the answer, the responder reads the offer and shows its answer.
func runRitual(ctx context.Context, out *printer, session *link.Session, answers <-chan string) error {
	if session.Initiator() {
		_, offer, _ := session.LocalDescriptor()
		printSigil(out, "Your sigil", "Send this sigil to your peer through any channel you trust.", offer)

		answer, err := readSigil(ctx, "Paste your peer's sigil, then press Enter twice:\n")
		if err != nil {
			return err
		}
		return errors.Wrap(session.IngestRemoteDescriptor(ctx, answer), "ingest answer")
	}

	offer, err := readSigil(ctx, "Paste the initiator's sigil, then press Enter twice:\n")
	if err != nil {
		return err
	}
	if err := session.IngestRemoteDescriptor(ctx, offer); err != nil {
		return errors.Wrap(err, "ingest offer")
	}

	select {
	case answer := <-answers:
		printSigil(out, "Your sigil", "Send this sigil back to the initiator.", answer)
		return nil
	case <-session.Done():
		if err := session.Err(); err != nil {
			return errors.Wrap(err, "create answer")
		}
		return errors.New("session closed before the answer was ready")
	case <-ctx.Done():
		return errors.WithStack(ctx.Err())
	}
}

func printSigil(out *printer, title, hint, text string) {
	width := tui.TerminalWidth() - 8
	out.Println(tui.Box(title, tui.Wrap(hint, width)))
	out.Println()
	out.Println(text)
	out.Println()

	if !chatQR {
		return
	}
	qr, err := sigil.RenderQR(text)
	if err != nil {
		out.Println(warnStyle.Render("QR code unavailable: " + err.Error()))
		return
	}
	out.Println(qr)
}

func readSigil(ctx context.Context, prompt string) (string, error) {
	text, err := await(ctx, func() (string, error) {
		return tui.Stdin().ReadSigil(prompt)
	})
	if errors.Is(err, io.EOF) {
		return "", errors.New("no sigil entered")
	}
	return text, err
}

// await runs fn in the background and returns early when ctx is done.
// Terminal reads cannot be interrupted, the reader is abandoned instead.
func await[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v: v, err: err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, errors.WithStack(ctx.Err())
	}
}

func printBacklog(ctx context.Context, out *printer, st *store.Gateway, key, self string) {
	conv, err := st.Messages(ctx, key)
	if err != nil {
		out.Println(warnStyle.Render("Could not load history: " + err.Error()))
		return
	}
	const backlog = 10
	msgs := conv.Messages
	if len(msgs) > backlog {
		out.Println(dimStyle.Render(fmt.Sprintf("... %d earlier messages, see `pier2pier history %s`", len(msgs)-backlog, key)))
		msgs = msgs[len(msgs)-backlog:]
	}
	for _, m := range msgs {
		out.Println(formatMessage(m, self))
	}
}

func runChatLoop(ctx context.Context, out *printer, synchronizer *chat.Synchronizer, session *link.Session) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		for {
			line, err := tui.Stdin().ReadLine("")
			if err != nil {
				return
			}
			lines <- line
		}
	}()

	return parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		spawn("input", parallel.Exit, func(ctx context.Context) error {
			for {
				var line string
				var ok bool
				select {
				case <-ctx.Done():
					return nil
				case line, ok = <-lines:
				}
				if !ok || line == "/quit" {
					return nil
				}
				if strings.TrimSpace(line) == "" {
					continue
				}
				sendLine(ctx, out, synchronizer, line)
			}
		})
		spawn("link", parallel.Exit, func(ctx context.Context) error {
			select {
			case <-ctx.Done():
			case <-session.Done():
				out.Println(dimStyle.Render("Link closed."))
			}
			return nil
		})
		return nil
	})
}

func sendLine(ctx context.Context, out *printer, synchronizer *chat.Synchronizer, line string) {
	_, err := synchronizer.Send(ctx, line)
	switch {
	case err == nil:
	case errors.Is(err, fault.ErrValidation):
		out.Println(warnStyle.Render("Not sent: " + err.Error()))
	case errors.Is(err, chat.ErrUnbound):
		out.Println(warnStyle.Render("Not sent: the link is down."))
	case errors.Is(err, fault.ErrTransport):
		out.Println(errStyle.Render("Stored but not delivered: " + err.Error()))
	default:
		logger.Get(ctx).Error("Sending message failed", zap.Error(err))
		out.Println(errStyle.Render("Not sent: " + err.Error()))
	}
}
