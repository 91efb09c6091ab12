package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/ILYESS24/AiEditor/internal/adapter"
	"github.com/ILYESS24/AiEditor/internal/bootstrap"
	"github.com/ILYESS24/AiEditor/internal/health"
	"github.com/ILYESS24/AiEditor/internal/ledger"
	"github.com/ILYESS24/AiEditor/internal/session"
	"github.com/ILYESS24/AiEditor/internal/transport"
	"github.com/ILYESS24/AiEditor/internal/version"
)

func runInit(root string, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("init", stderr)
	env := fs.String("env", "dev", "environment name")
	providers := fs.String("providers", "", "comma separated providers to declare (default openrouter,ollama)")
	ledgerBackend := fs.String("ledger", "", "ledger backend: none, sqlite, postgres or redis")
	force := fs.Bool("force", false, "overwrite existing files")
	if err := fs.Parse(args); err != nil {
		return err
	}
	var names []string
	for _, p := range strings.Split(*providers, ",") {
		if p = strings.TrimSpace(p); p != "" {
			names = append(names, p)
		}
	}
	res, err := bootstrap.Init(bootstrap.InitOptions{
		Root:          root,
		Environment:   *env,
		LedgerBackend: *ledgerBackend,
		Providers:     names,
		Force:         *force,
	})
	if err != nil {
		return err
	}
	for _, f := range res.Files {
		fmt.Fprintf(stdout, "wrote %s\n", f)
	}
	return nil
}

func runChat(ctx context.Context, root string, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := newFlagSet("chat", stderr)
	model := fs.String("model", "", "provider name; empty uses default_model")
	template := fs.String("template", "", "prompt template; "+session.ContentPlaceholder+" is replaced by the text")
	text := fs.String("text", "", "text to send; read from stdin when empty")
	interactive := fs.Bool("i", false, "read one prompt per line until EOF")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := newApp(ctx, appOptions{root: root, withProviders: true, withLedger: true})
	if err != nil {
		return err
	}
	defer a.close()
	if *model == "" {
		*model = a.cfg.DefaultModel
	}

	if *interactive {
		scanner := bufio.NewScanner(stdin)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for {
			fmt.Fprint(stderr, "> ")
			if !scanner.Scan() {
				fmt.Fprintln(stderr)
				return scanner.Err()
			}
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if err := chatOnce(ctx, a, session.ChatRequest{Model: *model, SelectedText: line, PromptTemplate: *template}, stdout); err != nil {
				fmt.Fprintf(stderr, "error: %v\n", err)
			}
		}
	}

	input := *text
	if input == "" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		input = strings.TrimSpace(string(data))
	}
	if input == "" {
		return usageError{msg: "no text given (use -text or pipe it on stdin)"}
	}
	return chatOnce(ctx, a, session.ChatRequest{Model: *model, SelectedText: input, PromptTemplate: *template}, stdout)
}

// chatOnce streams one reply to out. SIGINT cancels the session.
func chatOnce(ctx context.Context, a *app, req session.ChatRequest, out io.Writer) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	w := bufio.NewWriter(out)
	sink := session.SinkFuncs{
		Message: func(m adapter.Message) {
			if m.Status == adapter.StatusContinuing {
				_, _ = w.WriteString(m.Content)
				_ = w.Flush()
			}
		},
		Stop: func() {
			_, _ = w.WriteString("\n")
			_ = w.Flush()
		},
	}
	sess, err := a.service.Chat(ctx, req, sink)
	if err != nil {
		return err
	}
	err = sess.Wait()
	if sess.State() == session.StateCancelled {
		fmt.Fprintln(out, "\n[cancelled]")
		return nil
	}
	return err
}

func runProviders(ctx context.Context, root string, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("providers", stderr)
	check := fs.Bool("check", false, "probe every provider endpoint")
	if err := fs.Parse(args); err != nil {
		return err
	}
	a, err := newApp(ctx, appOptions{root: root, withProviders: true})
	if err != nil {
		return err
	}
	defer a.close()
	if *check {
		return checkProviders(ctx, a, stdout)
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tPROVIDER\tMODEL\tURL")
	for i, name := range a.registry.Names() {
		ad, err := a.registry.Resolve(name)
		if err != nil {
			return err
		}
		u, err := ad.BuildRequestURL()
		if err != nil {
			u = "error: " + err.Error()
		} else {
			u = transport.RedactURL(u)
		}
		model := ad.Config().Model
		if model == "" {
			model = "(default)"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", i+1, name, model, u)
	}
	return tw.Flush()
}

func runUsage(ctx context.Context, root string, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("usage", stderr)
	provider := fs.String("provider", "", "only this provider")
	limit := fs.Int("limit", 10, "recent entries to list")
	if err := fs.Parse(args); err != nil {
		return err
	}
	a, err := newApp(ctx, appOptions{root: root, withLedger: true})
	if err != nil {
		return err
	}
	defer a.close()
	if a.store == nil {
		return usageError{msg: "ledger_backend is none; nothing is recorded"}
	}

	sum, err := a.store.Summary(ctx, *provider)
	if err != nil {
		return err
	}
	scope := sum.Provider
	if scope == "" {
		scope = "all providers"
	}
	fmt.Fprintf(stdout, "%s: %d usage reports, %d tokens\n", scope, sum.Requests, sum.TotalTokens)
	if *limit <= 0 {
		return nil
	}
	entries, err := a.store.ListRecent(ctx, *provider, *limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	return printEntries(stdout, entries)
}

func printEntries(out io.Writer, entries []ledger.Entry) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tPROVIDER\tMODEL\tTOKENS")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", e.CreatedAt.Local().Format(time.DateTime), e.Provider, e.Model, e.Tokens)
	}
	return tw.Flush()
}

func runVersion(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("version", stderr)
	short := fs.Bool("short", false, "print only the version")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *short {
		fmt.Fprintln(stdout, version.Info())
		return nil
	}
	fmt.Fprintln(stdout, version.FullInfo())
	return nil
}

// checkProviders GETs each provider URL without its query. Any HTTP answer
// counts as reachable.
func checkProviders(ctx context.Context, a *app, stdout io.Writer) error {
	checker := health.New(health.Config{Timeout: a.cfg.ResponseHeaderTimeout})
	for _, name := range a.registry.Names() {
		ad, err := a.registry.Resolve(name)
		if err != nil {
			return err
		}
		raw, err := ad.BuildRequestURL()
		if err != nil {
			checker.Add(health.Probe{Name: name, Type: health.TypeProvider, Check: func(context.Context) error { return err }})
			continue
		}
		u, err := url.Parse(raw)
		if err != nil {
			return err
		}
		u.RawQuery = ""
		checker.Add(health.Probe{Name: name, Type: health.TypeProvider, Check: health.HTTPCheck(nil, u.String())})
	}

	st := checker.Check(ctx)
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PROVIDER\tSTATUS\tLATENCY\tDETAIL")
	for _, c := range st.Components {
		detail := c.Message
		if c.Error != "" {
			detail = c.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.Name, c.Status, c.Latency.Round(time.Millisecond), detail)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if st.Status != health.StatusHealthy {
		return fmt.Errorf("providers %s", st.Status)
	}
	return nil
}
