package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"

	"github.com/ILYESS24/AiEditor/internal/adapter"
	"github.com/ILYESS24/AiEditor/internal/hooks"
	"github.com/ILYESS24/AiEditor/internal/loopback"
	"github.com/ILYESS24/AiEditor/internal/registry"
	"github.com/ILYESS24/AiEditor/internal/session"
)

const selfTestPrompt = "selftest {content}"

type selfTestResult struct {
	provider string
	text     string
	tokens   int
	elapsed  time.Duration
	err      error
}

// runSelfTest starts the loopback vendor server on 127.0.0.1 and streams one
// prompt through every built-in codec. Token reports still reach the
// configured hooks and ledger.
func runSelfTest(ctx context.Context, root string, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("selftest", stderr)
	delay := fs.Duration("delay", 0, "pause between streamed frames")
	timeout := fs.Duration("timeout", 10*time.Second, "per provider deadline")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := newApp(ctx, appOptions{root: root, withLedger: true})
	if err != nil {
		return err
	}
	defer a.close()

	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	srv := &http.Server{Handler: loopback.New(loopback.Options{Logger: a.logger, Delay: *delay}), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("loopback server error", zap.Error(err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	baseURL := "http://" + ln.Addr().String()
	a.logger.Info("loopback server listening", zap.String("url", baseURL))

	if err := a.registry.Init(loopback.Providers(baseURL)); err != nil {
		return err
	}

	var (
		mu     sync.Mutex
		tokens = map[string]int{}
	)
	a.dispatcher.Register(func(_ context.Context, evt hooks.Event) error {
		if evt.Type == hooks.EventTokensConsumed {
			mu.Lock()
			tokens[evt.Provider] += evt.Tokens
			mu.Unlock()
		}
		return nil
	})

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PROVIDER\tRESULT\tTOKENS\tELAPSED\tDETAIL")
	var failed int
	for _, name := range registry.KnownProviders {
		res := selfTestOne(ctx, a, name, *timeout)
		mu.Lock()
		res.tokens = tokens[name]
		mu.Unlock()
		if res.err == nil && res.tokens == 0 {
			res.err = errors.New("no usage reported")
		}
		status, detail := "ok", res.text
		if res.err != nil {
			status, detail = "FAIL", res.err.Error()
			failed++
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", name, status, res.tokens, res.elapsed.Round(time.Millisecond), detail)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d providers failed", failed, len(registry.KnownProviders))
	}
	return nil
}

func selfTestOne(ctx context.Context, a *app, name string, timeout time.Duration) selfTestResult {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res := selfTestResult{provider: name}
	var (
		text     strings.Builder
		finished bool
	)
	sink := session.SinkFuncs{
		Message: func(m adapter.Message) {
			if m.Status == adapter.StatusFinished {
				finished = true
				return
			}
			text.WriteString(m.Content)
		},
	}
	start := time.Now()
	sess, err := a.service.Chat(ctx, session.ChatRequest{Model: name, SelectedText: name, PromptTemplate: selfTestPrompt}, sink)
	if err != nil {
		res.err = err
		return res
	}
	res.err = sess.Wait()
	res.elapsed = time.Since(start)
	res.text = text.String()

	prompt := session.RenderPrompt(selfTestPrompt, name)
	want := strings.Join(loopback.Words(loopback.Reply(prompt)), "")
	switch {
	case res.err != nil:
	case !finished:
		res.err = errors.New("stream ended without a finished message")
	case res.text != want:
		res.err = fmt.Errorf("got %q, want %q", res.text, want)
	}
	return res
}
