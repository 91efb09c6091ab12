// Command aichat streams chat completions from the configured AI providers.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
)

const usageText = `usage: aichat [-root dir] <command> [flags]

commands:
  init       scaffold config/setting.ini, config/<env>/aichat.ini and config/providers.yaml
  chat       stream a reply for -text, stdin, or an interactive loop (-i)
  providers  list providers in resolution order
  usage      show recorded token usage
  selftest   stream through every built-in codec against a local loopback server
  version    print build information
`

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	global := flag.NewFlagSet("aichat", flag.ContinueOnError)
	global.SetOutput(stderr)
	root := global.String("root", envOr("AICHAT_ROOT", "."), "directory holding config/")
	global.Usage = func() { fmt.Fprint(stderr, usageText) }
	if err := global.Parse(args); err != nil {
		return 2
	}
	rest := global.Args()
	if len(rest) == 0 {
		global.Usage()
		return 2
	}

	cmd, cmdArgs := rest[0], rest[1:]
	var err error
	switch cmd {
	case "init":
		err = runInit(*root, cmdArgs, stdout, stderr)
	case "chat":
		err = runChat(ctx, *root, cmdArgs, stdin, stdout, stderr)
	case "providers":
		err = runProviders(ctx, *root, cmdArgs, stdout, stderr)
	case "usage":
		err = runUsage(ctx, *root, cmdArgs, stdout, stderr)
	case "selftest":
		err = runSelfTest(ctx, *root, cmdArgs, stdout, stderr)
	case "version":
		err = runVersion(cmdArgs, stdout, stderr)
	case "help", "-h", "--help":
		global.Usage()
		return 0
	default:
		fmt.Fprintf(stderr, "aichat: unknown command %q\n", cmd)
		global.Usage()
		return 2
	}
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		var ue usageError
		if errors.As(err, &ue) {
			fmt.Fprintf(stderr, "aichat %s: %v\n", cmd, err)
			return 2
		}
		fmt.Fprintf(stderr, "aichat %s: %v\n", cmd, err)
		return 1
	}
	return 0
}

// usageError marks bad invocations; they exit with status 2.
type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
