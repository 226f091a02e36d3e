// Command authcli is a small client for the authflow API. It keeps the
// session in a local bbolt file and refreshes it transparently.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/authflow/backend/internal/client"
	"github.com/authflow/backend/internal/logging"
	"golang.org/x/term"
)

// readPassword is replaced in tests.
var readPassword = func() ([]byte, error) {
	return term.ReadPassword(int(os.Stdin.Fd()))
}

const usage = `usage: authcli [flags] <command>

commands:
  register   create an account
  login      sign in and store the session
  me         show the signed-in user
  logout     revoke the session

flags:
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("authcli", flag.ContinueOnError)
	fs.SetOutput(stderr)
	server := fs.String("server", envOr("AUTHFLOW_URL", "http://localhost:8080"), "API base URL")
	storePath := fs.String("store", envOr("AUTHFLOW_STORE", defaultStorePath()), "session file")
	logLevel := fs.String("log-level", "warn", "log level")
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return errors.New("expected exactly one command")
	}

	logger := logging.NewLogger(stderr, *logLevel, "text")

	store, err := client.OpenBoltTokenStore(*storePath)
	if err != nil {
		return err
	}
	defer store.Close()

	c := client.NewAuthClient(*server, store, nil, client.CoordinatorOptions{
		Logger: logger,
		OnSessionExpired: func() {
			fmt.Fprintln(stderr, "session expired, run `authcli login` again")
		},
	})
	defer c.Close()

	in := bufio.NewReader(stdin)
	switch cmd := fs.Arg(0); cmd {
	case "register":
		email, err := prompt(in, stdout, "Email")
		if err != nil {
			return err
		}
		name, err := prompt(in, stdout, "Name")
		if err != nil {
			return err
		}
		password, err := promptPassword(stdout)
		if err != nil {
			return err
		}
		if err := c.Register(ctx, email, password, name); err != nil {
			return err
		}
		fmt.Fprintln(stdout, "Registered. Run `authcli login` to sign in.")

	case "login":
		email, err := prompt(in, stdout, "Email")
		if err != nil {
			return err
		}
		password, err := promptPassword(stdout)
		if err != nil {
			return err
		}
		data, err := c.Login(ctx, email, password)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Signed in as %s\n", data.User.Email)

	case "me":
		user, err := c.Me(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "id:    %s\nemail: %s\nname:  %s\n", user.ID, user.Email, user.Name)
		if user.LastLogin != nil {
			fmt.Fprintf(stdout, "last login: %s\n", user.LastLogin.Local().Format("2006-01-02 15:04:05"))
		}

	case "logout":
		if err := c.Logout(ctx); err != nil {
			return err
		}
		fmt.Fprintln(stdout, "Signed out.")

	default:
		fs.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

func prompt(in *bufio.Reader, w io.Writer, label string) (string, error) {
	fmt.Fprintf(w, "%s: ", label)
	line, err := in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func promptPassword(w io.Writer) (string, error) {
	fmt.Fprint(w, "Password: ")
	pw, err := readPassword()
	fmt.Fprintln(w)
	if err != nil {
		return "", err
	}
	return string(pw), nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "authflow-session.db"
	}
	return filepath.Join(home, ".authflow", "session.db")
}
