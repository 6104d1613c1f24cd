package telegram

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gotd/td/session"
	gotdtelegram "github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
)

// loginConfig carries what an interactive user login may need.
type loginConfig struct {
	phone       string
	password    string
	code        string
	sessionFile string
	timeout     time.Duration
}

// newGotdSessionStorage creates the session file's directory with owner-only
// permissions and returns file storage at its absolute path.
func newGotdSessionStorage(path string) (*session.FileStorage, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("empty session file path")
	}
	absolute, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve session file path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(absolute), 0o700); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}

	return &session.FileStorage{Path: absolute}, nil
}

// loggedInClient runs the gotd client and makes sure the session is
// authorized before handing control to the update loop.
type loggedInClient struct {
	client *gotdtelegram.Client
	login  loginConfig
	logger *slog.Logger
}

// Run implements GotdUserbotClient.
func (c loggedInClient) Run(ctx context.Context, fn func(context.Context) error) error {
	if c.client == nil || fn == nil {
		return errors.New("run gotd client: missing client or callback")
	}

	err := c.client.Run(ctx, func(runCtx context.Context) error {
		if err := c.ensureAuthorized(runCtx); err != nil {
			return fmt.Errorf("authenticate gotd client: %w", err)
		}
		return fn(runCtx)
	})
	if err != nil {
		return fmt.Errorf("run gotd client: %w", err)
	}

	return nil
}

func (c loggedInClient) ensureAuthorized(ctx context.Context) error {
	authCtx, cancel := context.WithTimeout(ctx, c.login.timeout)
	defer cancel()

	status, err := c.client.Auth().Status(authCtx)
	if err != nil {
		return fmt.Errorf("check auth status: %w", err)
	}
	if status.Authorized {
		c.logger.InfoContext(ctx, "telegram session restored", "session_file", c.login.sessionFile)
		return nil
	}
	if c.login.phone == "" {
		return errors.New("telegram login needs a phone number; set phone in the driver config")
	}

	if err := c.client.Auth().IfNecessary(authCtx, auth.NewFlow(c.login.authenticator(), auth.SendCodeOptions{})); err != nil {
		return fmt.Errorf("authenticate user: %w", err)
	}
	c.logger.InfoContext(ctx, "telegram authorized", "session_file", c.login.sessionFile)

	return nil
}

func (l loginConfig) authenticator() auth.UserAuthenticator {
	codes := auth.CodeAuthenticatorFunc(func(context.Context, *tg.AuthSentCode) (string, error) {
		if l.code != "" {
			return l.code, nil
		}
		return promptLoginCode(os.Stdin, os.Stdout)
	})
	if l.password == "" {
		return auth.CodeOnly(l.phone, codes)
	}

	return auth.Constant(l.phone, l.password, codes)
}

// promptLoginCode reads one code line from an interactive terminal.
func promptLoginCode(in *os.File, out io.Writer) (string, error) {
	info, err := in.Stat()
	if err != nil {
		return "", fmt.Errorf("read stdin status: %w", err)
	}
	if info.Mode()&os.ModeCharDevice == 0 {
		return "", errors.New("login code is not configured and stdin is not interactive")
	}

	fmt.Fprint(out, "Enter Telegram login code: ")
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read login code: %w", err)
	}
	if code := strings.TrimSpace(line); code != "" {
		return code, nil
	}

	return "", errors.New("empty login code")
}
