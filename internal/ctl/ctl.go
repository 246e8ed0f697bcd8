// Package ctl implements tagifyctl, the operator command line for tagify:
// generating session keys, hashing passwords and creating accounts directly
// in the database.
package ctl

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dmitrijs2005/tagify/internal/cryptox"
	"github.com/dmitrijs2005/tagify/internal/logging"
	"github.com/dmitrijs2005/tagify/internal/server/models"
	"github.com/dmitrijs2005/tagify/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/tagify/internal/server/services"
	"github.com/dmitrijs2005/tagify/internal/server/session"
	"github.com/urfave/cli/v2"
	"golang.org/x/term"
)

// readPassword and isTerminal are test seams for golang.org/x/term.
var (
	readPassword = term.ReadPassword
	isTerminal   = term.IsTerminal
)

// Deps are the collaborators of the commands that touch the database.
type Deps struct {
	OpenDB     func(ctx context.Context, dsn string) (*sql.DB, error)
	Manager    repomanager.RepositoryManager
	HashParams cryptox.Params
	Logger     logging.Logger
}

// DefaultDeps connects to PostgreSQL with the production settings.
func DefaultDeps() Deps {
	return Deps{
		OpenDB:     repomanager.Open,
		Manager:    repomanager.NewPostgresRepositoryManager(),
		HashParams: cryptox.DefaultParams,
		Logger:     logging.Nop{},
	}
}

// NewApp builds the command tree. Passwords are read from in; results go to
// out.
func NewApp(d Deps, in io.Reader, out io.Writer) *cli.App {
	return &cli.App{
		Name:      "tagifyctl",
		Usage:     "Operator tools for the tagify server",
		Reader:    in,
		Writer:    out,
		ErrWriter: out,
		Commands: []*cli.Command{
			genKeyCmd(),
			hashPasswordCmd(d),
			createUserCmd(d),
		},
	}
}

func genKeyCmd() *cli.Command {
	return &cli.Command{
		Name:  "gen-key",
		Usage: "Print a random session signing key for user_secret_key / admin_secret_key",
		Action: func(ctx *cli.Context) error {
			key, err := session.GenerateKey()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(ctx.App.Writer, key)
			return err
		},
	}
}

func hashPasswordCmd(d Deps) *cli.Command {
	return &cli.Command{
		Name:  "hash-password",
		Usage: "Hash a password (read from the terminal or stdin) for the users table",
		Action: func(ctx *cli.Context) error {
			password, err := getPassword(ctx.App.Reader, ctx.App.ErrWriter)
			if err != nil {
				return err
			}
			encoded, err := cryptox.HashPasswordWithParams(password, d.HashParams)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(ctx.App.Writer, encoded)
			return err
		},
	}
}

func createUserCmd(d Deps) *cli.Command {
	var (
		dsn      string
		username string
		nickname string
		admin    bool
	)
	return &cli.Command{
		Name:  "create-user",
		Usage: "Create an account (password is read from the terminal or stdin)",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "dsn",
				Aliases:     []string{"d"},
				Usage:       "PostgreSQL DSN",
				EnvVars:     []string{"TAGIFY_DATABASE_DSN"},
				Destination: &dsn,
				Required:    true,
			},
			&cli.StringFlag{
				Name:        "username",
				Aliases:     []string{"u"},
				Usage:       "Login name of the new account",
				Destination: &username,
				Required:    true,
			},
			&cli.StringFlag{
				Name:        "nickname",
				Aliases:     []string{"n"},
				Usage:       "Display name; defaults to the username",
				Destination: &nickname,
			},
			&cli.BoolFlag{
				Name:        "admin",
				Usage:       "Grant the admin role",
				Destination: &admin,
			},
		},
		Action: func(ctx *cli.Context) error {
			password, err := getPassword(ctx.App.Reader, ctx.App.ErrWriter)
			if err != nil {
				return err
			}
			if nickname == "" {
				nickname = username
			}
			role := models.RoleUser
			if admin {
				role = models.RoleAdmin
			}

			account, err := createAccount(ctx.Context, d, dsn, services.NewAccount{
				Username: username,
				Password: password,
				Nickname: nickname,
				Role:     role,
			})
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(ctx.App.Writer, "created account %d (%s, %s)\n", account.ID, account.Username, account.Role)
			return err
		},
	}
}

func createAccount(ctx context.Context, d Deps, dsn string, in services.NewAccount) (*models.Account, error) {
	db, err := d.OpenDB(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	defer db.Close()

	if err := d.Manager.RunMigrations(ctx, db); err != nil {
		return nil, fmt.Errorf("migrations error: %w", err)
	}

	hasher := cryptox.NewHasher(d.HashParams, 1)
	as, err := services.NewAccountService(db, d.Manager, hasher, d.Logger, nil)
	if err != nil {
		return nil, err
	}
	return as.Create(ctx, in)
}

// getPassword reads a password without echo when in is a terminal and the
// first line of in otherwise.
func getPassword(in io.Reader, prompt io.Writer) (string, error) {
	if f, ok := in.(*os.File); ok && isTerminal(int(f.Fd())) {
		fmt.Fprint(prompt, "Enter password: ")
		pw, err := readPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", err
		}
		return string(pw), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", errors.New("missing password on stdin")
	}
	return password, nil
}
