package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/and161185/waitgate/internal/api"
	"github.com/and161185/waitgate/internal/model"
)

// command is a wg subcommand. Admin commands send the saved access token.
type command struct {
	admin bool
	run   func(ctx context.Context, cli *api.Client, args []string) error
}

var commands = map[string]command{
	"join":           {run: cmdJoin},
	"register":       {run: cmdRegister},
	"login":          {run: cmdLogin},
	"reset-confirm":  {run: cmdResetConfirm},
	"waitlist":       {admin: true, run: cmdWaitlist},
	"watch":          {admin: true, run: cmdWatch},
	"approve":        {admin: true, run: cmdApprove},
	"create-account": {admin: true, run: cmdCreateAccount},
	"users":          {admin: true, run: cmdUsers},
	"permissions":    {admin: true, run: cmdPermissions},
	"replay":         {admin: true, run: cmdReplay},
}

func run(ctx context.Context, cli *api.Client, name string, args []string) error {
	c, ok := commands[name]
	if !ok {
		return fmt.Errorf("unknown command %q", name)
	}
	return c.run(ctx, cli, args)
}

func newFlags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func cmdJoin(ctx context.Context, cli *api.Client, args []string) error {
	fs := newFlags("join")
	email := fs.String("e", "", "email")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" {
		return errors.New("need -e")
	}
	e, err := cli.Join(ctx, *email)
	if err != nil {
		return err
	}
	printJSON(e)
	return nil
}

// parseCredentials parses -e and -p; -p - reads the secret from stdin.
func parseCredentials(name string, args []string) (string, string, error) {
	fs := newFlags(name)
	email := fs.String("e", "", "email")
	secret := fs.String("p", "", "secret ('-'=stdin)")
	if err := fs.Parse(args); err != nil {
		return "", "", err
	}
	if *email == "" || *secret == "" {
		return "", "", errors.New("need -e and -p")
	}
	s, err := secretArg(*secret)
	return *email, s, err
}

func cmdRegister(ctx context.Context, cli *api.Client, args []string) error {
	email, secret, err := parseCredentials("register", args)
	if err != nil {
		return err
	}
	res, err := cli.SelfRegister(ctx, email, secret)
	if err != nil {
		return err
	}
	printJSON(res)
	return nil
}

func cmdLogin(ctx context.Context, cli *api.Client, args []string) error {
	email, secret, err := parseCredentials("login", args)
	if err != nil {
		return err
	}
	sess, err := cli.SignIn(ctx, email, secret)
	if err != nil {
		return err
	}
	if err := saveToken(sess); err != nil {
		return err
	}
	fmt.Fprintln(stdout, "ok", sess.UserID)
	return nil
}

func cmdResetConfirm(ctx context.Context, cli *api.Client, args []string) error {
	fs := newFlags("reset-confirm")
	token := fs.String("token", "", "reset token")
	secret := fs.String("p", "", "new secret ('-'=stdin)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *token == "" || *secret == "" {
		return errors.New("need -token and -p")
	}
	s, err := secretArg(*secret)
	if err != nil {
		return err
	}
	if err := cli.ConfirmPasswordReset(ctx, *token, s); err != nil {
		return err
	}
	fmt.Fprintln(stdout, "ok")
	return nil
}

func statusFlag(name string, args []string) (model.Status, error) {
	fs := newFlags(name)
	st := fs.String("status", "", "pending|approved|registered (default all)")
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	return model.Status(*st), nil
}

func cmdWaitlist(ctx context.Context, cli *api.Client, args []string) error {
	st, err := statusFlag("waitlist", args)
	if err != nil {
		return err
	}
	es, err := cli.ListWaitlist(ctx, st)
	if err != nil {
		return err
	}
	printJSON(es)
	return nil
}

// cmdWatch prints every snapshot until the server ends the stream or ctx is done.
func cmdWatch(ctx context.Context, cli *api.Client, args []string) error {
	st, err := statusFlag("watch", args)
	if err != nil {
		return err
	}
	stream, err := cli.WatchWaitlist(ctx, st)
	if err != nil {
		return err
	}
	for {
		es, err := stream.Recv()
		switch {
		case errors.Is(err, io.EOF):
			return nil
		case status.Code(err) == codes.Canceled, ctx.Err() != nil:
			return nil
		case err != nil:
			return err
		}
		printJSON(es)
	}
}

func entryFlags(name string, args []string, withSecret bool) (id, secret string, err error) {
	fs := newFlags(name)
	idp := fs.String("id", "", "waitlist entry id")
	sp := fs.String("p", "", "secret ('-'=stdin)")
	if err := fs.Parse(args); err != nil {
		return "", "", err
	}
	if *idp == "" {
		return "", "", errors.New("need -id")
	}
	if !withSecret {
		return *idp, "", nil
	}
	if *sp == "" {
		return "", "", errors.New("need -p")
	}
	s, err := secretArg(*sp)
	return *idp, s, err
}

func cmdApprove(ctx context.Context, cli *api.Client, args []string) error {
	id, _, err := entryFlags("approve", args, false)
	if err != nil {
		return err
	}
	res, err := cli.Approve(ctx, id)
	if err != nil {
		return err
	}
	printJSON(res)
	return nil
}

func cmdCreateAccount(ctx context.Context, cli *api.Client, args []string) error {
	id, secret, err := entryFlags("create-account", args, true)
	if err != nil {
		return err
	}
	res, err := cli.CreateAccount(ctx, id, secret)
	if err != nil {
		return err
	}
	printJSON(res)
	return nil
}

func cmdUsers(ctx context.Context, cli *api.Client, _ []string) error {
	res, err := cli.ListUsers(ctx)
	if err != nil {
		return err
	}
	printJSON(res)
	return nil
}

func cmdPermissions(ctx context.Context, cli *api.Client, args []string) error {
	fs := newFlags("permissions")
	uid := fs.String("uid", "", "user id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *uid == "" {
		return errors.New("need -uid")
	}
	res, err := cli.ResolvePermissions(ctx, *uid)
	if err != nil {
		return err
	}
	printJSON(res)
	return nil
}

func cmdReplay(ctx context.Context, cli *api.Client, _ []string) error {
	res, err := cli.ReplayFailedWrites(ctx)
	if err != nil {
		return err
	}
	printJSON(res)
	return nil
}
