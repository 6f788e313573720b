package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-account"
)

func (a *app) dispatch(ctx context.Context, name string, args []string) error {
	switch name {
	case "migrate":
		return a.migrate(ctx)
	case "register":
		return a.register(ctx)
	case "activate":
		return a.activate(ctx, args)
	case "forgot":
		return a.forgot(ctx, args)
	case "reset":
		return a.reset(ctx, args)
	case "pending":
		return a.pending(ctx)
	case "relay":
		return a.relay(ctx, args)
	case "session":
		return a.session(ctx, args)
	default:
		return fmt.Errorf("unknown command %q", name)
	}
}

func (a *app) migrate(ctx context.Context) error {
	if err := account.CreateSchema(ctx, a.db); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	fmt.Fprintln(a.out, "schema ready")
	return nil
}

func (a *app) register(ctx context.Context) error {
	p := newPrompter(a.in, a.out)

	var (
		in  account.Registration
		err error
	)
	if in.Email, err = p.line("Email"); err != nil {
		return err
	}
	if in.Name, err = p.line("Name"); err != nil {
		return err
	}
	if in.Phone, err = p.line("Phone number (optional)"); err != nil {
		return err
	}
	if in.Password, in.PasswordConfirmation, err = p.newPassword(); err != nil {
		return err
	}

	res, err := a.lifecycle.Register(ctx, in)
	if err != nil {
		return err
	}
	if !res.OK() {
		a.printErrors(res.Errors)
		return errors.New("user could not be created")
	}

	fmt.Fprintf(a.out, "registered %s (%s), activation pending\n", res.User.Email, res.User.ID)
	return nil
}

func (a *app) activate(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: accountd activate <code>")
	}
	user, err := a.lifecycle.Activate(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "activated %s\n", user.Email)
	return nil
}

func (a *app) forgot(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: accountd forgot <email>")
	}
	user, err := a.lifecycle.RequestPasswordReset(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "reset link sent to %s\n", user.Email)
	return nil
}

func (a *app) reset(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: accountd reset <key>")
	}

	holder, err := a.lifecycle.Tokens().Resolve(ctx, a.repo.Users(), args[0], account.ScopePasswordReset)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "resetting password for %s\n", holder.Email)

	p := newPrompter(a.in, a.out)
	password, confirmation, err := p.newPassword()
	if err != nil {
		return err
	}

	res, err := a.lifecycle.ResetPassword(ctx, args[0], account.PasswordChange{
		Password:             password,
		PasswordConfirmation: confirmation,
	})
	if err != nil {
		return err
	}
	if !res.OK() {
		a.printErrors(res.Errors)
		return errors.New("password not changed")
	}

	fmt.Fprintf(a.out, "password changed for %s\n", res.User.Email)
	return nil
}

func (a *app) pending(ctx context.Context) error {
	records, err := a.repo.PendingNotifications(ctx)
	if err != nil {
		return err
	}
	for _, n := range records {
		created := ""
		if n.CreatedAt != nil {
			created = n.CreatedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(a.out, "%s\t%s\t%s\t%s\n", n.ID, n.Kind, n.Email, created)
	}
	fmt.Fprintf(a.out, "%d pending\n", len(records))
	return nil
}

func (a *app) relay(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("relay", flag.ContinueOnError)
	fs.SetOutput(a.out)
	interval := fs.Duration("interval", 30*time.Second, "time between redelivery runs")
	addr := fs.String("addr", ":9090", "address serving /metrics and /healthz, empty to disable")
	once := fs.Bool("once", false, "run a single redelivery and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *once {
		return a.redeliver(ctx)
	}

	if *addr != "" {
		srv := newStatusServer(*addr, a)
		go func() {
			if err := srv.run(ctx); err != nil {
				a.logger.Error("status server: %v", err)
			}
		}()
	}

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for {
		if err := a.redeliver(ctx); err != nil {
			a.logger.Error("redeliver: %v", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (a *app) redeliver(ctx context.Context) error {
	delivered, err := a.repo.Redeliver(ctx)
	if err != nil {
		return err
	}
	a.logger.Info("redelivered %d notifications", delivered)
	fmt.Fprintf(a.out, "%d delivered\n", delivered)
	return nil
}

func (a *app) session(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: accountd session <id>")
	}
	client, err := a.sessions(ctx)
	if err != nil {
		return err
	}

	store := account.NewRedisSession(client, a.cfg.Redis, args[0])
	binding, ok, err := store.CurrentUser(ctx)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(a.out, "anonymous")
		return nil
	}

	user, err := account.NewSessionGuard(store, a.lifecycle, account.WithGuardTokens(a.lifecycle.Tokens())).CurrentUser(ctx)
	if err != nil {
		return err
	}
	if user == nil {
		fmt.Fprintln(a.out, "anonymous (stale binding dropped)")
		return nil
	}
	fmt.Fprintf(a.out, "%s\t%s\t%s\n", user.ID, user.Email, binding.Kind)
	return nil
}

func (a *app) printErrors(errs account.FieldErrors) {
	for _, field := range errs.Fields() {
		fmt.Fprintf(a.out, "  %s: %s\n", field, strings.Join(errs[field], ", "))
	}
}
