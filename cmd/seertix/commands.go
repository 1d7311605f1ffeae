package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"seertix/pkg/apperr"
	"seertix/pkg/config"
	"seertix/pkg/models"
	"seertix/pkg/render"
	"seertix/pkg/thread"
)

const usage = `usage: seertix [flags] <command> [args]

commands:
  register <name> <email> <password>
  login <email> <password>
  logout
  profile
  user <id>
  advices
  post <text>
  random
  thread [-once] <adviceID>
  comment [-reply parentID] <adviceID> <text>
  edit <adviceID> <commentID> <text>
  delete <adviceID> <commentID>
  like <adviceID> <commentID>

thread refreshes live through push.transport = "kafka"; with the default
in-memory push it refetches every push.pollInterval instead.

flags:`

var errUsage = errors.New("invalid command line")

func usageError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errUsage, fmt.Sprintf(format, args...))
}

// run executes one command.
func (a *app) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}
	name, args := args[0], args[1:]

	commands := map[string]func(context.Context, []string) error{
		"register": a.register,
		"login":    a.login,
		"logout":   a.logout,
		"profile":  a.profile,
		"user":     a.user,
		"advices":  a.advices,
		"post":     a.post,
		"random":   a.random,
		"thread":   a.thread,
		"comment":  a.comment,
		"edit":     a.edit,
		"delete":   a.remove,
		"like":     a.like,
	}
	cmd, ok := commands[name]
	if !ok {
		return usageError("unknown command %q", name)
	}

	err := cmd(ctx, args)
	// A 401 while logging in means bad credentials, not a lost session.
	if apperr.IsUnauthorized(err) && name != "login" && name != "register" {
		a.onUnauthorized(err)
	}
	return err
}

func wantArgs(args []string, n int, form string) error {
	if len(args) < n {
		return usageError("usage: %s", form)
	}
	return nil
}

func (a *app) register(ctx context.Context, args []string) error {
	if err := wantArgs(args, 3, "register <name> <email> <password>"); err != nil {
		return err
	}
	reg := models.Registration{Name: args[0], Email: args[1], Password: args[2]}
	if err := a.api.Register(ctx, reg); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Account created.")
	return a.login(ctx, args[1:])
}

func (a *app) login(ctx context.Context, args []string) error {
	if err := wantArgs(args, 2, "login <email> <password>"); err != nil {
		return err
	}
	token, err := a.api.Login(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	if err := a.session.Login(ctx, token); err != nil {
		return err
	}

	claims := a.session.Claims()
	who := claims.Name
	if who == "" {
		who = "user " + claims.UserID.String()
	}
	fmt.Fprintf(a.out, "Logged in as %s.\n", who)
	return nil
}

func (a *app) logout(ctx context.Context, _ []string) error {
	if err := a.session.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Logged out.")
	return nil
}

func (a *app) profile(ctx context.Context, _ []string) error {
	p, err := a.api.Profile(ctx)
	if err != nil {
		return err
	}
	return render.Profile(a.out, p)
}

func (a *app) user(ctx context.Context, args []string) error {
	if err := wantArgs(args, 1, "user <id>"); err != nil {
		return err
	}
	u, list, err := a.api.UserAdvices(ctx, models.ID(args[0]))
	if err != nil {
		return err
	}
	return render.User(a.out, u, list)
}

func (a *app) advices(ctx context.Context, _ []string) error {
	list, err := a.api.Advices(ctx)
	if err != nil {
		return err
	}
	return render.Advices(a.out, list)
}

func (a *app) post(ctx context.Context, args []string) error {
	if err := wantArgs(args, 1, "post <text>"); err != nil {
		return err
	}
	created, err := a.exchange.Submit(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Advice #%s shared. Run `seertix random` to receive one in return.\n", created.Advice.ID)
	return nil
}

func (a *app) random(ctx context.Context, _ []string) error {
	adv, err := a.exchange.Draw(ctx)
	if err != nil {
		return err
	}
	return render.Advice(a.out, adv)
}

func (a *app) thread(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("thread", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	once := fs.Bool("once", false, "print the discussion and exit")
	if err := fs.Parse(args); err != nil {
		return usageError("%v", err)
	}
	if err := wantArgs(fs.Args(), 1, "thread [-once] <adviceID>"); err != nil {
		return err
	}
	adviceID := models.ID(fs.Arg(0))

	adv, err := a.api.Advice(ctx, adviceID)
	if err != nil {
		return err
	}

	s := a.synchronizer()
	defer s.Deactivate()
	if err := s.Activate(ctx, adviceID, a.session); err != nil {
		return err
	}
	// The activation itself is already rendered below.
	select {
	case <-s.Changes():
	default:
	}

	// In-memory push never crosses processes, so a watched discussion is refetched instead.
	var poll <-chan time.Time
	if a.cfg.Push.Transport == config.PushMemory && a.cfg.Push.PollInterval.Duration > 0 && !*once {
		ticker := time.NewTicker(a.cfg.Push.PollInterval.Duration)
		defer ticker.Stop()
		poll = ticker.C
	}

	var (
		shown    []models.Comment
		shownErr error
	)
	for {
		shown, shownErr = s.Comments(), s.Err()
		if err := render.Thread(a.out, adv, s.Tree(), a.renderOptions()); err != nil {
			return err
		}
		if shownErr != nil {
			fmt.Fprintf(a.out, "(refresh failed: %s)\n", apperr.UserMessage(shownErr))
		}
		if *once {
			return nil
		}

		for changed := false; !changed; {
			select {
			case <-ctx.Done():
				return nil
			case <-poll:
				if err := s.Refetch(ctx); err != nil && ctx.Err() != nil {
					return nil
				}
				// A refetch always signals a change; only a different discussion is shown again.
				select {
				case <-s.Changes():
				default:
				}
				changed = !slices.EqualFunc(shown, s.Comments(), sameComment) || !sameErr(shownErr, s.Err())
			case <-s.Changes():
				changed = true
			}
		}
		log.Debugf("[seertix][advice_%s] discussion changed", adviceID)
		fmt.Fprintln(a.out, "\n----")
	}
}

func sameComment(x, y models.Comment) bool {
	xt, yt := x.CreatedAt, y.CreatedAt
	x.CreatedAt, y.CreatedAt = time.Time{}, time.Time{}
	return x == y && xt.Equal(yt)
}

func sameErr(a, b error) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Error() == b.Error()
}

// withThread runs fn against the activated discussion of adviceID.
func (a *app) withThread(ctx context.Context, adviceID string, fn func(*thread.Synchronizer) error) error {
	s := a.synchronizer()
	defer s.Deactivate()
	if err := s.Activate(ctx, models.ID(adviceID), a.session); err != nil {
		return err
	}
	return fn(s)
}

func (a *app) comment(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("comment", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	reply := fs.String("reply", "", "id of the comment to reply to")
	if err := fs.Parse(args); err != nil {
		return usageError("%v", err)
	}
	if err := wantArgs(fs.Args(), 2, "comment [-reply parentID] <adviceID> <text>"); err != nil {
		return err
	}

	return a.withThread(ctx, fs.Arg(0), func(s *thread.Synchronizer) error {
		c, err := s.Submit(ctx, strings.Join(fs.Args()[1:], " "), models.ID(*reply))
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Comment #%s posted.\n", c.ID)
		return nil
	})
}

func (a *app) edit(ctx context.Context, args []string) error {
	if err := wantArgs(args, 3, "edit <adviceID> <commentID> <text>"); err != nil {
		return err
	}
	return a.withThread(ctx, args[0], func(s *thread.Synchronizer) error {
		c, err := s.Edit(ctx, models.ID(args[1]), strings.Join(args[2:], " "))
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Comment #%s updated.\n", c.ID)
		return nil
	})
}

func (a *app) remove(ctx context.Context, args []string) error {
	if err := wantArgs(args, 2, "delete <adviceID> <commentID>"); err != nil {
		return err
	}
	return a.withThread(ctx, args[0], func(s *thread.Synchronizer) error {
		if err := s.Remove(ctx, models.ID(args[1])); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Comment #%s deleted.\n", args[1])
		return nil
	})
}

func (a *app) like(ctx context.Context, args []string) error {
	if err := wantArgs(args, 2, "like <adviceID> <commentID>"); err != nil {
		return err
	}
	id := models.ID(args[1])
	return a.withThread(ctx, args[0], func(s *thread.Synchronizer) error {
		if err := s.ToggleLike(ctx, id); err != nil {
			return err
		}
		for _, c := range s.Comments() {
			if c.ID != id {
				continue
			}
			state := "Unliked"
			if c.LikedByViewer {
				state = "Liked"
			}
			fmt.Fprintf(a.out, "%s comment #%s, %d like(s).\n", state, id, c.LikeCount)
		}
		return nil
	})
}
