package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"

	"seertix/pkg/advice"
	"seertix/pkg/cache"
	"seertix/pkg/client"
	"seertix/pkg/config"
	"seertix/pkg/logger"
	"seertix/pkg/push"
	"seertix/pkg/render"
	"seertix/pkg/session"
	"seertix/pkg/thread"
)

// app holds the components shared by every command.
type app struct {
	cfg    config.Config
	out    io.Writer
	errOut io.Writer

	session  *session.Session
	api      *client.Client
	exchange *advice.Exchange
	pusher   *push.Manager
	httpLog  *logger.Transport
	closers  []io.Closer

	unauthorized sync.Once
}

func newApp(ctx context.Context, cfg config.Config, out, errOut io.Writer) (*app, error) {
	a := app{cfg: cfg, out: out, errOut: errOut}

	store, err := a.sessionStore()
	if err != nil {
		return nil, err
	}
	a.session = session.New(store)
	if err := a.session.Restore(ctx); err != nil && !errors.Is(err, session.ErrNoSession) {
		log.Warnf("[seertix] previous session discarded: %v", err)
	}

	var kw logger.MessageWriter
	if len(cfg.Logs.KafkaBrokers) > 0 {
		w := &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Logs.KafkaBrokers...),
			Topic:                  cfg.Logs.KafkaTopic,
			Balancer:               &kafka.LeastBytes{},
			AllowAutoTopicCreation: true,
		}
		a.closers = append(a.closers, w)
		kw = w
	}
	a.httpLog = logger.New(cfg.ServiceName, nil, kw)

	var ch cache.Cache = cache.NewMemory()
	if len(cfg.Cache.MemcacheServers) > 0 {
		ch = cache.NewMemcache(cfg.Cache.MemcacheServers...)
	}

	a.api, err = client.New(cfg.APIURL, a.session,
		client.WithHTTPClient(&http.Client{Timeout: cfg.Timeout.Duration, Transport: a.httpLog}),
		client.WithCache(ch, cfg.Cache.TTL.Duration),
	)
	if err != nil {
		a.close()
		return nil, err
	}

	var t push.Transport
	switch cfg.Push.Transport {
	case config.PushKafka:
		t = push.NewKafka(cfg.Push.KafkaBrokers, cfg.Push.KafkaTopic)
	default:
		t = push.NewHub()
	}
	a.pusher = push.NewManager(t)
	a.exchange = advice.NewExchange(a.api, store, a.session)

	return &a, nil
}

func (a *app) sessionStore() (session.Store, error) {
	switch a.cfg.Session.Store {
	case config.StoreRedis:
		s, err := session.NewRedisStore(a.cfg.Session.RedisURL, a.cfg.ServiceName, a.cfg.Session.TTL.Duration)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s)
		return s, nil
	case config.StoreMemory:
		return session.NewMemoryStore(), nil
	default:
		return session.NewFileStore(a.cfg.Session.Path), nil
	}
}

func (a *app) synchronizer() *thread.Synchronizer {
	return thread.New(a.api, a.pusher, thread.OnUnauthorized(a.onUnauthorized))
}

func (a *app) renderOptions() render.Options {
	return render.Options{MaxDepth: a.cfg.Render.MaxDepth}
}

// onUnauthorized drops the rejected session once and tells the user how to get a new one.
func (a *app) onUnauthorized(err error) {
	a.unauthorized.Do(func() {
		log.Debugf("[seertix] request rejected: %v", err)
		if lerr := a.session.Logout(context.Background()); lerr != nil {
			log.Errorf("[seertix] failed to clear session: %v", lerr)
		}
		fmt.Fprintln(a.errOut, "You are not logged in. Run: seertix login <email> <password>")
	})
}

func (a *app) close() {
	if a.pusher != nil {
		if err := a.pusher.Close(); err != nil {
			log.Errorf("[seertix] failed to close push transport: %v", err)
		}
	}
	if a.httpLog != nil {
		a.httpLog.Flush()
	}
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			log.Errorf("[seertix] failed to close %T: %v", c, err)
		}
	}
}
