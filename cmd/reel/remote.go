package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/reelroom/reel/internal/backend/api"
	"github.com/reelroom/reel/internal/backend/realtime"
	"github.com/reelroom/reel/internal/livesync"
	"github.com/reelroom/reel/internal/logging"
	"github.com/reelroom/reel/internal/profiles"
	"github.com/reelroom/reel/internal/session"
)

// remote bundles the clients a CLI command needs to talk to a server.
type remote struct {
	api   *api.Client
	rt    *realtime.Client
	sess  livesync.Session
	user  string
	names *profiles.Resolver
	logs  *logging.Logs
}

// dial connects to the configured server. With requireLogin the saved
// session must exist; otherwise an anonymous read-only session is used.
func dial(requireLogin bool) (*remote, error) {
	logs, err := openLogs(logging.Options{
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		Verbose:    cfg.Log.Verbose,
		Quiet:      !cfg.Log.Verbose,
	})
	if err != nil {
		return nil, err
	}

	r, err := connect(logs, requireLogin)
	if err != nil {
		logs.Close()
		return nil, err
	}
	return r, nil
}

// openLogs is replaced in tests.
var openLogs = logging.Open

func connect(logs *logging.Logs, requireLogin bool) (*remote, error) {
	r := &remote{
		api:  api.NewClient(cfg.Server.URL),
		sess: session.Static(""),
		logs: logs,
	}

	token := ""
	saved, err := session.Load(cfg.SessionPath())
	switch {
	case err == nil && saved.Expired():
		if requireLogin {
			return nil, fmt.Errorf("session for %s expired, run 'reel login'", saved.UserID())
		}
	case err == nil:
		r.sess = saved
		r.user = saved.UserID()
		token = saved.Token()
		r.api.SetToken(token)
	case errors.Is(err, session.ErrNoSession):
		if requireLogin {
			return nil, fmt.Errorf("%w: run 'reel login' first", livesync.ErrUnauthenticated)
		}
	default:
		return nil, err
	}

	r.rt, err = realtime.NewClient(realtime.ClientConfig{
		BaseURL: cfg.Server.URL,
		Token:   token,
		Logger:  logs.Logger("realtime"),
	})
	if err != nil {
		return nil, err
	}

	r.names = profiles.NewResolver(r.api)
	return r, nil
}

// syncer opens a synchronizer with the given page cap.
func (r *remote) syncer(limit int, onChange func(livesync.State)) (*livesync.Syncer, error) {
	return livesync.New(livesync.Deps{
		Fetcher:    r.api,
		Subscriber: r.rt,
		Writer:     r.api,
		Session:    r.sess,
	}, livesync.Config{
		Limit:    limit,
		Logger:   r.logs.Debug("livesync"),
		OnChange: onChange,
	})
}

// authors resolves the owners of st to display names.
func (r *remote) authors(ctx context.Context, st livesync.State) map[string]string {
	names, err := r.names.Resolve(ctx, st.OwnerIDs())
	if err != nil {
		r.logs.Debug("profiles").Printf("Warning: %v", err)
	}
	return names
}

func (r *remote) close() {
	_ = r.logs.Close()
}
