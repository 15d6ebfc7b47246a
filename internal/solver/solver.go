// internal/solver/solver.go

// Package solver implements the v1 command dispatcher: it validates incoming
// commands, owns the browser lifecycle for each request and maps every
// failure onto the protocol's message surface.
package solver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xkilldash9x/unflare/api/schemas"
	"github.com/xkilldash9x/unflare/internal/browser"
	"github.com/xkilldash9x/unflare/internal/challenge"
	"github.com/xkilldash9x/unflare/internal/config"
	"github.com/xkilldash9x/unflare/internal/session"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Protocol messages. Clients match on these strings, so they are frozen.
const (
	msgSessionCreated  = "Session created successfully."
	msgSessionExists   = "Session already exists."
	msgSessionRemoved  = "The session has been removed."
	msgSessionMissing  = "The session doesn't exist."
	msgChallengeSolved = "Challenge solved!"
	msgNoChallenge     = "Challenge not detected!"

	msgBlocked = "Cloudflare has blocked this request. Probably your IP is banned for this site, check in your web browser."
)

// Solver executes v1 commands against the session store and the browser
// layer. A weighted semaphore bounds how many browsers resolve challenges at
// once; session bookkeeping commands are never throttled.
type Solver struct {
	store   *session.Store
	factory session.Factory
	cfg     config.SolverConfig
	logger  *zap.Logger
	sem     *semaphore.Weighted

	// LogHTML forwards page dumps to the extractor. Off by default.
	LogHTML bool

	// Seams for tests; production wiring is installed by New.
	classify func(ctx context.Context, p challenge.Probe) (challenge.Detection, error)
	await    func(ctx context.Context, drv browser.Driver, url string) error
	extract  func(ctx context.Context, drv browser.Driver, cookiesOnly bool) (*schemas.Solution, error)
}

// New builds a solver with production challenge wiring.
func New(store *session.Store, factory session.Factory, cfg config.SolverConfig, logger *zap.Logger) *Solver {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("solver")

	s := &Solver{
		store:   store,
		factory: factory,
		cfg:     cfg,
		logger:  logger,
		sem:     semaphore.NewWeighted(cfg.MaxConcurrency),
	}

	s.classify = challenge.Classify
	s.await = func(ctx context.Context, drv browser.Driver, url string) error {
		var rec challenge.Recovery = challenge.NoopRecovery{}
		if cfg.RecoveryEnabled {
			rec = challenge.NewPivotClick(logger)
		}
		return challenge.NewWaiter(drv, rec, logger).Await(ctx, url)
	}
	s.extract = func(ctx context.Context, drv browser.Driver, cookiesOnly bool) (*schemas.Solution, error) {
		e := &challenge.Extractor{
			Logger:            logger,
			FallbackUserAgent: cfg.FallbackUserAgent,
			LogHTML:           s.LogHTML,
		}
		return e.Extract(ctx, drv, cookiesOnly)
	}
	return s
}

// Handle executes one command and always returns a well-formed envelope.
// Timestamps and the version stamp are the transport layer's job.
func (s *Solver) Handle(ctx context.Context, req *schemas.V1Request) *schemas.V1Response {
	for _, field := range req.DeprecatedFields() {
		s.logger.Warn("Request parameter was removed in v2 and is ignored.", zap.String("param", field))
	}

	res, err := s.dispatch(ctx, req)
	if err != nil {
		s.logger.Error("Command failed.", zap.String("cmd", req.Cmd), zap.Error(err))
		return &schemas.V1Response{
			Status:  schemas.StatusError,
			Message: "Error: " + err.Error(),
		}
	}
	return res
}

func (s *Solver) dispatch(ctx context.Context, req *schemas.V1Request) (*schemas.V1Response, error) {
	switch req.Cmd {
	case "":
		return nil, errors.New("Request parameter 'cmd' is mandatory.")

	case schemas.CmdSessionsCreate:
		sess, fresh, err := s.store.Create(ctx, req.Session, req.Proxy)
		if err != nil {
			return nil, err
		}
		msg := msgSessionCreated
		if !fresh {
			msg = msgSessionExists
		}
		return &schemas.V1Response{
			Status:  schemas.StatusOK,
			Message: msg,
			Session: sess.ID,
		}, nil

	case schemas.CmdSessionsList:
		return &schemas.V1Response{
			Status:   schemas.StatusOK,
			Sessions: s.store.List(),
		}, nil

	case schemas.CmdSessionsDestroy:
		if req.Session == "" || !s.store.Destroy(ctx, req.Session) {
			return nil, errors.New(msgSessionMissing)
		}
		return &schemas.V1Response{
			Status:  schemas.StatusOK,
			Message: msgSessionRemoved,
		}, nil

	case schemas.CmdRequestGet:
		if req.URL == "" {
			return nil, fmt.Errorf("Request parameter 'url' is mandatory in '%s' command.", req.Cmd)
		}
		if req.PostData != "" {
			return nil, errors.New("Cannot use 'postBody' when sending a GET request.")
		}
		return s.resolve(ctx, req, false)

	case schemas.CmdRequestPost:
		if req.URL == "" {
			return nil, fmt.Errorf("Request parameter 'url' is mandatory in '%s' command.", req.Cmd)
		}
		if req.PostData == "" {
			return nil, errors.New("Request parameter 'postData' is mandatory in 'request.post' command.")
		}
		return s.resolve(ctx, req, true)

	default:
		return nil, fmt.Errorf("Request parameter 'cmd' = '%s' is invalid.", req.Cmd)
	}
}

// maxTimeout returns the per-request resolution deadline. Absent or
// non-positive values fall back to the configured default.
func (s *Solver) maxTimeout(req *schemas.V1Request) time.Duration {
	if req.MaxTimeout < 1 {
		return s.cfg.DefaultMaxTimeout
	}
	return time.Duration(req.MaxTimeout) * time.Millisecond
}

// resolve runs a request.get or request.post command end to end: it acquires
// a concurrency slot, picks or creates a browser, drives the challenge to
// completion and extracts the solution.
func (s *Solver) resolve(ctx context.Context, req *schemas.V1Request, post bool) (*schemas.V1Response, error) {
	timeout := s.maxTimeout(req)

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for a browser slot: %w", err)
	}
	defer s.sem.Release(1)

	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	solution, msg, err := func() (*schemas.Solution, string, error) {
		var drv browser.Driver
		if req.Session != "" {
			sess, fresh, err := s.store.Get(rctx, req.Session, req.SessionTTL())
			if err != nil {
				return nil, "", err
			}
			if fresh {
				s.logger.Info("A used session was not found, a new one is being created.",
					zap.String("session", sess.ID))
			} else {
				s.logger.Debug("Existing session is used to perform the request.",
					zap.String("session", sess.ID))
			}
			drv = sess.Driver
		} else {
			eph, err := s.factory(rctx, req.Proxy)
			if err != nil {
				return nil, "", fmt.Errorf("starting browser: %w", err)
			}
			defer func() {
				if err := eph.Close(); err != nil {
					s.logger.Warn("Failed to close browser.", zap.Error(err))
				}
			}()
			drv = eph
		}
		return s.resolveChallenge(rctx, drv, req, post)
	}()
	if err != nil {
		if rctx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return nil, fmt.Errorf("Error solving the challenge. Timeout after %g seconds.", timeout.Seconds())
		}
		return nil, fmt.Errorf("Error solving the challenge. %s",
			strings.ReplaceAll(err.Error(), "\n", `\n`))
	}

	return &schemas.V1Response{
		Status:   schemas.StatusOK,
		Message:  msg,
		Solution: solution,
	}, nil
}

// resolveChallenge navigates, classifies the landing page and, when a
// challenge is running, outwaits it before extracting the solution.
func (s *Solver) resolveChallenge(ctx context.Context, drv browser.Driver, req *schemas.V1Request, post bool) (*schemas.Solution, string, error) {
	// Session browsers may have been created long ago; re-arm the stealth
	// hooks so the next document still gets them.
	if err := drv.ApplyInitHooks(ctx); err != nil {
		s.logger.Warn("Failed to re-apply init hooks.", zap.Error(err))
	}

	navigate := func(ctx context.Context) error {
		if post {
			return drv.NavigatePost(ctx, req.URL, req.PostData)
		}
		return drv.Navigate(ctx, req.URL)
	}

	s.logger.Info("Navigating.", zap.String("url", req.URL), zap.Bool("post", post))
	if err := navigate(ctx); err != nil {
		return nil, "", fmt.Errorf("navigating to %s: %w", req.URL, err)
	}

	// Caller-supplied cookies can only be installed once the browser is on
	// the right origin, so prime them and load the page again.
	if len(req.Cookies) > 0 {
		if err := drv.SetCookies(ctx, req.URL, req.Cookies); err != nil {
			return nil, "", fmt.Errorf("setting cookies: %w", err)
		}
		if err := navigate(ctx); err != nil {
			return nil, "", fmt.Errorf("reloading with cookies: %w", err)
		}
	}

	if err := drv.AlignTabs(ctx, req.URL); err != nil {
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		s.logger.Debug("Tab realign failed.", zap.Error(err))
	}

	det, err := s.classify(ctx, drv)
	if err != nil {
		return nil, "", fmt.Errorf("inspecting page: %w", err)
	}

	msg := msgNoChallenge
	switch det.Verdict {
	case challenge.VerdictBlocked:
		s.logger.Info("Request blocked.", zap.String("indicator", det.Indicator))
		return nil, "", errors.New(msgBlocked)

	case challenge.VerdictChallenged:
		s.logger.Info("Challenge detected.",
			zap.String("indicator", det.Indicator), zap.Bool("byTitle", det.ByTitle))
		if err := s.await(ctx, drv, req.URL); err != nil {
			return nil, "", err
		}
		s.logger.Info("Challenge cleared.")
		msg = msgChallengeSolved
	}

	solution, err := s.extract(ctx, drv, req.ReturnOnlyCookies)
	if err != nil {
		return nil, "", err
	}
	return solution, msg, nil
}
