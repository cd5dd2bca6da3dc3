package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	stdsync "sync"
	"time"

	"davsync/davclient"
	"davsync/store"
)

// AccountState is the externally visible phase of an account's sync.
// Every pass settles back in idle, successful or not; the cause of a
// failed pass is kept for LastError.
type AccountState string

const (
	StateIdle        AccountState = "idle"
	StateDiscovering AccountState = "discovering"
	StatePulling     AccountState = "pulling"
	StatePushing     AccountState = "pushing"
)

type discoverFunc func(ctx context.Context, location, username, password string, cfg *davclient.Config) (*davclient.Discovery, error)

type clientFactory func(account *store.Account, password, calendarURL string, logger *slog.Logger) (davclient.DAVClient, error)

type inflightRun struct {
	done    chan struct{}
	result  *SyncResult
	err     error
	waiters int
}

// Orchestrator coordinates discovery, pull and push per account.
// Concurrent RunSync calls for the same account coalesce onto the
// already running pass.
type Orchestrator struct {
	store         store.Store
	creds         store.CredentialStore
	engine        *Engine
	logger        *slog.Logger
	httpClient    *http.Client
	allowInsecure bool

	// Injection points for tests.
	discover  discoverFunc
	newClient clientFactory

	mu       stdsync.Mutex
	states   map[int64]AccountState
	inflight map[int64]*inflightRun
	lastErr  map[int64]error
}

// OrchestratorConfig configures NewOrchestrator. Store, Credentials and
// Engine are required.
type OrchestratorConfig struct {
	Store       store.Store
	Credentials store.CredentialStore
	Engine      *Engine
	Logger      *slog.Logger
	// HTTPClient, when set, is used for discovery. Object operations
	// build their own authenticated client per account.
	HTTPClient    *http.Client
	AllowInsecure bool
}

func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		store:         cfg.Store,
		creds:         cfg.Credentials,
		engine:        cfg.Engine,
		logger:        logger,
		httpClient:    cfg.HTTPClient,
		allowInsecure: cfg.AllowInsecure,
		states:        make(map[int64]AccountState),
		inflight:      make(map[int64]*inflightRun),
		lastErr:       make(map[int64]error),
	}
	o.discover = davclient.DiscoverWithConfig
	o.newClient = func(account *store.Account, password, calendarURL string, log *slog.Logger) (davclient.DAVClient, error) {
		baseURL, _, err := davclient.NormalizeServerURL(account.BaseURL, o.allowInsecure)
		if err != nil {
			return nil, err
		}
		return davclient.NewDAVClientForAccount(baseURL, account.Username, password, calendarURL, log)
	}
	return o
}

// State reports the account's current sync phase.
func (o *Orchestrator) State(accountID int64) AccountState {
	o.mu.Lock()
	defer o.mu.Unlock()
	if s, ok := o.states[accountID]; ok {
		return s
	}
	return StateIdle
}

func (o *Orchestrator) setState(accountID int64, s AccountState) {
	o.mu.Lock()
	o.states[accountID] = s
	o.mu.Unlock()
}

// LastError returns the error that ended the account's most recent
// pass, or nil when it succeeded.
func (o *Orchestrator) LastError(accountID int64) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastErr[accountID]
}

// Verification is the outcome of a successful credential check.
type Verification struct {
	PrincipalURL string
	HomeSetURL   string
	// Calendars is how many collections the home set advertises.
	Calendars int
	// Warning is set when the TLS identity could not be verified and
	// AllowInsecure let the connection proceed anyway.
	Warning string
}

// VerifyCredentials runs a discovery against the server without
// persisting anything.
func (o *Orchestrator) VerifyCredentials(ctx context.Context, location, username, password string) (*Verification, error) {
	disc, err := o.discover(ctx, location, username, password, &davclient.Config{
		Client:        o.httpClient,
		Logger:        o.logger,
		AllowInsecure: o.allowInsecure,
	})
	if err != nil {
		return nil, err
	}
	return &Verification{
		PrincipalURL: disc.PrincipalURL,
		HomeSetURL:   disc.HomeSetURL,
		Calendars:    len(disc.Calendars),
		Warning:      disc.Warning,
	}, nil
}

// AddAccount verifies the credentials, persists the account with its
// discovered calendars and stores the password in the credential store.
func (o *Orchestrator) AddAccount(ctx context.Context, location, username, password string, makeDefault bool) (*store.Account, error) {
	disc, err := o.discover(ctx, location, username, password, &davclient.Config{
		Client:        o.httpClient,
		Logger:        o.logger,
		AllowInsecure: o.allowInsecure,
	})
	if err != nil {
		return nil, err
	}

	account := &store.Account{
		BaseURL:      location,
		Username:     username,
		PrincipalURL: disc.PrincipalURL,
		HomeSetURL:   disc.HomeSetURL,
		Default:      makeDefault,
	}
	if err := o.store.UpsertAccount(ctx, account); err != nil {
		return nil, err
	}
	if err := o.creds.SaveCredentials(ctx, account.BaseURL, account.Username, password); err != nil {
		return nil, err
	}
	if err := o.mergeDiscovery(ctx, account, disc); err != nil {
		return nil, err
	}
	return account, nil
}

// RemoveAccount deletes the account, its local data and its stored
// credentials.
func (o *Orchestrator) RemoveAccount(ctx context.Context, accountID int64) error {
	account, err := o.store.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if err := o.store.DeleteAccount(ctx, accountID); err != nil {
		return err
	}
	return o.creds.DeleteCredentials(ctx, account.BaseURL, account.Username)
}

// RunSync performs one full pass for the account: discovery when
// needed (or forced), then pull and push for every calendar. If a pass
// is already running for the account, the call waits for it and
// returns that pass's result.
func (o *Orchestrator) RunSync(ctx context.Context, accountID int64, force bool) (*SyncResult, error) {
	o.mu.Lock()
	if run, ok := o.inflight[accountID]; ok {
		run.waiters++
		o.mu.Unlock()
		select {
		case <-run.done:
			return run.result, run.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	run := &inflightRun{done: make(chan struct{})}
	o.inflight[accountID] = run
	o.mu.Unlock()

	run.result, run.err = o.syncAccount(ctx, accountID, force)

	o.mu.Lock()
	delete(o.inflight, accountID)
	o.states[accountID] = StateIdle
	if run.err != nil {
		o.lastErr[accountID] = run.err
	} else {
		delete(o.lastErr, accountID)
	}
	o.mu.Unlock()
	close(run.done)

	return run.result, run.err
}

// RunSyncAsync starts a pass in the background, reporting the outcome
// through the returned channel.
func (o *Orchestrator) RunSyncAsync(ctx context.Context, accountID int64, force bool) <-chan *SyncResult {
	out := make(chan *SyncResult, 1)
	go func() {
		res, err := o.RunSync(ctx, accountID, force)
		if res == nil {
			res = &SyncResult{AccountID: accountID}
		}
		if err != nil {
			res.Failures = append(res.Failures, err.Error())
		}
		out <- res
	}()
	return out
}

func (o *Orchestrator) syncAccount(ctx context.Context, accountID int64, force bool) (*SyncResult, error) {
	started := time.Now()
	log := o.logger.With("account", accountID)

	account, err := o.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	password, err := o.creds.GetPassword(ctx, account.BaseURL, account.Username)
	if err != nil {
		return nil, fmt.Errorf("credentials for %s: %w", account.Username, err)
	}

	if account.HomeSetURL == "" || force {
		o.setState(accountID, StateDiscovering)
		disc, err := o.discover(ctx, account.BaseURL, account.Username, password, &davclient.Config{
			Client:        o.httpClient,
			Logger:        o.logger,
			AllowInsecure: o.allowInsecure,
		})
		if err != nil {
			return nil, err
		}
		account.PrincipalURL = disc.PrincipalURL
		account.HomeSetURL = disc.HomeSetURL
		if err := o.store.UpsertAccount(ctx, account); err != nil {
			return nil, err
		}
		if err := o.mergeDiscovery(ctx, account, disc); err != nil {
			return nil, err
		}
	}

	calendars, err := o.store.ListCalendars(ctx, accountID)
	if err != nil {
		return nil, err
	}

	result := &SyncResult{AccountID: accountID}
	for _, cal := range calendars {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		client, err := o.newClient(account, password, cal.URL, log)
		if err != nil {
			return result, err
		}

		// Pull strictly before push so uploads see fresh etags.
		o.setState(accountID, StatePulling)
		pullRes, err := o.engine.PullCalendar(ctx, client, cal)
		if err != nil {
			log.Error("calendar pull failed", "calendar", cal.URL, "error", err)
			result.Failures = append(result.Failures, fmt.Sprintf("%s: %v", cal.Name, err))
			if result.FirstError == nil {
				result.FirstError = err
			}
			continue
		}
		result.merge(pullRes)

		if cal.ReadOnly {
			continue
		}
		o.setState(accountID, StatePushing)
		pushRes, err := o.engine.DrainCalendar(ctx, client, cal)
		if pushRes != nil {
			result.merge(pushRes)
		}
		if err != nil {
			log.Error("calendar push interrupted", "calendar", cal.URL, "error", err)
			result.Failures = append(result.Failures, fmt.Sprintf("%s: %v", cal.Name, err))
			if result.FirstError == nil {
				result.FirstError = err
			}
		}
	}

	result.Duration = time.Since(started)
	log.Info("sync pass finished",
		"pulled", result.Pulled,
		"pushed", result.Pushed,
		"conflicts", result.Conflicts,
		"failed", result.Failed,
		"duration", result.Duration)
	return result, nil
}

// mergeDiscovery folds a discovery result into the stored calendar set.
func (o *Orchestrator) mergeDiscovery(ctx context.Context, account *store.Account, disc *davclient.Discovery) error {
	discovered := make([]*store.Calendar, 0, len(disc.Calendars))
	for _, info := range disc.Calendars {
		discovered = append(discovered, &store.Calendar{
			URL:      info.URI,
			Name:     info.Name,
			Color:    info.Color.OrElse(""),
			ReadOnly: info.ReadOnly,
		})
	}
	return o.store.MergeDiscoveredCalendars(ctx, account.ID, discovered)
}

// CreateEvent, UpdateEvent, DeleteEvent and ResolveConflict are the
// mutation surface for the UI layer. They only touch the local store
// and queue; nothing reaches the network until the next sync pass.

func (o *Orchestrator) CreateEvent(ctx context.Context, calendarID int64, payload []byte) (*store.Event, error) {
	return o.engine.EnqueueCreate(ctx, calendarID, payload)
}

func (o *Orchestrator) UpdateEvent(ctx context.Context, eventID int64, payload []byte) error {
	return o.engine.EnqueueUpdate(ctx, eventID, payload)
}

func (o *Orchestrator) DeleteEvent(ctx context.Context, eventID int64) error {
	return o.engine.EnqueueDelete(ctx, eventID)
}

func (o *Orchestrator) ResolveConflict(ctx context.Context, eventID int64, decision Decision) error {
	return o.engine.ResolveConflict(ctx, eventID, decision)
}

// ErrNoAccounts is returned by SyncAll when nothing is configured.
var ErrNoAccounts = errors.New("sync: no accounts configured")

// SyncAll runs one pass for every stored account. A failing account
// does not stop the others; its error lands in the result's Failures.
func (o *Orchestrator) SyncAll(ctx context.Context, force bool) ([]*SyncResult, error) {
	accounts, err := o.store.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, ErrNoAccounts
	}

	results := make([]*SyncResult, 0, len(accounts))
	for _, account := range accounts {
		res, err := o.RunSync(ctx, account.ID, force)
		if res == nil {
			res = &SyncResult{AccountID: account.ID}
		}
		if err != nil {
			res.Failures = append(res.Failures, err.Error())
		}
		results = append(results, res)
	}
	return results, nil
}
