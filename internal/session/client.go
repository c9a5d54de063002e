// Package session serves one progress session per websocket connection.
// Each connection behaves like one browser tab: it owns its own cache,
// identity, debounced scheduler and sync orchestrator.
package session

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/Finding-Finance-Association/website-sub000/internal/debounce"
	"github.com/Finding-Finance-Association/website-sub000/internal/identity"
	"github.com/Finding-Finance-Association/website-sub000/internal/progress"
	"github.com/Finding-Finance-Association/website-sub000/internal/syncer"
)

// Catalog answers course metadata questions.
type Catalog interface {
	TotalModules(courseID string) int
	HasQuiz(courseID string, module int) bool
}

// StorageFactory opens the local progress storage of a client.
type StorageFactory func(clientID string) (progress.Storage, error)

// Config holds dependencies shared by every session.
type Config struct {
	Gateway      *progress.Gateway
	Catalog      Catalog
	Storage      StorageFactory
	ToggleDelay  time.Duration
	InputDelay   time.Duration
	FlushTimeout time.Duration
	Metrics      *syncer.Metrics
	Events       syncer.EventLogger
	Clock        debounce.Clock // defaults to debounce.RealClock
	Origins      []string       // websocket origin patterns
}

var (
	errUnknownCourse = errors.New("unknown course")
	errNoQuiz        = errors.New("active module has no quiz")
)

// Client is the state of one connected session.
type Client struct {
	id       string
	catalog  Catalog
	cache    *progress.Cache
	identity *identity.Session
	orch     *syncer.Orchestrator
}

// NewClient restores the client's local progress and starts syncing.
func NewClient(ctx context.Context, cfg Config, clientID string) (*Client, error) {
	clock := cfg.Clock
	if clock == nil {
		clock = debounce.RealClock{}
	}

	var storage progress.Storage
	if cfg.Storage != nil {
		s, err := cfg.Storage(clientID)
		if err != nil {
			return nil, fmt.Errorf("opening local storage for %s: %w", clientID, err)
		}
		storage = s
	}

	cache := progress.NewCache(progress.CacheConfig{Storage: storage, Now: clock.Now})
	cache.Load(ctx)

	ident := identity.NewSession()
	sched := syncer.NewScheduler(syncer.SchedulerConfig{
		Cache:       cache,
		Gateway:     cfg.Gateway,
		Identity:    ident,
		Clock:       clock,
		ToggleDelay: cfg.ToggleDelay,
		InputDelay:  cfg.InputDelay,
		Metrics:     cfg.Metrics,
		Events:      cfg.Events,
	})
	cache.SetScheduler(sched)

	orch := syncer.NewOrchestrator(syncer.Config{
		Cache:        cache,
		Gateway:      cfg.Gateway,
		Identity:     ident,
		Scheduler:    sched,
		FlushTimeout: cfg.FlushTimeout,
		Metrics:      cfg.Metrics,
		Events:       cfg.Events,
	})
	orch.Start(ctx)

	return &Client{
		id:       clientID,
		catalog:  cfg.Catalog,
		cache:    cache,
		identity: ident,
		orch:     orch,
	}, nil
}

// HandleMessage decodes and runs one raw command.
func (c *Client) HandleMessage(ctx context.Context, data []byte) Response {
	cmd, err := DecodeCommand(data)
	if err != nil {
		return errorResponse("", err)
	}
	return c.Handle(ctx, cmd)
}

// Handle runs one decoded command.
func (c *Client) Handle(ctx context.Context, cmd Command) Response {
	switch cmd.Type {
	case CmdSignIn:
		c.identity.SignIn(cmd.UserID)
		return c.identityResponse(cmd.ID)

	case CmdSignOut:
		c.identity.SignOut()
		return c.identityResponse(cmd.ID)

	case CmdClearCourse:
		c.cache.ClearCourseProgress(cmd.CourseID)
		return Response{ID: cmd.ID, Type: RespCleared, Progress: c.view(cmd.CourseID)}
	}

	total := c.catalog.TotalModules(cmd.CourseID)
	if total <= 0 {
		return errorResponse(cmd.ID, fmt.Errorf("%w: %s", errUnknownCourse, cmd.CourseID))
	}

	switch cmd.Type {
	case CmdOpenCourse:
		if state := c.identity.Current(); state.LoggedIn() {
			// Read failures are logged by the orchestrator; the local view
			// is still valid.
			_ = c.orch.Pull(ctx, state.UserID, cmd.CourseID)
		}

	case CmdSetActiveModule:
		if err := checkModule(cmd.Module, total); err != nil {
			return errorResponse(cmd.ID, err)
		}
		c.cache.SetActiveModule(cmd.CourseID, cmd.Module)

	case CmdSetActiveTab:
		tab, err := progress.ParseTab(cmd.Tab)
		if err != nil {
			return errorResponse(cmd.ID, err)
		}
		if tab == progress.TabQuiz && !c.catalog.HasQuiz(cmd.CourseID, c.cache.ActiveModule(cmd.CourseID)) {
			return errorResponse(cmd.ID, errNoQuiz)
		}
		c.cache.SetActiveTab(cmd.CourseID, tab)

	case CmdToggleModule:
		if err := checkModule(cmd.Module, total); err != nil {
			return errorResponse(cmd.ID, err)
		}
		c.cache.ToggleModuleCompletion(cmd.CourseID, cmd.Module)

	case CmdSetUserInput:
		c.cache.SetUserInput(cmd.CourseID, cmd.BlockID, cmd.Text)

	case CmdGetProgress:

	default:
		return errorResponse(cmd.ID, fmt.Errorf("unsupported command %q", cmd.Type))
	}

	return Response{ID: cmd.ID, Type: RespProgress, Progress: c.view(cmd.CourseID)}
}

// Close tears the session down, flushing progress for a signed-in user.
func (c *Client) Close(ctx context.Context) error {
	return c.orch.Close(ctx)
}

func (c *Client) identityResponse(id string) Response {
	state := c.identity.Current()
	return Response{
		ID:       id,
		Type:     RespIdentity,
		Identity: &IdentityView{UserID: state.UserID, LoggedIn: state.LoggedIn()},
	}
}

func (c *Client) view(courseID string) *ProgressView {
	total := c.catalog.TotalModules(courseID)
	v := &ProgressView{
		CourseID:         courseID,
		CompletedModules: []int{},
		ActiveTab:        progress.TabLesson,
		UserInputs:       map[string]string{},
		TotalModules:     total,
	}
	rec, ok := c.cache.Snapshot(courseID)
	if !ok {
		return v
	}
	v.CompletedModules = rec.CompletedModules.Sorted()
	v.ActiveModule = rec.ActiveModule
	v.ActiveTab = rec.ActiveTab
	v.UserInputs = maps.Clone(rec.UserInputs)
	if v.UserInputs == nil {
		v.UserInputs = map[string]string{}
	}
	v.Percentage = progress.Percentage(rec.CompletedModules.Len(), total)
	v.LastUpdated = rec.LastUpdated
	return v
}

func checkModule(index, total int) error {
	if index < 0 || index >= total {
		return fmt.Errorf("module %d out of range [0, %d)", index, total)
	}
	return nil
}
