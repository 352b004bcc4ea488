// Package session composes the live map components of one connected client:
// the location store, the place search box, the map surface and the nearby
// panel, all sharing one store handle.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/samirrijal/civicmap/internal/adapters/liveview"
	"github.com/samirrijal/civicmap/internal/core/domain"
	"github.com/samirrijal/civicmap/internal/core/location"
	"github.com/samirrijal/civicmap/internal/core/mapsurface"
	"github.com/samirrijal/civicmap/internal/core/nearby"
	"github.com/samirrijal/civicmap/internal/core/placesearch"
	"github.com/samirrijal/civicmap/internal/core/ports"
	"github.com/samirrijal/civicmap/internal/core/usecases"
	"github.com/samirrijal/civicmap/internal/pkg/config"
	"github.com/samirrijal/civicmap/internal/pkg/debounce"
)

// Events sent by the browser.
const (
	EventHello           = "hello"
	EventSearchInput     = "search.input"
	EventSearchSelect    = "search.select"
	EventSearchDismiss   = "search.dismiss"
	EventLocationGPS     = "location.gps"
	EventLocationClear   = "location.clear"
	EventMapMoveEnd      = "map.moveend"
	EventMarkerClick     = "map.marker_click"
	EventMapUnmount      = "map.unmount"
	EventIssueVote       = "issue.vote"
	EventSolutionVote    = "solution.vote"
	EventSolutionOpen    = "solution.open"
	EventSolutionBallot  = "solution.ballot"
	EventSolutionSuggest = "solution.suggest"
	EventIssueReport     = "issue.report"
	EventCategories      = "categories.list"
	EventLanguageSet     = "language.set"
)

const (
	alertVoteFailed   = "Failed to record your vote."
	alertReportFailed = "Failed to report issue. Please try again."
)

// Deps are the collaborators shared by every session of a process.
type Deps struct {
	// Issues backs the map and the nearby panel. It should not cache
	// viewport lists, or new reports stay invisible until expiry.
	Issues     ports.IssueAPI
	Solutions  ports.SolutionAPI
	Geocoder   ports.Geocoder
	Viewpoints ports.ViewpointRepository
	Events     ports.EventPublisher
	Reports    *usecases.ReportService
	Prefs      *usecases.PreferenceService
	Config     config.SessionConfig
	// Clock drives the debounce windows; nil means the wall clock.
	Clock  debounce.Clock
	Logger *slog.Logger
}

// Session is one live client.
type Session struct {
	id       string
	clientID string
	deps     Deps
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	ch        *liveview.Channel
	host      *liveview.Host
	geo       *liveview.Geolocator
	presenter *liveview.Presenter

	store   *location.Store
	search  *placesearch.Search
	surface *mapsurface.Surface
	panel   *nearby.Panel

	mu      sync.Mutex
	ballots map[string]*usecases.Ballot
}

func newSession(parent context.Context, id, clientID string, out liveview.Transport, deps Deps) *Session {
	ctx, cancel := context.WithCancel(parent)
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("session_id", id, "client_id", clientID)
	cfg := deps.Config

	s := &Session{
		id:       id,
		clientID: clientID,
		deps:     deps,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		ballots:  make(map[string]*usecases.Ballot),
	}
	s.ch = liveview.NewChannel(out)
	s.host = liveview.NewHost(s.ch, time.Duration(cfg.ClusterPluginTimeoutMs)*time.Millisecond)
	s.geo = liveview.NewGeolocator(s.ch, cfg.GeolocateTimeout())
	s.presenter = liveview.NewPresenter(s.ch, logger)

	storeOpts := []location.Option{location.WithLogger(logger)}
	if deps.Events != nil {
		storeOpts = append(storeOpts, location.WithEvents(deps.Events))
	}
	s.store = location.NewStore(clientID, deps.Viewpoints, storeOpts...)

	s.search = placesearch.New(ctx, s.store, deps.Geocoder,
		placesearch.WithDebounce(cfg.SearchDebounce()),
		placesearch.WithMinLength(cfg.SearchMinLength),
		placesearch.WithLimit(cfg.SearchLimit),
		placesearch.WithClock(deps.Clock),
		placesearch.WithGeolocator(s.geo),
		placesearch.WithPresenter(s.presenter),
		placesearch.WithLogger(logger),
	)

	s.surface = mapsurface.New(ctx, s.host, s.store, deps.Issues, deps.Geocoder,
		mapsurface.WithConfig(mapsurface.Config{
			DefaultCenter:     domain.GeoPoint{Lat: cfg.DefaultLat, Lng: cfg.DefaultLng},
			DefaultZoom:       cfg.DefaultZoom,
			FitPaddingPx:      cfg.FitPaddingPx,
			FitMaxZoom:        cfg.FitMaxZoom,
			RecenterThreshold: cfg.RecenterThresholdDeg,
			ReverseDebounce:   cfg.ReverseDebounce(),
			HeatRadiusMeters:  cfg.HeatRadiusMeters,
			StatusFilter:      cfg.MapStatusFilter,
		}),
		mapsurface.WithClock(deps.Clock),
		mapsurface.WithPresenter(s.presenter),
		mapsurface.WithMarkerClick(func(is domain.Issue) { s.presenter.Publish("issue", is) }),
		mapsurface.WithLogger(logger),
	)

	s.panel = nearby.NewPanel(deps.Issues, deps.Solutions,
		nearby.WithRadius(cfg.NearbyRadiusMeters),
		nearby.WithLimit(cfg.NearbyLimit),
		nearby.WithPresenter(s.presenter),
		nearby.WithLogger(logger),
	)
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// ClientID returns the client whose records the session reads and writes.
func (s *Session) ClientID() string { return s.clientID }

// Store returns the session's location store.
func (s *Session) Store() *location.Store { return s.store }

// Surface returns the session's map surface.
func (s *Session) Surface() *mapsurface.Surface { return s.surface }

// Start restores the persisted viewpoint and sends the initial state. The map
// is mounted once the browser says hello.
func (s *Session) Start(ctx context.Context) {
	s.presenter.Publish("session", map[string]string{"session_id": s.id, "client_id": s.clientID})

	if err := s.store.Restore(ctx); err != nil {
		s.logger.Warn("starting without stored viewpoint", "error", err)
	}
	s.panel.Attach(s.ctx, s.store)
	s.presenter.Publish("search", s.search.State())

	if s.deps.Prefs != nil {
		lang, err := s.deps.Prefs.Language(ctx, s.clientID)
		if err != nil {
			s.logger.Warn("load language failed", "error", err)
			lang = s.deps.Config.DefaultLanguage
		}
		s.presenter.Publish("language", map[string]string{"language": lang})
	}
}

// Handle processes one message from the browser. Replies are routed to the
// waiting command. Events that wait on the browser or the network run in
// their own goroutine so the read loop keeps delivering replies.
func (s *Session) Handle(in liveview.Inbound) error {
	switch in.Type {
	case liveview.TypeReply:
		if !s.ch.Deliver(in) {
			s.logger.Debug("reply without request", "id", in.ID)
		}
		return nil
	case liveview.TypeEvent:
	default:
		return fmt.Errorf("message type %q: %w", in.Type, domain.ErrInvalidInput)
	}

	switch in.Event {
	case EventHello:
		var hello struct {
			Cluster bool          `json:"cluster"`
			Size    liveview.Size `json:"size"`
		}
		if err := decode(in.Data, &hello); err != nil {
			return err
		}
		s.host.Announce(hello.Cluster, hello.Size)
		s.spawn(func(ctx context.Context) {
			if err := s.surface.Mount(ctx); err != nil {
				s.logger.Warn("map mount failed", "error", err)
			}
		})

	case EventMapUnmount:
		if err := s.surface.Destroy(); err != nil {
			s.logger.Debug("map teardown", "error", err)
		}

	case EventSearchInput:
		var p struct {
			Text string `json:"text"`
		}
		if err := decode(in.Data, &p); err != nil {
			return err
		}
		s.search.Type(p.Text)

	case EventSearchSelect:
		var p struct {
			Index int `json:"index"`
		}
		if err := decode(in.Data, &p); err != nil {
			return err
		}
		return s.search.Select(s.ctx, p.Index)

	case EventSearchDismiss:
		s.search.Dismiss()

	case EventLocationGPS:
		s.spawn(func(ctx context.Context) {
			_ = s.search.UseCurrentLocation(ctx)
		})

	case EventLocationClear:
		s.store.Set(s.ctx, nil)

	case EventMapMoveEnd:
		var vp liveview.Viewport
		if err := decode(in.Data, &vp); err != nil {
			return err
		}
		if !s.host.Moved(vp) {
			return nil
		}
		cause := mapsurface.MoveProgrammatic
		if vp.User {
			cause = mapsurface.MoveByUser
		}
		s.surface.MoveEnd(s.ctx, cause)

	case EventMarkerClick:
		var p struct {
			IssueID string `json:"issue_id"`
		}
		if err := decode(in.Data, &p); err != nil {
			return err
		}
		_, err := s.surface.MarkerClicked(p.IssueID)
		return err

	case EventIssueVote, EventSolutionVote:
		var p voteEvent
		if err := decode(in.Data, &p); err != nil {
			return err
		}
		dir, err := domain.ParseVoteDirection(p.Direction)
		if err != nil {
			return err
		}
		s.spawn(func(ctx context.Context) {
			if in.Event == EventIssueVote {
				_ = s.panel.VoteIssue(ctx, p.ID, dir)
			} else {
				_ = s.panel.VoteSolution(ctx, p.ID, dir)
			}
		})

	case EventSolutionOpen:
		var p struct {
			ID string `json:"id"`
		}
		if err := decode(in.Data, &p); err != nil {
			return err
		}
		s.spawn(func(ctx context.Context) { s.openSolution(ctx, p.ID) })

	case EventSolutionBallot:
		var p voteEvent
		if err := decode(in.Data, &p); err != nil {
			return err
		}
		dir, err := domain.ParseVoteDirection(p.Direction)
		if err != nil {
			return err
		}
		s.spawn(func(ctx context.Context) { s.castBallot(ctx, p.ID, dir) })

	case EventSolutionSuggest:
		var sg domain.EditSuggestion
		if err := decode(in.Data, &sg); err != nil {
			return err
		}
		s.spawn(func(ctx context.Context) {
			if err := s.deps.Solutions.SuggestEdit(ctx, sg); err != nil {
				s.logger.Warn("edit suggestion failed", "solution_id", sg.SolutionID, "error", err)
				s.presenter.Alert("Failed to submit your suggestion.")
				return
			}
			s.presenter.Publish("suggestion", map[string]any{"solution_id": sg.SolutionID, "submitted": true})
		})

	case EventIssueReport:
		var draft domain.IssueDraft
		if err := decode(in.Data, &draft); err != nil {
			return err
		}
		s.spawn(func(ctx context.Context) { s.report(ctx, draft) })

	case EventCategories:
		s.spawn(func(ctx context.Context) {
			cats, err := s.deps.Solutions.Categories(ctx)
			if err != nil {
				s.logger.Warn("load categories failed", "error", err)
				s.presenter.Alert("Failed to load categories.")
				return
			}
			s.presenter.Publish("categories", cats)
		})

	case EventLanguageSet:
		var p struct {
			Language string `json:"language"`
		}
		if err := decode(in.Data, &p); err != nil {
			return err
		}
		if s.deps.Prefs == nil {
			return nil
		}
		s.spawn(func(ctx context.Context) {
			if err := s.deps.Prefs.SetLanguage(ctx, s.clientID, p.Language); err != nil {
				s.logger.Info("language not saved", "language", p.Language, "error", err)
				s.presenter.Alert("Unsupported language.")
				return
			}
			s.presenter.Publish("language", map[string]string{"language": strings.ToLower(strings.TrimSpace(p.Language))})
		})

	default:
		return fmt.Errorf("event %q: %w", in.Event, domain.ErrInvalidInput)
	}
	return nil
}

// IssueReported refreshes the map when the new issue lies in view.
func (s *Session) IssueReported(ctx context.Context, ev *domain.IssueReported) bool {
	return s.surface.RefreshIfVisible(s.ctx, ev.Issue.Location)
}

// Close tears the session down and waits for its background work.
func (s *Session) Close() {
	s.cancel()
	s.ch.Close()
	s.search.Close()
	s.panel.Detach()
	if err := s.surface.Destroy(); err != nil {
		s.logger.Debug("map teardown", "error", err)
	}
	s.wg.Wait()
}

type voteEvent struct {
	ID        string `json:"id"`
	Direction string `json:"direction"`
}

type solutionView struct {
	Solution *domain.Solution `json:"solution"`
	Upvotes  int              `json:"upvotes"`
	Voted    bool             `json:"voted"`
}

func (s *Session) openSolution(ctx context.Context, id string) {
	sol, err := s.deps.Solutions.Get(ctx, id)
	if err != nil {
		s.logger.Warn("load solution failed", "solution_id", id, "error", err)
		s.presenter.Alert("Failed to load solution.")
		return
	}

	s.mu.Lock()
	b, ok := s.ballots[id]
	if !ok {
		b = usecases.NewBallot(id, sol.Upvotes, s.deps.Solutions.Vote)
		b.OnChange(func(count int, voted bool) {
			s.presenter.Publish("solution", solutionView{Solution: sol, Upvotes: count, Voted: voted})
		})
		s.ballots[id] = b
	}
	s.mu.Unlock()

	s.presenter.Publish("solution", solutionView{Solution: sol, Upvotes: b.Count(), Voted: b.Voted()})
}

func (s *Session) castBallot(ctx context.Context, id string, dir domain.VoteDirection) {
	s.mu.Lock()
	b, ok := s.ballots[id]
	s.mu.Unlock()
	if !ok {
		s.presenter.Alert("Open the solution before voting.")
		return
	}
	if _, err := b.Cast(ctx, dir); err != nil {
		if errors.Is(err, domain.ErrAlreadyVoted) {
			return
		}
		s.logger.Warn("solution vote rolled back", "solution_id", id, "error", err)
		s.presenter.Alert(alertVoteFailed)
	}
}

func (s *Session) report(ctx context.Context, draft domain.IssueDraft) {
	if draft.Location == nil {
		if v, ok := s.store.Get(); ok {
			p := v.Point()
			draft.Location = &p
		}
	}
	draft.ReporterID = s.clientID

	issue, err := s.deps.Reports.Report(ctx, draft)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			s.presenter.Alert(validationMessage(err))
		} else {
			s.logger.Warn("issue report failed", "error", err)
			s.presenter.Alert(alertReportFailed)
		}
		return
	}
	s.presenter.Publish("report", issue)
	s.surface.RefreshIfVisible(s.ctx, issue.Location)
}

// validationMessage strips the sentinel suffix from a validation error.
func validationMessage(err error) string {
	msg := err.Error()
	return strings.TrimSuffix(msg, ": "+domain.ErrInvalidInput.Error())
}

func (s *Session) spawn(fn func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(s.ctx)
	}()
}

func decode(data json.RawMessage, dst any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("event payload: %v: %w", err, domain.ErrInvalidInput)
	}
	return nil
}
