// Package race runs one client's view of a multiplayer race: lobby,
// countdown, racing and results, kept in step with the other clients
// through a broadcast transport and the durable store.
package race

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/mcdev12/typerace/go/internal/config"
	"github.com/mcdev12/typerace/go/internal/countdown"
	"github.com/mcdev12/typerace/go/internal/loop"
	"github.com/mcdev12/typerace/go/internal/models"
	"github.com/mcdev12/typerace/go/internal/race/events"
	"github.com/mcdev12/typerace/go/internal/race/racesync"
	"github.com/mcdev12/typerace/go/internal/race/rematch"
	"github.com/mcdev12/typerace/go/internal/typing"
	"github.com/mcdev12/typerace/go/internal/typingtest"
)

const (
	storeTimeout = 10 * time.Second
	updateBuffer = 32
)

// Session is one client in one room. All race state is owned by the
// session's loop; transport handlers, timers and store completions post
// tasks to it. Public methods are safe to call from any goroutine.
type Session struct {
	room      string
	name      string
	self      string
	cfg       config.RaceConfig
	store     racesync.Store
	transport racesync.Transport
	clock     clockwork.Clock
	loop      *loop.Loop
	pub       *publisher

	// set by Mount
	race    *models.Race
	test    *typingtest.Engine
	cd      *countdown.Countdown
	rematch *rematch.Coordinator

	// loop-owned
	phase         models.RaceStatus
	countdownLeft int
	timeLeft      int
	roster        []racesync.Member
	rosterSeen    bool // a presence update has arrived since Mount
	peers         map[string]Progress
	results       []racesync.Result
	own           *racesync.Result
	result        *typingtest.Result
	finishSent    bool
	ended         bool
	endRequested  bool
	redirect      string

	mu             sync.Mutex
	snapshot       Snapshot
	unsubs         []racesync.Unsubscribe
	progressTicker clockwork.Ticker
	progressStop   chan struct{}
	left           bool

	updates chan Snapshot
}

type Option func(*Session)

func WithClock(c clockwork.Clock) Option {
	return func(s *Session) { s.clock = c }
}

// New creates a session for the transport's client in room. name is the
// display name shared through presence.
func New(room, name string, cfg config.RaceConfig, store racesync.Store, transport racesync.Transport, opts ...Option) *Session {
	s := &Session{
		room:      room,
		name:      name,
		self:      transport.ClientID(),
		cfg:       cfg,
		store:     store,
		transport: transport,
		clock:     clockwork.NewRealClock(),
		loop:      loop.New(),
		phase:     models.RaceStatusLobby,
		peers:     make(map[string]Progress),
		updates:   make(chan Snapshot, updateBuffer),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.pub = newPublisher(transport, room)
	return s
}

func (s *Session) Room() string { return s.room }

// Updates delivers a snapshot after every state change. A slow reader misses
// intermediate snapshots; Snapshot always has the latest.
func (s *Session) Updates() <-chan Snapshot { return s.updates }

// Snapshot returns the latest published state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot.clone()
}

// Mount joins the room durably, enters presence, subscribes to every race
// event and reconciles local state with the durable status. Join errors
// (full, already started, not found) are returned before any presence or
// subscription is set up.
func (s *Session) Mount(ctx context.Context) (*models.Race, error) {
	race, err := s.store.JoinRoom(ctx, s.room, s.self)
	if err != nil {
		return nil, err
	}
	s.race = race

	duration := race.Duration
	if race.Mode == models.RaceModeWords {
		duration = 0
	}
	s.test = typingtest.New(race.Words, duration, typingtest.Mode(race.Mode),
		typingtest.WithClock(s.clock),
		typingtest.WithScheduler(s.loop),
	)
	s.test.OnFinish(s.handleOwnFinish)
	s.test.OnTick(s.handleTestTick)
	s.timeLeft = duration

	s.cd = countdown.New(s.cfg.CountdownTicks, countdown.WithClock(s.clock), countdown.WithScheduler(s.loop))
	s.cd.OnTick(func(left int) {
		s.countdownLeft = left
		s.emit()
	})
	s.cd.OnExpire(s.beginRacing)

	s.rematch = rematch.New(*race, s.self, s.store, s.pub.publish)
	s.rematch.OnRedirect(func(code string) {
		s.loop.Post(func() {
			s.redirect = code
			s.emit()
		})
	})

	s.subscribe()

	if err := s.transport.EnterPresence(ctx, s.room, racesync.PresenceData{Name: s.name}); err != nil {
		log.Warn().Err(err).Str("race_code", s.room).Str("client_id", s.self).Msg("failed to enter presence")
	}
	roster, err := s.transport.PresenceSnapshot(ctx, s.room)
	if err != nil {
		log.Warn().Err(err).Str("race_code", s.room).Msg("failed to read presence")
	}

	// The status from JoinRoom predates the subscriptions, so a race:start
	// sent in between would be lost. Reconcile with a read taken after them.
	status := race.Status
	if latest, err := s.store.GetRoom(ctx, s.room); err != nil {
		log.Warn().Err(err).Str("race_code", s.room).Msg("failed to refresh race status")
	} else {
		status = latest.Status
		race = latest
	}

	var restored []racesync.Result
	if status == models.RaceStatusFinished {
		restored = s.restoreResults(ctx)
	}

	s.loop.Post(func() {
		if roster != nil && !s.rosterSeen {
			s.setRoster(roster)
		}
		switch status {
		case models.RaceStatusCountdown, models.RaceStatusRacing:
			// A reload mid-race goes straight to racing; the countdown is
			// not replayed.
			s.beginRacing()
		case models.RaceStatusFinished:
			s.ended = true
			s.finishSent = true
			s.setPhase(models.RaceStatusFinished)
			for _, r := range restored {
				if r.Name == "" {
					r.Name = s.displayName(r.ClientID)
				}
				if r.ClientID == s.self {
					mine := r
					s.own = &mine
					continue
				}
				s.results, _ = racesync.AppendResult(s.results, r)
			}
		}
		s.emit()
	})
	return race, nil
}

// displayName is the presence name of id, or id when it is not present.
func (s *Session) displayName(id string) string {
	if id == s.self {
		return s.name
	}
	for _, m := range s.roster {
		if m.ClientID == id && m.Data.Name != "" {
			return m.Data.Name
		}
	}
	return id
}

func (s *Session) restoreResults(ctx context.Context) []racesync.Result {
	parts, err := s.store.ListParticipants(ctx, s.room)
	if err != nil {
		log.Warn().Err(err).Str("race_code", s.room).Msg("failed to load results")
		return nil
	}
	var out []racesync.Result
	for _, p := range parts {
		if !p.Finished {
			continue
		}
		r := racesync.Result{ClientID: p.UserID, WPM: p.WPM, Accuracy: p.Accuracy}
		if p.Position != nil {
			r.Position = *p.Position
		}
		out = append(out, r)
	}
	return out
}

// Run drives the session until ctx ends, then leaves the room.
func (s *Session) Run(ctx context.Context) error {
	err := s.loop.Run(ctx)

	leaveCtx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	_ = s.Leave(leaveCtx)

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Start fires the countdown for everyone. Only the host may start, and only
// from the lobby with at least two players present. The durable status moves
// to RACING now so a reload during the countdown does not land in the lobby.
func (s *Session) Start(ctx context.Context) error {
	if !racesync.IsHost(s.race, s.self) {
		return racesync.ErrNotHost
	}
	snap := s.Snapshot()
	if snap.Phase != models.RaceStatusLobby {
		return racesync.ErrRaceStarted
	}
	if len(snap.Roster) < 2 {
		return racesync.ErrNotEnoughPlayers
	}

	if _, err := s.store.StartRoom(ctx, s.room, s.self); err != nil {
		return err
	}
	s.pub.enqueue(events.RaceStart, events.RaceStartPayload{StartedAt: s.clock.Now().UTC()})
	s.loop.Post(s.beginCountdown)
	return nil
}

// HandleKey feeds a keystroke to the local test while racing.
func (s *Session) HandleKey(ev typing.KeyEvent) {
	s.loop.Post(func() {
		if s.phase != models.RaceStatusRacing {
			return
		}
		if s.test.HandleKey(ev) {
			s.emit()
		}
	})
}

// Vote casts this client's rematch vote. Votes are only taken once the race
// is over.
func (s *Session) Vote(ctx context.Context) error {
	if s.Snapshot().Phase != models.RaceStatusFinished {
		return racesync.ErrRaceNotFinished
	}
	if err := s.rematch.Vote(ctx); err != nil {
		return err
	}
	s.loop.Post(s.emit)
	return nil
}

// CreateRematch creates the next room and redirects everyone to it. Host only.
func (s *Session) CreateRematch(ctx context.Context) (string, error) {
	return s.rematch.CreateRematch(ctx)
}

// Leave releases presence, drops every subscription and stops every timer.
// It is safe to call more than once.
func (s *Session) Leave(ctx context.Context) error {
	s.mu.Lock()
	if s.left {
		s.mu.Unlock()
		return nil
	}
	s.left = true
	unsubs := s.unsubs
	s.unsubs = nil
	s.stopProgressLocked()
	s.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	if s.cd != nil {
		s.cd.Stop()
	}
	if s.test != nil {
		s.test.Stop()
	}
	if s.race != nil {
		if err := s.transport.LeavePresence(ctx, s.room); err != nil {
			log.Warn().Err(err).Str("race_code", s.room).Str("client_id", s.self).Msg("failed to leave presence")
		}
	}
	s.pub.close(ctx)
	log.Debug().Str("race_code", s.room).Str("client_id", s.self).Msg("left race")
	return nil
}

// ActiveTimers counts live tickers: countdown, test timer and progress
// broadcaster.
func (s *Session) ActiveTimers() int {
	n := 0
	if s.cd != nil && s.cd.Active() {
		n++
	}
	if s.test != nil && s.test.TimerActive() {
		n++
	}
	s.mu.Lock()
	if s.progressTicker != nil {
		n++
	}
	s.mu.Unlock()
	return n
}

func (s *Session) isLeft() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.left
}

func (s *Session) subscribe() {
	handlers := map[events.Name]func(events.Message){
		events.RaceStart:      func(events.Message) { s.beginCountdown() },
		events.PlayerProgress: s.handleProgress,
		events.PlayerFinished: s.handleFinished,
		events.RaceEnd:        func(events.Message) { s.cutOff() },
		events.RaceEnded:      func(events.Message) { s.cutOff() },
		events.RematchVote:    s.handleVote,
		events.RematchCreated: s.handleRematchCreated,
	}

	var unsubs []racesync.Unsubscribe
	for _, name := range events.All {
		h, ok := handlers[name]
		if !ok {
			continue
		}
		unsub, err := s.transport.Subscribe(s.room, name, func(msg events.Message) {
			s.loop.Post(func() {
				if msg.Room != s.room {
					log.Debug().Str("race_code", s.room).Str("other_room", msg.Room).Msg("dropping message for another room")
					return
				}
				h(msg)
			})
		})
		if err != nil {
			log.Warn().Err(err).Str("race_code", s.room).Str("event_type", string(name)).Msg("failed to subscribe")
			continue
		}
		unsubs = append(unsubs, unsub)
	}

	unsub, err := s.transport.SubscribePresence(s.room, func(members []racesync.Member) {
		s.loop.Post(func() {
			s.rosterSeen = true
			s.setRoster(members)
			s.checkAllFinished()
			s.emit()
		})
	})
	if err != nil {
		log.Warn().Err(err).Str("race_code", s.room).Msg("failed to subscribe to presence")
	} else {
		unsubs = append(unsubs, unsub)
	}

	s.mu.Lock()
	s.unsubs = append(s.unsubs, unsubs...)
	s.mu.Unlock()
}

func (s *Session) setPhase(p models.RaceStatus) {
	if s.phase == p {
		return
	}
	s.phase = p
	log.Info().Str("race_code", s.room).Str("client_id", s.self).Str("phase", string(p)).Msg("race phase changed")
}

func (s *Session) setRoster(members []racesync.Member) {
	s.roster = members
	s.rematch.SetTotal(len(members))
}

func (s *Session) beginCountdown() {
	if s.phase != models.RaceStatusLobby || s.isLeft() {
		return
	}
	s.setPhase(models.RaceStatusCountdown)
	s.countdownLeft = s.cfg.CountdownTicks
	s.cd.Start()
	if s.countdownLeft <= 0 {
		s.beginRacing()
		return
	}
	s.emit()
}

func (s *Session) beginRacing() {
	if (s.phase != models.RaceStatusLobby && s.phase != models.RaceStatusCountdown) || s.isLeft() {
		return
	}
	s.cd.Stop()
	s.countdownLeft = 0
	s.setPhase(models.RaceStatusRacing)
	s.test.StartTimer()
	s.startProgress()
	s.emit()
}

func (s *Session) startProgress() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.left || s.progressTicker != nil {
		return
	}
	ticker := s.clock.NewTicker(s.cfg.ProgressInterval)
	stop := make(chan struct{})
	s.progressTicker, s.progressStop = ticker, stop

	go func() {
		for {
			select {
			case <-stop:
				return
			case <-ticker.Chan():
				s.loop.Post(s.broadcastProgress)
			}
		}
	}()
}

func (s *Session) stopProgress() {
	s.mu.Lock()
	s.stopProgressLocked()
	s.mu.Unlock()
}

func (s *Session) stopProgressLocked() {
	if s.progressTicker == nil {
		return
	}
	s.progressTicker.Stop()
	close(s.progressStop)
	s.progressTicker, s.progressStop = nil, nil
}

func (s *Session) broadcastProgress() {
	if s.phase != models.RaceStatusRacing || s.finishSent {
		return
	}
	s.pub.enqueue(events.PlayerProgress, events.ProgressPayload{
		Caret: s.test.Caret(),
		WPM:   s.liveWPM(),
	})
}

// liveWPM uses the countdown in time mode and the keystroke span in words
// mode, which has no countdown.
func (s *Session) liveWPM() int {
	if s.test.Mode() == typingtest.ModeTime {
		return s.test.LiveWPM()
	}
	return typingtest.WPM(s.test.State().CorrectChars, s.test.Elapsed().Minutes())
}

func (s *Session) handleTestTick(left int) {
	s.timeLeft = left
	if left == 0 && racesync.IsHost(s.race, s.self) {
		s.endRace()
	}
	s.emit()
}

// handleOwnFinish runs once per race: later results from a recomputed
// attempt, or a cut-off, never persist a second finish.
func (s *Session) handleOwnFinish(res typingtest.Result) {
	if s.ended || s.finishSent {
		return
	}
	s.finishSent = true
	s.result = &res
	s.own = &racesync.Result{ClientID: s.self, Name: s.name, WPM: res.WPM, Accuracy: res.FinalAccuracy}
	s.setPhase(models.RaceStatusFinished)
	s.stopProgress()

	stats := models.FinishStats{Progress: s.test.Caret(), WPM: res.WPM, Accuracy: res.FinalAccuracy}
	go s.persistFinish(stats)

	s.checkAllFinished()
	s.emit()
}

// persistFinish records the finish durably, then announces it. A failed
// write is logged and the announcement still goes out without a position.
func (s *Session) persistFinish(stats models.FinishStats) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	position, err := s.store.FinishParticipant(ctx, s.room, s.self, stats)
	if err != nil {
		log.Error().Err(err).Str("race_code", s.room).Str("client_id", s.self).Msg("failed to persist finish")
	} else {
		s.loop.Post(func() {
			if s.own != nil {
				s.own.Position = position
			}
			s.emit()
		})
	}

	s.pub.enqueue(events.PlayerFinished, events.FinishedPayload{
		Name:     s.name,
		WPM:      stats.WPM,
		Accuracy: stats.Accuracy,
		Position: position,
	})
}

func (s *Session) handleProgress(msg events.Message) {
	if msg.ClientID == s.self {
		return
	}
	var p events.ProgressPayload
	if err := msg.Decode(&p); err != nil {
		log.Warn().Err(err).Str("race_code", s.room).Msg("dropping malformed progress")
		return
	}
	s.peers[msg.ClientID] = Progress{Caret: p.Caret, WPM: p.WPM}
	s.emit()
}

func (s *Session) handleFinished(msg events.Message) {
	if msg.ClientID == s.self {
		return
	}
	var p events.FinishedPayload
	if err := msg.Decode(&p); err != nil {
		log.Warn().Err(err).Str("race_code", s.room).Msg("dropping malformed finish")
		return
	}
	var added bool
	s.results, added = racesync.AppendResult(s.results, racesync.Result{
		ClientID: msg.ClientID,
		Name:     p.Name,
		WPM:      p.WPM,
		Accuracy: p.Accuracy,
		Position: p.Position,
	})
	if !added {
		return
	}
	s.checkAllFinished()
	s.emit()
}

// checkAllFinished ends the race from the host once every present player
// has a result.
func (s *Session) checkAllFinished() {
	if !racesync.IsHost(s.race, s.self) || s.endRequested || s.ended || len(s.roster) == 0 {
		return
	}
	if s.phase != models.RaceStatusRacing && s.phase != models.RaceStatusFinished {
		return
	}
	for _, m := range s.roster {
		if m.ClientID == s.self {
			if s.own == nil {
				return
			}
			continue
		}
		if !lo.ContainsBy(s.results, func(r racesync.Result) bool { return r.ClientID == m.ClientID }) {
			return
		}
	}
	s.endRace()
}

// endRace persists the end and tells everyone. The local cut-off follows the
// broadcast so the host's own finish from the same tick lands first.
func (s *Session) endRace() {
	if s.endRequested {
		return
	}
	s.endRequested = true

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if _, err := s.store.EndRoom(ctx, s.room, s.self); err != nil {
			log.Error().Err(err).Str("race_code", s.room).Msg("failed to persist race end")
		}
		s.pub.enqueue(events.RaceEnd, events.RaceEndPayload{EndedAt: s.clock.Now().UTC()})
		s.loop.Post(s.cutOff)
	}()
}

// cutOff moves everyone still racing to the results. An unfinished attempt
// is abandoned, not persisted.
func (s *Session) cutOff() {
	if s.ended {
		return
	}
	s.ended = true
	if s.test != nil && !s.finishSent {
		s.test.Finish()
	}
	if s.cd != nil {
		s.cd.Stop()
	}
	s.stopProgress()
	s.setPhase(models.RaceStatusFinished)
	s.emit()
}

func (s *Session) handleVote(msg events.Message) {
	s.rematch.HandleVote(msg.ClientID)
	s.emit()
}

func (s *Session) handleRematchCreated(msg events.Message) {
	var p events.RematchCreatedPayload
	if err := msg.Decode(&p); err != nil {
		log.Warn().Err(err).Str("race_code", s.room).Msg("dropping malformed rematch")
		return
	}
	s.rematch.HandleCreated(p.NewRoomCode)
}

// emit publishes the current state to Snapshot and Updates.
func (s *Session) emit() {
	snap := Snapshot{
		Room:      s.room,
		Phase:     s.phase,
		Ended:     s.ended,
		IsHost:    racesync.IsHost(s.race, s.self),
		Countdown: s.countdownLeft,
		TimeLeft:  s.timeLeft,
		Roster:    s.roster,
		Colors:    make(map[string]string, len(s.roster)),
		Peers:     s.peers,
		Results:   racesync.MergeResults(s.results, s.own),
		Result:    s.result,
		Redirect:  s.redirect,
	}
	if s.test != nil {
		snap.Caret = s.test.Caret()
		if s.phase == models.RaceStatusRacing {
			snap.LiveWPM = s.liveWPM()
		}
	}
	if s.own != nil {
		snap.Position = s.own.Position
	}
	for _, m := range s.roster {
		snap.Colors[m.ClientID] = racesync.ColorFor(s.roster, m.ClientID, s.cfg.Palette)
	}
	if s.rematch != nil {
		snap.Votes, snap.VoteTotal = s.rematch.Votes()
		snap.Voted = s.rematch.HasVoted()
	}
	snap = snap.clone()

	s.mu.Lock()
	s.snapshot = snap
	s.mu.Unlock()

	select {
	case s.updates <- snap:
	default:
	}
}
