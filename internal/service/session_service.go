package service

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parisxmas/fieldops/internal/models"
	"github.com/parisxmas/fieldops/internal/notify"
	"github.com/parisxmas/fieldops/internal/signature"
	"github.com/parisxmas/fieldops/internal/staging"
	"github.com/parisxmas/fieldops/internal/submission"
	"github.com/parisxmas/fieldops/internal/wizard"
)

var ErrSessionNotFound = errors.New("session not found")

// Session is one technician's completion in progress.
type Session struct {
	ID        string
	Wizard    *wizard.Wizard
	Toasts    *notify.Recorder
	CreatedAt time.Time

	mu       sync.Mutex
	lastSeen time.Time
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// SessionView is what the API returns for a session.
type SessionView struct {
	ID            string                `json:"id"`
	Wizard        wizard.View           `json:"wizard"`
	Notifications []notify.Notification `json:"notifications"`
}

func (s *Session) View() SessionView {
	return SessionView{ID: s.ID, Wizard: s.Wizard.Snapshot(), Notifications: s.Toasts.All()}
}

// SessionService keeps wizard sessions in memory and expires idle ones.
type SessionService struct {
	mu       sync.Mutex
	sessions map[string]*Session
	byKey    map[string]string // submission key -> session id

	detachTimeout time.Duration

	submitter wizard.Submitter
	newStore  func() *staging.Store
	sigOpts   signature.Options
	ttl       time.Duration
	now       func() time.Time
}

func NewSessionService(submitter wizard.Submitter, newStore func() *staging.Store, sigOpts signature.Options, ttl time.Duration) *SessionService {
	return &SessionService{
		sessions:  make(map[string]*Session),
		byKey:     make(map[string]string),
		submitter: submitter,
		newStore:  newStore,
		sigOpts:   sigOpts,
		ttl:       ttl,
		now:       time.Now,
	}
}

func (s *SessionService) Create(subjectID string) *Session {
	id := uuid.NewString()
	toasts := notify.NewRecorder(50)
	now := s.now()
	sess := &Session{
		ID:        id,
		Toasts:    toasts,
		CreatedAt: now,
		lastSeen:  now,
		Wizard:    wizard.New(subjectID, s.newStore(), s.submitter, notify.Multi{toasts, notify.Log{Scope: "session " + id}}),
	}
	s.mu.Lock()
	s.sessions[id] = sess
	s.byKey[sess.Wizard.SubmissionKey()] = id
	s.mu.Unlock()
	log.Printf("Session %s opened for subject %s", id, subjectID)
	return sess
}

func (s *SessionService) Get(id string) (*Session, error) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	sess.touch(s.now())
	return sess, nil
}

// Close cancels an open wizard and forgets the session.
func (s *SessionService) Close(id string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	if ok {
		delete(s.byKey, sess.Wizard.SubmissionKey())
	}
	s.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	if !sess.Wizard.Step().Terminal() {
		sess.Wizard.Cancel()
	}
	return nil
}

// Sign renders strokes and stores the signature for role.
func (s *SessionService) Sign(id string, role models.SignerRole, strokes []signature.Stroke) (*Session, error) {
	sess, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	sig, err := signature.Capture(role, strokes, s.sigOpts)
	if err != nil {
		return nil, err
	}
	if err := sess.Wizard.CaptureSignature(sig); err != nil {
		return nil, err
	}
	return sess, nil
}

// SetDetachTimeout bounds how long a session whose uploads run detached is
// kept past its TTL. Zero keeps it until the outcome arrives.
func (s *SessionService) SetDetachTimeout(d time.Duration) {
	s.mu.Lock()
	s.detachTimeout = d
	s.mu.Unlock()
}

// Submit submits the session's wizard. Background outcomes find the session
// through its submission key, registered when the session was created.
func (s *SessionService) Submit(ctx context.Context, id string) (*Session, *submission.Outcome, error) {
	sess, err := s.Get(id)
	if err != nil {
		return nil, nil, err
	}
	out, err := sess.Wizard.Submit(ctx)
	if err != nil {
		return sess, nil, err
	}
	return sess, out, nil
}

// DetachedComplete routes a background outcome to the session that started it.
func (s *SessionService) DetachedComplete(out *submission.Outcome) {
	s.mu.Lock()
	sess := s.sessions[s.byKey[out.SubmissionKey]]
	s.mu.Unlock()
	if sess == nil {
		log.Printf("Warning: detached outcome for %s %s has no session", out.RecordKind, out.RecordID)
		return
	}
	sess.Wizard.CompleteDetached(out)
}

func (s *SessionService) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Expire drops sessions idle for longer than the TTL and returns how many.
func (s *SessionService) Expire() int {
	if s.ttl <= 0 {
		return 0
	}
	now := s.now()
	cutoff := now.Add(-s.ttl)
	var stale []*Session
	s.mu.Lock()
	detachedCutoff := cutoff.Add(-s.detachTimeout)
	for id, sess := range s.sessions {
		if sess.Wizard.Snapshot().Submitting {
			continue
		}
		idle := sess.idleSince()
		if sess.Wizard.UploadsPending() && (s.detachTimeout <= 0 || !idle.Before(detachedCutoff)) {
			continue
		}
		if idle.Before(cutoff) {
			stale = append(stale, sess)
			delete(s.sessions, id)
		}
	}
	for key, id := range s.byKey {
		if _, ok := s.sessions[id]; !ok {
			delete(s.byKey, key)
		}
	}
	s.mu.Unlock()

	for _, sess := range stale {
		if !sess.Wizard.Step().Terminal() {
			sess.Wizard.Cancel()
		}
	}
	return len(stale)
}

// Janitor runs Expire every interval until ctx is done.
func (s *SessionService) Janitor(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := s.Expire(); n > 0 {
				log.Printf("Session janitor: expired %d idle sessions", n)
			}
		}
	}
}
