package pipeline

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// userIDStorageKey matches the key the site's tracking script has always
// used, so existing visitors keep their identity.
const userIDStorageKey = "obp_uid"

// SessionTracker owns visitor identity and the activity clock. The userId is
// durable across sessions; the sessionId rotates when the visitor has been
// idle past the timeout. Rotation is detected by polling (the watchdog), so
// worst-case detection latency equals the watchdog interval.
type SessionTracker struct {
	mu sync.Mutex

	clock func() time.Time

	userID        string
	sessionID     string
	startedAt     time.Time
	lastActivity  time.Time
	pageViewCount int

	currentPage  string
	previousPage string
	referrer     string
}

// NewSessionTracker loads or creates the durable userId and starts a fresh
// session.
func NewSessionTracker(storage Storage, env Environment, clock func() time.Time) *SessionTracker {
	now := clock()

	userID, ok := storage.Get(userIDStorageKey)
	if !ok || userID == "" {
		userID = uuid.New().String()
		// A storage failure only costs cross-session identity; the pipeline
		// still runs with a process-scoped userId.
		_ = storage.Set(userIDStorageKey, userID)
	}

	return &SessionTracker{
		clock:        clock,
		userID:       userID,
		sessionID:    uuid.New().String(),
		startedAt:    now,
		lastActivity: now,
		currentPage:  env.InitialPage,
		referrer:     env.Referrer,
	}
}

// Touch records visitor activity. It is called from activity listeners and
// must stay cheap; it never enqueues anything.
func (s *SessionTracker) Touch() {
	s.mu.Lock()
	s.lastActivity = s.clock()
	s.mu.Unlock()
}

// CheckTimeout rotates the session if the visitor has been idle longer than
// timeout. Returns true when a rotation happened.
func (s *SessionTracker) CheckTimeout(timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	if now.Sub(s.lastActivity) <= timeout {
		return false
	}

	s.sessionID = uuid.New().String()
	s.startedAt = now
	s.lastActivity = now
	s.pageViewCount = 0
	return true
}

// RecordPageView shifts page tracking to url (empty keeps the current page)
// and counts the view. Returns the page being left.
func (s *SessionTracker) RecordPageView(url string) (previous string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.previousPage = s.currentPage
	if url != "" {
		s.currentPage = url
	}
	s.pageViewCount++
	s.lastActivity = s.clock()
	return s.previousPage
}

// Identity returns the current userId/sessionId pair.
func (s *SessionTracker) Identity() (userID, sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID, s.sessionID
}

// SessionDuration is the time since the current session started.
func (s *SessionTracker) SessionDuration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock().Sub(s.startedAt)
}

// IdleTime is the time since the last recorded activity.
func (s *SessionTracker) IdleTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock().Sub(s.lastActivity)
}

func (s *SessionTracker) CurrentPage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentPage
}

func (s *SessionTracker) PreviousPage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.previousPage
}

// Referrer is the document referrer supplied by the host environment.
func (s *SessionTracker) Referrer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.referrer
}

func (s *SessionTracker) PageViewCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pageViewCount
}
