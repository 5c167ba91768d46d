package debate

import (
	"strings"
	"sync"

	"github.com/ashureev/emperor-arena/internal/domain"
)

// Store holds the canonical session state. All mutation goes through its
// methods; readers receive deep copies.
type Store struct {
	mu        sync.RWMutex
	publishMu sync.Mutex // keeps OnChange deliveries in mutation order
	session   domain.Session
	maxRounds int
	epoch     uint64
	onChange  func(domain.Session)
}

// NewStore creates a store holding a fresh idle session.
func NewStore(maxRounds int) *Store {
	session := domain.NewSession()
	if maxRounds > 0 {
		session.MaxRounds = maxRounds
	}
	return &Store{session: session, maxRounds: session.MaxRounds}
}

// OnChange registers fn to receive a snapshot after every mutation. fn is
// called in mutation order with the state lock released; it may read the
// store but must not mutate it.
func (s *Store) OnChange(fn func(domain.Session)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// Snapshot returns a deep copy of the session.
func (s *Store) Snapshot() domain.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.Clone()
}

// Epoch returns the reset generation. It changes on every Reset.
func (s *Store) Epoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch
}

// mutate applies fn under the write lock and publishes the result when
// fn reports a change.
func (s *Store) mutate(fn func(*domain.Session) bool) {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	s.mu.Lock()
	changed := fn(&s.session)
	notify := s.onChange
	var snap domain.Session
	if changed && notify != nil {
		snap = s.session.Clone()
	}
	s.mu.Unlock()

	if changed && notify != nil {
		notify(snap)
	}
}

// SetTopic sets the debate topic.
func (s *Store) SetTopic(topic string) {
	topic = strings.TrimSpace(topic)
	s.mutate(func(sess *domain.Session) bool {
		if sess.Topic == topic {
			return false
		}
		sess.Topic = topic
		return true
	})
}

// SetParticipants sets the character for each seat.
func (s *Store) SetParticipants(p domain.Participants) {
	p = domain.Participants{
		Proposer:   strings.TrimSpace(p.Proposer),
		Challenger: strings.TrimSpace(p.Challenger),
		Arbitrator: strings.TrimSpace(p.Arbitrator),
	}
	s.mutate(func(sess *domain.Session) bool {
		if sess.Participants == p {
			return false
		}
		sess.Participants = p
		return true
	})
}

// SetMaxRounds sets the round budget restored by Reset. The live session
// adopts it unless it is below the current round. Values below one are
// ignored.
func (s *Store) SetMaxRounds(n int) {
	s.mutate(func(sess *domain.Session) bool {
		if n <= 0 {
			return false
		}
		s.maxRounds = n
		if n < sess.Round || n == sess.MaxRounds {
			return false
		}
		sess.MaxRounds = n
		return true
	})
}

// SetStatus sets the lifecycle status. Transition rules live in Machine.
func (s *Store) SetStatus(status domain.Status) {
	s.mutate(func(sess *domain.Session) bool {
		if sess.Status == status {
			return false
		}
		sess.Status = status
		return true
	})
}

// SetError records the last error; nil clears it.
func (s *Store) SetError(info *domain.ErrorInfo) {
	s.mutate(func(sess *domain.Session) bool {
		if info == nil && sess.LastError == nil {
			return false
		}
		if info != nil {
			copied := *info
			info = &copied
		}
		sess.LastError = info
		return true
	})
}

// SetNotice records the latest informational text from the backend.
func (s *Store) SetNotice(notice string) {
	s.mutate(func(sess *domain.Session) bool {
		if sess.Notice == notice {
			return false
		}
		sess.Notice = notice
		return true
	})
}

// AdvanceRound moves the round counter forward. With an explicit payload
// the backend's counters are adopted, never moving the round backwards;
// without one the round is incremented by exactly one and the fallback is
// counted. The round never exceeds MaxRounds.
func (s *Store) AdvanceRound(explicit *RoundProgress) {
	s.mutate(func(sess *domain.Session) bool {
		if explicit == nil {
			sess.Round++
			sess.RoundFallbacks++
		} else {
			if explicit.Total > 0 {
				sess.MaxRounds = explicit.Total
			}
			if explicit.Current > sess.Round {
				sess.Round = explicit.Current
			}
		}
		if sess.MaxRounds < sess.Round {
			// A backend total below the round already consumed cannot
			// shrink the counter; the budget is raised instead.
			if explicit != nil && explicit.Total > 0 {
				sess.MaxRounds = sess.Round
			} else {
				sess.Round = sess.MaxRounds
			}
		}
		return true
	})
}

// bumpFinalRound marks the last round as consumed when the debate ends.
func (s *Store) bumpFinalRound() {
	s.mutate(func(sess *domain.Session) bool {
		if sess.Round >= sess.MaxRounds {
			return false
		}
		sess.Round++
		return true
	})
}

// AppendOrUpdateMessage merges a content chunk into the message keyed by
// (round+1, role), creating it on first arrival. The chunk extends the
// reveal target; visible content is left to the typist. It returns a copy
// of the affected message.
func (s *Store) AppendOrUpdateMessage(role domain.Role, kind domain.Kind, chunk string) domain.Message {
	var out domain.Message
	s.mutate(func(sess *domain.Session) bool {
		key := domain.MessageKey{Round: sess.Round + 1, Role: role}
		idx := sess.FindMessage(key)
		if idx < 0 {
			sess.Messages = append(sess.Messages, domain.Message{
				Round: key.Round,
				Role:  role,
				Kind:  kind,
			})
			idx = len(sess.Messages) - 1
		}
		msg := &sess.Messages[idx]
		msg.RevealTarget += chunk
		out = *msg
		return true
	})
	return out
}

// RevealStep moves the visible content of a message one rune closer to
// its target. It reports done when nothing is left to reveal, when the
// message no longer exists, or when epoch is stale; none of those cases
// mutate the session.
func (s *Store) RevealStep(key domain.MessageKey, epoch uint64) bool {
	done := true
	s.mutate(func(sess *domain.Session) bool {
		if s.epoch != epoch {
			return false
		}
		idx := sess.FindMessage(key)
		if idx < 0 {
			return false
		}
		msg := &sess.Messages[idx]
		next, finished := revealNext(msg.Content, msg.RevealTarget)
		if next == msg.Content {
			return false
		}
		msg.Content = next
		done = finished
		return true
	})
	return done
}

// revealNext returns content extended by one rune of target. Content
// that is not a prefix of target is first cut back to the common prefix.
func revealNext(content, target string) (string, bool) {
	if content == target {
		return content, true
	}
	have := []rune(content)
	want := []rune(target)

	common := 0
	for common < len(have) && common < len(want) && have[common] == want[common] {
		common++
	}
	if common == len(want) {
		// Target is a strict prefix of content: drop the excess at once.
		return target, true
	}
	next := string(want[:common+1])
	return next, common+1 == len(want)
}

// Reset returns the session to idle, keeping topic and participants,
// restores the configured round budget and starts a new epoch.
func (s *Store) Reset() {
	s.mutate(func(sess *domain.Session) bool {
		s.epoch++
		fresh := domain.NewSession()
		fresh.Topic = sess.Topic
		fresh.Participants = sess.Participants
		fresh.MaxRounds = s.maxRounds
		*sess = fresh
		return true
	})
}

// Transcript returns a copy of the messages with their full text.
func (s *Store) Transcript() []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Message, len(s.session.Messages))
	for i, msg := range s.session.Messages {
		msg.Content = msg.RevealTarget
		out[i] = msg
	}
	return out
}
