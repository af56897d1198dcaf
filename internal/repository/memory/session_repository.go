package memory

import (
	"time"

	"bioinsight-be/pkg/workflow"

	"github.com/patrickmn/go-cache"
)

// SessionRepository keeps live sessions in process. Idle sessions expire
// after the TTL and their memories go with them.
type SessionRepository struct {
	cache *cache.Cache
}

func NewSessionRepository(ttl time.Duration) *SessionRepository {
	if ttl <= 0 {
		ttl = time.Hour
	}
	c := cache.New(ttl, 10*time.Minute)
	c.OnEvicted(func(_ string, v interface{}) {
		if s, ok := v.(*workflow.Session); ok {
			s.Reset()
		}
	})
	return &SessionRepository{cache: c}
}

func (r *SessionRepository) Save(session *workflow.Session) {
	r.cache.Set(session.ID, session, cache.DefaultExpiration)
}

// Get returns the session and extends its lifetime.
func (r *SessionRepository) Get(sessionID string) (*workflow.Session, bool) {
	x, found := r.cache.Get(sessionID)
	if !found {
		return nil, false
	}
	s := x.(*workflow.Session)
	r.cache.Set(sessionID, s, cache.DefaultExpiration)
	return s, true
}

func (r *SessionRepository) Delete(sessionID string) {
	r.cache.Delete(sessionID)
}

func (r *SessionRepository) Count() int {
	return r.cache.ItemCount()
}
