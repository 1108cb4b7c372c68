package auth

import "time"

// SetClock replaces the token service clock.
func (s *TokenService) SetClock(now func() time.Time) {
	s.now = now
}
