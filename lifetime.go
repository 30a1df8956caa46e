package moduleaccess

import "time"

// LifetimeOption adjusts the validity window written by Grant and AssignRole.
type LifetimeOption func(*lifetime)

type lifetime struct {
	expiresAt *time.Time
}

// WithExpiry makes the written grant or role lapse at t.
func WithExpiry(t time.Time) LifetimeOption {
	return func(l *lifetime) {
		l.expiresAt = optionalUTC(&t)
	}
}

// WithOptionalExpiry is WithExpiry for callers holding a nullable timestamp.
// A nil t leaves the row without expiry.
func WithOptionalExpiry(t *time.Time) LifetimeOption {
	return func(l *lifetime) {
		l.expiresAt = optionalUTC(t)
	}
}

func resolveLifetime(opts []LifetimeOption) lifetime {
	var l lifetime
	for _, opt := range opts {
		if opt != nil {
			opt(&l)
		}
	}
	return l
}
