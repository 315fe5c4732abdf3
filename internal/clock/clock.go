// Package clock abstracts time for components that filter or expire by it.
package clock

import "time"

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// Fake is a manually advanced Clock for tests.
type Fake struct {
	Current time.Time
}

// Now returns the fake's current time.
func (f *Fake) Now() time.Time {
	return f.Current
}

// Advance moves the fake clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.Current = f.Current.Add(d)
}
