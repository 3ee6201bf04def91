package dali

import (
	"sync"
	"time"
)

// Clock schedules periodic work.
//
// Every runs fn every d until the returned stop func is called. Stop must
// not block on an in-flight fn: callers invoke it while holding locks that
// fn itself may need.
type Clock interface {
	Now() time.Time
	Every(d time.Duration, fn func()) (stop func())
}

// SystemClock returns a Clock backed by time.Ticker.
func SystemClock() Clock { return systemClock{} }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) Every(d time.Duration, fn func()) func() {
	ticker := time.NewTicker(d)
	done := make(chan struct{})
	var once sync.Once

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				// A tick and a stop can be ready together; stop wins.
				select {
				case <-done:
					return
				default:
				}
				fn()
			}
		}
	}()

	return func() { once.Do(func() { close(done) }) }
}
