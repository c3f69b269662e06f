package vtest

import (
	"sync"
	"time"
)

// CookieWrite is one page-visible cookie write.
type CookieWrite struct {
	Name   string
	Value  string
	MaxAge time.Duration
}

// Recorder captures what a client-context session sends to its page.
type Recorder struct {
	mu         sync.Mutex
	writes     []CookieWrite
	setCookies []string
}

func (r *Recorder) writeCookie(name, value string, maxAge time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes = append(r.writes, CookieWrite{Name: name, Value: value, MaxAge: maxAge})
}

func (r *Recorder) propagate(lines []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.setCookies = append(r.setCookies, lines...)
}

// Writes returns the recorded cookie writes.
func (r *Recorder) Writes() []CookieWrite {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]CookieWrite(nil), r.writes...)
}

// SetCookies returns the recorded Set-Cookie lines.
func (r *Recorder) SetCookies() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.setCookies...)
}
