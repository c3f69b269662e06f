package session

import (
	"net/http"
	"strings"
	"sync"
	"time"
)

// Jar is the set of browser cookies that accompany upstream calls for one
// session. It starts from the inbound Cookie header and absorbs Set-Cookie
// lines returned by the remote API, so a cookie rotated by a refresh is the
// one sent on the next call within the same session.
type Jar struct {
	mu     sync.RWMutex
	names  []string
	values map[string]string
}

// ParseJar builds a Jar from a Cookie request header.
func ParseJar(header string) *Jar {
	j := &Jar{values: make(map[string]string)}
	if strings.TrimSpace(header) == "" {
		return j
	}
	r := http.Request{Header: http.Header{"Cookie": {header}}}
	for _, c := range r.Cookies() {
		j.set(c.Name, c.Value)
	}
	return j
}

// Get returns the value of the named cookie.
func (j *Jar) Get(name string) (string, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	v, ok := j.values[name]
	return v, ok
}

// Set stores a cookie value.
func (j *Jar) Set(name, value string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.set(name, value)
}

func (j *Jar) set(name, value string) {
	if _, ok := j.values[name]; !ok {
		j.names = append(j.names, name)
	}
	j.values[name] = value
}

// Delete removes a cookie.
func (j *Jar) Delete(name string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.delete(name)
}

func (j *Jar) delete(name string) {
	if _, ok := j.values[name]; !ok {
		return
	}
	delete(j.values, name)
	for i, n := range j.names {
		if n == name {
			j.names = append(j.names[:i], j.names[i+1:]...)
			break
		}
	}
}

// Merge applies raw Set-Cookie header values. Deletions (negative Max-Age or
// an Expires in the past) remove the cookie. Unparseable lines are skipped.
func (j *Jar) Merge(setCookies []string) {
	now := time.Now()
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, line := range setCookies {
		c, err := http.ParseSetCookie(line)
		if err != nil {
			continue
		}
		if c.MaxAge < 0 || (!c.Expires.IsZero() && c.Expires.Before(now)) {
			j.delete(c.Name)
			continue
		}
		j.set(c.Name, c.Value)
	}
}

// Header renders the jar as a Cookie request header value.
func (j *Jar) Header() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	parts := make([]string, 0, len(j.names))
	for _, name := range j.names {
		parts = append(parts, name+"="+j.values[name])
	}
	return strings.Join(parts, "; ")
}

// size returns the number of cookies.
func (j *Jar) size() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.names)
}
