package session

import (
	"net/http"
	"time"
)

// Cookie renders p as a ready-to-send cookie. The browser lifetime equals
// the payload lifetime, so a cookie the browser still sends is never
// older than MaxAge when it arrives.
func (c *Codec) Cookie(p Payload) (*http.Cookie, error) {
	value, err := c.Encode(p)
	if err != nil {
		return nil, err
	}

	return &http.Cookie{
		Name:     c.cfg.Name,
		Value:    value,
		Path:     c.cfg.Path,
		Domain:   c.cfg.Domain,
		MaxAge:   int(c.cfg.MaxAge / time.Second),
		Expires:  p.IssuedAt.Add(c.cfg.MaxAge),
		Secure:   c.cfg.Secure,
		HttpOnly: true,
		SameSite: c.cfg.SameSite,
	}, nil
}

// Issue starts a new session for subjectID and sets its cookie on w.
// Every call mints a new payload; existing sessions are left untouched.
func (c *Codec) Issue(w http.ResponseWriter, subjectID int64) (Payload, error) {
	p := c.NewPayload(subjectID)

	cookie, err := c.Cookie(p)
	if err != nil {
		return Payload{}, err
	}
	http.SetCookie(w, cookie)

	return p, nil
}

// ExpiredCookie is the cookie that makes the browser drop this domain's
// session.
func (c *Codec) ExpiredCookie() *http.Cookie {
	return &http.Cookie{
		Name:     c.cfg.Name,
		Value:    "",
		Path:     c.cfg.Path,
		Domain:   c.cfg.Domain,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		Secure:   c.cfg.Secure,
		HttpOnly: true,
		SameSite: c.cfg.SameSite,
	}
}

// Clear overwrites the session cookie with an expired empty one. It is
// safe to call without a session and may be called repeatedly.
func (c *Codec) Clear(w http.ResponseWriter) {
	http.SetCookie(w, c.ExpiredCookie())
}
