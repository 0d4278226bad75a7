package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/ginext"

	"github.com/aliskhannn/image-transcoder/internal/quota"
	"github.com/aliskhannn/image-transcoder/internal/tier"
)

const (
	// UserHeader carries the authenticated user id set by the upstream auth proxy.
	UserHeader = "X-User-ID"
	// TierHeader carries the billing tier of the authenticated user.
	TierHeader = "X-User-Tier"
	// SessionHeader carries an anonymous session id for clients without cookies.
	SessionHeader = "X-Session-ID"
	// SessionCookie stores the anonymous session id.
	SessionCookie = "sid"

	identityKey   = "identity"
	sessionMaxAge = 30 * 24 * 60 * 60
)

// tierChecker reports whether a tier name is configured.
type tierChecker interface {
	Known(name string) bool
}

// Identity attaches the caller's quota identity to the request.
//
// Authenticated callers are identified by UserHeader and may carry a tier.
// Anonymous callers are identified by session and always use the free tier;
// a session id is minted and returned when the request has none.
func Identity(tiers tierChecker) func(*ginext.Context) {
	return func(c *ginext.Context) {
		var id quota.Identity

		if user := strings.TrimSpace(c.GetHeader(UserHeader)); user != "" {
			id = quota.Identity{ID: "user:" + user, Tier: tier.Free}
			if t := strings.ToLower(strings.TrimSpace(c.GetHeader(TierHeader))); t != "" && tiers.Known(t) {
				id.Tier = t
			}
		} else {
			sid := sessionID(c)
			if sid == "" {
				sid = uuid.NewString()
				c.SetSameSite(http.SameSiteLaxMode)
				c.SetCookie(SessionCookie, sid, sessionMaxAge, "/", "", false, true)
			}
			c.Header(SessionHeader, sid)
			id = quota.Identity{ID: "session:" + sid, Tier: tier.Free}
		}

		c.Set(identityKey, id)
		c.Next()
	}
}

func sessionID(c *ginext.Context) string {
	if sid, err := c.Cookie(SessionCookie); err == nil {
		if _, err := uuid.Parse(sid); err == nil {
			return sid
		}
	}
	if sid := strings.TrimSpace(c.GetHeader(SessionHeader)); sid != "" {
		if _, err := uuid.Parse(sid); err == nil {
			return sid
		}
	}
	return ""
}

// IdentityFrom returns the identity attached by Identity.
func IdentityFrom(c *ginext.Context) (quota.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return quota.Identity{}, false
	}
	id, ok := v.(quota.Identity)
	return id, ok
}
