// Package turn issues short-lived TURN credentials using the shared-secret
// scheme: the relay recomputes the HMAC and checks the embedded expiry.
package turn

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/securecall/internal/domain"
)

const DefaultTTL = time.Hour

var DefaultSTUN = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

var ErrNoSecret = errors.New("turn secret not configured")

type Credential struct {
	Username string        `json:"username"`
	Password string        `json:"password"`
	TTL      time.Duration `json:"-"`
	TTLSecs  int64         `json:"ttl"`
	URIs     []string      `json:"uris"`
	Expires  time.Time     `json:"expires_at"`
}

type Issuer struct {
	host   string
	port   int
	secret []byte
	ttl    time.Duration
	stun   []string
	now    func() time.Time
}

type Option func(*Issuer)

func WithClock(now func() time.Time) Option { return func(i *Issuer) { i.now = now } }

func WithSTUN(urls []string) Option { return func(i *Issuer) { i.stun = urls } }

func WithTTL(ttl time.Duration) Option {
	return func(i *Issuer) {
		if ttl > 0 {
			i.ttl = ttl
		}
	}
}

func NewIssuer(host string, port int, secret string, opts ...Option) *Issuer {
	i := &Issuer{
		host:   host,
		port:   port,
		secret: []byte(secret),
		ttl:    DefaultTTL,
		stun:   DefaultSTUN,
		now:    time.Now,
	}
	for _, o := range opts {
		o(i)
	}
	return i
}

// Enabled reports whether TURN credentials can be issued.
func (i *Issuer) Enabled() bool { return len(i.secret) > 0 && i.host != "" }

func (i *Issuer) URIs() []string {
	hp := fmt.Sprintf("%s:%d", i.host, i.port)
	return []string{
		"turn:" + hp + "?transport=udp",
		"turn:" + hp + "?transport=tcp",
		"turns:" + hp + "?transport=tcp",
	}
}

// Issue returns a credential for user on device; ttl <= 0 uses the default.
func (i *Issuer) Issue(user domain.UserID, device domain.DeviceID, ttl time.Duration) (Credential, error) {
	if !i.Enabled() {
		return Credential{}, ErrNoSecret
	}
	if ttl <= 0 {
		ttl = i.ttl
	}
	expires := i.now().Add(ttl)
	username := fmt.Sprintf("%s:%s:%d", user, device, expires.Unix())
	return Credential{
		Username: username,
		Password: Sign(i.secret, username),
		TTL:      ttl,
		TTLSecs:  int64(ttl / time.Second),
		URIs:     i.URIs(),
		Expires:  time.Unix(expires.Unix(), 0),
	}, nil
}

// Sign is hex(HMAC-SHA256(secret, username)).
func Sign(secret []byte, username string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(username))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a credential the way the relay does.
func Verify(secret []byte, username, password string, now time.Time) bool {
	idx := strings.LastIndexByte(username, ':')
	if idx < 0 {
		return false
	}
	exp, err := strconv.ParseInt(username[idx+1:], 10, 64)
	if err != nil || now.Unix() > exp {
		return false
	}
	return hmac.Equal([]byte(Sign(secret, username)), []byte(password))
}

// ICEServers builds the ICE server list for user on device: the STUN
// defaults, then one entry per TURN URI when TURN is configured.
func (i *Issuer) ICEServers(user domain.UserID, device domain.DeviceID) []webrtc.ICEServer {
	servers := make([]webrtc.ICEServer, 0, len(i.stun)+3)
	for _, u := range i.stun {
		servers = append(servers, webrtc.ICEServer{URLs: []string{u}})
	}
	cred, err := i.Issue(user, device, 0)
	if err != nil {
		return servers
	}
	for _, uri := range cred.URIs {
		servers = append(servers, webrtc.ICEServer{
			URLs:           []string{uri},
			Username:       cred.Username,
			Credential:     cred.Password,
			CredentialType: webrtc.ICECredentialTypePassword,
		})
	}
	return servers
}

func (i *Issuer) STUN() []string { return append([]string(nil), i.stun...) }
