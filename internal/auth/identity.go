package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

type IdentityKind int

const (
	Guest IdentityKind = iota
	Authenticated
)

func (k IdentityKind) String() string {
	if k == Authenticated {
		return "authenticated"
	}
	return "guest"
}

// Identity is the principal a request acts as: an account, or a guest fingerprint.
//
// The guest fingerprint is derived from the client IP and a client-supplied device id, both of
// which a caller controls. It only scopes anonymous history until login and must never be
// treated as equivalent to an authenticated session.
type Identity struct {
	Kind        IdentityKind
	UserID      string
	Fingerprint string
}

// RequestMeta is the slice of an inbound request the resolver looks at.
type RequestMeta struct {
	UserID   string
	DeviceID string
	IP       string
}

func (i Identity) IsAuthenticated() bool { return i.Kind == Authenticated }

// Key is the opaque identity token: the user id, or the guest fingerprint.
func (i Identity) Key() string {
	if i.IsAuthenticated() {
		return i.UserID
	}
	return i.Fingerprint
}

func UserIdentity(userID string) Identity {
	return Identity{Kind: Authenticated, UserID: userID}
}

func GuestIdentity(fingerprint string) Identity {
	return Identity{Kind: Guest, Fingerprint: fingerprint}
}

func ResolveIdentity(meta RequestMeta) Identity {
	if userID := strings.TrimSpace(meta.UserID); userID != "" {
		return UserIdentity(userID)
	}
	return GuestIdentity(GuestFingerprint(meta.IP, meta.DeviceID))
}

// GuestFingerprint hashes ip and device id. The separator keeps ("1.2.3.4", "5") and
// ("1.2.3.45", "") apart.
func GuestFingerprint(ip, deviceID string) string {
	ip = strings.TrimSpace(ip)
	deviceID = strings.TrimSpace(deviceID)

	input := ip
	if deviceID != "" {
		input = ip + "|" + deviceID
	}
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}
