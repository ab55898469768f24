package hook

import (
	"bufio"
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"os"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
)

// ErrMalformedPasswordFile is returned by LoadPasswordFile when a line isn't
// "username:hash".
var ErrMalformedPasswordFile = errors.New("hook: malformed password file line")

// PasswordFileHook authenticates CONNECT packets against an MD5-hashed
// username:hash password file, the same format mosquitto_passwd produces
// without the -c bcrypt flag.
type PasswordFileHook struct {
	*Base
	mu     sync.RWMutex
	hashes map[string]string // username -> lowercase hex MD5 digest
}

// NewPasswordFileHook creates an empty password-file hook. Call LoadPasswordFile
// to populate it.
func NewPasswordFileHook() *PasswordFileHook {
	return &PasswordFileHook{
		Base:   &Base{id: "password-file-auth"},
		hashes: make(map[string]string),
	}
}

// ID returns the hook identifier.
func (h *PasswordFileHook) ID() string {
	return h.id
}

// Provides indicates this hook provides authentication.
func (h *PasswordFileHook) Provides(event Event) bool {
	return event == OnConnectAuthenticate
}

// LoadPasswordFile reads path and replaces the hook's in-memory credential set.
// Each line must be "username:hexmd5digest"; blank lines and lines starting
// with '#' are skipped.
func (h *PasswordFileHook) LoadPasswordFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open password file %q", path)
	}
	defer f.Close()

	hashes := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		username, digest, ok := strings.Cut(line, ":")
		if !ok || username == "" || digest == "" {
			return errors.Wrapf(ErrMalformedPasswordFile, "line %q", line)
		}
		hashes[username] = strings.ToLower(digest)
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "read password file %q", path)
	}

	h.mu.Lock()
	h.hashes = hashes
	h.mu.Unlock()
	return nil
}

// OnConnectAuthenticate checks packet's username/password against the loaded
// MD5 digests in constant time.
func (h *PasswordFileHook) OnConnectAuthenticate(client *Client, packet *ConnectPacket) bool {
	h.mu.RLock()
	want, ok := h.hashes[packet.Username]
	h.mu.RUnlock()
	if !ok {
		return false
	}

	sum := md5.Sum(packet.Password)
	got := hex.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// UserCount reports how many credentials are currently loaded.
func (h *PasswordFileHook) UserCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.hashes)
}
