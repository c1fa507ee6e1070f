// Package identity keeps the locally stored user record. Login here is demo
// logic: there is no credential check, the record only supplies the numeric
// user id sent to the backend.
package identity

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"unicode"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/voxchat/pkg/idgen"
	"github.com/go-go-golems/voxchat/pkg/kvstore"
)

const (
	KeyUser = "user"

	// DefaultUserID is used whenever the stored id has no numeric value.
	DefaultUserID = 1

	ProviderLocal = "local"
	ProviderGuest = "guest"
)

type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Provider string `json:"provider,omitempty"`
}

// Provider supplies the numeric id used in the realtime handshake and HTTP requests.
type Provider interface {
	UserID() int
}

type Store struct {
	mu   sync.Mutex
	kv   kvstore.Store
	ids  *idgen.Generator
	user *User
}

var _ Provider = &Store{}

func Load(ctx context.Context, kv kvstore.Store) (*Store, error) {
	if kv == nil {
		return nil, errors.New("identity: nil kvstore")
	}
	s := &Store{kv: kv, ids: idgen.New()}
	var u User
	err := kvstore.GetJSON(ctx, kv, KeyUser, &u)
	switch {
	case err == nil:
		s.user = &u
	case errors.Is(err, kvstore.ErrNotFound):
	default:
		log.Warn().Err(err).Str("component", "identity").Msg("stored user unreadable, treating as logged out")
	}
	return s, nil
}

func (s *Store) User() (User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return User{}, false
	}
	return *s.user, true
}

func (s *Store) LoggedIn() bool {
	_, ok := s.User()
	return ok
}

func (s *Store) UserID() int {
	u, ok := s.User()
	if !ok {
		return DefaultUserID
	}
	return ParseUserID(u.ID)
}

// Login stores a local user. An empty username logs in as guest, whose id
// carries a "guest_" prefix and therefore maps to DefaultUserID.
func (s *Store) Login(ctx context.Context, username string) (User, error) {
	username = strings.TrimSpace(username)
	u := User{
		ID:       s.ids.Next(),
		Username: username,
		Provider: ProviderLocal,
	}
	if username == "" {
		u.ID = "guest_" + u.ID
		u.Username = "Guest"
		u.Provider = ProviderGuest
	}
	if err := kvstore.PutJSON(ctx, s.kv, KeyUser, u); err != nil {
		return User{}, errors.Wrap(err, "identity: save user")
	}
	s.mu.Lock()
	s.user = &u
	s.mu.Unlock()
	log.Info().Str("component", "identity").Str("username", u.Username).Str("provider", u.Provider).Msg("logged in")
	return u, nil
}

// Logout forgets the user and deletes any extra keys given, such as history
// and quota state.
func (s *Store) Logout(ctx context.Context, extraKeys ...string) error {
	s.mu.Lock()
	s.user = nil
	s.mu.Unlock()
	for _, k := range append([]string{KeyUser}, extraKeys...) {
		if err := s.kv.Delete(ctx, k); err != nil {
			return errors.Wrapf(err, "identity: delete %q", k)
		}
	}
	return nil
}

// ParseUserID reads the leading integer of raw, ignoring anything after it.
// Ids without one, or whose value is zero, map to DefaultUserID.
func ParseUserID(raw string) int {
	raw = strings.TrimLeftFunc(raw, unicode.IsSpace)
	end := 0
	if end < len(raw) && (raw[end] == '-' || raw[end] == '+') {
		end++
	}
	digitsStart := end
	for end < len(raw) && raw[end] >= '0' && raw[end] <= '9' {
		end++
	}
	if end == digitsStart {
		return DefaultUserID
	}
	v, err := strconv.Atoi(raw[:end])
	if err != nil || v == 0 {
		return DefaultUserID
	}
	return v
}
