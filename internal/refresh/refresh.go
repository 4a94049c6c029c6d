// Package refresh implements component F, RefreshRotator: the per-family,
// single-writer rotation queue for refresh tokens, including reuse
// detection. Grounded on the teacher's refresh/repo.go refresh-token
// repository contract, rebuilt on the actor substrate so rotation of a
// family is always linearized (spec.md §4.F, §5).
package refresh

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/authrim/authrim/internal/oidcerr"
	"github.com/authrim/authrim/internal/shard"
	"github.com/authrim/authrim/storage"
)

// GraceWindow is the default idempotent-retry window for a rotation,
// per spec.md §4.F.
const GraceWindow = 30 * time.Second

const ReasonReusedToken = "reused_refresh_token"

// Family is the durable per-family record. Only the latest (and, briefly,
// the just-superseded) jti are tracked; earlier history is not retained.
type Family struct {
	FamilyID      string
	UserID        string
	ClientID      string
	Scope         string
	Generation    int
	ShardIndex    int
	LatestSeq     int
	LatestJti     string
	PrevSeq       int
	PrevJti       string
	LastRotatedAt time.Time
	ExpiresAt     time.Time
	Revoked       bool
	RevokedReason string
}

// Store is RefreshRotator.
type Store struct {
	host   storage.ActorHost
	kv     storage.KV
	router *shard.Router
}

func New(host storage.ActorHost, kv storage.KV, router *shard.Router) *Store {
	return &Store{host: host, kv: kv, router: router}
}

func familyKey(familyID string) string { return fmt.Sprintf("refresh/family/%s", familyID) }

// Jti formats a refresh-token handle of the wire form rt{gen}_{shard}_{family}_{seq}
// per spec.md §3.
func Jti(gen, shardIdx int, familyID string, seq int) string {
	return fmt.Sprintf("rt%d_%d_%s_%d", gen, shardIdx, familyID, seq)
}

// ParseJti splits a refresh jti into its embedded routing and sequence
// components.
func ParseJti(jti string) (gen, shardIdx int, familyID string, seq int, err error) {
	parts := strings.SplitN(strings.TrimPrefix(jti, "rt"), "_", 4)
	if len(parts) != 4 {
		return 0, 0, "", 0, oidcerr.Protocol(oidcerr.InvalidGrant, "malformed refresh token")
	}
	gen, err1 := strconv.Atoi(parts[0])
	shardIdx, err2 := strconv.Atoi(parts[1])
	seq, err3 := strconv.Atoi(parts[3])
	if err1 != nil || err2 != nil || err3 != nil {
		return 0, 0, "", 0, oidcerr.Protocol(oidcerr.InvalidGrant, "malformed refresh token")
	}
	return gen, shardIdx, parts[2], seq, nil
}

// actorFor resolves the single-writer actor for a family. Routing keys on
// the bare family id rather than a full jti: a family's actor assignment
// must stay stable across rotations even as its embedded generation
// advances, so this deliberately takes the router's legacy hash-mod path
// rather than trying to parse a generation out of the id.
func (s *Store) actorFor(familyID string) (storage.Actor, error) {
	instance, _, _, _, err := s.router.RouteByID(shard.DomainRefresh, familyID)
	if err != nil {
		return nil, oidcerr.Wrap(oidcerr.KindServer, oidcerr.ServerError, err)
	}
	return s.host.ActorByName(instance), nil
}

// MintRequest starts a new family at seq 0.
type MintRequest struct {
	FamilyID   string
	UserID     string
	ClientID   string
	Scope      string
	Generation int
	ShardIndex int
	ExpiresAt  time.Time
}

// Mint creates the first member of a new family.
func (s *Store) Mint(ctx context.Context, req MintRequest) (Family, error) {
	actor, err := s.actorFor(req.FamilyID)
	if err != nil {
		return Family{}, err
	}
	now := time.Now()
	val, err := actor.RPC(ctx, func(ctx context.Context) (interface{}, error) {
		f := Family{
			FamilyID:      req.FamilyID,
			UserID:        req.UserID,
			ClientID:      req.ClientID,
			Scope:         req.Scope,
			Generation:    req.Generation,
			ShardIndex:    req.ShardIndex,
			LatestSeq:     0,
			LatestJti:     Jti(req.Generation, req.ShardIndex, req.FamilyID, 0),
			PrevSeq:       -1,
			LastRotatedAt: now,
			ExpiresAt:     req.ExpiresAt,
		}
		if putErr := s.persist(ctx, f); putErr != nil {
			return nil, putErr
		}
		return f, nil
	})
	if err != nil {
		return Family{}, err
	}
	return val.(Family), nil
}

func (s *Store) persist(ctx context.Context, f Family) error {
	ttl := time.Until(f.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Second
	}
	if err := s.kv.Put(ctx, familyKey(f.FamilyID), encode(f), ttl); err != nil {
		return oidcerr.Wrap(oidcerr.KindServer, oidcerr.ServerError, err)
	}
	return nil
}

func (s *Store) load(ctx context.Context, familyID string) (Family, error) {
	raw, err := s.kv.Get(ctx, familyKey(familyID))
	if err != nil {
		return Family{}, oidcerr.New(oidcerr.KindNotFound, oidcerr.InvalidGrant, "refresh token family not found")
	}
	return decode(raw)
}

// Rotate implements spec.md §4.F's rotate(old_jti): if old_jti is not the
// latest member of its family, the whole family is revoked and
// invalid_grant is returned (reuse detection). Otherwise a new member is
// minted. A retry of the just-superseded jti within GraceWindow is
// treated as idempotent and returns the same freshly-minted pair again.
func (s *Store) Rotate(ctx context.Context, oldJti string) (Family, error) {
	_, _, familyID, oldSeq, err := ParseJti(oldJti)
	if err != nil {
		return Family{}, err
	}
	actor, err := s.actorFor(familyID)
	if err != nil {
		return Family{}, err
	}
	val, err := actor.RPC(ctx, func(ctx context.Context) (interface{}, error) {
		f, loadErr := s.load(ctx, familyID)
		if loadErr != nil {
			return nil, loadErr
		}
		if f.Revoked {
			return nil, oidcerr.New(oidcerr.KindForbidden, oidcerr.InvalidGrant, "refresh token family revoked")
		}
		now := time.Now()
		switch {
		case oldSeq == f.LatestSeq:
			f.PrevSeq = f.LatestSeq
			f.PrevJti = f.LatestJti
			f.LatestSeq++
			f.LatestJti = Jti(f.Generation, f.ShardIndex, f.FamilyID, f.LatestSeq)
			f.LastRotatedAt = now
		case oldSeq == f.PrevSeq && oldJti == f.PrevJti && now.Sub(f.LastRotatedAt) <= GraceWindow:
			// idempotent retry of the rotation that just happened.
		default:
			f.Revoked = true
			f.RevokedReason = ReasonReusedToken
			if putErr := s.persist(ctx, f); putErr != nil {
				return nil, putErr
			}
			return nil, oidcerr.New(oidcerr.KindForbidden, oidcerr.InvalidGrant, "refresh token reuse detected")
		}
		if putErr := s.persist(ctx, f); putErr != nil {
			return nil, putErr
		}
		return f, nil
	})
	if err != nil {
		return Family{}, err
	}
	return val.(Family), nil
}

// BatchRevoke revokes, with reason, the whole family of each named jti
// that is no longer the latest member of its family. A jti that is still
// the latest member is not revoked at all: its family is left unchanged
// and the jti stays rotatable.
func (s *Store) BatchRevoke(ctx context.Context, jtis []string, reason string) error {
	for _, jti := range jtis {
		_, _, familyID, seq, err := ParseJti(jti)
		if err != nil {
			return err
		}
		actor, err := s.actorFor(familyID)
		if err != nil {
			return err
		}
		_, err = actor.RPC(ctx, func(ctx context.Context) (interface{}, error) {
			f, loadErr := s.load(ctx, familyID)
			if loadErr != nil {
				if loadErr == storage.ErrNotFound {
					return nil, nil
				}
				return nil, loadErr
			}
			if seq == f.LatestSeq {
				return nil, nil
			}
			f.Revoked = true
			f.RevokedReason = reason
			return nil, s.persist(ctx, f)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Get returns the current family state for introspection/diagnostics.
func (s *Store) Get(ctx context.Context, familyID string) (Family, error) {
	actor, err := s.actorFor(familyID)
	if err != nil {
		return Family{}, err
	}
	val, err := actor.RPC(ctx, func(ctx context.Context) (interface{}, error) {
		return s.load(ctx, familyID)
	})
	if err != nil {
		return Family{}, err
	}
	return val.(Family), nil
}
