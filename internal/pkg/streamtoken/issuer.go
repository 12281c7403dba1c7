package streamtoken

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ManuelReschke/StreamPass/app/models"
	"github.com/ManuelReschke/StreamPass/app/repository"
	"github.com/ManuelReschke/StreamPass/internal/pkg/metrics"
)

var (
	ErrTokenInvalid       = errors.New("stream token invalid")
	ErrTokenExpired       = errors.New("stream token expired")
	ErrTokenRevoked       = errors.New("stream token revoked")
	ErrTokenScopeMismatch = errors.New("stream token not valid for this room or mode")
	ErrTokenNotFound      = errors.New("stream token not found")

	ErrInvalidRequest = errors.New("invalid stream token request")
	ErrRoomNotFound   = errors.New("room not found")
	ErrNotAuthorized  = errors.New("not authorized for this room")
)

const (
	DefaultTTL    = 5 * time.Minute
	DefaultIssuer = "streampass"
)

// Claims are the scope claims of a stream access token.
type Claims struct {
	Room           string `json:"room"`
	Mode           string `json:"mode"`
	ContentID      string `json:"cid,omitempty"`
	SubscriptionID string `json:"sid,omitempty"`
	PurchaseID     string `json:"pid,omitempty"`
	jwt.RegisteredClaims
}

// Proof names the entitlement a viewer expects to be authorized by. Empty
// fields let the issuer pick any valid entitlement.
type Proof struct {
	SubscriptionID string `json:"subscription_id"`
	PurchaseID     string `json:"purchase_id"`
}

type IssuedToken struct {
	Token     string    `json:"token"`
	ID        string    `json:"id"`
	RoomID    string    `json:"room_id"`
	Mode      string    `json:"mode"`
	ExpiresAt time.Time `json:"expires_at"`
}

type Rooms interface {
	GetRoom(ctx context.Context, id string) (*models.Room, error)
}

type SubscriptionChecker interface {
	HasAccess(ctx context.Context, subscriberID, performerID string) (*models.Subscription, bool, error)
}

type TicketFinder interface {
	FindStreamTicket(ctx context.Context, buyerID, roomID string) (*models.Purchase, error)
}

type Options struct {
	TTL    time.Duration
	Issuer string
	Leeway time.Duration
	Now    func() time.Time
}

// Issuer mints, validates and revokes stream access tokens. Validation only
// reads the token and the revocation list, never the ledger.
type Issuer struct {
	db          *gorm.DB
	key         []byte
	rooms       Rooms
	subs        SubscriptionChecker
	tickets     TicketFinder
	revocations RevocationList
	options     Options
}

func NewIssuer(db *gorm.DB, key []byte, rooms Rooms, subs SubscriptionChecker, tickets TicketFinder, revocations RevocationList, opts Options) (*Issuer, error) {
	if len(key) == 0 {
		return nil, errors.New("stream token signing key is required")
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Issuer == "" {
		opts.Issuer = DefaultIssuer
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if revocations == nil {
		revocations = NewDBRevocationList(db, opts.Now)
	}
	return &Issuer{
		db:          db,
		key:         key,
		rooms:       rooms,
		subs:        subs,
		tickets:     tickets,
		revocations: revocations,
		options:     opts,
	}, nil
}

// Issue mints a token for subjectID on roomID. Publishing is reserved to the
// room's performer. Playing needs a public room, a subscription to the
// performer that is still inside its paid period, or a stream ticket for the
// room.
func (i *Issuer) Issue(ctx context.Context, subjectID, roomID, mode string, proof Proof) (*IssuedToken, error) {
	subjectID = strings.TrimSpace(subjectID)
	roomID = strings.TrimSpace(roomID)
	if subjectID == "" || roomID == "" || !models.IsValidStreamMode(mode) {
		return nil, ErrInvalidRequest
	}

	room, err := i.rooms.GetRoom(ctx, roomID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}

	claims := &Claims{Room: room.ID, Mode: mode}
	switch {
	case mode == models.StreamModePublish:
		if room.PerformerID != subjectID {
			metrics.TokenIssued(mode, metrics.OutcomeRejected)
			return nil, ErrNotAuthorized
		}
	case room.PerformerID == subjectID, room.IsPublic:
	default:
		if err := i.authorizePlay(ctx, subjectID, room, proof, claims); err != nil {
			if errors.Is(err, ErrNotAuthorized) {
				metrics.TokenIssued(mode, metrics.OutcomeRejected)
			}
			return nil, err
		}
	}

	now := i.options.Now().UTC().Truncate(time.Second)
	expires := now.Add(i.options.TTL)
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   subjectID,
		Issuer:    i.options.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return nil, err
	}

	record := &models.StreamToken{
		ID:             claims.ID,
		RoomID:         room.ID,
		SubjectID:      subjectID,
		Mode:           mode,
		ContentID:      claims.ContentID,
		SubscriptionID: claims.SubscriptionID,
		PurchaseID:     claims.PurchaseID,
		IssuedAt:       now,
		ExpiresAt:      expires,
	}
	if err := i.db.WithContext(ctx).Create(record).Error; err != nil {
		metrics.TokenIssued(mode, metrics.OutcomeError)
		return nil, fmt.Errorf("record stream token: %w", err)
	}

	metrics.TokenIssued(mode, metrics.OutcomeOK)
	log.Debugf("[StreamToken] Issued %s token %s for %s on %s", mode, claims.ID, subjectID, room.ID)
	return &IssuedToken{Token: signed, ID: claims.ID, RoomID: room.ID, Mode: mode, ExpiresAt: expires}, nil
}

func (i *Issuer) authorizePlay(ctx context.Context, subjectID string, room *models.Room, proof Proof, claims *Claims) error {
	if proof.PurchaseID == "" && i.subs != nil {
		sub, ok, err := i.subs.HasAccess(ctx, subjectID, room.PerformerID)
		if err != nil {
			return err
		}
		if ok && (proof.SubscriptionID == "" || proof.SubscriptionID == sub.ID) {
			claims.SubscriptionID = sub.ID
			return nil
		}
	}
	if proof.SubscriptionID == "" && i.tickets != nil {
		ticket, err := i.tickets.FindStreamTicket(ctx, subjectID, room.ID)
		if err != nil {
			return err
		}
		if ticket != nil && (proof.PurchaseID == "" || proof.PurchaseID == ticket.ID) {
			claims.PurchaseID = ticket.ID
			claims.ContentID = ticket.ItemID
			return nil
		}
	}
	return ErrNotAuthorized
}

// Validate checks signature, expiry, room and mode, and the revocation list.
func (i *Issuer) Validate(ctx context.Context, token, roomID, mode string) (*Claims, error) {
	claims, err := i.validate(ctx, token, roomID, mode)
	metrics.TokenValidation(validationResult(err))
	return claims, err
}

func (i *Issuer) validate(ctx context.Context, token, roomID, mode string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrTokenInvalid
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return i.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.options.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(i.options.Leeway),
		jwt.WithTimeFunc(i.options.Now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !parsed.Valid || claims.ID == "" {
		return nil, ErrTokenInvalid
	}
	if claims.Room != roomID || claims.Mode != mode {
		return nil, ErrTokenScopeMismatch
	}

	revoked, err := i.revocations.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, ErrTokenRevoked
	}
	return claims, nil
}

// Revoke invalidates a token before its expiry. It returns once the
// revocation is durable.
func (i *Issuer) Revoke(ctx context.Context, tokenID string) error {
	var record models.StreamToken
	err := i.db.WithContext(ctx).Where("id = ?", tokenID).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrTokenNotFound
	}
	if err != nil {
		return err
	}
	if err := i.revocations.Revoke(ctx, record.ID, record.ExpiresAt); err != nil {
		return err
	}
	log.Infof("[StreamToken] Revoked %s (%s on %s)", record.ID, record.SubjectID, record.RoomID)
	return nil
}

// PurgeRevocations drops revocations of tokens that expired before now.
func (i *Issuer) PurgeRevocations(ctx context.Context, now time.Time) (int64, error) {
	n, err := i.revocations.Purge(ctx, now)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Infof("[StreamToken] Purged %d expired revocations", n)
	}
	return n, nil
}

// Now returns the issuer's clock reading.
func (i *Issuer) Now() time.Time {
	return i.options.Now()
}

func validationResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTokenExpired):
		return "expired"
	case errors.Is(err, ErrTokenRevoked):
		return "revoked"
	case errors.Is(err, ErrTokenScopeMismatch):
		return "scope_mismatch"
	case errors.Is(err, ErrTokenInvalid):
		return "invalid"
	default:
		return "error"
	}
}
