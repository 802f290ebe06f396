package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt"
)

var (
	ErrTokenExpired     = errors.New("token expired")
	ErrTokenMalformed   = errors.New("token malformed")
	ErrSignatureInvalid = errors.New("token signature invalid")
)

const (
	subjectClaim = "sub"
	roomClaim    = "room"
	expClaim     = "exp"
	iatClaim     = "iat"
)

// Claims is what a verified connection token resolves to.
type Claims struct {
	SubjectId string
	RoomId    string
	ExpiresAt time.Time
}

// TokenVerifier turns an opaque credential into claims. Failures wrap one of
// ErrTokenExpired, ErrTokenMalformed or ErrSignatureInvalid.
type TokenVerifier interface {
	Verify(token string) (Claims, error)
}

// JWTVerifier verifies HS256 tokens signed with a shared key.
type JWTVerifier struct {
	key []byte
}

func NewJWTVerifier(key []byte) *JWTVerifier {
	return &JWTVerifier{key: key}
}

func (v *JWTVerifier) Verify(tokenString string) (Claims, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Header["alg"])
		}
		return v.key, nil
	})
	if err != nil {
		return Claims{}, classify(err)
	}

	if !token.Valid {
		return Claims{}, ErrSignatureInvalid
	}

	mc, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, fmt.Errorf("%w: unexpected claims type", ErrTokenMalformed)
	}

	return claimsFromMap(mc)
}

func classify(err error) error {
	var ve *jwt.ValidationError
	if !errors.As(err, &ve) {
		return fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}

	switch {
	case ve.Errors&jwt.ValidationErrorExpired != 0:
		return fmt.Errorf("%w: %v", ErrTokenExpired, err)
	case ve.Errors&(jwt.ValidationErrorSignatureInvalid|jwt.ValidationErrorUnverifiable) != 0:
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	default:
		return fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
}

func claimsFromMap(mc jwt.MapClaims) (Claims, error) {
	sub, _ := mc[subjectClaim].(string)
	if sub == "" {
		return Claims{}, fmt.Errorf("%w: missing %s claim", ErrTokenMalformed, subjectClaim)
	}

	room, _ := mc[roomClaim].(string)
	if room == "" {
		return Claims{}, fmt.Errorf("%w: missing %s claim", ErrTokenMalformed, roomClaim)
	}

	exp, ok := mc[expClaim].(float64)
	if !ok {
		return Claims{}, fmt.Errorf("%w: missing %s claim", ErrTokenMalformed, expClaim)
	}

	return Claims{
		SubjectId: sub,
		RoomId:    room,
		ExpiresAt: time.Unix(int64(exp), 0).UTC(),
	}, nil
}

// Issue signs a connection token for subjectId in roomId valid for ttl.
func Issue(key []byte, subjectId, roomId string, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		subjectClaim: subjectId,
		roomClaim:    roomId,
		iatClaim:     now.Unix(),
		expClaim:     now.Add(ttl).Unix(),
	})

	return token.SignedString(key)
}

// FailureKind names the typed failure carried by err, for error frames.
func FailureKind(err error) string {
	switch {
	case errors.Is(err, ErrTokenExpired):
		return "expired"
	case errors.Is(err, ErrSignatureInvalid):
		return "signature-invalid"
	default:
		return "malformed"
	}
}
