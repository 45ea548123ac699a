package grpcserver

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/and161185/waitgate/internal/errs"
)

func makeJWT(t *testing.T, sub string, key []byte, method jwt.SigningMethod, iat time.Time, ttl time.Duration) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   sub,
		IssuedAt:  jwt.NewNumericDate(iat),
		NotBefore: jwt.NewNumericDate(iat),
		ExpiresAt: jwt.NewNumericDate(iat.Add(ttl)),
	}
	token := jwt.NewWithClaims(method, claims)
	s, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	return s
}

func ctxWithAuth(token string) context.Context {
	md := metadata.New(map[string]string{
		"authorization": "Bearer " + token,
	})
	return metadata.NewIncomingContext(context.Background(), md)
}

func ctxWithAuthPairs(kv ...string) context.Context {
	return metadata.NewIncomingContext(context.Background(), metadata.Pairs(kv...))
}

func Test_bearerTokenFromMD_OkAndErrors(t *testing.T) {
	t.Parallel()

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer abc.def.ghi"))
	got, err := bearerTokenFromMD(ctx)
	if err != nil || got != "abc.def.ghi" {
		t.Fatalf("ok: got=%q err=%v", got, err)
	}

	ctx = metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Basic foo"))
	if _, err := bearerTokenFromMD(ctx); err == nil {
		t.Fatalf("want error on non-bearer")
	}

	ctx = metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer   "))
	if _, err := bearerTokenFromMD(ctx); err == nil {
		t.Fatalf("want error on empty token")
	}

	if _, err := bearerTokenFromMD(context.Background()); err == nil {
		t.Fatalf("want error on no metadata")
	}
}

func Test_userIDFromCtx_Valid(t *testing.T) {
	t.Parallel()

	s := &Server{signKey: []byte("secret")}
	sub := uuid.Must(uuid.NewV4()).String()
	j := makeJWT(t, sub, s.signKey, jwt.SigningMethodHS256, time.Now().UTC().Add(-time.Minute), 10*time.Minute)
	ctx := ctxWithAuth(j)

	id, err := s.userIDFromCtx(ctx)
	if err != nil {
		t.Fatalf("userIDFromCtx: %v", err)
	}
	if id != sub {
		t.Fatalf("subject mismatch: %s vs %s", id, sub)
	}
}

func Test_userIDFromCtx_NoMetadata(t *testing.T) {
	t.Parallel()

	s := &Server{signKey: []byte("secret")}
	if _, err := s.userIDFromCtx(context.Background()); err == nil {
		t.Fatalf("want error on missing metadata")
	}
}

func Test_userIDFromCtx_Expired(t *testing.T) {
	t.Parallel()

	s := &Server{signKey: []byte("secret")}
	sub := uuid.Must(uuid.NewV4()).String()

	j := makeJWT(t, sub, s.signKey, jwt.SigningMethodHS256, time.Now().UTC().Add(-2*time.Hour), -time.Hour)
	ctx := ctxWithAuth(j)

	if _, err := s.userIDFromCtx(ctx); err == nil {
		t.Fatalf("want error on expired token")
	}
}

func Test_userIDFromCtx_BadSubject(t *testing.T) {
	t.Parallel()

	s := &Server{signKey: []byte("secret")}
	j := makeJWT(t, "   ", s.signKey, jwt.SigningMethodHS256, time.Now().UTC(), time.Hour)
	ctx := ctxWithAuth(j)

	if _, err := s.userIDFromCtx(ctx); err == nil {
		t.Fatalf("want error on bad subject")
	}
}

func Test_userIDFromCtx_WrongAlg(t *testing.T) {
	t.Parallel()

	s := &Server{signKey: []byte("secret")}
	sub := uuid.Must(uuid.NewV4()).String()

	j := makeJWT(t, sub, s.signKey, jwt.SigningMethodHS384, time.Now().UTC(), time.Hour)
	ctx := ctxWithAuth(j)

	if _, err := s.userIDFromCtx(ctx); err == nil {
		t.Fatalf("want error on wrong alg")
	}
}

func Test_userIDFromCtx_InvalidTokenString(t *testing.T) {
	t.Parallel()

	s := &Server{signKey: []byte("secret")}
	ctx := ctxWithAuth("this-is-not-a-jwt")

	if _, err := s.userIDFromCtx(ctx); err == nil {
		t.Fatalf("want error on invalid token string")
	}
}

func Test_toStatus_Codes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		want codes.Code
	}{
		{fmt.Errorf("%w: bad email", errs.ErrValidation), codes.InvalidArgument},
		{errs.ErrNotFound, codes.NotFound},
		{errs.ErrAlreadyInUse, codes.AlreadyExists},
		{errs.ErrInvalidCredential, codes.Unauthenticated},
		{errs.ErrForbidden, codes.PermissionDenied},
		{errs.ErrRateLimited, codes.ResourceExhausted},
		{fmt.Errorf("approve: %w", errs.ErrInvalidTransition), codes.FailedPrecondition},
		{&errs.ProviderError{Op: "probe", Err: errors.New("quota")}, codes.Internal},
		{context.DeadlineExceeded, codes.DeadlineExceeded},
		{errors.New("boom"), codes.Internal},
	}
	for _, tc := range cases {
		st, ok := status.FromError(toStatus("op", tc.err))
		if !ok || st.Code() != tc.want {
			t.Fatalf("%v: got %v want %v", tc.err, st.Code(), tc.want)
		}
	}
}

func Test_remoteHost_StripsPort(t *testing.T) {
	t.Parallel()

	if got := remoteHost(context.Background()); got != "" {
		t.Fatalf("want empty, got %q", got)
	}
	pctx := peer.NewContext(context.Background(), &peer.Peer{Addr: loopbackAddr{}})
	if got := remoteHost(pctx); got != "127.0.0.1" {
		t.Fatalf("want host only, got %q", got)
	}
}

func Test_audit_RecordsActor(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	s := &Server{log: zap.New(core)}
	s.audit(WithUserID(context.Background(), "admin-1"), "entry approved", zap.String("entry", "e1"))

	entries := logs.FilterMessage("entry approved").All()
	if len(entries) != 1 {
		t.Fatalf("want one audit entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["actor"] != "admin-1" || fields["entry"] != "e1" {
		t.Fatalf("audit fields: %v", fields)
	}

	(&Server{}).audit(context.Background(), "no logger")
}
