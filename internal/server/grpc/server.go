// Package grpcserver exposes the waitgate gRPC API handlers.
package grpcserver

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/waitgate/internal/api"
	"github.com/and161185/waitgate/internal/convert"
	"github.com/and161185/waitgate/internal/errs"
	"github.com/and161185/waitgate/internal/model"
	"github.com/and161185/waitgate/internal/permissions"
	"github.com/and161185/waitgate/internal/service"
)

// Server wires services into gRPC handlers.
type Server struct {
	waitlist service.WaitlistService
	prov     service.ProvisioningService
	recon    service.ReconciliationService
	auth     service.AuthService
	signKey  []byte
	log      *zap.Logger
}

// New constructs a gRPC server with injected services.
func New(waitlist service.WaitlistService, prov service.ProvisioningService, recon service.ReconciliationService, auth service.AuthService, signKey []byte, log *zap.Logger) *Server {
	return &Server{waitlist: waitlist, prov: prov, recon: recon, auth: auth, signKey: signKey, log: log}
}

// Register attaches the Provisioning service to r.
func (s *Server) Register(r grpc.ServiceRegistrar) { r.RegisterService(&ServiceDesc, s) }

// --- public ---

// Join adds an email to the waitlist.
func (s *Server) Join(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in api.JoinRequest
	if err := decode(req, &in); err != nil {
		return nil, err
	}
	e, err := s.waitlist.Join(ctx, in.Email)
	if err != nil {
		return nil, toStatus("join", err)
	}
	return encode(e)
}

// SelfRegister creates an account without administrator involvement.
func (s *Server) SelfRegister(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in api.CredentialsRequest
	if err := decode(req, &in); err != nil {
		return nil, err
	}
	res, err := s.prov.SelfRegister(ctx, in.Email, in.Secret)
	if err != nil {
		return nil, toStatus("self register", err)
	}
	return encode(convert.ToRegistration(res))
}

// SignIn authenticates a caller and returns an access token.
func (s *Server) SignIn(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in api.CredentialsRequest
	if err := decode(req, &in); err != nil {
		return nil, err
	}
	tok, uid, err := s.auth.SignIn(ctx, in.Email, in.Secret, remoteHost(ctx))
	if err != nil {
		return nil, toStatus("sign in", err)
	}
	return encode(convert.ToSession(tok, uid))
}

// ConfirmPasswordReset sets a new secret from a reset token.
func (s *Server) ConfirmPasswordReset(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in api.ConfirmResetRequest
	if err := decode(req, &in); err != nil {
		return nil, err
	}
	if err := s.auth.ConfirmPasswordReset(ctx, in.Token, in.Secret); err != nil {
		return nil, toStatus("confirm reset", err)
	}
	return encode(api.Empty{})
}

// --- admin ---

// ListWaitlist returns waitlist entries, optionally filtered by status.
func (s *Server) ListWaitlist(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ctx, err := s.requireAdmin(ctx)
	if err != nil {
		return nil, err
	}
	var in api.ListWaitlistRequest
	if err := decode(req, &in); err != nil {
		return nil, err
	}
	es, err := s.waitlist.List(ctx, model.Status(in.Status))
	if err != nil {
		return nil, toStatus("list waitlist", err)
	}
	return encode(convert.ToEntries(es))
}

// WatchWaitlist streams waitlist snapshots until the client goes away.
func (s *Server) WatchWaitlist(req *structpb.Struct, stream grpc.ServerStream) error {
	ctx, err := s.requireAdmin(stream.Context())
	if err != nil {
		return err
	}
	var in api.ListWaitlistRequest
	if err := decode(req, &in); err != nil {
		return err
	}
	sub, err := s.waitlist.Watch(ctx, model.Status(in.Status))
	if err != nil {
		return toStatus("watch waitlist", err)
	}
	defer sub.Close()

	for snap := range sub.Snapshots() {
		es, err := service.Entries(snap)
		if err != nil {
			return toStatus("watch waitlist", err)
		}
		msg, err := encode(convert.ToEntries(es))
		if err != nil {
			return err
		}
		if err := stream.SendMsg(msg); err != nil {
			return err
		}
	}
	if err := sub.Err(); err != nil {
		return toStatus("watch waitlist", err)
	}
	return nil
}

// Approve approves a pending waitlist entry.
func (s *Server) Approve(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ctx, err := s.requireAdmin(ctx)
	if err != nil {
		return nil, err
	}
	var in api.EntryRequest
	if err := decode(req, &in); err != nil {
		return nil, err
	}
	res, err := s.prov.Approve(ctx, in.EntryID)
	if err != nil {
		return nil, toStatus("approve", err)
	}
	s.audit(ctx, "entry approved", zap.String("entry", in.EntryID), zap.Bool("existingAccount", res.ExistingAccount))
	return encode(convert.ToApproval(res))
}

// CreateAccount creates the deferred account of an approved entry.
func (s *Server) CreateAccount(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ctx, err := s.requireAdmin(ctx)
	if err != nil {
		return nil, err
	}
	var in api.EntryRequest
	if err := decode(req, &in); err != nil {
		return nil, err
	}
	res, err := s.prov.CreateAccount(ctx, in.EntryID, in.Secret)
	if err != nil {
		return nil, toStatus("create account", err)
	}
	s.audit(ctx, "account created", zap.String("entry", in.EntryID), zap.Bool("existingAccount", res.ExistingAccount))
	return encode(convert.ToAccountCreation(res))
}

// RunReconciliation runs the sweep and returns the reconciled users.
func (s *Server) RunReconciliation(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ctx, err := s.requireAdmin(ctx)
	if err != nil {
		return nil, err
	}
	res, err := s.recon.Run(ctx)
	if err != nil {
		return nil, toStatus("reconcile", err)
	}
	return encode(convert.ToUsers(res))
}

// ListUsers is RunReconciliation: user lists are always reconciled first.
func (s *Server) ListUsers(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.RunReconciliation(ctx, req)
}

// ResolvePermissions returns the effective permissions of a user.
func (s *Server) ResolvePermissions(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ctx, err := s.requireAdmin(ctx)
	if err != nil {
		return nil, err
	}
	var in api.UserRequest
	if err := decode(req, &in); err != nil {
		return nil, err
	}
	perms, err := s.recon.ResolvePermissions(ctx, in.UserID)
	if err != nil {
		return nil, toStatus("resolve permissions", err)
	}
	return encode(convert.ToPermissions(in.UserID, perms))
}

// ReplayFailedWrites re-applies journaled writes.
func (s *Server) ReplayFailedWrites(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ctx, err := s.requireAdmin(ctx)
	if err != nil {
		return nil, err
	}
	res, err := s.recon.ReplayFailedWrites(ctx)
	if err != nil {
		return nil, toStatus("replay", err)
	}
	s.audit(ctx, "journal replayed", zap.Int("replayed", res.Replayed), zap.Int("failed", res.Failed))
	return encode(convert.ToReplay(res))
}

// --- auth ---

// requireAdmin authenticates the bearer token and checks that its user may
// manage the waitlist. The returned context carries the user id.
func (s *Server) requireAdmin(ctx context.Context) (context.Context, error) {
	uid, err := s.userIDFromCtx(ctx)
	if err != nil {
		return ctx, status.Error(codes.Unauthenticated, "no auth")
	}
	if err := s.recon.Authorize(ctx, uid, permissions.ApproveWaitlist); err != nil {
		if errors.Is(err, errs.ErrNotFound) || errors.Is(err, errs.ErrForbidden) {
			return ctx, status.Error(codes.PermissionDenied, "forbidden")
		}
		return ctx, toStatus("authorize", err)
	}
	return WithUserID(ctx, uid), nil
}

// audit logs an admin action together with the acting user.
func (s *Server) audit(ctx context.Context, action string, fields ...zap.Field) {
	if s.log == nil {
		return
	}
	uid, _ := UserIDFromCtx(ctx)
	s.log.Info(action, append(fields, zap.String("actor", uid))...)
}

// userIDFromCtx: extract "authorization: Bearer <JWT>", verify HS256, return sub.
func (s *Server) userIDFromCtx(ctx context.Context) (string, error) {
	tok, err := bearerTokenFromMD(ctx)
	if err != nil {
		return "", err
	}

	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(tok, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return s.signKey, nil
	})
	if err != nil || !parsed.Valid {
		return "", errors.New("invalid token")
	}

	v := jwt.NewValidator(jwt.WithLeeway(30 * time.Second))
	if err := v.Validate(&claims); err != nil {
		return "", errors.New("token expired or not valid yet")
	}

	if strings.TrimSpace(claims.Subject) == "" {
		return "", errors.New("bad subject")
	}
	return claims.Subject, nil
}

func bearerTokenFromMD(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", errors.New("no metadata")
	}
	for _, v := range md.Get("authorization") {
		v = strings.TrimSpace(v)
		if len(v) >= 7 && strings.EqualFold(v[:7], "bearer ") {
			t := strings.TrimSpace(v[7:])
			if t != "" {
				return t, nil
			}
		}
	}
	return "", errors.New("no bearer token")
}

// remoteHost is the peer address without its port, so sign-in throttling
// follows the client rather than the connection.
func remoteHost(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return ""
	}
	addr := p.Addr.String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// --- wire ---

func decode(req *structpb.Struct, v any) error {
	if req == nil {
		return nil
	}
	if err := api.Decode(req, v); err != nil {
		return status.Errorf(codes.InvalidArgument, "bad request: %v", err)
	}
	return nil
}

func encode(v any) (*structpb.Struct, error) {
	out, err := api.Encode(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode: %v", err)
	}
	return out, nil
}

// toStatus maps service errors onto gRPC codes.
func toStatus(op string, err error) error {
	var pe *errs.ProviderError
	switch {
	case errors.Is(err, errs.ErrValidation):
		return status.Errorf(codes.InvalidArgument, "%s: %v", op, err)
	case errors.Is(err, errs.ErrNotFound):
		return status.Error(codes.NotFound, "not found")
	case errors.Is(err, errs.ErrAlreadyInUse):
		return status.Error(codes.AlreadyExists, "already in use")
	case errors.Is(err, errs.ErrUnauthorized), errors.Is(err, errs.ErrInvalidCredential):
		return status.Error(codes.Unauthenticated, "bad credentials")
	case errors.Is(err, errs.ErrForbidden):
		return status.Error(codes.PermissionDenied, "forbidden")
	case errors.Is(err, errs.ErrRateLimited):
		return status.Error(codes.ResourceExhausted, "rate limited")
	case errors.Is(err, errs.ErrInvalidTransition):
		return status.Errorf(codes.FailedPrecondition, "%s: %v", op, err)
	case errors.As(err, &pe):
		return status.Errorf(codes.Internal, "%s: %v", op, pe)
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "canceled")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "deadline exceeded")
	default:
		return status.Errorf(codes.Internal, "%s: %v", op, err)
	}
}
