package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/waitgate/internal/model"
)

// Client is a typed client of the Provisioning service.
type Client struct {
	cc    grpc.ClientConnInterface
	token string
}

// NewClient wraps a connection.
func NewClient(cc grpc.ClientConnInterface) *Client { return &Client{cc: cc} }

// WithToken returns a copy that sends token as a bearer credential.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

func (c *Client) outgoing(ctx context.Context) context.Context {
	if c.token == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.token)
}

func (c *Client) invoke(ctx context.Context, method string, req, resp any) error {
	in, err := Encode(req)
	if err != nil {
		return err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(c.outgoing(ctx), FullMethod(method), in, out); err != nil {
		return err
	}
	return Decode(out, resp)
}

func (c *Client) Join(ctx context.Context, email string) (model.WaitlistEntry, error) {
	var out model.WaitlistEntry
	err := c.invoke(ctx, Join, JoinRequest{Email: email}, &out)
	return out, err
}

func (c *Client) SelfRegister(ctx context.Context, email, secret string) (*Registration, error) {
	out := &Registration{}
	if err := c.invoke(ctx, SelfRegister, CredentialsRequest{Email: email, Secret: secret}, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) SignIn(ctx context.Context, email, secret string) (*Session, error) {
	out := &Session{}
	if err := c.invoke(ctx, SignIn, CredentialsRequest{Email: email, Secret: secret}, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ConfirmPasswordReset(ctx context.Context, token, secret string) error {
	return c.invoke(ctx, ConfirmPasswordReset, ConfirmResetRequest{Token: token, Secret: secret}, &Empty{})
}

func (c *Client) ListWaitlist(ctx context.Context, status model.Status) ([]model.WaitlistEntry, error) {
	out := &Entries{}
	if err := c.invoke(ctx, ListWaitlist, ListWaitlistRequest{Status: string(status)}, out); err != nil {
		return nil, err
	}
	return out.Entries, nil
}

func (c *Client) Approve(ctx context.Context, entryID string) (*Approval, error) {
	out := &Approval{}
	if err := c.invoke(ctx, Approve, EntryRequest{EntryID: entryID}, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateAccount(ctx context.Context, entryID, secret string) (*AccountCreation, error) {
	out := &AccountCreation{}
	if err := c.invoke(ctx, CreateAccount, EntryRequest{EntryID: entryID, Secret: secret}, out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListUsers runs the reconciliation sweep and returns the reconciled users.
func (c *Client) ListUsers(ctx context.Context) (*Users, error) {
	out := &Users{}
	if err := c.invoke(ctx, ListUsers, Empty{}, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ResolvePermissions(ctx context.Context, userID string) (*Permissions, error) {
	out := &Permissions{}
	if err := c.invoke(ctx, ResolvePermissions, UserRequest{UserID: userID}, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ReplayFailedWrites(ctx context.Context) (*Replay, error) {
	out := &Replay{}
	if err := c.invoke(ctx, ReplayFailedWrites, Empty{}, out); err != nil {
		return nil, err
	}
	return out, nil
}

// WatchStreamDesc describes the server-streaming WatchWaitlist method.
var WatchStreamDesc = grpc.StreamDesc{StreamName: WatchWaitlist, ServerStreams: true}

// WaitlistStream receives waitlist snapshots.
type WaitlistStream struct {
	stream grpc.ClientStream
}

// Recv blocks for the next snapshot; io.EOF when the server ends the stream.
func (w *WaitlistStream) Recv() ([]model.WaitlistEntry, error) {
	msg := new(structpb.Struct)
	if err := w.stream.RecvMsg(msg); err != nil {
		return nil, err
	}
	out := &Entries{}
	if err := Decode(msg, out); err != nil {
		return nil, err
	}
	return out.Entries, nil
}

// WatchWaitlist opens a snapshot stream; cancel ctx to release it.
func (c *Client) WatchWaitlist(ctx context.Context, status model.Status) (*WaitlistStream, error) {
	stream, err := c.cc.NewStream(c.outgoing(ctx), &WatchStreamDesc, FullMethod(WatchWaitlist))
	if err != nil {
		return nil, err
	}
	in, err := Encode(ListWaitlistRequest{Status: string(status)})
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &WaitlistStream{stream: stream}, nil
}

