package grpc

import (
	"context"
	"time"

	"github.com/dmitrijs2005/credkeeper/internal/server/services"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func (s *GRPCServer) Register(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {

	s.logger.Info(ctx, "Registration request")

	user, pair, err := s.users.Register(ctx, services.RegisterRequest{
		UserName:    field(req, "username"),
		Email:       field(req, "email"),
		DisplayName: field(req, "display_name"),
		Password:    field(req, "password"),
	})
	if err != nil {
		return nil, s.toStatus(ctx, MethodRegister, err)
	}

	s.logger.Info(ctx, "Registered", "user_id", user.ID)
	return s.pairResponse(ctx, pair, map[string]any{"user_id": user.ID})
}

func (s *GRPCServer) Login(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {

	pair, err := s.users.Login(ctx, field(req, "login"), field(req, "password"))
	if err != nil {
		return nil, s.toStatus(ctx, MethodLogin, err)
	}

	return s.pairResponse(ctx, pair, nil)
}

func (s *GRPCServer) Refresh(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {

	pair, err := s.users.Refresh(ctx, req.GetValue())
	if err != nil {
		return nil, s.toStatus(ctx, MethodRefresh, err)
	}

	return s.pairResponse(ctx, pair, nil)
}

func (s *GRPCServer) Logout(ctx context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {

	if err := s.users.Logout(ctx, req.GetValue()); err != nil {
		return nil, s.toStatus(ctx, MethodLogout, err)
	}

	return &emptypb.Empty{}, nil
}

func (s *GRPCServer) LogoutAll(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {

	claims, ok := claimsFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing token")
	}

	n, err := s.users.LogoutAll(ctx, claims.UserID)
	if err != nil {
		return nil, s.toStatus(ctx, MethodLogoutAll, err)
	}

	return s.structResponse(ctx, map[string]any{"revoked": float64(n)})
}

func (s *GRPCServer) Verify(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {

	claims, err := s.users.VerifyAccessToken(ctx, req.GetValue())
	if err != nil {
		return nil, s.toStatus(ctx, MethodVerify, err)
	}

	return s.structResponse(ctx, map[string]any{
		"user_id":    claims.UserID,
		"email":      claims.Email,
		"expires_at": claims.ExpiresAt.Time.UTC().Format(time.RFC3339),
	})
}

func (s *GRPCServer) ChangePassword(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {

	claims, ok := claimsFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing token")
	}

	err := s.users.ChangePassword(ctx, claims.UserID, field(req, "old_password"), field(req, "new_password"))
	if err != nil {
		return nil, s.toStatus(ctx, MethodChangePassword, err)
	}

	return &emptypb.Empty{}, nil
}

func (s *GRPCServer) pairResponse(ctx context.Context, pair *services.TokenPair, extra map[string]any) (*structpb.Struct, error) {
	m := map[string]any{
		"access_token":             pair.AccessToken,
		"access_token_expires_at":  pair.AccessTokenExpiresAt.UTC().Format(time.RFC3339),
		"refresh_token":            pair.RefreshToken,
		"refresh_token_expires_at": pair.RefreshTokenExpiresAt.UTC().Format(time.RFC3339),
	}
	for k, v := range extra {
		m[k] = v
	}
	return s.structResponse(ctx, m)
}

func (s *GRPCServer) structResponse(ctx context.Context, m map[string]any) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(m)
	if err != nil {
		s.logger.Error(ctx, "response encoding failed", "error", err)
		return nil, status.Error(codes.Internal, "internal error")
	}
	return out, nil
}

// field returns the string value of key, or "" when absent or not a string.
func field(st *structpb.Struct, key string) string {
	return st.GetFields()[key].GetStringValue()
}
