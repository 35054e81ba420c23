package keytool

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/credkeeper/internal/common"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	gs "github.com/dmitrijs2005/credkeeper/internal/server/grpc"
)

const (
	defaultAddr    = "localhost:50051"
	requestTimeout = 10 * time.Second
)

// newConn is a test seam for dialing the server.
var newConn = func(addr string) (*grpc.ClientConn, error) {
	return grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
}

func withClient(addr string, fn func(ctx context.Context, c *gs.AuthClient) (proto.Message, error)) (proto.Message, error) {
	conn, err := newConn(addr)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", addr, err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	return fn(ctx, gs.NewAuthClient(conn))
}

func printJSON(cmd *cobra.Command, m proto.Message) error {
	b, err := protojson.MarshalOptions{Multiline: true}.Marshal(m)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return nil
}

func newLoginCmd() *cobra.Command {
	var addr, login string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in to a running server and print the issued token pair",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := readSecret(cmd.InOrStdin(), cmd.ErrOrStderr(), "Enter password: ")
			if err != nil {
				return err
			}
			defer common.WipeByteArray(pw)

			req, err := structpb.NewStruct(map[string]any{
				"login":    login,
				"password": string(pw),
			})
			if err != nil {
				return err
			}

			resp, err := withClient(addr, func(ctx context.Context, c *gs.AuthClient) (proto.Message, error) {
				return c.Login(ctx, req)
			})
			if err != nil {
				return fmt.Errorf("login failed: %w", err)
			}
			return printJSON(cmd, resp)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", defaultAddr, "server gRPC address")
	cmd.Flags().StringVarP(&login, "login", "l", "", "username or email")
	_ = cmd.MarkFlagRequired("login")

	return cmd
}

func newVerifyCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "verify ACCESS_TOKEN",
		Short: "Ask a running server to verify an access token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := withClient(addr, func(ctx context.Context, c *gs.AuthClient) (proto.Message, error) {
				return c.Verify(ctx, wrapperspb.String(args[0]))
			})
			if err != nil {
				return fmt.Errorf("verify failed: %w", err)
			}
			return printJSON(cmd, resp)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", defaultAddr, "server gRPC address")

	return cmd
}
