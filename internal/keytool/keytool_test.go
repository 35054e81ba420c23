package keytool

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/credkeeper/internal/filex"
	"github.com/dmitrijs2005/credkeeper/internal/server/auth"
	"github.com/dmitrijs2005/credkeeper/internal/server/keys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	gs "github.com/dmitrijs2005/credkeeper/internal/server/grpc"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := NewRootCmd(strings.NewReader(stdin), &out, &errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestGenKeys_LoadableByServer(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "keys")

	out, err := run(t, "", "genkeys", "--out", dir)
	require.NoError(t, err)
	assert.Contains(t, out, SigningKeyFile)

	m, err := keys.NewLoader(keys.S3Options{}).Load(context.Background(), keys.Locations{
		SigningKey: filepath.Join(dir, SigningKeyFile),
		PublicKey:  filepath.Join(dir, PublicKeyFile),
		HMACSecret: filepath.Join(dir, HMACSecretFile),
	})
	require.NoError(t, err)
	assert.Len(t, m.HMACSecret, 2*auth.MinHMACKeyLen)

	_, err = auth.NewAccessTokenIssuer(m.SigningKey, m.PublicKey, "iss", "aud", time.Minute)
	require.NoError(t, err, "generated pair must match")
}

func TestGenKeys_RefusesOverwrite(t *testing.T) {
	dir := t.TempDir()

	_, err := run(t, "", "genkeys", "-o", dir)
	require.NoError(t, err)
	first, err := os.ReadFile(filepath.Join(dir, HMACSecretFile))
	require.NoError(t, err)

	_, err = run(t, "", "genkeys", "-o", dir)
	require.ErrorIs(t, err, filex.ErrExists)

	_, err = run(t, "", "genkeys", "-o", dir, "--force")
	require.NoError(t, err)
	second, err := os.ReadFile(filepath.Join(dir, HMACSecretFile))
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestHashPassword(t *testing.T) {
	const pw = "Corr3ct-Horse"

	out, err := run(t, pw+"\n", "hash-password", "--algorithm", "argon2id")
	require.NoError(t, err)

	hash := strings.TrimSpace(out)
	assert.True(t, strings.HasPrefix(hash, "$argon2id$"))

	h, err := auth.NewPasswordHasher(auth.AlgorithmArgon2id, 0)
	require.NoError(t, err)
	assert.True(t, h.Verify(pw, hash))
}

func TestHashPassword_Policy(t *testing.T) {
	_, err := run(t, "weak\n", "hash-password", "-a", "argon2id")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "password")

	out, err := run(t, "weak", "hash-password", "-a", "argon2id", "--skip-policy")
	require.NoError(t, err)
	assert.NotEmpty(t, strings.TrimSpace(out))

	_, err = run(t, "", "hash-password", "-a", "argon2id", "--skip-policy")
	require.Error(t, err, "empty input is an error")

	_, err = run(t, "Corr3ct-Horse\n", "hash-password", "--cost", "4")
	require.Error(t, err)
}

func TestReadSecret_Terminal(t *testing.T) {
	origRead, origIsTerm := readPassword, isTerminal
	t.Cleanup(func() { readPassword, isTerminal = origRead, origIsTerm })

	isTerminal = func(int) bool { return true }
	readPassword = func(int) ([]byte, error) { return []byte("from-tty"), nil }

	var prompt bytes.Buffer
	got, err := readSecret(os.Stdin, &prompt, "Enter password: ")
	require.NoError(t, err)
	assert.Equal(t, "from-tty", string(got))
	assert.Equal(t, "Enter password: \n", prompt.String())
}

// fakeAuth answers Login and Verify; other methods are never called.
type fakeAuth struct {
	gs.AuthServiceServer
	gotLogin string
}

func (f *fakeAuth) Login(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f.gotLogin = req.GetFields()["login"].GetStringValue()
	if req.GetFields()["password"].GetStringValue() != "Corr3ct-Horse" {
		return nil, status.Error(codes.Unauthenticated, "invalid credentials")
	}
	return structpb.NewStruct(map[string]any{"access_token": "at", "refresh_token": "rt"})
}

func (f *fakeAuth) Verify(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	if req.GetValue() != "at" {
		return nil, status.Error(codes.Unauthenticated, "invalid token")
	}
	return structpb.NewStruct(map[string]any{"user_id": "u-1"})
}

func startFakeServer(t *testing.T) *fakeAuth {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	fake := &fakeAuth{}
	gs.RegisterAuthServiceServer(srv, fake)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	orig := newConn
	t.Cleanup(func() { newConn = orig })
	newConn = func(string) (*grpc.ClientConn, error) {
		return grpc.NewClient("passthrough:///bufnet",
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		)
	}
	return fake
}

func TestLoginAndVerify(t *testing.T) {
	fake := startFakeServer(t)

	out, err := run(t, "Corr3ct-Horse\n", "login", "--login", "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", fake.gotLogin)

	var pair map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &pair))
	assert.Equal(t, "at", pair["access_token"])
	assert.Equal(t, "rt", pair["refresh_token"])

	out, err = run(t, "", "verify", "at")
	require.NoError(t, err)
	assert.Contains(t, out, "u-1")

	_, err = run(t, "", "verify", "bogus")
	require.Error(t, err)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestLogin_Failures(t *testing.T) {
	startFakeServer(t)

	_, err := run(t, "wrong\n", "login", "-l", "alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "login failed")

	_, err = run(t, "x\n", "login")
	require.Error(t, err, "--login is required")
}
