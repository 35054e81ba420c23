// Package keys loads the process-wide key material (access token signing
// keys and the refresh token HMAC secret) once at startup. Material can live
// in a file, an environment variable or an S3 object.
package keys

import (
	"bytes"
	"context"
	"crypto"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dmitrijs2005/credkeeper/internal/server/auth"
	"github.com/golang-jwt/jwt/v5"
)

// Location prefixes understood by Read. Anything else is a file path.
const (
	schemeEnv  = "env://"
	schemeFile = "file://"
	schemeS3   = "s3://"
)

// ErrMissing is returned when a required location is empty or resolves to
// no data.
var ErrMissing = errors.New("key material missing")

// Locations names where each piece of material lives.
type Locations struct {
	SigningKey string
	PublicKey  string // optional, derived from SigningKey when empty
	HMACSecret string
}

// S3Options configures the client used for s3:// locations.
type S3Options struct {
	Region       string
	BaseEndpoint string
	AccessKey    string
	SecretKey    string
}

// Material is the loaded key set. It is immutable after Load returns.
type Material struct {
	SigningKey crypto.PrivateKey
	PublicKey  crypto.PublicKey
	HMACSecret []byte
}

type objectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// seams for tests
var (
	loadDefaultAWSConfig  = config.LoadDefaultConfig
	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) objectGetter {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

// Loader reads key material from its locations.
type Loader struct {
	s3opts S3Options
	s3     objectGetter
}

// NewLoader returns a loader; the S3 client is only built on first use.
func NewLoader(s3opts S3Options) *Loader {
	return &Loader{s3opts: s3opts}
}

// Load reads and parses every piece of material. Any failure is fatal to
// startup; nothing is retried.
func (l *Loader) Load(ctx context.Context, loc Locations) (*Material, error) {
	privPEM, err := l.Read(ctx, loc.SigningKey)
	if err != nil {
		return nil, fmt.Errorf("signing key: %w", err)
	}
	priv, err := ParsePrivateKey(privPEM)
	if err != nil {
		return nil, fmt.Errorf("signing key: %w", err)
	}

	var pub crypto.PublicKey
	if loc.PublicKey != "" {
		pubPEM, err := l.Read(ctx, loc.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("public key: %w", err)
		}
		if pub, err = ParsePublicKey(pubPEM); err != nil {
			return nil, fmt.Errorf("public key: %w", err)
		}
	} else {
		signer, ok := priv.(crypto.Signer)
		if !ok {
			return nil, fmt.Errorf("signing key: cannot derive public key from %T", priv)
		}
		pub = signer.Public()
	}

	secret, err := l.Read(ctx, loc.HMACSecret)
	if err != nil {
		return nil, fmt.Errorf("hmac secret: %w", err)
	}
	secret = bytes.TrimSpace(secret)
	if len(secret) < auth.MinHMACKeyLen {
		return nil, fmt.Errorf("hmac secret: %w", auth.ErrHMACKeyMissing)
	}

	return &Material{SigningKey: priv, PublicKey: pub, HMACSecret: secret}, nil
}

// Read returns the bytes at location.
func (l *Loader) Read(ctx context.Context, location string) ([]byte, error) {
	var (
		data []byte
		err  error
	)

	switch {
	case location == "":
		return nil, ErrMissing
	case strings.HasPrefix(location, schemeEnv):
		name := strings.TrimPrefix(location, schemeEnv)
		v, ok := os.LookupEnv(name)
		if !ok {
			return nil, fmt.Errorf("%w: environment variable %s not set", ErrMissing, name)
		}
		data = []byte(v)
	case strings.HasPrefix(location, schemeS3):
		data, err = l.readS3(ctx, strings.TrimPrefix(location, schemeS3))
	default:
		data, err = os.ReadFile(strings.TrimPrefix(location, schemeFile))
	}

	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrMissing, location)
	}
	return data, nil
}

func (l *Loader) readS3(ctx context.Context, path string) ([]byte, error) {
	bucket, key, ok := strings.Cut(path, "/")
	if !ok || bucket == "" || key == "" {
		return nil, fmt.Errorf("invalid s3 location %q, want s3://bucket/key", path)
	}

	client, err := l.s3Client(ctx)
	if err != nil {
		return nil, err
	}

	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 get %s: %w", path, err)
	}
	defer out.Body.Close()

	return io.ReadAll(out.Body)
}

func (l *Loader) s3Client(ctx context.Context) (objectGetter, error) {
	if l.s3 != nil {
		return l.s3, nil
	}

	var opts []func(*config.LoadOptions) error
	if l.s3opts.Region != "" {
		opts = append(opts, config.WithRegion(l.s3opts.Region))
	}
	if l.s3opts.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			l.s3opts.AccessKey,
			l.s3opts.SecretKey,
			"",
		)))
	}

	cfg, err := loadDefaultAWSConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}

	l.s3 = newS3ClientFromConfig(cfg, func(o *s3.Options) {
		if l.s3opts.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(l.s3opts.BaseEndpoint)
			o.UsePathStyle = true
		}
	})
	return l.s3, nil
}

// ParsePrivateKey parses a PEM Ed25519, RSA or EC private key.
func ParsePrivateKey(data []byte) (crypto.PrivateKey, error) {
	if k, err := jwt.ParseEdPrivateKeyFromPEM(data); err == nil {
		return k, nil
	}
	if k, err := jwt.ParseRSAPrivateKeyFromPEM(data); err == nil {
		return k, nil
	}
	if k, err := jwt.ParseECPrivateKeyFromPEM(data); err == nil {
		return k, nil
	}
	return nil, errors.New("unsupported or malformed private key")
}

// ParsePublicKey parses a PEM Ed25519, RSA or EC public key.
func ParsePublicKey(data []byte) (crypto.PublicKey, error) {
	if k, err := jwt.ParseEdPublicKeyFromPEM(data); err == nil {
		return k, nil
	}
	if k, err := jwt.ParseRSAPublicKeyFromPEM(data); err == nil {
		return k, nil
	}
	if k, err := jwt.ParseECPublicKeyFromPEM(data); err == nil {
		return k, nil
	}
	return nil, errors.New("unsupported or malformed public key")
}
