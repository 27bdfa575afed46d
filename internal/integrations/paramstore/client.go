package paramstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// ssmAPI is the subset of *ssm.Client the relay uses.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
	GetParameters(ctx context.Context, in *ssm.GetParametersInput, optFns ...func(*ssm.Options)) (*ssm.GetParametersOutput, error)
}

// Getter is the interface that wraps GetParameter. Token sources depend on
// it rather than on *Client so they stay testable without AWS.
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// Client reads decrypted SSM parameters below a common prefix.
type Client struct {
	api    ssmAPI
	prefix string
}

// New creates a Client. prefix is joined to relative names with "/".
func New(api ssmAPI, prefix string) (*Client, error) {
	if api == nil {
		return nil, errors.New("paramstore: api must not be nil")
	}
	prefix = strings.TrimRight(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return nil, errors.New("paramstore: prefix must not be empty")
	}
	return &Client{api: api, prefix: prefix}, nil
}

// Name returns the absolute parameter name for a relative one.
func (c *Client) Name(rel string) string {
	return c.prefix + "/" + strings.TrimLeft(strings.TrimSpace(rel), "/")
}

// GetParameter reads one parameter. Names without a leading "/" are resolved
// below the client prefix.
func (c *Client) GetParameter(ctx context.Context, name string) (string, error) {
	if c.api == nil {
		return "", errors.New("paramstore: client not initialized")
	}
	name = c.resolve(name)
	if name == "" {
		return "", errors.New("paramstore: name is required")
	}

	out, err := c.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("paramstore: get parameter %q: %w", name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("paramstore: parameter %q missing value", name)
	}
	return *out.Parameter.Value, nil
}

// Missing reports which of the given parameters do not exist. Values are
// never returned, so it is safe for diagnostics output.
func (c *Client) Missing(ctx context.Context, names ...string) ([]string, error) {
	if c.api == nil {
		return nil, errors.New("paramstore: client not initialized")
	}
	resolved := make([]string, 0, len(names))
	for _, n := range names {
		if r := c.resolve(n); r != "" {
			resolved = append(resolved, r)
		}
	}
	if len(resolved) == 0 {
		return nil, nil
	}
	out, err := c.api.GetParameters(ctx, &ssm.GetParametersInput{
		Names:          resolved,
		WithDecryption: aws.Bool(false),
	})
	if err != nil {
		return nil, fmt.Errorf("paramstore: get parameters: %w", err)
	}
	if out == nil {
		return resolved, nil
	}
	return out.InvalidParameters, nil
}

func (c *Client) resolve(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	if strings.HasPrefix(name, "/") {
		return name
	}
	return c.Name(name)
}
