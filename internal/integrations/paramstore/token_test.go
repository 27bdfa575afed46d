package paramstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeGetter struct {
	values map[string]string
	err    error
	calls  int
}

func (f *fakeGetter) GetParameter(_ context.Context, name string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	v, ok := f.values[name]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

func TestCachedToken_ReadsOnce(t *testing.T) {
	g := &fakeGetter{values: map[string]string{"telegram-token": `{"token":"123:abc"}`}}
	ts, err := NewCachedToken(g, "telegram-token")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		tok, err := ts.Token(context.Background())
		require.NoError(t, err)
		require.Equal(t, "123:abc", tok)
	}
	require.Equal(t, 1, g.calls)
}

func TestCachedToken_RetriesAfterFailure(t *testing.T) {
	g := &fakeGetter{err: errors.New("throttled")}
	ts, err := NewCachedToken(g, "openrouter-token")
	require.NoError(t, err)

	_, err = ts.Token(context.Background())
	require.ErrorContains(t, err, "throttled")

	g.err = nil
	g.values = map[string]string{"openrouter-token": `{"token":"sk-1"}`}
	tok, err := ts.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "sk-1", tok)
	require.Equal(t, 2, g.calls)
}

func TestCachedToken_RejectsBadPayload(t *testing.T) {
	cases := map[string]string{
		"not json":    "sk-plain",
		"empty token": `{"token":"  "}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			ts, err := NewCachedToken(&fakeGetter{values: map[string]string{"p": raw}}, "p")
			require.NoError(t, err)
			_, err = ts.Token(context.Background())
			require.Error(t, err)
		})
	}
}

func TestNewCachedToken_Validates(t *testing.T) {
	_, err := NewCachedToken(nil, "p")
	require.Error(t, err)
	_, err = NewCachedToken(&fakeGetter{}, " ")
	require.Error(t, err)
}

func TestStaticToken(t *testing.T) {
	tok, err := StaticToken("abc").Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "abc", tok)

	_, err = StaticToken("").Token(context.Background())
	require.Error(t, err)
}
