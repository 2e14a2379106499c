package tunnel

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helperEnv = "TUNNEL_TEST_HELPER"

func TestMain(m *testing.M) {
	switch os.Getenv(helperEnv) {
	case "":
		os.Exit(m.Run())
	case "announce":
		fmt.Println("connecting...")
		fmt.Fprintln(os.Stderr, "your url is: https://brave-otter-42.loca.lt")
		time.Sleep(time.Minute)
	case "silent":
		time.Sleep(time.Minute)
	case "quit":
		fmt.Println("no credentials")
		os.Exit(1)
	}
	os.Exit(0)
}

func helperProvider(t *testing.T, mode string) *CommandProvider {
	t.Helper()
	exe, err := os.Executable()
	require.NoError(t, err)
	p := Localtunnel(nil)
	p.Command = exe
	p.Args = func(int) []string { return nil }
	p.Env = []string{helperEnv + "=" + mode}
	return p
}

func TestEnabled(t *testing.T) {
	for _, mode := range []string{"", "false", "0", "no", " FALSE "} {
		assert.False(t, Enabled(mode, false), mode)
	}
	assert.True(t, Enabled("ngrok", false))
	assert.False(t, Enabled("ngrok", true), "desktop mode never tunnels")
}

func TestFromMode(t *testing.T) {
	assert.IsType(t, Disabled{}, FromMode("false", false, nil))
	assert.IsType(t, Disabled{}, FromMode("cloudflared", true, nil))

	cf, ok := FromMode("cloudflared", false, nil).(*CommandProvider)
	require.True(t, ok)
	assert.Equal(t, "cloudflared", cf.Name)
	assert.Equal(t, []string{"tunnel", "--url", "http://localhost:8787"}, cf.Args(8787))

	ng := FromMode("ngrok", false, nil).(*CommandProvider)
	assert.Equal(t, "ngrok", ng.Command)
	lt := FromMode("localtunnel", false, nil).(*CommandProvider)
	assert.Equal(t, "lt", lt.Command)
}

func TestProviderPatterns(t *testing.T) {
	cases := []struct {
		p    *CommandProvider
		line string
		want string
	}{
		{Cloudflared(nil), "INF |  https://quiet-lake-1234.trycloudflare.com  |", "https://quiet-lake-1234.trycloudflare.com"},
		{Ngrok(nil), `t=2024 lvl=info msg="started tunnel" url=https://ab12.ngrok-free.app`, "https://ab12.ngrok-free.app"},
		{Localtunnel(nil), "your url is: https://brave-otter-42.loca.lt", "https://brave-otter-42.loca.lt"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.p.Pattern.FindString(tc.line), tc.p.Name)
	}
}

func TestStartFindsURL(t *testing.T) {
	p := helperProvider(t, "announce")
	res, err := p.Start(context.Background(), 8787)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "localtunnel", res.Provider)
	assert.Equal(t, "https://brave-otter-42.loca.lt", res.URL)

	_, err = p.Start(context.Background(), 8787)
	assert.Error(t, err, "second start must be refused")
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
}

func TestStartTimesOut(t *testing.T) {
	p := helperProvider(t, "silent")
	p.Timeout = 300 * time.Millisecond
	start := time.Now()
	res, err := p.Start(context.Background(), 1)
	assert.Nil(t, res)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestStartProcessExits(t *testing.T) {
	p := helperProvider(t, "quit")
	p.Pattern = regexp.MustCompile(`https://never\.example`)
	res, err := p.Start(context.Background(), 1)
	assert.Nil(t, res)
	assert.ErrorContains(t, err, "exited before")
}

func TestStartMissingBinary(t *testing.T) {
	p := Localtunnel(nil)
	p.Command = "definitely-not-a-tunnel-cli"
	_, err := p.Start(context.Background(), 1)
	assert.Error(t, err)
}

func TestDisabled(t *testing.T) {
	res, err := Disabled{}.Start(context.Background(), 1)
	assert.NoError(t, err)
	assert.Nil(t, res)
}
