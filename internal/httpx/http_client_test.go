package httpx

import (
	"testing"
	"time"
)

func TestClientHasDefaultTimeout(t *testing.T) {
	c := Client()
	if c == nil {
		t.Fatal("Client() must not be nil")
	}
	if c.Timeout != defaultExternalHTTPTimeout {
		t.Fatalf("client timeout = %s, want %s", c.Timeout, defaultExternalHTTPTimeout)
	}
}

func TestConfigureExternalHTTPClient(t *testing.T) {
	original := externalHTTPClient.Timeout
	t.Cleanup(func() {
		externalHTTPClient.Timeout = original
	})

	cases := []struct {
		seconds int
		want    time.Duration
	}{
		{0, defaultExternalHTTPTimeout},
		{-5, defaultExternalHTTPTimeout},
		{45, 45 * time.Second},
	}
	for _, tc := range cases {
		got := ConfigureExternalHTTPClient(tc.seconds)
		if got != tc.want {
			t.Fatalf("ConfigureExternalHTTPClient(%d) = %s, want %s", tc.seconds, got, tc.want)
		}
		if Client().Timeout != tc.want {
			t.Fatalf("configured timeout = %s, want %s", Client().Timeout, tc.want)
		}
	}
}
