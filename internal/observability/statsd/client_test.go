package statsd

import (
	"net"
	"strings"
	"testing"
)

func TestCleanName(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		" jobs/duration ":  "jobs_duration",
		"guardrail..block": "guardrail.block",
		"two  words":       "two__words",
		"pipe|colon:name":  "pipe_colon_name",
		"...":              "",
	}

	for input, want := range tests {
		if got := cleanName(input); got != want {
			t.Fatalf("cleanName(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestQualifyAppliesPrefix(t *testing.T) {
	t.Parallel()

	c := &Client{prefix: "draftmill"}
	if got := c.qualify("jobs.finished"); got != "draftmill.jobs.finished" {
		t.Fatalf("qualify = %q", got)
	}

	bare := &Client{}
	if got := bare.qualify("jobs.finished"); got != "jobs.finished" {
		t.Fatalf("qualify without prefix = %q", got)
	}
}

func TestTagSuffixMergesAndSorts(t *testing.T) {
	t.Parallel()

	global := map[string]string{
		"env": "prod",
		// Padded key and value exercise the trimming path.
		//nolint:gocritic // whitespace is part of the test case
		" component ": " pipeline ",
	}
	local := map[string]string{
		"status": " completed ",
		"":       "ignored",
		"env":    "stage",
	}

	got := tagSuffix(global, local)
	want := "|#component:pipeline,env:stage,status:completed"

	if got != want {
		t.Fatalf("tagSuffix mismatch\n got: %q\nwant: %q", got, want)
	}

	if suffix := tagSuffix(nil, nil); suffix != "" {
		t.Fatalf("tagSuffix(nil, nil) = %q, want empty string", suffix)
	}
}

func TestCopyTagsReturnsCopy(t *testing.T) {
	t.Parallel()

	original := map[string]string{
		"env": "prod",
		"":    "ignored",
	}

	cloned := copyTags(original)
	if cloned == nil {
		t.Fatal("copyTags returned nil map")
	}

	cloned["env"] = "stage"
	if original["env"] != "prod" {
		t.Fatal("copyTags did not copy values")
	}

	if _, ok := cloned[""]; ok {
		t.Fatal("copyTags kept empty key")
	}
}

func TestClientEnabledAndClose(t *testing.T) {
	t.Parallel()

	clientConn, peerConn := net.Pipe()
	defer peerConn.Close()

	client := &Client{
		enabled: true,
		conn:    clientConn,
	}

	if !client.Enabled() {
		t.Fatal("expected client.Enabled to report true with active connection")
	}

	if err := client.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	if client.Enabled() {
		t.Fatal("expected client.Enabled to report false after Close")
	}

	// Close is idempotent.
	if err := client.Close(); err != nil {
		t.Fatalf("Close (second call) error: %v", err)
	}

	var nilClient *Client
	if nilClient.Enabled() {
		t.Fatal("nil client should report disabled")
	}
	if err := nilClient.Close(); err != nil {
		t.Fatalf("nil client Close error: %v", err)
	}
}

func TestNewClientDisabledWithoutAddress(t *testing.T) {
	t.Parallel()

	client, err := NewClient(Config{
		Enabled: true,
		Address: "   ",
	})
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}

	if client.Enabled() {
		t.Fatal("expected client to stay disabled when address is empty")
	}
}

func TestNewClientDialError(t *testing.T) {
	t.Parallel()

	_, err := NewClient(Config{
		Enabled: true,
		Address: "bad address",
	})
	if err == nil {
		t.Fatal("expected NewClient to error for invalid address")
	}
	if !strings.Contains(err.Error(), "statsd dial") {
		t.Fatalf("unexpected error: %v", err)
	}
}
