package imapmail

import (
	"bytes"
	"strings"
	"testing"

	"github.com/emersion/go-imap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFetcher(t *testing.T) *Fetcher {
	t.Helper()
	f, err := NewFetcher(Config{
		Server:   "imap.example.com:993",
		Address:  "bot@example.com",
		Password: "secret",
	}, nil)
	require.NoError(t, err)
	return f
}

func TestNewFetcherValidation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "missing server", cfg: Config{Address: "a@b.c", Password: "x"}, wantErr: "Server is required"},
		{name: "missing address", cfg: Config{Server: "s:993", Password: "x"}, wantErr: "Address is required"},
		{name: "missing password", cfg: Config{Server: "s:993", Address: "a@b.c"}, wantErr: "Password is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFetcher(tt.cfg, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewFetcherDefaultsMailbox(t *testing.T) {
	f := newTestFetcher(t)
	assert.Equal(t, "INBOX", f.cfg.Mailbox)
}

func TestToInbound(t *testing.T) {
	f := newTestFetcher(t)
	section := &imap.BodySectionName{Peek: true}
	// Servers answer a BODY.PEEK[] fetch with a BODY[] item, so the parsed
	// response map is keyed by a section without Peek; GetBody relies on that.
	respSection := &imap.BodySectionName{}

	raw := "From: dev@example.com\r\n" +
		"Subject: Best practices for API rate limiting\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"Please cover retry budgets too.\r\n"
	msg := &imap.Message{
		Uid: 42,
		Envelope: &imap.Envelope{
			Subject: "Best practices for API rate limiting",
			From:    []*imap.Address{{PersonalName: "Dev", MailboxName: "dev", HostName: "example.com"}},
		},
		Body: map[*imap.BodySectionName]imap.Literal{
			respSection: bytes.NewBufferString(raw),
		},
	}

	in, ok := f.toInbound(msg, section, 7)
	require.True(t, ok)
	assert.Equal(t, "7:42", in.UID)
	assert.Equal(t, "dev@example.com", in.Sender)
	assert.Equal(t, "Best practices for API rate limiting", in.Subject)
	assert.Equal(t, "Please cover retry budgets too.", in.Body)
}

func TestToInboundSkipsUnusableMessages(t *testing.T) {
	f := newTestFetcher(t)
	section := &imap.BodySectionName{Peek: true}

	tests := []struct {
		name string
		msg  *imap.Message
	}{
		{name: "nil message", msg: nil},
		{name: "no envelope", msg: &imap.Message{Uid: 1}},
		{name: "no sender", msg: &imap.Message{Uid: 1, Envelope: &imap.Envelope{Subject: "hi"}}},
		{
			name: "sender without host",
			msg:  &imap.Message{Uid: 1, Envelope: &imap.Envelope{From: []*imap.Address{{MailboxName: "dev"}}}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := f.toInbound(tt.msg, section, 7)
			assert.False(t, ok)
		})
	}
}

func TestTextBodyPrefersPlainPart(t *testing.T) {
	f := newTestFetcher(t)
	raw := "From: dev@example.com\r\n" +
		"Content-Type: multipart/alternative; boundary=XBOUND\r\n" +
		"\r\n" +
		"--XBOUND\r\n" +
		"Content-Type: text/html\r\n" +
		"\r\n" +
		"<p>rich text</p>\r\n" +
		"--XBOUND\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"plain text wins\r\n" +
		"--XBOUND--\r\n"

	assert.Equal(t, "plain text wins", f.textBody(strings.NewReader(raw)))
}

func TestTextBodyHandlesMissingOrBrokenBodies(t *testing.T) {
	f := newTestFetcher(t)

	assert.Empty(t, f.textBody(nil))

	htmlOnly := "Content-Type: text/html\r\n\r\n<p>only html</p>\r\n"
	assert.Empty(t, f.textBody(strings.NewReader(htmlOnly)))

	assert.Empty(t, f.textBody(strings.NewReader("not a mime message")))
}
