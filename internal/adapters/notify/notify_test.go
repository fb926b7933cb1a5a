package notify

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"go.uber.org/zap"
)

type received struct {
	from string
	to   []string
	data string
	user string
}

type testBackend struct {
	mu   sync.Mutex
	msgs []received
}

func (b *testBackend) NewSession(_ *smtp.Conn) (smtp.Session, error) {
	return &testSession{backend: b}, nil
}

func (b *testBackend) messages() []received {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]received(nil), b.msgs...)
}

type testSession struct {
	backend *testBackend
	cur     received
}

func (s *testSession) AuthMechanisms() []string {
	return []string{sasl.Plain}
}

func (s *testSession) Auth(mech string) (sasl.Server, error) {
	return sasl.NewPlainServer(func(identity, username, password string) error {
		if username != "mailer" || password != "secret" {
			return errors.New("invalid credentials")
		}
		s.cur.user = username
		return nil
	}), nil
}

func (s *testSession) Mail(from string, _ *smtp.MailOptions) error {
	s.cur.from = from
	return nil
}

func (s *testSession) Rcpt(to string, _ *smtp.RcptOptions) error {
	s.cur.to = append(s.cur.to, to)
	return nil
}

func (s *testSession) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.cur.data = string(data)
	s.backend.mu.Lock()
	s.backend.msgs = append(s.backend.msgs, s.cur)
	s.backend.mu.Unlock()
	return nil
}

func (s *testSession) Reset() {
	s.cur = received{user: s.cur.user}
}

func (s *testSession) Logout() error {
	return nil
}

func startSMTPServer(t *testing.T) (*testBackend, string) {
	t.Helper()
	backend := &testBackend{}
	server := smtp.NewServer(backend)
	server.Domain = "localhost"
	server.AllowInsecureAuth = true

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	go server.Serve(ln)
	t.Cleanup(func() { server.Close() })
	return backend, ln.Addr().String()
}

func TestSMTPNotifierSend(t *testing.T) {
	backend, addr := startSMTPServer(t)
	notifier := NewSMTPNotifier(SMTPOptions{
		Address:  addr,
		Username: "mailer",
		Password: "secret",
		From:     "Tool Scanner <alerts@example.com>",
		Timeout:  5 * time.Second,
	}, zap.NewNop())
	notifier.now = func() time.Time { return time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC) }

	err := notifier.Send(context.Background(), "owner@example.com", "HubSpot renews in 7 days", "Your HubSpot plan renews on 2025-02-08.\nAmount: $450.00")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	msgs := backend.messages()
	if len(msgs) != 1 {
		t.Fatalf("server received %d messages, want 1", len(msgs))
	}
	got := msgs[0]
	if got.from != "alerts@example.com" {
		t.Errorf("MAIL FROM = %q, want alerts@example.com", got.from)
	}
	if len(got.to) != 1 || got.to[0] != "owner@example.com" {
		t.Errorf("RCPT TO = %v, want [owner@example.com]", got.to)
	}
	if got.user != "mailer" {
		t.Errorf("authenticated user = %q, want mailer", got.user)
	}
	for _, want := range []string{
		"Subject: HubSpot renews in 7 days",
		"Content-Type: text/plain; charset=utf-8",
		"Amount: $450.00",
	} {
		if !strings.Contains(got.data, want) {
			t.Errorf("message data missing %q:\n%s", want, got.data)
		}
	}
}

func TestSMTPNotifierRejectsBadCredentials(t *testing.T) {
	_, addr := startSMTPServer(t)
	notifier := NewSMTPNotifier(SMTPOptions{
		Address:  addr,
		Username: "mailer",
		Password: "wrong",
		From:     "alerts@example.com",
		Timeout:  5 * time.Second,
	}, zap.NewNop())

	if err := notifier.Send(context.Background(), "owner@example.com", "s", "b"); err == nil {
		t.Fatal("Send() error = nil with bad credentials")
	}
}

type fakeSES struct {
	mu     sync.Mutex
	inputs []*ses.SendRawEmailInput
	err    error
}

func (f *fakeSES) SendRawEmail(_ context.Context, in *ses.SendRawEmailInput, _ ...func(*ses.Options)) (*ses.SendRawEmailOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return nil, f.err
	}
	return &ses.SendRawEmailOutput{MessageId: aws.String("msg-1")}, nil
}

func TestSESNotifierSend(t *testing.T) {
	fake := &fakeSES{}
	notifier := NewSESNotifier(fake, "alerts@example.com", zap.NewNop())

	if err := notifier.Send(context.Background(), "Owner <owner@example.com>", "Trial ending", "Your Canva trial ends tomorrow."); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if len(fake.inputs) != 1 {
		t.Fatalf("SendRawEmail called %d times, want 1", len(fake.inputs))
	}
	in := fake.inputs[0]
	if len(in.Destinations) != 1 || in.Destinations[0] != "owner@example.com" {
		t.Errorf("Destinations = %v, want [owner@example.com]", in.Destinations)
	}
	if !strings.Contains(string(in.RawMessage.Data), "Subject: Trial ending") {
		t.Errorf("raw message missing subject:\n%s", in.RawMessage.Data)
	}

	fake.err = errors.New("throttled")
	if err := notifier.Send(context.Background(), "owner@example.com", "s", "b"); err == nil {
		t.Error("Send() error = nil when SES fails")
	}
}

func TestBuildMessage(t *testing.T) {
	now := time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		from    string
		to      string
		subject string
		want    string
		wantErr bool
	}{
		{"ascii subject", "a@example.com", "b@example.com", "Renewal", "Subject: Renewal\r\n", false},
		{"encoded subject", "a@example.com", "b@example.com", "Renouvellement prévu", "Subject: =?utf-8?q?Renouvellement_pr=C3=A9vu?=\r\n", false},
		{"bad recipient", "a@example.com", "not an address", "x", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := buildMessage(tt.from, tt.to, tt.subject, "body", now)
			if (err != nil) != tt.wantErr {
				t.Fatalf("buildMessage() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !strings.Contains(string(data), tt.want) {
				t.Errorf("buildMessage() missing %q:\n%s", tt.want, data)
			}
		})
	}
}
