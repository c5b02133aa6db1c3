package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/crypto/bcrypt"
)

type recordingMailer struct {
	mu   sync.Mutex
	sent []Message
	err  error
}

func (r *recordingMailer) Send(_ context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, msg)
	return nil
}

func (r *recordingMailer) last(t *testing.T, kind MessageKind) Message {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.sent) - 1; i >= 0; i-- {
		if r.sent[i].Kind == kind {
			return r.sent[i]
		}
	}
	t.Fatalf("no %s message sent", kind)
	return Message{}
}

var testEpoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestManager(t *testing.T, opts Options) (*Manager, *recordingMailer, *time.Time) {
	t.Helper()
	mailer := &recordingMailer{}
	opts.Mailer = mailer
	opts.BcryptCost = bcrypt.MinCost
	m := NewManager(opts)
	clock := testEpoch
	m.now = func() time.Time { return clock }
	return m, mailer, &clock
}

func TestValidEmail(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"ann@example.com", true},
		{"first.last+tag@sub.example.org", true},
		{"ann@example", false},
		{"ann.example.com", false},
		{"@example.com", false},
		{"ann@example.c", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ValidEmail(tt.in); got != tt.want {
				t.Errorf("ValidEmail(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestSignUp_Validation(t *testing.T) {
	tests := []struct {
		name     string
		email    string
		password string
		confirm  string
		want     error
	}{
		{"bad email", "not-an-email", "secret1", "secret1", ErrInvalidEmail},
		{"mismatch", "ann@example.com", "secret1", "secret2", ErrPasswordMismatch},
		{"too short", "ann@example.com", "abc", "abc", ErrWeakPassword},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, mailer, _ := newTestManager(t, Options{})
			err := m.SignUp(context.Background(), tt.email, tt.password, tt.confirm)
			if !errors.Is(err, tt.want) {
				t.Fatalf("SignUp error = %v, want %v", err, tt.want)
			}
			if len(mailer.sent) != 0 {
				t.Errorf("no mail should be sent, got %d", len(mailer.sent))
			}
			if m.Permitted() {
				t.Error("failed sign-up must not permit a session")
			}
		})
	}
}

func TestSignUp_VerifyThenSignIn(t *testing.T) {
	ctx := context.Background()
	m, mailer, _ := newTestManager(t, Options{})

	if err := m.SignUp(ctx, "Ann@Example.com ", "secret1", "secret1"); err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	want := Status{Email: "ann@example.com", Provider: "password", VerificationSent: true}
	if diff := cmp.Diff(want, m.Status()); diff != "" {
		t.Errorf("status after sign-up (-want +got):\n%s", diff)
	}
	if m.Permitted() {
		t.Fatal("unverified sign-up must not be signed in")
	}

	if _, err := m.CheckEmailVerification(); !errors.Is(err, ErrEmailNotVerified) {
		t.Fatalf("CheckEmailVerification before verify = %v", err)
	}
	if err := m.VerifyEmail("ann@example.com", "000000x"); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("wrong code = %v, want ErrInvalidCode", err)
	}

	msg := mailer.last(t, VerifyEmailMessage)
	if msg.To != "ann@example.com" || len(msg.Code) != 6 {
		t.Fatalf("unexpected verification message %+v", msg)
	}
	if err := m.VerifyEmail("ann@example.com", msg.Code); err != nil {
		t.Fatalf("VerifyEmail failed: %v", err)
	}
	ok, err := m.CheckEmailVerification()
	if err != nil || !ok {
		t.Fatalf("CheckEmailVerification = %v, %v", ok, err)
	}
	if !m.Permitted() {
		t.Error("verified user should be permitted")
	}

	// Codes are single use.
	if err := m.VerifyEmail("ann@example.com", msg.Code); !errors.Is(err, ErrInvalidCode) {
		t.Errorf("reused code = %v, want ErrInvalidCode", err)
	}
}

func TestSignUp_DuplicateAccount(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t, Options{})
	if err := m.SignUp(ctx, "ann@example.com", "secret1", "secret1"); err != nil {
		t.Fatal(err)
	}
	if err := m.SignUp(ctx, "ANN@example.com", "secret2", "secret2"); !errors.Is(err, ErrAccountExists) {
		t.Errorf("duplicate sign-up = %v, want ErrAccountExists", err)
	}
}

func TestSignUp_MailerFailure(t *testing.T) {
	m, mailer, _ := newTestManager(t, Options{})
	mailer.err = errors.New("smtp down")

	err := m.SignUp(context.Background(), "ann@example.com", "secret1", "secret1")
	if err == nil {
		t.Fatal("expected mailer failure to surface")
	}
	if m.Status().VerificationSent {
		t.Error("VerificationSent should stay false when delivery fails")
	}
}

func TestSignIn(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t, Options{})
	if err := m.SignUp(ctx, "ann@example.com", "secret1", "secret1"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		email    string
		password string
		want     error
	}{
		{"wrong password", "ann@example.com", "nope", ErrInvalidCredentials},
		{"unknown account", "bob@example.com", "secret1", ErrInvalidCredentials},
		{"correct", " ANN@example.com", "secret1", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.SignIn(tt.email, tt.password)
			if !errors.Is(err, tt.want) {
				t.Errorf("SignIn = %v, want %v", err, tt.want)
			}
		})
	}
	if !m.Permitted() {
		t.Error("signed-in user should be permitted without RequireVerifiedEmail")
	}

	m.SignOut()
	if m.Permitted() {
		t.Error("signed-out user must not be permitted")
	}
	if diff := cmp.Diff(Status{}, m.Status()); diff != "" {
		t.Errorf("status after sign-out (-want +got):\n%s", diff)
	}
}

func TestPermitted_RequireVerifiedEmail(t *testing.T) {
	ctx := context.Background()
	m, mailer, _ := newTestManager(t, Options{RequireVerifiedEmail: true})
	if err := m.SignUp(ctx, "ann@example.com", "secret1", "secret1"); err != nil {
		t.Fatal(err)
	}
	if err := m.SignIn("ann@example.com", "secret1"); err != nil {
		t.Fatal(err)
	}
	if m.Permitted() {
		t.Fatal("unverified user must not be permitted when verification is required")
	}
	if err := m.VerifyEmail("ann@example.com", mailer.last(t, VerifyEmailMessage).Code); err != nil {
		t.Fatal(err)
	}
	if !m.Permitted() {
		t.Error("verified user should be permitted")
	}
}

func TestSendEmailVerification_NoUser(t *testing.T) {
	m, _, _ := newTestManager(t, Options{})
	if err := m.SendEmailVerification(context.Background()); !errors.Is(err, ErrNotSignedIn) {
		t.Errorf("got %v, want ErrNotSignedIn", err)
	}
	if _, err := m.CheckEmailVerification(); !errors.Is(err, ErrNotSignedIn) {
		t.Errorf("CheckEmailVerification got %v, want ErrNotSignedIn", err)
	}
}

func TestPasswordReset(t *testing.T) {
	ctx := context.Background()
	m, mailer, clock := newTestManager(t, Options{CodeTTL: time.Minute})
	if err := m.SignUp(ctx, "ann@example.com", "secret1", "secret1"); err != nil {
		t.Fatal(err)
	}

	if err := m.ResetPassword(ctx, "bob@example.com"); !errors.Is(err, ErrUnknownAccount) {
		t.Fatalf("reset for unknown account = %v", err)
	}
	if err := m.ResetPassword(ctx, "bogus"); !errors.Is(err, ErrInvalidEmail) {
		t.Fatalf("reset for bad email = %v", err)
	}

	if err := m.ResetPassword(ctx, "ann@example.com"); err != nil {
		t.Fatalf("ResetPassword failed: %v", err)
	}
	if !m.Status().PasswordResetSent {
		t.Error("PasswordResetSent should be set")
	}
	code := mailer.last(t, ResetPasswordMessage).Code

	if err := m.ConfirmPasswordReset("ann@example.com", code, "newpass", "other"); !errors.Is(err, ErrPasswordMismatch) {
		t.Fatalf("mismatch = %v", err)
	}
	if err := m.ConfirmPasswordReset("ann@example.com", code, "newpass", "newpass"); err != nil {
		t.Fatalf("ConfirmPasswordReset failed: %v", err)
	}
	if err := m.SignIn("ann@example.com", "secret1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("old password still works: %v", err)
	}
	if err := m.SignIn("ann@example.com", "newpass"); err != nil {
		t.Errorf("new password rejected: %v", err)
	}

	// An expired code is refused.
	if err := m.ResetPassword(ctx, "ann@example.com"); err != nil {
		t.Fatal(err)
	}
	code = mailer.last(t, ResetPasswordMessage).Code
	*clock = clock.Add(2 * time.Minute)
	if err := m.ConfirmPasswordReset("ann@example.com", code, "later1", "later1"); !errors.Is(err, ErrInvalidCode) {
		t.Errorf("expired code = %v, want ErrInvalidCode", err)
	}
}

func TestSignInWithToken(t *testing.T) {
	ctx := context.Background()
	verifier := HMACVerifier{Secret: []byte("test-secret"), Now: func() time.Time { return testEpoch }}

	t.Run("not configured", func(t *testing.T) {
		m, _, _ := newTestManager(t, Options{})
		if err := m.SignInWithToken(ctx, "x.y"); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("got %v, want ErrInvalidToken", err)
		}
	})

	t.Run("valid token creates verified account", func(t *testing.T) {
		m, _, _ := newTestManager(t, Options{Verifier: verifier, RequireVerifiedEmail: true})
		tok, err := verifier.Issue(Identity{Email: "cy@example.com", Provider: "google"}, time.Hour)
		if err != nil {
			t.Fatal(err)
		}
		if err := m.SignInWithToken(ctx, tok); err != nil {
			t.Fatalf("SignInWithToken failed: %v", err)
		}
		want := Status{SignedIn: true, Email: "cy@example.com", Provider: "google", EmailVerified: true}
		if diff := cmp.Diff(want, m.Status()); diff != "" {
			t.Errorf("status (-want +got):\n%s", diff)
		}
		if !m.Permitted() {
			t.Error("token user should be permitted")
		}
		// Provider accounts have no password.
		if err := m.ResetPassword(ctx, "cy@example.com"); !errors.Is(err, ErrUnknownAccount) {
			t.Errorf("reset for provider account = %v", err)
		}
	})

	t.Run("no email", func(t *testing.T) {
		m, _, _ := newTestManager(t, Options{Verifier: verifier})
		tok, _ := verifier.Issue(Identity{Provider: "github"}, time.Hour)
		if err := m.SignInWithToken(ctx, tok); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("got %v, want ErrInvalidToken", err)
		}
	})
}

func TestHMACVerifier(t *testing.T) {
	ctx := context.Background()
	v := HMACVerifier{Secret: []byte("k1"), Now: func() time.Time { return testEpoch }}
	other := HMACVerifier{Secret: []byte("k2"), Now: v.Now}

	good, err := v.Issue(Identity{Email: "ann@example.com"}, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	foreign, _ := other.Issue(Identity{Email: "ann@example.com"}, time.Minute)
	expired, _ := v.Issue(Identity{Email: "ann@example.com"}, -time.Minute)

	tests := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{"valid", good, false},
		{"wrong key", foreign, true},
		{"expired", expired, true},
		{"malformed", "no-dot-here", true},
		{"tampered", good + "x", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := v.Verify(ctx, tt.token)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidToken) {
					t.Errorf("got %v, want ErrInvalidToken", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Verify failed: %v", err)
			}
			if id.Email != "ann@example.com" || id.Provider != "oauth" {
				t.Errorf("unexpected identity %+v", id)
			}
		})
	}
}
