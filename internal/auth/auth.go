package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"log"
	"math/big"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidEmail       = errors.New("invalid email format")
	ErrPasswordMismatch   = errors.New("passwords do not match")
	ErrWeakPassword       = errors.New("password is too short")
	ErrAccountExists      = errors.New("an account with this email already exists")
	ErrUnknownAccount     = errors.New("no account with this email")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrNotSignedIn        = errors.New("no user is currently signed in")
	ErrEmailNotVerified   = errors.New("email not verified yet, please check your inbox")
	ErrInvalidCode        = errors.New("invalid or expired code")
	ErrInvalidToken       = errors.New("invalid identity token")
)

var emailPattern = regexp.MustCompile(`^[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}$`)

// ValidEmail reports whether s looks like an email address.
func ValidEmail(s string) bool {
	return emailPattern.MatchString(s)
}

// PasswordsMatch reports whether a password and its confirmation agree.
func PasswordsMatch(password, confirm string) bool {
	return password == confirm
}

// MessageKind tells a Mailer which flow a code belongs to.
type MessageKind string

const (
	VerifyEmailMessage   MessageKind = "verify-email"
	ResetPasswordMessage MessageKind = "reset-password"
)

// Message is a one-time code delivered to an account's email address.
type Message struct {
	Kind MessageKind
	To   string
	Code string
}

// Mailer delivers one-time codes.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// LogMailer writes codes to a logger instead of sending mail.
type LogMailer struct {
	Logger *log.Logger
}

// Send implements Mailer.
func (m LogMailer) Send(_ context.Context, msg Message) error {
	if m.Logger != nil {
		m.Logger.Printf("Auth %s code for %s: %s", msg.Kind, msg.To, msg.Code)
	}
	return nil
}

// Options configure a Manager.
type Options struct {
	// MinPasswordLength is the shortest accepted password. Zero means 6.
	MinPasswordLength int
	// RequireVerifiedEmail keeps image sessions closed until the signed-in
	// account has verified its email.
	RequireVerifiedEmail bool
	// CodeTTL is how long verification and reset codes stay valid. Zero
	// means 15 minutes.
	CodeTTL time.Duration
	// BcryptCost is the password hashing cost. Zero means bcrypt.DefaultCost.
	BcryptCost int
	// Mailer delivers codes. Nil discards them.
	Mailer Mailer
	// Verifier checks identity-provider tokens. Nil disables token sign-in.
	Verifier TokenVerifier
	// Logger receives auth lifecycle logging. Nil discards it.
	Logger *log.Logger
}

type pendingCode struct {
	code    string
	expires time.Time
}

type account struct {
	email    string
	hash     []byte
	provider string
	verified bool
	verify   *pendingCode
	reset    *pendingCode
}

// Status is a snapshot of the signed-in state.
type Status struct {
	SignedIn          bool   `json:"signed_in"`
	Email             string `json:"email,omitempty"`
	Provider          string `json:"provider,omitempty"`
	EmailVerified     bool   `json:"email_verified"`
	VerificationSent  bool   `json:"verification_sent"`
	PasswordResetSent bool   `json:"password_reset_sent"`
}

// Manager is an in-memory account store with one current user. It decides
// whether an image session is permitted and is safe for concurrent use.
type Manager struct {
	mu       sync.Mutex
	opts     Options
	accounts map[string]*account
	current  *account
	signedIn bool

	verificationSent  bool
	passwordResetSent bool

	now func() time.Time
}

// NewManager creates an empty account store.
func NewManager(opts Options) *Manager {
	if opts.MinPasswordLength <= 0 {
		opts.MinPasswordLength = 6
	}
	if opts.CodeTTL <= 0 {
		opts.CodeTTL = 15 * time.Minute
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	return &Manager{
		opts:     opts,
		accounts: make(map[string]*account),
		now:      time.Now,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SignUp creates an email/password account and sends a verification code.
// The new account becomes the current user but is not signed in until its
// email is verified and CheckEmailVerification succeeds.
func (m *Manager) SignUp(ctx context.Context, email, password, confirm string) error {
	email = normalizeEmail(email)
	if !ValidEmail(email) {
		return ErrInvalidEmail
	}
	if !PasswordsMatch(password, confirm) {
		return ErrPasswordMismatch
	}
	if len(password) < m.opts.MinPasswordLength {
		return fmt.Errorf("%w: need at least %d characters", ErrWeakPassword, m.opts.MinPasswordLength)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), m.opts.BcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	m.mu.Lock()
	if _, ok := m.accounts[email]; ok {
		m.mu.Unlock()
		return ErrAccountExists
	}
	acct := &account{email: email, hash: hash, provider: "password"}
	m.accounts[email] = acct
	m.current = acct
	m.signedIn = false
	m.verificationSent = false
	m.passwordResetSent = false
	m.mu.Unlock()

	m.opts.Logger.Printf("Created account %s", email)
	return m.SendEmailVerification(ctx)
}

// SignIn signs in with email and password.
func (m *Manager) SignIn(email, password string) error {
	email = normalizeEmail(email)

	m.mu.Lock()
	acct, ok := m.accounts[email]
	m.mu.Unlock()
	if !ok || acct.hash == nil {
		return ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(acct.hash, []byte(password)); err != nil {
		return ErrInvalidCredentials
	}

	m.mu.Lock()
	m.current = acct
	m.signedIn = true
	m.mu.Unlock()
	m.opts.Logger.Printf("Signed in %s", email)
	return nil
}

// SignInWithToken signs in with an identity-provider token. An account is
// created on first use; provider accounts count as verified.
func (m *Manager) SignInWithToken(ctx context.Context, token string) error {
	if m.opts.Verifier == nil {
		return fmt.Errorf("%w: token sign-in is not configured", ErrInvalidToken)
	}
	id, err := m.opts.Verifier.Verify(ctx, token)
	if err != nil {
		return err
	}
	email := normalizeEmail(id.Email)
	if !ValidEmail(email) {
		return fmt.Errorf("%w: token carries no usable email", ErrInvalidToken)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.accounts[email]
	if !ok {
		acct = &account{email: email, provider: id.Provider}
		m.accounts[email] = acct
	}
	acct.verified = true
	m.current = acct
	m.signedIn = true
	m.opts.Logger.Printf("Signed in %s via %s", email, id.Provider)
	return nil
}

// SignOut signs the current user out. It is a no-op when nobody is signed
// in.
func (m *Manager) SignOut() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		m.opts.Logger.Printf("Signed out %s", m.current.email)
	}
	m.current = nil
	m.signedIn = false
	m.verificationSent = false
	m.passwordResetSent = false
}

// SendEmailVerification mails a fresh verification code to the current
// user.
func (m *Manager) SendEmailVerification(ctx context.Context) error {
	m.mu.Lock()
	acct := m.current
	if acct == nil {
		m.mu.Unlock()
		return ErrNotSignedIn
	}
	code, err := m.issueLocked(&acct.verify)
	m.mu.Unlock()
	if err != nil {
		return err
	}

	if err := m.send(ctx, Message{Kind: VerifyEmailMessage, To: acct.email, Code: code}); err != nil {
		return fmt.Errorf("failed to send verification email: %w", err)
	}
	m.mu.Lock()
	m.verificationSent = true
	m.mu.Unlock()
	return nil
}

// VerifyEmail marks an account verified if code matches the last code
// sent to it.
func (m *Manager) VerifyEmail(email, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.accounts[normalizeEmail(email)]
	if !ok {
		return ErrUnknownAccount
	}
	if !m.redeemLocked(&acct.verify, code) {
		return ErrInvalidCode
	}
	acct.verified = true
	m.opts.Logger.Printf("Verified email %s", acct.email)
	return nil
}

// CheckEmailVerification reloads the current user's verification state and
// signs them in once verified.
func (m *Manager) CheckEmailVerification() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return false, ErrNotSignedIn
	}
	if !m.current.verified {
		return false, ErrEmailNotVerified
	}
	m.signedIn = true
	return true, nil
}

// ResetPassword mails a password reset code.
func (m *Manager) ResetPassword(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if !ValidEmail(email) {
		return ErrInvalidEmail
	}

	m.mu.Lock()
	acct, ok := m.accounts[email]
	if !ok || acct.hash == nil {
		m.mu.Unlock()
		return ErrUnknownAccount
	}
	code, err := m.issueLocked(&acct.reset)
	m.mu.Unlock()
	if err != nil {
		return err
	}

	if err := m.send(ctx, Message{Kind: ResetPasswordMessage, To: email, Code: code}); err != nil {
		return fmt.Errorf("failed to send reset email: %w", err)
	}
	m.mu.Lock()
	m.passwordResetSent = true
	m.mu.Unlock()
	return nil
}

// ConfirmPasswordReset sets a new password using a code from
// ResetPassword.
func (m *Manager) ConfirmPasswordReset(email, code, password, confirm string) error {
	if !PasswordsMatch(password, confirm) {
		return ErrPasswordMismatch
	}
	if len(password) < m.opts.MinPasswordLength {
		return fmt.Errorf("%w: need at least %d characters", ErrWeakPassword, m.opts.MinPasswordLength)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), m.opts.BcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.accounts[normalizeEmail(email)]
	if !ok {
		return ErrUnknownAccount
	}
	if !m.redeemLocked(&acct.reset, code) {
		return ErrInvalidCode
	}
	acct.hash = hash
	m.passwordResetSent = false
	m.opts.Logger.Printf("Password reset for %s", acct.email)
	return nil
}

// Status returns the signed-in state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{
		SignedIn:          m.signedIn,
		VerificationSent:  m.verificationSent,
		PasswordResetSent: m.passwordResetSent,
	}
	if m.current != nil {
		st.Email = m.current.email
		st.Provider = m.current.provider
		st.EmailVerified = m.current.verified
	}
	return st
}

// Permitted reports whether an image session may run: a user is signed in
// and, if required, has a verified email.
func (m *Manager) Permitted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.signedIn || m.current == nil {
		return false
	}
	return !m.opts.RequireVerifiedEmail || m.current.verified
}

func (m *Manager) send(ctx context.Context, msg Message) error {
	if m.opts.Mailer == nil {
		return nil
	}
	return m.opts.Mailer.Send(ctx, msg)
}

// issueLocked stores a new six digit code in slot and returns it.
func (m *Manager) issueLocked(slot **pendingCode) (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	code := fmt.Sprintf("%06d", n.Int64())
	*slot = &pendingCode{code: code, expires: m.now().Add(m.opts.CodeTTL)}
	return code, nil
}

// redeemLocked consumes the code in slot if it matches and has not
// expired.
func (m *Manager) redeemLocked(slot **pendingCode, code string) bool {
	p := *slot
	if p == nil || m.now().After(p.expires) {
		return false
	}
	if subtle.ConstantTimeCompare([]byte(p.code), []byte(strings.TrimSpace(code))) != 1 {
		return false
	}
	*slot = nil
	return true
}
