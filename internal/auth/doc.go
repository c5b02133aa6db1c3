// Package auth is the local identity collaborator of the photo editor.
//
// A Manager keeps email/password accounts (bcrypt hashed) and a single
// current user, and answers one question for the edit session: is a usable
// image session permitted? Manager satisfies edit.Gate through Permitted.
//
// The flows follow a hosted identity provider:
//   - SignUp validates the email and the password confirmation, creates the
//     account and mails a verification code; the user is signed in only after
//     VerifyEmail and CheckEmailVerification succeed
//   - SignIn checks the password; SignInWithToken accepts a token vouched
//     for by a TokenVerifier and creates the account on first use
//   - ResetPassword mails a reset code redeemed by ConfirmPasswordReset
//
// Codes are six digits, single use, and expire after Options.CodeTTL. They
// are delivered through a Mailer; LogMailer writes them to a log instead.
package auth
