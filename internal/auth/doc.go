// Package auth authenticates agents. Passwords are bcrypt hashes checked at
// login; successful logins are issued an HS256 session token that lets a
// dropped connection reconnect without re-entering credentials. Unknown
// usernames and wrong passwords are indistinguishable to the caller.
package auth
