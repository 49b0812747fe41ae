// ABOUTME: Maps domain errors to wire ack codes
// ABOUTME: One code per error class; unknown errors collapse to internal

package ws

import (
	"errors"

	"github.com/2389/livedesk/internal/auth"
	"github.com/2389/livedesk/internal/dispatch"
	"github.com/2389/livedesk/internal/presence"
	"github.com/2389/livedesk/internal/store"
	"github.com/2389/livedesk/internal/talk"
	"github.com/2389/livedesk/internal/tenant"
)

// Ack codes. Zero is success; everything else carries a message instead of
// data.
const (
	codeOK                   = 0
	codeBadRequest           = 1000
	codeUnauthorized         = 1001
	codeTalkNotFound         = 1002
	codeStickerNotFound      = 1003
	codeNotInTalk            = 1004
	codeEditForbidden        = 1005
	codeTransportUnavailable = 1006
	codeTalkClosed           = 1007
	codeUnknownTenant        = 1008
	codeInternal             = 1500
)

var (
	// errBadPayload marks undecodable or unknown requests.
	errBadPayload = errors.New("bad payload")
	// errNotLoggedIn marks agent operations before a successful login.
	errNotLoggedIn = errors.New("not logged in")
	// errNotConnected marks customer operations before a connect.
	errNotConnected = errors.New("not connected")
	// errAlreadyConnected marks a second connect on a bound socket.
	errAlreadyConnected = errors.New("already connected")
)

// ackCode maps an error to its wire code.
func ackCode(err error) int {
	switch {
	case err == nil:
		return codeOK
	case errors.Is(err, errBadPayload), errors.Is(err, errAlreadyConnected):
		return codeBadRequest
	case errors.Is(err, errNotLoggedIn), errors.Is(err, errNotConnected):
		return codeUnauthorized
	case errors.Is(err, dispatch.ErrTalkNotFound), errors.Is(err, store.ErrNotFound):
		return codeTalkNotFound
	case errors.Is(err, talk.ErrStickerNotFound):
		return codeStickerNotFound
	case errors.Is(err, talk.ErrNotInTalk):
		return codeNotInTalk
	case errors.Is(err, talk.ErrUnauthorizedEditMessage):
		return codeEditForbidden
	case errors.Is(err, talk.ErrTalkClosed):
		return codeTalkClosed
	case errors.Is(err, talk.ErrEmptyContent):
		return codeBadRequest
	case errors.Is(err, presence.ErrTransportUnavailable):
		return codeTransportUnavailable
	case errors.Is(err, presence.ErrSessionMismatch),
		errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrAgentDisabled),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken):
		return codeUnauthorized
	case errors.Is(err, tenant.ErrUnknownTenant):
		return codeUnknownTenant
	}
	return codeInternal
}
