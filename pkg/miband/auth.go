package miband

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// maxAuthSteps bounds the number of replies processed in one negotiation.
const maxAuthSteps = 8

// authenticator runs the challenge/response exchange on the auth characteristic.
type authenticator struct {
	key         []byte
	router      *Router
	write       func(data []byte) error
	stepTimeout time.Duration
	logger      *logrus.Entry
}

func authFailed(msg string, err error) error {
	return newError(KindAuthentication, "auth", msg, err)
}

// send registers for the next auth reply before writing, so a fast reply is not lost.
func (a *authenticator) send(data []byte) (*PendingRequest, error) {
	p := a.router.Expect(CategoryAuth, a.stepTimeout)
	if err := a.write(data); err != nil {
		p.Cancel()
		return nil, err
	}
	return p, nil
}

// run requests a random challenge, answers it with the encrypted value and
// waits for confirmation. If the band rejects the answer, the key is sent once
// and the exchange restarts.
func (a *authenticator) run(ctx context.Context) error {
	if len(a.key) != authKeyBytes {
		return authFailed(fmt.Sprintf("auth key must be %d bytes, got %d", authKeyBytes, len(a.key)), nil)
	}

	p, err := a.send(encodeAuthRequestRandom())
	if err != nil {
		return err
	}

	keySent := false
	for step := 0; step < maxAuthSteps; step++ {
		payload, err := p.Await(ctx)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return ctx.Err()
			case errors.Is(err, ErrTimeout):
				return authFailed("no reply from band", err)
			default:
				return err
			}
		}

		reply, err := decodeAuthReply(payload)
		if err != nil {
			return authFailed("malformed reply", err)
		}
		a.logger.WithFields(logrus.Fields{
			"step":   reply.step,
			"status": reply.status,
		}).Debug("Auth reply")

		switch {
		case reply.step == authSendKey && reply.status == authSuccess:
			p, err = a.send(encodeAuthRequestRandom())
		case reply.step == authSendKey:
			return authFailed("key rejected by band", nil)
		case reply.step == authRequestRandom && reply.status == authSuccess:
			var enc []byte
			if enc, err = encodeAuthEncrypted(a.key, reply.payload); err != nil {
				return authFailed("bad challenge", err)
			}
			p, err = a.send(enc)
		case reply.step == authRequestRandom:
			return authFailed("random number request failed", nil)
		case reply.step == authSendEncrypted && reply.status == authSuccess:
			return nil
		case reply.step == authSendEncrypted && !keySent:
			a.logger.Info("Band rejected the encrypted challenge, sending key")
			keySent = true
			p, err = a.send(encodeAuthSendKey(a.key))
		case reply.step == authSendEncrypted:
			return authFailed("encrypted challenge rejected", nil)
		default:
			return authFailed(fmt.Sprintf("unexpected reply step 0x%02x", reply.step), nil)
		}
		if err != nil {
			return err
		}
	}
	return authFailed("too many negotiation steps", nil)
}
