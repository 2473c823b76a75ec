package coap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPiggybackResponse(t *testing.T) {
	s, transport, _ := newTestServer(nil)

	var gotRsp *Message
	var gotErr error
	req := NewMessage().WithType(TypeConfirmable).WithCode(CodeGet).WithPathString("/temp").WithToken([]byte{0x01})
	req.Meta.RemoteAddr = "10.0.0.9:5683"
	require.NoError(t, s.MakeRequest(req, func(rsp *Message, err error) {
		gotRsp, gotErr = rsp, err
	}, nil))

	require.Equal(t, 1, transport.sentCount())
	sent := transport.sentAt(0)

	s.Handle(ackFor(sent, RspCodeContent, []byte("21C")), nil)

	require.NoError(t, gotErr)
	require.NotNil(t, gotRsp)
	assert.Equal(t, []byte("21C"), gotRsp.Payload)
	assert.Equal(t, 0, s.TransactionCount())

	// exactly one callback: a retransmitted ack must not fire it again
	gotRsp = nil
	s.Handle(ackFor(sent, RspCodeContent, []byte("21C")), nil)
	assert.Nil(t, gotRsp)
}

func TestSeparateResponse(t *testing.T) {
	s, transport, fc := newTestServer(nil)

	var gotRsp *Message
	var gotErr error
	req := NewMessage().WithType(TypeConfirmable).WithCode(CodeGet).WithPathString("/slow").WithToken([]byte{0x02})
	req.Meta.RemoteAddr = "10.0.0.9:5683"
	require.NoError(t, s.MakeRequest(req, func(rsp *Message, err error) {
		gotRsp, gotErr = rsp, err
	}, nil))
	sent := transport.sentAt(0)

	// empty ack: transaction converts to a delayed one, no callback yet
	s.Handle(ackFor(sent, CodeEmpty, nil), nil)
	assert.Nil(t, gotRsp)
	assert.Equal(t, 0, s.TransactionCount())
	assert.Equal(t, 1, s.delayedMgr.size())

	fc.Advance(time.Second * 3)

	// the real response arrives as a new confirmable message
	rsp := NewMessage().WithType(TypeConfirmable).WithCode(RspCodeContent).WithToken([]byte{0x02}).WithPayload([]byte("ok"))
	rsp.MessageID = 0x2000
	rsp.Meta.RemoteAddr = "10.0.0.9:5683"
	s.Handle(rsp, nil)

	require.NoError(t, gotErr)
	require.NotNil(t, gotRsp)
	assert.Equal(t, []byte("ok"), gotRsp.Payload)
	assert.Equal(t, 0, s.delayedMgr.size())

	// the separate response was acknowledged with an empty ack
	ack := transport.lastSent()
	assert.Equal(t, TypeAcknowledgement, ack.Type)
	assert.Equal(t, CodeEmpty, ack.Code)
	assert.Equal(t, uint16(0x2000), ack.MessageID)
}

func TestRetransmitThenTimeout(t *testing.T) {
	s, transport, fc := newTestServer(nil)

	var gotErr error
	done := false
	req := NewMessage().WithType(TypeConfirmable).WithCode(CodeGet).WithPathString("/temp")
	req.Meta.RemoteAddr = "10.0.0.9:5683"
	require.NoError(t, s.MakeRequest(req, func(rsp *Message, err error) {
		gotErr = err
		done = true
	}, nil))
	require.Equal(t, 1, transport.sentCount())

	// deadlines double from the first transmission: 2s, 4s, 8s, 16s, 32s
	expected := map[int]int{2: 2, 4: 3, 8: 4, 16: 5}
	for elapsed := 1; elapsed < 32; elapsed++ {
		fc.Advance(time.Second)
		s.tick(fc.Now())
		if want, ok := expected[elapsed]; ok {
			assert.Equal(t, want, transport.sentCount(), "at t=%ds", elapsed)
		}
		assert.False(t, done, "at t=%ds", elapsed)
	}

	fc.Advance(time.Second)
	s.tick(fc.Now())

	require.True(t, done)
	assert.ErrorIs(t, gotErr, ErrTimeout)
	assert.Equal(t, 5, transport.sentCount())
	assert.Equal(t, 0, s.TransactionCount())
}

func TestDuplicateRequestSingleHandlerInvocation(t *testing.T) {
	s, transport, _ := newTestServer(nil)

	invocations := 0
	s.AddRoute("/x", func(ex *Exchange) error {
		invocations++
		ex.Respond(RspCodeChanged, nil)
		return nil
	})

	req := inboundRequest(TypeConfirmable, CodePut, 0x300, []byte{0x07}, "10.0.0.9:5683", "/x")
	s.Handle(req, nil)
	require.Equal(t, 1, invocations)
	require.Equal(t, 1, transport.sentCount())
	first := transport.sentAt(0)

	// the retransmitted request replays the cached response, handler untouched
	dup := inboundRequest(TypeConfirmable, CodePut, 0x300, []byte{0x07}, "10.0.0.9:5683", "/x")
	s.Handle(dup, nil)
	assert.Equal(t, 1, invocations)
	require.Equal(t, 2, transport.sentCount())
	assert.Same(t, first, transport.sentAt(1))
}

func TestObserveRegisterNotifyTerminate(t *testing.T) {
	s, transport, _ := newTestServer(nil)

	res := NewObservableResource(s)
	res.OnGet = func(ex *Exchange) error {
		ex.RespondContent([]byte("v0"), TextPlain)
		return nil
	}
	s.AddRoute("/obs", res.Handle)

	reg := inboundRequest(TypeConfirmable, CodeGet, 0x100, []byte{0xAA}, "10.0.0.9:5683", "/obs")
	reg.WithOption(OptObserve, 0, true)
	s.Handle(reg, nil)

	require.Equal(t, 1, res.RelationCount())
	initial := transport.sentAt(0)
	assert.Equal(t, 0, initial.Observe())
	assert.Equal(t, []byte{0xAA}, initial.Token)
	assert.Equal(t, []byte("v0"), initial.Payload)

	// relation registered with CON, notifications go out confirmable
	require.NoError(t, res.NotifyChange([]byte("v1"), TextPlain))
	notif1 := transport.sentAt(1)
	assert.Equal(t, TypeConfirmable, notif1.Type)
	assert.Equal(t, RspCodeContent, notif1.Code)
	assert.Equal(t, 1, notif1.Observe())
	assert.Equal(t, []byte{0xAA}, notif1.Token)
	assert.Equal(t, []byte("v1"), notif1.Payload)

	s.Handle(ackFor(notif1, CodeEmpty, nil), nil)

	require.NoError(t, res.NotifyChange([]byte("v2"), TextPlain))
	notif2 := transport.sentAt(2)
	assert.Equal(t, 2, notif2.Observe())

	// peer resets the second notification, the relation dies
	s.Handle(rstFor(notif2), nil)
	assert.Equal(t, 0, res.RelationCount())

	// further notifications find no observers
	noObs := false
	require.NoError(t, res.NotifyChangeDetail([]byte("v3"), TextPlain, nil, 0, &recordingListener{onNoObservers: &noObs}))
	assert.True(t, noObs)
}

type recordingListener struct {
	success       []string
	failed        []string
	onNoObservers *bool
}

func (l *recordingListener) OnSuccess(addr string) { l.success = append(l.success, addr) }
func (l *recordingListener) OnFail(addr string)    { l.failed = append(l.failed, addr) }
func (l *recordingListener) OnNoObservers() {
	if l.onNoObservers != nil {
		*l.onNoObservers = true
	}
}

func TestObserveForceConFrequency(t *testing.T) {
	conf := NewConfig()
	conf.ForceConFreq = 3
	s, transport, _ := newTestServer(conf)

	res := NewObservableResource(s)
	res.OnGet = func(ex *Exchange) error {
		ex.RespondContent([]byte("v0"), TextPlain)
		return nil
	}
	s.AddRoute("/obs", res.Handle)

	// non-confirmable registration: relation prefers NON
	reg := inboundRequest(TypeNonConfirmable, CodeGet, 0x100, []byte{0xBB}, "10.0.0.9:5683", "/obs")
	reg.WithOption(OptObserve, 0, true)
	s.Handle(reg, nil)
	require.Equal(t, 1, res.RelationCount())
	base := transport.sentCount()

	var types []COAPType
	for i := 1; i <= 9; i++ {
		require.NoError(t, res.NotifyChange([]byte("v"), TextPlain))
		notif := transport.sentAt(base + i - 1)
		types = append(types, notif.Type)
		if notif.Type == TypeConfirmable {
			// confirm so the next notification is not skipped
			s.Handle(ackFor(notif, CodeEmpty, nil), nil)
		}
	}

	expected := []COAPType{
		TypeNonConfirmable, TypeNonConfirmable, TypeConfirmable,
		TypeNonConfirmable, TypeNonConfirmable, TypeConfirmable,
		TypeNonConfirmable, TypeNonConfirmable, TypeConfirmable,
	}
	assert.Equal(t, expected, types)
}

func TestObserveSkipWhileDelivering(t *testing.T) {
	s, transport, _ := newTestServer(nil)

	res := NewObservableResource(s)
	res.SetConNotifications(true)
	res.OnGet = func(ex *Exchange) error {
		ex.RespondContent(nil, TextPlain)
		return nil
	}
	s.AddRoute("/obs", res.Handle)

	reg := inboundRequest(TypeConfirmable, CodeGet, 0x100, []byte{0xCC}, "10.0.0.9:5683", "/obs")
	reg.WithOption(OptObserve, 0, true)
	s.Handle(reg, nil)
	base := transport.sentCount()

	listener := &recordingListener{}
	require.NoError(t, res.NotifyChangeDetail([]byte("v1"), TextPlain, nil, 0, listener))
	require.Equal(t, base+1, transport.sentCount())

	// previous confirmable still unacknowledged: skip and report, not queue
	require.NoError(t, res.NotifyChangeDetail([]byte("v2"), TextPlain, nil, 0, listener))
	assert.Equal(t, base+1, transport.sentCount())
	assert.Equal(t, []string{"10.0.0.9:5683"}, listener.failed)

	// sequence numbers stay strictly increasing despite the skip
	s.Handle(ackFor(transport.sentAt(base), CodeEmpty, nil), nil)
	require.NoError(t, res.NotifyChangeDetail([]byte("v3"), TextPlain, nil, 0, listener))
	assert.Equal(t, 3, transport.sentAt(base+1).Observe())
	assert.Equal(t, []string{"10.0.0.9:5683"}, listener.success)
}

func TestObserveTerminationIdempotent(t *testing.T) {
	s, transport, _ := newTestServer(nil)

	res := NewObservableResource(s)
	res.OnGet = func(ex *Exchange) error {
		ex.RespondContent(nil, TextPlain)
		return nil
	}
	s.AddRoute("/obs", res.Handle)

	reg := inboundRequest(TypeConfirmable, CodeGet, 0x100, []byte{0xDD}, "10.0.0.9:5683", "/obs")
	reg.WithOption(OptObserve, 0, true)
	s.Handle(reg, nil)
	base := transport.sentCount()

	require.NoError(t, res.NotifyTermination(CodeEmpty))
	assert.Equal(t, 0, res.RelationCount())
	require.Equal(t, base+1, transport.sentCount())
	assert.Equal(t, TypeReset, transport.sentAt(base).Type)

	// second call finds nothing to do
	require.NoError(t, res.NotifyTermination(CodeEmpty))
	assert.Equal(t, base+1, transport.sentCount())
}

func TestPingRepliesReset(t *testing.T) {
	s, transport, _ := newTestServer(nil)

	ping := &Message{Type: TypeConfirmable, Code: CodeEmpty, MessageID: 0x42}
	ping.Meta.RemoteAddr = "10.0.0.9:5683"
	s.Handle(ping, nil)

	require.Equal(t, 1, transport.sentCount())
	rst := transport.sentAt(0)
	assert.Equal(t, TypeReset, rst.Type)
	assert.Equal(t, uint16(0x42), rst.MessageID)
}

func TestEmptyNonIsUnmatched(t *testing.T) {
	s, transport, _ := newTestServer(nil)

	msg := &Message{Type: TypeNonConfirmable, Code: CodeEmpty, MessageID: 0x43}
	msg.Meta.RemoteAddr = "10.0.0.9:5683"
	s.Handle(msg, nil)

	// not a ping: handled as unprocessable, answered with a reset
	require.Equal(t, 1, transport.sentCount())
	assert.Equal(t, TypeReset, transport.sentAt(0).Type)
}

func TestUnmatchedAckDroppedSilently(t *testing.T) {
	s, transport, _ := newTestServer(nil)

	ack := &Message{Type: TypeAcknowledgement, Code: RspCodeContent, MessageID: 0x44}
	ack.Meta.RemoteAddr = "10.0.0.9:5683"
	s.Handle(ack, nil)

	assert.Equal(t, 0, transport.sentCount())
}

func TestRequestNotFound(t *testing.T) {
	s, transport, _ := newTestServer(nil)

	req := inboundRequest(TypeConfirmable, CodeGet, 0x45, []byte{0x01}, "10.0.0.9:5683", "/missing")
	s.Handle(req, nil)

	require.Equal(t, 1, transport.sentCount())
	rsp := transport.sentAt(0)
	assert.Equal(t, RspCodeNotFound, rsp.Code)
	assert.Equal(t, uint16(0x45), rsp.MessageID)
}

func TestHandlerCodeError(t *testing.T) {
	s, transport, _ := newTestServer(nil)
	s.AddRoute("/auth", func(ex *Exchange) error {
		return NewCodeError(RspCodeUnauthorized, "nope")
	})

	req := inboundRequest(TypeConfirmable, CodeGet, 0x46, []byte{0x01}, "10.0.0.9:5683", "/auth")
	s.Handle(req, nil)

	rsp := transport.sentAt(0)
	assert.Equal(t, RspCodeUnauthorized, rsp.Code)
	assert.Equal(t, []byte("nope"), rsp.Payload)
}

func TestHandlerFailureBecomesInternalError(t *testing.T) {
	s, transport, _ := newTestServer(nil)
	s.AddRoute("/boom", func(ex *Exchange) error {
		panic("boom")
	})

	req := inboundRequest(TypeConfirmable, CodeGet, 0x47, []byte{0x01}, "10.0.0.9:5683", "/boom")
	s.Handle(req, nil)

	assert.Equal(t, RspCodeInternalServerError, transport.sentAt(0).Code)
}

func TestCriticalOptionRejected(t *testing.T) {
	s, transport, _ := newTestServer(nil)
	s.AddRoute("/x", func(ex *Exchange) error {
		ex.Respond(RspCodeChanged, nil)
		return nil
	})

	req := inboundRequest(TypeConfirmable, CodePut, 0x48, []byte{0x01}, "10.0.0.9:5683", "/x")
	req.WithOption(OptionID(0x71), []byte{0x01}, true) // unknown critical option
	s.Handle(req, nil)

	assert.Equal(t, RspCodeBadOption, transport.sentAt(0).Code)
}

func TestQueueCapThroughMakeRequest(t *testing.T) {
	conf := NewConfig()
	conf.EndpointQueueLimit = 2
	s, _, _ := newTestServer(conf)

	send := func(force bool) error {
		req := NewMessage().WithType(TypeConfirmable).WithCode(CodeGet).WithPathString("/r")
		req.Meta.RemoteAddr = "10.0.0.9:5683"
		return s.MakeRequestWithPriority(req, nil, nil, PriorityNormal, force)
	}

	require.NoError(t, send(false)) // in flight
	require.NoError(t, send(false)) // queued
	assert.ErrorIs(t, send(false), ErrTooManyRequests)
	assert.NoError(t, send(true))
}

func TestBlockwiseOrderingThroughCallback(t *testing.T) {
	s, transport, _ := newTestServer(nil)

	// a queued transaction exists behind the active one
	first := NewMessage().WithType(TypeConfirmable).WithCode(CodeGet).WithPathString("/blk")
	first.Meta.RemoteAddr = "10.0.0.9:5683"
	var queuedBeforeFollowUp *Message
	queued := NewMessage().WithType(TypeConfirmable).WithCode(CodeGet).WithPathString("/other")
	queued.Meta.RemoteAddr = "10.0.0.9:5683"

	require.NoError(t, s.MakeRequest(first, func(rsp *Message, err error) {
		// the follow-up issued inside the callback must transmit before the
		// previously queued transaction
		followUp := NewMessage().WithType(TypeConfirmable).WithCode(CodeGet).WithPathString("/blk")
		followUp.Meta.RemoteAddr = "10.0.0.9:5683"
		require.NoError(t, s.MakeBlockFollowUpRequest(followUp, nil, nil))
		queuedBeforeFollowUp = followUp
	}, nil))
	require.NoError(t, s.MakeRequest(queued, nil, nil))
	require.Equal(t, 1, transport.sentCount())

	s.Handle(ackFor(transport.sentAt(0), RspCodeContent, nil), nil)

	// follow-up went out ahead of the queued transaction
	require.Equal(t, 2, transport.sentCount())
	assert.Same(t, queuedBeforeFollowUp, transport.sentAt(1))
	assert.Equal(t, 2, s.TransactionCount())
}

func TestDelayedResponseTimeout(t *testing.T) {
	s, transport, fc := newTestServer(nil)

	var gotErr error
	done := false
	req := NewMessage().WithType(TypeConfirmable).WithCode(CodeGet).WithPathString("/slow")
	req.Meta.RemoteAddr = "10.0.0.9:5683"
	require.NoError(t, s.MakeRequest(req, func(rsp *Message, err error) {
		gotErr = err
		done = true
	}, nil))
	s.Handle(ackFor(transport.sentAt(0), CodeEmpty, nil), nil)

	fc.Advance(time.Second * 119)
	s.tick(fc.Now())
	assert.False(t, done)

	fc.Advance(time.Second * 2)
	s.tick(fc.Now())
	require.True(t, done)
	assert.ErrorIs(t, gotErr, ErrTimeout)
	assert.Equal(t, 0, s.delayedMgr.size())
}

func TestShutdownFailsPendingCallbacks(t *testing.T) {
	s, _, _ := newTestServer(nil)
	require.NoError(t, s.Start())

	var errs []error
	for i := 0; i < 3; i++ {
		req := NewMessage().WithType(TypeConfirmable).WithCode(CodeGet).WithPathString("/r")
		req.Meta.RemoteAddr = "10.0.0.9:5683"
		require.NoError(t, s.MakeRequest(req, func(rsp *Message, err error) {
			errs = append(errs, err)
		}, nil))
	}

	require.NoError(t, s.Stop())
	require.Len(t, errs, 3)
	for _, err := range errs {
		assert.ErrorIs(t, err, ErrShutdown)
	}
	assert.ErrorIs(t, s.Stop(), ErrNotRunning)
}

func TestObservationHandlerNotification(t *testing.T) {
	s, transport, _ := newTestServer(nil)
	reg := NewObservationRegistry(s)

	var notified []*Message
	reg.Register("tok-1", func(rsp *Message, arg interface{}) error {
		notified = append(notified, rsp)
		return nil
	}, nil)

	notif := NewMessage().WithType(TypeConfirmable).WithCode(RspCodeContent).WithToken([]byte("tok-1")).WithPayload([]byte("21C"))
	notif.WithObserve(5)
	notif.MessageID = 0x700
	notif.Meta.RemoteAddr = "10.0.0.9:5683"
	s.Handle(notif, nil)

	require.Len(t, notified, 1)
	assert.Equal(t, []byte("21C"), notified[0].Payload)

	// the confirmable notification was acknowledged
	ack := transport.lastSent()
	assert.Equal(t, TypeAcknowledgement, ack.Type)
	assert.Equal(t, uint16(0x700), ack.MessageID)

	// a reset from the peer terminates the observation
	rst := NewMessage().WithType(TypeReset).WithToken([]byte("tok-1"))
	rst.WithObserve(6)
	rst.MessageID = 0x701
	rst.Meta.RemoteAddr = "10.0.0.9:5683"
	s.Handle(rst, nil)
	assert.False(t, reg.HasObservation([]byte("tok-1")))
}

func TestNotificationWithoutObserveTerminates(t *testing.T) {
	s, _, _ := newTestServer(nil)
	reg := NewObservationRegistry(s)
	reg.Register("tok-2", func(rsp *Message, arg interface{}) error { return nil }, nil)

	// response without observe option for a known token
	rsp := NewMessage().WithType(TypeNonConfirmable).WithCode(RspCodeNotFound).WithToken([]byte("tok-2"))
	rsp.MessageID = 0x702
	rsp.Meta.RemoteAddr = "10.0.0.9:5683"
	s.Handle(rsp, nil)

	assert.False(t, reg.HasObservation([]byte("tok-2")))
}
