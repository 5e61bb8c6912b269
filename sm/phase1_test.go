package sm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type phase1Result struct {
	features PairingFeatures
	preq     PairingParams
	pres     PairingParams
	err      error
}

type phase1Recorder struct {
	sent    [][]byte
	results []phase1Result
}

func (r *phase1Recorder) send(b []byte) { r.sent = append(r.sent, b) }

func (r *phase1Recorder) done(f PairingFeatures, preq, pres PairingParams, err error) {
	r.results = append(r.results, phase1Result{f, preq, pres, err})
}

func TestPhase1InitiatorSendsRequest(t *testing.T) {
	var r phase1Recorder
	p := NewPhase1Initiator(r.send, IOCapDisplayYesNo, Bondable, Encrypted, r.done)
	p.Start()

	require.Len(t, r.sent, 1)
	assert.Equal(t, []byte{codePairingRequest, 0x01, 0x00, authReqBonding | authReqSC, 16, 0x01, 0x03}, r.sent[0])
	assert.Empty(t, r.results)

	p.HandlePacket(codePairingResponse, []byte{0x03, 0x00, authReqBonding | authReqSC, 16, 0x01, 0x03})
	require.Len(t, r.results, 1)
	res := r.results[0]
	require.NoError(t, res.err)
	assert.True(t, res.features.Initiator)
	assert.True(t, res.features.SecureConnections)
	assert.True(t, res.features.WillBond)
	assert.Equal(t, JustWorks, res.features.Method)
	assert.Equal(t, 16, res.features.EncryptionKeySize)
	// EncKey is dropped with Secure Connections.
	assert.Equal(t, KeyDist(0), res.features.LocalKeys)
	assert.Equal(t, KeyDistIDKey, res.features.RemoteKeys)
}

func TestPhase1NonBondableRequest(t *testing.T) {
	var r phase1Recorder
	NewPhase1Initiator(r.send, IOCapKeyboardDisplay, NonBondable, Authenticated, r.done).Start()
	assert.Equal(t, []byte{codePairingRequest, 0x04, 0x00, authReqSC | authReqMITM, 16, 0x00, 0x00}, r.sent[0])
}

func TestPhase1Responder(t *testing.T) {
	var r phase1Recorder
	preq := PairingParams{
		IOCapability:  IOCapDisplayYesNo,
		AuthReq:       authReqBonding | authReqSC,
		MaxKeySize:    16,
		InitiatorKeys: KeyDistEncKey,
		ResponderKeys: KeyDistEncKey | KeyDistIDKey,
	}
	NewPhase1Responder(r.send, preq, IOCapNoInputNoOutput, Bondable, NoSecurity, r.done).Start()

	require.Len(t, r.sent, 1)
	assert.Equal(t, []byte{codePairingResponse, 0x03, 0x00, authReqBonding | authReqSC, 16, 0x01, 0x01}, r.sent[0])
	require.Len(t, r.results, 1)
	res := r.results[0]
	require.NoError(t, res.err)
	assert.False(t, res.features.Initiator)
	assert.Equal(t, JustWorks, res.features.Method)
	assert.Equal(t, preq, res.preq)
}

func TestPhase1LegacyResponderKeys(t *testing.T) {
	var r phase1Recorder
	preq := PairingParams{
		IOCapability:  IOCapNoInputNoOutput,
		AuthReq:       authReqBonding,
		MaxKeySize:    10,
		InitiatorKeys: KeyDistEncKey | KeyDistIDKey,
		ResponderKeys: KeyDistEncKey | KeyDistIDKey | KeyDistSignKey,
	}
	NewPhase1Responder(r.send, preq, IOCapNoInputNoOutput, Bondable, Encrypted, r.done).Start()

	require.Len(t, r.results, 1)
	f := r.results[0].features
	require.NoError(t, r.results[0].err)
	assert.False(t, f.SecureConnections)
	assert.Equal(t, 10, f.EncryptionKeySize)
	assert.Equal(t, KeyDistEncKey, f.LocalKeys)
	assert.Equal(t, KeyDistEncKey|KeyDistIDKey, f.RemoteKeys)
}

func TestPhase1Rejections(t *testing.T) {
	base := PairingParams{
		IOCapability:  IOCapNoInputNoOutput,
		AuthReq:       authReqBonding | authReqSC,
		MaxKeySize:    16,
		InitiatorKeys: KeyDistEncKey,
		ResponderKeys: KeyDistEncKey,
	}

	for _, tc := range []struct {
		name   string
		modify func(p *PairingParams)
		want   Error
	}{
		{"key size", func(p *PairingParams) { p.MaxKeySize = 6 }, ErrEncryptionKeySize},
		{"mitm with just works", func(p *PairingParams) { p.AuthReq |= authReqMITM }, ErrAuthenticationRequirements},
		{"keys without bonding", func(p *PairingParams) { p.AuthReq &^= authReqBonding }, ErrInvalidParameters},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var r phase1Recorder
			preq := base
			tc.modify(&preq)
			NewPhase1Responder(r.send, preq, IOCapNoInputNoOutput, Bondable, Encrypted, r.done).Start()

			require.Len(t, r.sent, 1)
			assert.Equal(t, []byte{codePairingFailed, uint8(tc.want)}, r.sent[0])
			require.Len(t, r.results, 1)
			assert.Equal(t, tc.want, r.results[0].err)
		})
	}
}

func TestPhase1InitiatorRejectsUnrequestedKeys(t *testing.T) {
	var r phase1Recorder
	p := NewPhase1Initiator(r.send, IOCapNoInputNoOutput, Bondable, Encrypted, r.done)
	p.Start()
	p.HandlePacket(codePairingResponse, []byte{0x03, 0x00, authReqBonding, 16, 0x01, 0x04})

	require.Len(t, r.results, 1)
	assert.Equal(t, ErrInvalidParameters, r.results[0].err)
	assert.Equal(t, []byte{codePairingFailed, uint8(ErrInvalidParameters)}, r.sent[1])

	// Finished; later packets are ignored.
	p.HandlePacket(codePairingResponse, []byte{0x03, 0x00, authReqBonding, 16, 0x01, 0x01})
	assert.Len(t, r.results, 1)
	assert.Len(t, r.sent, 2)
}

func TestPhase1PeerFailure(t *testing.T) {
	var r phase1Recorder
	p := NewPhase1Initiator(r.send, IOCapNoInputNoOutput, Bondable, Encrypted, r.done)
	p.Start()
	p.HandlePacket(codePairingFailed, []byte{uint8(ErrPairingNotSupported)})

	require.Len(t, r.results, 1)
	assert.Equal(t, ErrPairingNotSupported, r.results[0].err)
	assert.Len(t, r.sent, 1)
}

func TestPhase1UnexpectedPackets(t *testing.T) {
	var r phase1Recorder
	preq := PairingParams{IOCapability: IOCapNoInputNoOutput, MaxKeySize: 16}
	p := NewPhase1Responder(r.send, preq, IOCapNoInputNoOutput, NonBondable, Encrypted, r.done)
	p.HandlePacket(codePairingResponse, make([]byte, 6))
	require.Len(t, r.results, 1)
	assert.Equal(t, ErrCommandNotSupported, r.results[0].err)

	r = phase1Recorder{}
	p = NewPhase1Initiator(r.send, IOCapNoInputNoOutput, Bondable, Encrypted, r.done)
	p.Start()
	p.HandlePacket(codePairingRandom, make([]byte, 16))
	require.Len(t, r.results, 1)
	assert.Equal(t, ErrUnspecifiedReason, r.results[0].err)
}

func TestSelectPairingMethod(t *testing.T) {
	for _, tc := range []struct {
		sc, mitm    bool
		local, peer IOCapability
		initiator bool
		want      PairingMethod
	}{
		{true, false, IOCapDisplayYesNo, IOCapDisplayYesNo, true, JustWorks},
		{true, true, IOCapDisplayYesNo, IOCapNoInputNoOutput, true, JustWorks},
		{true, true, IOCapDisplayYesNo, IOCapDisplayYesNo, true, NumericComparison},
		{false, true, IOCapDisplayYesNo, IOCapDisplayYesNo, true, JustWorks},
		{true, true, IOCapDisplayYesNo, IOCapKeyboardDisplay, false, NumericComparison},
		{false, true, IOCapDisplayYesNo, IOCapKeyboardDisplay, false, PasskeyEntryDisplay},
		{true, true, IOCapDisplayOnly, IOCapKeyboardOnly, true, PasskeyEntryDisplay},
		{true, true, IOCapDisplayOnly, IOCapDisplayYesNo, true, JustWorks},
		{true, true, IOCapKeyboardOnly, IOCapDisplayOnly, true, PasskeyEntryInput},
		{true, true, IOCapKeyboardDisplay, IOCapDisplayOnly, true, PasskeyEntryInput},
		{true, true, IOCapKeyboardDisplay, IOCapKeyboardDisplay, true, NumericComparison},
		{false, true, IOCapKeyboardDisplay, IOCapKeyboardDisplay, true, PasskeyEntryDisplay},
		{false, true, IOCapKeyboardDisplay, IOCapKeyboardDisplay, false, PasskeyEntryInput},
		{true, true, IOCapNoInputNoOutput, IOCapKeyboardDisplay, true, JustWorks},
	} {
		got := selectPairingMethod(tc.sc, false, false, tc.mitm, tc.local, tc.peer, tc.initiator)
		assert.Equal(t, tc.want, got, "sc=%v mitm=%v local=%d peer=%d", tc.sc, tc.mitm, tc.local, tc.peer)
	}

	assert.Equal(t, OutOfBand, selectPairingMethod(true, false, true, false, IOCapNoInputNoOutput, IOCapNoInputNoOutput, true))
	assert.Equal(t, JustWorks, selectPairingMethod(false, false, true, false, IOCapNoInputNoOutput, IOCapNoInputNoOutput, true))
}
