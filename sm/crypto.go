package sm

import (
	"crypto/aes"
	"encoding/binary"

	"github.com/aead/cmac"
	"github.com/pkg/errors"
	"github.com/rigado/bthost/sliceops"
)

// Cryptographic toolbox [Vol 3, Part H, 2.2]. All inputs and outputs are in
// SMP wire order (least significant octet first).

var errLength = errors.New("sm: bad input length")

func aesCMAC(key, msg []byte) ([]byte, error) {
	c, err := aes.NewCipher(sliceops.SwapBuf(key))
	if err != nil {
		return nil, errors.Wrap(err, "sm: cmac key")
	}
	mac, err := cmac.New(c)
	if err != nil {
		return nil, errors.Wrap(err, "sm: cmac")
	}
	mac.Write(sliceops.SwapBuf(msg))
	return sliceops.SwapBuf(mac.Sum(nil)), nil
}

// e is the security function e [Vol 3, Part H, 2.2.1].
func e(key, plaintext []byte) ([]byte, error) {
	c, err := aes.NewCipher(sliceops.SwapBuf(key))
	if err != nil {
		return nil, errors.Wrap(err, "sm: aes key")
	}
	out := make([]byte, 16)
	c.Encrypt(out, sliceops.SwapBuf(plaintext))
	return sliceops.SwapBuf(out), nil
}

// f4 computes the LE Secure Connections confirm value.
func f4(u, v, x []byte, z uint8) ([]byte, error) {
	if len(u) != 32 || len(v) != 32 || len(x) != 16 {
		return nil, errors.Wrap(errLength, "f4")
	}
	return aesCMAC(x, sliceops.Concat([]byte{z}, v, u))
}

var (
	f5Salt = []byte{
		0xbe, 0x83, 0x60, 0x5a, 0xdb, 0x0b, 0x37, 0x60,
		0x38, 0xa5, 0xf5, 0xaa, 0x91, 0x83, 0x88, 0x6c,
	}
	f5KeyID  = []byte{0x65, 0x6c, 0x74, 0x62} // "btle"
	f5Length = []byte{0x00, 0x01}            // 256
)

// f5 derives the MacKey and LTK from the DHKey.
func f5(w, n1, n2, a1, a2 []byte) (macKey, ltk []byte, err error) {
	switch {
	case len(w) != 32:
		return nil, nil, errors.Wrap(errLength, "f5 w")
	case len(n1) != 16 || len(n2) != 16:
		return nil, nil, errors.Wrap(errLength, "f5 nonce")
	case len(a1) != 7 || len(a2) != 7:
		return nil, nil, errors.Wrap(errLength, "f5 address")
	}

	t, err := aesCMAC(f5Salt, w)
	if err != nil {
		return nil, nil, err
	}

	m := sliceops.Concat(f5Length, a2, a1, n2, n1, f5KeyID, []byte{0x00})
	if macKey, err = aesCMAC(t, m); err != nil {
		return nil, nil, err
	}
	m[len(m)-1] = 0x01
	if ltk, err = aesCMAC(t, m); err != nil {
		return nil, nil, err
	}
	return macKey, ltk, nil
}

// f6 computes the DHKey check value.
func f6(w, n1, n2, r, ioCap, a1, a2 []byte) ([]byte, error) {
	if len(w) != 16 || len(n1) != 16 || len(n2) != 16 || len(r) != 16 || len(ioCap) != 3 || len(a1) != 7 || len(a2) != 7 {
		return nil, errors.Wrap(errLength, "f6")
	}
	return aesCMAC(w, sliceops.Concat(a2, a1, ioCap, r, n2, n1))
}

// g2 computes the six digit numeric comparison value.
func g2(u, v, x, y []byte) (uint32, error) {
	if len(u) != 32 || len(v) != 32 || len(x) != 16 || len(y) != 16 {
		return 0, errors.Wrap(errLength, "g2")
	}
	h, err := aesCMAC(x, sliceops.Concat(y, v, u))
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(h[:4]) % 1000000, nil
}

// c1 computes the LE legacy pairing confirm value. preq and pres are the
// 7 octet Pairing Request and Response commands; ia and ra are the
// initiator's and responder's addresses.
func c1(k, r, preq, pres []byte, iat, rat uint8, ia, ra []byte) ([]byte, error) {
	if len(k) != 16 || len(r) != 16 || len(preq) != 7 || len(pres) != 7 || len(ia) != 6 || len(ra) != 6 {
		return nil, errors.Wrap(errLength, "c1")
	}
	p1 := sliceops.Concat([]byte{iat, rat}, preq, pres)
	p2 := sliceops.Concat(ra, ia, make([]byte, 4))

	t, err := e(k, sliceops.Xor(r, p1))
	if err != nil {
		return nil, err
	}
	return e(k, sliceops.Xor(t, p2))
}

// s1 computes the LE legacy pairing STK.
func s1(k, r1, r2 []byte) ([]byte, error) {
	if len(k) != 16 || len(r1) != 16 || len(r2) != 16 {
		return nil, errors.Wrap(errLength, "s1")
	}
	return e(k, sliceops.Concat(r2[:8], r1[:8]))
}

// ah computes the hash part of a resolvable private address.
func ah(irk, r []byte) ([]byte, error) {
	if len(irk) != 16 || len(r) != 3 {
		return nil, errors.Wrap(errLength, "ah")
	}
	out, err := e(irk, sliceops.Concat(r, make([]byte, 13)))
	if err != nil {
		return nil, err
	}
	return out[:3], nil
}

// ResolvePrivateAddress reports whether the resolvable private address addr
// (wire order) was generated from irk.
func ResolvePrivateAddress(irk [16]byte, addr [6]byte) bool {
	hash, err := ah(irk[:], addr[3:])
	if err != nil {
		return false
	}
	return hash[0] == addr[0] && hash[1] == addr[1] && hash[2] == addr[2]
}
