package sm

import (
	"crypto"
	"crypto/elliptic"
	"crypto/rand"

	"github.com/pkg/errors"
	"github.com/rigado/bthost/sliceops"
	"github.com/wsddn/go-ecdh"
)

// ECDHKeys is a P-256 key pair for LE Secure Connections.
type ECDHKeys struct {
	public  crypto.PublicKey
	private crypto.PrivateKey
}

func newECDH() ecdh.ECDH {
	return ecdh.NewEllipticECDH(elliptic.P256())
}

// GenerateKeys returns a fresh key pair.
func GenerateKeys() (*ECDHKeys, error) {
	var err error
	kp := ECDHKeys{}
	kp.private, kp.public, err = newECDH().GenerateKey(rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, "sm: generate keys")
	}
	return &kp, nil
}

// PublicXY returns the public key as it is sent in Pairing Public Key.
func (k *ECDHKeys) PublicXY() []byte {
	return MarshalPublicKeyXY(k.public)
}

// PublicX returns the X coordinate of the public key in wire order.
func (k *ECDHKeys) PublicX() []byte {
	return MarshalPublicKeyX(k.public)
}

// UnmarshalPublicKey decodes the 64 octet X||Y of a Pairing Public Key.
func UnmarshalPublicKey(b []byte) (crypto.PublicKey, bool) {
	if len(b) != 64 {
		return nil, false
	}
	xs := sliceops.SwapBuf(b[:32])
	ys := sliceops.SwapBuf(b[32:])

	// uncompressed point
	r := sliceops.Concat([]byte{0x04}, xs, ys)
	return newECDH().Unmarshal(r)
}

func MarshalPublicKeyXY(k crypto.PublicKey) []byte {
	ba := newECDH().Marshal(k)
	ba = ba[1:]
	return sliceops.Concat(sliceops.SwapBuf(ba[:32]), sliceops.SwapBuf(ba[32:]))
}

func MarshalPublicKeyX(k crypto.PublicKey) []byte {
	ba := newECDH().Marshal(k)
	return sliceops.SwapBuf(ba[1:33])
}

// GenerateSecret returns the DHKey in wire order.
func GenerateSecret(prv crypto.PrivateKey, pub crypto.PublicKey) ([]byte, error) {
	b, err := newECDH().GenerateSharedSecret(prv, pub)
	if err != nil {
		return nil, errors.Wrap(err, "sm: dhkey")
	}
	return sliceops.SwapBuf(b), nil
}
