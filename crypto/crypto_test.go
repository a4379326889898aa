package crypto_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tolelom/tolsettle/crypto"
)

func TestKeyGenAndAddress(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	require.Len(t, pub.Hex(), 64)
	require.Len(t, pub.Address(), 40)
	require.Equal(t, pub.Hex(), priv.Public().Hex())

	back, err := crypto.PrivKeyFromBytes(priv)
	require.NoError(t, err)
	require.Equal(t, priv, back)
	_, err = crypto.PrivKeyFromBytes(priv[:31])
	require.Error(t, err)

	parsed, err := crypto.PubKeyFromHex(pub.Hex())
	require.NoError(t, err)
	require.Equal(t, pub, parsed)
	_, err = crypto.PubKeyFromHex(pub.Hex()[:62])
	require.Error(t, err)
}

func TestSignVerify(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	data := []byte("hello tolsettle")
	sig := crypto.Sign(priv, data)
	require.NoError(t, crypto.Verify(pub, data, sig))
	require.ErrorIs(t, crypto.Verify(pub, []byte("tampered"), sig), crypto.ErrBadSignature)
	require.Error(t, crypto.Verify(pub, data, "abcd"))
}

func TestSecp256k1(t *testing.T) {
	priv, err := crypto.GenerateSecp256k1()
	require.NoError(t, err)
	pub := crypto.CompressPubKey(&priv.PublicKey)
	digest := crypto.Sum256([]byte("result"))

	sig, err := crypto.SignDigest(priv, digest)
	require.NoError(t, err)
	require.True(t, crypto.VerifyDigest(pub, digest, sig))
	require.False(t, crypto.VerifyDigest(pub, crypto.Sum256([]byte("other")), sig))

	restored, err := crypto.Secp256k1FromBytes(crypto.Secp256k1Bytes(priv))
	require.NoError(t, err)
	require.Equal(t, pub, crypto.CompressPubKey(&restored.PublicKey))
}

func TestHexDecoders(t *testing.T) {
	priv, err := crypto.GenerateSecp256k1()
	require.NoError(t, err)
	pub := crypto.CompressPubKey(&priv.PublicKey)

	parsed, err := crypto.CompressedPubKeyFromHex(strings.ToUpper(pub.Hex()))
	require.NoError(t, err)
	require.Equal(t, pub.Hex(), parsed.Hex())

	// Right length, not on the curve.
	_, err = crypto.CompressedPubKeyFromHex("05" + strings.Repeat("00", 32))
	require.Error(t, err)
	_, err = crypto.CompressedPubKeyFromHex(pub.Hex()[:64])
	require.Error(t, err)

	_, err = crypto.SignatureFromHex(strings.Repeat("ab", 63))
	require.Error(t, err)
	_, err = crypto.DigestFromHex("xy" + strings.Repeat("00", 31))
	require.Error(t, err)

	d := crypto.Sum256(nil)
	back, err := crypto.DigestFromHex(d.Hex())
	require.NoError(t, err)
	require.Equal(t, d, back)
	require.False(t, d.IsZero())
	require.True(t, crypto.Digest{}.IsZero())
}
