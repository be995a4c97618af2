package utils

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitwit/sendtag/types"
)

const testPrivateKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func TestPersonalMessageRoundTrip(t *testing.T) {
	key, err := PrivateKeyFromHex("0x" + testPrivateKey)
	require.NoError(t, err)
	addr := AddressFromPrivateKey(key)
	assert.Equal(t, common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"), addr)

	msg := "I am the owner of the address: " + addr.Hex() + ".\n\nSend"
	sig, err := SignPersonalMessage(msg, key)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(sig, "1b") || strings.HasSuffix(sig, "1c"), "v must be 27/28")

	ok, err := VerifyPersonalMessage(msg, sig, addr)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyPersonalMessage(msg+" ", sig, addr)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyPersonalMessage_OtherSigner(t *testing.T) {
	other, err := crypto.GenerateKey()
	require.NoError(t, err)
	sig, err := SignPersonalMessage("hello", other)
	require.NoError(t, err)

	ok, err := VerifyPersonalMessage("hello", sig, common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRecoverAddressFromSignature_BadInput(t *testing.T) {
	_, err := RecoverAddressFromSignature(make([]byte, 32), "0xzz")
	assert.Error(t, err)

	_, err = RecoverAddressFromSignature(make([]byte, 32), "0x1234")
	assert.ErrorContains(t, err, "65 bytes")
}

func TestNormalizeAddress(t *testing.T) {
	assert.Equal(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", NormalizeAddress("0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266"))
	assert.Equal(t, "", NormalizeAddress("nope"))
	assert.False(t, ValidateAddress("0x123"))
}

func TestValidateTagName(t *testing.T) {
	for _, ok := range []string{"a", "send_it", "ABC123", strings.Repeat("x", 20)} {
		assert.NoError(t, ValidateTagName(ok), ok)
	}
	for _, bad := range []string{"", strings.Repeat("x", 21), "with space", "émoji", "dash-ed"} {
		err := ValidateTagName(bad)
		require.Error(t, err, bad)
		assert.Equal(t, types.ErrInvalidTag, types.ErrorCode(err))
	}
}

func TestValidateTransactionHash(t *testing.T) {
	assert.NoError(t, ValidateTransactionHash("0x"+strings.Repeat("ab", 32)))
	assert.Error(t, ValidateTransactionHash(""))
	assert.Error(t, ValidateTransactionHash(strings.Repeat("ab", 33)))
	assert.Error(t, ValidateTransactionHash("0x"+strings.Repeat("zz", 32)))
}

func TestValidateAmount(t *testing.T) {
	d, err := ValidateAmount("0.01")
	require.NoError(t, err)
	assert.Equal(t, "0.01", d.String())

	_, err = ValidateAmount("-1")
	assert.Error(t, err)
	_, err = ValidateBigInt("12x")
	assert.Error(t, err)
}

func TestParseTags(t *testing.T) {
	tags, err := ParseTags([]byte(`[{"name":"sixlet","created_at":"2024-01-01T00:00:00Z","status":"pending"},{"name":"abc","created_at":"2023-01-01T00:00:00Z","status":"confirmed"}]`))
	require.NoError(t, err)
	require.Len(t, tags, 2)
	assert.Equal(t, types.TagStatusPending, tags[0].Status)

	_, err = ParseTags([]byte(`[{"name":"abc","status":"burned"}]`))
	assert.Equal(t, types.ErrBackend, types.ErrorCode(err))

	_, err = ParseTags([]byte(`{`))
	assert.Error(t, err)
}

func TestParseReceiptsAndAddresses(t *testing.T) {
	hash := "0x" + strings.Repeat("11", 32)
	receipts, err := ParseReceipts([]byte(`[{"hash":"` + hash + `"}]`))
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash(hash), receipts[0].Hash)

	addrs, err := ParseChainAddresses([]byte(`[{"address":"0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266","chain_id":8453}]`))
	require.NoError(t, err)
	assert.Equal(t, int64(8453), addrs[0].ChainID)
}
