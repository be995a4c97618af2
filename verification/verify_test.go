package verification

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitwit/sendtag/types"
	"github.com/vitwit/sendtag/utils"
)

type keySigner struct {
	key *ecdsa.PrivateKey
	err error
}

func (k keySigner) SignMessage(_ context.Context, message string) (string, error) {
	if k.err != nil {
		return "", k.err
	}
	return utils.SignPersonalMessage(message, k.key)
}

type fakeRegistry struct {
	addrs     []types.ChainAddress
	verifyErr error
	verified  []common.Address
	sigs      []string
}

func (f *fakeRegistry) ChainAddresses(context.Context) ([]types.ChainAddress, error) {
	return f.addrs, nil
}

func (f *fakeRegistry) VerifyAddress(_ context.Context, address common.Address, signature string) error {
	if f.verifyErr != nil {
		return f.verifyErr
	}
	f.verified = append(f.verified, address)
	f.sigs = append(f.sigs, signature)
	return nil
}

func TestOwnershipMessage(t *testing.T) {
	addr := common.HexToAddress("0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266")
	assert.Equal(t,
		"I am the owner of the address: 0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266.\n\nSend",
		OwnershipMessage(addr, "Send"),
	)
}

func TestCheckBinding(t *testing.T) {
	a := common.HexToAddress("0x01")
	b := common.HexToAddress("0x02")

	binding, _ := CheckBinding(nil, a)
	assert.Equal(t, BindingNone, binding)

	binding, saved := CheckBinding([]types.ChainAddress{{Address: a}}, a)
	assert.Equal(t, BindingMatch, binding)
	assert.Equal(t, a, saved)

	binding, saved = CheckBinding([]types.ChainAddress{{Address: b}}, a)
	assert.Equal(t, BindingMismatch, binding)
	assert.Equal(t, b, saved)
}

func TestVerify_SubmitsSignature(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := crypto.PubkeyToAddress(key.PublicKey)
	reg := &fakeRegistry{}
	v := NewVerifier(reg, "Send", nil)

	require.NoError(t, v.Verify(context.Background(), keySigner{key: key}, addr))

	require.Len(t, reg.verified, 1)
	assert.Equal(t, addr, reg.verified[0])
	ok, err := utils.VerifyPersonalMessage(OwnershipMessage(addr, "Send"), reg.sigs[0], addr)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerify_WrongSignerIsWalletError(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	reg := &fakeRegistry{}
	v := NewVerifier(reg, "Send", nil)

	err = v.Verify(context.Background(), keySigner{key: key}, common.HexToAddress("0x01"))

	assert.Equal(t, types.ErrWallet, types.ErrorCode(err))
	assert.Empty(t, reg.verified)
}

func TestVerify_UserRejected(t *testing.T) {
	v := NewVerifier(&fakeRegistry{}, "Send", nil)

	err := v.Verify(context.Background(), keySigner{err: errors.New("User rejected the request.")}, common.HexToAddress("0x01"))

	assert.Equal(t, types.ErrWallet, types.ErrorCode(err))
	assert.EqualError(t, err, "User rejected the request.")
}

func TestVerify_BackendRejection(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	reg := &fakeRegistry{verifyErr: types.NewError(types.ErrBackend, "Address already verified")}
	v := NewVerifier(reg, "Send", nil)

	err = v.Verify(context.Background(), keySigner{key: key}, crypto.PubkeyToAddress(key.PublicKey))

	assert.Equal(t, types.ErrBackend, types.ErrorCode(err))
}
