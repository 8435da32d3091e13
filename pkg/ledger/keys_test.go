package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransactionSignature(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)

	tx := &Transaction{Nonce: 7, Call: Call{Contract: "0xpay", Function: FnDeposit, Args: []string{"0x1", "0x2", "0x0"}}}
	tx.Sign(key)
	assert.True(t, tx.VerifySignature())
	assert.NoError(t, ValidateAddress(tx.Sender))

	tx.Call.Args[1] = "0x3"
	assert.False(t, tx.VerifySignature(), "tampered args must invalidate the signature")
}

func TestVerifySignatureRejectsBadSender(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)
	tx := &Transaction{Nonce: 1, Call: Call{Contract: "0xpay", Function: FnDeposit}}
	tx.Sign(key)
	require.True(t, tx.VerifySignature())

	addr := tx.Sender
	for _, sender := range []string{"", "not-base58-0OIl", addr[:len(addr)-1] + flip(addr[len(addr)-1])} {
		tx.Sender = sender
		assert.False(t, tx.VerifySignature(), sender)
	}
}

func flip(c byte) string {
	if c == '2' {
		return "3"
	}
	return "2"
}

func TestTxIDSeparatesFields(t *testing.T) {
	a := &Transaction{Call: Call{Contract: "ab", Function: "c"}}
	b := &Transaction{Call: Call{Contract: "a", Function: "bc"}}
	assert.NotEqual(t, a.TxID(), b.TxID())

	c := &Transaction{Call: Call{Args: []string{"0x1", "0x2"}}}
	d := &Transaction{Call: Call{Args: []string{"0x12"}}}
	assert.NotEqual(t, c.TxID(), d.TxID())
}

func TestParsePrivateKeyHex(t *testing.T) {
	hexKey := "0x1122334455667788990011223344556677889900112233445566778899001122"
	k1, err := ParsePrivateKeyHex(hexKey)
	require.NoError(t, err)
	k2, err := ParsePrivateKeyHex(hexKey[2:])
	require.NoError(t, err)
	assert.Equal(t, k1.PublicKey().Address(), k2.PublicKey().Address())

	_, err = ParsePrivateKeyHex("zz")
	assert.Error(t, err)
	_, err = ParsePrivateKeyHex("0x1234")
	assert.Error(t, err)
}

func TestValidateAddress(t *testing.T) {
	assert.Error(t, ValidateAddress("not-an-address"))
}

func TestSplitU256(t *testing.T) {
	low, high, err := SplitU256("100000000000000000")
	require.NoError(t, err)
	assert.Equal(t, "0x16345785d8a0000", low)
	assert.Equal(t, "0x0", high)

	v, err := u256(low, high)
	require.NoError(t, err)
	assert.Equal(t, "100000000000000000", v.String())
}
