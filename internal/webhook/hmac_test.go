package webhook

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func testItem() Item {
	return Item{
		PSPReference:        "7914073381342284",
		OriginalReference:   "",
		MerchantAccountCode: "TestMerchant",
		MerchantReference:   "TestPayment-1407325143704",
		EventCode:           "AUTHORISATION",
		Success:             true,
		Amount:              Amount{Value: 1130, Currency: "EUR"},
	}
}

func TestSigningStringFieldOrder(t *testing.T) {
	t.Parallel()

	got := SigningString(testItem())
	require.Equal(t, "7914073381342284::TestMerchant:TestPayment-1407325143704:1130:EUR:AUTHORISATION:true", got)
}

func TestSigningStringEscapesColons(t *testing.T) {
	t.Parallel()

	item := testItem()
	item.MerchantReference = `order:42\special`
	require.Contains(t, SigningString(item), `order\:42\\special`)
}

func TestVerifyRoundTrip(t *testing.T) {
	t.Parallel()

	item := testItem()
	sig, err := Sign(testKey, item)
	require.NoError(t, err)
	item.AdditionalData = map[string]string{"hmacSignature": sig}
	require.NoError(t, Verify(testKey, item))
}

func TestVerifyRejectsTamperedAmount(t *testing.T) {
	t.Parallel()

	item := testItem()
	sig, err := Sign(testKey, item)
	require.NoError(t, err)
	item.AdditionalData = map[string]string{"hmacSignature": sig}
	item.Amount.Value = 999999
	require.ErrorIs(t, Verify(testKey, item), ErrInvalidSignature)
}

func TestVerifyRejectsMissingSignature(t *testing.T) {
	t.Parallel()

	require.ErrorIs(t, Verify(testKey, testItem()), ErrInvalidSignature)
}

func TestSignRejectsNonHexKey(t *testing.T) {
	t.Parallel()

	_, err := Sign("not-hex", testItem())
	require.Error(t, err)
}
