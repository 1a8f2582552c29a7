package wsfe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBarcodeLayout(t *testing.T) {
	expiry := time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC)
	code, err := Barcode("30712345678", 1, 3, "71234567890123", expiry)
	require.NoError(t, err)
	require.Len(t, code, 40)
	require.Equal(t, "30712345678", code[:11])
	require.Equal(t, "01", code[11:13])
	require.Equal(t, "0003", code[13:17])
	require.Equal(t, "71234567890123", code[17:31])
	require.Equal(t, "20260915", code[31:39])
}

func TestBarcodeCheckDigitDeterministic(t *testing.T) {
	expiry := time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC)
	a, err := Barcode("30712345678", 1, 3, "71234567890123", expiry)
	require.NoError(t, err)
	b, err := Barcode("30712345678", 1, 3, "71234567890123", expiry)
	require.NoError(t, err)
	require.Equal(t, a, b, "derivation is pure: same inputs, same code")

	c, err := Barcode("30712345678", 6, 3, "71234567890123", expiry)
	require.NoError(t, err)
	require.NotEqual(t, a, c)
}

func TestBarcodeRejectsBadInputs(t *testing.T) {
	expiry := time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC)

	_, err := Barcode("3071234567", 1, 3, "71234567890123", expiry)
	require.Error(t, err, "short CUIT")

	_, err = Barcode("30712345678", 1, 3, "712345678", expiry)
	require.Error(t, err, "short CAE")
}

func TestCheckDigitWeights(t *testing.T) {
	// 1*3 + 2 + 3*3 + 4 = 18 -> completes to 20 with 2.
	d, err := checkDigit("1234")
	require.NoError(t, err)
	require.Equal(t, 2, d)

	// Sum already a multiple of ten yields 0, not 10.
	// 0*3 + 0 = 0.
	d, err = checkDigit("00")
	require.NoError(t, err)
	require.Equal(t, 0, d)

	_, err = checkDigit("12x4")
	require.Error(t, err)
}
