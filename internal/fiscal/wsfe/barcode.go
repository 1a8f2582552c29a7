package wsfe

import (
	"fmt"
	"time"
)

// Barcode derives the fixed 40-digit barcode printed on the voucher:
// issuer CUIT (11) + voucher type (2) + point of sale (4) + CAE (14) +
// CAE expiry as yyyymmdd (8) + mod-10 check digit. The derivation is pure so
// a printed code can be verified offline, without contacting the authority.
func Barcode(issuerCUIT string, typeCode, pointOfSale int, cae string, caeExpiry time.Time) (string, error) {
	if len(issuerCUIT) != 11 {
		return "", fmt.Errorf("wsfe: issuer CUIT must be 11 digits, got %q", issuerCUIT)
	}
	if len(cae) != 14 {
		return "", fmt.Errorf("wsfe: CAE must be 14 digits, got %q", cae)
	}
	body := fmt.Sprintf("%s%02d%04d%s%s", issuerCUIT, typeCode, pointOfSale, cae, caeExpiry.Format("20060102"))
	digit, err := checkDigit(body)
	if err != nil {
		return "", err
	}
	return body + string(rune('0'+digit)), nil
}

// checkDigit implements the authority's mod-10 scheme: odd positions weigh 3,
// even positions weigh 1, and the digit completes the next multiple of ten.
func checkDigit(digits string) (int, error) {
	sum := 0
	for i, r := range digits {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("wsfe: barcode body contains non-digit %q", r)
		}
		d := int(r - '0')
		if i%2 == 0 {
			sum += d * 3
		} else {
			sum += d
		}
	}
	return (10 - sum%10) % 10, nil
}
