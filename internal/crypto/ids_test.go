package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCalcFingerprintStable(t *testing.T) {
	der := []byte("fake der public key bytes")

	f1 := CalcFingerprint(der)
	f2 := CalcFingerprint(der)
	assert.Equal(t, f1, f2)
	assert.False(t, f1.IsZero())
	assert.Len(t, f1.String(), FingerprintSize*2)
}

func TestCalcFingerprintDiffers(t *testing.T) {
	f1 := CalcFingerprint([]byte("key one"))
	f2 := CalcFingerprint([]byte("key two"))
	assert.NotEqual(t, f1, f2)
}
