package postgres

import (
	"reflect"
	"testing"
	"time"

	"github.com/Lumerin-protocol/contract-settlement/internal/contract"
	"github.com/stretchr/testify/require"
)

type staticRow []interface{}

func (r staticRow) Scan(dest ...interface{}) error {
	for i, v := range r {
		reflect.ValueOf(dest[i]).Elem().Set(reflect.ValueOf(v))
	}
	return nil
}

func rowWithStatus(status string) staticRow {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return staticRow{
		"c1", []byte("doc"), "text/plain", make([]byte, 32), []byte(`[]`), status, 1,
		false, "0", []byte(`[]`), now, []byte(nil), "",
		"", 0, "", now, now,
	}
}

func TestScanContractStatus(t *testing.T) {
	c, err := scanContract(rowWithStatus(string(contract.StatusPendingSignatures)))
	require.NoError(t, err)
	require.Equal(t, contract.StatusPendingSignatures, c.Status)

	_, err = scanContract(rowWithStatus("Archived"))
	require.ErrorIs(t, err, contract.ErrValidation)
	require.False(t, contract.IsRetryable(mapError(err)))
}
