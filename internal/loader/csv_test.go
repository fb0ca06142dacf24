package loader

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinFactor/internal/domain/models"
)

func TestReadPrices(t *testing.T) {
	in := `symbol,date,open,close,adj_close,volume,source
aapl,2020-01-02,74.06,75.09,73.84,135480400,tiingo
MSFT, 2020-01-02, 158.78, 160.62, 156.59, 22622100, tiingo
`
	bars, err := ReadPrices(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, "AAPL", bars[0].Symbol)
	assert.Equal(t, "2020-01-02", bars[0].Date.Format("2006-01-02"))
	assert.InDelta(t, 73.84, bars[0].AdjClose, 1e-12)
	assert.InDelta(t, 22622100, bars[1].Volume, 1e-6)
}

func TestReadPricesOptionalColumnsAndTabs(t *testing.T) {
	in := "date\tsymbol\tclose\tadj_close\n2020-01-03\tAAA\t10\t9.5\n"
	bars, err := ReadPrices(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, 10.0, bars[0].Open)
	assert.Zero(t, bars[0].Volume)
}

func TestReadPricesErrors(t *testing.T) {
	_, err := ReadPrices(strings.NewReader("symbol,date,close\nAAA,2020-01-02,1\n"))
	assert.ErrorIs(t, err, ErrMissingColumn)

	_, err = ReadPrices(strings.NewReader(""))
	assert.ErrorIs(t, err, ErrMissingColumn)

	_, err = ReadPrices(strings.NewReader("symbol,date,close,adj_close\nAAA,01/02/2020,1,1\n"))
	require.ErrorIs(t, err, ErrMalformedRow)
	assert.Contains(t, err.Error(), "line 2")

	_, err = ReadPrices(strings.NewReader("symbol,date,close,adj_close\nAAA,2020-01-02,1,1\nBBB,2020-01-02,x,1\n"))
	require.ErrorIs(t, err, ErrMalformedRow)
	assert.Contains(t, err.Error(), "line 3")
}

func TestReadSnapshotsKeepsFileOrder(t *testing.T) {
	in := `symbol,kind,ddate,filed,value
AAA,equity,2019-12-31,2020-02-20,4e7
AAA,equity,2019-12-31,2020-03-01,5e7
AAA,SHARES,2019-12-31,2020-02-20,1000000
`
	snaps, err := ReadSnapshots(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, snaps, 3)
	assert.Equal(t, 4e7, snaps[0].Value)
	assert.Equal(t, 5e7, snaps[1].Value)
	assert.Equal(t, models.KindShares, snaps[2].Kind)
	assert.Equal(t, "2020-02-20", snaps[0].FiledDate.Format("2006-01-02"))
}

func TestReadSnapshotsRejectsUnknownKind(t *testing.T) {
	_, err := ReadSnapshots(strings.NewReader("symbol,kind,ddate,filed,value\nAAA,revenue,2019-12-31,2020-02-20,1\n"))
	assert.ErrorIs(t, err, ErrMalformedRow)
}
