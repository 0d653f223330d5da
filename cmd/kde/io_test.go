package main

import (
	"bytes"
	"encoding/csv"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePoints(t *testing.T) {
	t.Run("without header", func(t *testing.T) {
		pts, err := parsePoints(strings.NewReader("1,2\n3, 4\n"))
		require.NoError(t, err)
		assert.Equal(t, [][]float64{{1, 2}, {3, 4}}, pts)
	})

	t.Run("header and comments are skipped", func(t *testing.T) {
		pts, err := parsePoints(strings.NewReader("x,y\n# note\n1,2\n-3.5,1e2\n"))
		require.NoError(t, err)
		assert.Equal(t, [][]float64{{1, 2}, {-3.5, 100}}, pts)
	})

	t.Run("bad value after the first row", func(t *testing.T) {
		_, err := parsePoints(strings.NewReader("1,2\n3,abc\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "row 2")
	})

	t.Run("ragged rows", func(t *testing.T) {
		_, err := parsePoints(strings.NewReader("1,2\n3\n"))
		require.Error(t, err)
	})

	t.Run("header only", func(t *testing.T) {
		_, err := parsePoints(strings.NewReader("x,y\n"))
		require.Error(t, err)
	})
}

func TestReadPoints_MissingFile(t *testing.T) {
	_, err := readPoints("/nonexistent/points.csv")
	require.Error(t, err)
}

func TestParseCandidates(t *testing.T) {
	got, err := parseCandidates("0.1, 0.5,2,")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.5, 2}, got)

	_, err = parseCandidates("0.1,x")
	require.Error(t, err)
}

func TestParseGrid(t *testing.T) {
	lo, hi, n, err := parseGrid("0.1:10:5")
	require.NoError(t, err)
	assert.Equal(t, 0.1, lo)
	assert.Equal(t, 10.0, hi)
	assert.Equal(t, 5, n)

	for _, bad := range []string{"0.1:10", "a:1:2", "0.1:b:2", "0.1:1:c"} {
		_, _, _, err := parseGrid(bad)
		assert.Error(t, err, bad)
	}
}

func TestWriteReport(t *testing.T) {
	report := struct {
		Name  string  `json:"name" yaml:"name"`
		Value float64 `json:"value" yaml:"value"`
	}{"test", 1.5}
	rows := func(cw *csv.Writer) error { return cw.Write([]string{"1.5"}) }

	var buf bytes.Buffer
	require.NoError(t, writeReport(&buf, formatJSON, report, rows))
	assert.Contains(t, buf.String(), `"name": "test"`)

	buf.Reset()
	require.NoError(t, writeReport(&buf, formatYAML, report, rows))
	assert.Contains(t, buf.String(), "name: test")
	assert.Contains(t, buf.String(), "value: 1.5")

	buf.Reset()
	require.NoError(t, writeReport(&buf, formatCSV, report, rows))
	assert.Equal(t, "1.5\n", buf.String())

	err := writeReport(&buf, "xml", report, rows)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported format")
}

func TestFiniteOrNil(t *testing.T) {
	assert.Nil(t, finiteOrNil(math.Inf(1)))
	assert.Nil(t, finiteOrNil(math.NaN()))
	v := finiteOrNil(2.5)
	require.NotNil(t, v)
	assert.Equal(t, 2.5, *v)
}
