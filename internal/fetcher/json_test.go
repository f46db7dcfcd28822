package fetcher

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type partnerRecord struct {
	Code int    `json:"code"`
	Name string `json:"name"`
}

func TestDecodeJSONArray(t *testing.T) {
	input := `[{"code":1,"name":"Flyktninghjelpen"},{"code":2,"name":"Norsk Folkehjelp"}]`

	items, err := DecodeJSONArray[partnerRecord](strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "Flyktninghjelpen", items[0].Name)
	assert.Equal(t, 2, items[1].Code)
}

func TestDecodeJSONArray_Empty(t *testing.T) {
	items, err := DecodeJSONArray[partnerRecord](strings.NewReader(`[]`))
	require.NoError(t, err)
	assert.Empty(t, items)

	// A blank body is treated like an empty list.
	items, err = DecodeJSONArray[partnerRecord](strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestDecodeJSONArray_NotAnArray(t *testing.T) {
	_, err := DecodeJSONArray[partnerRecord](strings.NewReader(`{"code":1}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected JSON array")

	_, err = DecodeJSONArray[partnerRecord](strings.NewReader(`42`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected JSON array")
}

func TestDecodeJSONArray_MalformedElement(t *testing.T) {
	input := `[{"code":1,"name":"ok"},{"code":"not-a-number"}]`
	_, err := DecodeJSONArray[partnerRecord](strings.NewReader(input))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode array element")
}

func TestDecodeJSONArray_Truncated(t *testing.T) {
	_, err := DecodeJSONArray[partnerRecord](strings.NewReader(`[{"code":1,"name":"ok"}`))
	require.Error(t, err)
}

func TestDecodeJSONObject(t *testing.T) {
	rec, err := DecodeJSONObject[partnerRecord](strings.NewReader(`{"code":7,"name":"UNICEF"}`))
	require.NoError(t, err)
	assert.Equal(t, 7, rec.Code)
	assert.Equal(t, "UNICEF", rec.Name)
}

func TestDecodeJSONObject_Invalid(t *testing.T) {
	_, err := DecodeJSONObject[partnerRecord](strings.NewReader(`not json`))
	require.Error(t, err)

	_, err = DecodeJSONObject[partnerRecord](strings.NewReader(""))
	require.Error(t, err)
}
