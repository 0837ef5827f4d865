package ir

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	idx := 0
	m := &Module{
		Version:    CurrentVersion,
		Module:     "demo",
		SourceFile: "demo.conc",
		Constants: []Constant{
			{Index: 0, Kind: ConstInt, Value: int64(5)},
		},
		Functions: []Function{
			{
				Name:   "main",
				Params: nil,
				Code: []Instruction{
					{Op: OpLoadConst, ConstIndex: &idx},
					Simple(OpReturn),
				},
			},
		},
		Metadata: Metadata{EntryPoint: "main"},
	}

	data, err := Encode(m)
	require.NoError(t, err)
	require.Contains(t, string(data), `"LOAD_CONST"`)

	decoded, err := Decode(data)
	require.NoError(t, err)
	require.Equal(t, "demo", decoded.Module)
	require.Len(t, decoded.Functions, 1)
	require.Equal(t, OpLoadConst, decoded.Functions[0].Code[0].Op)
	require.Equal(t, 0, *decoded.Functions[0].Code[0].ConstIndex)
}

func TestDecodeRejectsWrongVersion(t *testing.T) {
	_, err := Decode([]byte(`{"version": 99, "module": "x"}`))
	require.Error(t, err)
}
