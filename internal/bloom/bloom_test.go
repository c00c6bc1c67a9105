package bloom

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildContainsAllAddedKeys(t *testing.T) {
	keys := make([][]byte, 0, 200)
	for i := 0; i < 200; i++ {
		keys = append(keys, []byte(fmt.Sprintf("key-%03d", i)))
	}
	f := Build(keys)
	for _, k := range keys {
		require.True(t, f.Check(k), "expected %s to be a member", k)
	}
}

func TestCheckRejectsMostAbsentKeys(t *testing.T) {
	keys := make([][]byte, 0, 200)
	for i := 0; i < 200; i++ {
		keys = append(keys, []byte(fmt.Sprintf("present-%03d", i)))
	}
	f := Build(keys)

	falsePositives := 0
	total := 500
	for i := 0; i < total; i++ {
		if f.Check([]byte(fmt.Sprintf("absent-%03d", i))) {
			falsePositives++
		}
	}
	require.Less(t, falsePositives, total/10, "false positive rate should stay well under 10%% at bitsPerKey=10")
}

func TestSerializeRoundTrip(t *testing.T) {
	keys := [][]byte{[]byte("a"), []byte("bb"), []byte("ccc")}
	f := Build(keys)

	data := f.Serialize()
	decoded, err := Deserialize(data)
	require.NoError(t, err)

	for _, k := range keys {
		require.True(t, decoded.Check(k))
	}
}

func TestDeserializeRejectsGarbage(t *testing.T) {
	_, err := Deserialize([]byte{0x01, 0x02})
	require.Error(t, err)
}
