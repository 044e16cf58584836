package codec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type state struct {
	Name    string `json:"name"`
	Balance int    `json:"balance"`
	hidden  int
}

func TestCodecs_roundTrip(t *testing.T) {
	for _, name := range []string{NameJSON, NameMsgpack} {
		t.Run(name, func(t *testing.T) {
			c, err := ByName(name)
			require.NoError(t, err)
			require.Equal(t, name, c.Name())

			data, err := c.Marshal(&state{Name: "acc", Balance: 42, hidden: 7})
			require.NoError(t, err)

			var out state
			require.NoError(t, c.Unmarshal(data, &out))
			require.Equal(t, state{Name: "acc", Balance: 42}, out)
		})
	}
}

func TestByName(t *testing.T) {
	c, err := ByName("")
	require.NoError(t, err)
	require.Equal(t, NameJSON, c.Name())

	_, err = ByName("xml")
	require.Error(t, err)
}
