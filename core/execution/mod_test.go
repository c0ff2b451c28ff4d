package execution

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStep_Emit(t *testing.T) {
	step := Step{}

	// Without a log, the events are dropped.
	step.Emit("topic", []byte{1})
	require.Nil(t, step.Log.GetEvents())

	step.Log = &EventLog{}
	step.Emit("A", []byte{1})
	step.Emit("B", []byte{2})

	require.Equal(t, []Event{
		{Topic: "A", Data: []byte{1}},
		{Topic: "B", Data: []byte{2}},
	}, step.Log.GetEvents())
}
