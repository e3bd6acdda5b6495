package valkeysink

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/foundryfieldworks/tagwire/internal/config"
)

func TestJoinKeyTrimsEmptySegments(t *testing.T) {
	require.Equal(t, "factory:plc1:tags:t1", joinKey("factory", "plc1", "tags", "t1"))
	require.Equal(t, "factory:t1", joinKey("factory", "", "t1"))
	require.Equal(t, "a:b", joinKey(":a:", ":b:"))
}

func TestAddressUsesTLSScheme(t *testing.T) {
	s := New(config.ValkeySinkConfig{Address: "valkey.local:6379", UseTLS: true})
	require.Equal(t, "rediss://valkey.local:6379", s.Address())

	plain := New(config.ValkeySinkConfig{Address: "valkey.local:6379"})
	require.Equal(t, "redis://valkey.local:6379", plain.Address())
}

func TestNotRunningBeforeStart(t *testing.T) {
	s := New(config.ValkeySinkConfig{Name: "test"})
	require.False(t, s.IsRunning())
}

func TestCorrelationKeyIsNamespacedAndStable(t *testing.T) {
	require.Equal(t, "correlation:factory:42", correlationKey("factory", 42))
}

type ackMessage struct {
	MessageHeader string
	Id            uint8
	CorrelationId uint16
}

func TestExtractCorrelationFieldsFindsIdAndCorrelationId(t *testing.T) {
	id, corr, ok := ExtractCorrelationFields(&ackMessage{MessageHeader: "+ACK", Id: 6, CorrelationId: 0x0311})
	require.True(t, ok)
	require.Equal(t, uint8(6), id)
	require.Equal(t, uint16(0x0311), corr)
}

func TestExtractCorrelationFieldsMissesWithoutBothFields(t *testing.T) {
	type noCorrelation struct {
		Id uint8
	}
	_, _, ok := ExtractCorrelationFields(&noCorrelation{Id: 1})
	require.False(t, ok)

	_, _, ok = ExtractCorrelationFields("not-a-struct")
	require.False(t, ok)

	var nilPtr *ackMessage
	_, _, ok = ExtractCorrelationFields(nilPtr)
	require.False(t, ok)
}
