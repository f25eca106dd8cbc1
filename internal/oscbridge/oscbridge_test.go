package oscbridge

import (
	"testing"

	"github.com/hypebeast/go-osc/osc"
	"github.com/stretchr/testify/assert"
)

func TestSendWithNilClientDoesNotPanic(t *testing.T) {
	b := &Bridge{}
	assert.NotPanics(t, func() {
		b.Send(MessageConfig{Address: "/x", Parameters: []interface{}{int32(1)}})
	})
}

func TestSendStripTelemetryWithNilClientDoesNotPanic(t *testing.T) {
	b := &Bridge{}
	assert.NotPanics(t, func() {
		b.SendStripTelemetry(StripTelemetry{Index: 2, Playing: true, Column: 5})
	})
}

func TestHandleRegistersAddress(t *testing.T) {
	b := New("localhost", 9000, 9001)
	err := b.Handle("/strip/trigger", func(msg *osc.Message) {})
	assert.NoError(t, err)
}
